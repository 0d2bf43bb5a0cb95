package openapitools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
)

// PortEnv names the environment variable ListenAddrFromEnv reads.
const PortEnv = "ORI_OPENAPI_GRPC_PORT"

// ListenAddrFromEnv returns 127.0.0.1:<port> from PortEnv, or "" when unset.
func ListenAddrFromEnv() (string, error) {
	portStr := strings.TrimSpace(os.Getenv(PortEnv))
	if portStr == "" {
		return "", nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", fmt.Errorf("invalid %s: %q", PortEnv, portStr)
	}
	return fmt.Sprintf("127.0.0.1:%d", port), nil
}

// ServeGRPC serves the tool service for registry on lis until ctx is done,
// then stops gracefully. It returns nil after a graceful stop.
func ServeGRPC(ctx context.Context, lis net.Listener, registry *Registry, logger hclog.Logger, opts ...grpc.ServerOption) error {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	server := grpc.NewServer(opts...)
	RegisterToolServiceServer(server, NewGRPCServer(registry, logger))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("stopping gRPC server")
			server.GracefulStop()
		case <-done:
		}
	}()

	logger.Info("serving tools over gRPC", "addr", lis.Addr().String(), "tools", len(registry.List()))
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("gRPC server error: %w", err)
	}
	return nil
}

// ListenAndServeGRPC listens on addr and calls ServeGRPC.
func ListenAndServeGRPC(ctx context.Context, addr string, registry *Registry, logger hclog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return ServeGRPC(ctx, lis, registry, logger)
}

// ServePlugin serves registry through the go-plugin handshake. It blocks
// until the host disconnects and must be called from a process launched by
// a go-plugin host.
func ServePlugin(registry *Registry, logger hclog.Logger) {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:       "openapi-tools",
			Output:     os.Stderr,
			JSONFormat: true,
		})
	}

	plugin.Serve(&plugin.ServeConfig{
		HandshakeConfig: Handshake,
		Plugins: map[string]plugin.Plugin{
			PluginName: &ToolRPCPlugin{Registry: registry, Logger: logger},
		},
		GRPCServer: plugin.DefaultGRPCServer,
		Logger:     logger,
	})
}
