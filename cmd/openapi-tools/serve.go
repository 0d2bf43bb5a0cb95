package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	openapitools "github.com/oriagent/ori-openapitools"
)

func (c *cli) serveCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		transport  string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the configured tools over gRPC or as a go-plugin.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := openapitools.ReadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				if _, _, err := net.SplitHostPort(listen); err != nil {
					return fmt.Errorf("invalid --listen address %q: %w", listen, err)
				}
				cfg.Listen = listen
			}
			if transport != "" {
				if cfg.Transport, err = openapitools.ParseTransport(transport); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "openapi-tools.yaml", "server configuration file")
	cmd.Flags().StringVar(&listen, "listen", "", "gRPC listen address, overrides the config file")
	cmd.Flags().StringVar(&transport, "transport", "", "grpc or plugin, overrides the config file")
	return cmd
}

func (c *cli) serve(ctx context.Context, cfg *openapitools.Config) error {
	logger := c.logger()
	if cfg.Transport == openapitools.TransportPlugin {
		// go-plugin hosts parse the child's stderr as JSON log lines.
		logger = hclog.New(&hclog.LoggerOptions{
			Name:       cfg.Name,
			Level:      hclog.LevelFromString(c.logLevel),
			JSONFormat: true,
			Output:     c.stderr,
		})
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []openapitools.Option{
		openapitools.WithLogger(logger),
		openapitools.WithMetrics(openapitools.NewMetrics(reg)),
	}
	if cfg.StorePath != "" {
		store, err := openapitools.OpenStore(cfg.StorePath)
		if err != nil {
			return err
		}
		opts = append(opts, openapitools.WithStore(store))
	}

	registry := openapitools.NewRegistry(openapitools.NewExecutor(opts...), opts...)
	if _, err := registry.LoadConfig(ctx, cfg); err != nil {
		return err
	}
	if _, err := registry.Restore(ctx); err != nil {
		return err
	}
	logger.Info("tools loaded", "server", cfg.Name, "version", cfg.Version, "tools", len(registry.List()))

	if cfg.MetricsListen != "" {
		srv := newMetricsServer(cfg.MetricsListen, reg, registry)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	switch cfg.Transport {
	case openapitools.TransportPlugin:
		openapitools.ServePlugin(registry, logger)
		return nil
	default:
		addr := cfg.Listen
		if addr == "" {
			envAddr, err := openapitools.ListenAddrFromEnv()
			if err != nil {
				return err
			}
			addr = envAddr
		}
		if addr == "" {
			return fmt.Errorf("no listen address: set listen in the config, --listen or %s", openapitools.PortEnv)
		}
		return openapitools.ListenAndServeGRPC(ctx, addr, registry, logger)
	}
}

func newMetricsServer(addr string, gatherer prometheus.Gatherer, registry *openapitools.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"tools":  len(registry.List()),
		})
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
