package openapitools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const toolServiceName = "openapitools.v1.ToolService"

// ToolServiceServer is the gRPC surface of a Registry. Requests and
// responses use the well-known Struct, Value, ListValue and Empty messages.
//
//	ListTools         Empty                                 -> ListValue of tools
//	GetTool           {name}                                -> tool
//	CallTool          {name, arguments}                     -> Value
//	RegisterSource    {name, source, type, strict, ...}     -> ListValue of tool names
//	DeleteTool        {name}                                -> Empty
//	UpdateDescription {name, description}                   -> tool
type ToolServiceServer interface {
	ListTools(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	GetTool(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CallTool(context.Context, *structpb.Struct) (*structpb.Value, error)
	RegisterSource(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	DeleteTool(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	UpdateDescription(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ToolService_ServiceDesc describes the service for grpc.Server.RegisterService.
var ToolService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: toolServiceName,
	HandlerType: (*ToolServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("ListTools", newEmpty, ToolServiceServer.ListTools),
		unaryMethod("GetTool", newStruct, ToolServiceServer.GetTool),
		unaryMethod("CallTool", newStruct, ToolServiceServer.CallTool),
		unaryMethod("RegisterSource", newStruct, ToolServiceServer.RegisterSource),
		unaryMethod("DeleteTool", newStruct, ToolServiceServer.DeleteTool),
		unaryMethod("UpdateDescription", newStruct, ToolServiceServer.UpdateDescription),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "openapitools/v1/tools.proto",
}

// RegisterToolServiceServer registers srv on s.
func RegisterToolServiceServer(s grpc.ServiceRegistrar, srv ToolServiceServer) {
	s.RegisterService(&ToolService_ServiceDesc, srv)
}

func newEmpty() *emptypb.Empty { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

func unaryMethod[Req proto.Message, Resp proto.Message](name string, newReq func() Req, call func(ToolServiceServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + toolServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(ToolServiceServer)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(impl, ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ToolRPCPlugin is the implementation of plugin.Plugin so the tool service
// can be served and consumed through go-plugin.
type ToolRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	// Registry is only set on the serving side.
	Registry *Registry
	Logger   hclog.Logger
}

// GRPCServer registers the tool service for serving over gRPC.
func (p *ToolRPCPlugin) GRPCServer(broker *plugin.GRPCBroker, s *grpc.Server) error {
	RegisterToolServiceServer(s, NewGRPCServer(p.Registry, p.Logger))
	return nil
}

// GRPCClient returns a *ToolServiceClient.
func (p *ToolRPCPlugin) GRPCClient(ctx context.Context, broker *plugin.GRPCBroker, c *grpc.ClientConn) (interface{}, error) {
	return NewToolServiceClient(c), nil
}

// grpcServer adapts a Registry to ToolServiceServer.
type grpcServer struct {
	registry *Registry
	logger   hclog.Logger
}

// NewGRPCServer returns a ToolServiceServer backed by registry.
func NewGRPCServer(registry *Registry, logger hclog.Logger) ToolServiceServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &grpcServer{registry: registry, logger: logger.Named("grpc")}
}

func (s *grpcServer) ListTools(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	tools := s.registry.List()
	values := make([]interface{}, 0, len(tools))
	for _, tool := range tools {
		m, err := toolToMap(tool)
		if err != nil {
			return nil, status.Errorf(codes.Internal, "encode tool %s: %v", tool.Name, err)
		}
		values = append(values, m)
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode tools: %v", err)
	}
	return list, nil
}

func (s *grpcServer) GetTool(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := requiredString(req, "name")
	if err != nil {
		return nil, err
	}
	tool, err := s.registry.Get(name)
	if err != nil {
		return nil, toStatus(err)
	}
	return toolToStruct(tool.Tool)
}

func (s *grpcServer) CallTool(ctx context.Context, req *structpb.Struct) (*structpb.Value, error) {
	name, err := requiredString(req, "name")
	if err != nil {
		return nil, err
	}

	args := map[string]interface{}{}
	if v, ok := req.GetFields()["arguments"]; ok {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StructValue:
			args = kind.StructValue.AsMap()
		case *structpb.Value_NullValue:
		default:
			return nil, status.Error(codes.InvalidArgument, "arguments must be an object")
		}
	}

	start := time.Now()
	result, err := s.registry.Call(ctx, name, args)
	if err != nil {
		s.logger.Debug("call failed", "tool", name, "error", err)
		return nil, toStatus(err)
	}
	s.logger.Debug("call succeeded", "tool", name, "elapsed", time.Since(start))

	value, err := structpb.NewValue(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode result: %v", err)
	}
	return value, nil
}

func (s *grpcServer) RegisterSource(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	regReq, err := registrationFromStruct(req)
	if err != nil {
		return nil, err
	}

	names, err := s.registry.Register(ctx, regReq)
	if err != nil {
		return nil, toStatus(err)
	}

	values := make([]interface{}, len(names))
	for i, name := range names {
		values[i] = name
	}
	list, err := structpb.NewList(values)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode names: %v", err)
	}
	return list, nil
}

func (s *grpcServer) DeleteTool(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	name, err := requiredString(req, "name")
	if err != nil {
		return nil, err
	}
	if err := s.registry.Delete(name); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *grpcServer) UpdateDescription(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	name, err := requiredString(req, "name")
	if err != nil {
		return nil, err
	}
	description, _ := req.AsMap()["description"].(string)

	tool, err := s.registry.UpdateDescription(name, description)
	if err != nil {
		return nil, toStatus(err)
	}
	return toolToStruct(tool)
}

// toStatus maps fault kinds onto gRPC status codes.
func toStatus(err error) error {
	var apiErr *ExternalAPIError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, ErrToolNotFound), errors.Is(err, ErrOperationNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrInvalidSpec), errors.Is(err, ErrInvalidArguments):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrToolExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ErrToolRegistration), errors.Is(err, ErrSpecNotInitialized):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.As(err, &apiErr):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func requiredString(req *structpb.Struct, field string) (string, error) {
	v, _ := req.AsMap()[field].(string)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	return v, nil
}

func registrationFromStruct(req *structpb.Struct) (RegistrationRequest, error) {
	m := req.AsMap()
	source, _ := m["source"].(string)
	if source == "" {
		return RegistrationRequest{}, status.Error(codes.InvalidArgument, "source is required")
	}

	typ := SourceURL
	if raw, _ := m["type"].(string); raw != "" {
		parsed, err := ParseSourceType(raw)
		if err != nil {
			return RegistrationRequest{}, status.Error(codes.InvalidArgument, err.Error())
		}
		typ = parsed
	}

	regReq := RegistrationRequest{Source: source, Type: typ}
	regReq.Name, _ = m["name"].(string)
	regReq.Description, _ = m["description"].(string)
	regReq.Strict, _ = m["strict"].(bool)
	regReq.AllowCycles, _ = m["allow_cycles"].(bool)
	regReq.RateLimit, _ = m["rate_limit"].(float64)
	if burst, ok := m["burst"].(float64); ok {
		regReq.Burst = int(burst)
	}
	if raw, _ := m["timeout"].(string); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return RegistrationRequest{}, status.Errorf(codes.InvalidArgument, "timeout: %v", err)
		}
		regReq.Timeout = d
	}
	return regReq, nil
}

func registrationToStruct(req RegistrationRequest) (*structpb.Struct, error) {
	m := map[string]interface{}{
		"source": req.Source,
		"type":   string(req.Type),
	}
	if req.Name != "" {
		m["name"] = req.Name
	}
	if req.Description != "" {
		m["description"] = req.Description
	}
	if req.Strict {
		m["strict"] = true
	}
	if req.AllowCycles {
		m["allow_cycles"] = true
	}
	if req.RateLimit > 0 {
		m["rate_limit"] = req.RateLimit
		m["burst"] = req.Burst
	}
	if req.Timeout > 0 {
		m["timeout"] = req.Timeout.String()
	}
	return structpb.NewStruct(m)
}

func toolToMap(tool Tool) (map[string]interface{}, error) {
	schema, err := jsonCompatible(tool.InputSchema)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"name":        tool.Name,
		"description": tool.Description,
		"inputSchema": schema,
	}, nil
}

func toolToStruct(tool Tool) (*structpb.Struct, error) {
	m, err := toolToMap(tool)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode tool %s: %v", tool.Name, err)
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode tool %s: %v", tool.Name, err)
	}
	return st, nil
}

func toolFromMap(m map[string]interface{}) Tool {
	tool := Tool{}
	tool.Name, _ = m["name"].(string)
	tool.Description, _ = m["description"].(string)
	tool.InputSchema, _ = m["inputSchema"].(map[string]interface{})
	return tool
}

// ToolServiceClient calls a remote ToolServiceServer.
type ToolServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewToolServiceClient returns a client using cc.
func NewToolServiceClient(cc grpc.ClientConnInterface) *ToolServiceClient {
	return &ToolServiceClient{cc: cc}
}

func (c *ToolServiceClient) invoke(ctx context.Context, method string, in, out proto.Message) error {
	return c.cc.Invoke(ctx, "/"+toolServiceName+"/"+method, in, out)
}

// ListTools returns every registered tool ordered by name.
func (c *ToolServiceClient) ListTools(ctx context.Context) ([]Tool, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, "ListTools", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}

	tools := make([]Tool, 0, len(out.GetValues()))
	for _, v := range out.AsSlice() {
		m, ok := v.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unexpected tool entry %T", v)
		}
		tools = append(tools, toolFromMap(m))
	}
	return tools, nil
}

// GetTool returns the tool named name.
func (c *ToolServiceClient) GetTool(ctx context.Context, name string) (Tool, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"name": name})
	if err != nil {
		return Tool{}, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "GetTool", in, out); err != nil {
		return Tool{}, err
	}
	return toolFromMap(out.AsMap()), nil
}

// CallTool invokes a tool and returns its decoded JSON result.
func (c *ToolServiceClient) CallTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	compatible, err := jsonCompatible(args)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	in, err := structpb.NewStruct(map[string]interface{}{"name": name, "arguments": compatible})
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}
	out := new(structpb.Value)
	if err := c.invoke(ctx, "CallTool", in, out); err != nil {
		return nil, err
	}
	return out.AsInterface(), nil
}

// RegisterSource registers a document remotely and returns the new tool names.
func (c *ToolServiceClient) RegisterSource(ctx context.Context, req RegistrationRequest) ([]string, error) {
	in, err := registrationToStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, "RegisterSource", in, out); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(out.GetValues()))
	for _, v := range out.GetValues() {
		names = append(names, v.GetStringValue())
	}
	return names, nil
}

// DeleteTool unregisters a tool.
func (c *ToolServiceClient) DeleteTool(ctx context.Context, name string) error {
	in, err := structpb.NewStruct(map[string]interface{}{"name": name})
	if err != nil {
		return err
	}
	return c.invoke(ctx, "DeleteTool", in, new(emptypb.Empty))
}

// UpdateDescription replaces a tool's description.
func (c *ToolServiceClient) UpdateDescription(ctx context.Context, name, description string) (Tool, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"name": name, "description": description})
	if err != nil {
		return Tool{}, err
	}
	out := new(structpb.Struct)
	if err := c.invoke(ctx, "UpdateDescription", in, out); err != nil {
		return Tool{}, err
	}
	return toolFromMap(out.AsMap()), nil
}

// Compile-time interface checks
var (
	_ ToolServiceServer = (*grpcServer)(nil)
	_ plugin.GRPCPlugin = (*ToolRPCPlugin)(nil)
	_ plugin.Plugin     = (*ToolRPCPlugin)(nil)
)
