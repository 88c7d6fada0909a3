package server

import (
	"context"
	"errors"

	"connectrpc.com/connect"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// AnalysisServiceDesc describes the query service to grpc-go. Messages are
// google.protobuf.Struct, so no generated code is involved.
var AnalysisServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AnalysisServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListMethods", Handler: grpcUnary(ListMethodsProcedure, AnalysisServer.ListMethods)},
		{MethodName: "GetMethod", Handler: grpcUnary(GetMethodProcedure, AnalysisServer.GetMethod)},
		{MethodName: "BlockContaining", Handler: grpcUnary(BlockContainingProcedure, AnalysisServer.BlockContaining)},
		{MethodName: "GetClass", Handler: grpcUnary(GetClassProcedure, AnalysisServer.GetClass)},
		{MethodName: "Disassemble", Handler: grpcUnary(DisassembleProcedure, AnalysisServer.Disassemble)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dexflow/v1/analysis.proto",
}

// RegisterAnalysisServer registers srv on a gRPC server.
func RegisterAnalysisServer(r grpc.ServiceRegistrar, srv AnalysisServer) {
	r.RegisterService(&AnalysisServiceDesc, srv)
}

type analysisMethod func(AnalysisServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func grpcUnary(procedure string, call analysisMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		handler := func(ctx context.Context, req any) (any, error) {
			resp, err := call(srv.(AnalysisServer), ctx, req.(*structpb.Struct))
			if err != nil {
				return nil, toStatus(err)
			}
			return resp, nil
		}
		if interceptor == nil {
			return handler(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: procedure}
		return interceptor(ctx, in, info, handler)
	}
}

// toStatus converts a connect error to a gRPC status; the code numbering is
// shared.
func toStatus(err error) error {
	var ce *connect.Error
	if errors.As(err, &ce) {
		return status.Error(codes.Code(ce.Code()), ce.Message())
	}
	return status.Error(codes.Unknown, err.Error())
}

// AnalysisClient calls the query service over a gRPC connection.
type AnalysisClient struct {
	cc grpc.ClientConnInterface
}

// NewAnalysisClient creates an AnalysisClient.
func NewAnalysisClient(cc grpc.ClientConnInterface) *AnalysisClient {
	return &AnalysisClient{cc: cc}
}

func (c *AnalysisClient) invoke(ctx context.Context, procedure string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, procedure, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMethods calls AnalysisService.ListMethods.
func (c *AnalysisClient) ListMethods(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, ListMethodsProcedure, req, opts...)
}

// GetMethod calls AnalysisService.GetMethod.
func (c *AnalysisClient) GetMethod(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetMethodProcedure, req, opts...)
}

// BlockContaining calls AnalysisService.BlockContaining.
func (c *AnalysisClient) BlockContaining(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, BlockContainingProcedure, req, opts...)
}

// GetClass calls AnalysisService.GetClass.
func (c *AnalysisClient) GetClass(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, GetClassProcedure, req, opts...)
}

// Disassemble calls AnalysisService.Disassemble.
func (c *AnalysisClient) Disassemble(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, DisassembleProcedure, req, opts...)
}
