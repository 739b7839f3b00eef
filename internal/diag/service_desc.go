package diag

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "uavsim.diag.v1.Diagnostics"

// Method names.
const (
	MethodGetPackets  = "GetPackets"
	MethodGetEllipses = "GetEllipses"
	MethodGetGroups   = "GetGroups"
	MethodGetRoutes   = "GetRoutes"
	MethodGetOutcomes = "GetOutcomes"
	MethodSchedule    = "Schedule"
	MethodAdvance     = "Advance"
)

// DiagnosticsServer is the server API. Requests and responses are
// google.protobuf.Struct documents.
type DiagnosticsServer interface {
	GetPackets(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetEllipses(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetGroups(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetRoutes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetOutcomes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Schedule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Advance(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type call func(DiagnosticsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, fn call) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(srv.(DiagnosticsServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return fn(srv.(DiagnosticsServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the Diagnostics service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DiagnosticsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodGetPackets, Handler: unaryHandler(MethodGetPackets, DiagnosticsServer.GetPackets)},
		{MethodName: MethodGetEllipses, Handler: unaryHandler(MethodGetEllipses, DiagnosticsServer.GetEllipses)},
		{MethodName: MethodGetGroups, Handler: unaryHandler(MethodGetGroups, DiagnosticsServer.GetGroups)},
		{MethodName: MethodGetRoutes, Handler: unaryHandler(MethodGetRoutes, DiagnosticsServer.GetRoutes)},
		{MethodName: MethodGetOutcomes, Handler: unaryHandler(MethodGetOutcomes, DiagnosticsServer.GetOutcomes)},
		{MethodName: MethodSchedule, Handler: unaryHandler(MethodSchedule, DiagnosticsServer.Schedule)},
		{MethodName: MethodAdvance, Handler: unaryHandler(MethodAdvance, DiagnosticsServer.Advance)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "uavsim/diag/v1/diagnostics.proto",
}

// RegisterDiagnosticsServer registers srv on s.
func RegisterDiagnosticsServer(s grpc.ServiceRegistrar, srv DiagnosticsServer) {
	s.RegisterService(&ServiceDesc, srv)
}
