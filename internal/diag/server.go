package diag

import (
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/internal/observability"
	"github.com/signalsfoundry/uav-delivery-sim/timectrl"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// NewGRPCServer builds a gRPC server with the diagnostics interceptor chain
// (request logger, span naming, RPC metrics) and registers svc on it. clock
// is the simulator's clock, used to tag logs and spans with the round; it
// and collector may be nil.
func NewGRPCServer(svc DiagnosticsServer, clock timectrl.SimClock, log logging.Logger, collector *observability.DiagCollector, opts ...grpc.ServerOption) *grpc.Server {
	interceptors := []grpc.UnaryServerInterceptor{
		RequestLoggerUnaryServerInterceptor(log, clock),
		TracingUnaryServerInterceptor(clock),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}

	serverOpts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	}, opts...)

	server := grpc.NewServer(serverOpts...)
	RegisterDiagnosticsServer(server, svc)
	return server
}
