package diag

import (
	"context"
	"fmt"
	"strings"

	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/internal/observability"
	"github.com/signalsfoundry/uav-delivery-sim/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	tracerName           = "github.com/signalsfoundry/uav-delivery-sim/internal/diag"
	requestIDMetadataKey = "x-request-id"
)

// RequestLoggerUnaryServerInterceptor puts a request logger on the context,
// tagged with the method, the request ID and the simulation round the call
// arrived in. An x-request-id from the caller is reused and echoed back in
// the response header. Failed calls are logged with their status code.
func RequestLoggerUnaryServerInterceptor(base logging.Logger, clock timectrl.SimClock) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get(requestIDMetadataKey); len(ids) > 0 && ids[0] != "" {
				ctx = logging.ContextWithRequestID(ctx, ids[0])
			}
		}

		fields := []logging.Field{logging.String("method", info.FullMethod)}
		if clock != nil {
			fields = append(fields, logging.Int("sim_round", clock.Round()))
		}
		ctx, reqLog := logging.WithRequestLogger(ctx, base.With(fields...))
		ctx = logging.ContextWithLogger(ctx, reqLog)
		// No transport stream outside a live server; the echo is best effort.
		_ = grpc.SetHeader(ctx, metadata.Pairs(requestIDMetadataKey, logging.RequestIDFromContext(ctx)))

		resp, err := handler(ctx, req)
		if err != nil {
			reqLog.Warn(ctx, "rpc failed",
				logging.String("code", status.Code(err).String()),
				logging.String("error", err.Error()),
			)
		}
		return resp, err
	}
}

// TracingUnaryServerInterceptor names the RPC span Diag/<service>/<method>
// and stamps it with the simulated round and time at entry and, when the
// call moved the clock, at exit. A server span is started when no stats
// handler provided one.
func TracingUnaryServerInterceptor(clock timectrl.SimClock) grpc.UnaryServerInterceptor {
	tracer := otel.Tracer(tracerName)

	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		service, method := observability.SplitMethod(info.FullMethod)
		name := fmt.Sprintf("Diag/%s/%s", service, method)

		span := trace.SpanFromContext(ctx)
		owned := !span.SpanContext().IsValid()
		if owned {
			ctx, span = tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
		} else {
			span.SetName(name)
		}

		span.SetAttributes(
			attribute.String("rpc.system", "grpc"),
			attribute.String("rpc.service", service),
			attribute.String("rpc.method", method),
			attribute.String("rpc.full_method", strings.TrimPrefix(info.FullMethod, "/")),
		)
		if id := logging.RequestIDFromContext(ctx); id != "" {
			span.SetAttributes(attribute.String("request_id", id))
		}
		var startRound int
		if clock != nil {
			startRound = clock.Round()
			span.SetAttributes(
				attribute.Int("sim.round", startRound),
				attribute.Int64("sim.time_ms", clock.Now().Milliseconds()),
			)
		}

		resp, err := handler(ctx, req)
		if clock != nil {
			if end := clock.Round(); end != startRound {
				span.SetAttributes(
					attribute.Int("sim.round_end", end),
					attribute.Int64("sim.time_end_ms", clock.Now().Milliseconds()),
					attribute.Int("sim.rounds_advanced", end-startRound),
				)
			}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, status.Code(err).String())
		}
		return resp, err
	}
}
