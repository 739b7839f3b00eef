package diag

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type stepClock struct {
	round int
	step  time.Duration
}

func (c *stepClock) Now() time.Duration { return time.Duration(c.round) * c.step }
func (c *stepClock) Round() int         { return c.round }

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })
	return rec
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value)
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func TestTracingInterceptorStampsSimulatedTime(t *testing.T) {
	rec := recordSpans(t)
	clock := &stepClock{round: 3, step: 100 * time.Millisecond}
	intercept := TracingUnaryServerInterceptor(clock)

	advance := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/" + MethodAdvance}
	_, err := intercept(context.Background(), nil, advance, func(ctx context.Context, req interface{}) (interface{}, error) {
		clock.round += 2
		return nil, nil
	})
	if err != nil {
		t.Fatalf("advance: %v", err)
	}

	getRoutes := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/" + MethodGetRoutes}
	_, err = intercept(context.Background(), nil, getRoutes, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "busy")
	})
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("error = %v, want Unavailable passed through", err)
	}

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Name() != "Diag/Diagnostics/Advance" {
		t.Fatalf("span name = %q", spans[0].Name())
	}
	attrs := spanAttrs(spans[0])
	checks := map[attribute.Key]int64{
		"sim.round":           3,
		"sim.time_ms":         300,
		"sim.round_end":       5,
		"sim.time_end_ms":     500,
		"sim.rounds_advanced": 2,
	}
	for key, want := range checks {
		if got := attrs[key].AsInt64(); got != want {
			t.Fatalf("%s = %d, want %d", key, got, want)
		}
	}

	attrs = spanAttrs(spans[1])
	if attrs["sim.round"].AsInt64() != 5 {
		t.Fatalf("read-only call round = %v", attrs["sim.round"])
	}
	if _, moved := attrs["sim.round_end"]; moved {
		t.Fatalf("read-only call reported a clock move")
	}
	if spans[1].Status().Code != otelcodes.Error || spans[1].Status().Description != "Unavailable" {
		t.Fatalf("status = %+v", spans[1].Status())
	}
}

func TestRequestLoggerTagsRoundAndFailures(t *testing.T) {
	var buf bytes.Buffer
	base := logging.New(logging.Config{Level: "info", Format: "json", Output: &buf})
	intercept := RequestLoggerUnaryServerInterceptor(base, &stepClock{round: 7, step: time.Second})

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(requestIDMetadataKey, "req-9"))
	info := &grpc.UnaryServerInfo{FullMethod: "/" + ServiceName + "/" + MethodGetPackets}
	_, err := intercept(ctx, nil, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		if id := logging.RequestIDFromContext(ctx); id != "req-9" {
			t.Errorf("handler request id = %q", id)
		}
		if logging.LoggerFromContext(ctx) == nil {
			t.Errorf("handler has no request logger")
		}
		return nil, status.Error(codes.NotFound, "packet pkt-99")
	})
	if status.Code(err) != codes.NotFound {
		t.Fatalf("error = %v", err)
	}

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "rpc failed" || rec["request_id"] != "req-9" || rec["code"] != "NotFound" {
		t.Fatalf("record = %v", rec)
	}
	if rec["sim_round"] != float64(7) || rec["method"] != info.FullMethod {
		t.Fatalf("record = %v", rec)
	}
}
