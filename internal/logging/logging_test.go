package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("run", "r1"))
	log.Debug(context.Background(), "round finished", Int("round", 3), Float("energy", 1.5))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "round finished" || rec["run"] != "r1" || rec["round"] != float64(3) || rec["energy"] != 1.5 {
		t.Fatalf("record = %v", rec)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Info(context.Background(), "hidden")
	log.Warn(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestEnsureRequestIDIsStable(t *testing.T) {
	ctx, id := EnsureRequestID(context.Background())
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("request id %q is not a uuid: %v", id, err)
	}
	_, again := EnsureRequestID(ctx)
	if again != id {
		t.Fatalf("request id changed: %q -> %q", id, again)
	}
}

func TestContextLogger(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected nil logger on bare context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if LoggerFromContext(ctx) == nil {
		t.Fatalf("expected noop logger to be stored")
	}
	ctx, l := WithRequestLogger(ctx, nil)
	if l == nil || RequestIDFromContext(ctx) == "" {
		t.Fatalf("request logger not initialised")
	}
}

func TestTextLoggerFormatsFloatAndDuration(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Output: &buf})
	log.Info(context.Background(), "metrics refreshed", Float("prr", 0.85), Duration("interval", 400*time.Millisecond))
	out := buf.String()
	if !strings.Contains(out, "prr=0.85") || !strings.Contains(out, "interval=400ms") {
		t.Fatalf("output = %q", out)
	}
}
