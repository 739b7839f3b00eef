package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/routing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Radio.RangeM != 100 || cfg.Ellipse.Eccentricity != 0.7 || cfg.Routing.MergeThresholdM != 30 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Routing.UpdateInterval != 400*time.Millisecond {
		t.Errorf("expected update interval 400ms, got %v", cfg.Routing.UpdateInterval)
	}
	if cfg.MAC.MaxRetransmissions != 10 || cfg.MAC.RoundStep != 100*time.Millisecond {
		t.Errorf("unexpected MAC defaults: %+v", cfg.MAC)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	content := `
radio:
  range_m: 150
ellipse:
  eccentricity: 0.8
routing:
  protocol: dhytp
  update_interval: 1s
  warmup: 2s
mac:
  max_retransmissions: 4
  round_step: 50ms
reception:
  width_m: 100
  height_m: 100
  cells: [[0.5]]
seed: 99
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Radio.RangeM != 150 || cfg.Radio.PathLossExponent != 2 {
		t.Errorf("radio = %+v", cfg.Radio)
	}
	if cfg.Routing.UpdateInterval != time.Second || cfg.Routing.Warmup != 2*time.Second {
		t.Errorf("routing = %+v", cfg.Routing)
	}
	if cfg.MAC.RoundStep != 50*time.Millisecond || cfg.MAC.MaxRetransmissions != 4 || cfg.MAC.MaxRounds != 10000 {
		t.Errorf("mac = %+v", cfg.MAC)
	}
	if len(cfg.Reception.Cells) != 1 || cfg.Seed != 99 {
		t.Errorf("reception/seed = %+v/%d", cfg.Reception, cfg.Seed)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	proto, err := cfg.Protocol()
	if err != nil {
		t.Fatalf("Protocol: %v", err)
	}
	hybrid, ok := proto.Metrics.(routing.HybridPolicy)
	if proto.Name != "dhytp" || !ok || hybrid.Warmup != 2*time.Second {
		t.Fatalf("protocol = %+v", proto)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("radio: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFromFile(path); err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UAVSIM_RADIO_RANGE_M", "80")
	t.Setenv("UAVSIM_MAC_MAX_RETRANSMISSIONS", "3")
	t.Setenv("UAVSIM_ROUTING_UPDATE_INTERVAL", "250ms")
	t.Setenv("UAVSIM_ROUTING_PROTOCOL", "DHYTP")
	t.Setenv("UAVSIM_SEED", "12")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Radio.RangeM != 80 || cfg.MAC.MaxRetransmissions != 3 || cfg.Routing.UpdateInterval != 250*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.Routing.Protocol != ProtocolDHyTP || cfg.Seed != 12 {
		t.Fatalf("protocol/seed = %s/%d", cfg.Routing.Protocol, cfg.Seed)
	}
	if cfg.LinkQualityModel().RangeM != 80 {
		t.Fatalf("link quality range does not follow radio range")
	}
}

func TestEnvOverrideParseError(t *testing.T) {
	t.Setenv("UAVSIM_MAC_ROUND_STEP", "soon")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "UAVSIM_MAC_ROUND_STEP") {
		t.Fatalf("expected round step parse error, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"eccentricity":  func(c *Config) { c.Ellipse.Eccentricity = 1 },
		"expansion":     func(c *Config) { c.Ellipse.ExpansionFactor = 0 },
		"protocol":      func(c *Config) { c.Routing.Protocol = "aodv" },
		"round step":    func(c *Config) { c.MAC.RoundStep = 0 },
		"max rounds":    func(c *Config) { c.MAC.MaxRounds = 0 },
		"retx":          func(c *Config) { c.MAC.MaxRetransmissions = -1 },
		"grid":          func(c *Config) { c.Reception.Cells = [][]float64{{1.5}} },
		"prr":           func(c *Config) { c.LinkQuality.PRRMin = 0.95 },
		"mobility":      func(c *Config) { c.Mobility.Model = "teleport" },
		"speeds":        func(c *Config) { c.Mobility.Model = MobilityRandomWaypoint; c.Mobility.MaxSpeed = 1 },
		"penalty":       func(c *Config) { c.Energy.RetransmissionPenalty = 0.5 },
		"log level":     func(c *Config) { c.Logging.Level = "trace" },
		"radio range":   func(c *Config) { c.Radio.RangeM = 0 },
		"merge":         func(c *Config) { c.Routing.MergeThresholdM = -1 },
		"hysteresis":    func(c *Config) { c.Routing.MetricHysteresis = -0.1 },
		"negative tick": func(c *Config) { c.Routing.UpdateInterval = -time.Second },
		"exporter":      func(c *Config) { c.Tracing.Exporter = "jaeger" },
		"sample ratio":  func(c *Config) { c.Tracing.SampleRatio = 1.5 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestBuilders(t *testing.T) {
	cfg := Default()
	phys, err := cfg.PhysicalModel()
	if err != nil {
		t.Fatalf("PhysicalModel: %v", err)
	}
	if p := phys.ReceptionProbability(core.Vec3{X: 300, Y: 300}); p != 0.95 {
		t.Fatalf("centre cell probability = %v, want 0.95", p)
	}
	if _, ok := cfg.MotionModel().(*core.StaticMotionModel); !ok {
		t.Fatalf("default motion model is not static")
	}
	cfg.Mobility.Model = MobilityRandomWaypoint
	if _, ok := cfg.MotionModel().(*core.RandomWaypointModel); !ok {
		t.Fatalf("random waypoint not built")
	}
	if lc := cfg.LoggerConfig(); lc.Level != "info" || lc.Format != "text" {
		t.Fatalf("logger config = %+v", lc)
	}
	proto, err := cfg.Protocol()
	if err != nil || proto.Name != "mtp" {
		t.Fatalf("protocol = %+v, %v", proto, err)
	}
}

func TestTracingSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	content := `
routing:
  protocol: dhytp
tracing:
  enabled: true
  exporter: otlp
  endpoint: collector:4317
  sample_ratio: 0.5
seed: 7
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("UAVSIM_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("UAVSIM_TRACING_SERVICE_NAME", "uav-bench")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	tc := cfg.TracerConfig()
	if !tc.Enabled || tc.Exporter != "otlp" || tc.Endpoint != "collector:4317" {
		t.Fatalf("tracer config = %+v", tc)
	}
	if tc.SampleRatio != 0.25 || tc.ServiceName != "uav-bench" {
		t.Fatalf("env overrides not applied: %+v", tc)
	}
	if tc.Protocol != ProtocolDHyTP || tc.Seed != 7 {
		t.Fatalf("run attributes = %s/%d", tc.Protocol, tc.Seed)
	}
}

func TestTracingEnvOverrides(t *testing.T) {
	t.Setenv("UAVSIM_TRACING_ENABLED", "true")
	t.Setenv("UAVSIM_TRACING_EXPORTER", "OTLP")
	t.Setenv("UAVSIM_TRACING_ENDPOINT", "otel:4317")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" || cfg.Tracing.Endpoint != "otel:4317" {
		t.Fatalf("tracing = %+v", cfg.Tracing)
	}
	if cfg.Tracing.ServiceName != "uav-delivery-sim" || cfg.Tracing.SampleRatio != 1 {
		t.Fatalf("tracing defaults lost: %+v", cfg.Tracing)
	}

	t.Setenv("UAVSIM_TRACING_ENABLED", "maybe")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "UAVSIM_TRACING_ENABLED") {
		t.Fatalf("expected enabled parse error, got %v", err)
	}
}
