// Package config loads simulator settings from YAML files and environment
// variables and builds the engine parameters from them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/uav-delivery-sim/core"
	"github.com/signalsfoundry/uav-delivery-sim/internal/logging"
	"github.com/signalsfoundry/uav-delivery-sim/internal/mac"
	"github.com/signalsfoundry/uav-delivery-sim/internal/observability"
	"github.com/signalsfoundry/uav-delivery-sim/internal/routing"
	"gopkg.in/yaml.v3"
)

// Config contains every simulator setting.
type Config struct {
	Radio       core.RadioProfile `json:"radio" yaml:"radio"`
	Reception   ReceptionConfig   `json:"reception" yaml:"reception"`
	LinkQuality LinkQualityConfig `json:"link_quality" yaml:"link_quality"`
	Ellipse     EllipseConfig     `json:"ellipse" yaml:"ellipse"`
	Routing     RoutingConfig     `json:"routing" yaml:"routing"`
	MAC         MACConfig         `json:"mac" yaml:"mac"`
	Energy      mac.EnergyModel   `json:"energy" yaml:"energy"`
	Mobility    MobilityConfig    `json:"mobility" yaml:"mobility"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Tracing     TracingConfig     `json:"tracing" yaml:"tracing"`

	// Seed drives every random draw in a run.
	Seed int64 `json:"seed" yaml:"seed"`
}

// ReceptionConfig describes the reception-ratio grid laid over the area.
type ReceptionConfig struct {
	WidthM  float64     `json:"width_m" yaml:"width_m"`
	HeightM float64     `json:"height_m" yaml:"height_m"`
	Cells   [][]float64 `json:"cells" yaml:"cells"`
}

// LinkQualityConfig bounds the PRR used for ETX.
type LinkQualityConfig struct {
	PRRMin float64 `json:"prr_min" yaml:"prr_min"`
	PRRMax float64 `json:"prr_max" yaml:"prr_max"`
}

// EllipseConfig shapes the pruning region.
type EllipseConfig struct {
	Eccentricity       float64 `json:"eccentricity" yaml:"eccentricity"`
	ExpansionFactor    float64 `json:"expansion_factor" yaml:"expansion_factor"`
	BoundaryToleranceM float64 `json:"boundary_tolerance_m" yaml:"boundary_tolerance_m"`
}

// RoutingConfig selects the protocol variant and its timing.
type RoutingConfig struct {
	// Protocol is "mtp" or "dhytp".
	Protocol         string        `json:"protocol" yaml:"protocol"`
	UpdateInterval   time.Duration `json:"update_interval" yaml:"update_interval"`
	MergeThresholdM  float64       `json:"merge_threshold_m" yaml:"merge_threshold_m"`
	Warmup           time.Duration `json:"warmup" yaml:"warmup"`
	MetricHysteresis float64       `json:"metric_hysteresis" yaml:"metric_hysteresis"`
}

// MACConfig bounds arbitration.
type MACConfig struct {
	MaxRetransmissions int           `json:"max_retransmissions" yaml:"max_retransmissions"`
	RoundStep          time.Duration `json:"round_step" yaml:"round_step"`
	MaxRounds          int           `json:"max_rounds" yaml:"max_rounds"`
}

// MobilityConfig selects the motion model.
type MobilityConfig struct {
	// Model is "static" or "random_waypoint".
	Model          string        `json:"model" yaml:"model"`
	MinSpeed       float64       `json:"min_speed" yaml:"min_speed"`
	MaxSpeed       float64       `json:"max_speed" yaml:"max_speed"`
	MinHeadingTime time.Duration `json:"min_heading_time" yaml:"min_heading_time"`
	MaxHeadingTime time.Duration `json:"max_heading_time" yaml:"max_heading_time"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level"`
	// Format is text or json.
	Format string `json:"format" yaml:"format"`
}

// TracingConfig controls span export.
type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Exporter is stdout or otlp.
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

// Protocol names.
const (
	ProtocolMTP   = "mtp"
	ProtocolDHyTP = "dhytp"
)

// Mobility model names.
const (
	MobilityStatic         = "static"
	MobilityRandomWaypoint = "random_waypoint"
)

// Default returns a Config with the stock simulation parameters.
func Default() *Config {
	return &Config{
		Radio: core.DefaultRadioProfile(),
		Reception: ReceptionConfig{
			WidthM:  600,
			HeightM: 600,
			Cells: [][]float64{
				{0.75, 0.90, 0.90},
				{0.85, 0.95, 0.85},
				{0.80, 0.90, 0.85},
			},
		},
		LinkQuality: LinkQualityConfig{PRRMin: 0.5, PRRMax: 0.9},
		Ellipse: EllipseConfig{
			Eccentricity:       0.7,
			ExpansionFactor:    1.15,
			BoundaryToleranceM: 4,
		},
		Routing: RoutingConfig{
			Protocol:         ProtocolMTP,
			UpdateInterval:   400 * time.Millisecond,
			MergeThresholdM:  30,
			Warmup:           500 * time.Millisecond,
			MetricHysteresis: 0.3,
		},
		MAC: MACConfig{
			MaxRetransmissions: 10,
			RoundStep:          100 * time.Millisecond,
			MaxRounds:          10000,
		},
		Energy: mac.DefaultEnergyModel(),
		Mobility: MobilityConfig{
			Model:          MobilityStatic,
			MinSpeed:       3,
			MaxSpeed:       5,
			MinHeadingTime: time.Second,
			MaxHeadingTime: 5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			Exporter:    observability.ExporterStdout,
			ServiceName: "uav-delivery-sim",
			SampleRatio: 1,
		},
		Seed: 1,
	}
}

// Load builds a configuration from defaults, then the YAML file at path
// when path is not empty, then UAVSIM_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file on top of the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if err := c.Radio.Validate(); err != nil {
		return fmt.Errorf("radio: %w", err)
	}
	if _, err := c.ReceptionGrid(); err != nil {
		return fmt.Errorf("reception: %w", err)
	}
	if c.LinkQuality.PRRMin <= 0 || c.LinkQuality.PRRMax > 1 || c.LinkQuality.PRRMin > c.LinkQuality.PRRMax {
		return fmt.Errorf("link_quality: prr_min/prr_max must satisfy 0 < min <= max <= 1, got %v/%v", c.LinkQuality.PRRMin, c.LinkQuality.PRRMax)
	}
	if err := c.EllipseParams().Validate(); err != nil {
		return fmt.Errorf("ellipse: %w", err)
	}

	switch c.Routing.Protocol {
	case ProtocolMTP, ProtocolDHyTP:
	default:
		return fmt.Errorf("routing.protocol: invalid protocol %q (valid: mtp, dhytp)", c.Routing.Protocol)
	}
	if c.Routing.UpdateInterval < 0 {
		return fmt.Errorf("routing.update_interval must be non-negative, got %v", c.Routing.UpdateInterval)
	}
	if c.Routing.MergeThresholdM < 0 {
		return fmt.Errorf("routing.merge_threshold_m must be non-negative, got %v", c.Routing.MergeThresholdM)
	}
	if c.Routing.Warmup < 0 || c.Routing.MetricHysteresis < 0 {
		return fmt.Errorf("routing.warmup and routing.metric_hysteresis must be non-negative")
	}

	if c.MAC.MaxRetransmissions < 0 {
		return fmt.Errorf("mac.max_retransmissions must be non-negative, got %d", c.MAC.MaxRetransmissions)
	}
	if c.MAC.RoundStep <= 0 {
		return fmt.Errorf("mac.round_step must be positive, got %v", c.MAC.RoundStep)
	}
	if c.MAC.MaxRounds <= 0 {
		return fmt.Errorf("mac.max_rounds must be positive, got %d", c.MAC.MaxRounds)
	}
	if c.Energy.Send < 0 || c.Energy.Receive < 0 || c.Energy.RetransmissionPenalty < 1 {
		return fmt.Errorf("energy: costs must be non-negative and retransmission_penalty >= 1")
	}

	switch c.Mobility.Model {
	case MobilityStatic:
	case MobilityRandomWaypoint:
		if c.Mobility.MinSpeed < 0 || c.Mobility.MaxSpeed < c.Mobility.MinSpeed {
			return fmt.Errorf("mobility: speeds must satisfy 0 <= min_speed <= max_speed")
		}
		if c.Mobility.MinHeadingTime <= 0 || c.Mobility.MaxHeadingTime < c.Mobility.MinHeadingTime {
			return fmt.Errorf("mobility: heading times must satisfy 0 < min_heading_time <= max_heading_time")
		}
	default:
		return fmt.Errorf("mobility.model: invalid model %q (valid: static, random_waypoint)", c.Mobility.Model)
	}

	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level: invalid level %q (valid: debug, info, warn, error)", c.Logging.Level)
	}

	switch c.Tracing.Exporter {
	case observability.ExporterStdout, observability.ExporterOTLP:
	default:
		return fmt.Errorf("tracing.exporter: invalid exporter %q (valid: stdout, otlp)", c.Tracing.Exporter)
	}
	if !(c.Tracing.SampleRatio >= 0 && c.Tracing.SampleRatio <= 1) {
		return fmt.Errorf("tracing.sample_ratio must be within [0, 1], got %v", c.Tracing.SampleRatio)
	}
	return nil
}

// ReceptionGrid builds the reception-ratio grid.
func (c *Config) ReceptionGrid() (*core.ReceptionGrid, error) {
	return core.NewReceptionGrid(c.Reception.WidthM, c.Reception.HeightM, c.Reception.Cells)
}

// PhysicalModel builds the physical link model.
func (c *Config) PhysicalModel() (*core.PhysicalModel, error) {
	grid, err := c.ReceptionGrid()
	if err != nil {
		return nil, err
	}
	return core.NewPhysicalModel(c.Radio, grid)
}

// LinkQualityModel builds the ETX model over the radio range.
func (c *Config) LinkQualityModel() core.LinkQualityModel {
	return core.LinkQualityModel{
		RangeM: c.Radio.RangeM,
		PRRMin: c.LinkQuality.PRRMin,
		PRRMax: c.LinkQuality.PRRMax,
	}
}

// EllipseParams returns the pruning region shape.
func (c *Config) EllipseParams() core.EllipseParams {
	return core.EllipseParams{
		Eccentricity:      c.Ellipse.Eccentricity,
		ExpansionFactor:   c.Ellipse.ExpansionFactor,
		BoundaryTolerance: c.Ellipse.BoundaryToleranceM,
	}
}

// Protocol builds the configured routing variant.
func (c *Config) Protocol() (routing.Protocol, error) {
	switch c.Routing.Protocol {
	case ProtocolMTP:
		return routing.MTP(c.EllipseParams(), c.Routing.UpdateInterval), nil
	case ProtocolDHyTP:
		return routing.DHyTP(c.EllipseParams(), c.Routing.UpdateInterval, c.Routing.Warmup, c.Routing.MetricHysteresis), nil
	default:
		return routing.Protocol{}, fmt.Errorf("routing.protocol: invalid protocol %q", c.Routing.Protocol)
	}
}

// MotionModel builds the configured mobility model.
func (c *Config) MotionModel() core.MotionModel {
	if c.Mobility.Model == MobilityRandomWaypoint {
		return core.NewRandomWaypointModel(core.RandomWaypointConfig{
			Bounds:         core.Bounds{MaxX: c.Reception.WidthM, MaxY: c.Reception.HeightM, MinZ: 20, MaxZ: 80},
			MinSpeed:       c.Mobility.MinSpeed,
			MaxSpeed:       c.Mobility.MaxSpeed,
			MinHeadingTime: c.Mobility.MinHeadingTime,
			MaxHeadingTime: c.Mobility.MaxHeadingTime,
		}, c.Seed)
	}
	return &core.StaticMotionModel{}
}

// LoggerConfig maps the logging section onto the logging package.
func (c *Config) LoggerConfig() logging.Config {
	return logging.Config{Level: c.Logging.Level, Format: c.Logging.Format}
}

// TracerConfig maps the tracing section onto the observability package,
// tagging spans with the routing variant and seed of this run.
func (c *Config) TracerConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
		Protocol:    c.Routing.Protocol,
		Seed:        c.Seed,
	}
}

// applyEnvOverrides applies UAVSIM_* environment variable overrides.
func applyEnvOverrides(c *Config) error {
	floats := map[string]*float64{
		"UAVSIM_RADIO_RANGE_M":              &c.Radio.RangeM,
		"UAVSIM_RADIO_PATH_LOSS_EXPONENT":   &c.Radio.PathLossExponent,
		"UAVSIM_RADIO_SINR_THRESHOLD":       &c.Radio.SINRThreshold,
		"UAVSIM_ELLIPSE_ECCENTRICITY":       &c.Ellipse.Eccentricity,
		"UAVSIM_ELLIPSE_EXPANSION_FACTOR":   &c.Ellipse.ExpansionFactor,
		"UAVSIM_ELLIPSE_BOUNDARY_TOLERANCE": &c.Ellipse.BoundaryToleranceM,
		"UAVSIM_ROUTING_MERGE_THRESHOLD_M":  &c.Routing.MergeThresholdM,
		"UAVSIM_TRACING_SAMPLE_RATIO":       &c.Tracing.SampleRatio,
	}
	for key, dst := range floats {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = f
		}
	}

	ints := map[string]*int{
		"UAVSIM_MAC_MAX_RETRANSMISSIONS": &c.MAC.MaxRetransmissions,
		"UAVSIM_MAC_MAX_ROUNDS":          &c.MAC.MaxRounds,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}

	durations := map[string]*time.Duration{
		"UAVSIM_ROUTING_UPDATE_INTERVAL": &c.Routing.UpdateInterval,
		"UAVSIM_MAC_ROUND_STEP":          &c.MAC.RoundStep,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = d
		}
	}

	if v := os.Getenv("UAVSIM_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("UAVSIM_SEED: %w", err)
		}
		c.Seed = n
	}
	if v := os.Getenv("UAVSIM_ROUTING_PROTOCOL"); v != "" {
		c.Routing.Protocol = strings.ToLower(v)
	}
	if v := os.Getenv("UAVSIM_MOBILITY_MODEL"); v != "" {
		c.Mobility.Model = strings.ToLower(v)
	}
	if v := os.Getenv("UAVSIM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("UAVSIM_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("UAVSIM_TRACING_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("UAVSIM_TRACING_ENABLED: %w", err)
		}
		c.Tracing.Enabled = enabled
	}
	if v := os.Getenv("UAVSIM_TRACING_EXPORTER"); v != "" {
		c.Tracing.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("UAVSIM_TRACING_ENDPOINT"); v != "" {
		c.Tracing.Endpoint = v
	}
	if v := os.Getenv("UAVSIM_TRACING_SERVICE_NAME"); v != "" {
		c.Tracing.ServiceName = v
	}
	return nil
}
