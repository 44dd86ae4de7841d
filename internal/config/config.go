// Package config loads the run configuration of the simulator from YAML and
// SWARM_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/swarm-simulator/core"
	"github.com/signalsfoundry/swarm-simulator/internal/oppnet"
	"github.com/signalsfoundry/swarm-simulator/internal/scenario"
	"github.com/signalsfoundry/swarm-simulator/internal/solution"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/bottleneck"
	"github.com/signalsfoundry/swarm-simulator/internal/solution/gossip"
	"github.com/signalsfoundry/swarm-simulator/timectrl"
)

// Config is the complete run configuration.
type Config struct {
	World    WorldConfig    `yaml:"world"`
	Scenario ScenarioConfig `yaml:"scenario"`
	Solution string         `yaml:"solution"`
	Gossip   gossip.Config  `yaml:"gossip"`
	Routing  RoutingConfig  `yaml:"routing"`
	Scanning ScanningConfig `yaml:"scanning"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Observer ObserverConfig `yaml:"observer"`
	Pacing   PacingConfig   `yaml:"pacing"`
	Output   OutputConfig   `yaml:"output"`
}

// WorldConfig fixes the extent of the world: |x| <= XSize and |y| <= YSize
// in cartesian units.
type WorldConfig struct {
	XSize    float64 `yaml:"x_size"`
	YSize    float64 `yaml:"y_size"`
	MaxRound int     `yaml:"max_round"`
	Seed     uint64  `yaml:"seed"`
}

// ScenarioConfig selects a built-in scenario by Name or a JSON scenario File.
// File wins when both are set.
type ScenarioConfig struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
	Size int    `yaml:"size"`
}

// RoutingConfig tunes the opportunistic network of the bottleneck solution.
type RoutingConfig struct {
	Algorithm       string `yaml:"algorithm"`
	Mobility        string `yaml:"mobility"`
	DeliveryDelay   int    `yaml:"delivery_delay"`
	MessageTTL      int    `yaml:"message_ttl"` // rounds; 0 never expires
	Capacity        int    `yaml:"capacity"`    // bytes per carrier; 0 is unlimited
	EdgeParticles   int    `yaml:"edge_particles"`
	MessagesPerEdge int    `yaml:"messages_per_edge"`
}

// ScanningConfig tunes the scanning solution. A zero Radius uses
// scanning.DefaultRadius.
type ScanningConfig struct {
	Radius int `yaml:"radius"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// ObserverConfig enables the WebSocket observer stream when Addr is set.
type ObserverConfig struct {
	Addr string `yaml:"addr"`
}

type PacingConfig struct {
	Mode string        `yaml:"mode"`
	Tick time.Duration `yaml:"tick"`
}

// OutputConfig names optional result sinks.
type OutputConfig struct {
	ResultsDB string `yaml:"results_db"`
	TraceFile string `yaml:"trace_file"`
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		World: WorldConfig{
			XSize:    100,
			YSize:    100,
			MaxRound: 500,
			Seed:     1,
		},
		Scenario: ScenarioConfig{Name: "ring18"},
		Solution: "gossip",
		Gossip:   gossip.DefaultConfig(),
		Routing: RoutingConfig{
			Algorithm:       oppnet.Epidemic.String(),
			Mobility:        oppnet.MobilityRandomWalk.String(),
			EdgeParticles:   4,
			MessagesPerEdge: 5,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Pacing:  PacingConfig{Mode: timectrl.Accelerated.String(), Tick: 100 * time.Millisecond},
	}
}

// Load reads path on top of the defaults (when path is non-empty) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fileCfg
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile decodes the YAML file at path on top of the defaults.
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

func applyEnvOverrides(cfg *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}

	setFloat("SWARM_X_SIZE", &cfg.World.XSize)
	setFloat("SWARM_Y_SIZE", &cfg.World.YSize)
	setInt("SWARM_MAX_ROUND", &cfg.World.MaxRound)
	if v := os.Getenv("SWARM_SEED"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("SWARM_SEED: %w", err))
		} else {
			cfg.World.Seed = n
		}
	}
	setString("SWARM_SCENARIO", &cfg.Scenario.Name)
	setString("SWARM_SCENARIO_FILE", &cfg.Scenario.File)
	setString("SWARM_SOLUTION", &cfg.Solution)
	setString("SWARM_ROUTING_ALGORITHM", &cfg.Routing.Algorithm)
	setString("SWARM_MOBILITY", &cfg.Routing.Mobility)
	setInt("SWARM_SCAN_RADIUS", &cfg.Scanning.Radius)
	setString("SWARM_LOG_LEVEL", &cfg.Logging.Level)
	setString("SWARM_LOG_FORMAT", &cfg.Logging.Format)
	setString("SWARM_METRICS_ADDR", &cfg.Metrics.Addr)
	setString("SWARM_OBSERVER_ADDR", &cfg.Observer.Addr)
	setString("SWARM_PACING", &cfg.Pacing.Mode)
	if v := os.Getenv("SWARM_TICK"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("SWARM_TICK: %w", err))
		} else {
			cfg.Pacing.Tick = d
		}
	}
	setString("SWARM_RESULTS_DB", &cfg.Output.ResultsDB)
	setString("SWARM_TRACE_FILE", &cfg.Output.TraceFile)
	return errors.Join(errs...)
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error
	if c.World.XSize <= 0 || c.World.YSize <= 0 {
		errs = append(errs, fmt.Errorf("world: x_size and y_size must be > 0, got %v x %v", c.World.XSize, c.World.YSize))
	}
	if c.World.MaxRound < 0 {
		errs = append(errs, fmt.Errorf("world: max_round must be >= 0, got %d", c.World.MaxRound))
	}
	if c.Scenario.File == "" {
		if _, err := scenario.Lookup(c.Scenario.Name, scenario.Params{}); err != nil {
			errs = append(errs, fmt.Errorf("scenario: %w", err))
		}
	}
	if _, err := solution.New(c.Solution, solution.Options{}); err != nil {
		errs = append(errs, fmt.Errorf("solution: %w", err))
	}
	if err := c.Gossip.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gossip: %w", err))
	}
	if _, err := c.BottleneckConfig(); err != nil {
		errs = append(errs, fmt.Errorf("routing: %w", err))
	}
	if c.Routing.MessageTTL < 0 || c.Routing.Capacity < 0 {
		errs = append(errs, fmt.Errorf("routing: message_ttl and capacity must be >= 0"))
	}
	if c.Scanning.Radius < 0 {
		errs = append(errs, fmt.Errorf("scanning: radius must be >= 0, got %d", c.Scanning.Radius))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("logging: invalid level %q (valid: debug, info, warn, error)", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging: invalid format %q (valid: text, json)", c.Logging.Format))
	}
	if _, err := timectrl.ParseMode(c.Pacing.Mode); err != nil {
		errs = append(errs, fmt.Errorf("pacing: %w", err))
	}
	if c.Pacing.Tick <= 0 {
		errs = append(errs, fmt.Errorf("pacing: tick must be > 0, got %v", c.Pacing.Tick))
	}
	return errors.Join(errs...)
}

// CoreWorld converts the world section for core.NewWorld.
func (c *Config) CoreWorld() core.WorldConfig {
	return core.WorldConfig{
		XSize:    c.World.XSize,
		YSize:    c.World.YSize,
		MaxRound: c.World.MaxRound,
		Seed:     c.World.Seed,
	}
}

// BottleneckConfig converts the routing section.
func (c *Config) BottleneckConfig() (bottleneck.Config, error) {
	algo, err := oppnet.ParseAlgorithm(c.Routing.Algorithm)
	if err != nil {
		return bottleneck.Config{}, err
	}
	mode, err := oppnet.ParseMobilityMode(c.Routing.Mobility)
	if err != nil {
		return bottleneck.Config{}, err
	}
	if c.Routing.DeliveryDelay < 0 {
		return bottleneck.Config{}, fmt.Errorf("delivery_delay must be >= 0, got %d", c.Routing.DeliveryDelay)
	}
	return bottleneck.Config{
		Algorithm:       algo,
		Mobility:        mode,
		DeliveryDelay:   c.Routing.DeliveryDelay,
		EdgeParticles:   c.Routing.EdgeParticles,
		MessagesPerEdge: c.Routing.MessagesPerEdge,
	}, nil
}

// NetworkOptions converts the storage limits of the routing section.
func (c *Config) NetworkOptions() []oppnet.Option {
	var opts []oppnet.Option
	if c.Routing.Capacity > 0 {
		opts = append(opts, oppnet.WithCapacity(c.Routing.Capacity))
	}
	if c.Routing.MessageTTL > 0 {
		opts = append(opts, oppnet.WithMessageTTL(c.Routing.MessageTTL))
	}
	return opts
}
