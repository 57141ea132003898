package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/pingmesh/internal/sim"
)

const (
	envConfigPath     = "PINGMESH_CONFIG"
	envOutputDir      = "PINGMESH_OUTPUT_DIR"
	envLogLevel       = "PINGMESH_LOG_LEVEL"
	envPostgresDSN    = "PINGMESH_POSTGRES_DSN"
	DefaultConfigPath = "/etc/pingmesh/scenario.yaml"
	DefaultServerAddr = "127.0.0.1:9310"
)

// Config is a complete simulation scenario.
type Config struct {
	Run       RunConfig       `yaml:"run"`
	Topology  TopologyConfig  `yaml:"topology"`
	Pingmesh  PingmeshConfig  `yaml:"pingmesh"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Export    ExportConfig    `yaml:"export"`
	Server    ServerConfig    `yaml:"server"`
}

type RunConfig struct {
	Duration  time.Duration `yaml:"duration" validate:"gt=0"`
	OutputDir string        `yaml:"output_dir" validate:"required"`
	LogLevel  string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

type TopologyConfig struct {
	Nodes     int          `yaml:"nodes" validate:"gt=0"`
	Endpoints []int        `yaml:"endpoints,omitempty" validate:"dive,gte=0"`
	Links     []LinkConfig `yaml:"links" validate:"dive"`
}

type LinkConfig struct {
	A            int           `yaml:"a" validate:"gte=0"`
	B            int           `yaml:"b" validate:"gte=0,nefield=A"`
	Delay        time.Duration `yaml:"delay" validate:"gte=0"`
	RateMbps     float64       `yaml:"rate_mbps" validate:"gt=0"`
	QueuePackets int           `yaml:"queue_packets,omitempty" validate:"gte=0"`
}

type PingmeshConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval" validate:"gt=0"`
	Pairs        Selection     `yaml:"pairs"`
	PayloadBytes int64         `yaml:"payload_bytes" validate:"gt=0"`
	Shard        ShardConfig   `yaml:"shard"`
}

type ShardConfig struct {
	Index int `yaml:"index" validate:"gte=0"`
	Count int `yaml:"count" validate:"gte=0"`
}

type TelemetryConfig struct {
	Queue       QueueTelemetryConfig       `yaml:"queue"`
	Utilization UtilizationTelemetryConfig `yaml:"utilization"`
	// SpoolDir enables streaming interval logs to disk when non-empty.
	SpoolDir string `yaml:"spool_dir,omitempty"`
}

type QueueTelemetryConfig struct {
	Enabled bool      `yaml:"enabled"`
	Links   Selection `yaml:"links"`
}

type UtilizationTelemetryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Links         Selection     `yaml:"links"`
	Interval      time.Duration `yaml:"interval" validate:"gt=0"`
	RoundDecimals *int          `yaml:"round_decimals,omitempty" validate:"omitempty,gte=-1,lte=9"`
}

// Decimals returns the rounding applied to utilization percentages.
func (u UtilizationTelemetryConfig) Decimals() int {
	if u.RoundDecimals == nil {
		return 2
	}
	return *u.RoundDecimals
}

type ExportConfig struct {
	PostgresDSN string `yaml:"postgres_dsn,omitempty"`
}

type ServerConfig struct {
	Addr              string  `yaml:"addr" validate:"required"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	Burst             int     `yaml:"burst" validate:"gte=0"`
}

// Nanos helpers convert configured durations to simulated time.
func (r RunConfig) DurationNs() sim.Time      { return r.Duration.Nanoseconds() }
func (p PingmeshConfig) IntervalNs() sim.Time { return p.Interval.Nanoseconds() }
func (u UtilizationTelemetryConfig) IntervalNs() sim.Time {
	return u.Interval.Nanoseconds()
}

// RateBps converts the configured link rate to bits per second.
func (l LinkConfig) RateBps() int64 {
	return int64(l.RateMbps * 1e6)
}

func Load(ctx context.Context, path string) (Config, error) {
	var cfg Config

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("open config %q: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return cfg, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err = Parse(data)
	if err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a scenario, fills defaults, applies environment overrides
// and validates the result.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse scenario: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func LoadFromEnv(ctx context.Context) (Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	path := os.Getenv(envConfigPath)
	if path == "" {
		path = DefaultConfigPath
	}
	return Load(ctx, path)
}

// LoadDotEnv overlays variables from a .env file without overriding the
// process environment. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Run.OutputDir == "" {
		c.Run.OutputDir = "./out"
	}
	if c.Run.LogLevel == "" {
		c.Run.LogLevel = "info"
	}
	for i := range c.Topology.Links {
		if c.Topology.Links[i].QueuePackets == 0 {
			c.Topology.Links[i].QueuePackets = 100
		}
	}
	if c.Pingmesh.Interval == 0 {
		c.Pingmesh.Interval = time.Second
	}
	if c.Pingmesh.PayloadBytes == 0 {
		c.Pingmesh.PayloadBytes = 64
	}
	if !c.Pingmesh.Pairs.set {
		c.Pingmesh.Pairs = All()
	}
	if !c.Telemetry.Queue.Links.set {
		c.Telemetry.Queue.Links = All()
	}
	if !c.Telemetry.Utilization.Links.set {
		c.Telemetry.Utilization.Links = All()
	}
	if c.Telemetry.Utilization.Interval == 0 {
		c.Telemetry.Utilization.Interval = 100 * time.Millisecond
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Server.RequestsPerSecond == 0 {
		c.Server.RequestsPerSecond = 20
	}
	if c.Server.Burst == 0 {
		c.Server.Burst = 40
	}
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv(envOutputDir)); v != "" {
		c.Run.OutputDir = v
	}
	if v := strings.TrimSpace(os.Getenv(envLogLevel)); v != "" {
		c.Run.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(envPostgresDSN)); v != "" {
		c.Export.PostgresDSN = v
	}
}
