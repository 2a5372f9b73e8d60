// Package config loads service configuration from defaults, an optional
// YAML file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/ingestion"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/memwatch"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/reconcile"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/pkg/models"
)

// ErrMissingAPIKey is returned by Validate when no telemetry API key is set.
var ErrMissingAPIKey = errors.New("config: telemetry API key is required (AEROHYDRA_API_KEY)")

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// Config holds all service configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	API     APIConfig     `yaml:"api"`
	Poll    PollConfig    `yaml:"poll"`
	Fleet   FleetConfig   `yaml:"fleet"`
	Regions RegionConfig  `yaml:"regions"`
	Display DisplayConfig `yaml:"display"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Log     LogConfig     `yaml:"log"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
	Port int    `yaml:"port"`
}

// APIConfig describes the upstream telemetry API.
type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	Retries       int           `yaml:"retries"`
	HistoryLimit  int           `yaml:"history_limit"`
	TimestampUnit string        `yaml:"timestamp_unit"` // "", "s" or "ms"
}

type PollConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MinSpacing  time.Duration `yaml:"min_spacing"`
	Workers     int           `yaml:"workers"`
	RegionLevel int           `yaml:"region_level"`
	Selection   string        `yaml:"selection"` // active or all
	Window      time.Duration `yaml:"window"`
}

// FleetConfig narrows tracking to known aircraft or an area. Empty means
// everything the API returns.
type FleetConfig struct {
	ICAO24               []string  `yaml:"icao24"`
	RegistrationPrefixes []string  `yaml:"registration_prefixes"`
	BoundingBox          []float64 `yaml:"bounding_box"` // minLat, maxLat, minLon, maxLon
}

type RegionConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

type DisplayConfig struct {
	Mode string `yaml:"mode"` // light or dark
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

// RuntimeConfig tunes the Go runtime for small hosts.
type RuntimeConfig struct {
	MaxProcs      int `yaml:"max_procs"`
	GCPercent     int `yaml:"gc_percent"`
	MemoryLimitMB int `yaml:"memory_limit_mb"`
	SoftLimitMB   int `yaml:"soft_limit_mb"` // memory watch threshold, 0 disables
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: "0.0.0.0", Port: 8080},
		API: APIConfig{
			BaseURL:      "http://localhost:8000",
			Timeout:      30 * time.Second,
			Retries:      2,
			HistoryLimit: ingestion.DefaultHistoryLimit,
		},
		Poll: PollConfig{
			Interval:    5 * time.Second,
			MinSpacing:  time.Second,
			Workers:     8,
			RegionLevel: models.ActiveRegionLevel,
			Selection:   string(models.SelectionActive),
			Window:      time.Hour,
		},
		Regions: RegionConfig{CacheSize: 256, CacheTTL: 30 * time.Minute},
		Display: DisplayConfig{Mode: string(altitude.Dark)},
		Kafka:   KafkaConfig{Topic: "aerohydra.aircraft"},
		Log:     LogConfig{Level: "info"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// path is not empty, then environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		loaded, err := LoadFile(path, cfg)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML file into a copy of defaults. Keys absent from the
// file keep their default value.
func LoadFile[T any](path string, defaults T) (*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg := defaults
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() {
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.HTTP.Port = getEnvInt("HTTP_PORT", c.HTTP.Port)

	c.API.BaseURL = getEnv("AEROHYDRA_API_URL", c.API.BaseURL)
	c.API.APIKey = getEnv("AEROHYDRA_API_KEY", c.API.APIKey)
	c.API.Timeout = getEnvDuration("API_TIMEOUT", c.API.Timeout)
	c.API.Retries = getEnvInt("API_RETRIES", c.API.Retries)
	c.API.HistoryLimit = getEnvInt("HISTORY_LIMIT", c.API.HistoryLimit)
	c.API.TimestampUnit = getEnv("TIMESTAMP_UNIT", c.API.TimestampUnit)

	c.Poll.Interval = getEnvDuration("POLL_INTERVAL", c.Poll.Interval)
	c.Poll.MinSpacing = getEnvDuration("POLL_MIN_SPACING", c.Poll.MinSpacing)
	c.Poll.Workers = getEnvInt("POLL_WORKERS", c.Poll.Workers)
	c.Poll.Selection = getEnv("VIEW_SELECTION", c.Poll.Selection)
	c.Poll.Window = getEnvDuration("VIEW_WINDOW", c.Poll.Window)

	c.Fleet.ICAO24 = getEnvList("FLEET_ICAO24", c.Fleet.ICAO24)
	c.Fleet.RegistrationPrefixes = getEnvList("FLEET_REGISTRATION_PREFIXES", c.Fleet.RegistrationPrefixes)

	c.Display.Mode = getEnv("DISPLAY_MODE", c.Display.Mode)

	c.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.Enabled = getEnvBool("KAFKA_ENABLED", c.Kafka.Enabled || len(c.Kafka.Brokers) > 0)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Dir = getEnv("LOG_DIR", c.Log.Dir)
	c.Log.JSON = getEnvBool("LOG_JSON", c.Log.JSON)

	c.Runtime.MaxProcs = getEnvInt("GOMAXPROCS", c.Runtime.MaxProcs)
	c.Runtime.GCPercent = getEnvInt("GC_PERCENT", c.Runtime.GCPercent)
	c.Runtime.MemoryLimitMB = getEnvInt("MEMORY_LIMIT_MB", c.Runtime.MemoryLimitMB)
	c.Runtime.SoftLimitMB = getEnvInt("SOFT_LIMIT_MB", c.Runtime.SoftLimitMB)
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.API.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if c.API.BaseURL == "" {
		return errors.New("config: api.base_url is empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("config: poll.interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.Window <= 0 {
		return fmt.Errorf("config: poll.window must be positive, got %s", c.Poll.Window)
	}
	switch models.TimestampUnit(c.API.TimestampUnit) {
	case models.UnitUnknown, models.UnitSeconds, models.UnitMilliseconds:
	default:
		return fmt.Errorf("config: api.timestamp_unit %q is not one of s, ms", c.API.TimestampUnit)
	}
	if n := len(c.Fleet.BoundingBox); n != 0 && n != 4 {
		return fmt.Errorf("config: fleet.bounding_box needs 4 values, got %d", n)
	}
	if r := c.Runtime; r.SoftLimitMB > 0 && r.MemoryLimitMB > 0 && r.SoftLimitMB > r.MemoryLimitMB {
		return fmt.Errorf("config: runtime.soft_limit_mb %d exceeds memory_limit_mb %d", r.SoftLimitMB, r.MemoryLimitMB)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("config: kafka enabled without brokers or topic")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Derived settings
// ---------------------------------------------------------------------------

// Filter returns the fleet filter, or nil when no criterion is set.
func (c *Config) Filter() *ingestion.Filter {
	f := &ingestion.Filter{
		ICAO24:               c.Fleet.ICAO24,
		RegistrationPrefixes: c.Fleet.RegistrationPrefixes,
	}
	if len(c.Fleet.BoundingBox) == 4 {
		bb := [4]float64(c.Fleet.BoundingBox)
		f.BoundingBox = &bb
	}
	if f.Empty() {
		return nil
	}
	return f
}

// View returns the initial reconciler view.
func (c *Config) View() reconcile.View {
	return reconcile.View{
		Selection: models.ParseSelection(c.Poll.Selection),
		Window:    c.Poll.Window,
	}
}

// Reconcile returns the reconciler configuration.
func (c *Config) Reconcile() reconcile.Config {
	rc := reconcile.Config{
		Interval:    c.Poll.Interval,
		MinSpacing:  c.Poll.MinSpacing,
		RegionLevel: c.Poll.RegionLevel,
		Workers:     c.Poll.Workers,
		View:        c.View(),
	}
	if f := c.Filter(); f != nil {
		rc.Filter = f
	}
	return rc
}

// MemoryLimits returns the memory watch limits.
func (c *Config) MemoryLimits() memwatch.Limits {
	return memwatch.Limits{SoftMB: c.Runtime.SoftLimitMB, HardMB: c.Runtime.MemoryLimitMB}
}

// Mode returns the default display mode.
func (c *Config) Mode() altitude.Mode {
	return altitude.ParseMode(c.Display.Mode)
}

// Apply applies the runtime settings to the Go runtime.
func (r RuntimeConfig) Apply() {
	if r.MaxProcs > 0 {
		runtime.GOMAXPROCS(r.MaxProcs)
	}
	if r.GCPercent > 0 {
		debug.SetGCPercent(r.GCPercent)
	}
	if r.MemoryLimitMB > 0 {
		debug.SetMemoryLimit(int64(r.MemoryLimitMB) * 1024 * 1024)
	}
}

// ---------------------------------------------------------------------------
// Environment helpers
// ---------------------------------------------------------------------------

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
