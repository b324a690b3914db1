// Package config manages ofcoreagent configuration using koanf/v2.
//
// Supports YAML files and environment variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete ofcoreagent configuration.
type Config struct {
	Listener      ListenerConfig      `koanf:"listener"`
	Metrics       MetricsConfig       `koanf:"metrics"`
	Log           LogConfig           `koanf:"log"`
	LinkDiscovery LinkDiscoveryConfig `koanf:"link_discovery"`
	DeviceDB      DeviceDBConfig      `koanf:"device_db"`
	IDPool        IDPoolConfig        `koanf:"id_pool"`
}

// ListenerConfig holds the OpenFlow switch-connection listener
// configuration.
type ListenerConfig struct {
	// Addr is the TCP listen address switches dial in to (e.g., ":6653").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// LinkDiscoveryConfig holds the beacon-based link discovery parameters.
type LinkDiscoveryConfig struct {
	// PollInterval is both the beacon emission period and the basis for a
	// link's expiry deadline and debounce window.
	PollInterval time.Duration `koanf:"poll_interval"`

	// QueueID, when >= 0, is the egress queue beacons are tagged with via
	// a SetQueue action. A negative value omits the SetQueue action.
	QueueID int32 `koanf:"queue_id"`
}

// DeviceDBConfig holds the property sheet sources DeviceDb loads from on
// startup.
type DeviceDBConfig struct {
	// PropsFiles lists property-sheet file paths loaded in order; later
	// files' rows are appended after earlier ones.
	PropsFiles []string `koanf:"props_files"`
}

// IDPoolConfig holds the capacity of the id pool the daemon allocates
// per-switch slots from.
type IDPoolConfig struct {
	// Capacity is the number of ids available in [0, Capacity).
	Capacity uint32 `koanf:"capacity"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listener: ListenerConfig{
			Addr: ":6653",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		LinkDiscovery: LinkDiscoveryConfig{
			PollInterval: 5 * time.Second,
			QueueID:      -1,
		},
		IDPool: IDPoolConfig{
			Capacity: 65536,
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for ofcoreagent configuration.
// Variables are named OFCORE_<section>_<key>, e.g., OFCORE_LISTENER_ADDR.
const envPrefix = "OFCORE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (OFCORE_ prefix), and merges on top of DefaultConfig().
// Missing fields inherit defaults.
//
// Environment variable mapping:
//
//	OFCORE_LISTENER_ADDR           -> listener.addr
//	OFCORE_METRICS_ADDR            -> metrics.addr
//	OFCORE_METRICS_PATH            -> metrics.path
//	OFCORE_LOG_LEVEL               -> log.level
//	OFCORE_LOG_FORMAT              -> log.format
//	OFCORE_LINK_DISCOVERY_QUEUE_ID -> link_discovery.queue_id
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults.
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	// Load environment variable overrides on top of YAML.
	// OFCORE_LOG_LEVEL -> log.level (strip prefix, lowercase, split section from key).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms OFCORE_LISTENER_ADDR -> listener.addr and
// OFCORE_LINK_DISCOVERY_QUEUE_ID -> link_discovery.queue_id.
// Strips the OFCORE_ prefix, lowercases, and replaces the _ after a known
// section name with .; other underscores stay part of the key.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	for _, section := range []string{"listener", "metrics", "log", "link_discovery", "device_db", "id_pool"} {
		if rest, ok := strings.CutPrefix(s, section+"_"); ok {
			return section + "." + rest
		}
	}
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"listener.addr":               defaults.Listener.Addr,
		"metrics.addr":                defaults.Metrics.Addr,
		"metrics.path":                defaults.Metrics.Path,
		"log.level":                   defaults.Log.Level,
		"log.format":                  defaults.Log.Format,
		"link_discovery.poll_interval": defaults.LinkDiscovery.PollInterval.String(),
		"link_discovery.queue_id":     defaults.LinkDiscovery.QueueID,
		"id_pool.capacity":            defaults.IDPool.Capacity,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyListenerAddr indicates the switch-listener address is empty.
	ErrEmptyListenerAddr = errors.New("listener.addr must not be empty")

	// ErrInvalidPollInterval indicates the link discovery poll interval is
	// not positive.
	ErrInvalidPollInterval = errors.New("link_discovery.poll_interval must be > 0")

	// ErrInvalidIDPoolCapacity indicates the id pool capacity is zero.
	ErrInvalidIDPoolCapacity = errors.New("id_pool.capacity must be > 0")

	// ErrMissingPropsFile indicates a props_files entry is the empty string.
	ErrMissingPropsFile = errors.New("device_db.props_files entries must not be empty")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Listener.Addr == "" {
		return ErrEmptyListenerAddr
	}

	if cfg.LinkDiscovery.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}

	if cfg.IDPool.Capacity == 0 {
		return ErrInvalidIDPoolCapacity
	}

	for i, p := range cfg.DeviceDB.PropsFiles {
		if p == "" {
			return fmt.Errorf("device_db.props_files[%d]: %w", i, ErrMissingPropsFile)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
