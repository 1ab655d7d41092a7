// Package config loads and validates the catwatch daemon configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/catwatch/config"
)

// Config represents the complete daemon configuration.
type Config struct {
	// DataDir is the root directory for the WAL and the archive.
	DataDir string `yaml:"data_dir"`

	// Profile selects the active derivation profile.
	Profile string `yaml:"profile"`

	// Profiles defines derivation profiles by name. Entries here override
	// or extend the built-in generic, bike and car profiles.
	Profiles map[string]ProfileConfig `yaml:"profiles"`

	// Source configures where raw samples come from.
	Source SourceConfig `yaml:"source"`

	// Store configures reading persistence.
	Store StoreConfig `yaml:"store"`

	// Broadcast configures live fan-out.
	Broadcast BroadcastConfig `yaml:"broadcast"`

	// HTTP configures the query and WebSocket surface.
	HTTP HTTPConfig `yaml:"http"`

	// Stats configures the aggregate statistics engine.
	Stats StatsConfig `yaml:"stats"`

	// Health configures the ingest health tracker.
	Health HealthConfig `yaml:"health"`

	// Archive configures the daily parquet archive.
	Archive ArchiveConfig `yaml:"archive"`

	// Kafka configures forwarding of readings to Kafka.
	Kafka KafkaConfig `yaml:"kafka"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Logging configures log output.
	Logging LoggingConfig `yaml:"logging"`
}

// ProfileConfig holds the thresholds and unit conventions of one profile.
type ProfileConfig struct {
	// ThresholdLow is the efficiency (%) below which a reading is anomalous.
	ThresholdLow float64 `yaml:"threshold_low"`

	// ThresholdHigh is the co_in value above which a reading is anomalous.
	ThresholdHigh float64 `yaml:"threshold_high"`

	// PowerMode is one of: supplied, derived, auto.
	PowerMode string `yaml:"power_mode"`

	// PowerScale converts voltage*current into milliwatts.
	PowerScale float64 `yaml:"power_scale"`

	// PredictedOffset is added to efficiency when the device does not
	// report a predicted efficiency.
	PredictedOffset float64 `yaml:"predicted_offset"`
}

// SourceConfig configures the sample source.
type SourceConfig struct {
	// Kind is one of: synthetic, serial, stdin, mqtt, snmp.
	Kind string `yaml:"kind"`

	// Format is the line framing for serial/stdin: json or protodelim.
	Format string `yaml:"format"`

	Serial    SerialConfig    `yaml:"serial"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	SNMP      SNMPConfig      `yaml:"snmp"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
}

// SerialConfig configures a serial line source.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// MQTTConfig configures an MQTT subscription source.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      byte   `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// QueueSize bounds messages received but not yet consumed.
	QueueSize int `yaml:"queue_size"`
}

// SNMPConfig configures an SNMP polling source.
type SNMPConfig struct {
	Host      string        `yaml:"host"`
	Port      uint16        `yaml:"port"`
	Community string        `yaml:"community"`
	Interval  time.Duration `yaml:"interval"`
	TimeoutMs uint32        `yaml:"timeout_ms"`
	Retries   uint32        `yaml:"retries"`

	// OIDs maps reading field names (co_in, co_out, ...) to OIDs.
	OIDs map[string]string `yaml:"oids"`
}

// SyntheticConfig configures the demo generator.
type SyntheticConfig struct {
	// Interval between samples. Zero uses the profile's default cadence.
	Interval time.Duration `yaml:"interval"`

	// Seed for the random generator. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// StoreConfig configures the reading store.
type StoreConfig struct {
	WAL WALConfig `yaml:"wal"`
}

// WALConfig configures the Write-Ahead Log.
type WALConfig struct {
	// Dir is the WAL directory. Defaults to {DataDir}/wal.
	Dir string `yaml:"dir"`

	// SyncMode is the sync mode: sync, fsync.
	SyncMode string `yaml:"sync_mode"`

	// MaxSegmentSize is the maximum segment size before rotation.
	MaxSegmentSize int64 `yaml:"max_segment_size"`
}

// BroadcastConfig configures live fan-out.
type BroadcastConfig struct {
	// QueueSize is the per-subscriber queue length. When full the oldest
	// queued reading is dropped.
	QueueSize int `yaml:"queue_size"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Listen         string        `yaml:"listen"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`

	HistoryLimit int           `yaml:"history_limit"`
	HealthWindow int           `yaml:"health_window"`
	ExportWindow time.Duration `yaml:"export_window"`
}

// StatsConfig configures the statistics engine.
type StatsConfig struct {
	// Timezone defines the calendar day used by daily statistics.
	// IANA name, "UTC" or "Local".
	Timezone string `yaml:"timezone"`
}

// HealthConfig configures the ingest health tracker.
type HealthConfig struct {
	// Window is the number of recent appends the failure ratio covers.
	Window int `yaml:"window"`

	// Thresholds are failure ratios (0.0-1.0) for each level.
	Warning   float64 `yaml:"warning"`
	Critical  float64 `yaml:"critical"`
	Emergency float64 `yaml:"emergency"`

	// Hysteresis prevents flapping when the ratio falls again.
	Hysteresis float64 `yaml:"hysteresis"`
}

// ArchiveConfig configures the daily parquet archive.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir defaults to {DataDir}/archive.
	Dir string `yaml:"dir"`

	// Interval is how often completed days are archived.
	Interval time.Duration `yaml:"interval"`

	// Compression is one of: snappy, zstd, lz4, gzip, none.
	Compression string `yaml:"compression"`

	// MemoryLimit is the DuckDB memory limit for archive queries.
	MemoryLimit string `yaml:"memory_limit"`
}

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	BatchSize int      `yaml:"batch_size"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	config.mergeBuiltinProfiles()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:  "./data",
		Profile:  "generic",
		Profiles: BuiltinProfiles(),
		Source: SourceConfig{
			Kind:   "synthetic",
			Format: "json",
			Serial: SerialConfig{
				Port:     "/dev/ttyUSB0",
				BaudRate: defaults.DefaultSerialBaudRate,
			},
			MQTT: MQTTConfig{
				Broker:    "tcp://localhost:1883",
				Topic:     "catwatch/readings",
				ClientID:  "catwatchd",
				QueueSize: defaults.DefaultSourceQueueSize,
			},
			SNMP: SNMPConfig{
				Port:      161,
				Interval:  defaults.DefaultSNMPInterval,
				TimeoutMs: defaults.DefaultSNMPTimeoutMs,
				Retries:   defaults.DefaultSNMPRetries,
			},
		},
		Store: StoreConfig{
			WAL: WALConfig{
				SyncMode:       "sync",
				MaxSegmentSize: defaults.DefaultWALMaxSegmentSize,
			},
		},
		Broadcast: BroadcastConfig{
			QueueSize: defaults.DefaultSubscriberQueueSize,
		},
		HTTP: HTTPConfig{
			Listen:         defaults.DefaultListenAddress,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   30 * time.Second,
			AllowedOrigins: []string{"*"},
			HistoryLimit:   defaults.DefaultHistoryLimit,
			HealthWindow:   defaults.DefaultHealthWindow,
			ExportWindow:   defaults.DefaultExportWindow,
		},
		Stats: StatsConfig{
			Timezone: "UTC",
		},
		Health: HealthConfig{
			Window:     100,
			Warning:    0.05,
			Critical:   0.25,
			Emergency:  0.75,
			Hysteresis: 0.02,
		},
		Archive: ArchiveConfig{
			Enabled:     true,
			Interval:    time.Hour,
			Compression: "zstd",
			MemoryLimit: "256MB",
		},
		Kafka: KafkaConfig{
			Topic:     "catwatch.readings",
			BatchSize: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// BuiltinProfiles returns the profiles shipped with catwatch.
//
// generic: bench rig, power reported or computed as V*I.
// bike, car: vehicle rigs reporting current in mA, so V*mA is already mW.
func BuiltinProfiles() map[string]ProfileConfig {
	return map[string]ProfileConfig{
		"generic": {
			ThresholdLow:  25,
			ThresholdHigh: 140,
			PowerMode:     "auto",
			PowerScale:    1,
		},
		"bike": {
			ThresholdLow:    50,
			ThresholdHigh:   4000,
			PowerMode:       "derived",
			PowerScale:      1,
			PredictedOffset: 1.2,
		},
		"car": {
			ThresholdLow:    50,
			ThresholdHigh:   4000,
			PowerMode:       "derived",
			PowerScale:      1,
			PredictedOffset: 1.2,
		},
	}
}

// mergeBuiltinProfiles re-adds built-in profiles that a config file's
// profiles section did not mention.
func (c *Config) mergeBuiltinProfiles() {
	if c.Profiles == nil {
		c.Profiles = make(map[string]ProfileConfig)
	}
	for name, p := range BuiltinProfiles() {
		if _, ok := c.Profiles[name]; !ok {
			c.Profiles[name] = p
		}
	}
}

// ProfileNames returns the configured profile names, sorted.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WALDir returns the WAL directory.
func (c *Config) WALDir() string {
	if c.Store.WAL.Dir != "" {
		return c.Store.WAL.Dir
	}
	return filepath.Join(c.DataDir, "wal")
}

// ArchiveDir returns the archive directory.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return filepath.Join(c.DataDir, "archive")
}

// Location returns the time zone that defines a calendar day.
func (c *Config) Location() (*time.Location, error) {
	switch c.Stats.Timezone {
	case "", "UTC":
		return time.UTC, nil
	case "Local":
		return time.Local, nil
	default:
		return time.LoadLocation(c.Stats.Timezone)
	}
}

// EnsureDirectories creates all directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir, c.WALDir()}
	if c.Archive.Enabled {
		dirs = append(dirs, c.ArchiveDir())
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}
