package config

import (
	"errors"
	"fmt"
	"math"
	"time"

	defaults "github.com/xtxerr/catwatch/config"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	// DataDir
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	// Profiles
	if _, ok := c.Profiles[c.Profile]; !ok {
		errs = append(errs, fmt.Errorf("profile %q is not defined", c.Profile))
	}
	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("profiles.%s: %w", name, err))
		}
	}

	// Source
	if err := c.Source.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("source: %w", err))
	}

	// Store
	if err := c.Store.WAL.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store.wal: %w", err))
	}

	// Broadcast
	if c.Broadcast.QueueSize < 1 || c.Broadcast.QueueSize > 100000 {
		errs = append(errs, errors.New("broadcast: queue_size must be 1-100000"))
	}

	// HTTP
	if err := c.HTTP.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}

	// Stats
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Errorf("stats: timezone: %w", err))
	}

	// Health
	if err := c.Health.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("health: %w", err))
	}

	// Archive
	if err := c.Archive.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("archive: %w", err))
	}

	// Kafka
	if err := c.Kafka.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("kafka: %w", err))
	}

	// Metrics
	if c.Metrics.Enabled && (c.Metrics.Path == "" || c.Metrics.Path[0] != '/') {
		errs = append(errs, errors.New("metrics: path must start with /"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks a derivation profile.
func (p *ProfileConfig) Validate() error {
	var errs []error

	switch p.PowerMode {
	case "supplied", "derived", "auto":
	default:
		errs = append(errs, fmt.Errorf("invalid power_mode: %s (must be supplied, derived, or auto)", p.PowerMode))
	}

	if p.PowerScale <= 0 || math.IsInf(p.PowerScale, 0) || math.IsNaN(p.PowerScale) {
		errs = append(errs, errors.New("power_scale must be positive"))
	}

	if math.IsNaN(p.ThresholdLow) || math.IsNaN(p.ThresholdHigh) {
		errs = append(errs, errors.New("thresholds must be numbers"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the source configuration.
func (c *SourceConfig) Validate() error {
	var errs []error

	switch c.Format {
	case "json", "protodelim":
	default:
		errs = append(errs, fmt.Errorf("invalid format: %s (must be json or protodelim)", c.Format))
	}

	switch c.Kind {
	case "synthetic", "stdin":
	case "serial":
		if c.Serial.Port == "" {
			errs = append(errs, errors.New("serial.port is required"))
		}
		if c.Serial.BaudRate <= 0 {
			errs = append(errs, errors.New("serial.baud_rate must be positive"))
		}
	case "mqtt":
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("mqtt.broker is required"))
		}
		if c.MQTT.Topic == "" {
			errs = append(errs, errors.New("mqtt.topic is required"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, errors.New("mqtt.qos must be 0-2"))
		}
		if c.MQTT.QueueSize <= 0 {
			errs = append(errs, errors.New("mqtt.queue_size must be positive"))
		}
	case "snmp":
		if c.SNMP.Host == "" {
			errs = append(errs, errors.New("snmp.host is required"))
		}
		if c.SNMP.Interval <= 0 {
			errs = append(errs, errors.New("snmp.interval must be positive"))
		}
		if len(c.SNMP.OIDs) == 0 {
			errs = append(errs, errors.New("snmp.oids must map at least one field"))
		}
		for field := range c.SNMP.OIDs {
			if !isNumericField(field) {
				errs = append(errs, fmt.Errorf("snmp.oids: unknown field %q", field))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("invalid kind: %s (must be synthetic, serial, stdin, mqtt, or snmp)", c.Kind))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func isNumericField(name string) bool {
	switch name {
	case "co_in", "co_out", "voltage", "current", "power", "predicted_efficiency":
		return true
	}
	return false
}

// Validate checks the WAL configuration.
func (c *WALConfig) Validate() error {
	var errs []error

	switch c.SyncMode {
	case "sync", "fsync":
	default:
		errs = append(errs, fmt.Errorf("invalid sync_mode: %s (must be sync or fsync)", c.SyncMode))
	}

	if c.MaxSegmentSize < 1024*1024 {
		errs = append(errs, errors.New("max_segment_size must be at least 1MiB"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	var errs []error

	if c.Listen == "" {
		errs = append(errs, errors.New("listen is required"))
	}

	if c.HistoryLimit < 1 || c.HistoryLimit > defaults.MaxHistoryLimit {
		errs = append(errs, fmt.Errorf("history_limit must be 1-%d", defaults.MaxHistoryLimit))
	}

	if c.HealthWindow < 1 {
		errs = append(errs, errors.New("health_window must be positive"))
	}

	if c.ExportWindow < time.Hour {
		errs = append(errs, errors.New("export_window must be at least 1h"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the health tracker configuration.
func (c *HealthConfig) Validate() error {
	var errs []error

	if c.Window < 1 {
		errs = append(errs, errors.New("window must be positive"))
	}

	if c.Warning <= 0 || c.Warning >= 1 {
		errs = append(errs, errors.New("warning must be between 0 and 1"))
	}
	if c.Critical <= c.Warning || c.Critical >= 1 {
		errs = append(errs, errors.New("critical must be between warning and 1"))
	}
	if c.Emergency <= c.Critical || c.Emergency > 1 {
		errs = append(errs, errors.New("emergency must be between critical and 1"))
	}

	if c.Hysteresis < 0 || c.Hysteresis >= c.Warning {
		errs = append(errs, errors.New("hysteresis must be non-negative and below warning"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the archive configuration.
func (c *ArchiveConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if c.Interval < time.Minute {
		errs = append(errs, errors.New("interval must be at least 1m"))
	}

	switch c.Compression {
	case "snappy", "zstd", "lz4", "gzip", "none":
	default:
		errs = append(errs, fmt.Errorf("invalid compression: %s", c.Compression))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the Kafka sink configuration.
func (c *KafkaConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	var errs []error

	if len(c.Brokers) == 0 {
		errs = append(errs, errors.New("brokers are required when enabled"))
	}
	if c.Topic == "" {
		errs = append(errs, errors.New("topic is required when enabled"))
	}
	if c.BatchSize < 1 {
		errs = append(errs, errors.New("batch_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
