// Package config provides configuration defaults for catwatch.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml.
package config

import "time"

// =============================================================================
// Network Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: http.listen
	DefaultListenAddress = "0.0.0.0:5000"

	// DefaultWSPingInterval is how often idle WebSocket clients are pinged.
	DefaultWSPingInterval = 30 * time.Second

	// DefaultWSWriteTimeout bounds a single WebSocket frame write.
	// A client that cannot accept a frame within this window is dropped.
	DefaultWSWriteTimeout = 5 * time.Second
)

// =============================================================================
// Query Defaults
// =============================================================================

const (
	// DefaultHistoryLimit is the number of points returned by /history
	// when no limit is given.
	// Override via config: http.history_limit
	DefaultHistoryLimit = 50

	// MaxHistoryLimit caps the limit query parameter.
	MaxHistoryLimit = 10000

	// DefaultHealthWindow is the number of recent readings /system/health
	// scores.
	// Override via config: http.health_window
	DefaultHealthWindow = 10

	// DefaultExportWindow is the span /export/csv covers when no hours
	// parameter is given.
	// Override via config: http.export_window
	DefaultExportWindow = 24 * time.Hour
)

// =============================================================================
// Broadcast Defaults
// =============================================================================

const (
	// DefaultSubscriberQueueSize is the capacity of each subscriber queue.
	// When full, the oldest queued reading is dropped.
	// Range: 1-100000
	// Override via config: broadcast.queue_size
	DefaultSubscriberQueueSize = 256
)

// =============================================================================
// Source Defaults
// =============================================================================

const (
	// DefaultSerialBaudRate matches the firmware of the reference rig.
	// Override via config: source.serial.baud_rate
	DefaultSerialBaudRate = 9600

	// DefaultSourceQueueSize bounds samples buffered by push-based sources
	// (MQTT) before the oldest is discarded.
	DefaultSourceQueueSize = 1024

	// DefaultMaxLineSize limits a single framed sample to prevent OOM.
	DefaultMaxLineSize = 64 * 1024

	// DefaultSNMPInterval is the polling interval of the SNMP source.
	DefaultSNMPInterval = 2 * time.Second

	// DefaultSNMPTimeoutMs is the SNMP request timeout.
	DefaultSNMPTimeoutMs = 5000

	// DefaultSNMPRetries is the number of SNMP retries.
	DefaultSNMPRetries = 2

	// DefaultSyntheticInterval is the cadence of the generic demo generator.
	DefaultSyntheticInterval = 2 * time.Second

	// DefaultVehicleSyntheticInterval is the cadence of the bike and car
	// demo generators.
	DefaultVehicleSyntheticInterval = 8 * time.Second
)

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultWALMaxSegmentSize rotates WAL segments at 64 MiB.
	// Override via config: store.wal.max_segment_size
	DefaultWALMaxSegmentSize = 64 * 1024 * 1024

	// DefaultWALBufferSize is the WAL writer buffer size.
	DefaultWALBufferSize = 64 * 1024
)

// =============================================================================
// Shutdown Defaults
// =============================================================================

const (
	// DefaultShutdownTimeout is how long the HTTP server may take to drain
	// in-flight requests during shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)
