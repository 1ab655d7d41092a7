package ingest

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/catwatch/internal/config"
)

// Level is the ingest health level derived from recent store failures.
type Level int

const (
	// LevelNormal - appends succeed.
	LevelNormal Level = iota

	// LevelWarning - occasional append failures.
	LevelWarning

	// LevelCritical - a large share of readings is being lost.
	LevelCritical

	// LevelEmergency - persistence is effectively down.
	LevelEmergency
)

// String returns the string representation of the level.
func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Health tracks the store failure ratio over the last N appends.
// Levels rise as soon as a threshold is crossed and fall only once the
// ratio drops below the threshold minus hysteresis.
type Health struct {
	mu sync.Mutex

	cfg config.HealthConfig

	// Ring of recent outcomes, true = failed.
	window   []bool
	pos      int
	filled   int
	failures int

	level atomic.Int32

	// Statistics
	stats healthCounters

	onLevelChange func(old, new Level)
}

type healthCounters struct {
	LevelChanges   int64
	WarningCount   int64
	CriticalCount  int64
	EmergencyCount int64
}

// HealthStats holds health tracker statistics.
type HealthStats struct {
	Level          Level   `json:"-"`
	LevelName      string  `json:"level"`
	FailureRatio   float64 `json:"failure_ratio"`
	Window         int     `json:"window"`
	LevelChanges   int64   `json:"level_changes"`
	WarningCount   int64   `json:"warning_count"`
	CriticalCount  int64   `json:"critical_count"`
	EmergencyCount int64   `json:"emergency_count"`
}

// NewHealth creates a health tracker.
func NewHealth(cfg config.HealthConfig) *Health {
	if cfg.Window <= 0 {
		cfg = config.DefaultConfig().Health
	}
	return &Health{
		cfg:    cfg,
		window: make([]bool, cfg.Window),
	}
}

// SetOnLevelChange sets the callback for level changes.
// The callback runs on the recording goroutine.
func (h *Health) SetOnLevelChange(fn func(old, new Level)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onLevelChange = fn
}

// Record adds one append outcome and returns the resulting level.
func (h *Health) Record(failed bool) Level {
	h.mu.Lock()

	if h.filled == len(h.window) {
		if h.window[h.pos] {
			h.failures--
		}
	} else {
		h.filled++
	}
	h.window[h.pos] = failed
	if failed {
		h.failures++
	}
	h.pos = (h.pos + 1) % len(h.window)

	old := Level(h.level.Load())
	next := h.determineLevel(h.ratioUnlocked(), old)

	var fn func(old, new Level)
	if next != old {
		h.setLevel(next)
		fn = h.onLevelChange
	}
	h.mu.Unlock()

	if fn != nil {
		fn(old, next)
	}
	return next
}

// determineLevel applies the thresholds with hysteresis.
func (h *Health) determineLevel(ratio float64, current Level) Level {
	c := h.cfg

	// Going up
	if ratio >= c.Emergency {
		return LevelEmergency
	}
	if ratio >= c.Critical && current < LevelCritical {
		return LevelCritical
	}
	if ratio >= c.Warning && current < LevelWarning {
		return LevelWarning
	}

	// Going down, possibly several levels at once
	level := current
	for level > LevelNormal && ratio < h.threshold(level)-c.Hysteresis {
		level--
	}
	return level
}

func (h *Health) threshold(l Level) float64 {
	switch l {
	case LevelWarning:
		return h.cfg.Warning
	case LevelCritical:
		return h.cfg.Critical
	case LevelEmergency:
		return h.cfg.Emergency
	default:
		return 0
	}
}

func (h *Health) setLevel(l Level) {
	h.level.Store(int32(l))
	h.stats.LevelChanges++

	switch l {
	case LevelWarning:
		h.stats.WarningCount++
	case LevelCritical:
		h.stats.CriticalCount++
	case LevelEmergency:
		h.stats.EmergencyCount++
	}
}

func (h *Health) ratioUnlocked() float64 {
	if h.filled == 0 {
		return 0
	}
	return float64(h.failures) / float64(h.filled)
}

// Level returns the current level.
func (h *Health) Level() Level {
	return Level(h.level.Load())
}

// FailureRatio returns the failure ratio over the recorded window.
func (h *Health) FailureRatio() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ratioUnlocked()
}

// Stats returns tracker statistics.
func (h *Health) Stats() HealthStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	level := h.Level()
	return HealthStats{
		Level:          level,
		LevelName:      level.String(),
		FailureRatio:   h.ratioUnlocked(),
		Window:         h.filled,
		LevelChanges:   h.stats.LevelChanges,
		WarningCount:   h.stats.WarningCount,
		CriticalCount:  h.stats.CriticalCount,
		EmergencyCount: h.stats.EmergencyCount,
	}
}
