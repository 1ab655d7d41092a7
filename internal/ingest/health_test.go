package ingest

import (
	"testing"

	"github.com/xtxerr/catwatch/internal/config"
)

func testHealthConfig() config.HealthConfig {
	return config.HealthConfig{
		Window:     10,
		Warning:    0.1,
		Critical:   0.3,
		Emergency:  0.6,
		Hysteresis: 0.05,
	}
}

func TestHealthLevels(t *testing.T) {
	h := NewHealth(testHealthConfig())

	for i := 0; i < 10; i++ {
		h.Record(false)
	}
	if h.Level() != LevelNormal {
		t.Fatalf("expected normal, got %s", h.Level())
	}

	// 1/10 failures crosses warning.
	if got := h.Record(true); got != LevelWarning {
		t.Fatalf("expected warning, got %s", got)
	}

	h.Record(true)
	if got := h.Record(true); got != LevelCritical {
		t.Fatalf("expected critical at 3/10, got %s", got)
	}

	h.Record(true)
	h.Record(true)
	if got := h.Record(true); got != LevelEmergency {
		t.Fatalf("expected emergency at 6/10, got %s", got)
	}
}

func TestHealthHysteresis(t *testing.T) {
	h := NewHealth(testHealthConfig())

	// 3 failures in 10: critical.
	for i := 0; i < 7; i++ {
		h.Record(false)
	}
	for i := 0; i < 3; i++ {
		h.Record(true)
	}
	if h.Level() != LevelCritical {
		t.Fatalf("expected critical, got %s", h.Level())
	}

	// Push the initial successes out of the window.
	h.Record(false)
	h.Record(false)
	h.Record(false)
	h.Record(false)
	h.Record(false)
	h.Record(false)
	h.Record(false)
	if h.FailureRatio() != 0.3 {
		t.Fatalf("expected ratio 0.3, got %v", h.FailureRatio())
	}
	if h.Level() != LevelCritical {
		t.Fatalf("expected critical to hold, got %s", h.Level())
	}

	// Drop to 2/10.
	if got := h.Record(false); got != LevelWarning {
		t.Fatalf("expected warning at 0.2, got %s", got)
	}

	// 0.1 is not below warning - hysteresis, so warning holds.
	h.Record(false)
	if h.Level() != LevelWarning {
		t.Fatalf("expected warning to hold at 0.1, got %s", h.Level())
	}

	// 0 is.
	if got := h.Record(false); got != LevelNormal {
		t.Fatalf("expected normal, got %s", got)
	}
}

func TestHealthFallsSeveralLevels(t *testing.T) {
	cfg := testHealthConfig()
	cfg.Window = 4
	h := NewHealth(cfg)

	for i := 0; i < 4; i++ {
		h.Record(true)
	}
	if h.Level() != LevelEmergency {
		t.Fatalf("expected emergency, got %s", h.Level())
	}

	for i := 0; i < 4; i++ {
		h.Record(false)
	}
	if h.Level() != LevelNormal {
		t.Errorf("expected normal after a clean window, got %s", h.Level())
	}
}

func TestHealthCallback(t *testing.T) {
	h := NewHealth(testHealthConfig())

	var changes [][2]Level
	h.SetOnLevelChange(func(old, new Level) {
		changes = append(changes, [2]Level{old, new})
		// The lock is released before the callback runs.
		_ = h.Stats()
	})

	h.Record(true)
	h.Record(false)

	if len(changes) == 0 {
		t.Fatal("expected a level change callback")
	}
	if changes[0] != [2]Level{LevelNormal, LevelEmergency} {
		t.Errorf("unexpected first change %v", changes[0])
	}

	stats := h.Stats()
	if stats.LevelChanges != int64(len(changes)) {
		t.Errorf("expected %d level changes, got %d", len(changes), stats.LevelChanges)
	}
	if stats.Window != 2 {
		t.Errorf("expected window 2, got %d", stats.Window)
	}
}

func TestHealthZeroConfigUsesDefaults(t *testing.T) {
	h := NewHealth(config.HealthConfig{})
	if got := h.Record(false); got != LevelNormal {
		t.Errorf("expected normal, got %s", got)
	}
	if h.Stats().LevelName != "normal" {
		t.Errorf("unexpected level name %q", h.Stats().LevelName)
	}
}
