package derive

import (
	"math"
	"testing"
	"time"

	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/types"
)

func builtin(t *testing.T, name string) Profile {
	t.Helper()
	p, err := Lookup(config.DefaultConfig(), name)
	if err != nil {
		t.Fatalf("Lookup(%s): %v", name, err)
	}
	return p
}

func TestDeriveScenario(t *testing.T) {
	e := NewEngine(builtin(t, "generic"))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	f := types.Fields{COIn: 100, COOut: 80, Voltage: 3, Current: 280, Power: 840, HasPower: true}
	r, err := e.Derive(f, now)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	if r.Efficiency != 20 {
		t.Errorf("efficiency: expected 20, got %v", r.Efficiency)
	}
	if !r.Anomaly {
		t.Error("expected anomaly below threshold 25")
	}
	if r.Recommendation != types.RecommendationAnomaly {
		t.Errorf("recommendation: got %q", r.Recommendation)
	}
	if r.Power != 840 {
		t.Errorf("power: expected supplied 840, got %v", r.Power)
	}
	if r.PredictedEfficiency != 20 {
		t.Errorf("predicted: expected 20, got %v", r.PredictedEfficiency)
	}
	if !r.Timestamp.Equal(now) {
		t.Errorf("timestamp: expected %v, got %v", now, r.Timestamp)
	}
	if r.Profile != "generic" {
		t.Errorf("profile: got %q", r.Profile)
	}
}

func TestEfficiencyZeroCOIn(t *testing.T) {
	for _, coIn := range []float64{0, -1} {
		if got := Efficiency(coIn, 50); got != 0 {
			t.Errorf("Efficiency(%v, 50) = %v, want 0", coIn, got)
		}
	}

	// Not clamped.
	if got := Efficiency(50, 100); got != -100 {
		t.Errorf("Efficiency(50, 100) = %v, want -100", got)
	}
}

func TestAnomalyRule(t *testing.T) {
	p := Profile{ThresholdLow: 25, ThresholdHigh: 140, PowerMode: PowerAuto, PowerScale: 1}
	e := NewEngine(p)

	tests := []struct {
		name  string
		coIn  float64
		coOut float64
		want  bool
	}{
		{"nominal", 100, 50, false},
		{"low efficiency", 100, 80, true},
		{"at low threshold", 100, 75, false},
		{"high co_in", 150, 10, true},
		{"at high threshold", 140, 10, false},
		{"zero co_in", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := e.Derive(types.Fields{COIn: tt.coIn, COOut: tt.coOut}, time.Now())
			if err != nil {
				t.Fatalf("Derive: %v", err)
			}
			if r.Anomaly != tt.want {
				t.Errorf("anomaly = %v, want %v (efficiency %v)", r.Anomaly, tt.want, r.Efficiency)
			}
			want := r.Efficiency < p.ThresholdLow || r.COIn > p.ThresholdHigh
			if r.Anomaly != want {
				t.Error("anomaly disagrees with threshold rule")
			}
		})
	}
}

func TestPowerModes(t *testing.T) {
	f := types.Fields{Voltage: 3.7, Current: 200}
	supplied := f
	supplied.Power = 999
	supplied.HasPower = true

	tests := []struct {
		name   string
		mode   PowerMode
		scale  float64
		fields types.Fields
		want   float64
	}{
		{"auto uses supplied", PowerAuto, 1, supplied, 999},
		{"auto derives when missing", PowerAuto, 1, f, 740},
		{"derived ignores supplied", PowerDerived, 1, supplied, 740},
		{"derived scales amps to mW", PowerDerived, 1000, types.Fields{Voltage: 2, Current: 0.5}, 1000},
		{"supplied missing is zero", PowerSupplied, 1, f, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(Profile{PowerMode: tt.mode, PowerScale: tt.scale})
			r, err := e.Derive(tt.fields, time.Now())
			if err != nil {
				t.Fatalf("Derive: %v", err)
			}
			if math.Abs(r.Power-tt.want) > 1e-9 {
				t.Errorf("power = %v, want %v", r.Power, tt.want)
			}
		})
	}
}

func TestVehicleProfiles(t *testing.T) {
	for _, name := range []string{"bike", "car"} {
		e := NewEngine(builtin(t, name))

		r, err := e.Derive(types.Fields{COIn: 1000, COOut: 300, Voltage: 3.3, Current: 100}, time.Now())
		if err != nil {
			t.Fatalf("%s: Derive: %v", name, err)
		}

		if math.Abs(r.Efficiency-70) > 1e-9 {
			t.Errorf("%s: efficiency = %v, want 70", name, r.Efficiency)
		}
		if math.Abs(r.PredictedEfficiency-71.2) > 1e-9 {
			t.Errorf("%s: predicted = %v, want 71.2", name, r.PredictedEfficiency)
		}
		if math.Abs(r.Power-330) > 1e-9 {
			t.Errorf("%s: power = %v, want 330 mW", name, r.Power)
		}
		if r.Anomaly {
			t.Errorf("%s: unexpected anomaly", name)
		}
	}
}

func TestSuppliedPredictedEfficiency(t *testing.T) {
	e := NewEngine(builtin(t, "bike"))

	r, err := e.Derive(types.Fields{COIn: 100, COOut: 40, PredictedEfficiency: 55, HasPredicted: true}, time.Now())
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if r.PredictedEfficiency != 55 {
		t.Errorf("predicted = %v, want supplied 55", r.PredictedEfficiency)
	}
}

func TestDeriveNonFinite(t *testing.T) {
	e := NewEngine(builtin(t, "generic"))

	inputs := []types.Fields{
		{COIn: math.NaN()},
		{COIn: 10, COOut: math.Inf(1)},
		{Voltage: math.MaxFloat64, Current: math.MaxFloat64},
	}

	for _, f := range inputs {
		_, err := e.Derive(f, time.Now())
		if !errors.Is(err, errors.ErrDerivation) {
			t.Errorf("Derive(%+v): expected ErrDerivation, got %v", f, err)
		}
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup(config.DefaultConfig(), "truck")
	if !errors.Is(err, errors.ErrUnknownProfile) {
		t.Errorf("expected ErrUnknownProfile, got %v", err)
	}
}
