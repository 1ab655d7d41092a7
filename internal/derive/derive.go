// Package derive computes efficiency, power, anomaly and recommendation
// for a parsed sample.
//
// Derivation is pure: the same fields, profile and timestamp always give
// the same Reading.
package derive

import (
	"fmt"
	"math"
	"time"

	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/types"
)

// Engine derives readings under one profile.
type Engine struct {
	profile Profile
}

// NewEngine creates a derivation engine for profile p.
func NewEngine(p Profile) *Engine {
	return &Engine{profile: p}
}

// Profile returns the active profile.
func (e *Engine) Profile() Profile {
	return e.profile
}

// Derive builds the Reading for f observed at now.
// A non-finite input or result is reported as errors.ErrDerivation.
func (e *Engine) Derive(f types.Fields, now time.Time) (types.Reading, error) {
	p := e.profile

	eff := Efficiency(f.COIn, f.COOut)

	power := f.Power
	switch p.PowerMode {
	case PowerDerived:
		power = f.Voltage * f.Current * p.PowerScale
	case PowerAuto:
		if !f.HasPower {
			power = f.Voltage * f.Current * p.PowerScale
		}
	}

	predicted := f.PredictedEfficiency
	if !f.HasPredicted {
		predicted = eff + p.PredictedOffset
	}

	r := types.Reading{
		Timestamp:           now,
		COIn:                f.COIn,
		COOut:               f.COOut,
		Efficiency:          eff,
		PredictedEfficiency: predicted,
		Voltage:             f.Voltage,
		Current:             f.Current,
		Power:               power,
		Profile:             p.Name,
	}

	if err := checkFinite(&r); err != nil {
		return types.Reading{}, err
	}

	r.Anomaly = p.IsAnomaly(eff, f.COIn)
	r.Recommendation = Recommendation(r.Anomaly)

	return r, nil
}

// Efficiency returns the percentage reduction from coIn to coOut.
// It is 0 when coIn is not positive and is never clamped.
func Efficiency(coIn, coOut float64) float64 {
	if coIn <= 0 {
		return 0
	}
	return (coIn - coOut) / coIn * 100
}

// Recommendation returns the operator advice for an anomaly state.
func Recommendation(anomaly bool) string {
	if anomaly {
		return types.RecommendationAnomaly
	}
	return types.RecommendationNominal
}

func checkFinite(r *types.Reading) error {
	values := [...]struct {
		name string
		v    float64
	}{
		{"co_in", r.COIn},
		{"co_out", r.COOut},
		{"voltage", r.Voltage},
		{"current", r.Current},
		{"efficiency", r.Efficiency},
		{"predicted_efficiency", r.PredictedEfficiency},
		{"power", r.Power},
	}

	for _, f := range values {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s is %v: %w", f.name, f.v, errors.ErrDerivation)
		}
	}
	return nil
}
