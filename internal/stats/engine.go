// Package stats computes read-side views over the reading log: daily
// aggregates, chart history, the composite health score and CSV export.
//
// Every query is a pure read of the store. Calling the same query twice
// without an intervening append returns identical results.
package stats

import (
	"fmt"
	"math"
	"time"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/errors"
	"github.com/xtxerr/catwatch/internal/types"
)

// Reader is the read side of the reading store.
type Reader interface {
	Window(n int) []types.Reading
	Since(t time.Time) []types.Reading
	OnDay(day time.Time, loc *time.Location) []types.Reading
}

// Engine answers aggregate queries over a Reader.
type Engine struct {
	store Reader

	// loc defines the calendar day for every day-based query.
	loc *time.Location
}

// NewEngine creates an engine. A nil loc means UTC.
func NewEngine(store Reader, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: store, loc: loc}
}

// Location returns the location that defines calendar days.
func (e *Engine) Location() *time.Location {
	return e.loc
}

// Today returns the current calendar day.
func (e *Engine) Today() time.Time {
	return time.Now().In(e.loc)
}

// ParseDay parses a YYYY-MM-DD date in the engine's location.
func (e *Engine) ParseDay(s string) (time.Time, error) {
	day, err := time.ParseInLocation(time.DateOnly, s, e.loc)
	if err != nil {
		return time.Time{}, errors.NewInvalidRequest("date", s, "expected YYYY-MM-DD")
	}
	return day, nil
}

// DailyStats aggregates the readings on the calendar day containing day.
func (e *Engine) DailyStats(day time.Time) DailyStats {
	agg := NewAggregate()
	for _, r := range e.store.OnDay(day, e.loc) {
		agg.Add(r)
	}

	s := agg.Result()
	s.Date = day.In(e.loc).Format(time.DateOnly)
	return s
}

// History returns the last limit readings as chart points, oldest first.
// A zero limit selects the default of 50.
func (e *Engine) History(limit int) ([]types.HistoryPoint, error) {
	if limit == 0 {
		limit = defaults.DefaultHistoryLimit
	}
	if limit < 0 {
		return nil, errors.NewInvalidRequest("limit", limit, "must be positive")
	}

	readings := e.store.Window(limit)
	points := make([]types.HistoryPoint, len(readings))
	for i := range readings {
		points[i] = readings[i].History()
	}
	return points, nil
}

// ExportRange returns the readings with timestamp >= since, oldest first.
func (e *Engine) ExportRange(since time.Time) []types.Reading {
	return e.store.Since(since)
}

// =============================================================================
// Health Score
// =============================================================================

// Health status buckets.
const (
	StatusExcellent = "excellent"
	StatusGood      = "good"
	StatusWarning   = "warning"
	StatusCritical  = "critical"
	StatusNoData    = "no_data"
)

// HealthScore is the composite 0-100 score over recent readings.
type HealthScore struct {
	Score         float64 `json:"health_score"`
	Status        string  `json:"status"`
	AvgEfficiency float64 `json:"avg_efficiency"`

	// AnomalyRatio is the anomalous share of the window in [0,1].
	AnomalyRatio float64 `json:"anomaly_ratio"`

	AvgPower float64 `json:"avg_power"`
	Readings int     `json:"readings"`
}

// HealthScore scores the most recent window readings, or all of them when
// the store holds fewer.
//
//	score = clamp(0, 100, avg_eff*0.6 + (1-anomaly_ratio)*30 + min(avg_power/100, 1)*10)
//
// avg_power is the mean of the stored power values.
func (e *Engine) HealthScore(window int) (HealthScore, error) {
	if window == 0 {
		window = defaults.DefaultHealthWindow
	}
	if window < 0 {
		return HealthScore{}, errors.NewInvalidRequest("window", window, "must be positive")
	}

	readings := e.store.Window(window)
	if len(readings) == 0 {
		return HealthScore{Status: StatusNoData}, nil
	}

	var sumEff, sumPower float64
	var anomalies int
	for _, r := range readings {
		sumEff += r.Efficiency
		sumPower += r.Power
		if r.Anomaly {
			anomalies++
		}
	}

	n := float64(len(readings))
	h := HealthScore{
		AvgEfficiency: sumEff / n,
		AnomalyRatio:  float64(anomalies) / n,
		AvgPower:      sumPower / n,
		Readings:      len(readings),
	}

	score := h.AvgEfficiency*0.6 + (1-h.AnomalyRatio)*30 + math.Min(h.AvgPower/100, 1)*10
	h.Score = math.Max(0, math.Min(100, score))
	h.Status = Status(h.Score)

	if math.IsNaN(h.Score) {
		return HealthScore{}, fmt.Errorf("health score is NaN: %w", errors.ErrQuery)
	}
	return h, nil
}

// Status returns the bucket of a health score.
func Status(score float64) string {
	switch {
	case score >= 80:
		return StatusExcellent
	case score >= 60:
		return StatusGood
	case score >= 40:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// Round rounds v to places decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
