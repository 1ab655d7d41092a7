package stats

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/catwatch/internal/types"
)

// sketchAccuracy is the relative accuracy of the efficiency percentiles.
const sketchAccuracy = 0.01

// DailyStats summarizes the readings of one calendar day.
// Every field is zero for a day without readings.
type DailyStats struct {
	Date             string  `json:"date"`
	MaxCOIn          float64 `json:"max_co_in"`
	AvgEfficiency    float64 `json:"avg_efficiency"`
	TotalEnergyWatts float64 `json:"total_energy"`
	AnomalyCount     int64   `json:"anomaly_count"`
	Count            int64   `json:"count"`
	EfficiencyP50    float64 `json:"efficiency_p50"`
	EfficiencyP95    float64 `json:"efficiency_p95"`
}

// Aggregate maintains running statistics over a set of readings.
// It is not safe for concurrent use.
type Aggregate struct {
	count      int64
	anomalies  int64
	sumEff     float64
	sumPowerMw float64
	maxCOIn    float64

	// sketch is nil if the sketch could not be created.
	sketch *ddsketch.DDSketch
}

// NewAggregate creates an empty aggregate.
func NewAggregate() *Aggregate {
	a := &Aggregate{maxCOIn: -math.MaxFloat64}
	if sketch, err := ddsketch.NewDefaultDDSketch(sketchAccuracy); err == nil {
		a.sketch = sketch
	}
	return a
}

// Add adds a reading.
func (a *Aggregate) Add(r types.Reading) {
	a.count++
	a.sumEff += r.Efficiency
	a.sumPowerMw += r.Power
	if r.COIn > a.maxCOIn {
		a.maxCOIn = r.COIn
	}
	if r.Anomaly {
		a.anomalies++
	}

	if a.sketch != nil {
		// Add only fails for values the sketch cannot index, which
		// derivation already rejects.
		_ = a.sketch.Add(r.Efficiency)
	}
}

// Result returns the statistics of the readings added so far.
func (a *Aggregate) Result() DailyStats {
	var s DailyStats
	if a.count == 0 {
		return s
	}

	s.Count = a.count
	s.MaxCOIn = a.maxCOIn
	s.AvgEfficiency = a.sumEff / float64(a.count)
	s.TotalEnergyWatts = a.sumPowerMw / 1000
	s.AnomalyCount = a.anomalies

	if a.sketch != nil {
		s.EfficiencyP50, _ = a.sketch.GetValueAtQuantile(0.50)
		s.EfficiencyP95, _ = a.sketch.GetValueAtQuantile(0.95)
	}
	return s
}
