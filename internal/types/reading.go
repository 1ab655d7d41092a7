package types

import "time"

// Recommendation texts, one per anomaly state.
const (
	RecommendationAnomaly = "Clean catalytic mesh"
	RecommendationNominal = "System nominal"
)

// RawSample is a single sample as read from a Source.
// Exactly one of Fields or Payload is normally set. Err carries a frame-level
// decode failure so the parser can report it as a parse error without the
// source having to stop.
type RawSample struct {
	// Fields is an already decoded key/value record (MQTT, SNMP, synthetic).
	Fields map[string]any

	// Payload is an undecoded record, e.g. one line of JSON.
	Payload []byte

	// Err is set when the transport framed a record it could not decode.
	Err error

	// ReceivedAt is when the source handed the sample over.
	ReceivedAt time.Time
}

// Fields holds the measured values of one sample before derivation.
type Fields struct {
	COIn    float64
	COOut   float64
	Voltage float64
	Current float64
	Power   float64

	// PredictedEfficiency is only meaningful when HasPredicted is true.
	PredictedEfficiency float64

	HasPower     bool
	HasPredicted bool
}

// Reading is one derived sensor reading.
// A Reading is a value: it is never mutated after the derivation engine
// creates it.
type Reading struct {
	Timestamp           time.Time `json:"timestamp"`
	COIn                float64   `json:"co_in"`
	COOut               float64   `json:"co_out"`
	Efficiency          float64   `json:"efficiency"`
	PredictedEfficiency float64   `json:"predicted_efficiency"`
	Voltage             float64   `json:"voltage"`
	Current             float64   `json:"current"`
	Power               float64   `json:"power"` // milliwatts
	Anomaly             bool      `json:"anomaly"`
	Recommendation      string    `json:"recommendation"`
	Profile             string    `json:"profile"`
}

// History returns the reduced projection of the reading.
func (r *Reading) History() HistoryPoint {
	return HistoryPoint{
		Timestamp:  r.Timestamp,
		COIn:       r.COIn,
		COOut:      r.COOut,
		Efficiency: r.Efficiency,
		Power:      r.Power,
	}
}

// HistoryPoint is the field projection used by history charts.
type HistoryPoint struct {
	Timestamp  time.Time `json:"timestamp"`
	COIn       float64   `json:"co_in"`
	COOut      float64   `json:"co_out"`
	Efficiency float64   `json:"efficiency"`
	Power      float64   `json:"power"`
}
