package source

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	defaults "github.com/xtxerr/catwatch/config"
	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/logging"
	"github.com/xtxerr/catwatch/internal/types"
)

// emissionStep is one phase of a stepped CO profile.
type emissionStep struct {
	// until is the last step index (inclusive) of this phase.
	until      int
	coIn       float64
	efficiency float64
}

// Stepped CO profiles of the vehicle rigs. After the last phase the
// generator holds the steady state.
var (
	bikeSteps = []emissionStep{
		{2, 0.25, 0},
		{3, 2800, 85},
		{4, 3200, 88},
		{10, 3749, 92},
		{11, 2800, 90},
		{12, 1800, 88},
		{13, 1100, 86},
		{14, 800, 85},
	}
	bikeSteady = emissionStep{coIn: 0.25, efficiency: 85}

	carSteps = []emissionStep{
		{1, 2200, 88},
		{4, 2800, 90},
		{10, 2950, 92},
		{12, 2400, 90},
		{14, 1800, 88},
	}
	carSteady = emissionStep{coIn: 800, efficiency: 85}
)

// Synthetic generates demo samples for a profile.
//
// The generic generator emits random readings with reported power every
// 2s. The bike and car generators replay the stepped CO profile of the
// vehicle rigs every 8s and report voltage and current (mA) only, leaving
// power and predicted efficiency to derivation.
type Synthetic struct {
	profile  string
	interval time.Duration
	rng      *rand.Rand
	step     int

	ticker *time.Ticker
	first  bool

	done      chan struct{}
	closeOnce sync.Once

	log *slog.Logger
}

// NewSynthetic creates a generator for profile.
func NewSynthetic(profile string, cfg config.SyntheticConfig) *Synthetic {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval(profile)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	log := logging.Component("source").With("source", "synthetic:"+profile)
	log.Info("synthetic source ready", "interval", interval)

	return &Synthetic{
		profile:  profile,
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
		ticker:   time.NewTicker(interval),
		first:    true,
		done:     make(chan struct{}),
		log:      log,
	}
}

// DefaultInterval returns the demo cadence of a profile.
func DefaultInterval(profile string) time.Duration {
	switch profile {
	case "bike", "car":
		return defaults.DefaultVehicleSyntheticInterval
	default:
		return defaults.DefaultSyntheticInterval
	}
}

// Next returns a sample immediately on the first call, then one per
// interval.
func (s *Synthetic) Next(ctx context.Context) (types.RawSample, error) {
	if s.first {
		s.first = false
	} else {
		select {
		case <-ctx.Done():
			return types.RawSample{}, ctx.Err()
		case <-s.done:
			return types.RawSample{}, io.EOF
		case <-s.ticker.C:
		}
	}

	return types.RawSample{Fields: s.generate(), ReceivedAt: time.Now()}, nil
}

// generate produces the field map of the next sample.
func (s *Synthetic) generate() map[string]any {
	switch s.profile {
	case "bike":
		return s.stepped(bikeSteps, bikeSteady)
	case "car":
		return s.stepped(carSteps, carSteady)
	default:
		return s.random()
	}
}

func (s *Synthetic) random() map[string]any {
	coIn := round2(s.uniform(30, 160))
	coOut := round2(coIn - s.uniform(5, 30))
	efficiency := (coIn - coOut) / coIn * 100
	voltage := round2(s.uniform(1.5, 5))
	current := round2(s.uniform(20, 150))

	return map[string]any{
		"co_in":                coIn,
		"co_out":               coOut,
		"voltage":              voltage,
		"current":              current,
		"power":                round2(voltage * current),
		"predicted_efficiency": round2(efficiency + s.uniform(-5, 5)),
	}
}

func (s *Synthetic) stepped(steps []emissionStep, steady emissionStep) map[string]any {
	phase := steady
	for _, st := range steps {
		if s.step <= st.until {
			phase = st
			break
		}
	}
	s.step++

	return map[string]any{
		"co_in":   phase.coIn,
		"co_out":  round2(phase.coIn * (1 - phase.efficiency/100)),
		"voltage": round2(s.uniform(2.5, 3.0)),
		"current": round2(s.uniform(270, 290)),
	}
}

func (s *Synthetic) uniform(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

// Close stops the generator.
func (s *Synthetic) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.ticker.Stop()
	})
	return nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
