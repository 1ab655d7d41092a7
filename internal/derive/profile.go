package derive

import (
	"fmt"

	"github.com/xtxerr/catwatch/internal/config"
	"github.com/xtxerr/catwatch/internal/errors"
)

// PowerMode selects where a reading's power comes from.
type PowerMode string

const (
	// PowerSupplied uses the power value reported by the device.
	PowerSupplied PowerMode = "supplied"

	// PowerDerived computes voltage * current * PowerScale.
	PowerDerived PowerMode = "derived"

	// PowerAuto uses the reported value when present, else derives it.
	PowerAuto PowerMode = "auto"
)

// Profile holds the thresholds and unit conventions of one rig type.
type Profile struct {
	Name string

	// ThresholdLow is the efficiency (%) below which a reading is anomalous.
	ThresholdLow float64

	// ThresholdHigh is the co_in value above which a reading is anomalous.
	ThresholdHigh float64

	PowerMode PowerMode

	// PowerScale converts voltage*current into milliwatts.
	PowerScale float64

	// PredictedOffset is added to efficiency when the device does not
	// report a predicted efficiency.
	PredictedOffset float64
}

// ProfileFromConfig converts a configured profile.
func ProfileFromConfig(name string, c config.ProfileConfig) (Profile, error) {
	if err := c.Validate(); err != nil {
		return Profile{}, fmt.Errorf("profile %s: %w: %w", name, errors.ErrInvalidConfig, err)
	}

	return Profile{
		Name:            name,
		ThresholdLow:    c.ThresholdLow,
		ThresholdHigh:   c.ThresholdHigh,
		PowerMode:       PowerMode(c.PowerMode),
		PowerScale:      c.PowerScale,
		PredictedOffset: c.PredictedOffset,
	}, nil
}

// Lookup returns the named profile from cfg.
func Lookup(cfg *config.Config, name string) (Profile, error) {
	c, ok := cfg.Profiles[name]
	if !ok {
		return Profile{}, fmt.Errorf("%s: %w", name, errors.ErrUnknownProfile)
	}
	return ProfileFromConfig(name, c)
}

// IsAnomaly reports whether a reading breaches the profile thresholds.
func (p Profile) IsAnomaly(efficiency, coIn float64) bool {
	return efficiency < p.ThresholdLow || coIn > p.ThresholdHigh
}
