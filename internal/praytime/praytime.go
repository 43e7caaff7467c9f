// Package praytime defines the interfaces to the prayer-time calculation
// collaborators. The astronomical calculation itself is external; this
// package only specifies its boundary and provides a config-backed
// implementation for fixed daily times.
package praytime

import (
	"context"
	"time"

	"salahguard/internal/core"
)

// Location is a device location fix
type Location struct {
	Latitude  float64
	Longitude float64
}

// PrayerTime is one scheduled prayer occurrence
type PrayerTime struct {
	Name        core.PrayerName
	Time        time.Time
	RakaatCount int
}

// LocationProvider supplies the last known device location. A nil location
// with a nil error means "no fix yet"; callers skip the scheduling cycle
// rather than treating it as an error.
type LocationProvider interface {
	LastLocation(ctx context.Context) (*Location, error)
}

// Calculator computes the ordered prayer times for a location and the
// current date. An empty result means "skip scheduling this cycle."
type Calculator interface {
	CalculatePrayerTimes(ctx context.Context, loc *Location, forceRecalculate bool) ([]PrayerTime, error)
}

// StaticLocation is a LocationProvider pinned to one configured location
type StaticLocation struct {
	Loc Location
}

// LastLocation returns the configured location
func (s *StaticLocation) LastLocation(ctx context.Context) (*Location, error) {
	return &s.Loc, nil
}

// FixedCalculator produces prayer times from configured "HH:MM" wall-clock
// values in a fixed timezone. It stands in for the astronomical calculator
// and keeps its contract: ordered results, empty slice when unconfigured.
type FixedCalculator struct {
	Times    map[core.PrayerName]string // "HH:MM" per prayer
	Timezone *time.Location
	Now      func() time.Time
}

// CalculatePrayerTimes returns today's prayer times in chronological order
func (c *FixedCalculator) CalculatePrayerTimes(ctx context.Context, loc *Location, forceRecalculate bool) ([]PrayerTime, error) {
	if len(c.Times) == 0 {
		return nil, nil
	}

	tz := c.Timezone
	if tz == nil {
		tz = time.UTC
	}
	nowFn := c.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	now := nowFn().In(tz)

	var result []PrayerTime
	for _, name := range core.OrderedPrayers {
		value, ok := c.Times[name]
		if !ok {
			continue
		}
		parsed, err := time.Parse("15:04", value)
		if err != nil {
			continue
		}
		at := time.Date(now.Year(), now.Month(), now.Day(),
			parsed.Hour(), parsed.Minute(), 0, 0, tz)
		result = append(result, PrayerTime{
			Name:        name,
			Time:        at,
			RakaatCount: core.DefaultRakaat[name],
		})
	}

	return result, nil
}
