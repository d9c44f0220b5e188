// Package clock supplies zone-aware civil time for schedule evaluation.
// All day-of-week and minute-of-day arithmetic in the daemon runs on
// instants produced here, so the configured zone's rules (including DST
// transitions) apply uniformly.
package clock

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Clock yields the current instant, already localized to the managed zone.
type Clock interface {
	Now() time.Time
}

// Zone is a Clock bound to a fixed IANA time zone.
type Zone struct {
	loc *time.Location
}

// NewZone loads the named IANA zone. An empty or unknown name falls back
// to UTC with a warning, matching how the rest of the daemon degrades.
func NewZone(name string) *Zone {
	if name == "" {
		return &Zone{loc: time.UTC}
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Warn().Err(err).Str("timezone", name).Msg("Failed to load timezone, using UTC")
		loc = time.UTC
	}
	return &Zone{loc: loc}
}

// Now returns the current instant in the zone.
func (z *Zone) Now() time.Time {
	return time.Now().In(z.loc)
}

// Location returns the underlying time.Location.
func (z *Zone) Location() *time.Location {
	return z.loc
}

// DayOfWeek returns t's day index with Monday = 0 through Sunday = 6.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

// MinuteOfDay returns t's wall-clock minute within its day, 0..1439.
// Comparisons against schedule windows happen at minute granularity so a
// window boundary never flickers on sub-minute offsets.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}
