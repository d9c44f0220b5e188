// Package policy resolves the desired state of a managed port from the
// override and schedule records in force at a given instant. Resolution
// is a pure function: no I/O, no clock reads, total over every input.
package policy

import (
	"time"

	"github.com/dokzlo13/curfewd/internal/clock"
	"github.com/dokzlo13/curfewd/internal/store"
)

// Reason explains which rule produced a decision.
type Reason string

const (
	ReasonPunishment      Reason = "punishment"
	ReasonTempAccess      Reason = "temp_access"
	ReasonScheduleMatch   Reason = "schedule_match"
	ReasonScheduleNoMatch Reason = "schedule_no_match"
	ReasonDefault         Reason = "default"
)

// Decision is the resolved desired state for one port.
type Decision struct {
	Enabled bool
	Reason  Reason
}

// Snapshot carries everything the rules may consult for one device.
// Overrides may be nil or stale; the rules evaluate activity against
// the instant they are given, never against stored flags alone.
type Snapshot struct {
	Punishment *store.Punishment
	Grant      *store.Grant
	Windows    []store.Window
}

// rule inspects the snapshot and either claims the decision or passes.
type rule func(s Snapshot, now time.Time) *Decision

// Evaluation order is the override hierarchy: punishment beats temporary
// access beats the weekly schedule. The first rule to decide wins.
var rules = []rule{punishmentRule, tempAccessRule, scheduleRule}

// Decide resolves the snapshot at the given instant. When no rule claims
// the decision the port defaults to enabled.
func Decide(s Snapshot, now time.Time) Decision {
	for _, r := range rules {
		if d := r(s, now); d != nil {
			return *d
		}
	}
	return Decision{Enabled: true, Reason: ReasonDefault}
}

func punishmentRule(s Snapshot, now time.Time) *Decision {
	if !s.Punishment.ActiveAt(now) {
		return nil
	}
	return &Decision{Enabled: false, Reason: ReasonPunishment}
}

func tempAccessRule(s Snapshot, now time.Time) *Decision {
	if !s.Grant.ActiveAt(now) {
		return nil
	}
	return &Decision{Enabled: true, Reason: ReasonTempAccess}
}

// scheduleRule decides only when at least one window exists: a device
// with an empty schedule falls through to the default instead of being
// locked out.
func scheduleRule(s Snapshot, now time.Time) *Decision {
	if len(s.Windows) == 0 {
		return nil
	}
	day := clock.DayOfWeek(now)
	minute := clock.MinuteOfDay(now)
	for _, w := range s.Windows {
		if windowMatches(w, day, minute) {
			return &Decision{Enabled: true, Reason: ReasonScheduleMatch}
		}
	}
	return &Decision{Enabled: false, Reason: ReasonScheduleNoMatch}
}

// windowMatches reports whether the window covers the given day and
// minute. Both bounds are inclusive; an empty or inverted window never
// matches.
func windowMatches(w store.Window, day, minute int) bool {
	if w.Day != day || w.StartMin >= w.EndMin {
		return false
	}
	return w.StartMin <= minute && minute <= w.EndMin
}
