package policy

import (
	"sort"
	"time"

	"github.com/dokzlo13/curfewd/internal/clock"
	"github.com/dokzlo13/curfewd/internal/store"
)

// NextStart returns the first window start strictly after now, scanning
// up to eight day slots so a start earlier in the week than now is found
// on next week's pass. The second return is false when the device has no
// windows at all.
//
// Only starts are considered. A window already in progress does not
// count; the next boundary a punishment can lapse on is the start of a
// fresh allowance.
func NextStart(windows []store.Window, now time.Time) (time.Time, bool) {
	if len(windows) == 0 {
		return time.Time{}, false
	}

	byStart := make([]store.Window, len(windows))
	copy(byStart, windows)
	sort.Slice(byStart, func(i, j int) bool {
		return byStart[i].StartMin < byStart[j].StartMin
	})

	day := clock.DayOfWeek(now)
	minute := clock.MinuteOfDay(now)

	for offset := 0; offset < 8; offset++ {
		slot := (day + offset) % 7
		for _, w := range byStart {
			if w.Day != slot {
				continue
			}
			// Today's already-begun starts belong to next week's scan.
			if offset == 0 && w.StartMin <= minute {
				continue
			}
			t := time.Date(now.Year(), now.Month(), now.Day()+offset,
				w.StartMin/60, w.StartMin%60, 0, 0, now.Location())
			return t, true
		}
	}
	return time.Time{}, false
}
