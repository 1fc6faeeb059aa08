package fleet

import (
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// PrimedWindow is a time-of-day range during which primed capacity is
// maintained. Start and end are "HH:MM" clock times; an end before the start
// denotes a window wrapping past midnight. Both empty means always active.
type PrimedWindow struct {
	Start string
	End   string
	// Days restricts the window to specific weekdays, empty = every day
	Days []time.Weekday
}

// ActiveAt reports whether now falls inside the window. Malformed clock
// strings make the window inactive rather than failing: the safe direction is
// to not provision extra capacity.
func (w PrimedWindow) ActiveAt(now time.Time) bool {
	if len(w.Days) > 0 && !lo.Contains(w.Days, now.Weekday()) {
		return false
	}

	startStr, endStr := strings.TrimSpace(w.Start), strings.TrimSpace(w.End)
	if startStr == "" && endStr == "" {
		return true
	}

	start, ok := parseClock(startStr)
	if !ok {
		return false
	}
	end, ok := parseClock(endStr)
	if !ok {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()

	if end < start {
		// The window wraps past midnight: shift whichever bound puts the
		// current time inside a contiguous range.
		if minutes < start {
			start -= 24 * 60
		} else {
			end += 24 * 60
		}
	}

	// Half-open interval, so that e.g. 09:00-17:00 excludes 17:00 itself
	return minutes >= start && minutes < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, bool) {
	hh, mm, found := strings.Cut(s, ":")
	if !found {
		return 0, false
	}
	hour, err := strconv.Atoi(hh)
	if err != nil {
		return 0, false
	}
	minute, err := strconv.Atoi(mm)
	if err != nil {
		return 0, false
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}
