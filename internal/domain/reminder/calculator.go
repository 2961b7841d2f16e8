package reminder

import (
	"strconv"
	"strings"
	"time"
)

// DefaultHour is used when the configured hour is empty or malformed.
const DefaultHour = "10:00"

// NextOccurrence returns the next instant a reminder is due.
//
// The candidate is today's HH:MM in now's location. When that is not strictly
// after now it moves to tomorrow. cada_2_dias then adds one more day and
// semanal six more; any other frequency adds nothing. The extra offsets are
// applied after the move to tomorrow, so the distance from now differs
// depending on whether today's slot has passed. That asymmetry is intended.
func NextOccurrence(hour string, freq Frequency, now time.Time) time.Time {
	h, m, ok := ParseHour(hour)
	if !ok {
		h, m, _ = ParseHour(DefaultHour)
	}

	y, mo, d := now.Date()
	next := time.Date(y, mo, d, h, m, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}

	switch freq {
	case FrequencyEveryOtherDay:
		next = next.AddDate(0, 0, 1)
	case FrequencyWeekly:
		next = next.AddDate(0, 0, 6)
	}
	return next
}

// ParseHour parses "H:MM" or "HH:MM" on a 24 hour clock.
func ParseHour(hour string) (h, m int, ok bool) {
	hs, ms, found := strings.Cut(strings.TrimSpace(hour), ":")
	if !found || len(hs) == 0 || len(hs) > 2 || len(ms) != 2 {
		return 0, 0, false
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	m, err = strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, false
	}
	return h, m, true
}
