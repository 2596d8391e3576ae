package conflict

import (
	"fmt"
	"strconv"
	"strings"

	"conservatory/pkg/domain"
)

// ParseClock converts an "HH:MM" wall-clock time into minutes after midnight.
// "24:00" is accepted as the end of day.
func ParseClock(value string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, fmt.Errorf("invalid time %q: expected HH:MM", value)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("invalid hour in %q: %w", value, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("invalid minute in %q: %w", value, err)
	}
	if h < 0 || m < 0 || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("time %q out of range", value)
	}
	return h*60 + m, nil
}

// interval is a half-open [start, end) range in minutes.
type interval struct {
	start int
	end   int
}

func parseInterval(start, end string) (interval, bool) {
	s, err := ParseClock(start)
	if err != nil {
		return interval{}, false
	}
	e, err := ParseClock(end)
	if err != nil {
		return interval{}, false
	}
	if e <= s {
		return interval{}, false
	}
	return interval{start: s, end: e}, true
}

func (a interval) overlaps(b interval) bool {
	return a.start < b.end && b.start < a.end
}

// ValidateBlock reports malformed slots so callers can reject them before
// they reach the conflict checks, which treat them as never overlapping.
func ValidateBlock(b domain.TimeBlock) error {
	if b.DayOfWeek < 0 || b.DayOfWeek > 6 {
		return fmt.Errorf("day of week %d out of range 0-6", b.DayOfWeek)
	}
	s, err := ParseClock(b.StartTime)
	if err != nil {
		return err
	}
	e, err := ParseClock(b.EndTime)
	if err != nil {
		return err
	}
	if e <= s {
		return fmt.Errorf("slot %s-%s ends before it starts", b.StartTime, b.EndTime)
	}
	return nil
}
