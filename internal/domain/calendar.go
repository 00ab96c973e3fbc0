package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ClockTime is a time of day in minutes after midnight. 24:00 (1440) is a valid window end.
type ClockTime int

// MinutesPerDay bounds a ClockTime.
const MinutesPerDay = 24 * 60

// NewClockTime builds a ClockTime from hour and minute.
func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime accepts "HH:MM" or "HH:MM:SS" (seconds are ignored).
func ParseClockTime(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if hour < 0 || minute < 0 || minute > 59 || hour > 24 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("clock time %q out of range", s)
	}
	return NewClockTime(hour, minute), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockTime) UnmarshalText(text []byte) error {
	parsed, err := ParseClockTime(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// BusinessWindow is one open interval on a weekday.
type BusinessWindow struct {
	Day    time.Weekday `json:"day" yaml:"day"`
	Start  ClockTime    `json:"start" yaml:"start"`
	End    ClockTime    `json:"end" yaml:"end"`
	Active bool         `json:"active" yaml:"active"`
}

// Minutes returns the open length of the window.
func (w BusinessWindow) Minutes() int {
	if w.End <= w.Start {
		return 0
	}
	return int(w.End - w.Start)
}

// Holiday closes a whole date. A zero Year repeats every year.
type Holiday struct {
	Name  string     `json:"name" yaml:"name"`
	Month time.Month `json:"month" yaml:"month"`
	Day   int        `json:"day" yaml:"day"`
	Year  int        `json:"year,omitempty" yaml:"year,omitempty"`
}

// Recurring reports whether the holiday repeats annually.
func (h Holiday) Recurring() bool {
	return h.Year == 0
}

// BusinessHoursCalendar is an entity's recurring weekly schedule.
type BusinessHoursCalendar struct {
	EntityID string           `json:"entity_id" yaml:"entity_id"`
	Timezone string           `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Windows  []BusinessWindow `json:"windows" yaml:"windows"`
	Holidays []Holiday        `json:"holidays,omitempty" yaml:"holidays,omitempty"`
}

// OpenWindowCount returns the number of active windows with positive length.
func (c BusinessHoursCalendar) OpenWindowCount() int {
	n := 0
	for _, w := range c.Windows {
		if w.Active && w.Minutes() > 0 {
			n++
		}
	}
	return n
}
