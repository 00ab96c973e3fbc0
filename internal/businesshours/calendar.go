// Package businesshours converts between wall-clock time and business time for an
// entity's recurring weekly schedule.
package businesshours

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rickar/cal/v2"

	"github.com/helpdesk-sla/ticket-sla/internal/domain"
	apperrors "github.com/helpdesk-sla/ticket-sla/pkg/util"
)

// ErrNoOpenWindows is returned when a calendar has no open time at all.
var ErrNoOpenWindows = apperrors.NewDomainError(
	apperrors.CodeConfiguration,
	"business hours calendar has no open windows",
	http.StatusUnprocessableEntity,
	nil,
)

// maxClosedDays bounds how far a scan walks through consecutive closed days
// before giving up on the calendar.
const maxClosedDays = 3660

type span struct {
	start int
	end   int
}

// Calendar is a validated, immutable business calendar. Safe for concurrent use.
type Calendar struct {
	entityID string
	loc      *time.Location
	days     [7][]span
	holidays []*cal.Holiday
	weekly   int
}

// New validates a calendar definition and merges overlapping windows per weekday.
// Times are interpreted in the calendar's timezone, or fallback when none is set.
func New(def domain.BusinessHoursCalendar, fallback *time.Location) (*Calendar, error) {
	loc := fallback
	if def.Timezone != "" {
		l, err := time.LoadLocation(def.Timezone)
		if err != nil {
			return nil, apperrors.NewConfigurationError("invalid calendar timezone", map[string]any{
				"entity_id": def.EntityID,
				"timezone":  def.Timezone,
			})
		}
		loc = l
	}
	if loc == nil {
		loc = time.UTC
	}

	c := &Calendar{entityID: def.EntityID, loc: loc}

	for _, w := range def.Windows {
		if !w.Active {
			continue
		}
		if w.Day < time.Sunday || w.Day > time.Saturday {
			return nil, invalidWindow(def.EntityID, w, "day of week out of range")
		}
		if w.Start < 0 || w.End > domain.MinutesPerDay || w.Start >= w.End {
			return nil, invalidWindow(def.EntityID, w, "window must start before it ends within one day")
		}
		c.days[w.Day] = append(c.days[w.Day], span{start: int(w.Start), end: int(w.End)})
	}
	for d := range c.days {
		c.days[d] = merge(c.days[d])
		for _, s := range c.days[d] {
			c.weekly += s.end - s.start
		}
	}

	for _, h := range def.Holidays {
		if h.Month < time.January || h.Month > time.December || h.Day < 1 || h.Day > 31 {
			return nil, apperrors.NewConfigurationError("invalid holiday date", map[string]any{
				"entity_id": def.EntityID,
				"holiday":   h.Name,
			})
		}
		holiday := &cal.Holiday{
			Name:  h.Name,
			Type:  cal.ObservancePublic,
			Month: h.Month,
			Day:   h.Day,
			Func:  cal.CalcDayOfMonth,
		}
		if !h.Recurring() {
			holiday.StartYear = h.Year
			holiday.EndYear = h.Year
		}
		c.holidays = append(c.holidays, holiday)
	}

	return c, nil
}

func invalidWindow(entityID string, w domain.BusinessWindow, reason string) error {
	return apperrors.NewConfigurationError("invalid business hours window", map[string]any{
		"entity_id": entityID,
		"day":       w.Day.String(),
		"start":     w.Start.String(),
		"end":       w.End.String(),
		"reason":    reason,
	})
}

func merge(spans []span) []span {
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := []span{spans[0]}
	for _, s := range spans[1:] {
		last := &out[len(out)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		out = append(out, s)
	}
	return out
}

// EntityID returns the entity the calendar belongs to.
func (c *Calendar) EntityID() string { return c.entityID }

// Location returns the zone the calendar is evaluated in.
func (c *Calendar) Location() *time.Location { return c.loc }

// WeeklyMinutes returns the open minutes of one week, ignoring holidays.
func (c *Calendar) WeeklyMinutes() int { return c.weekly }

// IsHoliday reports whether the date of t (in the calendar's zone) is closed by a holiday.
func (c *Calendar) IsHoliday(t time.Time) bool {
	y, m, d := t.In(c.loc).Date()
	for _, h := range c.holidays {
		actual, observed := h.Calc(y)
		if sameDate(actual, y, m, d) || sameDate(observed, y, m, d) {
			return true
		}
	}
	return false
}

func sameDate(t time.Time, y int, m time.Month, d int) bool {
	if t.IsZero() {
		return false
	}
	ty, tm, td := t.Date()
	return ty == y && tm == m && td == d
}

// IsOpen reports whether t falls inside an open window.
func (c *Calendar) IsOpen(t time.Time) bool {
	t = t.In(c.loc)
	day := midnight(t, c.loc)
	if c.IsHoliday(day) {
		return false
	}
	for _, s := range c.days[day.Weekday()] {
		ws, we := c.bounds(day, s)
		if !t.Before(ws) && t.Before(we) {
			return true
		}
	}
	return false
}

// NextOpen returns t when open, otherwise the start of the next open window.
func (c *Calendar) NextOpen(t time.Time) (time.Time, error) {
	if c.weekly == 0 {
		return time.Time{}, ErrNoOpenWindows
	}
	t = t.In(c.loc)
	day := midnight(t, c.loc)
	for closed := 0; closed < maxClosedDays; day = day.AddDate(0, 0, 1) {
		open := false
		if !c.IsHoliday(day) {
			for _, s := range c.days[day.Weekday()] {
				ws, we := c.bounds(day, s)
				open = true
				if !we.After(t) {
					continue
				}
				if ws.After(t) {
					return ws, nil
				}
				return t, nil
			}
		}
		if !open {
			closed++
		}
	}
	return time.Time{}, c.exhausted()
}

// AddBusinessMinutes returns the instant reached after accumulating minutes of open time from start.
func (c *Calendar) AddBusinessMinutes(start time.Time, minutes int64) (time.Time, error) {
	return c.AddBusinessDuration(start, time.Duration(minutes)*time.Minute)
}

// AddBusinessDuration walks the calendar a day at a time, consuming each open window
// that fits in the remaining duration and landing inside the last one.
func (c *Calendar) AddBusinessDuration(start time.Time, d time.Duration) (time.Time, error) {
	if d < 0 {
		return time.Time{}, apperrors.NewValidationError("business duration must not be negative", nil)
	}
	if d == 0 {
		return start, nil
	}
	if c.weekly == 0 {
		return time.Time{}, ErrNoOpenWindows
	}

	t := start.In(c.loc)
	remaining := d
	day := midnight(t, c.loc)
	for closed := 0; closed < maxClosedDays; day = day.AddDate(0, 0, 1) {
		consumed := false
		if !c.IsHoliday(day) {
			for _, s := range c.days[day.Weekday()] {
				ws, we := c.bounds(day, s)
				if !we.After(t) {
					continue
				}
				from := ws
				if t.After(ws) {
					from = t
				}
				avail := we.Sub(from)
				if remaining <= avail {
					return from.Add(remaining), nil
				}
				remaining -= avail
				consumed = true
			}
		}
		if consumed {
			closed = 0
		} else {
			closed++
		}
	}
	return time.Time{}, c.exhausted()
}

// ElapsedBusinessMinutes returns whole open minutes between from and to.
func (c *Calendar) ElapsedBusinessMinutes(from, to time.Time) int64 {
	return int64(c.BusinessDuration(from, to) / time.Minute)
}

// BusinessDuration sums the open time between from and to. It is zero when to is not after from.
func (c *Calendar) BusinessDuration(from, to time.Time) time.Duration {
	if !to.After(from) || c.weekly == 0 {
		return 0
	}
	f := from.In(c.loc)
	e := to.In(c.loc)
	var total time.Duration
	for day := midnight(f, c.loc); day.Before(e); day = day.AddDate(0, 0, 1) {
		if c.IsHoliday(day) {
			continue
		}
		for _, s := range c.days[day.Weekday()] {
			ws, we := c.bounds(day, s)
			lo := ws
			if f.After(lo) {
				lo = f
			}
			hi := we
			if e.Before(hi) {
				hi = e
			}
			if hi.After(lo) {
				total += hi.Sub(lo)
			}
		}
	}
	return total
}

func (c *Calendar) bounds(day time.Time, s span) (time.Time, time.Time) {
	y, m, d := day.Date()
	return time.Date(y, m, d, 0, s.start, 0, 0, c.loc), time.Date(y, m, d, 0, s.end, 0, 0, c.loc)
}

func (c *Calendar) exhausted() error {
	return apperrors.NewConfigurationError(
		fmt.Sprintf("business hours calendar has no open time within %d consecutive days", maxClosedDays),
		map[string]any{"entity_id": c.entityID},
	)
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
