// Package calendar answers working-time questions against a fixed weekly
// schedule: Monday to Friday inside a daily window, in one fixed UTC offset.
package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Range is a half-open time range [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the range contains no instant.
func (r Range) Empty() bool {
	return !r.End.After(r.Start)
}

// Duration is the raw elapsed time of the range, never negative.
func (r Range) Duration() time.Duration {
	if r.Empty() {
		return 0
	}
	return r.End.Sub(r.Start)
}

// Intersect clips r to o. The result is empty when they do not overlap.
func (r Range) Intersect(o Range) Range {
	start := r.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := r.End
	if o.End.Before(end) {
		end = o.End
	}
	if !end.After(start) {
		return Range{}
	}
	return Range{Start: start, End: end}
}

// Calendar is the business schedule. DayStart and DayEnd are offsets from
// local midnight.
type Calendar struct {
	Location *time.Location
	DayStart time.Duration
	DayEnd   time.Duration
}

// Default is Mon-Fri 08:00-17:00 at UTC+03:00.
func Default() Calendar {
	return Calendar{
		Location: time.FixedZone("UTC+03:00", 3*60*60),
		DayStart: 8 * time.Hour,
		DayEnd:   17 * time.Hour,
	}
}

// New builds a calendar from textual settings such as "+03:00", "08:00", "17:00".
func New(utcOffset, dayStart, dayEnd string) (Calendar, error) {
	offset, err := ParseOffset(utcOffset)
	if err != nil {
		return Calendar{}, err
	}
	start, err := ParseClock(dayStart)
	if err != nil {
		return Calendar{}, fmt.Errorf("day start: %w", err)
	}
	end, err := ParseClock(dayEnd)
	if err != nil {
		return Calendar{}, fmt.Errorf("day end: %w", err)
	}
	if end <= start {
		return Calendar{}, fmt.Errorf("invalid working window %s-%s", dayStart, dayEnd)
	}
	name := "UTC" + formatOffset(offset)
	return Calendar{
		Location: time.FixedZone(name, int(offset/time.Second)),
		DayStart: start,
		DayEnd:   end,
	}, nil
}

// ParseOffset parses "+03:00", "-05:30", "+3" or "Z".
func ParseOffset(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "Z" || s == "z" {
		return 0, nil
	}
	orig := s
	sign := time.Duration(1)
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		sign = -1
		s = s[1:]
	}
	hh, mm, _ := strings.Cut(s, ":")
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 14 {
		return 0, fmt.Errorf("invalid utc offset %q", orig)
	}
	m := 0
	if mm != "" {
		m, err = strconv.Atoi(mm)
		if err != nil || m < 0 || m > 59 {
			return 0, fmt.Errorf("invalid utc offset %q", orig)
		}
	}
	return sign * (time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
}

// ParseClock parses a wall clock "HH:MM" into an offset from midnight. "24:00" is allowed.
func ParseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		if strings.TrimSpace(s) == "24:00" {
			return 24 * time.Hour, nil
		}
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatOffset(d time.Duration) string {
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	return fmt.Sprintf("%s%02d:%02d", sign, int(d.Hours()), int(d.Minutes())%60)
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// In normalizes t to the calendar zone.
func (c Calendar) In(t time.Time) time.Time {
	return t.In(c.loc())
}

// IsWorkday reports whether t falls on Monday through Friday in the calendar zone.
func (c Calendar) IsWorkday(t time.Time) bool {
	switch c.In(t).Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return true
}

// InWorkingWindow reports whether t is inside a working window on a workday.
func (c Calendar) InWorkingWindow(t time.Time) bool {
	if !c.IsWorkday(t) {
		return false
	}
	w := c.window(midnight(c.In(t)))
	return !t.Before(w.Start) && t.Before(w.End)
}

func (c Calendar) window(day time.Time) Range {
	return Range{Start: day.Add(c.DayStart), End: day.Add(c.DayEnd)}
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// WorkingTime is the part of r that falls inside working windows.
func (c Calendar) WorkingTime(r Range) time.Duration {
	if r.Empty() {
		return 0
	}
	start, end := c.In(r.Start), c.In(r.End)
	var total time.Duration
	for day := midnight(start); day.Before(end); day = day.AddDate(0, 0, 1) {
		if !c.IsWorkday(day) {
			continue
		}
		total += c.window(day).Intersect(Range{Start: start, End: end}).Duration()
	}
	return total
}

// Overlap is the working time shared by a and b.
func (c Calendar) Overlap(a, b Range) time.Duration {
	return c.WorkingTime(a.Intersect(b))
}

// OverlapMinutes is Overlap expressed in minutes.
func (c Calendar) OverlapMinutes(a, b Range) float64 {
	return c.Overlap(a, b).Minutes()
}

// ParseDate parses "YYYY-MM-DD" as local midnight in the calendar zone.
func (c Calendar) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(dateLayout, strings.TrimSpace(s), c.loc())
}

// Dates returns the range from 00:00 of start to 24:00 of end, both inclusive dates.
func (c Calendar) Dates(start, end string) (Range, error) {
	from, err := c.ParseDate(start)
	if err != nil {
		return Range{}, fmt.Errorf("invalid start date %q", start)
	}
	to, err := c.ParseDate(end)
	if err != nil {
		return Range{}, fmt.Errorf("invalid end date %q", end)
	}
	if to.Before(from) {
		return Range{}, fmt.Errorf("end %s before start %s", end, start)
	}
	return Range{Start: from, End: to.AddDate(0, 0, 1)}, nil
}
