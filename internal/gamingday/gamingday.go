// Package gamingday resolves the gaming day an instant belongs to.
//
// A gaming day starts at an organization's cutoff time of day in the
// organization's timezone and runs until the same cutoff on the next calendar
// date. All instants from cutoff on date D up to (not including) cutoff on
// D+1, in local time, belong to gaming day D.
package gamingday

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const layout = "2006-01-02"

var (
	ErrMissingTimezone = errors.New("gaming_day_missing_timezone")
	ErrInvalidTimezone = errors.New("gaming_day_invalid_timezone")
	ErrInvalidCutoff   = errors.New("gaming_day_invalid_cutoff")
	ErrInvalidDay      = errors.New("gaming_day_invalid_day")
)

// Day is a gaming day in YYYY-MM-DD form.
type Day string

// Cutoff is the local time of day at which a gaming day starts.
// The zero value starts days at midnight UTC.
type Cutoff struct {
	Hour     int
	Minute   int
	Location *time.Location
}

// NewCutoff parses an "HH:MM" start time and an IANA timezone name.
func NewCutoff(timeOfDay, timezone string) (Cutoff, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		return Cutoff{}, ErrMissingTimezone
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return Cutoff{}, fmt.Errorf("%w: %s", ErrInvalidTimezone, timezone)
	}

	timeOfDay = strings.TrimSpace(timeOfDay)
	if timeOfDay == "" {
		timeOfDay = "00:00"
	}
	parsed, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return Cutoff{}, fmt.Errorf("%w: %s", ErrInvalidCutoff, timeOfDay)
	}

	return Cutoff{Hour: parsed.Hour(), Minute: parsed.Minute(), Location: loc}, nil
}

func (c Cutoff) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

func (c Cutoff) String() string {
	return fmt.Sprintf("%02d:%02d %s", c.Hour, c.Minute, c.location().String())
}

// Resolve returns the gaming day containing ts.
func Resolve(ts time.Time, c Cutoff) Day {
	local := ts.In(c.location())
	start := time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, c.location())
	if local.Before(start) {
		local = local.AddDate(0, 0, -1)
	}
	return FromDate(local.Year(), local.Month(), local.Day())
}

// FromDate builds a Day from calendar components.
func FromDate(year int, month time.Month, day int) Day {
	return Day(time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format(layout))
}

// ParseDay validates a YYYY-MM-DD string.
func ParseDay(raw string) (Day, error) {
	parsed, err := time.Parse(layout, strings.TrimSpace(raw))
	if err != nil {
		return "", ErrInvalidDay
	}
	return Day(parsed.Format(layout)), nil
}

func (d Day) String() string { return string(d) }

func (d Day) date() time.Time {
	parsed, err := time.Parse(layout, string(d))
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// Next returns the following gaming day.
func (d Day) Next() Day {
	return Day(d.date().AddDate(0, 0, 1).Format(layout))
}

// Prev returns the preceding gaming day.
func (d Day) Prev() Day {
	return Day(d.date().AddDate(0, 0, -1).Format(layout))
}

// Before reports whether d is earlier than other.
func (d Day) Before(other Day) bool {
	return d.date().Before(other.date())
}

// Start returns the first instant of the gaming day.
func (d Day) Start(c Cutoff) time.Time {
	date := d.date()
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, 0, 0, c.location())
}

// End returns the first instant of the next gaming day.
func (d Day) End(c Cutoff) time.Time {
	return d.Next().Start(c)
}
