package schedule

import (
	"fmt"
	"time"
)

// Date is a civil calendar date: a plain (year, month, day) value with no
// time-of-day and no timezone. Appointment dates are stored and compared as
// Date values so that a date serialized through a UTC wire format can never
// shift by a day for processes running behind UTC.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf truncates t to the civil date in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current civil date in loc.
func Today(now time.Time, loc *time.Location) Date {
	return DateOf(now.In(loc))
}

// ParseDate parses a YYYY-MM-DD string. The location used for parsing is
// irrelevant since only the date components are kept.
func ParseDate(s string) (Date, error) {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// UTC returns midnight UTC on d, the canonical storage representation.
func (d Date) UTC() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// At returns the wall-clock instant for hour:min on d in loc.
func (d Date) At(hour, min int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, min, 0, 0, loc)
}

func (d Date) Weekday() time.Weekday {
	return d.UTC().Weekday()
}

func (d Date) AddDays(n int) Date {
	return DateOf(d.UTC().AddDate(0, 0, n))
}

func (d Date) Before(o Date) bool {
	return d.UTC().Before(o.UTC())
}

func (d Date) After(o Date) bool {
	return d.UTC().After(o.UTC())
}

func (d Date) IsZero() bool {
	return d == Date{}
}
