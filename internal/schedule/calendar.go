package schedule

import (
	"errors"
	"time"
)

var (
	ErrPastDate      = errors.New("date is in the past")
	ErrTooFarAhead   = errors.New("date is beyond the booking window")
	ErrWeekdayClosed = errors.New("clinic is closed on this weekday")
	ErrPublicHoliday = errors.New("date is a public holiday")
)

// Policy decides which calendar dates accept bookings. It covers the static
// rules only (past date, lookahead window, weekday, fixed annual holidays);
// admin-entered holiday rows are checked by the caller against storage.
type Policy struct {
	Weekdays      map[time.Weekday]bool
	LookaheadDays int
	Location      *time.Location
}

// Today returns the current civil date under the policy's clock location.
func (p Policy) Today(now time.Time) Date {
	return Today(now, p.Location)
}

// CheckDate reports why d is not bookable as of now, or nil if it is.
// All comparisons are on civil dates, never on shifted instants.
func (p Policy) CheckDate(now time.Time, d Date) error {
	today := p.Today(now)
	if d.Before(today) {
		return ErrPastDate
	}
	if d.After(today.AddDays(p.LookaheadDays)) {
		return ErrTooFarAhead
	}
	if !p.Weekdays[d.Weekday()] {
		return ErrWeekdayClosed
	}
	if _, ok := PublicHoliday(d); ok {
		return ErrPublicHoliday
	}
	return nil
}

// fixedHoliday is an institution-wide holiday that falls on the same
// calendar day every year.
type fixedHoliday struct {
	Month time.Month
	Day   int
	Name  string
}

// Fixed-date national holidays. Moveable (lunar) holidays are administered
// through official_holidays rows instead, since they cannot be computed from
// the calendar year alone.
var fixedHolidays = []fixedHoliday{
	{time.February, 5, "Kashmir Day"},
	{time.March, 23, "Pakistan Day"},
	{time.May, 1, "Labour Day"},
	{time.August, 14, "Independence Day"},
	{time.November, 9, "Iqbal Day"},
	{time.December, 25, "Quaid-e-Azam Day"},
}

// PublicHoliday reports whether d falls on a fixed annual holiday.
func PublicHoliday(d Date) (string, bool) {
	for _, h := range fixedHolidays {
		if d.Month == h.Month && d.Day == h.Day {
			return h.Name, true
		}
	}
	return "", false
}

// PublicHolidays lists the fixed holidays for one calendar year.
func PublicHolidays(year int) []Date {
	out := make([]Date, 0, len(fixedHolidays))
	for _, h := range fixedHolidays {
		out = append(out, Date{Year: year, Month: h.Month, Day: h.Day})
	}
	return out
}

// ParseWeekdays converts a comma-separated list of day names ("Mon,Tue,...")
// into a weekday set.
func ParseWeekdays(s string) (map[time.Weekday]bool, error) {
	names := map[string]time.Weekday{
		"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
		"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
		"sat": time.Saturday,
	}
	set := make(map[time.Weekday]bool)
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			token := normalizeDay(s[start:i])
			start = i + 1
			if token == "" {
				continue
			}
			wd, ok := names[token]
			if !ok {
				return nil, errors.New("unknown weekday " + token)
			}
			set[wd] = true
		}
	}
	if len(set) == 0 {
		return nil, errors.New("weekday set is empty")
	}
	return set, nil
}

func normalizeDay(s string) string {
	trimmed := make([]byte, 0, 3)
	for i := 0; i < len(s) && len(trimmed) < 3; i++ {
		c := s[i]
		if c == ' ' || c == '\t' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		trimmed = append(trimmed, c)
	}
	return string(trimmed)
}
