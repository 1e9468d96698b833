package model

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a calendar date at midnight UTC.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Today returns the current calendar date in UTC.
func Today() time.Time {
	return Day(time.Now().UTC())
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, Invalidf("invalid date %q (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

// FormatDate renders a date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// CalendarDate is a report date. It travels on the wire as YYYY-MM-DD,
// the same layout callers send, and as null when unset.
type CalendarDate struct {
	time.Time
}

// AsDate wraps t, truncated to its calendar day.
func AsDate(t time.Time) CalendarDate {
	return CalendarDate{Time: Day(t)}
}

func (d CalendarDate) String() string { return FormatDate(d.Time) }

// MarshalJSON implements json.Marshaler.
func (d CalendarDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(FormatDate(d.Time))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *CalendarDate) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*d = CalendarDate{}
		return nil
	}
	s, err := strconv.Unquote(string(b))
	if err != nil {
		return fmt.Errorf("calendar date %s: %w", b, err)
	}
	t, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = CalendarDate{Time: t}
	return nil
}

// DaysBetween returns the number of whole calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(Day(end).Sub(Day(start)).Hours() / 24)
}

// ValidationError reports malformed caller input. It is surfaced to the
// caller as-is and no partial computation is attempted.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Invalidf returns a *ValidationError with a formatted message.
func Invalidf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
