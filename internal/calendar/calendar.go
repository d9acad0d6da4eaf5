package calendar

import (
	"fmt"
	"iter"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// Weekday is a calendar weekday numbered Monday=1 .. Sunday=7.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var (
	weekdayNames = [...]string{"", "MON", "TUE", "WED", "THU", "FRI", "SAT", "SUN"}
	fullNames    = [...]string{"", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
)

// Workweek is Monday through Friday.
var Workweek = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday}

// FullWeek is every day of the week.
var FullWeek = []Weekday{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

func (d Weekday) String() string {
	if d < Monday || d > Sunday {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayNames[d]
}

func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

func (d Weekday) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid weekday %d", int(d))
	}
	return []byte(d.String()), nil
}

func (d *Weekday) UnmarshalText(b []byte) error {
	w, err := ParseWeekday(string(b))
	if err != nil {
		return err
	}
	*d = w
	return nil
}

func fromTime(w time.Weekday) Weekday {
	if w == time.Sunday {
		return Sunday
	}
	return Weekday(w)
}

// InvalidDateError reports a malformed date or an out-of-range year/month.
type InvalidDateError struct {
	Input  string
	Reason string
}

func (e InvalidDateError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("invalid date %q", e.Input)
	}
	return fmt.Sprintf("invalid date %q: %s", e.Input, e.Reason)
}

// InvalidMonthError reports a month key that is not YYYY-MM.
type InvalidMonthError struct {
	Input string
}

func (e InvalidMonthError) Error() string {
	return fmt.Sprintf("invalid month %q: expected YYYY-MM", e.Input)
}

func checkYearMonth(year, month int) error {
	if month < 1 || month > 12 {
		return InvalidDateError{Input: fmt.Sprintf("%04d-%02d", year, month), Reason: "month must be 1..12"}
	}
	if year < 1 || year > 9999 {
		return InvalidDateError{Input: fmt.Sprintf("%04d-%02d", year, month), Reason: "year must be 1..9999"}
	}
	return nil
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year, month int) (int, error) {
	if err := checkYearMonth(year, month); err != nil {
		return 0, err
	}
	// Day 0 of the following month normalizes to the last day of this one.
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day(), nil
}

// ParseDate parses a strict ISO yyyy-mm-dd date.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, InvalidDateError{Input: date, Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}

// WeekdayOf returns the calendar weekday of an ISO date.
func WeekdayOf(date string) (Weekday, error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return fromTime(t.Weekday()), nil
}

// EnumerateDates yields every ISO date of the month in order. The returned
// sequence can be ranged over any number of times.
func EnumerateDates(year, month int) (iter.Seq[string], error) {
	days, err := DaysInMonth(year, month)
	if err != nil {
		return nil, err
	}
	return func(yield func(string) bool) {
		for day := 1; day <= days; day++ {
			if !yield(fmt.Sprintf("%04d-%02d-%02d", year, month, day)) {
				return
			}
		}
	}, nil
}

// ParseMonthKey splits a YYYY-MM key. Years outside 1..9999 are rejected.
func ParseMonthKey(key string) (year, month int, err error) {
	t, perr := time.Parse(MonthLayout, strings.TrimSpace(key))
	if perr != nil || len(strings.TrimSpace(key)) != len(MonthLayout) || t.Year() < 1 {
		return 0, 0, InvalidMonthError{Input: key}
	}
	return t.Year(), int(t.Month()), nil
}

// MonthBounds returns the first and last ISO dates of a month key.
func MonthBounds(key string) (first, last string, err error) {
	year, month, err := ParseMonthKey(key)
	if err != nil {
		return "", "", err
	}
	days, err := DaysInMonth(year, month)
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("%04d-%02d-01", year, month), fmt.Sprintf("%04d-%02d-%02d", year, month, days), nil
}

// MonthKey formats t as YYYY-MM.
func MonthKey(t time.Time) string {
	return t.Format(MonthLayout)
}

// NextMonthKey returns the key of the month after t.
func NextMonthKey(t time.Time) string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return first.AddDate(0, 1, 0).Format(MonthLayout)
}

// IsLastDayOfMonth reports whether t falls on the final day of its month.
func IsLastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}

// ParseWeekday accepts MON..SUN (case-insensitive) or full English names.
func ParseWeekday(s string) (Weekday, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	for i := Monday; i <= Sunday; i++ {
		if weekdayNames[i] == key || strings.ToUpper(fullNames[i]) == key {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid weekday %q", s)
}

// ParseWeekdays parses a weekday list. The presets WEEKDAYS and ALL expand
// to Monday-Friday and the full week. Duplicates are removed and the result
// is ordered Monday first.
func ParseWeekdays(items []string) ([]Weekday, error) {
	seen := make(map[Weekday]bool, 7)
	for _, raw := range items {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			switch strings.ToUpper(part) {
			case "WEEKDAYS":
				for _, d := range Workweek {
					seen[d] = true
				}
				continue
			case "ALL":
				for _, d := range FullWeek {
					seen[d] = true
				}
				continue
			}
			d, err := ParseWeekday(part)
			if err != nil {
				return nil, err
			}
			seen[d] = true
		}
	}
	out := make([]Weekday, 0, len(seen))
	for _, d := range FullWeek {
		if seen[d] {
			out = append(out, d)
		}
	}
	return out, nil
}

// FormatWeekdays joins weekdays as "MON,TUE,...".
func FormatWeekdays(days []Weekday) string {
	parts := make([]string, 0, len(days))
	for _, d := range days {
		parts = append(parts, d.String())
	}
	return strings.Join(parts, ",")
}
