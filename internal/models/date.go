package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// Date is a calendar day as delivered by the search provider.
type Date struct {
	Year  int
	Month int
	Day   int
}

func DateFromTime(t time.Time) Date {
	return Date{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}

func (d Date) Time() time.Time {
	return time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return d.Time().Format(dateLayout)
}

// Compare returns -1, 0 or +1 as d is before, equal to or after o.
func (d Date) Compare(o Date) int {
	a, b := d.Time(), o.Time()
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDateParse, err)
	}
	*d = DateFromTime(t)
	return nil
}

// ParseDate decodes a raw {Year, Month, Day} object. An absent or null value
// yields a nil date. Keys match case-insensitively and each part may be a
// JSON number or a numeric string.
func ParseDate(raw json.RawMessage) (*Date, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: date %s is not an object", ErrDateParse, trimmed)
	}

	parts := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		lk := strings.ToLower(k)
		if _, dup := parts[lk]; dup {
			return nil, fmt.Errorf("%w: date %s repeats %s with different case", ErrDateParse, trimmed, lk)
		}
		parts[lk] = v
	}

	var values [3]int
	for i, name := range []string{"year", "month", "day"} {
		v, ok := parts[name]
		if !ok {
			return nil, fmt.Errorf("%w: date %s has no %s", ErrDateParse, trimmed, name)
		}
		n, err := parseDatePart(v)
		if err != nil {
			return nil, fmt.Errorf("%w: date %s: %s: %v", ErrDateParse, trimmed, name, err)
		}
		values[i] = n
	}

	d := Date{Year: values[0], Month: values[1], Day: values[2]}
	if d.Month < 1 || d.Month > 12 || DateFromTime(d.Time()) != d {
		return nil, fmt.Errorf("%w: %04d-%02d-%02d is not a calendar day", ErrDateParse, d.Year, d.Month, d.Day)
	}
	return &d, nil
}

func parseDatePart(raw json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("value %s is not numeric", raw)
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("value %s is not an integer", raw)
	}
	return int(f), nil
}
