package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// DatePrecision is the number of components present in a FHIR date.
type DatePrecision int

const (
	PrecisionYear DatePrecision = iota + 1
	PrecisionMonth
	PrecisionDay
)

var precisionLayouts = map[DatePrecision]string{
	PrecisionYear:  "2006",
	PrecisionMonth: "2006-01",
	PrecisionDay:   "2006-01-02",
}

// Date is a FHIR date. The time component is always midnight UTC.
type Date struct {
	time.Time
	Precision DatePrecision
}

// NewDate returns a day-precision date for the given calendar day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{
		Time:      time.Date(year, month, day, 0, 0, 0, 0, time.UTC),
		Precision: PrecisionDay,
	}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate parses a FHIR date string (YYYY, YYYY-MM or YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	var p DatePrecision
	switch len(s) {
	case 4:
		p = PrecisionYear
	case 7:
		p = PrecisionMonth
	case 10:
		p = PrecisionDay
	default:
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	t, err := time.Parse(precisionLayouts[p], s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t, Precision: p}, nil
}

// String formats the date at its precision.
func (d Date) String() string {
	layout, ok := precisionLayouts[d.Precision]
	if !ok {
		layout = precisionLayouts[PrecisionDay]
	}
	return d.Time.Format(layout)
}

// Equal reports whether both dates name the same day at the same precision.
func (d Date) Equal(o Date) bool {
	return d.Precision == o.Precision && d.Time.Equal(o.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
