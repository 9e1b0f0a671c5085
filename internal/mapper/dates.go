package mapper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
)

// DateMode selects how the birth date column is read.
type DateMode int

const (
	// DateModeCalendar reads YYYY-MM-DD as year, month, day.
	DateModeCalendar DateMode = iota

	// DateModeLegacyMinutes reads the middle field as minutes-of-hour with
	// the month fixed at January and out-of-range values rolled forward,
	// matching the lenient "yyyy-mm-dd" pattern older exports were made with.
	// 1985-07-14 becomes 1985-01-14.
	DateModeLegacyMinutes
)

// BirthDateLayout is the layout of the birth date column.
const BirthDateLayout = "2006-01-02"

func (m DateMode) String() string {
	switch m {
	case DateModeCalendar:
		return "calendar"
	case DateModeLegacyMinutes:
		return "legacy-minutes"
	}
	return fmt.Sprintf("DateMode(%d)", int(m))
}

// ParseDateMode accepts the names returned by DateMode.String.
func ParseDateMode(s string) (DateMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "calendar":
		return DateModeCalendar, nil
	case "legacy-minutes", "legacy":
		return DateModeLegacyMinutes, nil
	}
	return 0, fmt.Errorf("unknown date mode %q (want calendar or legacy-minutes)", s)
}

func (m DateMode) parse(s string) (fhir.Date, error) {
	if m == DateModeLegacyMinutes {
		return parseLegacyMinutes(s)
	}
	t, err := time.Parse(BirthDateLayout, s)
	if err != nil {
		return fhir.Date{}, err
	}
	return fhir.DateOf(t), nil
}

// legacyWidths bounds the digit count of each legacy date field. Two-digit
// minutes and days keep the rolled result inside a four-digit year.
var legacyWidths = [3][2]int{{4, 4}, {1, 2}, {1, 2}}

func parseLegacyMinutes(s string) (fhir.Date, error) {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return fhir.Date{}, fmt.Errorf("parsing %q: want three dash-separated fields", s)
	}
	var n [3]int
	for i, p := range parts {
		if len(p) < legacyWidths[i][0] || len(p) > legacyWidths[i][1] {
			return fhir.Date{}, fmt.Errorf("parsing %q: field %d has %d digits", s, i+1, len(p))
		}
		v, err := strconv.Atoi(p)
		if err != nil || p[0] == '+' || p[0] == '-' {
			return fhir.Date{}, fmt.Errorf("parsing %q: field %d is not a number", s, i+1)
		}
		n[i] = v
	}
	year, minute, day := n[0], n[1], n[2]
	t := time.Date(year, time.January, day, 0, minute, 0, 0, time.UTC)
	if t.Year() < 0 || t.Year() > 9999 {
		return fhir.Date{}, fmt.Errorf("parsing %q: year %d out of range", s, t.Year())
	}
	return fhir.DateOf(t), nil
}
