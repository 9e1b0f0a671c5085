// Package mapper turns one positional patients.csv row into a fhir.Patient.
package mapper

import (
	"fmt"
	"slices"
	"strings"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
	"github.com/JonMunkholm/fhirmap/internal/vocab"
)

// MalformedRowError reports a row that could not be mapped. Line is the
// 1-based source line and is zero when the row did not come from a file.
// Values holds the raw fields of the row.
type MalformedRowError struct {
	Line   int
	Fields int
	Values []string
	Reason string
	Err    error
}

func malformed(fields []string, reason string, err error) *MalformedRowError {
	return &MalformedRowError{
		Fields: len(fields),
		Values: slices.Clone(fields),
		Reason: reason,
		Err:    err,
	}
}

func (e *MalformedRowError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: malformed row (%d fields): %s", e.Line, e.Fields, e.Reason)
	}
	return fmt.Sprintf("malformed row (%d fields): %s", e.Fields, e.Reason)
}

func (e *MalformedRowError) Unwrap() error { return e.Err }

// Fallbacks counts vocabulary lookups that hit the wildcard entry.
type Fallbacks struct {
	Gender  int
	Marital int
}

// Mapper maps rows. The zero value uses DateModeCalendar.
type Mapper struct {
	DateMode DateMode
}

// New returns a Mapper using the given date mode.
func New(mode DateMode) Mapper {
	return Mapper{DateMode: mode}
}

// MapRow maps fields with the default Mapper.
func MapRow(fields []string) (fhir.Patient, error) {
	return Mapper{}.MapRow(fields)
}

// MapRow builds a Patient from fields. Extra trailing fields are ignored.
func (m Mapper) MapRow(fields []string) (fhir.Patient, error) {
	p, _, err := m.MapRowCounted(fields)
	return p, err
}

// MapRowCounted is MapRow that also reports which vocabulary lookups fell
// back to their default.
func (m Mapper) MapRowCounted(fields []string) (fhir.Patient, Fallbacks, error) {
	var fb Fallbacks

	if len(fields) < NumColumns {
		return fhir.Patient{}, fb, malformed(fields,
			fmt.Sprintf("expected at least %d fields, got %d", NumColumns, len(fields)), nil)
	}

	if strings.TrimSpace(fields[ColID]) == "" {
		return fhir.Patient{}, fb, malformed(fields, "empty "+ColID.String(), nil)
	}

	birth, err := m.DateMode.parse(fields[ColBirthDate])
	if err != nil {
		return fhir.Patient{}, fb, malformed(fields,
			fmt.Sprintf("invalid %s %q", ColBirthDate, fields[ColBirthDate]), err)
	}

	gender, gm := vocab.Gender.Lookup(fields[ColGender])
	if gm == vocab.MatchFallback {
		fb.Gender++
	}
	marital, mm := vocab.MaritalStatus.Lookup(fields[ColMarital])
	if mm == vocab.MatchFallback {
		fb.Marital++
	}

	p := fhir.Patient{
		ID: fields[ColID],
		Name: []fhir.HumanName{{
			Family: fields[ColLast],
			Given:  []string{fields[ColFirst]},
			Suffix: []string{fields[ColSuffix]},
		}},
		Gender:    gender,
		BirthDate: &birth,
		Address: []fhir.Address{{
			Line:       []string{fields[ColAddress]},
			City:       fields[ColCity],
			State:      fields[ColState],
			PostalCode: fields[ColZip],
			Country:    fields[ColCounty],
		}},
		MaritalStatus: &fhir.CodeableConcept{Coding: []fhir.Coding{marital}},
	}
	return p, fb, nil
}
