// Package vocab translates the single-letter source codes found in the
// patient CSV into FHIR coded values.
//
// Each translation is a ConceptTable: a fixed set of direct matches plus a
// wildcard target used for every other input, the same way a ConceptMap
// group resolves an element code before falling back to "*". Lookups never
// fail.
package vocab

import "github.com/JonMunkholm/fhirmap/internal/fhir"

// Match says how a lookup was resolved.
type Match int

const (
	MatchDirect Match = iota
	MatchFallback
)

func (m Match) String() string {
	if m == MatchDirect {
		return "direct"
	}
	return "fallback"
}

// ConceptTable is an immutable code translation with a wildcard default.
type ConceptTable[T any] struct {
	name     string
	entries  map[string]T
	fallback T
}

// NewConceptTable copies entries so later changes to the map do not leak in.
func NewConceptTable[T any](name string, entries map[string]T, fallback T) *ConceptTable[T] {
	m := make(map[string]T, len(entries))
	for k, v := range entries {
		m[k] = v
	}
	return &ConceptTable[T]{name: name, entries: m, fallback: fallback}
}

// Name identifies the table in logs.
func (t *ConceptTable[T]) Name() string { return t.name }

// Lookup returns the target for code. Matching is exact and case-sensitive.
func (t *ConceptTable[T]) Lookup(code string) (T, Match) {
	if v, ok := t.entries[code]; ok {
		return v, MatchDirect
	}
	return t.fallback, MatchFallback
}

// Translate is Lookup without the match kind.
func (t *ConceptTable[T]) Translate(code string) T {
	v, _ := t.Lookup(code)
	return v
}

var (
	// MaritalStatus maps S/M to v3-MaritalStatus and everything else to
	// NullFlavor UNK.
	MaritalStatus = NewConceptTable("marital-status", map[string]fhir.Coding{
		"S": {System: fhir.SystemMaritalStatus, Code: "S", Display: "Never Married"},
		"M": {System: fhir.SystemMaritalStatus, Code: "M", Display: "Married"},
	}, fhir.Coding{System: fhir.SystemNullFlavor, Code: "UNK", Display: "unknown"})

	// Gender maps M/F to male/female and everything else to unknown.
	Gender = NewConceptTable("administrative-gender", map[string]fhir.AdministrativeGender{
		"M": fhir.GenderMale,
		"F": fhir.GenderFemale,
	}, fhir.GenderUnknown)
)

// TranslateMaritalStatus returns the coding for a raw marital status code.
func TranslateMaritalStatus(code string) fhir.Coding {
	return MaritalStatus.Translate(code)
}

// TranslateGender returns the administrative gender for a raw gender code.
func TranslateGender(code string) fhir.AdministrativeGender {
	return Gender.Translate(code)
}
