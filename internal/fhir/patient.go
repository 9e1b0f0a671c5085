// Package fhir holds the subset of the FHIR R4 Patient resource produced by
// the CSV mapper. Field names and JSON tags follow the R4 JSON format so the
// types serialize directly to the interchange representation.
package fhir

import "fmt"

// ResourceTypePatient is the resourceType discriminator for Patient.
const ResourceTypePatient = "Patient"

// Code systems used by the marital status binding.
const (
	SystemMaritalStatus = "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus"
	SystemNullFlavor    = "http://terminology.hl7.org/CodeSystem/v3-NullFlavor"
)

// AdministrativeGender is the R4 administrative-gender value set.
type AdministrativeGender string

const (
	GenderMale    AdministrativeGender = "male"
	GenderFemale  AdministrativeGender = "female"
	GenderOther   AdministrativeGender = "other"
	GenderUnknown AdministrativeGender = "unknown"
)

// Valid reports whether g is a member of the value set.
func (g AdministrativeGender) Valid() bool {
	switch g {
	case GenderMale, GenderFemale, GenderOther, GenderUnknown:
		return true
	}
	return false
}

// ParseGender converts a FHIR gender code into an AdministrativeGender.
func ParseGender(s string) (AdministrativeGender, error) {
	g := AdministrativeGender(s)
	if !g.Valid() {
		return "", fmt.Errorf("invalid administrative gender %q", s)
	}
	return g, nil
}

// Coding is a single code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// CodeableConcept wraps one or more codings for the same concept.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// HumanName is a person name. Suffix is kept even when it holds an empty
// string so the mapped record round-trips unchanged.
type HumanName struct {
	Family string   `json:"family,omitempty"`
	Given  []string `json:"given,omitempty"`
	Suffix []string `json:"suffix,omitempty"`
}

// Address is a postal address.
type Address struct {
	Line       []string `json:"line,omitempty"`
	City       string   `json:"city,omitempty"`
	State      string   `json:"state,omitempty"`
	PostalCode string   `json:"postalCode,omitempty"`
	Country    string   `json:"country,omitempty"`
}

// Patient is the structured record built from one CSV row.
type Patient struct {
	ID            string               `json:"id"`
	Name          []HumanName          `json:"name,omitempty"`
	Gender        AdministrativeGender `json:"gender,omitempty"`
	BirthDate     *Date                `json:"birthDate,omitempty"`
	Address       []Address            `json:"address,omitempty"`
	MaritalStatus *CodeableConcept     `json:"maritalStatus,omitempty"`
}

// PrimaryName returns the first name entry, or a zero value.
func (p Patient) PrimaryName() HumanName {
	if len(p.Name) == 0 {
		return HumanName{}
	}
	return p.Name[0]
}

// MaritalCode returns the first marital status code, or "".
func (p Patient) MaritalCode() string {
	if p.MaritalStatus == nil || len(p.MaritalStatus.Coding) == 0 {
		return ""
	}
	return p.MaritalStatus.Coding[0].Code
}
