package codec

import (
	"encoding/json"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
)

// JSONCodec writes the canonical FHIR JSON form of a Patient. Every field
// the mapper sets survives a round trip, empty name suffixes included.
type JSONCodec struct{}

type patientResource struct {
	ResourceType string `json:"resourceType"`
	fhir.Patient
}

func (JSONCodec) Name() string { return NameJSON }

func (JSONCodec) Encode(p fhir.Patient) ([]byte, error) {
	if p.ID == "" {
		return nil, ErrMissingID
	}
	return json.Marshal(patientResource{ResourceType: fhir.ResourceTypePatient, Patient: p})
}

func (JSONCodec) Decode(b []byte) (fhir.Patient, error) {
	var head struct {
		ResourceType string `json:"resourceType"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return fhir.Patient{}, &DecodeError{Reason: "malformed JSON", Err: err}
	}
	if head.ResourceType != fhir.ResourceTypePatient {
		return fhir.Patient{}, &DecodeError{Reason: "resourceType is " + quoteOrMissing(head.ResourceType) + ", want Patient"}
	}

	var res patientResource
	if err := json.Unmarshal(b, &res); err != nil {
		return fhir.Patient{}, &DecodeError{Reason: "invalid Patient", Err: err}
	}
	if res.Gender != "" && !res.Gender.Valid() {
		return fhir.Patient{}, &DecodeError{Reason: "invalid gender " + quoteOrMissing(string(res.Gender))}
	}
	return res.Patient, nil
}

func quoteOrMissing(s string) string {
	if s == "" {
		return "missing"
	}
	return `"` + s + `"`
}
