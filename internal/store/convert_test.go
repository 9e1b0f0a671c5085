package store

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
)

func TestToPgText(t *testing.T) {
	tests := []struct {
		in        string
		wantValid bool
		want      string
	}{
		{"Doe", true, "Doe"},
		{"  Doe ", true, "Doe"},
		{"", false, ""},
		{"   ", false, ""},
	}
	for _, tt := range tests {
		got := ToPgText(tt.in)
		if got.Valid != tt.wantValid || got.String != tt.want {
			t.Errorf("ToPgText(%q) = %+v, want {%q %v}", tt.in, got, tt.want, tt.wantValid)
		}
	}
}

func TestPgDateRoundTrip(t *testing.T) {
	d := fhir.NewDate(1985, time.July, 14)
	pg := ToPgDate(&d)
	if !pg.Valid {
		t.Fatal("ToPgDate returned invalid date")
	}
	back := FromPgDate(pg)
	if back == nil || !back.Equal(d) {
		t.Errorf("FromPgDate(ToPgDate(%v)) = %v", d, back)
	}

	if ToPgDate(nil).Valid {
		t.Error("ToPgDate(nil) should be invalid")
	}
	if FromPgDate(pgtype.Date{}) != nil {
		t.Error("FromPgDate(invalid) should be nil")
	}
}

func TestPgUUID(t *testing.T) {
	id := uuid.New()
	pg := ToPgUUID(id)
	if !pg.Valid {
		t.Fatal("ToPgUUID returned invalid")
	}
	if got := PgUUIDToString(pg); got != id.String() {
		t.Errorf("PgUUIDToString = %q, want %q", got, id.String())
	}
	if ToPgUUID(uuid.Nil).Valid {
		t.Error("ToPgUUID(Nil) should be invalid")
	}
	if PgUUIDToString(pgtype.UUID{}) != "" {
		t.Error("PgUUIDToString(invalid) should be empty")
	}
}

func TestPatientArgs(t *testing.T) {
	birth := fhir.NewDate(1985, time.July, 14)
	p := fhir.Patient{
		ID:        "p1",
		Name:      []fhir.HumanName{{Family: "Doe", Given: []string{"Jane"}, Suffix: []string{""}}},
		Gender:    fhir.GenderFemale,
		BirthDate: &birth,
		MaritalStatus: &fhir.CodeableConcept{Coding: []fhir.Coding{
			{System: fhir.SystemMaritalStatus, Code: "S", Display: "Never Married"},
		}},
	}
	loadID := uuid.New()

	args, err := patientArgs(p, loadID)
	if err != nil {
		t.Fatalf("patientArgs error = %v", err)
	}
	if len(args) != 8 {
		t.Fatalf("len(args) = %d, want 8", len(args))
	}
	if args[0] != "p1" {
		t.Errorf("id = %v", args[0])
	}
	if got := args[1].(pgtype.Text); got.String != "Doe" {
		t.Errorf("family = %+v", got)
	}
	if got := args[2].(pgtype.Text); got.String != "Jane" {
		t.Errorf("given = %+v", got)
	}
	if args[3] != "female" {
		t.Errorf("gender = %v", args[3])
	}
	if got := args[4].(pgtype.Text); got.String != "S" {
		t.Errorf("marital = %+v", got)
	}
	if got := args[7].(pgtype.UUID); PgUUIDToString(got) != loadID.String() {
		t.Errorf("load id = %v", got)
	}

	p.ID = ""
	if _, err := patientArgs(p, loadID); err == nil {
		t.Error("patientArgs with empty id should fail")
	}
}
