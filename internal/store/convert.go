package store

// convert.go maps record values to pgtype values. Empty input becomes NULL
// (Valid=false).

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/JonMunkholm/fhirmap/internal/fhir"
)

// ToPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func ToPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}

// ToPgDate converts a FHIR date to pgtype.Date. Partial dates are stored as
// the first day of their period.
func ToPgDate(d *fhir.Date) pgtype.Date {
	if d == nil || d.IsZero() {
		return pgtype.Date{}
	}
	return pgtype.Date{Time: d.Time, Valid: true}
}

// FromPgDate is the inverse of ToPgDate for day-precision dates.
func FromPgDate(d pgtype.Date) *fhir.Date {
	if !d.Valid {
		return nil
	}
	out := fhir.DateOf(d.Time)
	return &out
}

// ToPgUUID converts a uuid.UUID to pgtype.UUID. The nil UUID is NULL.
func ToPgUUID(id uuid.UUID) pgtype.UUID {
	if id == uuid.Nil {
		return pgtype.UUID{}
	}
	return pgtype.UUID{Bytes: id, Valid: true}
}

// PgUUIDToString converts a pgtype.UUID to its string representation.
// Returns empty string if the UUID is invalid.
func PgUUIDToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

func first(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}
