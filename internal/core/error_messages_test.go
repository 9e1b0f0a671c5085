package core

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/JonMunkholm/fhirmap/internal/codec"
	"github.com/JonMunkholm/fhirmap/internal/export"
	"github.com/JonMunkholm/fhirmap/internal/loader"
	"github.com/JonMunkholm/fhirmap/internal/mapper"
	"github.com/JonMunkholm/fhirmap/internal/store"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil", nil, ""},
		{"malformed row", &mapper.MalformedRowError{Line: 3, Fields: 10, Reason: "expected 25 fields"}, "ROW001"},
		{"wrapped malformed row", fmt.Errorf("load: %w", &mapper.MalformedRowError{Fields: 1}), "ROW001"},
		{"decode", &codec.DecodeError{Reason: "not a Patient"}, "DEC001"},
		{"not found", fmt.Errorf("patient p9: %w", store.ErrNotFound), "PAT001"},
		{"too large", ErrTooLarge, "FILE001"},
		{"empty body", ErrEmptyBody, "FILE002"},
		{"read error", &loader.ReadError{Line: 7, Err: errors.New("disk gone")}, "FILE003"},
		{"busy", ErrTooManyLoads, "LOAD001"},
		{"cancelled", context.Canceled, "LOAD002"},
		{"deadline", fmt.Errorf("map: %w", context.DeadlineExceeded), "LOAD003"},
		{"store disabled", ErrStoreDisabled, "DB005"},
		{"export status", &export.StatusError{Status: 422}, "EXP001"},
		{"export transport", errors.New("export failed: dial tcp: i/o error"), "EXP001"},
		{"export disabled", ErrExportDisabled, "EXP002"},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"case insensitive", errors.New("DUPLICATE KEY value"), "DB001"},
		{"connection refused", errors.New("dial tcp 127.0.0.1:5432: connection refused"), "DB002"},
		{"deadlock", errors.New("ERROR: deadlock detected"), "DB004"},
		{"max bytes", errors.New("http: request body too large"), "FILE001"},
		{"unknown", errors.New("some random internal error"), "GEN001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError(%v).Code = %q, want %q", tt.err, got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(ErrTooManyLoads)
	want := "System is busy processing other loads (Code: LOAD001). Please wait a moment and try again"
	if got != want {
		t.Errorf("FormatUserError = %q, want %q", got, want)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("duplicate key"), true},
		{&mapper.MalformedRowError{}, true},
		{errors.New("random internal error xyz"), false},
	}
	for _, tt := range tests {
		if got := IsUserFacing(tt.err); got != tt.want {
			t.Errorf("IsUserFacing(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestNewUserError(t *testing.T) {
	if NewUserError(nil) != nil {
		t.Error("NewUserError(nil) should be nil")
	}

	tech := errors.New("pq: duplicate key value")
	ue := NewUserError(tech)
	if ue.Error() != "A record with this ID already exists" {
		t.Errorf("Error() = %q", ue.Error())
	}
	if !errors.Is(ue, tech) {
		t.Error("UserError should unwrap to the technical error")
	}
	if got := MapError(fmt.Errorf("outer: %w", ue)); got.Code != "DB001" {
		t.Errorf("wrapped UserError code = %q, want DB001", got.Code)
	}
}
