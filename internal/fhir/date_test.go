package fhir

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in        string
		want      string
		precision DatePrecision
		wantErr   bool
	}{
		{"1985-07-14", "1985-07-14", PrecisionDay, false},
		{"1985-07", "1985-07", PrecisionMonth, false},
		{"1985", "1985", PrecisionYear, false},
		{"1985-13-01", "", 0, true},
		{"1985-02-30", "", 0, true},
		{"85-07-14", "", 0, true},
		{"", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseDate(%q) = %v, want error", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDate(%q) error = %v", tt.in, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseDate(%q).String() = %q, want %q", tt.in, got.String(), tt.want)
			}
			if got.Precision != tt.precision {
				t.Errorf("ParseDate(%q).Precision = %v, want %v", tt.in, got.Precision, tt.precision)
			}
		})
	}
}

func TestDateJSON(t *testing.T) {
	d := NewDate(1985, time.July, 14)

	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(b) != `"1985-07-14"` {
		t.Errorf("Marshal = %s, want %q", b, "1985-07-14")
	}

	var back Date
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	if !back.Equal(d) {
		t.Errorf("Unmarshal = %v, want %v", back, d)
	}

	if err := json.Unmarshal([]byte(`19850714`), &back); err == nil {
		t.Error("Unmarshal of number should fail")
	}
}

func TestDateOf(t *testing.T) {
	loc := time.FixedZone("X", -5*3600)
	d := DateOf(time.Date(2001, time.March, 4, 23, 30, 0, 0, loc))
	if d.String() != "2001-03-04" {
		t.Errorf("DateOf = %s, want 2001-03-04", d)
	}
	if d.Location() != time.UTC {
		t.Errorf("DateOf location = %v, want UTC", d.Location())
	}
}

func TestParseGender(t *testing.T) {
	for _, s := range []string{"male", "female", "other", "unknown"} {
		if _, err := ParseGender(s); err != nil {
			t.Errorf("ParseGender(%q) error = %v", s, err)
		}
	}
	for _, s := range []string{"M", "", "Male"} {
		if _, err := ParseGender(s); err == nil {
			t.Errorf("ParseGender(%q) should fail", s)
		}
	}
}
