package validation

import (
	"errors"
	"math"
	"strings"
	"testing"
)

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		name    string
		lat     string
		lon     string
		wantErr bool
	}{
		{"oslo", "59.9139", "10.7522", false},
		{"whitespace trimmed", " 59.91 ", "\t10.75", false},
		{"poles and antimeridian", "-90", "180", false},
		{"missing lat", "", "10", true},
		{"missing lon", "59", " ", true},
		{"not a number", "north", "10", true},
		{"lat out of range", "90.01", "10", true},
		{"lon out of range", "0", "-180.5", true},
		{"NaN", "NaN", "10", true},
		{"infinity", "0", "+Inf", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseCoordinates(tc.lat, tc.lon)
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidCoordinates) {
					t.Errorf("error = %v, want ErrInvalidCoordinates", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateCoordinates_NaN(t *testing.T) {
	if _, err := ValidateCoordinates(math.NaN(), 0); !errors.Is(err, ErrInvalidCoordinates) {
		t.Errorf("error = %v, want ErrInvalidCoordinates", err)
	}
}

func TestParseAltitude(t *testing.T) {
	got, err := ParseAltitude("")
	if err != nil || got != nil {
		t.Errorf("empty: got %v, %v; want nil, nil", got, err)
	}

	got, err = ParseAltitude("120")
	if err != nil || got == nil || *got != 120 {
		t.Errorf("120: got %v, %v", got, err)
	}

	for _, bad := range []string{"1.5", "high", "9001", "-501"} {
		if _, err := ParseAltitude(bad); !errors.Is(err, ErrInvalidAltitude) {
			t.Errorf("%q: error = %v, want ErrInvalidAltitude", bad, err)
		}
	}
}

func TestValidateUserID(t *testing.T) {
	if got, err := ValidateUserID("  user-42 "); err != nil || got != "user-42" {
		t.Errorf("got %q, %v", got, err)
	}
	if got, err := ValidateUserID(""); err != nil || got != "" {
		t.Errorf("empty: got %q, %v", got, err)
	}
	if _, err := ValidateUserID(strings.Repeat("a", MaxUserIDLen+1)); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("too long: error = %v", err)
	}
	if _, err := ValidateUserID("bjørn"); !errors.Is(err, ErrInvalidUserID) {
		t.Errorf("non-ascii: error = %v", err)
	}
}

func TestValidateBackend(t *testing.T) {
	known := []string{"rule-based", "fast-numeric", "rich"}
	for _, in := range []string{"", "auto", " "} {
		if got, err := ValidateBackend(in, known); err != nil || got != "" {
			t.Errorf("%q: got %q, %v; want automatic selection", in, got, err)
		}
	}
	if got, err := ValidateBackend("rich", known); err != nil || got != "rich" {
		t.Errorf("rich: got %q, %v", got, err)
	}
	if _, err := ValidateBackend("gpt", known); !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("unknown: error = %v", err)
	}
}

func TestParseFlag(t *testing.T) {
	if v, err := ParseFlag("", true); err != nil || !v {
		t.Errorf("default: got %v, %v", v, err)
	}
	if v, err := ParseFlag("false", true); err != nil || v {
		t.Errorf("false: got %v, %v", v, err)
	}
	if v, err := ParseFlag("1", false); err != nil || !v {
		t.Errorf("1: got %v, %v", v, err)
	}
	if _, err := ParseFlag("maybe", false); !errors.Is(err, ErrInvalidFlag) {
		t.Errorf("maybe: error = %v", err)
	}
}
