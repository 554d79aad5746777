package validation

import (
	"errors"
	"testing"
)

func TestValidateStation_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"icao", "KAUS", "KAUS"},
		{"lowercase", "ksat", "KSAT"},
		{"padded", "  egll\t", "EGLL"},
		{"iata length", "AUS", "AUS"},
		{"digits", "3R9", "3R9"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateStation(tc.input, DefaultMinLen, DefaultMaxLen)
			if err != nil {
				t.Fatalf("ValidateStation(%q) error = %v", tc.input, err)
			}
			if got != tc.want {
				t.Errorf("ValidateStation(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestValidateStation_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "", ErrStationEmpty},
		{"spaces", "   ", ErrStationEmpty},
		{"tab", "\t", ErrStationEmpty},
		{"too short", "KA", ErrStationTooShort},
		{"too long", "KAUSX", ErrStationTooLong},
		{"inner space", "K AU", ErrStationInvalidChars},
		{"slash", "KA/S", ErrStationInvalidChars},
		{"hyphen", "K-AU", ErrStationInvalidChars},
		{"non-ascii letter", "KÄUS", ErrStationInvalidChars},
		{"injection", "KAUS&hours=99", ErrStationInvalidChars},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateStation(tc.input, DefaultMinLen, DefaultMaxLen)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidateStation_NoBounds(t *testing.T) {
	got, err := ValidateStation("X", 0, 0)
	if err != nil {
		t.Fatalf("ValidateStation() error = %v", err)
	}
	if got != "X" {
		t.Errorf("ValidateStation() = %q, want X", got)
	}
}
