package validation

import (
	"errors"
	"strings"
	"unicode"
)

// ErrStationEmpty is returned when the station is empty or whitespace-only after trim.
var ErrStationEmpty = errors.New("station is required")

// ErrStationTooShort is returned when the station length is below the minimum.
var ErrStationTooShort = errors.New("station too short")

// ErrStationTooLong is returned when the station length exceeds the maximum.
var ErrStationTooLong = errors.New("station too long")

// ErrStationInvalidChars is returned when the station contains anything but ASCII letters and digits.
var ErrStationInvalidChars = errors.New("station contains invalid characters")

// Default station length bounds: 3-letter IATA-style and 4-character ICAO identifiers.
const (
	DefaultMinLen = 3
	DefaultMaxLen = 4
)

// ValidateStation trims and upper-cases the input, enforces length bounds (minLen, maxLen;
// zero disables a bound) and restricts it to ASCII letters and digits.
// Returns the normalized identifier or an error suitable for 400 INVALID_STATION responses.
func ValidateStation(input string, minLen, maxLen int) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(input))
	n := len([]rune(s))
	if n == 0 {
		return "", ErrStationEmpty
	}
	for _, c := range s {
		if !isStationRune(c) {
			return "", ErrStationInvalidChars
		}
	}
	if minLen > 0 && n < minLen {
		return "", ErrStationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrStationTooLong
	}
	return s, nil
}

func isStationRune(r rune) bool {
	return r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))
}
