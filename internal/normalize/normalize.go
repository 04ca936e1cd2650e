// Package normalize canonicalizes contact identifiers for duplicate detection.
package normalize

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DefaultCountryCode is prepended to 10-digit domestic numbers.
const DefaultCountryCode = "91"

// Phone returns an E.164-like form of raw ("+" followed by digits) and
// true, or "" and false when raw cannot be interpreted as a phone number.
// A leading "+" is trusted as already carrying a country code. Otherwise
// numbers that start with countryCode and have at least 12 digits are kept,
// and 10-digit numbers (or 11 digits with a domestic trunk "0") get
// countryCode prepended.
func Phone(raw, countryCode string) (string, bool) {
	if countryCode == "" {
		countryCode = DefaultCountryCode
	}

	s := strings.TrimSpace(norm.NFKC.String(raw))
	digits := digitsOnly(s)
	if digits == "" {
		return "", false
	}

	switch {
	case strings.HasPrefix(s, "+"):
		return "+" + digits, true
	case strings.HasPrefix(digits, countryCode) && len(digits) >= 12:
		return "+" + digits, true
	case len(digits) == 10:
		return "+" + countryCode + digits, true
	case len(digits) == 11 && digits[0] == '0':
		return "+" + countryCode + digits[1:], true
	}
	return "", false
}

// Email lower-cases and trims an address. No validation is done.
func Email(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// OptionalPhone is Phone returning nil for unparseable input.
func OptionalPhone(raw, countryCode string) *string {
	p, ok := Phone(raw, countryCode)
	if !ok {
		return nil
	}
	return &p
}

// OptionalEmail is Email returning nil for empty input.
func OptionalEmail(raw string) *string {
	e := Email(raw)
	if e == "" {
		return nil
	}
	return &e
}

func digitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
