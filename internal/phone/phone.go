// Package phone provides normalization and validation of Kenyan mobile
// numbers to the canonical international form used by the payment gateway.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalidPhone is returned when a number cannot be normalized to a valid
// Kenyan mobile number. Callers must treat this as user-correctable input
// error and must not forward the number to the gateway.
var ErrInvalidPhone = errors.New("invalid phone number")

// canonicalPattern matches the canonical form accepted by the gateway:
// country code 254 followed by a 9-digit mobile number starting with 7-9.
var canonicalPattern = regexp.MustCompile(`^254[7-9]\d{8}$`)

// nonDigits strips formatting characters (spaces, dashes, plus signs).
var nonDigits = regexp.MustCompile(`\D`)

// Normalize converts a phone number in any common national or international
// format to the canonical 254XXXXXXXXX form.
//
// Accepted inputs (all normalizing to 254712345678):
//
//	0712345678
//	712345678
//	254712345678
//	+254 712 345 678
//
// Returns ErrInvalidPhone for anything that does not resolve to a valid
// Kenyan mobile number.
func Normalize(raw string) (string, error) {
	cleaned := nonDigits.ReplaceAllString(raw, "")
	if cleaned == "" {
		return "", ErrInvalidPhone
	}

	var candidate string
	switch {
	case strings.HasPrefix(cleaned, "254"):
		candidate = cleaned
	case strings.HasPrefix(cleaned, "0"):
		candidate = "254" + cleaned[1:]
	case len(cleaned) == 9:
		candidate = "254" + cleaned
	default:
		return "", ErrInvalidPhone
	}

	if !canonicalPattern.MatchString(candidate) {
		return "", ErrInvalidPhone
	}
	return candidate, nil
}

// IsCanonical reports whether the number is already in canonical form.
func IsCanonical(number string) bool {
	return canonicalPattern.MatchString(number)
}
