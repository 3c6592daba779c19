package phone

import (
	"errors"
	"strings"
)

const (
	// DefaultCountryPrefix is assumed when the input carries no country code.
	DefaultCountryPrefix = "91"

	nationalLength = 10
	minE164Length  = 12
	maxE164Length  = 15
	minMaskable    = 6
)

// ErrInvalidFormat is returned when the input cannot be turned into a dialable number.
var ErrInvalidFormat = errors.New("invalid phone number format")

// Number is a phone number as typed by the user together with its
// canonical (+<country><digits>) and display-masked forms.
type Number struct {
	Raw       string
	Canonical string
	Masked    string
}

// Normalize turns user input into a canonical number. Rules, in order:
// an explicit "+" prefix is kept, a bare country code followed by ten
// national digits gets a "+", ten digits get "+<prefix>", and anything
// else falls back to "+<prefix>" followed by the digits. The fallback is
// lenient and may yield a number that fails IsE164.
func Normalize(input, countryPrefix string) (Number, error) {
	if countryPrefix == "" {
		countryPrefix = DefaultCountryPrefix
	}

	cleaned := stripSeparators(strings.TrimSpace(input))
	digits := strings.TrimPrefix(cleaned, "+")
	if digits == "" || !allDigits(digits) {
		return Number{}, ErrInvalidFormat
	}

	var canonical string
	switch {
	case strings.HasPrefix(cleaned, "+"):
		canonical = cleaned
	case strings.HasPrefix(cleaned, countryPrefix) && len(cleaned) == len(countryPrefix)+nationalLength:
		canonical = "+" + cleaned
	case len(cleaned) == nationalLength:
		canonical = "+" + countryPrefix + cleaned
	default:
		canonical = "+" + countryPrefix + cleaned
	}

	return Number{
		Raw:       input,
		Canonical: canonical,
		Masked:    Mask(canonical, countryPrefix),
	}, nil
}

// Mask hides the interior of the national part of a canonical number,
// e.g. +919876543210 -> 98******10. Numbers with fewer than six national
// digits are returned unchanged.
func Mask(canonical, countryPrefix string) string {
	if countryPrefix == "" {
		countryPrefix = DefaultCountryPrefix
	}

	national := canonical
	switch {
	case strings.HasPrefix(national, "+"+countryPrefix):
		national = national[len(countryPrefix)+1:]
	case strings.HasPrefix(national, "+"):
		national = national[1:]
	}

	if len(national) < minMaskable {
		return canonical
	}
	return national[:2] + strings.Repeat("*", len(national)-4) + national[len(national)-2:]
}

// IsValid reports whether the input holds exactly ten national digits,
// optionally preceded by a leading "+" and the country code. An empty
// countryPrefix means DefaultCountryPrefix.
func IsValid(input, countryPrefix string) bool {
	if countryPrefix == "" {
		countryPrefix = DefaultCountryPrefix
	}
	cleaned := strings.TrimPrefix(stripSeparators(strings.TrimSpace(input)), "+")
	if !allDigits(cleaned) {
		return false
	}
	switch {
	case strings.HasPrefix(cleaned, countryPrefix) && len(cleaned) == len(countryPrefix)+nationalLength:
		return true
	case len(cleaned) == nationalLength:
		return true
	default:
		return false
	}
}

// IsE164 reports whether s is "+" followed by digits with a total length in [12,15].
func IsE164(s string) bool {
	if !strings.HasPrefix(s, "+") || len(s) < minE164Length || len(s) > maxE164Length {
		return false
	}
	return allDigits(s[1:])
}

func stripSeparators(s string) string {
	return strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(s)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
