package phone

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_rules(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"explicit plus kept", "+14155550123", "+14155550123"},
		{"separators stripped", "+91 (98765) 432-10", "+919876543210"},
		{"bare country code", "919876543210", "+919876543210"},
		{"ten national digits", "9876543210", "+919876543210"},
		{"lenient fallback", "12345", "+9112345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Normalize(tt.input, DefaultCountryPrefix)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.Canonical)
			assert.Equal(t, tt.input, n.Raw)
		})
	}
}

func TestNormalize_rejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "   ", "+", "98765abc10", "++919876543210"} {
		_, err := Normalize(input, DefaultCountryPrefix)
		assert.ErrorIs(t, err, ErrInvalidFormat, "input %q", input)
	}
}

func TestNormalize_nationalNumbersAreCanonicalAndIdempotent(t *testing.T) {
	for _, n := range []string{"9876543210", "7000000001", "98765 43210", "987-654-3210"} {
		first, err := Normalize(n, DefaultCountryPrefix)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(first.Canonical, "+"))
		assert.Len(t, first.Canonical, 13)

		second, err := Normalize(first.Canonical, DefaultCountryPrefix)
		require.NoError(t, err)
		assert.Equal(t, first.Canonical, second.Canonical, "normalize must be idempotent for %q", n)
	}
}

func TestNormalize_fallbackMayFailE164(t *testing.T) {
	n, err := Normalize("12345", DefaultCountryPrefix)
	require.NoError(t, err)
	assert.False(t, IsE164(n.Canonical))
}

func TestMask(t *testing.T) {
	assert.Equal(t, "98******10", Mask("+919876543210", DefaultCountryPrefix))
	assert.Equal(t, "14*******23", Mask("+14155550123", DefaultCountryPrefix))
	assert.Equal(t, "+9112345", Mask("+9112345", DefaultCountryPrefix), "short numbers stay unmasked")
}

func TestMask_revealsAtMostFourDigitsAndKeepsLength(t *testing.T) {
	for _, canonical := range []string{"+919876543210", "+91987654", "+4915112345678"} {
		masked := Mask(canonical, DefaultCountryPrefix)
		revealed := 0
		for _, r := range masked {
			if r >= '0' && r <= '9' {
				revealed++
			}
		}
		assert.LessOrEqual(t, revealed, 4, canonical)

		national := strings.TrimPrefix(canonical, "+"+DefaultCountryPrefix)
		national = strings.TrimPrefix(national, "+")
		assert.Len(t, masked, len(national), canonical)
	}
}

func TestNumber_maskedFromNormalize(t *testing.T) {
	n, err := Normalize("9876543210", "")
	require.NoError(t, err)
	assert.Equal(t, "98******10", n.Masked)
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("9876543210", ""))
	assert.True(t, IsValid("+919876543210", ""))
	assert.True(t, IsValid("91 98765 43210", DefaultCountryPrefix))
	assert.False(t, IsValid("12345", ""))
	assert.False(t, IsValid("98765abc10", ""))
	assert.False(t, IsValid("+14155550123", ""))
	assert.False(t, IsValid("", ""))
}

func TestIsValid_configuredPrefix(t *testing.T) {
	assert.True(t, IsValid("447911123456", "44"))
	assert.True(t, IsValid("+44 7911 123456", "44"))
	assert.True(t, IsValid("7911123456", "44"))
	assert.False(t, IsValid("+919876543210", "44"))

	n, err := Normalize("+44 7911 123456", "44")
	require.NoError(t, err)
	assert.Equal(t, "+447911123456", n.Canonical)
	assert.True(t, IsE164(n.Canonical))
}

func TestIsValid_plusOnlyAsLeadingSign(t *testing.T) {
	assert.False(t, IsValid("98765+43210", ""))
	assert.False(t, IsValid("9876543210+", ""))
	assert.False(t, IsValid("++919876543210", ""))
}

func TestIsE164(t *testing.T) {
	assert.True(t, IsE164("+919876543210"))
	assert.True(t, IsE164("+14155550123"))
	assert.False(t, IsE164("919876543210"), "missing plus")
	assert.False(t, IsE164("+91987654"), "too short")
	assert.False(t, IsE164("+9198765432101234"), "too long")
	assert.False(t, IsE164("+91987654321a"))
}
