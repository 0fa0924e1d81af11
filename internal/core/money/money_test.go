package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"already quantized", "1.234567", "1.234567"},
		{"rounds toward zero", "1.2345678", "1.234567"},
		{"does not round up", "0.9999999", "0.999999"},
		{"integer", "42", "42.000000"},
		{"zero", "0", "0.000000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := decimal.NewFromString(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, Format(Truncate(d)))
		})
	}
}

func TestParse(t *testing.T) {
	d, err := Parse("10.5")
	require.NoError(t, err)
	assert.Equal(t, "10.500000", Format(d))

	_, err = Parse("not-a-number")
	assert.Error(t, err)
}

func TestParseNonNegative(t *testing.T) {
	d, err := ParseNonNegative("0.000001")
	require.NoError(t, err)
	assert.True(t, d.IsPositive())

	_, err = ParseNonNegative("-1")
	assert.Error(t, err)

	d, err = ParseNonNegative("0")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
}
