package fixedpoint

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decimals int
		want     string
	}{
		{"empty", "", 8, ""},
		{"digits only", "123", 8, "123"},
		{"strips letters and spaces", " 1a2b3 ", 8, "123"},
		{"keeps first dot only", "1.2.3", 8, "1.23"},
		{"truncates fraction", "12.345678901", 8, "12.34567890"},
		{"trailing dot kept", "5.", 6, "5."},
		{"leading dot", ".5", 6, ".5"},
		{"zero decimals drops fraction", "7.99", 0, "7."},
		{"comma is not a separator", "1,000.50", 6, "1000.50"},
		{"negative sign stripped", "-3.1", 8, "3.1"},
		{"unicode digits stripped", "１２3", 8, "3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input, tt.decimals))
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	inputs := []string{"", ".", "..", "abc", "0.000000001", "1.2.3.4", "99999.999999999", "  12 . 5 ", "00012.3400"}
	for _, d := range []int{0, 2, 6, 8} {
		for _, in := range inputs {
			once := Sanitize(in, d)
			assert.Equal(t, once, Sanitize(once, d), "input %q decimals %d", in, d)
		}
	}
}

func TestToFixedPoint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		decimals uint8
		want     uint64
	}{
		{"empty is zero", "", 8, 0},
		{"dot only is zero", ".", 8, 0},
		{"whole", "1", 8, 100000000},
		{"pads fraction", "1.5", 6, 1500000},
		{"missing whole part", ".25", 6, 250000},
		{"truncates never rounds", "0.999999999", 8, 99999999},
		{"leading zeros", "0001.00000001", 8, 100000001},
		{"zero decimals", "42.9", 0, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToFixedPoint(tt.input, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Uint64())
		})
	}
}

func TestToFixedPoint_SanitizedPrecision(t *testing.T) {
	got, err := ToFixedPoint(Sanitize("12.345678901", 8), 8)
	require.NoError(t, err)
	assert.Equal(t, uint64(1234567890), got.Uint64())
}

func TestToFixedPoint_Errors(t *testing.T) {
	_, err := ToFixedPoint("1e5", 8)
	assert.Error(t, err)

	_, err = ToFixedPoint("1.2.3", 8)
	assert.Error(t, err)

	// 2^256 does not fit
	_, err = ToFixedPoint("115792089237316195423570985008687907853269984665640564039457584007913129639936", 0)
	assert.Error(t, err)

	_, err = ToFixedPoint("1", MaxDecimals+1)
	assert.Error(t, err)
}

func TestToDisplayString(t *testing.T) {
	tests := []struct {
		name      string
		raw       uint64
		decimals  uint8
		maxDigits int
		want      string
	}{
		{"zero", 0, 8, 8, "0"},
		{"one unit", 100000000, 8, 8, "1"},
		{"sub unit", 1, 8, 8, "0.00000001"},
		{"trims trailing zeros", 150000000, 8, 8, "1.5"},
		{"truncates to max digits", 123456789, 8, 4, "1.2345"},
		{"zero fraction digits", 1999999, 6, 0, "1"},
		{"stablecoin", 2500000, 6, 2, "2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToDisplayString(uint256.NewInt(tt.raw), tt.decimals, tt.maxDigits))
		})
	}

	assert.Equal(t, "0", ToDisplayString(nil, 8, 8))
}

func TestToDecimal(t *testing.T) {
	assert.Equal(t, "1.5", ToDecimal(uint256.NewInt(150000000), 8).String())
	assert.Equal(t, "0.000001", ToDecimal(uint256.NewInt(1), 6).String())
	assert.True(t, ToDecimal(nil, 8).IsZero())
}
