// Package fixedpoint converts user-typed decimal strings into exact fixed-point integers and back.
//
// Transaction-critical amounts only ever flow string -> Sanitize -> ToFixedPoint.
// ToDisplayString and ToDecimal are presentation helpers; their output must not be
// fed back into ToFixedPoint for an amount that is submitted on-chain.
package fixedpoint

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MaxDecimals upper bound for a 256-bit value to have any whole digits left.
const MaxDecimals = 77

// Sanitize strips everything except digits and the first decimal point,
// and truncates the fractional part to maxDecimals digits.
// Never fails; empty input stays empty and represents zero.
func Sanitize(input string, maxDecimals int) string {
	if maxDecimals < 0 {
		maxDecimals = 0
	}

	var whole, frac strings.Builder
	seenDot := false
	fracDigits := 0
	for _, r := range input {
		switch {
		case r >= '0' && r <= '9':
			if !seenDot {
				whole.WriteRune(r)
				continue
			}
			if fracDigits < maxDecimals {
				frac.WriteRune(r)
				fracDigits++
			}
		case r == '.':
			seenDot = true
		}
	}

	if !seenDot {
		return whole.String()
	}
	return whole.String() + "." + frac.String()
}

// ToFixedPoint converts a sanitized decimal string into an integer with exactly
// decimals fractional digits. Excess fractional digits are truncated, never rounded.
// A missing whole part and empty input both mean zero.
func ToFixedPoint(s string, decimals uint8) (*uint256.Int, error) {
	if int(decimals) > MaxDecimals {
		return nil, fmt.Errorf("decimals %d exceeds %d", decimals, MaxDecimals)
	}

	whole, frac, _ := strings.Cut(s, ".")
	if !isDigits(whole) || !isDigits(frac) {
		return nil, fmt.Errorf("malformed decimal %q", s)
	}

	d := int(decimals)
	if len(frac) > d {
		frac = frac[:d]
	} else {
		frac += strings.Repeat("0", d-len(frac))
	}

	literal := strings.TrimLeft(whole+frac, "0")
	if literal == "" {
		return new(uint256.Int), nil
	}

	v, err := uint256.FromDecimal(literal)
	if err != nil {
		return nil, fmt.Errorf("decimal %q does not fit 256 bits: %w", s, err)
	}
	return v, nil
}

// ToDisplayString formats raw for presentation with at most maxFractionDigits
// fractional digits (truncated) and without trailing zeros.
func ToDisplayString(raw *uint256.Int, decimals uint8, maxFractionDigits int) string {
	if raw == nil {
		raw = new(uint256.Int)
	}

	digits := raw.Dec()
	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}

	whole := digits[:len(digits)-d]
	frac := digits[len(digits)-d:]
	if maxFractionDigits >= 0 && len(frac) > maxFractionDigits {
		frac = frac[:maxFractionDigits]
	}
	frac = strings.TrimRight(frac, "0")

	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ToDecimal converts raw into a display decimal. Display only.
func ToDecimal(raw *uint256.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw.ToBig(), -int32(decimals))
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
