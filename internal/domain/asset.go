// Package domain defines core data structures used throughout the lending client.
package domain

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/vadiminshakov/ckvault/pkg/fixedpoint"
)

// Asset fungible token known to the client.
type Asset struct {
	// Symbol ledger symbol, e.g. ckBTC.
	Symbol string
	// Decimals fixed number of fractional digits of the raw representation.
	Decimals uint8
}

var (
	// AssetBTC Bitcoin-wrapped token, 1 unit = 1e8 raw (satoshis).
	AssetBTC = Asset{Symbol: "ckBTC", Decimals: 8}
	// AssetUSD USD-pegged stablecoin, 1 unit = 1e6 raw.
	AssetUSD = Asset{Symbol: "ckUSDC", Decimals: 6}
)

// String returns the symbol.
func (a Asset) String() string {
	return a.Symbol
}

// AssetBySymbol resolves a known asset by symbol, case-insensitive.
func AssetBySymbol(symbol string) (Asset, error) {
	switch strings.ToLower(strings.TrimSpace(symbol)) {
	case "ckbtc", "btc":
		return AssetBTC, nil
	case "ckusdc", "usdc":
		return AssetUSD, nil
	default:
		return Asset{}, fmt.Errorf("unknown asset %q", symbol)
	}
}

// TokenAmount exact fixed-point amount of an asset.
// Raw is always produced by truncation of a sanitized decimal string.
type TokenAmount struct {
	Asset Asset
	Raw   uint256.Int
}

// NewTokenAmount wraps a raw value.
func NewTokenAmount(asset Asset, raw *uint256.Int) TokenAmount {
	amount := TokenAmount{Asset: asset}
	if raw != nil {
		amount.Raw.Set(raw)
	}
	return amount
}

// Decimals returns the asset decimals.
func (t TokenAmount) Decimals() uint8 {
	return t.Asset.Decimals
}

// IsZero reports whether the raw amount is zero.
func (t TokenAmount) IsZero() bool {
	return t.Raw.IsZero()
}

// RawInt returns a copy of the raw value.
func (t TokenAmount) RawInt() *uint256.Int {
	return new(uint256.Int).Set(&t.Raw)
}

// String returns raw value with symbol, e.g. "150000000 ckBTC(e8)".
func (t TokenAmount) String() string {
	return fmt.Sprintf("%s %s(e%d)", t.Raw.Dec(), t.Asset.Symbol, t.Asset.Decimals)
}

// ParseAmount sanitizes user input and converts it with the asset decimals.
func ParseAmount(asset Asset, input string) (TokenAmount, error) {
	raw, err := fixedpoint.ToFixedPoint(fixedpoint.Sanitize(input, int(asset.Decimals)), asset.Decimals)
	if err != nil {
		return TokenAmount{}, NewValidationError("amount", err.Error())
	}
	return NewTokenAmount(asset, raw), nil
}

// Display formats the amount for presentation. Display only.
func (t TokenAmount) Display() string {
	return fixedpoint.ToDisplayString(&t.Raw, t.Asset.Decimals, int(t.Asset.Decimals)) + " " + t.Asset.Symbol
}
