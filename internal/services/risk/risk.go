// Package risk derives loan-to-value and liquidation figures from raw protocol data.
//
// Values that re-enter a transaction (minimum swap output) are computed on
// uint256 integers only. Everything else returns decimal.Decimal and is meant
// for presentation.
package risk

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/pkg/fixedpoint"
)

const (
	bpsScale = 10_000
	// DefaultSlippageBps 1% swap tolerance.
	DefaultSlippageBps = 100

	// MinPreviewPercent and MaxPreviewPercent bound the share of max LTV a preview may target.
	MinPreviewPercent = 25
	MaxPreviewPercent = 70
)

var (
	bps          = decimal.NewFromInt(bpsScale)
	hundred      = decimal.NewFromInt(100)
	monthsInYear = decimal.NewFromInt(12)

	warningHealthFactor = decimal.RequireFromString("1.2")

	e8 = uint256.NewInt(100_000_000)
)

// Rates protocol parameters as fractions, e.g. 0.7 for 7000 bps.
type Rates struct {
	MaxLTV         decimal.Decimal
	LiquidationLTV decimal.Decimal
	InterestRate   decimal.Decimal
}

// NewRates converts the wire basis points into fractional rates.
func NewRates(cfg domain.ProtocolConfig) Rates {
	return Rates{
		MaxLTV:         fromBps(cfg.MaxLtvBps),
		LiquidationLTV: fromBps(cfg.LiquidationLtvBps),
		InterestRate:   fromBps(cfg.InterestRateBps),
	}
}

func fromBps(v uint64) decimal.Decimal {
	return decimal.NewFromUint64(v).Div(bps)
}

// UsdValue returns raw*price/10^decimals. The result keeps the scale of price.
// Saturates at the uint256 maximum.
func UsdValue(raw *uint256.Int, decimals uint8, price *uint256.Int) *uint256.Int {
	if raw == nil || price == nil {
		return new(uint256.Int)
	}
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(decimals)))
	v, overflow := new(uint256.Int).MulDivOverflow(raw, price, scale)
	if overflow {
		return new(uint256.Int).SetAllOne()
	}
	return v
}

// LTV returns debt over collateral, zero when there is no collateral.
func LTV(debtUsd, collateralUsd decimal.Decimal) decimal.Decimal {
	if collateralUsd.Sign() <= 0 {
		return decimal.Zero
	}
	return debtUsd.Div(collateralUsd)
}

// HealthFactor returns liquidationLtv/currentLtv. The second result is false
// when there is no debt outstanding.
func HealthFactor(liquidationLtv, currentLtv decimal.Decimal) (decimal.Decimal, bool) {
	if currentLtv.Sign() <= 0 {
		return decimal.Zero, false
	}
	return liquidationLtv.Div(currentLtv), true
}

// AvailableToBorrow returns collateralUsd*maxLtv - debtUsd floored at zero.
func AvailableToBorrow(collateralUsd, maxLtv, debtUsd decimal.Decimal) decimal.Decimal {
	return decimal.Max(collateralUsd.Mul(maxLtv).Sub(debtUsd), decimal.Zero)
}

// LiquidationPrice returns the collateral price at which the position becomes liquidatable.
func LiquidationPrice(debtUsd, collateralAmount, liquidationLtv decimal.Decimal) (decimal.Decimal, bool) {
	denom := collateralAmount.Mul(liquidationLtv)
	if denom.Sign() <= 0 {
		return decimal.Zero, false
	}
	return debtUsd.Div(denom), true
}

// MinAcceptableOutput returns the lowest stablecoin amount (e6) a swap of
// amountIn (e8) may yield at btcUsdE8s with the given tolerance.
//
// The price is taken as is; it carries no freshness check.
func MinAcceptableOutput(amountIn, btcUsdE8s *uint256.Int, slippageBps uint64) (*uint256.Int, error) {
	if btcUsdE8s == nil || btcUsdE8s.IsZero() {
		return nil, domain.ErrPriceUnavailable
	}
	if slippageBps > bpsScale {
		return nil, domain.NewValidationError("slippage", "must not exceed 10000 bps")
	}
	if amountIn == nil {
		amountIn = new(uint256.Int)
	}

	usdE8, overflow := new(uint256.Int).MulDivOverflow(amountIn, btcUsdE8s, e8)
	if overflow {
		return nil, errors.New("swap value overflows")
	}
	nominalE6 := new(uint256.Int).Div(usdE8, uint256.NewInt(100))

	minOut, _ := new(uint256.Int).MulDivOverflow(
		nominalE6,
		uint256.NewInt(bpsScale-slippageBps),
		uint256.NewInt(bpsScale),
	)
	return minOut, nil
}

// Status coarse risk label of a position.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusWarning      Status = "warning"
	StatusLiquidatable Status = "liquidatable"
)

// Inputs snapshot data a summary is derived from.
type Inputs struct {
	Position domain.Position
	Prices   domain.PriceQuote
	Rates    Rates
}

// Summary display figures of a position.
type Summary struct {
	CollateralBtc    decimal.Decimal  `json:"collateral_btc"`
	CollateralUsd    decimal.Decimal  `json:"collateral_usd"`
	DebtUsd          decimal.Decimal  `json:"debt_usd"`
	LTV              decimal.Decimal  `json:"ltv"`
	HealthFactor     *decimal.Decimal `json:"health_factor,omitempty"`
	Available        decimal.Decimal  `json:"available_to_borrow"`
	LiquidationPrice *decimal.Decimal `json:"liquidation_price,omitempty"`
	MonthlyInterest  decimal.Decimal  `json:"monthly_interest"`
	Status           Status           `json:"status"`
}

// Assess computes the summary of a position.
func Assess(in Inputs) Summary {
	collateralBtc := fixedpoint.ToDecimal(&in.Position.CollateralRaw, domain.AssetBTC.Decimals)
	collateralUsd := fixedpoint.ToDecimal(
		UsdValue(&in.Position.CollateralRaw, domain.AssetBTC.Decimals, &in.Prices.BtcUsdE8s), 8)
	debtUsd := stableUsd(&in.Position.DebtRaw, &in.Prices.UsdcUsdE6s)

	s := Summary{
		CollateralBtc:   collateralBtc,
		CollateralUsd:   collateralUsd,
		DebtUsd:         debtUsd,
		LTV:             LTV(debtUsd, collateralUsd),
		Available:       AvailableToBorrow(collateralUsd, in.Rates.MaxLTV, debtUsd),
		MonthlyInterest: debtUsd.Mul(in.Rates.InterestRate).Div(monthsInYear),
		Status:          StatusHealthy,
	}

	if hf, ok := HealthFactor(in.Rates.LiquidationLTV, s.LTV); ok {
		s.HealthFactor = &hf
		s.Status = statusOf(hf)
	}
	if lp, ok := LiquidationPrice(debtUsd, collateralBtc, in.Rates.LiquidationLTV); ok && debtUsd.Sign() > 0 {
		s.LiquidationPrice = &lp
	}

	return s
}

func statusOf(hf decimal.Decimal) Status {
	switch {
	case hf.LessThanOrEqual(decimal.NewFromInt(1)):
		return StatusLiquidatable
	case hf.LessThan(warningHealthFactor):
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// stableUsd values a stablecoin balance, an unset price means the 1.00 peg.
func stableUsd(raw, priceE6 *uint256.Int) decimal.Decimal {
	units := fixedpoint.ToDecimal(raw, domain.AssetUSD.Decimals)
	if priceE6.IsZero() {
		return units
	}
	return units.Mul(fixedpoint.ToDecimal(priceE6, 6))
}

// Preview projected figures for a prospective borrow.
type Preview struct {
	CollateralUsd    decimal.Decimal  `json:"collateral_usd"`
	BorrowUsd        decimal.Decimal  `json:"borrow_usd"`
	LTV              decimal.Decimal  `json:"ltv"`
	HealthFactor     *decimal.Decimal `json:"health_factor,omitempty"`
	LiquidationPrice *decimal.Decimal `json:"liquidation_price,omitempty"`
	MonthlyInterest  decimal.Decimal  `json:"monthly_interest"`
}

// PreviewBorrow projects borrowing ltvPercent of the max LTV against collateralRaw (e8).
func PreviewBorrow(collateralRaw *uint256.Int, ltvPercent int, btcUsdE8s *uint256.Int, rates Rates) (Preview, error) {
	if ltvPercent < MinPreviewPercent || ltvPercent > MaxPreviewPercent {
		return Preview{}, domain.NewValidationError("ltv percent", "must be between 25 and 70")
	}
	if btcUsdE8s == nil || btcUsdE8s.IsZero() {
		return Preview{}, domain.ErrPriceUnavailable
	}

	collateralBtc := fixedpoint.ToDecimal(collateralRaw, domain.AssetBTC.Decimals)
	collateralUsd := fixedpoint.ToDecimal(UsdValue(collateralRaw, domain.AssetBTC.Decimals, btcUsdE8s), 8)
	borrow := collateralUsd.Mul(decimal.NewFromInt(int64(ltvPercent))).Div(hundred).Mul(rates.MaxLTV)

	p := Preview{
		CollateralUsd:   collateralUsd,
		BorrowUsd:       borrow,
		LTV:             LTV(borrow, collateralUsd),
		MonthlyInterest: borrow.Mul(rates.InterestRate).Div(monthsInYear),
	}
	if hf, ok := HealthFactor(rates.LiquidationLTV, p.LTV); ok {
		p.HealthFactor = &hf
	}
	if lp, ok := LiquidationPrice(borrow, collateralBtc, rates.LiquidationLTV); ok && borrow.Sign() > 0 {
		p.LiquidationPrice = &lp
	}

	return p, nil
}
