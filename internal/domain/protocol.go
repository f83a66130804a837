package domain

import (
	"time"

	"github.com/holiman/uint256"
)

// ProtocolConfig lending parameters as stored on the wire, in basis points.
type ProtocolConfig struct {
	MaxLtvBps         uint64
	LiquidationLtvBps uint64
	InterestRateBps   uint64
}

// PriceQuote oracle prices, scale implied by field suffix.
type PriceQuote struct {
	BtcUsdE8s  uint256.Int
	UsdcUsdE6s uint256.Int
	IcpUsdE8s  uint256.Int
}

// Position collateral and debt of the active account.
type Position struct {
	// CollateralRaw ckBTC, 8 dp.
	CollateralRaw uint256.Int
	// DebtRaw ckUSDC, 6 dp.
	DebtRaw uint256.Int
}

// Portfolio wallet holdings summary.
type Portfolio struct {
	CkBTC       uint256.Int
	CkUSDC      uint256.Int
	TotalUsdE8s uint256.Int
}

// ProtocolStats aggregate protocol figures.
type ProtocolStats struct {
	TvlUsdE8s         uint256.Int
	TotalBorrowUsdE8s uint256.Int
	UtilizationBps    uint64
}

// Activity single entry of account history.
type Activity struct {
	// Time nanoseconds since epoch.
	Time       uint64
	Kind       string
	Amount     uint256.Int
	Token      string
	BlockIndex uint64
}

// Timestamp converts Time to time.Time.
func (a Activity) Timestamp() time.Time {
	return time.Unix(0, int64(a.Time))
}

// Label returns a short human label for the activity kind.
func (a Activity) Label() string {
	switch a.Kind {
	case "deposit_collateral":
		return "Supply"
	case "withdraw_collateral":
		return "Withdraw"
	case "borrow":
		return "Borrow"
	case "repay":
		return "Repay"
	default:
		return a.Kind
	}
}

// FeeEstimate on-chain withdrawal fees, raw satoshis.
type FeeEstimate struct {
	ServiceFee uint256.Int
	NetworkFee uint256.Int
}

// Total returns service plus network fee.
func (f FeeEstimate) Total() *uint256.Int {
	return new(uint256.Int).Add(&f.ServiceFee, &f.NetworkFee)
}

// SwapResult outcome of a borrow with on-the-fly swap.
type SwapResult struct {
	SwapAmount uint256.Int
	Received   uint256.Int
}

// Erc20Withdrawal outcome of a stablecoin withdrawal to an EVM chain.
type Erc20Withdrawal struct {
	BurnBlockIndex uint64
	WithdrawalID   uint64
}
