package gateway

import (
	"context"
	"sort"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

// Protocol adapter of the lending protocol service.
type Protocol struct {
	c *Client
}

// Protocol returns the lending protocol adapter.
func (c *Client) Protocol() *Protocol {
	return &Protocol{c: c}
}

type ownerArgs struct {
	Owner string `json:"owner"`
}

type portfolioWire struct {
	CkBTC       Nat `json:"ckbtc"`
	CkUSDC      Nat `json:"ckusdc"`
	TotalUsdE8s Nat `json:"total_usd_e8s"`
}

// GetPortfolio wallet balances of account.
func (p *Protocol) GetPortfolio(ctx context.Context, account string) (domain.Portfolio, error) {
	var w portfolioWire
	if err := p.c.call(ctx, serviceProtocol, "get_portfolio", ownerArgs{Owner: account}, &w); err != nil {
		return domain.Portfolio{}, err
	}
	return domain.Portfolio{CkBTC: w.CkBTC.v, CkUSDC: w.CkUSDC.v, TotalUsdE8s: w.TotalUsdE8s.v}, nil
}

type positionWire struct {
	CollateralCkbtc Nat `json:"collateral_ckbtc"`
	DebtCkusdc      Nat `json:"debt_ckusdc"`
}

// GetPosition collateral and debt of account.
func (p *Protocol) GetPosition(ctx context.Context, account string) (domain.Position, error) {
	var w positionWire
	if err := p.c.call(ctx, serviceProtocol, "get_position", ownerArgs{Owner: account}, &w); err != nil {
		return domain.Position{}, err
	}
	return domain.Position{CollateralRaw: w.CollateralCkbtc.v, DebtRaw: w.DebtCkusdc.v}, nil
}

type pricesWire struct {
	BtcUsdE8s  Nat `json:"btc_usd_e8s"`
	UsdcUsdE6s Nat `json:"usdc_usd_e6s"`
	IcpUsdE8s  Nat `json:"icp_usd_e8s"`
}

// GetPrices current oracle prices.
func (p *Protocol) GetPrices(ctx context.Context) (domain.PriceQuote, error) {
	var w pricesWire
	if err := p.c.call(ctx, serviceProtocol, "get_prices", nil, &w); err != nil {
		return domain.PriceQuote{}, err
	}
	return domain.PriceQuote{BtcUsdE8s: w.BtcUsdE8s.v, UsdcUsdE6s: w.UsdcUsdE6s.v, IcpUsdE8s: w.IcpUsdE8s.v}, nil
}

type configWire struct {
	MaxLtvBps         Nat `json:"maxLTVBps"`
	LiquidationLtvBps Nat `json:"liquidationLTVBps"`
	InterestRateBps   Nat `json:"interestRateBps"`
}

// GetProtocolConfig risk parameters in basis points.
func (p *Protocol) GetProtocolConfig(ctx context.Context) (domain.ProtocolConfig, error) {
	const op = serviceProtocol + ".get_protocol_config"
	var w configWire
	if err := p.c.call(ctx, serviceProtocol, "get_protocol_config", nil, &w); err != nil {
		return domain.ProtocolConfig{}, err
	}

	var cfg domain.ProtocolConfig
	for _, f := range []struct {
		dst *uint64
		src Nat
	}{
		{&cfg.MaxLtvBps, w.MaxLtvBps},
		{&cfg.LiquidationLtvBps, w.LiquidationLtvBps},
		{&cfg.InterestRateBps, w.InterestRateBps},
	} {
		v, ok := f.src.Uint64()
		if !ok {
			return domain.ProtocolConfig{}, &domain.TransportError{Op: op, Err: errors.New("basis points overflow uint64")}
		}
		*f.dst = v
	}
	return cfg, nil
}

type statsWire struct {
	TvlUsdE8s         Nat `json:"tvl_usd_e8s"`
	TotalBorrowUsdE8s Nat `json:"total_borrow_usd_e8s"`
	UtilizationBps    Nat `json:"utilization_bps"`
}

// GetProtocolStats aggregate protocol figures.
func (p *Protocol) GetProtocolStats(ctx context.Context) (domain.ProtocolStats, error) {
	var w statsWire
	if err := p.c.call(ctx, serviceProtocol, "get_protocol_stats", nil, &w); err != nil {
		return domain.ProtocolStats{}, err
	}
	utilization, _ := w.UtilizationBps.Uint64()
	return domain.ProtocolStats{
		TvlUsdE8s:         w.TvlUsdE8s.v,
		TotalBorrowUsdE8s: w.TotalBorrowUsdE8s.v,
		UtilizationBps:    utilization,
	}, nil
}

type activityWire struct {
	Time       Nat    `json:"time"`
	Kind       string `json:"kind"`
	Amount     Nat    `json:"amount"`
	Token      string `json:"token"`
	BlockIndex Nat    `json:"block_index"`
}

// GetActivity history of account, newest first.
func (p *Protocol) GetActivity(ctx context.Context, account string) ([]domain.Activity, error) {
	var w []activityWire
	if err := p.c.call(ctx, serviceProtocol, "get_activity", ownerArgs{Owner: account}, &w); err != nil {
		return nil, err
	}

	out := make([]domain.Activity, 0, len(w))
	for _, a := range w {
		ts, _ := a.Time.Uint64()
		idx, _ := a.BlockIndex.Uint64()
		out = append(out, domain.Activity{
			Time:       ts,
			Kind:       a.Kind,
			Amount:     a.Amount.v,
			Token:      a.Token,
			BlockIndex: idx,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time > out[j].Time })

	return out, nil
}

type amountArgs struct {
	Amount Nat `json:"amount"`
}

// DepositCollateral pulls amount of approved ckBTC into the position.
func (p *Protocol) DepositCollateral(ctx context.Context, amount *uint256.Int) (uint64, error) {
	return p.mutate(ctx, "deposit_collateral", amountArgs{Amount: NatFrom(amount)})
}

// WithdrawCollateral returns amount of ckBTC collateral to the wallet.
func (p *Protocol) WithdrawCollateral(ctx context.Context, amount *uint256.Int) (uint64, error) {
	return p.mutate(ctx, "withdraw_collateral", amountArgs{Amount: NatFrom(amount)})
}

// Borrow draws amount of ckUSDC against the collateral.
func (p *Protocol) Borrow(ctx context.Context, amount *uint256.Int) (uint64, error) {
	return p.mutate(ctx, "borrow", amountArgs{Amount: NatFrom(amount)})
}

func (p *Protocol) mutate(ctx context.Context, method string, args any) (uint64, error) {
	op := serviceProtocol + "." + method
	var res Result[Nat]
	if err := p.c.call(ctx, serviceProtocol, method, args, &res); err != nil {
		return 0, err
	}
	idx, err := res.Unwrap(op)
	if err != nil {
		return 0, err
	}
	return blockIndex(op, idx)
}

type swapArgs struct {
	AmountIn  Nat    `json:"amount_in"`
	MinOut    Nat    `json:"min_out"`
	Recipient string `json:"recipient"`
}

type swapWire struct {
	SwapAmount Nat `json:"swap_amount"`
	Received   Nat `json:"received"`
}

// BorrowWithSwap borrows and swaps in one call; the protocol rejects outputs below minOut.
func (p *Protocol) BorrowWithSwap(ctx context.Context, amountIn, minOut *uint256.Int, recipient string) (domain.SwapResult, error) {
	const method = "borrow_with_swap"
	args := swapArgs{AmountIn: NatFrom(amountIn), MinOut: NatFrom(minOut), Recipient: recipient}

	var res Result[swapWire]
	if err := p.c.call(ctx, serviceProtocol, method, args, &res); err != nil {
		return domain.SwapResult{}, err
	}
	w, err := res.Unwrap(serviceProtocol + "." + method)
	if err != nil {
		return domain.SwapResult{}, err
	}
	return domain.SwapResult{SwapAmount: w.SwapAmount.v, Received: w.Received.v}, nil
}
