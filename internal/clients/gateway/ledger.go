package gateway

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

// Ledger fungible token ledger of one asset.
type Ledger struct {
	c       *Client
	service string
	asset   domain.Asset
}

// Ledger returns the ledger adapter for asset.
func (c *Client) Ledger(asset domain.Asset) (*Ledger, error) {
	switch asset {
	case domain.AssetBTC:
		return &Ledger{c: c, service: serviceBtcLedger, asset: asset}, nil
	case domain.AssetUSD:
		return &Ledger{c: c, service: serviceUsdLedger, asset: asset}, nil
	default:
		return nil, errors.Errorf("no ledger for asset %s", asset)
	}
}

// Asset served by the ledger.
func (l *Ledger) Asset() domain.Asset {
	return l.asset
}

// BalanceOf returns the raw balance of owner's default account.
func (l *Ledger) BalanceOf(ctx context.Context, owner string) (*uint256.Int, error) {
	var balance Nat
	if err := l.c.call(ctx, l.service, "icrc1_balance_of", defaultAccount(owner), &balance); err != nil {
		return nil, err
	}
	return balance.Int(), nil
}

type approveArgs struct {
	Spender           Account     `json:"spender"`
	Amount            Nat         `json:"amount"`
	Fee               Opt[Nat]    `json:"fee"`
	Memo              Opt[string] `json:"memo"`
	FromSubaccount    Opt[string] `json:"from_subaccount"`
	CreatedAtTime     Opt[uint64] `json:"created_at_time"`
	ExpectedAllowance Opt[Nat]    `json:"expected_allowance"`
	ExpiresAt         Opt[uint64] `json:"expires_at"`
}

// Approve authorizes spender to pull exactly amount. expiresAt nil means no expiry.
func (l *Ledger) Approve(ctx context.Context, spender string, amount *uint256.Int, expiresAt *time.Time) (uint64, error) {
	args := approveArgs{
		Spender:           defaultAccount(spender),
		Amount:            NatFrom(amount),
		Fee:               None[Nat](),
		Memo:              None[string](),
		FromSubaccount:    None[string](),
		CreatedAtTime:     None[uint64](),
		ExpectedAllowance: None[Nat](),
		ExpiresAt:         None[uint64](),
	}
	if expiresAt != nil {
		args.ExpiresAt = Some(uint64(expiresAt.UnixNano()))
	}

	const method = "icrc2_approve"
	var res Result[Nat]
	if err := l.c.call(ctx, l.service, method, args, &res); err != nil {
		return 0, err
	}
	idx, err := res.Unwrap(l.service + "." + method)
	if err != nil {
		return 0, err
	}
	return blockIndex(l.service+"."+method, idx)
}

type transferArgs struct {
	To             Account     `json:"to"`
	Amount         Nat         `json:"amount"`
	Fee            Opt[Nat]    `json:"fee"`
	Memo           Opt[string] `json:"memo"`
	FromSubaccount Opt[string] `json:"from_subaccount"`
	CreatedAtTime  Opt[uint64] `json:"created_at_time"`
}

// Transfer moves amount to the default account of to.
func (l *Ledger) Transfer(ctx context.Context, to string, amount *uint256.Int) (uint64, error) {
	args := transferArgs{
		To:             defaultAccount(to),
		Amount:         NatFrom(amount),
		Fee:            None[Nat](),
		Memo:           None[string](),
		FromSubaccount: None[string](),
		CreatedAtTime:  None[uint64](),
	}

	const method = "icrc1_transfer"
	var res Result[Nat]
	if err := l.c.call(ctx, l.service, method, args, &res); err != nil {
		return 0, err
	}
	idx, err := res.Unwrap(l.service + "." + method)
	if err != nil {
		return 0, err
	}
	return blockIndex(l.service+"."+method, idx)
}
