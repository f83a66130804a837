// Package orchestrator sequences multi-step remote transactions.
//
// Every action runs as Idle -> ordered phases -> Done | Failed. A phase starts
// only after the previous one succeeded, a failure halts the flow and nothing
// completed earlier is rolled back. Failures never escape as errors or panics;
// they end in PhaseFailed with a normalized message.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/services/risk"
)

// Ledger fungible token ledger of a single asset.
type Ledger interface {
	BalanceOf(ctx context.Context, owner string) (*uint256.Int, error)
	Approve(ctx context.Context, spender string, amount *uint256.Int, expiresAt *time.Time) (uint64, error)
	Transfer(ctx context.Context, to string, amount *uint256.Int) (uint64, error)
}

// Protocol mutating and pricing calls of the lending protocol.
type Protocol interface {
	GetPrices(ctx context.Context) (domain.PriceQuote, error)
	DepositCollateral(ctx context.Context, amount *uint256.Int) (uint64, error)
	WithdrawCollateral(ctx context.Context, amount *uint256.Int) (uint64, error)
	Borrow(ctx context.Context, amount *uint256.Int) (uint64, error)
	BorrowWithSwap(ctx context.Context, amountIn, minOut *uint256.Int, recipient string) (domain.SwapResult, error)
}

// Bridge Bitcoin bridge withdrawal calls.
type Bridge interface {
	EstimateWithdrawalFee(ctx context.Context, amount *uint256.Int) (domain.FeeEstimate, error)
	WithdrawOnChain(ctx context.Context, address string, amount *uint256.Int) (uint64, error)
}

// EvmBridge stablecoin bridge to an EVM chain.
type EvmBridge interface {
	WithdrawErc20(ctx context.Context, address string, amount *uint256.Int) (domain.Erc20Withdrawal, error)
}

// Journal persists flow transitions.
type Journal interface {
	Append(f Flow) error
}

// Services remote collaborators of the orchestrator.
type Services struct {
	BTC       Ledger
	USD       Ledger
	Protocol  Protocol
	Bridge    Bridge
	EvmBridge EvmBridge
}

// Settings account and spender identities plus the swap tolerance.
type Settings struct {
	Account          string
	ProtocolSpender  string
	BtcMinterSpender string
	EthMinterSpender string
	SlippageBps      uint64
}

// Orchestrator runs flows. It keeps no per-flow state and is safe for concurrent use.
type Orchestrator struct {
	l         *zap.Logger
	svc       Services
	settings  Settings
	journal   Journal
	observers []Observer
	metrics   *flowMetrics
	now       func() time.Time
}

// New creates an orchestrator. journal may be nil.
func New(l *zap.Logger, svc Services, settings Settings, journal Journal, observers ...Observer) *Orchestrator {
	if settings.SlippageBps == 0 {
		settings.SlippageBps = risk.DefaultSlippageBps
	}
	return &Orchestrator{
		l:         l,
		svc:       svc,
		settings:  settings,
		journal:   journal,
		observers: observers,
		metrics:   defaultFlowMetrics(),
		now:       time.Now,
	}
}

type phase struct {
	name Phase
	kind domain.StepKind
	// bestEffort failures are logged and the flow moves on.
	bestEffort bool
	run        func(ctx context.Context) (*uint64, error)
}

// Supply approves the protocol to pull amount of collateral and deposits it.
func (o *Orchestrator) Supply(ctx context.Context, amount domain.TokenAmount) Flow {
	raw := amount.RawInt()
	var res Result

	return o.execute(ctx, ActionSupply, &res, func() error {
		return requireAmount(amount, domain.AssetBTC)
	}, []phase{
		{name: PhaseCheckingBalance, run: func(ctx context.Context) (*uint64, error) {
			balance, err := o.svc.BTC.BalanceOf(ctx, o.settings.Account)
			if err != nil {
				return nil, err
			}
			if raw.Gt(balance) {
				return nil, fmt.Errorf("%w: available %s", domain.ErrInsufficientBalance,
					domain.NewTokenAmount(domain.AssetBTC, balance).Display())
			}
			return nil, nil
		}},
		{name: PhaseApproving, kind: domain.StepApprove, run: func(ctx context.Context) (*uint64, error) {
			return index(o.svc.BTC.Approve(ctx, o.settings.ProtocolSpender, raw, nil))
		}},
		{name: PhaseDepositing, kind: domain.StepDeposit, run: func(ctx context.Context) (*uint64, error) {
			bi, err := index(o.svc.Protocol.DepositCollateral(ctx, raw))
			res.BlockIndex = bi
			return bi, err
		}},
	})
}

// Borrow draws stablecoin against the supplied collateral.
func (o *Orchestrator) Borrow(ctx context.Context, amount domain.TokenAmount) Flow {
	raw := amount.RawInt()
	var res Result

	return o.execute(ctx, ActionBorrow, &res, func() error {
		return requireAmount(amount, domain.AssetUSD)
	}, []phase{
		{name: PhaseSubmitting, kind: domain.StepBorrow, run: func(ctx context.Context) (*uint64, error) {
			bi, err := index(o.svc.Protocol.Borrow(ctx, raw))
			res.BlockIndex = bi
			return bi, err
		}},
	})
}

// BorrowWithSwap supplies amountIn of collateral and receives stablecoin in a
// single server-side bundle. The minimum output is fixed before the swap call.
func (o *Orchestrator) BorrowWithSwap(ctx context.Context, amountIn domain.TokenAmount) Flow {
	raw := amountIn.RawInt()
	var (
		res    Result
		minOut *uint256.Int
	)

	return o.execute(ctx, ActionBorrowWithSwap, &res, func() error {
		return requireAmount(amountIn, domain.AssetBTC)
	}, []phase{
		{name: PhasePricing, run: func(ctx context.Context) (*uint64, error) {
			prices, err := o.svc.Protocol.GetPrices(ctx)
			if err != nil {
				return nil, err
			}
			minOut, err = risk.MinAcceptableOutput(raw, &prices.BtcUsdE8s, o.settings.SlippageBps)
			if err != nil {
				return nil, err
			}
			res.MinOut = minOut
			return nil, nil
		}},
		{name: PhaseSwapping, kind: domain.StepSwap, run: func(ctx context.Context) (*uint64, error) {
			swap, err := o.svc.Protocol.BorrowWithSwap(ctx, raw, minOut, o.settings.Account)
			if err != nil {
				return nil, err
			}
			res.Swap = &swap
			return nil, nil
		}},
	})
}

// WithdrawCollateral returns collateral from the protocol to the wallet.
func (o *Orchestrator) WithdrawCollateral(ctx context.Context, amount domain.TokenAmount) Flow {
	raw := amount.RawInt()
	var res Result

	return o.execute(ctx, ActionWithdrawCollateral, &res, func() error {
		return requireAmount(amount, domain.AssetBTC)
	}, []phase{
		{name: PhaseSubmitting, kind: domain.StepWithdraw, run: func(ctx context.Context) (*uint64, error) {
			bi, err := index(o.svc.Protocol.WithdrawCollateral(ctx, raw))
			res.BlockIndex = bi
			return bi, err
		}},
	})
}

// WithdrawOnChain burns wrapped collateral and sends Bitcoin to address.
func (o *Orchestrator) WithdrawOnChain(ctx context.Context, address string, amount domain.TokenAmount) Flow {
	address = strings.TrimSpace(address)
	raw := amount.RawInt()
	var res Result

	return o.execute(ctx, ActionWithdrawOnChain, &res, func() error {
		if err := requireAmount(amount, domain.AssetBTC); err != nil {
			return err
		}
		return domain.ValidateBitcoinAddress(address)
	}, []phase{
		{name: PhaseEstimatingFee, bestEffort: true, run: func(ctx context.Context) (*uint64, error) {
			fee, err := o.svc.Bridge.EstimateWithdrawalFee(ctx, raw)
			if err != nil {
				return nil, err
			}
			res.Fee = &fee
			return nil, nil
		}},
		{name: PhaseApproving, kind: domain.StepApprove, run: func(ctx context.Context) (*uint64, error) {
			return index(o.svc.BTC.Approve(ctx, o.settings.BtcMinterSpender, raw, nil))
		}},
		{name: PhaseSubmitting, kind: domain.StepWithdraw, run: func(ctx context.Context) (*uint64, error) {
			bi, err := index(o.svc.Bridge.WithdrawOnChain(ctx, address, raw))
			res.BlockIndex = bi
			return bi, err
		}},
	})
}

// WithdrawStable burns stablecoin and releases its EVM counterpart to address.
func (o *Orchestrator) WithdrawStable(ctx context.Context, address string, amount domain.TokenAmount) Flow {
	address = strings.TrimSpace(address)
	raw := amount.RawInt()
	var res Result

	return o.execute(ctx, ActionWithdrawStable, &res, func() error {
		if err := requireAmount(amount, domain.AssetUSD); err != nil {
			return err
		}
		return domain.ValidateEvmAddress(address)
	}, []phase{
		{name: PhaseApproving, kind: domain.StepApprove, run: func(ctx context.Context) (*uint64, error) {
			return index(o.svc.USD.Approve(ctx, o.settings.EthMinterSpender, raw, nil))
		}},
		{name: PhaseSubmitting, kind: domain.StepWithdraw, run: func(ctx context.Context) (*uint64, error) {
			w, err := o.svc.EvmBridge.WithdrawErc20(ctx, address, raw)
			if err != nil {
				return nil, err
			}
			res.Withdrawal = &w
			bi := w.BurnBlockIndex
			res.BlockIndex = &bi
			return &bi, nil
		}},
	})
}

// Send transfers amount to another account on the asset's ledger.
func (o *Orchestrator) Send(ctx context.Context, to string, amount domain.TokenAmount) Flow {
	to = strings.TrimSpace(to)
	raw := amount.RawInt()
	var res Result

	return o.execute(ctx, ActionSend, &res, func() error {
		if amount.IsZero() {
			return domain.NewValidationError("amount", "must be greater than zero")
		}
		if _, err := o.ledgerFor(amount.Asset); err != nil {
			return err
		}
		return domain.ValidateAccount(to)
	}, []phase{
		{name: PhaseSubmitting, kind: domain.StepTransfer, run: func(ctx context.Context) (*uint64, error) {
			ledger, err := o.ledgerFor(amount.Asset)
			if err != nil {
				return nil, err
			}
			bi, err := index(ledger.Transfer(ctx, to, raw))
			res.BlockIndex = bi
			return bi, err
		}},
	})
}

func (o *Orchestrator) ledgerFor(asset domain.Asset) (Ledger, error) {
	switch asset {
	case domain.AssetBTC:
		return o.svc.BTC, nil
	case domain.AssetUSD:
		return o.svc.USD, nil
	default:
		return nil, domain.NewValidationError("asset", fmt.Sprintf("unsupported asset %s", asset))
	}
}

// execute drives phases over a fresh Flow.
func (o *Orchestrator) execute(ctx context.Context, action Action, res *Result, validate func() error, phases []phase) Flow {
	now := o.now()
	f := &Flow{
		ID:        uuid.New().String(),
		Action:    action,
		Phase:     PhaseIdle,
		StartedAt: now,
		UpdatedAt: now,
	}
	l := o.l.With(zap.String("flow_id", f.ID), zap.String("action", string(action)))
	o.emit(l, f)

	if err := guard(validate); err != nil {
		l.Info("flow rejected", zap.Error(err))
		f.fail(err, o.now())
		return o.finish(l, f, res)
	}

	for _, p := range phases {
		f.enter(p.name, p.kind, o.now())
		f.Result = *res
		o.emit(l, f)

		var blockIndex *uint64
		err := guard(func() error {
			var e error
			blockIndex, e = p.run(ctx)
			return e
		})
		if err != nil {
			if p.bestEffort {
				l.Warn("best-effort phase failed", zap.String("phase", string(p.name)), zap.Error(err))
				continue
			}
			l.Error("flow failed", zap.String("phase", string(p.name)), zap.Error(err))
			f.fail(err, o.now())
			return o.finish(l, f, res)
		}

		if p.kind != "" {
			f.stepSucceeded(blockIndex, o.now())
		}
	}

	f.done(o.now())
	l.Info("flow done")
	return o.finish(l, f, res)
}

func (o *Orchestrator) finish(l *zap.Logger, f *Flow, res *Result) Flow {
	f.Result = *res
	o.emit(l, f)
	o.metrics.observe(*f)
	return f.Clone()
}

func (o *Orchestrator) emit(l *zap.Logger, f *Flow) {
	snapshot := f.Clone()
	if o.journal != nil {
		if err := o.journal.Append(snapshot); err != nil {
			l.Warn("failed to journal flow transition", zap.Error(err))
		}
	}
	for _, observe := range o.observers {
		observe(snapshot.Clone())
	}
}

// guard runs fn and converts a panic into errPanic.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(errPanic, "recovered: %v", r)
		}
	}()
	return fn()
}

func requireAmount(amount domain.TokenAmount, asset domain.Asset) error {
	if amount.Asset != asset {
		return domain.NewValidationError("asset", fmt.Sprintf("expected %s, got %s", asset, amount.Asset))
	}
	if amount.IsZero() {
		return domain.NewValidationError("amount", "must be greater than zero")
	}
	return nil
}

func index(bi uint64, err error) (*uint64, error) {
	if err != nil {
		return nil, err
	}
	return &bi, nil
}
