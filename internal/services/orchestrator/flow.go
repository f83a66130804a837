package orchestrator

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

// Action user-level operation driven by the orchestrator.
type Action string

const (
	ActionSupply             Action = "supply"
	ActionBorrow             Action = "borrow"
	ActionBorrowWithSwap     Action = "borrow_with_swap"
	ActionWithdrawCollateral Action = "withdraw_collateral"
	ActionWithdrawOnChain    Action = "withdraw_on_chain"
	ActionWithdrawStable     Action = "withdraw_stable"
	ActionSend               Action = "send"
)

// Actions lists every action in a stable order.
var Actions = []Action{
	ActionSupply,
	ActionBorrow,
	ActionBorrowWithSwap,
	ActionWithdrawCollateral,
	ActionWithdrawOnChain,
	ActionWithdrawStable,
	ActionSend,
}

// Phase state of a flow.
type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseCheckingBalance Phase = "checking_balance"
	PhasePricing         Phase = "pricing"
	PhaseEstimatingFee   Phase = "estimating_fee"
	PhaseApproving       Phase = "approving"
	PhaseDepositing      Phase = "depositing"
	PhaseSwapping        Phase = "swapping"
	PhaseSubmitting      Phase = "submitting"
	PhaseDone            Phase = "done"
	PhaseFailed          Phase = "failed"
)

// Terminal reports whether no further transition can happen.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Result values produced by a successful flow. Fields are set per action.
type Result struct {
	BlockIndex *uint64
	MinOut     *uint256.Int
	Swap       *domain.SwapResult
	Fee        *domain.FeeEstimate
	Withdrawal *domain.Erc20Withdrawal
}

// Flow state of one orchestrated invocation. Each invocation owns its Flow.
type Flow struct {
	ID     string
	Action Action
	Phase  Phase
	// FailedAt phase that was active when the flow failed.
	FailedAt  Phase
	Steps     []domain.TransactionStep
	Error     string
	Result    Result
	StartedAt time.Time
	UpdatedAt time.Time
}

// Succeeded reports whether the flow reached Done.
func (f Flow) Succeeded() bool {
	return f.Phase == PhaseDone
}

// Clone returns a copy that shares no mutable state with f.
func (f Flow) Clone() Flow {
	c := f
	c.Steps = make([]domain.TransactionStep, len(f.Steps))
	for i, s := range f.Steps {
		if s.BlockIndex != nil {
			bi := *s.BlockIndex
			s.BlockIndex = &bi
		}
		c.Steps[i] = s
	}
	if f.Result.BlockIndex != nil {
		bi := *f.Result.BlockIndex
		c.Result.BlockIndex = &bi
	}
	if f.Result.MinOut != nil {
		c.Result.MinOut = new(uint256.Int).Set(f.Result.MinOut)
	}
	if f.Result.Swap != nil {
		s := *f.Result.Swap
		c.Result.Swap = &s
	}
	if f.Result.Fee != nil {
		fee := *f.Result.Fee
		c.Result.Fee = &fee
	}
	if f.Result.Withdrawal != nil {
		w := *f.Result.Withdrawal
		c.Result.Withdrawal = &w
	}
	return c
}

// Observer receives a copy of the flow after every transition.
type Observer func(Flow)

func (f *Flow) enter(phase Phase, kind domain.StepKind, now time.Time) {
	f.Phase = phase
	f.UpdatedAt = now
	if kind != "" {
		f.Steps = append(f.Steps, domain.TransactionStep{Kind: kind, Status: domain.StepPending})
	}
}

func (f *Flow) stepSucceeded(blockIndex *uint64, now time.Time) {
	f.UpdatedAt = now
	if len(f.Steps) == 0 {
		return
	}
	last := &f.Steps[len(f.Steps)-1]
	if last.Status != domain.StepPending {
		return
	}
	last.Status = domain.StepSuccess
	last.BlockIndex = blockIndex
}

func (f *Flow) fail(err error, now time.Time) {
	msg := Normalize(err)
	f.FailedAt = f.Phase
	f.Phase = PhaseFailed
	f.Error = msg
	f.UpdatedAt = now
	if len(f.Steps) == 0 {
		return
	}
	last := &f.Steps[len(f.Steps)-1]
	if last.Status == domain.StepPending {
		last.Status = domain.StepFailed
		last.Error = msg
	}
}

func (f *Flow) done(now time.Time) {
	f.Phase = PhaseDone
	f.UpdatedAt = now
}
