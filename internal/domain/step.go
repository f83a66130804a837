package domain

// StepKind kind of remote operation performed by a flow step.
type StepKind string

const (
	StepApprove  StepKind = "approve"
	StepSwap     StepKind = "swap"
	StepTransfer StepKind = "transfer"
	StepDeposit  StepKind = "deposit"
	StepWithdraw StepKind = "withdraw"
	StepBorrow   StepKind = "borrow"
)

// StepStatus lifecycle of a step.
type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepSuccess StepStatus = "success"
	StepFailed  StepStatus = "failed"
)

// TransactionStep single remote call inside a flow.
type TransactionStep struct {
	Kind   StepKind   `json:"kind"`
	Status StepStatus `json:"status"`
	// BlockIndex set on success when the remote call returns one.
	BlockIndex *uint64 `json:"block_index,omitempty"`
	// Error normalized message on failure.
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the step reached success or failed.
func (s TransactionStep) Terminal() bool {
	return s.Status == StepSuccess || s.Status == StepFailed
}
