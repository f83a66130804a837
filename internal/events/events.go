// Package events defines the values streamed to local subscribers.
// Amounts are decimal strings so web consumers never parse them as floats.
package events

import (
	"time"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
)

// Confirmation deposit progress of a monitored address.
type Confirmation struct {
	Timestamp     time.Time `json:"ts"`
	Account       string    `json:"account"`
	Address       string    `json:"address"`
	Confirmations uint32    `json:"confirmations"`
	Required      uint32    `json:"required"`
	PendingUtxos  int       `json:"pending_utxos"`
	ExpectedSats  uint64    `json:"expected_sats"`
	Credited      bool      `json:"credited"`
}

// NewConfirmation converts a tracker snapshot.
func NewConfirmation(s domain.ConfirmationState) Confirmation {
	return Confirmation{
		Timestamp:     s.UpdatedAt,
		Account:       s.Account,
		Address:       s.Address,
		Confirmations: s.Confirmations,
		Required:      s.RequiredConfirmations,
		PendingUtxos:  len(s.PendingUtxos),
		ExpectedSats:  s.ExpectedSats,
		Credited:      s.Credited,
	}
}

// Flow transition of an orchestrated action.
type Flow struct {
	Timestamp  time.Time                `json:"ts"`
	ID         string                   `json:"id"`
	Action     string                   `json:"action"`
	Phase      string                   `json:"phase"`
	Steps      []domain.TransactionStep `json:"steps"`
	Error      string                   `json:"error,omitempty"`
	BlockIndex *uint64                  `json:"block_index,omitempty"`
	MinOut     string                   `json:"min_out,omitempty"`
}

// NewFlow converts an orchestrator flow.
func NewFlow(f orchestrator.Flow) Flow {
	e := Flow{
		Timestamp:  f.UpdatedAt,
		ID:         f.ID,
		Action:     string(f.Action),
		Phase:      string(f.Phase),
		Steps:      f.Steps,
		Error:      f.Error,
		BlockIndex: f.Result.BlockIndex,
	}
	if f.Result.MinOut != nil {
		e.MinOut = f.Result.MinOut.Dec()
	}
	return e
}

var (
	// Confirmations shared stream of deposit progress.
	Confirmations = NewBroadcaster[Confirmation](256)
	// Flows shared stream of flow transitions.
	Flows = NewBroadcaster[Flow](256)
)

// PublishFlow is an orchestrator.Observer feeding Flows.
func PublishFlow(f orchestrator.Flow) {
	Flows.Publish(NewFlow(f))
}
