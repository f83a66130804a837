package domain

import "time"

// PendingUtxo Bitcoin output awaiting confirmations.
type PendingUtxo struct {
	Outpoint      string `json:"outpoint,omitempty"`
	Value         uint64 `json:"value"`
	Confirmations uint32 `json:"confirmations"`
}

// ConfirmationState deposit confirmation progress for a monitored address.
// A new value is produced on every poll; it is never mutated after publishing.
type ConfirmationState struct {
	Account               string        `json:"account"`
	Address               string        `json:"address"`
	Confirmations         uint32        `json:"confirmations"`
	RequiredConfirmations uint32        `json:"required_confirmations"`
	PendingUtxos          []PendingUtxo `json:"pending_utxos"`
	ExpectedSats          uint64        `json:"expected_sats"`
	// Credited deposits fully minted.
	Credited  bool      `json:"credited"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Progress returns confirmations over required as a fraction in [0, 1].
func (s ConfirmationState) Progress() float64 {
	required := s.RequiredConfirmations
	if required == 0 {
		required = 1
	}
	p := float64(s.Confirmations) / float64(required)
	if p > 1 {
		return 1
	}
	return p
}

// ConfirmationRecord bundles a state with its WAL index.
type ConfirmationRecord struct {
	Index uint64
	State ConfirmationState
}
