package domain

import "fmt"

// DefaultRequiredConfirmations used until the bridge reports its own value.
const DefaultRequiredConfirmations = 6

// MinterInfo bridge parameters relevant to deposits.
type MinterInfo struct {
	MinConfirmations uint32
	// RetrieveBtcMinAmount smallest on-chain withdrawal, raw satoshis.
	RetrieveBtcMinAmount uint64
}

// UtxoReport pending output as reported by the bridge, fields may be absent.
type UtxoReport struct {
	Outpoint      string
	Value         *uint64
	Confirmations *uint32
}

// NoNewUtxos the bridge saw no output with enough confirmations yet.
type NoNewUtxos struct {
	// RequiredConfirmations nil when the bridge omitted it.
	RequiredConfirmations *uint32
	// CurrentConfirmations nil when the optional value is empty.
	CurrentConfirmations *uint32
	// PendingUtxos nil when the optional list is empty.
	PendingUtxos []UtxoReport
}

// RefreshErrorKind discriminates RefreshError variants.
type RefreshErrorKind int

const (
	RefreshNoNewUtxos RefreshErrorKind = iota + 1
	RefreshAlreadyProcessing
	RefreshTemporarilyUnavailable
	RefreshGenericError
)

func (k RefreshErrorKind) String() string {
	switch k {
	case RefreshNoNewUtxos:
		return "NoNewUtxos"
	case RefreshAlreadyProcessing:
		return "AlreadyProcessing"
	case RefreshTemporarilyUnavailable:
		return "TemporarilyUnavailable"
	case RefreshGenericError:
		return "GenericError"
	default:
		return fmt.Sprintf("RefreshErrorKind(%d)", int(k))
	}
}

// RefreshError Err branch of a deposit refresh.
type RefreshError struct {
	Kind RefreshErrorKind
	// NoNewUtxos set only for RefreshNoNewUtxos.
	NoNewUtxos *NoNewUtxos
	// Message text of TemporarilyUnavailable and GenericError.
	Message string
	// Code error code of GenericError.
	Code uint64
}

func (e *RefreshError) Error() string {
	switch e.Kind {
	case RefreshNoNewUtxos:
		return "no new utxos"
	case RefreshAlreadyProcessing:
		return "already processing"
	case RefreshGenericError:
		return fmt.Sprintf("generic error %d: %s", e.Code, e.Message)
	default:
		return e.Kind.String() + ": " + e.Message
	}
}

// MintedUtxo output credited by a refresh.
type MintedUtxo struct {
	BlockIndex uint64
	Amount     uint64
}

// RefreshOutcome decoded refresh response. Exactly one branch is meaningful:
// Err nil means Ok and Minted holds the credited outputs.
type RefreshOutcome struct {
	Minted []MintedUtxo
	Err    *RefreshError
}

// Ok reports whether the refresh succeeded.
func (o RefreshOutcome) Ok() bool {
	return o.Err == nil
}
