package gateway

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

// Nat unsigned integer of arbitrary wire size, encoded as a JSON number or a
// decimal string.
type Nat struct {
	v uint256.Int
}

// NatFrom wraps x. A nil x is zero.
func NatFrom(x *uint256.Int) Nat {
	var n Nat
	if x != nil {
		n.v.Set(x)
	}
	return n
}

// NatFromUint64 wraps v.
func NatFromUint64(v uint64) Nat {
	var n Nat
	n.v.SetUint64(v)
	return n
}

// Int returns a copy of the value.
func (n Nat) Int() *uint256.Int {
	return new(uint256.Int).Set(&n.v)
}

// Uint64 returns the value when it fits in 64 bits.
func (n Nat) Uint64() (uint64, bool) {
	if !n.v.IsUint64() {
		return 0, false
	}
	return n.v.Uint64(), true
}

func (n Nat) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.v.Dec() + `"`), nil
}

func (n *Nat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		n.v.Clear()
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return errors.New("empty nat")
	}
	if err := n.v.SetFromDecimal(s); err != nil {
		return errors.Wrapf(err, "invalid nat %q", s)
	}
	return nil
}

// Opt optional value, encoded as a list of zero or one element.
type Opt[T any] []T

// Some returns an optional holding v.
func Some[T any](v T) Opt[T] {
	return Opt[T]{v}
}

// None returns an empty optional. It encodes as [].
func None[T any]() Opt[T] {
	return Opt[T]{}
}

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) {
	if len(o) == 0 {
		var zero T
		return zero, false
	}
	return o[0], true
}

// Ptr returns a pointer to the value, or nil when absent.
func (o Opt[T]) Ptr() *T {
	if len(o) == 0 {
		return nil
	}
	v := o[0]
	return &v
}

// Result tagged {"Ok": v} or {"Err": e} response.
type Result[T any] struct {
	ok    T
	err   json.RawMessage
	isErr bool
}

func (r *Result[T]) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return errors.Wrap(err, "result is not an object")
	}
	if raw, ok := tagged["Err"]; ok {
		r.err = raw
		r.isErr = true
		return nil
	}
	raw, ok := tagged["Ok"]
	if !ok {
		return errors.New("result carries neither Ok nor Err")
	}
	r.isErr = false
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, &r.ok), "decode Ok value")
}

// IsErr reports whether the remote side returned Err.
func (r Result[T]) IsErr() bool {
	return r.isErr
}

// Unwrap returns the Ok value, or a RemoteError carrying the decoded Err payload.
func (r Result[T]) Unwrap(op string) (T, error) {
	if r.isErr {
		var zero T
		return zero, &domain.RemoteError{Op: op, Payload: decodePayload(r.err)}
	}
	return r.ok, nil
}

// decodePayload decodes an arbitrary Err value keeping integers exact.
func decodePayload(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	return v
}

// Account ledger account: an owner principal plus an optional subaccount.
type Account struct {
	Owner      string      `json:"owner"`
	Subaccount Opt[string] `json:"subaccount"`
}

func defaultAccount(owner string) Account {
	return Account{Owner: owner, Subaccount: None[string]()}
}
