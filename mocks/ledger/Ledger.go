package ledger

import (
	"context"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"
)

// Ledger is a mock of a single-asset token ledger.
type Ledger struct {
	mock.Mock
}

func (_m *Ledger) BalanceOf(ctx context.Context, owner string) (*uint256.Int, error) {
	ret := _m.Called(ctx, owner)

	var r0 *uint256.Int
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*uint256.Int)
	}
	return r0, ret.Error(1)
}

func (_m *Ledger) Approve(ctx context.Context, spender string, amount *uint256.Int, expiresAt *time.Time) (uint64, error) {
	ret := _m.Called(ctx, spender, amount, expiresAt)
	return ret.Get(0).(uint64), ret.Error(1)
}

func (_m *Ledger) Transfer(ctx context.Context, to string, amount *uint256.Int) (uint64, error) {
	ret := _m.Called(ctx, to, amount)
	return ret.Get(0).(uint64), ret.Error(1)
}

// NewLedger creates a mock and asserts its expectations on cleanup.
func NewLedger(t interface {
	mock.TestingT
	Cleanup(func())
}) *Ledger {
	m := &Ledger{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
