package bridge

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

// Bridge is a mock of the Bitcoin and EVM bridges.
type Bridge struct {
	mock.Mock
}

func (_m *Bridge) GetDepositAddress(ctx context.Context, account string) (string, error) {
	ret := _m.Called(ctx, account)
	return ret.String(0), ret.Error(1)
}

func (_m *Bridge) RefreshDeposits(ctx context.Context, account string) (domain.RefreshOutcome, error) {
	ret := _m.Called(ctx, account)
	return ret.Get(0).(domain.RefreshOutcome), ret.Error(1)
}

func (_m *Bridge) GetMinterInfo(ctx context.Context) (domain.MinterInfo, error) {
	ret := _m.Called(ctx)
	return ret.Get(0).(domain.MinterInfo), ret.Error(1)
}

func (_m *Bridge) EstimateWithdrawalFee(ctx context.Context, amount *uint256.Int) (domain.FeeEstimate, error) {
	ret := _m.Called(ctx, amount)
	return ret.Get(0).(domain.FeeEstimate), ret.Error(1)
}

func (_m *Bridge) WithdrawOnChain(ctx context.Context, address string, amount *uint256.Int) (uint64, error) {
	ret := _m.Called(ctx, address, amount)
	return ret.Get(0).(uint64), ret.Error(1)
}

func (_m *Bridge) WithdrawErc20(ctx context.Context, address string, amount *uint256.Int) (domain.Erc20Withdrawal, error) {
	ret := _m.Called(ctx, address, amount)
	return ret.Get(0).(domain.Erc20Withdrawal), ret.Error(1)
}

// NewBridge creates a mock and asserts its expectations on cleanup.
func NewBridge(t interface {
	mock.TestingT
	Cleanup(func())
}) *Bridge {
	m := &Bridge{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
