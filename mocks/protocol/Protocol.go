package protocol

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/mock"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

// Protocol is a mock of the lending protocol.
type Protocol struct {
	mock.Mock
}

func (_m *Protocol) GetPrices(ctx context.Context) (domain.PriceQuote, error) {
	ret := _m.Called(ctx)
	return ret.Get(0).(domain.PriceQuote), ret.Error(1)
}

func (_m *Protocol) GetPosition(ctx context.Context, account string) (domain.Position, error) {
	ret := _m.Called(ctx, account)
	return ret.Get(0).(domain.Position), ret.Error(1)
}

func (_m *Protocol) GetPortfolio(ctx context.Context, account string) (domain.Portfolio, error) {
	ret := _m.Called(ctx, account)
	return ret.Get(0).(domain.Portfolio), ret.Error(1)
}

func (_m *Protocol) GetProtocolConfig(ctx context.Context) (domain.ProtocolConfig, error) {
	ret := _m.Called(ctx)
	return ret.Get(0).(domain.ProtocolConfig), ret.Error(1)
}

func (_m *Protocol) GetProtocolStats(ctx context.Context) (domain.ProtocolStats, error) {
	ret := _m.Called(ctx)
	return ret.Get(0).(domain.ProtocolStats), ret.Error(1)
}

func (_m *Protocol) GetActivity(ctx context.Context, account string) ([]domain.Activity, error) {
	ret := _m.Called(ctx, account)

	var r0 []domain.Activity
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]domain.Activity)
	}
	return r0, ret.Error(1)
}

func (_m *Protocol) DepositCollateral(ctx context.Context, amount *uint256.Int) (uint64, error) {
	ret := _m.Called(ctx, amount)
	return ret.Get(0).(uint64), ret.Error(1)
}

func (_m *Protocol) WithdrawCollateral(ctx context.Context, amount *uint256.Int) (uint64, error) {
	ret := _m.Called(ctx, amount)
	return ret.Get(0).(uint64), ret.Error(1)
}

func (_m *Protocol) Borrow(ctx context.Context, amount *uint256.Int) (uint64, error) {
	ret := _m.Called(ctx, amount)
	return ret.Get(0).(uint64), ret.Error(1)
}

func (_m *Protocol) BorrowWithSwap(ctx context.Context, amountIn, minOut *uint256.Int, recipient string) (domain.SwapResult, error) {
	ret := _m.Called(ctx, amountIn, minOut, recipient)
	return ret.Get(0).(domain.SwapResult), ret.Error(1)
}

// NewProtocol creates a mock and asserts its expectations on cleanup.
func NewProtocol(t interface {
	mock.TestingT
	Cleanup(func())
}) *Protocol {
	m := &Protocol{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}
