package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/internal/domain"
	bridgeMock "github.com/vadiminshakov/ckvault/mocks/bridge"
	ledgerMock "github.com/vadiminshakov/ckvault/mocks/ledger"
	protocolMock "github.com/vadiminshakov/ckvault/mocks/protocol"
)

const (
	testAccount   = "mxzaz-hqaaa-aaaar-qaada-cai"
	testProtocol  = "protocol-spender"
	testBtcMinter = "btc-minter"
	testEthMinter = "eth-minter"
)

type fixture struct {
	btc      *ledgerMock.Ledger
	usd      *ledgerMock.Ledger
	protocol *protocolMock.Protocol
	bridge   *bridgeMock.Bridge
	orch     *Orchestrator
	journal  *memJournal
	phases   []Phase
	mu       sync.Mutex
}

type memJournal struct {
	mu    sync.Mutex
	flows []Flow
}

func (j *memJournal) Append(f Flow) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.flows = append(j.flows, f)
	return nil
}

func newFixture(t *testing.T) *fixture {
	fx := &fixture{
		btc:      ledgerMock.NewLedger(t),
		usd:      ledgerMock.NewLedger(t),
		protocol: protocolMock.NewProtocol(t),
		bridge:   bridgeMock.NewBridge(t),
		journal:  &memJournal{},
	}
	fx.orch = New(zap.NewNop(), Services{
		BTC:       fx.btc,
		USD:       fx.usd,
		Protocol:  fx.protocol,
		Bridge:    fx.bridge,
		EvmBridge: fx.bridge,
	}, Settings{
		Account:          testAccount,
		ProtocolSpender:  testProtocol,
		BtcMinterSpender: testBtcMinter,
		EthMinterSpender: testEthMinter,
	}, fx.journal, func(f Flow) {
		fx.mu.Lock()
		defer fx.mu.Unlock()
		if len(fx.phases) == 0 || fx.phases[len(fx.phases)-1] != f.Phase {
			fx.phases = append(fx.phases, f.Phase)
		}
	})
	return fx
}

func btc(t *testing.T, s string) domain.TokenAmount {
	a, err := domain.ParseAmount(domain.AssetBTC, s)
	require.NoError(t, err)
	return a
}

func usd(t *testing.T, s string) domain.TokenAmount {
	a, err := domain.ParseAmount(domain.AssetUSD, s)
	require.NoError(t, err)
	return a
}

func TestSupply_InsufficientBalanceStopsBeforeApprove(t *testing.T) {
	fx := newFixture(t)
	fx.btc.On("BalanceOf", mock.Anything, testAccount).Return(uint256.NewInt(40_000_000), nil).Once()

	f := fx.orch.Supply(context.Background(), btc(t, "0.5"))

	assert.Equal(t, PhaseFailed, f.Phase)
	assert.Equal(t, PhaseCheckingBalance, f.FailedAt)
	assert.Contains(t, f.Error, "insufficient balance")
	assert.Contains(t, f.Error, "available 0.4 ckBTC")
	assert.Empty(t, f.Steps)
	fx.btc.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	fx.protocol.AssertNotCalled(t, "DepositCollateral", mock.Anything, mock.Anything)
}

func TestSupply_Success(t *testing.T) {
	fx := newFixture(t)
	amount := uint256.NewInt(50_000_000)
	fx.btc.On("BalanceOf", mock.Anything, testAccount).Return(uint256.NewInt(50_000_000), nil).Once()
	fx.btc.On("Approve", mock.Anything, testProtocol, amount, mock.Anything).Return(uint64(11), nil).Once()
	fx.protocol.On("DepositCollateral", mock.Anything, amount).Return(uint64(12), nil).Once()

	f := fx.orch.Supply(context.Background(), btc(t, "0.5"))

	require.Equal(t, PhaseDone, f.Phase, f.Error)
	require.Len(t, f.Steps, 2)
	assert.Equal(t, domain.StepApprove, f.Steps[0].Kind)
	assert.Equal(t, domain.StepSuccess, f.Steps[0].Status)
	assert.Equal(t, uint64(11), *f.Steps[0].BlockIndex)
	assert.Equal(t, domain.StepDeposit, f.Steps[1].Kind)
	assert.Equal(t, uint64(12), *f.Steps[1].BlockIndex)
	require.NotNil(t, f.Result.BlockIndex)
	assert.Equal(t, uint64(12), *f.Result.BlockIndex)
	assert.NotEmpty(t, f.ID)

	assert.Equal(t, []Phase{PhaseIdle, PhaseCheckingBalance, PhaseApproving, PhaseDepositing, PhaseDone}, fx.phases)
	require.NotEmpty(t, fx.journal.flows)
	assert.Equal(t, PhaseDone, fx.journal.flows[len(fx.journal.flows)-1].Phase)
}

func TestSupply_ApproveRejectedHaltsWithoutRollback(t *testing.T) {
	fx := newFixture(t)
	fx.btc.On("BalanceOf", mock.Anything, testAccount).Return(uint256.NewInt(100_000_000), nil).Once()
	fx.btc.On("Approve", mock.Anything, testProtocol, mock.Anything, mock.Anything).Return(uint64(0), &domain.RemoteError{
		Op: "icrc2_approve",
		Payload: map[string]any{
			"InsufficientFunds": map[string]any{"balance": "5"},
		},
	}).Once()

	f := fx.orch.Supply(context.Background(), btc(t, "0.5"))

	assert.Equal(t, PhaseFailed, f.Phase)
	assert.Equal(t, PhaseApproving, f.FailedAt)
	assert.Equal(t, "InsufficientFunds: balance=5", f.Error)
	require.Len(t, f.Steps, 1)
	assert.Equal(t, domain.StepFailed, f.Steps[0].Status)
	assert.Equal(t, f.Error, f.Steps[0].Error)
	fx.protocol.AssertNotCalled(t, "DepositCollateral", mock.Anything, mock.Anything)
}

func TestSupply_DepositFailureKeepsApproval(t *testing.T) {
	fx := newFixture(t)
	fx.btc.On("BalanceOf", mock.Anything, testAccount).Return(uint256.NewInt(100_000_000), nil).Once()
	fx.btc.On("Approve", mock.Anything, testProtocol, mock.Anything, mock.Anything).Return(uint64(3), nil).Once()
	fx.protocol.On("DepositCollateral", mock.Anything, mock.Anything).Return(uint64(0), &domain.RemoteError{
		Op: "deposit_collateral", Payload: "Collateral cap reached",
	}).Once()

	f := fx.orch.Supply(context.Background(), btc(t, "0.5"))

	assert.Equal(t, PhaseFailed, f.Phase)
	assert.Equal(t, PhaseDepositing, f.FailedAt)
	assert.Equal(t, "Collateral cap reached", f.Error)
	require.Len(t, f.Steps, 2)
	assert.Equal(t, domain.StepSuccess, f.Steps[0].Status)
	assert.Equal(t, domain.StepFailed, f.Steps[1].Status)
	assert.Nil(t, f.Result.BlockIndex)
}

func TestValidationFailsBeforeAnyRemoteCall(t *testing.T) {
	tests := []struct {
		name  string
		run   func(o *Orchestrator) Flow
		field string
	}{
		{"zero supply", func(o *Orchestrator) Flow {
			return o.Supply(context.Background(), domain.NewTokenAmount(domain.AssetBTC, nil))
		}, "amount"},
		{"supply in wrong asset", func(o *Orchestrator) Flow {
			return o.Supply(context.Background(), domain.NewTokenAmount(domain.AssetUSD, uint256.NewInt(1)))
		}, "asset"},
		{"bad bitcoin address", func(o *Orchestrator) Flow {
			return o.WithdrawOnChain(context.Background(), "bc1notreal", domain.NewTokenAmount(domain.AssetBTC, uint256.NewInt(1)))
		}, "bitcoin address"},
		{"bad evm address", func(o *Orchestrator) Flow {
			return o.WithdrawStable(context.Background(), "0x123", domain.NewTokenAmount(domain.AssetUSD, uint256.NewInt(1)))
		}, "evm address"},
		{"bad account", func(o *Orchestrator) Flow {
			return o.Send(context.Background(), "not-an-account", domain.NewTokenAmount(domain.AssetUSD, uint256.NewInt(1)))
		}, "account"},
		{"zero borrow", func(o *Orchestrator) Flow {
			return o.Borrow(context.Background(), domain.NewTokenAmount(domain.AssetUSD, nil))
		}, "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)
			f := tt.run(fx.orch)

			assert.Equal(t, PhaseFailed, f.Phase)
			assert.Equal(t, PhaseIdle, f.FailedAt)
			assert.Contains(t, f.Error, tt.field)
			assert.Empty(t, f.Steps)
			assert.Empty(t, fx.btc.Calls)
			assert.Empty(t, fx.usd.Calls)
			assert.Empty(t, fx.protocol.Calls)
			assert.Empty(t, fx.bridge.Calls)
		})
	}
}

func TestBorrowWithSwap_MinOutComputedBeforeSwap(t *testing.T) {
	fx := newFixture(t)
	var order []string

	fx.protocol.On("GetPrices", mock.Anything).
		Run(func(mock.Arguments) { order = append(order, "prices") }).
		Return(domain.PriceQuote{BtcUsdE8s: *uint256.NewInt(6_000_000_000_000)}, nil).Once()
	fx.protocol.On("BorrowWithSwap", mock.Anything, uint256.NewInt(10_000_000), uint256.NewInt(5_940_000_000), testAccount).
		Run(func(mock.Arguments) { order = append(order, "swap") }).
		Return(domain.SwapResult{SwapAmount: *uint256.NewInt(10_000_000), Received: *uint256.NewInt(5_990_000_000)}, nil).Once()

	f := fx.orch.BorrowWithSwap(context.Background(), btc(t, "0.1"))

	require.Equal(t, PhaseDone, f.Phase, f.Error)
	assert.Equal(t, []string{"prices", "swap"}, order)
	require.NotNil(t, f.Result.MinOut)
	assert.Equal(t, uint64(5_940_000_000), f.Result.MinOut.Uint64())
	require.NotNil(t, f.Result.Swap)
	assert.Equal(t, uint64(5_990_000_000), f.Result.Swap.Received.Uint64())
	require.Len(t, f.Steps, 1)
	assert.Equal(t, domain.StepSwap, f.Steps[0].Kind)
	assert.Equal(t, domain.StepSuccess, f.Steps[0].Status)
	assert.Equal(t, []Phase{PhaseIdle, PhasePricing, PhaseSwapping, PhaseDone}, fx.phases)
}

func TestBorrowWithSwap_PriceUnavailable(t *testing.T) {
	fx := newFixture(t)
	fx.protocol.On("GetPrices", mock.Anything).Return(domain.PriceQuote{}, nil).Once()

	f := fx.orch.BorrowWithSwap(context.Background(), btc(t, "0.1"))

	assert.Equal(t, PhaseFailed, f.Phase)
	assert.Equal(t, PhasePricing, f.FailedAt)
	assert.Equal(t, "price unavailable", f.Error)
	fx.protocol.AssertNotCalled(t, "BorrowWithSwap", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWithdrawOnChain_FeeFailureIsSwallowed(t *testing.T) {
	fx := newFixture(t)
	addr := "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
	amount := uint256.NewInt(25_000_000)

	fx.bridge.On("EstimateWithdrawalFee", mock.Anything, amount).
		Return(domain.FeeEstimate{}, &domain.TransportError{Op: "estimate_withdrawal_fee", Err: errors.New("timeout")}).Once()
	fx.btc.On("Approve", mock.Anything, testBtcMinter, amount, mock.Anything).Return(uint64(7), nil).Once()
	fx.bridge.On("WithdrawOnChain", mock.Anything, addr, amount).Return(uint64(99), nil).Once()

	f := fx.orch.WithdrawOnChain(context.Background(), addr, btc(t, "0.25"))

	require.Equal(t, PhaseDone, f.Phase, f.Error)
	assert.Nil(t, f.Result.Fee)
	require.NotNil(t, f.Result.BlockIndex)
	assert.Equal(t, uint64(99), *f.Result.BlockIndex)
	require.Len(t, f.Steps, 2)
	assert.Equal(t, domain.StepApprove, f.Steps[0].Kind)
	assert.Equal(t, domain.StepWithdraw, f.Steps[1].Kind)
	assert.Equal(t, []Phase{PhaseIdle, PhaseEstimatingFee, PhaseApproving, PhaseSubmitting, PhaseDone}, fx.phases)
}

func TestWithdrawOnChain_FeeReported(t *testing.T) {
	fx := newFixture(t)
	addr := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"

	fx.bridge.On("EstimateWithdrawalFee", mock.Anything, mock.Anything).
		Return(domain.FeeEstimate{ServiceFee: *uint256.NewInt(1000), NetworkFee: *uint256.NewInt(2500)}, nil).Once()
	fx.btc.On("Approve", mock.Anything, testBtcMinter, mock.Anything, mock.Anything).Return(uint64(1), nil).Once()
	fx.bridge.On("WithdrawOnChain", mock.Anything, addr, mock.Anything).Return(uint64(2), nil).Once()

	f := fx.orch.WithdrawOnChain(context.Background(), addr, btc(t, "0.01"))

	require.Equal(t, PhaseDone, f.Phase, f.Error)
	require.NotNil(t, f.Result.Fee)
	assert.Equal(t, uint64(3500), f.Result.Fee.Total().Uint64())
}

func TestWithdrawStable(t *testing.T) {
	fx := newFixture(t)
	addr := "0x52908400098527886E0F7030069857D2E4169EE7"
	amount := uint256.NewInt(12_500_000)

	fx.usd.On("Approve", mock.Anything, testEthMinter, amount, mock.Anything).Return(uint64(4), nil).Once()
	fx.bridge.On("WithdrawErc20", mock.Anything, addr, amount).
		Return(domain.Erc20Withdrawal{BurnBlockIndex: 41, WithdrawalID: 8}, nil).Once()

	f := fx.orch.WithdrawStable(context.Background(), addr, usd(t, "12.5"))

	require.Equal(t, PhaseDone, f.Phase, f.Error)
	require.NotNil(t, f.Result.Withdrawal)
	assert.Equal(t, uint64(8), f.Result.Withdrawal.WithdrawalID)
	assert.Equal(t, uint64(41), *f.Result.BlockIndex)
	assert.Equal(t, uint64(41), *f.Steps[1].BlockIndex)
}

func TestSend(t *testing.T) {
	fx := newFixture(t)
	to := "2vxsx-fae"
	fx.usd.On("Transfer", mock.Anything, to, uint256.NewInt(1_000_000)).Return(uint64(5), nil).Once()

	f := fx.orch.Send(context.Background(), to, usd(t, "1"))

	require.Equal(t, PhaseDone, f.Phase, f.Error)
	require.Len(t, f.Steps, 1)
	assert.Equal(t, domain.StepTransfer, f.Steps[0].Kind)
	assert.Equal(t, uint64(5), *f.Result.BlockIndex)
	fx.btc.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything)
}

func TestRecipientWhitespaceIsTrimmed(t *testing.T) {
	fx := newFixture(t)
	raw := uint256.NewInt(1_000_000)

	fx.usd.On("Transfer", mock.Anything, "2vxsx-fae", raw).Return(uint64(1), nil).Once()
	fx.bridge.On("EstimateWithdrawalFee", mock.Anything, mock.Anything).Return(domain.FeeEstimate{}, nil).Once()
	fx.btc.On("Approve", mock.Anything, testBtcMinter, mock.Anything, mock.Anything).Return(uint64(2), nil).Once()
	fx.bridge.On("WithdrawOnChain", mock.Anything, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", mock.Anything).Return(uint64(3), nil).Once()
	fx.usd.On("Approve", mock.Anything, testEthMinter, raw, mock.Anything).Return(uint64(4), nil).Once()
	fx.bridge.On("WithdrawErc20", mock.Anything, "0x52908400098527886E0F7030069857D2E4169EE7", raw).
		Return(domain.Erc20Withdrawal{BurnBlockIndex: 5}, nil).Once()

	f := fx.orch.Send(context.Background(), " 2vxsx-fae ", usd(t, "1"))
	require.Equal(t, PhaseDone, f.Phase, f.Error)

	f = fx.orch.WithdrawOnChain(context.Background(), "\tbc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4\n", btc(t, "0.01"))
	require.Equal(t, PhaseDone, f.Phase, f.Error)

	f = fx.orch.WithdrawStable(context.Background(), "  0x52908400098527886E0F7030069857D2E4169EE7", usd(t, "1"))
	require.Equal(t, PhaseDone, f.Phase, f.Error)
}

func TestBorrowAndWithdrawCollateral(t *testing.T) {
	fx := newFixture(t)
	fx.protocol.On("Borrow", mock.Anything, uint256.NewInt(100_000_000)).Return(uint64(21), nil).Once()
	fx.protocol.On("WithdrawCollateral", mock.Anything, uint256.NewInt(1_000)).Return(uint64(22), nil).Once()

	f := fx.orch.Borrow(context.Background(), usd(t, "100"))
	require.Equal(t, PhaseDone, f.Phase, f.Error)
	assert.Equal(t, domain.StepBorrow, f.Steps[0].Kind)

	f = fx.orch.WithdrawCollateral(context.Background(), btc(t, "0.00001"))
	require.Equal(t, PhaseDone, f.Phase, f.Error)
	assert.Equal(t, uint64(22), *f.Result.BlockIndex)
}

func TestTransportErrorCarriesRetryHint(t *testing.T) {
	fx := newFixture(t)
	fx.protocol.On("Borrow", mock.Anything, mock.Anything).
		Return(uint64(0), &domain.TransportError{Op: "borrow", Err: errors.New("connection refused")}).Once()

	f := fx.orch.Borrow(context.Background(), usd(t, "1"))

	assert.Equal(t, PhaseFailed, f.Phase)
	assert.Contains(t, f.Error, "connection refused")
	assert.Contains(t, f.Error, retryHint)
}

type panickingLedger struct{}

func (panickingLedger) BalanceOf(context.Context, string) (*uint256.Int, error) {
	panic("nil map")
}

func (panickingLedger) Approve(context.Context, string, *uint256.Int, *time.Time) (uint64, error) {
	panic("nil map")
}

func (panickingLedger) Transfer(context.Context, string, *uint256.Int) (uint64, error) {
	panic("nil map")
}

func TestPanicEndsInFailedState(t *testing.T) {
	o := New(zap.NewNop(), Services{BTC: panickingLedger{}}, Settings{Account: testAccount}, nil)

	var f Flow
	require.NotPanics(t, func() {
		f = o.Supply(context.Background(), domain.NewTokenAmount(domain.AssetBTC, uint256.NewInt(1)))
	})
	assert.Equal(t, PhaseFailed, f.Phase)
	assert.Equal(t, "unexpected error", f.Error)
}

func TestFlowsAreIndependent(t *testing.T) {
	fx := newFixture(t)
	fx.usd.On("Transfer", mock.Anything, mock.Anything, mock.Anything).Return(uint64(1), nil).Times(8)

	amount := usd(t, "1")
	var wg sync.WaitGroup
	flows := make([]Flow, 8)
	for i := range flows {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			flows[i] = fx.orch.Send(context.Background(), "2vxsx-fae", amount)
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, f := range flows {
		assert.Equal(t, PhaseDone, f.Phase)
		assert.Len(t, f.Steps, 1)
		assert.False(t, seen[f.ID])
		seen[f.ID] = true
	}
}
