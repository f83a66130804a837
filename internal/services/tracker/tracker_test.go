package tracker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/internal/domain"
	bridgeMock "github.com/vadiminshakov/ckvault/mocks/bridge"
)

const (
	testAccount = "mxzaz-hqaaa-aaaar-qaada-cai"
	testAddress = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
)

func u32(v uint32) *uint32 { return &v }
func u64(v uint64) *uint64 { return &v }

func noNewUtxos(data domain.NoNewUtxos) domain.RefreshOutcome {
	return domain.RefreshOutcome{Err: &domain.RefreshError{Kind: domain.RefreshNoNewUtxos, NoNewUtxos: &data}}
}

func TestInterpret(t *testing.T) {
	prev := domain.ConfirmationState{Account: testAccount, Address: testAddress, RequiredConfirmations: 4, Confirmations: 1}

	t.Run("not yet sufficient", func(t *testing.T) {
		next, ok := Interpret(prev, noNewUtxos(domain.NoNewUtxos{
			RequiredConfirmations: u32(6),
			CurrentConfirmations:  u32(2),
			PendingUtxos:          []domain.UtxoReport{{Value: u64(50000)}, {Value: u64(30000)}},
		}))
		require.True(t, ok)
		assert.Equal(t, uint32(2), next.Confirmations)
		assert.Equal(t, uint32(6), next.RequiredConfirmations)
		assert.Equal(t, uint64(80000), next.ExpectedSats)
		assert.Len(t, next.PendingUtxos, 2)
		assert.False(t, next.Credited)
		assert.Equal(t, testAddress, next.Address)
	})

	t.Run("missing optionals default to zero and empty", func(t *testing.T) {
		next, ok := Interpret(prev, noNewUtxos(domain.NoNewUtxos{}))
		require.True(t, ok)
		assert.Zero(t, next.Confirmations)
		assert.Equal(t, uint32(4), next.RequiredConfirmations)
		assert.NotNil(t, next.PendingUtxos)
		assert.Empty(t, next.PendingUtxos)
		assert.Zero(t, next.ExpectedSats)
	})

	t.Run("missing utxo value counts as zero", func(t *testing.T) {
		next, ok := Interpret(prev, noNewUtxos(domain.NoNewUtxos{
			PendingUtxos: []domain.UtxoReport{{Value: nil}, {Value: u64(7)}},
		}))
		require.True(t, ok)
		assert.Equal(t, uint64(7), next.ExpectedSats)
	})

	t.Run("current clamped to required", func(t *testing.T) {
		next, ok := Interpret(prev, noNewUtxos(domain.NoNewUtxos{RequiredConfirmations: u32(6), CurrentConfirmations: u32(9)}))
		require.True(t, ok)
		assert.Equal(t, uint32(6), next.Confirmations)
	})

	t.Run("nil payload", func(t *testing.T) {
		next, ok := Interpret(prev, domain.RefreshOutcome{Err: &domain.RefreshError{Kind: domain.RefreshNoNewUtxos}})
		require.True(t, ok)
		assert.Zero(t, next.Confirmations)
	})

	t.Run("credited is terminal", func(t *testing.T) {
		pending := prev
		pending.PendingUtxos = []domain.PendingUtxo{{Value: 5}}
		pending.ExpectedSats = 5

		next, ok := Interpret(pending, domain.RefreshOutcome{Minted: []domain.MintedUtxo{{BlockIndex: 1, Amount: 5}}})
		require.True(t, ok)
		assert.Equal(t, uint32(4), next.Confirmations)
		assert.Equal(t, uint32(4), next.RequiredConfirmations)
		assert.Empty(t, next.PendingUtxos)
		assert.True(t, next.Credited)
	})

	for _, kind := range []domain.RefreshErrorKind{domain.RefreshAlreadyProcessing, domain.RefreshTemporarilyUnavailable, domain.RefreshGenericError} {
		t.Run("keeps previous on "+kind.String(), func(t *testing.T) {
			next, ok := Interpret(prev, domain.RefreshOutcome{Err: &domain.RefreshError{Kind: kind, Message: "busy"}})
			assert.False(t, ok)
			assert.Equal(t, prev, next)
		})
	}
}

func newBridge(t *testing.T, minConfirmations uint32) *bridgeMock.Bridge {
	b := bridgeMock.NewBridge(t)
	b.On("GetDepositAddress", mock.Anything, testAccount).Return(testAddress, nil)
	b.On("GetMinterInfo", mock.Anything).Return(domain.MinterInfo{MinConfirmations: minConfirmations}, nil)
	return b
}

type memStore struct {
	states chan domain.ConfirmationState
}

func (s *memStore) Save(state domain.ConfirmationState) error {
	s.states <- state
	return nil
}

func TestStart_PollsImmediatelyAndPublishes(t *testing.T) {
	b := newBridge(t, 4)
	b.On("RefreshDeposits", mock.Anything, testAccount).Return(noNewUtxos(domain.NoNewUtxos{
		CurrentConfirmations: u32(1),
		PendingUtxos:         []domain.UtxoReport{{Value: u64(1000)}},
	}), nil)

	published := make(chan domain.ConfirmationState, 4)
	store := &memStore{states: make(chan domain.ConfirmationState, 4)}
	tr := New(zap.NewNop(), b, time.Hour, store, func(s domain.ConfirmationState) { published <- s })

	task, err := tr.Start(context.Background(), testAccount)
	require.NoError(t, err)
	defer task.Stop()

	assert.Equal(t, testAddress, task.Address())

	select {
	case s := <-published:
		assert.Equal(t, uint32(1), s.Confirmations)
		assert.Equal(t, uint32(4), s.RequiredConfirmations)
		assert.Equal(t, uint64(1000), s.ExpectedSats)
		assert.Equal(t, testAccount, s.Account)
		assert.False(t, s.UpdatedAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("no state published")
	}

	select {
	case s := <-store.states:
		assert.Equal(t, uint32(1), s.Confirmations)
	case <-time.After(2 * time.Second):
		t.Fatal("no state persisted")
	}

	assert.Eventually(t, func() bool { return task.State().ExpectedSats == 1000 }, 2*time.Second, 5*time.Millisecond)
}

func TestStart_PollsOnInterval(t *testing.T) {
	b := newBridge(t, 6)
	b.On("RefreshDeposits", mock.Anything, testAccount).Return(noNewUtxos(domain.NoNewUtxos{}), nil)

	published := make(chan domain.ConfirmationState, 16)
	tr := New(zap.NewNop(), b, 10*time.Millisecond, nil, func(s domain.ConfirmationState) {
		select {
		case published <- s:
		default:
		}
	})

	task, err := tr.Start(context.Background(), testAccount)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case <-published:
		case <-time.After(2 * time.Second):
			t.Fatalf("poll %d did not happen", i)
		}
	}

	task.Stop()
	task.Stop()

	_, active := tr.Active(testAccount)
	assert.False(t, active)
}

func TestStart_RestartDoesNotStack(t *testing.T) {
	b := newBridge(t, 6)
	b.On("RefreshDeposits", mock.Anything, testAccount).Return(noNewUtxos(domain.NoNewUtxos{}), nil)
	tr := New(zap.NewNop(), b, time.Hour, nil)

	first, err := tr.Start(context.Background(), testAccount)
	require.NoError(t, err)

	second, err := tr.Start(context.Background(), testAccount)
	require.NoError(t, err)
	defer second.Stop()

	select {
	case <-first.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("previous task still running")
	}

	active, ok := tr.Active(testAccount)
	require.True(t, ok)
	assert.Same(t, second, active)

	select {
	case <-second.Done():
		t.Fatal("new task stopped")
	default:
	}
}

func TestStart_ParentCancelStopsTask(t *testing.T) {
	b := newBridge(t, 6)
	b.On("RefreshDeposits", mock.Anything, testAccount).Return(noNewUtxos(domain.NoNewUtxos{}), nil)
	tr := New(zap.NewNop(), b, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	task, err := tr.Start(ctx, testAccount)
	require.NoError(t, err)

	cancel()

	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("task survived parent cancellation")
	}
}

func TestStart_RemoteErrorKeepsPreviousState(t *testing.T) {
	b := newBridge(t, 3)
	polled := make(chan struct{}, 1)
	b.On("RefreshDeposits", mock.Anything, testAccount).
		Run(func(mock.Arguments) {
			select {
			case polled <- struct{}{}:
			default:
			}
		}).
		Return(domain.RefreshOutcome{Err: &domain.RefreshError{Kind: domain.RefreshTemporarilyUnavailable, Message: "busy"}}, nil)

	published := make(chan domain.ConfirmationState, 1)
	tr := New(zap.NewNop(), b, time.Hour, nil, func(s domain.ConfirmationState) { published <- s })

	task, err := tr.Start(context.Background(), testAccount)
	require.NoError(t, err)
	defer task.Stop()

	<-polled
	state := task.State()
	assert.Equal(t, uint32(3), state.RequiredConfirmations)
	assert.Zero(t, state.Confirmations)

	select {
	case <-published:
		t.Fatal("state published on remote error")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStart_Errors(t *testing.T) {
	tr := New(zap.NewNop(), bridgeMock.NewBridge(t), time.Hour, nil)
	_, err := tr.Start(context.Background(), "bogus")
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	b := bridgeMock.NewBridge(t)
	b.On("GetDepositAddress", mock.Anything, testAccount).Return("", errors.New("down"))
	tr = New(zap.NewNop(), b, time.Hour, nil)
	_, err = tr.Start(context.Background(), testAccount)
	assert.ErrorContains(t, err, "resolve deposit address")
}

func TestStart_MinterInfoFailureUsesDefault(t *testing.T) {
	b := bridgeMock.NewBridge(t)
	b.On("GetDepositAddress", mock.Anything, testAccount).Return(testAddress, nil)
	b.On("GetMinterInfo", mock.Anything).Return(domain.MinterInfo{}, errors.New("unavailable"))
	b.On("RefreshDeposits", mock.Anything, testAccount).Return(domain.RefreshOutcome{}, errors.New("offline")).Maybe()

	tr := New(zap.NewNop(), b, time.Hour, nil)
	task, err := tr.Start(context.Background(), testAccount)
	require.NoError(t, err)
	defer task.Stop()

	assert.Equal(t, uint32(domain.DefaultRequiredConfirmations), task.State().RequiredConfirmations)
}

func TestExpectedSatsPerAccount(t *testing.T) {
	const other = "ryjl3-tyaaa-aaaaa-aaaba-cai"

	b := bridgeMock.NewBridge(t)
	b.On("GetMinterInfo", mock.Anything).Return(domain.MinterInfo{MinConfirmations: 6}, nil)
	b.On("GetDepositAddress", mock.Anything, testAccount).Return(testAddress, nil)
	b.On("GetDepositAddress", mock.Anything, other).Return("1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", nil)
	b.On("RefreshDeposits", mock.Anything, testAccount).Return(noNewUtxos(domain.NoNewUtxos{
		PendingUtxos: []domain.UtxoReport{{Value: u64(1500)}},
	}), nil)
	b.On("RefreshDeposits", mock.Anything, other).Return(noNewUtxos(domain.NoNewUtxos{
		PendingUtxos: []domain.UtxoReport{{Value: u64(700)}},
	}), nil)

	tr := New(zap.NewNop(), b, time.Hour, nil)
	first, err := tr.Start(context.Background(), testAccount)
	require.NoError(t, err)
	defer first.Stop()
	second, err := tr.Start(context.Background(), " "+other+" ")
	require.NoError(t, err)

	gauge := func(account string) float64 {
		return testutil.ToFloat64(tr.metrics.pending.WithLabelValues(account))
	}
	assert.Eventually(t, func() bool {
		return gauge(testAccount) == 1500 && gauge(other) == 700
	}, 2*time.Second, 5*time.Millisecond)

	second.Stop()
	assert.Equal(t, 1, testutil.CollectAndCount(tr.metrics.pending))
}
