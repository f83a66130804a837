// Package tracker polls the bridge for Bitcoin deposit confirmations.
package tracker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/internal/domain"
)

// DefaultInterval between refresh polls.
const DefaultInterval = 60 * time.Second

// Bridge deposit side of the Bitcoin bridge.
type Bridge interface {
	GetDepositAddress(ctx context.Context, account string) (string, error)
	RefreshDeposits(ctx context.Context, account string) (domain.RefreshOutcome, error)
	GetMinterInfo(ctx context.Context) (domain.MinterInfo, error)
}

// Store persists published snapshots.
type Store interface {
	Save(state domain.ConfirmationState) error
}

// Publisher receives every published snapshot.
type Publisher func(domain.ConfirmationState)

// Tracker owns at most one polling task per account.
type Tracker struct {
	l          *zap.Logger
	bridge     Bridge
	interval   time.Duration
	store      Store
	publishers []Publisher
	metrics    *pollMetrics
	now        func() time.Time

	startMu sync.Mutex
	mu      sync.Mutex
	tasks   map[string]*Task
}

// New creates a tracker. store may be nil; interval <= 0 means DefaultInterval.
func New(l *zap.Logger, bridge Bridge, interval time.Duration, store Store, publishers ...Publisher) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Tracker{
		l:          l,
		bridge:     bridge,
		interval:   interval,
		store:      store,
		publishers: publishers,
		metrics:    defaultPollMetrics(),
		now:        time.Now,
		tasks:      make(map[string]*Task),
	}
}

// Task handle of a running poll loop.
type Task struct {
	account string
	address string
	cancel  context.CancelFunc
	done    chan struct{}
	state   atomic.Pointer[domain.ConfirmationState]
}

// Stop cancels the loop and waits for it to exit. Safe to call more than once.
func (t *Task) Stop() {
	t.cancel()
	<-t.done
}

// Done is closed once the loop has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// State returns the latest snapshot.
func (t *Task) State() domain.ConfirmationState {
	return *t.state.Load()
}

// Address monitored deposit address.
func (t *Task) Address() string {
	return t.address
}

// Start resolves the deposit address of account and starts polling it,
// first immediately and then every interval. A task already running for the
// account is stopped first. The loop also ends when ctx is cancelled.
func (tr *Tracker) Start(ctx context.Context, account string) (*Task, error) {
	account = strings.TrimSpace(account)
	if err := domain.ValidateAccount(account); err != nil {
		return nil, err
	}

	tr.startMu.Lock()
	defer tr.startMu.Unlock()

	tr.mu.Lock()
	prev := tr.tasks[account]
	tr.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}

	address, err := tr.bridge.GetDepositAddress(ctx, account)
	if err != nil {
		return nil, errors.Wrap(err, "resolve deposit address")
	}

	required := uint32(domain.DefaultRequiredConfirmations)
	if info, err := tr.bridge.GetMinterInfo(ctx); err != nil {
		tr.l.Warn("failed to load minter info, using default confirmations", zap.Error(err))
	} else if info.MinConfirmations > 0 {
		required = info.MinConfirmations
	}

	taskCtx, cancel := context.WithCancel(ctx)
	task := &Task{
		account: account,
		address: address,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	task.state.Store(&domain.ConfirmationState{
		Account:               account,
		Address:               address,
		RequiredConfirmations: required,
		PendingUtxos:          []domain.PendingUtxo{},
		UpdatedAt:             tr.now(),
	})

	tr.mu.Lock()
	tr.tasks[account] = task
	tr.mu.Unlock()

	tr.metrics.active.Inc()
	go tr.run(taskCtx, task)

	tr.l.Info("deposit tracking started",
		zap.String("account", account),
		zap.String("address", address),
		zap.Duration("interval", tr.interval))

	return task, nil
}

// Stop stops the task of account, if any.
func (tr *Tracker) Stop(account string) {
	tr.mu.Lock()
	task := tr.tasks[account]
	tr.mu.Unlock()
	if task != nil {
		task.Stop()
	}
}

// StopAll stops every running task.
func (tr *Tracker) StopAll() {
	tr.mu.Lock()
	tasks := make([]*Task, 0, len(tr.tasks))
	for _, t := range tr.tasks {
		tasks = append(tasks, t)
	}
	tr.mu.Unlock()

	for _, t := range tasks {
		t.Stop()
	}
}

// Active returns the task of account, if running.
func (tr *Tracker) Active(account string) (*Task, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	t, ok := tr.tasks[account]
	return t, ok
}

func (tr *Tracker) run(ctx context.Context, task *Task) {
	defer func() {
		tr.forget(task)
		tr.metrics.active.Dec()
		close(task.done)
	}()

	tr.poll(ctx, task)

	ticker := time.NewTicker(tr.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			tr.l.Info("deposit tracking stopped", zap.String("account", task.account))
			return
		case <-ticker.C:
			tr.poll(ctx, task)
		}
	}
}

func (tr *Tracker) forget(task *Task) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.tasks[task.account] == task {
		delete(tr.tasks, task.account)
		tr.metrics.pending.DeleteLabelValues(task.account)
	}
}

func (tr *Tracker) poll(ctx context.Context, task *Task) {
	l := tr.l.With(zap.String("account", task.account), zap.String("address", task.address))

	outcome, err := tr.bridge.RefreshDeposits(ctx, task.account)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		tr.metrics.polls.WithLabelValues("transport_error").Inc()
		l.Warn("deposit refresh failed", zap.Error(err))
		return
	}

	next, ok := Interpret(task.State(), outcome)
	if !ok {
		tr.metrics.polls.WithLabelValues("remote_error").Inc()
		l.Warn("deposit refresh rejected", zap.Error(outcome.Err))
		return
	}
	if outcome.Ok() {
		tr.metrics.polls.WithLabelValues("ok").Inc()
	} else {
		tr.metrics.polls.WithLabelValues("no_new_utxos").Inc()
	}

	next.UpdatedAt = tr.now()
	task.state.Store(&next)
	tr.metrics.pending.WithLabelValues(task.account).Set(float64(next.ExpectedSats))

	if tr.store != nil {
		if err := tr.store.Save(next); err != nil {
			l.Warn("failed to persist confirmation state", zap.Error(err))
		}
	}
	for _, publish := range tr.publishers {
		publish(next)
	}

	l.Debug("deposit confirmations",
		zap.Uint32("confirmations", next.Confirmations),
		zap.Uint32("required", next.RequiredConfirmations),
		zap.Uint64("expected_sats", next.ExpectedSats))
}

// Interpret maps a refresh outcome onto the previous snapshot. It returns
// false when the outcome carries no confirmation data and prev must be kept.
func Interpret(prev domain.ConfirmationState, outcome domain.RefreshOutcome) (domain.ConfirmationState, bool) {
	next := domain.ConfirmationState{
		Account:               prev.Account,
		Address:               prev.Address,
		RequiredConfirmations: prev.RequiredConfirmations,
		PendingUtxos:          []domain.PendingUtxo{},
	}

	if outcome.Ok() {
		next.Confirmations = next.RequiredConfirmations
		next.Credited = true
		return next, true
	}

	switch outcome.Err.Kind {
	case domain.RefreshNoNewUtxos:
		data := outcome.Err.NoNewUtxos
		if data == nil {
			data = &domain.NoNewUtxos{}
		}
		if data.RequiredConfirmations != nil {
			next.RequiredConfirmations = *data.RequiredConfirmations
		}

		var current uint32
		if data.CurrentConfirmations != nil {
			current = *data.CurrentConfirmations
		}
		next.Confirmations = min(current, next.RequiredConfirmations)

		for _, u := range data.PendingUtxos {
			p := domain.PendingUtxo{Outpoint: u.Outpoint}
			if u.Value != nil {
				p.Value = *u.Value
			}
			if u.Confirmations != nil {
				p.Confirmations = *u.Confirmations
			}
			next.PendingUtxos = append(next.PendingUtxos, p)
			next.ExpectedSats += p.Value
		}
		return next, true
	case domain.RefreshAlreadyProcessing, domain.RefreshTemporarilyUnavailable, domain.RefreshGenericError:
		return prev, false
	default:
		return prev, false
	}
}
