// Package app wires the services into the command bodies of the CLI.
package app

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/config"
	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/events"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
	"github.com/vadiminshakov/ckvault/internal/services/snapshot"
	"github.com/vadiminshakov/ckvault/internal/services/tracker"
	"github.com/vadiminshakov/ckvault/internal/storage/confirmations"
	"github.com/vadiminshakov/ckvault/internal/storage/flowjournal"
)

const (
	flowsDir         = "flows"
	confirmationsDir = "confirmations"
)

// App owns the clients, stores and services for the lifetime of a command.
type App struct {
	l             *zap.Logger
	cfg           config.Config
	clients       Clients
	out           io.Writer
	orch          *orchestrator.Orchestrator
	gate          *Gate
	cache         *snapshot.Cache
	journal       *flowjournal.WALStore
	confirmations *confirmations.WALStore
	tracker       *tracker.Tracker
}

// New opens the WAL stores under cfg.WalDir and builds the services.
// Output meant for the user goes to out.
func New(l *zap.Logger, cfg config.Config, clients Clients, out io.Writer) (*App, error) {
	journal, err := openJournal(filepath.Join(cfg.WalDir, flowsDir))
	if err != nil {
		return nil, err
	}
	store, err := openConfirmations(filepath.Join(cfg.WalDir, confirmationsDir))
	if err != nil {
		_ = journal.Close()
		return nil, err
	}

	orch := orchestrator.New(l, orchestrator.Services{
		BTC:       clients.BTC,
		USD:       clients.USD,
		Protocol:  clients.Protocol,
		Bridge:    clients.Bridge,
		EvmBridge: clients.Bridge,
	}, orchestrator.Settings{
		Account:          cfg.Account,
		ProtocolSpender:  cfg.ProtocolSpender,
		BtcMinterSpender: cfg.BtcMinterSpender,
		EthMinterSpender: cfg.EthMinterSpender,
		SlippageBps:      cfg.SlippageBps,
	}, journal, events.PublishFlow)

	tr := tracker.New(l, clients.Bridge, cfg.PollInterval, store, func(s domain.ConfirmationState) {
		events.Confirmations.Publish(events.NewConfirmation(s))
	})

	a := &App{
		l:             l,
		cfg:           cfg,
		clients:       clients,
		out:           out,
		orch:          orch,
		gate:          NewGate(),
		cache:         snapshot.NewCache(snapshot.NewLoader(l, clients.Protocol), cfg.Account),
		journal:       journal,
		confirmations: store,
		tracker:       tr,
	}
	a.reportInterrupted()

	return a, nil
}

func openJournal(dir string) (*flowjournal.WALStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create flow journal dir")
	}
	return flowjournal.NewWALStore(dir)
}

func openConfirmations(dir string) (*confirmations.WALStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create confirmation store dir")
	}
	return confirmations.NewWALStore(dir)
}

// reportInterrupted warns about flows the journal saw start but never finish.
func (a *App) reportInterrupted() {
	interrupted, err := a.journal.Interrupted()
	if err != nil {
		a.l.Warn("failed to read flow journal", zap.Error(err))
		return
	}
	for _, e := range interrupted {
		a.l.Warn("flow was interrupted, completed steps are not rolled back",
			zap.String("flow_id", e.ID),
			zap.String("action", e.Action),
			zap.String("phase", e.Phase))
	}
}

// Close stops tracking and closes the stores.
func (a *App) Close() error {
	a.tracker.StopAll()

	var first error
	if err := a.journal.Close(); err != nil {
		first = errors.Wrap(err, "close flow journal")
	}
	if err := a.confirmations.Close(); err != nil && first == nil {
		first = errors.Wrap(err, "close confirmation store")
	}
	return first
}
