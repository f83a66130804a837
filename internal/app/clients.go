package app

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/ckvault/config"
	"github.com/vadiminshakov/ckvault/internal/clients/gateway"
	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/services/orchestrator"
	"github.com/vadiminshakov/ckvault/internal/services/snapshot"
	"github.com/vadiminshakov/ckvault/internal/services/tracker"
)

// Protocol every lending protocol call the commands use.
type Protocol interface {
	orchestrator.Protocol
	snapshot.Source
	GetActivity(ctx context.Context, account string) ([]domain.Activity, error)
}

// Bridge both sides of the Bitcoin bridge plus the EVM stablecoin bridge.
type Bridge interface {
	orchestrator.Bridge
	orchestrator.EvmBridge
	tracker.Bridge
}

// Clients remote collaborators shared by all commands.
type Clients struct {
	BTC      orchestrator.Ledger
	USD      orchestrator.Ledger
	Protocol Protocol
	Bridge   Bridge
}

// NewGatewayClients builds Clients backed by the HTTP gateway.
func NewGatewayClients(l *zap.Logger, cfg config.Config) (Clients, error) {
	c, err := gateway.New(l, cfg.GatewayURL, cfg.APIToken, cfg.RequestTimeout)
	if err != nil {
		return Clients{}, errors.Wrap(err, "create gateway client")
	}

	btc, err := c.Ledger(domain.AssetBTC)
	if err != nil {
		return Clients{}, err
	}
	usd, err := c.Ledger(domain.AssetUSD)
	if err != nil {
		return Clients{}, err
	}

	return Clients{
		BTC:      btc,
		USD:      usd,
		Protocol: c.Protocol(),
		Bridge:   c.Bridge(cfg.UsdcLedgerID),
	}, nil
}
