// Package snapshot loads the read-only protocol state of an account.
package snapshot

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/ckvault/internal/domain"
	"github.com/vadiminshakov/ckvault/internal/services/risk"
	"github.com/vadiminshakov/ckvault/pkg/retrier"
)

// Source read-only protocol queries.
type Source interface {
	GetPortfolio(ctx context.Context, account string) (domain.Portfolio, error)
	GetPosition(ctx context.Context, account string) (domain.Position, error)
	GetPrices(ctx context.Context) (domain.PriceQuote, error)
	GetProtocolConfig(ctx context.Context) (domain.ProtocolConfig, error)
	GetProtocolStats(ctx context.Context) (domain.ProtocolStats, error)
}

// Snapshot consistent view of protocol state. It is never modified after Load returns it.
type Snapshot struct {
	Account   string
	Portfolio domain.Portfolio
	Position  domain.Position
	Prices    domain.PriceQuote
	Config    domain.ProtocolConfig
	Stats     domain.ProtocolStats
	Rates     risk.Rates
	LoadedAt  time.Time
}

// Risk derives the display risk summary.
func (s *Snapshot) Risk() risk.Summary {
	return risk.Assess(risk.Inputs{Position: s.Position, Prices: s.Prices, Rates: s.Rates})
}

// Loader fetches snapshots.
type Loader struct {
	l       *zap.Logger
	source  Source
	retrier *retrier.Retrier
	now     func() time.Time
}

// NewLoader creates a loader. Queries failing with a transport error are
// retried with exponential backoff; remote rejections are not.
func NewLoader(l *zap.Logger, source Source, opts ...retrier.Option) *Loader {
	base := []retrier.Option{
		retrier.WithMaxRetries(3),
		retrier.WithInitialInterval(500 * time.Millisecond),
		retrier.WithMaxInterval(5 * time.Second),
		retrier.WithRetryIf(domain.IsTransport),
		retrier.WithOnRetry(func(attempt int, err error) {
			l.Warn("retrying snapshot query", zap.Int("attempt", attempt), zap.Error(err))
		}),
	}
	return &Loader{
		l:       l,
		source:  source,
		retrier: retrier.New(append(base, opts...)...),
		now:     time.Now,
	}
}

// Load fetches every part concurrently and fails if any part fails.
func (ld *Loader) Load(ctx context.Context, account string) (*Snapshot, error) {
	account = strings.TrimSpace(account)
	if err := domain.ValidateAccount(account); err != nil {
		return nil, err
	}

	s := &Snapshot{Account: account}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		s.Portfolio, err = retrier.DoWithData(ld.retrier, gctx, func(ctx context.Context) (domain.Portfolio, error) {
			return ld.source.GetPortfolio(ctx, account)
		})
		return errors.Wrap(err, "load portfolio")
	})
	g.Go(func() (err error) {
		s.Position, err = retrier.DoWithData(ld.retrier, gctx, func(ctx context.Context) (domain.Position, error) {
			return ld.source.GetPosition(ctx, account)
		})
		return errors.Wrap(err, "load position")
	})
	g.Go(func() (err error) {
		s.Prices, err = retrier.DoWithData(ld.retrier, gctx, ld.source.GetPrices)
		return errors.Wrap(err, "load prices")
	})
	g.Go(func() (err error) {
		s.Config, err = retrier.DoWithData(ld.retrier, gctx, ld.source.GetProtocolConfig)
		return errors.Wrap(err, "load protocol config")
	})
	g.Go(func() (err error) {
		s.Stats, err = retrier.DoWithData(ld.retrier, gctx, ld.source.GetProtocolStats)
		return errors.Wrap(err, "load protocol stats")
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.Rates = risk.NewRates(s.Config)
	s.LoadedAt = ld.now()

	return s, nil
}

// Cache holds the latest snapshot. Readers always see a complete snapshot.
type Cache struct {
	loader  *Loader
	account string
	current atomic.Pointer[Snapshot]
}

// NewCache creates an empty cache for account.
func NewCache(loader *Loader, account string) *Cache {
	return &Cache{loader: loader, account: account}
}

// Refresh loads a new snapshot and replaces the cached one. On failure the
// previous snapshot stays in place.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	s, err := c.loader.Load(ctx, c.account)
	if err != nil {
		return nil, err
	}
	c.current.Store(s)
	return s, nil
}

// Current returns the cached snapshot, nil before the first successful Refresh.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}
