// Package retrier retries remote calls with exponential backoff.
//
// Every error is retried unless WithRetryIf narrows the set. Callers that
// talk to the gateway pass domain.IsTransport so that remote rejections fail
// on the first attempt.
package retrier

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
	defaultJitter          = 0.1
)

// Retrier holds a backoff policy. It is safe for concurrent use: every Do
// builds its own backoff state.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      uint64
	jitter          float64
	retryIf         func(error) bool
	onRetry         func(attempt int, err error)
}

// Option configures a Retrier.
type Option func(*Retrier)

// WithInitialInterval delay before the first retry.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) { r.initialInterval = d }
}

// WithMaxInterval caps the delay between retries.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) { r.maxInterval = d }
}

// WithMultiplier growth factor of the delay.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) { r.multiplier = m }
}

// WithMaxRetries retries after the first attempt. Negative means none.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		if n < 0 {
			n = 0
		}
		r.maxRetries = uint64(n)
	}
}

// WithJitter randomization factor of each delay, 0.0 to 1.0.
func WithJitter(j float64) Option {
	return func(r *Retrier) { r.jitter = j }
}

// WithRetryIf retries only errors for which fn returns true. Other errors are
// returned immediately.
func WithRetryIf(fn func(error) bool) Option {
	return func(r *Retrier) { r.retryIf = fn }
}

// WithOnRetry calls fn before every retry with the attempt number and the
// error that caused it.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(r *Retrier) { r.onRetry = fn }
}

// New creates a Retrier; opts override the defaults.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retrier) policy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = r.initialInterval
	exp.MaxInterval = r.maxInterval
	exp.Multiplier = r.multiplier
	exp.RandomizationFactor = r.jitter
	exp.MaxElapsedTime = 0

	return backoff.WithContext(backoff.WithMaxRetries(exp, r.maxRetries), ctx)
}

// Do runs fn until it succeeds, the retries are used up, the error is not
// retryable or ctx is done. The last error of fn is returned, or ctx.Err().
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		err := fn(ctx)
		if err != nil && r.retryIf != nil && !r.retryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, _ time.Duration) {
		attempt++
		if r.onRetry != nil {
			r.onRetry(attempt, err)
		}
	}

	return backoff.RetryNotify(op, r.policy(ctx), notify)
}

// DoWithData is Do for functions that return a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
