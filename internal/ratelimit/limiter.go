// Package ratelimit enforces the Companies House request budget: a fixed
// number of requests per fixed window, waiting out the remainder of the
// window (plus a safety buffer) once the budget is spent.
package ratelimit

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Default budget values for the Companies House API.
const (
	DefaultBudget = 600
	DefaultWindow = 5 * time.Minute
	DefaultBuffer = time.Second
)

// Budget counts requests inside a fixed window.
type Budget interface {
	// Reserve records one request. If the window's budget is already spent it
	// records nothing and returns the time left until the window ends.
	Reserve(ctx context.Context) (time.Duration, error)
	// Restart begins a fresh window with no recorded requests.
	Restart(ctx context.Context) error
}

// Config sets the budget size and timing.
type Config struct {
	Budget int
	Window time.Duration
	Buffer time.Duration
}

// Limiter gates outbound calls against a Budget. It is owned by a single
// run; share a RedisBudget to coordinate across processes.
type Limiter struct {
	cfg    Config
	budget Budget
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	onWait func(d time.Duration)
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithBudget replaces the in-process counter.
func WithBudget(b Budget) Option {
	return func(l *Limiter) { l.budget = b }
}

// WithClock sets the time source used by the in-process counter.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSleep sets the function used to wait out an exhausted window.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// OnWait registers a callback invoked before each budget wait.
func OnWait(fn func(d time.Duration)) Option {
	return func(l *Limiter) { l.onWait = fn }
}

// New creates a Limiter. Zero config values fall back to the defaults.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}

	l := &Limiter{cfg: cfg, now: time.Now, sleep: Sleep}
	for _, o := range opts {
		o(l)
	}
	if l.budget == nil {
		l.budget = NewMemoryBudget(cfg.Budget, cfg.Window, l.now)
	}
	return l
}

// CheckAndWait blocks until one more request fits in the budget, then
// records it. A wait lasts the rest of the window plus the buffer. With a
// shared budget the fresh window may be spent by another process during
// the wait, in which case it waits again.
func (l *Limiter) CheckAndWait(ctx context.Context) error {
	for {
		remaining, err := l.budget.Reserve(ctx)
		if err != nil {
			return eris.Wrap(err, "ratelimit: reserve")
		}
		if remaining <= 0 {
			return nil
		}

		wait := remaining + l.cfg.Buffer
		zap.L().Info("ratelimit: budget exhausted, waiting for next window",
			zap.Int("budget", l.cfg.Budget),
			zap.Duration("wait", wait),
		)
		if l.onWait != nil {
			l.onWait(wait)
		}
		if err := l.sleep(ctx, wait); err != nil {
			return eris.Wrap(err, "ratelimit: wait")
		}

		if err := l.budget.Restart(ctx); err != nil {
			return eris.Wrap(err, "ratelimit: restart window")
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
