// Package chaintime tracks network-consensus time for eligibility passes.
//
// Guard windows are enforced on chain against the clock sysvar, not the local
// wall clock, so evaluation reads time from a Source that polls an Oracle
// (the Solana clock sysvar in production) on a fixed interval.
//
// A Source is shared: the poller writes, any number of readers call Current.
// Reported time never goes backwards; a fetch failure keeps the last value.
package chaintime

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/mintgate/internal/guard"
)

// DefaultInterval is the polling interval used by Run.
const DefaultInterval = 5 * time.Second

// Oracle reads the current chain time.
type Oracle interface {
	ChainTime(ctx context.Context) (guard.TimeSnapshot, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context) (guard.TimeSnapshot, error)

// ChainTime calls f.
func (f OracleFunc) ChainTime(ctx context.Context) (guard.TimeSnapshot, error) {
	return f(ctx)
}

// Source holds the latest known chain time.
type Source struct {
	oracle   Oracle
	interval time.Duration

	now      atomic.Int64
	ready    atomic.Bool
	failures atomic.Int64
}

// Option configures a Source.
type Option func(*Source)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) Option {
	return func(s *Source) {
		if d > 0 {
			s.interval = d
		}
	}
}

// New creates a Source reading from oracle. No value is known until the first
// successful Refresh.
func New(oracle Oracle, opts ...Option) *Source {
	s := &Source{oracle: oracle, interval: DefaultInterval}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the latest known chain time.
func (s *Source) Current() guard.TimeSnapshot {
	return guard.TimeSnapshot(s.now.Load())
}

// Ready reports whether at least one refresh has succeeded.
func (s *Source) Ready() bool {
	return s.ready.Load()
}

// Failures returns the number of failed refreshes since creation.
func (s *Source) Failures() int64 {
	return s.failures.Load()
}

// Refresh reads the oracle once and publishes the result.
//
// On error the previous value is kept and the error is returned wrapped as a
// transient fetch error. A reading older than the current value is ignored.
func (s *Source) Refresh(ctx context.Context) (guard.TimeSnapshot, error) {
	t, err := s.oracle.ChainTime(ctx)
	if err != nil {
		s.failures.Add(1)
		return s.Current(), guard.NewTransientError("read chain time", err)
	}

	for {
		cur := s.now.Load()
		if s.ready.Load() && int64(t) <= cur {
			return guard.TimeSnapshot(cur), nil
		}
		if s.now.CompareAndSwap(cur, int64(t)) {
			s.ready.Store(true)
			return t, nil
		}
	}
}

// Run refreshes immediately and then on every interval until ctx is done.
// Failures are logged and polling continues.
func (s *Source) Run(ctx context.Context) error {
	s.refreshAndLog(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.refreshAndLog(ctx)
		}
	}
}

func (s *Source) refreshAndLog(ctx context.Context) {
	if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		slog.Warn("chain time refresh failed",
			"error", err,
			"failures", s.Failures(),
			"last", int64(s.Current()),
		)
	}
}
