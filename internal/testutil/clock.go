package testutil

import (
	"context"
	"sync"

	"github.com/roach88/mintgate/internal/guard"
)

// ManualOracle is a chain time oracle driven by the test.
//
// Set moves time, Fail makes the next reads return an error until Recover.
// Calls counts reads.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ManualOracle struct {
	mu    sync.Mutex
	now   guard.TimeSnapshot
	err   error
	calls int
}

// NewManualOracle creates an oracle reporting start.
func NewManualOracle(start guard.TimeSnapshot) *ManualOracle {
	return &ManualOracle{now: start}
}

// ChainTime returns the current manual time or the injected error.
func (o *ManualOracle) ChainTime(ctx context.Context) (guard.TimeSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if o.err != nil {
		return 0, o.err
	}
	return o.now, nil
}

// Set moves the reported time to t. Moving backwards is allowed so tests can
// exercise monotonicity of consumers.
func (o *ManualOracle) Set(t guard.TimeSnapshot) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now = t
}

// Advance moves the reported time forward by d seconds.
func (o *ManualOracle) Advance(d int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.now += guard.TimeSnapshot(d)
}

// Fail makes reads return err until Recover is called.
func (o *ManualOracle) Fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

// Recover clears an injected error.
func (o *ManualOracle) Recover() {
	o.Fail(nil)
}

// Calls returns the number of reads so far.
func (o *ManualOracle) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}
