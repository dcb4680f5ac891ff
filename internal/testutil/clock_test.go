package testutil

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mintgate/internal/guard"
)

func TestManualOracle_ReportsStart(t *testing.T) {
	o := NewManualOracle(1_700_000_000)

	now, err := o.ChainTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, guard.TimeSnapshot(1_700_000_000), now)
	assert.Equal(t, 1, o.Calls())
}

func TestManualOracle_SetAndAdvance(t *testing.T) {
	o := NewManualOracle(10)
	o.Advance(5)

	now, _ := o.ChainTime(context.Background())
	assert.Equal(t, guard.TimeSnapshot(15), now)

	o.Set(3)
	now, _ = o.ChainTime(context.Background())
	assert.Equal(t, guard.TimeSnapshot(3), now)
}

func TestManualOracle_FailAndRecover(t *testing.T) {
	o := NewManualOracle(10)
	boom := errors.New("rpc down")

	o.Fail(boom)
	_, err := o.ChainTime(context.Background())
	assert.ErrorIs(t, err, boom)

	o.Recover()
	now, err := o.ChainTime(context.Background())
	require.NoError(t, err)
	assert.Equal(t, guard.TimeSnapshot(10), now)
}

func TestManualOracle_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewManualOracle(1).ChainTime(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManualOracle_ThreadSafe(t *testing.T) {
	o := NewManualOracle(0)
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			o.Advance(1)
			_, _ = o.ChainTime(context.Background())
		}()
	}
	wg.Wait()

	now, _ := o.ChainTime(context.Background())
	assert.Equal(t, guard.TimeSnapshot(numGoroutines), now)
	assert.Equal(t, numGoroutines+1, o.Calls())
}
