package runner

import (
	"fmt"
	"sync"
)

// Trigger is the reason an evaluation pass runs.
type Trigger int

const (
	// TriggerTimerTick is the periodic re-evaluation.
	TriggerTimerTick Trigger = iota + 1
	// TriggerWalletChanged follows a wallet connect or disconnect.
	TriggerWalletChanged
	// TriggerUserAction follows an explicit user request, such as a mint.
	TriggerUserAction
	// TriggerReadCompleted follows an out-of-band chain read.
	TriggerReadCompleted
)

func (t Trigger) String() string {
	switch t {
	case TriggerTimerTick:
		return "timer_tick"
	case TriggerWalletChanged:
		return "wallet_changed"
	case TriggerUserAction:
		return "user_action"
	case TriggerReadCompleted:
		return "read_completed"
	default:
		return fmt.Sprintf("trigger(%d)", int(t))
	}
}

// triggerQueue is a thread-safe FIFO queue of triggers.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop.
type triggerQueue struct {
	mu       sync.Mutex
	triggers []Trigger
	closed   bool
	signal   chan struct{} // Signals trigger availability (buffered, size 1)
}

func newTriggerQueue() *triggerQueue {
	return &triggerQueue{
		triggers: make([]Trigger, 0, 16),
		signal:   make(chan struct{}, 1),
	}
}

// Enqueue adds a trigger to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *triggerQueue) Enqueue(t Trigger) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.triggers = append(q.triggers, t)

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (0, false) if queue is empty.
func (q *triggerQueue) TryDequeue() (Trigger, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.triggers) == 0 {
		return 0, false
	}

	t := q.triggers[0]
	if len(q.triggers) == 1 {
		q.triggers = q.triggers[:0]
	} else {
		q.triggers = q.triggers[1:]
	}
	return t, true
}

// Wait returns a channel that signals when triggers may be available.
// The channel is closed by Close.
func (q *triggerQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *triggerQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}

// Close signals that no more triggers will be enqueued.
func (q *triggerQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
