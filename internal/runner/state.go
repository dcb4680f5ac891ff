package runner

import (
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/mintgate/internal/eligibility"
	"github.com/roach88/mintgate/internal/guard"
)

// Snapshot is the published outcome of one evaluation pass.
type Snapshot struct {
	Seq     int64
	PassID  string
	Trigger Trigger
	Time    guard.TimeSnapshot
	Wallet  *solana.PublicKey
	State   guard.MintState
	Result  eligibility.Result

	// Stale is set when a later pass failed transiently; Result is the last
	// good one and Err the failure.
	Stale bool

	// Halted is set when Err is a configuration or integrity failure.
	Halted bool

	Err error
}

// Holder keeps the latest published snapshot. Publication is last writer
// wins by sequence number: a snapshot older than the held one is refused.
//
// Thread-safety: Holder is safe for concurrent use.
type Holder struct {
	mu   sync.RWMutex
	snap Snapshot
	ok   bool
}

// Latest returns the held snapshot, false if nothing was published yet.
func (h *Holder) Latest() (Snapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap, h.ok
}

// publish stores s unless a newer snapshot is held.
func (h *Holder) publish(s Snapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ok && s.Seq <= h.snap.Seq {
		return false
	}
	h.snap = s
	h.ok = true
	return true
}

// markStale keeps the held verdicts and records err from pass seq.
// With nothing held, a result-less stale snapshot is stored.
func (h *Holder) markStale(seq int64, passID string, trigger Trigger, err error) (Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ok && seq <= h.snap.Seq {
		return h.snap, false
	}
	s := h.snap
	s.Seq = seq
	s.PassID = passID
	s.Trigger = trigger
	s.Stale = true
	s.Err = err
	h.snap = s
	h.ok = true
	return s, true
}
