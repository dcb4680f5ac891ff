package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/mintgate/internal/allowlist"
	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/eligibility"
	"github.com/roach88/mintgate/internal/guard"
)

// DefaultInterval is the default period of timer-tick passes.
const DefaultInterval = 10 * time.Second

var (
	// ErrPaused is returned for passes requested while evaluation is paused.
	ErrPaused = errors.New("evaluation paused")

	// ErrSuperseded is returned for passes discarded because their inputs
	// changed or a newer pass already published.
	ErrSuperseded = errors.New("evaluation pass superseded")

	// ErrHalted is returned for passes requested after a hard failure.
	ErrHalted = errors.New("evaluation halted")
)

// TimeSource provides chain time. Implemented by chaintime.Source.
type TimeSource interface {
	Current() guard.TimeSnapshot
	Ready() bool
	Refresh(ctx context.Context) (guard.TimeSnapshot, error)
}

// Recorder observes published snapshots. Implemented by journal.Journal.
// Recording failures are logged and never affect evaluation.
type Recorder interface {
	Record(ctx context.Context, s Snapshot) error
}

// Inputs are the chain reads one pass evaluates.
type Inputs struct {
	Machine chain.Machine
	Guard   chain.CandyGuard
	Groups  []guard.Group
	State   guard.MintState
	Wallet  *guard.Wallet
	Time    guard.TimeSnapshot
}

// Runner is the single-writer evaluation loop.
//
// Thread-safety model:
//   - Enqueue, SetWallet, Pause, Resume, Invalidate, Latest: safe from any goroutine
//   - Run and RunEvaluationPass: one goroutine at a time
type Runner struct {
	client  chain.Client
	clock   TimeSource
	machine solana.PublicKey

	eval       guard.EvaluateFunc
	allowLists map[string]*allowlist.Tree
	recorder   Recorder
	onPublish  func(Snapshot)
	ids        PassIDGenerator
	seq        *PassCounter
	interval   time.Duration

	queue  *triggerQueue
	holder Holder

	mu      sync.Mutex
	wallet  *solana.PublicKey
	cancel  context.CancelFunc
	epoch   atomic.Int64
	paused  atomic.Bool
	haltErr atomic.Pointer[error]
}

// Option configures a Runner.
type Option func(*Runner)

// WithEvaluator replaces the guard evaluator.
func WithEvaluator(eval guard.EvaluateFunc) Option {
	return func(r *Runner) {
		r.eval = eval
	}
}

// WithAllowLists sets allow-list trees by group label. A connected wallet
// that is a member gets the proof for that label.
func WithAllowLists(trees map[string]*allowlist.Tree) Option {
	return func(r *Runner) {
		r.allowLists = trees
	}
}

// WithRecorder records every published snapshot.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithOnPublish calls fn with every published snapshot, from the pass goroutine.
func WithOnPublish(fn func(Snapshot)) Option {
	return func(r *Runner) {
		r.onPublish = fn
	}
}

// WithIDGenerator sets the pass ID generator.
func WithIDGenerator(gen PassIDGenerator) Option {
	return func(r *Runner) {
		r.ids = gen
	}
}

// WithPassCounter numbers passes from c, for example one resumed from a
// journal so numbering continues across runs.
func WithPassCounter(c *PassCounter) Option {
	return func(r *Runner) {
		r.seq = c
	}
}

// WithInterval sets the timer-tick period of Run.
func WithInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.interval = d
		}
	}
}

// New creates a Runner for the candy machine at machine.
func New(client chain.Client, clock TimeSource, machine solana.PublicKey, opts ...Option) *Runner {
	r := &Runner{
		client:   client,
		clock:    clock,
		machine:  machine,
		eval:     guard.Evaluate,
		ids:      UUIDv7Generator{},
		seq:      NewPassCounter(),
		interval: DefaultInterval,
		queue:    newTriggerQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Enqueue submits a trigger to the Run loop. Returns false after Stop.
func (r *Runner) Enqueue(t Trigger) bool {
	return r.queue.Enqueue(t)
}

// Latest returns the last published snapshot.
func (r *Runner) Latest() (Snapshot, bool) {
	return r.holder.Latest()
}

// Epoch returns the current invalidation epoch.
func (r *Runner) Epoch() int64 {
	return r.epoch.Load()
}

// Wallet returns the connected wallet, nil when disconnected.
func (r *Runner) Wallet() *solana.PublicKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.wallet == nil {
		return nil
	}
	w := *r.wallet
	return &w
}

// SetWallet connects addr, or disconnects when addr is nil, and schedules a pass.
func (r *Runner) SetWallet(addr *solana.PublicKey) {
	r.mu.Lock()
	if addr == nil {
		r.wallet = nil
	} else {
		w := *addr
		r.wallet = &w
	}
	r.mu.Unlock()

	r.Invalidate()
	r.Enqueue(TriggerWalletChanged)
}

// Pause stops publishing while an NFT is being displayed.
func (r *Runner) Pause() {
	r.paused.Store(true)
	r.Invalidate()
}

// Resume re-enables evaluation and schedules a pass.
func (r *Runner) Resume() {
	r.paused.Store(false)
	r.Invalidate()
	r.Enqueue(TriggerUserAction)
}

// Paused reports whether evaluation is paused.
func (r *Runner) Paused() bool {
	return r.paused.Load()
}

// Invalidate bumps the epoch, cancelling and discarding the in-flight pass.
func (r *Runner) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch.Add(1)
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// Halted returns the hard failure that stopped evaluation, if any.
func (r *Runner) Halted() error {
	if p := r.haltErr.Load(); p != nil {
		return *p
	}
	return nil
}

// Stop closes the trigger queue, which makes Run return.
func (r *Runner) Stop() {
	r.queue.Close()
}

// Run processes triggers until ctx is cancelled, Stop is called, or a hard
// failure halts evaluation. A timer tick is enqueued every interval and one
// pass runs immediately.
//
// ERROR HANDLING: Transient and stale-pass errors are logged and the loop
// continues; the next trigger retries.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("runner starting", "machine", r.machine, "interval", r.interval)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Enqueue(TriggerTimerTick)

	for {
		if t, ok := r.queue.TryDequeue(); ok {
			if _, err := r.RunEvaluationPass(ctx, t); err != nil {
				if hard := r.Halted(); hard != nil {
					slog.Error("runner halted", "error", hard)
					r.queue.Close()
					return hard
				}
				logPassError(t, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("runner stopping: context cancelled")
			r.queue.Close()
			return ctx.Err()

		case <-ticker.C:
			r.Enqueue(TriggerTimerTick)

		case _, open := <-r.queue.Wait():
			// The signal channel closes with the queue.
			if !open && r.queue.Len() == 0 {
				slog.Info("runner stopping: queue closed")
				return nil
			}
		}
	}
}

func logPassError(t Trigger, err error) {
	switch {
	case errors.Is(err, ErrPaused), errors.Is(err, ErrSuperseded), errors.Is(err, context.Canceled):
		slog.Debug("evaluation pass discarded", "trigger", t, "reason", err)
	default:
		slog.Warn("evaluation pass failed", "trigger", t, "error", err)
	}
}

// beginPass registers the cancel func of a pass started at epoch.
// Returns false when the epoch already moved on.
func (r *Runner) beginPass(epoch int64, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch.Load() != epoch {
		return false
	}
	r.cancel = cancel
	return true
}

func (r *Runner) endPass(epoch int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch.Load() == epoch {
		r.cancel = nil
	}
}

// RunEvaluationPass runs one pass and publishes its snapshot.
//
// Returns ErrPaused, ErrSuperseded or ErrHalted for passes that publish
// nothing, a transient error when a read failed (the held verdicts are marked
// stale), or the hard failure that halted evaluation.
func (r *Runner) RunEvaluationPass(ctx context.Context, t Trigger) (Snapshot, error) {
	seq := r.seq.Next()
	passID := r.ids.Generate()
	epoch := r.epoch.Load()

	if err := r.Halted(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrHalted, err)
	}
	if r.paused.Load() {
		return Snapshot{}, ErrPaused
	}

	passCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if !r.beginPass(epoch, cancel) {
		return Snapshot{}, ErrSuperseded
	}
	defer r.endPass(epoch)

	slog.Debug("evaluation pass starting", "pass", seq, "id", passID, "trigger", t, "epoch", epoch)

	walletAddr := r.Wallet()
	in, err := r.Gather(passCtx, walletAddr)
	if err == nil {
		var res eligibility.Result
		res, err = eligibility.Aggregate(in.Groups, r.eval, in.Wallet, in.Time, in.State)
		if err == nil {
			return r.publish(passCtx, epoch, Snapshot{
				Seq:     seq,
				PassID:  passID,
				Trigger: t,
				Time:    in.Time,
				Wallet:  walletAddr,
				State:   in.State,
				Result:  res,
			})
		}
	}

	if ctx.Err() != nil {
		return Snapshot{}, ctx.Err()
	}
	if r.epoch.Load() != epoch || passCtx.Err() != nil {
		return Snapshot{}, ErrSuperseded
	}

	if guard.IsHardFailure(err) {
		r.haltErr.CompareAndSwap(nil, &err)
		snap := Snapshot{Seq: seq, PassID: passID, Trigger: t, Wallet: walletAddr, Halted: true, Err: err}
		if r.holder.publish(snap) {
			r.observe(ctx, snap)
		}
		return snap, err
	}

	snap, ok := r.holder.markStale(seq, passID, t, err)
	if ok {
		r.observe(ctx, snap)
	}
	return snap, err
}

func (r *Runner) publish(ctx context.Context, epoch int64, snap Snapshot) (Snapshot, error) {
	if r.epoch.Load() != epoch {
		return Snapshot{}, ErrSuperseded
	}
	if !r.holder.publish(snap) {
		return Snapshot{}, ErrSuperseded
	}

	slog.Debug("evaluation pass published",
		"pass", snap.Seq,
		"trigger", snap.Trigger,
		"any_allowed", snap.Result.AnyAllowed,
		"best", snap.Result.BestLabel,
	)
	r.observe(ctx, snap)
	return snap, nil
}

func (r *Runner) observe(ctx context.Context, snap Snapshot) {
	if r.recorder != nil {
		if err := r.recorder.Record(context.WithoutCancel(ctx), snap); err != nil {
			slog.Warn("journal record failed", "pass", snap.Seq, "error", err)
		}
	}
	if r.onPublish != nil {
		r.onPublish(snap)
	}
}

// Gather reads everything a pass evaluates: chain time, machine, candy guard
// with resolved groups and, when walletAddr is set, the wallet with its
// allow-list proofs.
func (r *Runner) Gather(ctx context.Context, walletAddr *solana.PublicKey) (Inputs, error) {
	var in Inputs

	if !r.clock.Ready() {
		if _, err := r.clock.Refresh(ctx); err != nil {
			return Inputs{}, err
		}
	}
	in.Time = r.clock.Current()

	if r.machine.IsZero() {
		return Inputs{}, guard.NewConfigurationError("candy machine address is not configured", nil)
	}

	m, err := r.client.FetchMachine(ctx, r.machine)
	if err != nil {
		return Inputs{}, err
	}
	in.Machine = m

	cg, err := r.client.FetchGuard(ctx, m)
	if err != nil {
		return Inputs{}, err
	}
	in.Guard = cg

	if in.Groups, err = cg.Resolved(); err != nil {
		return Inputs{}, err
	}

	in.State = m.State
	in.State.Allocations = cg.Allocations

	if walletAddr != nil {
		w, err := r.client.FetchWallet(ctx, *walletAddr, chain.WalletRequest{
			Machine: m.Address,
			Guard:   cg.Address,
			Groups:  in.Groups,
		})
		if err != nil {
			return Inputs{}, err
		}
		r.attachProofs(w)
		in.Wallet = w
	}
	return in, nil
}

func (r *Runner) attachProofs(w *guard.Wallet) {
	for label, tree := range r.allowLists {
		proof, ok := tree.Proof(w.Address)
		if !ok {
			continue
		}
		w.SetProof(label, proof)
	}
}
