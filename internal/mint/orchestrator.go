// Package mint submits mint transactions for groups the evaluation runner
// reported as allowed.
//
// A published verdict can be stale by the time the user acts on it: the
// window may have closed, supply may have run out or the wallet may have
// spent its lamports. Orchestrator therefore re-reads chain state and
// re-evaluates the chosen group immediately before submitting, and reports a
// group that turned disallowed as a submission race.
package mint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/guard"
	"github.com/roach88/mintgate/internal/runner"
)

var (
	// ErrNoWallet is returned when no wallet is connected.
	ErrNoWallet = errors.New("no wallet connected")

	// ErrNotEvaluated is returned before the first pass published.
	ErrNotEvaluated = errors.New("eligibility not evaluated yet")

	// ErrUnknownGroup is returned for a label missing from the latest result.
	ErrUnknownGroup = errors.New("unknown guard group")

	// ErrNotAllowed is returned for a group the latest result disallows.
	ErrNotAllowed = errors.New("guard group not allowed")
)

// Session is the part of runner.Runner the orchestrator drives.
type Session interface {
	Latest() (runner.Snapshot, bool)
	Wallet() *solana.PublicKey
	Gather(ctx context.Context, walletAddr *solana.PublicKey) (runner.Inputs, error)
	Enqueue(t runner.Trigger) bool
}

// Orchestrator validates and submits mints.
type Orchestrator struct {
	session Session
	minter  chain.Minter
	eval    guard.EvaluateFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEvaluator sets the evaluator used for the pre-submission check. It
// should match the runner's.
func WithEvaluator(eval guard.EvaluateFunc) Option {
	return func(o *Orchestrator) {
		o.eval = eval
	}
}

// New creates an Orchestrator.
func New(session Session, minter chain.Minter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		session: session,
		minter:  minter,
		eval:    guard.Evaluate,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Mint mints up to amount items through the group labelled label.
//
// The group must be allowed in the latest published result. Its verdict is
// recomputed from fresh chain reads first; a group that is no longer allowed
// fails with a submission race error and schedules a new evaluation pass.
// amount is capped at the fresh verdict's MaxAmount.
func (o *Orchestrator) Mint(ctx context.Context, label string, amount uint64) (chain.Receipt, error) {
	if amount == 0 {
		return chain.Receipt{}, fmt.Errorf("mint amount must be positive")
	}

	wallet := o.session.Wallet()
	if wallet == nil {
		return chain.Receipt{}, ErrNoWallet
	}

	snap, ok := o.session.Latest()
	if !ok {
		return chain.Receipt{}, ErrNotEvaluated
	}
	if snap.Halted {
		return chain.Receipt{}, fmt.Errorf("evaluation halted: %w", snap.Err)
	}
	published, ok := snap.Result.Verdict(label)
	if !ok {
		return chain.Receipt{}, fmt.Errorf("%w: %q", ErrUnknownGroup, label)
	}
	if !published.Allowed {
		return chain.Receipt{}, fmt.Errorf("%w: %q: %s", ErrNotAllowed, label, published.Reason)
	}

	in, err := o.session.Gather(ctx, wallet)
	if err != nil {
		return chain.Receipt{}, fmt.Errorf("re-validate group %q: %w", label, err)
	}

	v, err := o.revalidate(in, label)
	if err != nil {
		o.session.Enqueue(runner.TriggerUserAction)
		return chain.Receipt{}, err
	}

	n := min(amount, v.MaxAmount)
	if n < amount {
		slog.Info("mint amount capped", "group", label, "requested", amount, "max", v.MaxAmount)
	}

	slog.Debug("submitting mint", "group", label, "amount", n, "wallet", wallet)
	receipt, err := o.minter.SubmitMint(ctx, chain.MintRequest{
		Machine: in.Machine.Address,
		Guard:   in.Guard.Address,
		Label:   label,
		Wallet:  *wallet,
		Amount:  n,
	})
	if err != nil {
		if guard.IsSubmissionRace(err) {
			o.session.Enqueue(runner.TriggerUserAction)
		}
		return chain.Receipt{}, err
	}

	slog.Info("mint submitted", "group", label, "minted", receipt.Minted)
	o.session.Enqueue(runner.TriggerReadCompleted)
	return receipt, nil
}

func (o *Orchestrator) revalidate(in runner.Inputs, label string) (guard.Verdict, error) {
	var g *guard.Group
	for i := range in.Groups {
		if in.Groups[i].Label == label {
			g = &in.Groups[i]
			break
		}
	}
	if g == nil {
		return guard.Verdict{}, guard.NewSubmissionRaceError(label, "group no longer configured")
	}

	v, err := o.eval(*g, in.Wallet, in.Time, in.State)
	if err != nil {
		return guard.Verdict{}, err
	}
	if !v.Allowed {
		return guard.Verdict{}, guard.NewSubmissionRaceError(label, v.Reason)
	}
	return v, nil
}
