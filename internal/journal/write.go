package journal

import (
	"context"
	"fmt"

	"github.com/roach88/mintgate/internal/digest"
	"github.com/roach88/mintgate/internal/runner"
)

var _ runner.Recorder = (*Journal)(nil)

// Record appends a published snapshot and its verdicts.
// Uses ON CONFLICT(seq) DO NOTHING, so recording a pass twice is a no-op.
func (j *Journal) Record(ctx context.Context, s runner.Snapshot) error {
	sum, err := digest.Result(s.Result)
	if err != nil {
		return fmt.Errorf("record pass %d: %w", s.Seq, err)
	}

	var wallet any
	if s.Wallet != nil {
		wallet = s.Wallet.String()
	}
	var errText string
	if s.Err != nil {
		errText = s.Err.Error()
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record pass %d: begin tx: %w", s.Seq, err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO passes
		(seq, pass_id, trigger, chain_time, wallet, items_available, items_redeemed,
		 any_allowed, best_label, stale, halted, error, digest)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(seq) DO NOTHING
	`,
		s.Seq,
		s.PassID,
		s.Trigger.String(),
		int64(s.Time),
		wallet,
		int64(s.State.ItemsAvailable),
		int64(s.State.ItemsRedeemed),
		s.Result.AnyAllowed,
		s.Result.BestLabel,
		s.Stale,
		s.Halted,
		errText,
		sum,
	)
	if err != nil {
		return fmt.Errorf("record pass %d: insert: %w", s.Seq, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record pass %d: rows affected: %w", s.Seq, err)
	}
	if n == 0 {
		return nil
	}

	for i, v := range s.Result.Verdicts {
		failures, err := marshalFailures(v.Failures)
		if err != nil {
			return fmt.Errorf("record pass %d: %w", s.Seq, err)
		}
		payments, err := marshalPayments(v.Payments)
		if err != nil {
			return fmt.Errorf("record pass %d: %w", s.Seq, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO verdicts
			(pass_seq, position, label, allowed, max_amount, reason, failures, payments)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			s.Seq,
			i,
			v.Label,
			v.Allowed,
			int64(v.MaxAmount),
			v.Reason,
			failures,
			payments,
		)
		if err != nil {
			return fmt.Errorf("record pass %d: insert verdict %q: %w", s.Seq, v.Label, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record pass %d: commit: %w", s.Seq, err)
	}
	return nil
}
