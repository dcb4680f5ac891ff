package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/mintgate/internal/guard"
)

// ErrPassNotFound is returned by Pass for an unknown sequence number.
var ErrPassNotFound = errors.New("pass not found")

// Pass is one recorded evaluation pass.
type Pass struct {
	Seq            int64           `json:"seq"`
	PassID         string          `json:"pass_id"`
	Trigger        string          `json:"trigger"`
	ChainTime      int64           `json:"chain_time"`
	Wallet         string          `json:"wallet,omitempty"`
	ItemsAvailable uint64          `json:"items_available"`
	ItemsRedeemed  uint64          `json:"items_redeemed"`
	AnyAllowed     bool            `json:"any_allowed"`
	BestLabel      string          `json:"best_label,omitempty"`
	Stale          bool            `json:"stale,omitempty"`
	Halted         bool            `json:"halted,omitempty"`
	Error          string          `json:"error,omitempty"`
	Digest         string          `json:"digest"`
	Verdicts       []guard.Verdict `json:"verdicts"`
}

// Filter narrows Passes.
type Filter struct {
	// Label keeps passes that have a verdict for this group.
	Label string

	// Changed keeps only passes whose digest differs from the previous
	// recorded pass.
	Changed bool

	// Limit keeps the most recent passes. Zero means no limit.
	Limit int
}

const passColumns = `seq, pass_id, trigger, chain_time, wallet, items_available, items_redeemed,
	any_allowed, best_label, stale, halted, error, digest`

// Passes returns recorded passes with their verdicts, ordered by seq ASC.
// Returns an empty slice (not nil) if nothing matches.
func (j *Journal) Passes(ctx context.Context, f Filter) ([]Pass, error) {
	var (
		where []string
		args  []any
	)
	if f.Label != "" {
		where = append(where, "EXISTS (SELECT 1 FROM verdicts v WHERE v.pass_seq = p.seq AND v.label = ?)")
		args = append(args, f.Label)
	}
	if f.Changed {
		where = append(where, `p.digest IS NOT (
			SELECT prev.digest FROM passes prev WHERE prev.seq < p.seq ORDER BY prev.seq DESC LIMIT 1
		)`)
	}

	query := "SELECT " + passColumns + " FROM passes p"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY p.seq DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query passes: %w", err)
	}
	defer rows.Close()

	passes := []Pass{}
	for rows.Next() {
		p, err := scanPass(rows)
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate passes: %w", err)
	}

	// Newest first from the query; callers read oldest first.
	for i, k := 0, len(passes)-1; i < k; i, k = i+1, k-1 {
		passes[i], passes[k] = passes[k], passes[i]
	}

	for i := range passes {
		if passes[i].Verdicts, err = j.readVerdicts(ctx, passes[i].Seq); err != nil {
			return nil, err
		}
	}
	return passes, nil
}

// Pass returns a single recorded pass with its verdicts.
// Returns ErrPassNotFound if seq was never recorded.
func (j *Journal) Pass(ctx context.Context, seq int64) (Pass, error) {
	row := j.db.QueryRowContext(ctx, "SELECT "+passColumns+" FROM passes p WHERE p.seq = ?", seq)
	p, err := scanPass(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Pass{}, fmt.Errorf("%w: %d", ErrPassNotFound, seq)
	}
	if err != nil {
		return Pass{}, err
	}
	if p.Verdicts, err = j.readVerdicts(ctx, seq); err != nil {
		return Pass{}, err
	}
	return p, nil
}

// LastSeq returns the highest recorded sequence number, 0 for an empty journal.
// Used to continue pass numbering across runs.
func (j *Journal) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := j.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM passes").Scan(&seq); err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq.Int64, nil
}

func (j *Journal) readVerdicts(ctx context.Context, seq int64) ([]guard.Verdict, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT label, allowed, max_amount, reason, failures, payments
		FROM verdicts
		WHERE pass_seq = ?
		ORDER BY position ASC
	`, seq)
	if err != nil {
		return nil, fmt.Errorf("query verdicts: %w", err)
	}
	defer rows.Close()

	verdicts := []guard.Verdict{}
	for rows.Next() {
		var (
			v                  guard.Verdict
			maxAmount          int64
			failures, payments string
		)
		if err := rows.Scan(&v.Label, &v.Allowed, &maxAmount, &v.Reason, &failures, &payments); err != nil {
			return nil, fmt.Errorf("scan verdict: %w", err)
		}
		v.MaxAmount = uint64(maxAmount)
		if v.Failures, err = unmarshalFailures(failures); err != nil {
			return nil, err
		}
		if v.Payments, err = unmarshalPayments(payments); err != nil {
			return nil, err
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verdicts: %w", err)
	}
	return verdicts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPass(s scanner) (Pass, error) {
	var (
		p                   Pass
		wallet              sql.NullString
		available, redeemed int64
	)
	err := s.Scan(
		&p.Seq,
		&p.PassID,
		&p.Trigger,
		&p.ChainTime,
		&wallet,
		&available,
		&redeemed,
		&p.AnyAllowed,
		&p.BestLabel,
		&p.Stale,
		&p.Halted,
		&p.Error,
		&p.Digest,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Pass{}, err
	}
	if err != nil {
		return Pass{}, fmt.Errorf("scan pass: %w", err)
	}
	p.Wallet = wallet.String
	p.ItemsAvailable = uint64(available)
	p.ItemsRedeemed = uint64(redeemed)
	return p, nil
}
