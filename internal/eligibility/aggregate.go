// Package eligibility merges per-group guard verdicts into the eligibility
// result of one evaluation pass.
package eligibility

import (
	"fmt"

	"github.com/roach88/mintgate/internal/guard"
)

// Result is the outcome of one pass over every guard group of a machine.
type Result struct {
	// Verdicts holds one verdict per group in declared order.
	Verdicts []guard.Verdict `json:"verdicts"`

	// AnyAllowed is true iff some verdict is allowed.
	AnyAllowed bool `json:"any_allowed"`

	// BestLabel is the first allowed label in declared order, empty if none.
	BestLabel string `json:"best_label,omitempty"`
}

// Verdict returns the verdict for label.
func (r Result) Verdict(label string) (guard.Verdict, bool) {
	for _, v := range r.Verdicts {
		if v.Label == label {
			return v, true
		}
	}
	return guard.Verdict{}, false
}

// Aggregate evaluates every group and merges the verdicts.
//
// The groups slice is copied before evaluation so callers may reuse it.
// When w is nil, groups that depend on the wallet are reported as
// "wallet not connected" without calling eval. Their condition types are
// still checked, so an unknown condition fails with or without a wallet.
func Aggregate(
	groups []guard.Group,
	eval guard.EvaluateFunc,
	w *guard.Wallet,
	now guard.TimeSnapshot,
	st guard.MintState,
) (Result, error) {
	if err := st.Validate(); err != nil {
		return Result{}, err
	}

	gs := make([]guard.Group, len(groups))
	copy(gs, groups)

	seen := make(map[string]struct{}, len(gs))
	res := Result{Verdicts: make([]guard.Verdict, 0, len(gs))}

	for _, g := range gs {
		if _, dup := seen[g.Label]; dup {
			return Result{}, guard.NewConfigurationError(fmt.Sprintf("duplicate guard group label %q", g.Label), nil)
		}
		seen[g.Label] = struct{}{}

		var v guard.Verdict
		if w == nil && g.WalletDependent() {
			if err := g.Validate(); err != nil {
				return Result{}, fmt.Errorf("evaluate group %q: %w", g.Label, err)
			}
			v = disconnected(g)
		} else {
			var err error
			v, err = eval(g, w, now, st)
			if err != nil {
				return Result{}, fmt.Errorf("evaluate group %q: %w", g.Label, err)
			}
		}

		if v.Allowed {
			res.AnyAllowed = true
			if res.BestLabel == "" {
				res.BestLabel = v.Label
			}
		}
		res.Verdicts = append(res.Verdicts, v)
	}
	return res, nil
}

func disconnected(g guard.Group) guard.Verdict {
	var fails []guard.Failure
	for _, c := range g.Conditions {
		if c.WalletDependent() {
			fails = append(fails, guard.Failure{Condition: c.Type, Reason: guard.ReasonWalletNotConnected})
		}
	}
	return guard.Verdict{
		Label:    g.Label,
		Reason:   guard.ReasonWalletNotConnected,
		Failures: fails,
	}
}
