package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/config"
	"github.com/roach88/mintgate/internal/digest"
	"github.com/roach88/mintgate/internal/guard"
	"github.com/roach88/mintgate/internal/runner"
)

// GroupView is one verdict with its display texts.
type GroupView struct {
	guard.Verdict
	Text config.LabelText `json:"text"`
}

// CheckResult is the rendered outcome of one evaluation pass.
type CheckResult struct {
	Pass           int64       `json:"pass"`
	Machine        string      `json:"machine"`
	ChainTime      int64       `json:"chain_time"`
	Wallet         string      `json:"wallet,omitempty"`
	ItemsAvailable uint64      `json:"items_available"`
	ItemsRedeemed  uint64      `json:"items_redeemed"`
	AnyAllowed     bool        `json:"any_allowed"`
	BestLabel      string      `json:"best_label,omitempty"`
	Groups         []GroupView `json:"groups"`
	Stale          bool        `json:"stale,omitempty"`
	Error          string      `json:"error,omitempty"`
	Digest         string      `json:"digest"`
}

func newCheckResult(cfg config.Config, machine string, s runner.Snapshot) (CheckResult, error) {
	sum, err := digest.Result(s.Result)
	if err != nil {
		return CheckResult{}, err
	}
	res := CheckResult{
		Pass:           s.Seq,
		Machine:        machine,
		ChainTime:      int64(s.Time),
		ItemsAvailable: s.State.ItemsAvailable,
		ItemsRedeemed:  s.State.ItemsRedeemed,
		AnyAllowed:     s.Result.AnyAllowed,
		BestLabel:      s.Result.BestLabel,
		Groups:         make([]GroupView, len(s.Result.Verdicts)),
		Stale:          s.Stale,
		Digest:         sum,
	}
	if s.Wallet != nil {
		res.Wallet = s.Wallet.String()
	}
	if s.Err != nil {
		res.Error = s.Err.Error()
	}
	for i, v := range s.Result.Verdicts {
		res.Groups[i] = GroupView{Verdict: v, Text: cfg.Text(v.Label)}
	}
	return res, nil
}

func formatChainTime(t int64) string {
	return fmt.Sprintf("%s (%d)", time.Unix(t, 0).UTC().Format(time.RFC3339), t)
}

func (r CheckResult) String() string {
	var b strings.Builder

	wallet := r.Wallet
	if wallet == "" {
		wallet = "(not connected)"
	}
	fmt.Fprintf(&b, "machine  %s\n", r.Machine)
	fmt.Fprintf(&b, "time     %s\n", formatChainTime(r.ChainTime))
	fmt.Fprintf(&b, "wallet   %s\n", wallet)
	fmt.Fprintf(&b, "supply   %d/%d redeemed\n", r.ItemsRedeemed, r.ItemsAvailable)
	if r.Stale {
		fmt.Fprintf(&b, "STALE    %s\n", r.Error)
	}
	b.WriteString("\n")

	for _, g := range r.Groups {
		mark := "✗"
		status := g.Reason
		if g.Allowed {
			mark = "✓"
			status = fmt.Sprintf("%s, max %d", g.Text.ButtonLabel, g.MaxAmount)
		}
		fmt.Fprintf(&b, "%s %-6s  %-12s  %s\n", mark, g.Label, g.Text.Header, status)
		for _, p := range g.Payments {
			fmt.Fprintf(&b, "         pays %s\n", formatPayment(p))
		}
		if len(g.Failures) > 1 {
			for _, f := range g.Failures[1:] {
				fmt.Fprintf(&b, "         also %s: %s\n", f.Condition, f.Reason)
			}
		}
	}

	b.WriteString("\n")
	if r.AnyAllowed {
		fmt.Fprintf(&b, "mintable: %s\n", r.BestLabel)
	} else {
		b.WriteString("mintable: none\n")
	}
	return b.String()
}

func formatPayment(p guard.Payment) string {
	var s string
	switch p.Condition {
	case guard.SolPayment, guard.FreezeSolPayment:
		s = fmt.Sprintf("%s %d lamports", p.Condition, p.Amount)
	default:
		s = fmt.Sprintf("%s %d of %s", p.Condition, p.Amount, p.Mint)
	}
	if p.Covered != nil && !*p.Covered {
		s += " (insufficient balance)"
	}
	return s
}

// HaltResult reports evaluation stopped by a hard failure.
type HaltResult struct {
	Pass  int64  `json:"pass"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (h HaltResult) String() string {
	return fmt.Sprintf("evaluation halted [%s]: %s\n", h.Code, h.Error)
}

// MintResult is the outcome of a submitted mint.
type MintResult struct {
	chain.Receipt
	Wallet string `json:"wallet"`
}

func (m MintResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "minted %d via %s for %s\n", m.Minted, m.Label, m.Wallet)
	for _, sig := range m.Signatures {
		fmt.Fprintf(&b, "  %s\n", sig)
	}
	return b.String()
}
