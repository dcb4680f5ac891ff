package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mintgate/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Journal string
	Group   string // optional - filter to passes with this group
	Changed bool
	Limit   int
	Seq     int64
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	Journal string         `json:"journal"`
	Passes  []journal.Pass `json:"passes"`
	Stats   TraceStats     `json:"stats"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Passes  int `json:"passes"`
	Allowed int `json:"allowed"`
	Stale   int `json:"stale"`
	Halted  int `json:"halted"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded evaluation passes",
		Long: `Show evaluation passes recorded by "mintgate watch --journal".

Each pass lists its trigger, chain time, wallet and the verdict of every
guard group, oldest first.

Examples:
  mintgate trace --journal ./mintgate.db
  mintgate trace --journal ./mintgate.db --group WL --changed
  mintgate trace --journal ./mintgate.db --seq 42 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Journal, "journal", "", "path to SQLite journal (default: journal in config)")
	cmd.Flags().StringVar(&opts.Group, "group", "", "only passes with a verdict for this group")
	cmd.Flags().BoolVar(&opts.Changed, "changed", false, "only passes whose verdicts changed")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "only the most recent passes (0 = all)")
	cmd.Flags().Int64Var(&opts.Seq, "seq", 0, "show a single pass")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	path := opts.Journal
	if path == "" {
		cfg, err := loadConfig(opts.RootOptions)
		if err != nil {
			return err
		}
		path = cfg.Journal
	}
	if path == "" {
		return NewExitError(ExitCommandError, "no journal: pass --journal or set journal in config")
	}
	// Opening would create an empty journal.
	if _, err := os.Stat(path); err != nil {
		return WrapExitError(ExitCommandError, "journal not found", err)
	}

	j, err := journal.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	var passes []journal.Pass
	if opts.Seq > 0 {
		p, err := j.Pass(ctx, opts.Seq)
		if errors.Is(err, journal.ErrPassNotFound) {
			return WrapExitError(ExitCommandError, "unknown pass", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		passes = []journal.Pass{p}
	} else {
		passes, err = j.Passes(ctx, journal.Filter{
			Label:   labelArg(opts.Group),
			Changed: opts.Changed,
			Limit:   opts.Limit,
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
	}

	result := TraceResult{Journal: path, Passes: passes}
	for _, p := range passes {
		result.Stats.Passes++
		if p.AnyAllowed {
			result.Stats.Allowed++
		}
		if p.Stale {
			result.Stats.Stale++
		}
		if p.Halted {
			result.Stats.Halted++
		}
	}

	return formatter.Success(result)
}

func (r TraceResult) String() string {
	var b strings.Builder

	if len(r.Passes) == 0 {
		fmt.Fprintf(&b, "No passes recorded in %s\n", r.Journal)
		return b.String()
	}

	for _, p := range r.Passes {
		wallet := p.Wallet
		if wallet == "" {
			wallet = "-"
		}
		fmt.Fprintf(&b, "#%d  %-14s  %s  wallet=%s  redeemed=%d/%d",
			p.Seq, p.Trigger, formatChainTime(p.ChainTime), wallet, p.ItemsRedeemed, p.ItemsAvailable)
		switch {
		case p.Halted:
			b.WriteString("  HALTED")
		case p.Stale:
			b.WriteString("  STALE")
		}
		b.WriteString("\n")

		if p.Error != "" {
			fmt.Fprintf(&b, "    error: %s\n", p.Error)
		}
		for _, v := range p.Verdicts {
			if v.Allowed {
				fmt.Fprintf(&b, "    ✓ %-6s  max %d\n", v.Label, v.MaxAmount)
			} else {
				fmt.Fprintf(&b, "    ✗ %-6s  %s\n", v.Label, v.Reason)
			}
		}
	}

	fmt.Fprintf(&b, "\n%d passes, %d with a mintable group, %d stale, %d halted\n",
		r.Stats.Passes, r.Stats.Allowed, r.Stats.Stale, r.Stats.Halted)
	return b.String()
}
