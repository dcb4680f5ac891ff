package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/mintgate/internal/journal"
	"github.com/roach88/mintgate/internal/runner"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Wallet    string
	Journal   string
	MaxPasses int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-evaluate continuously and print changes",
		Long: `Start the evaluation runner and print the verdicts whenever they change.

Passes run on every eligibility interval tick. Chain time is polled in the
background. With a journal, every published pass is recorded for
"mintgate trace" and pass numbering continues from the last recorded pass.

Watching stops on Ctrl-C, after --max-passes printed results, or when
evaluation halts on a configuration or integrity failure.

Examples:
  mintgate watch --wallet <address>
  mintgate watch --journal ./mintgate.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "wallet address to evaluate (overrides wallet in config)")
	cmd.Flags().StringVar(&opts.Journal, "journal", "", "record passes to this SQLite journal (overrides journal in config)")
	cmd.Flags().IntVar(&opts.MaxPasses, "max-passes", 0, "stop after printing this many results (0 = unlimited)")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if err := walletOverride(&cfg, opts.Wallet); err != nil {
		return err
	}
	if opts.Journal != "" {
		cfg.Journal = opts.Journal
	}

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	parentCtx := commandContext(cmd)
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	var extra []runner.Option
	if cfg.Journal != "" {
		slog.Info("opening journal", "path", cfg.Journal)
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := j.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		last, err := j.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read journal", err)
		}
		extra = append(extra, runner.WithRecorder(j), runner.WithPassCounter(runner.ResumePassCounter(last)))
	}

	var (
		r       *runner.Runner
		last    string
		printed int
	)
	onPublish := func(s runner.Snapshot) {
		if s.Halted || (opts.MaxPasses > 0 && printed >= opts.MaxPasses) {
			return
		}
		res, err := newCheckResult(cfg, b.machine.String(), s)
		if err != nil {
			slog.Error("failed to digest result", "pass", s.Seq, "error", err)
			return
		}
		key := fmt.Sprintf("%s/%t", res.Digest, res.Stale)
		if key == last {
			return
		}
		last = key

		if opts.Format == "text" {
			fmt.Fprintf(formatter.Writer, "== pass %d ==\n", s.Seq)
		}
		if err := formatter.Success(res); err != nil {
			slog.Error("failed to write result", "error", err)
		}
		printed++
		if opts.MaxPasses > 0 && printed >= opts.MaxPasses {
			r.Stop()
		}
	}
	extra = append(extra, runner.WithOnPublish(onPublish))

	r, src := newRunner(opts.RootOptions, cfg, b, extra...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	go func() {
		if err := src.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("time source stopped", "error", err)
		}
	}()

	err = r.Run(ctx)
	cancel()

	if hard := r.Halted(); hard != nil {
		snap, _ := r.Latest()
		if outErr := formatter.Error(errorCode(hard), "evaluation halted", HaltResult{
			Pass:  snap.Seq,
			Code:  errorCode(hard),
			Error: hard.Error(),
		}); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "evaluation halted", hard)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "runner error", err)
	}

	slog.Info("watch stopped")
	return nil
}
