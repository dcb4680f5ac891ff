package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mintgate/internal/config"
	"github.com/roach88/mintgate/internal/runner"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Wallet string
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate guard groups once",
		Long: `Run one evaluation pass and print the verdict of every guard group.

Without a wallet, groups whose guards depend on one report
"wallet not connected".

Examples:
  mintgate check
  mintgate check --wallet <address> --format json
  mintgate check --fixture drop.cue --wallet <address>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "wallet address to evaluate (overrides wallet in config)")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if err := walletOverride(&cfg, opts.Wallet); err != nil {
		return err
	}

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.close()

	r, _ := newRunner(opts.RootOptions, cfg, b)

	snap, err := evaluateOnce(commandContext(cmd), r, formatter)
	if err != nil {
		return err
	}

	res, err := newCheckResult(cfg, b.machine.String(), snap)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to digest result", err)
	}
	return formatter.Success(res)
}

// evaluateOnce runs a single pass. Failures are rendered and returned as
// ExitErrors.
func evaluateOnce(ctx context.Context, r *runner.Runner, formatter *OutputFormatter) (runner.Snapshot, error) {
	snap, err := r.RunEvaluationPass(ctx, runner.TriggerUserAction)
	if err == nil {
		return snap, nil
	}

	if snap.Halted {
		if outErr := formatter.Error(errorCode(err), "evaluation halted", HaltResult{
			Pass:  snap.Seq,
			Code:  errorCode(err),
			Error: err.Error(),
		}); outErr != nil {
			return runner.Snapshot{}, outErr
		}
		return runner.Snapshot{}, WrapExitError(ExitFailure, "evaluation halted", err)
	}

	if outErr := formatter.Error(errorCode(err), fmt.Sprintf("evaluation failed: %v", err), nil); outErr != nil {
		return runner.Snapshot{}, outErr
	}
	return runner.Snapshot{}, WrapExitError(ExitFailure, "evaluation failed", err)
}

// commandContext returns the command's context, or Background when unset.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// labelArg normalizes a user-supplied group label.
func labelArg(label string) string {
	return config.NormalizeLabel(label)
}
