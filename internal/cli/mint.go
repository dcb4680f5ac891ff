package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mintgate/internal/guard"
	"github.com/roach88/mintgate/internal/mint"
)

// MintOptions holds flags for the mint command.
type MintOptions struct {
	*RootOptions
	Wallet string
	Group  string
	Amount uint64
}

// NewMintCommand creates the mint command.
func NewMintCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MintOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Mint through an allowed guard group",
		Long: `Evaluate, re-validate the chosen group against fresh chain state, and
submit a mint.

Without --group the first allowed group is used. The amount is capped at the
group's current maximum. A group that stopped being mintable between
evaluation and submission is reported as a submission race; run the command
again to retry with fresh verdicts.

Submission is only available with --fixture; signing transactions for an RPC
node is not supported.

Examples:
  mintgate mint --fixture drop.cue --wallet <address>
  mintgate mint --fixture drop.cue --wallet <address> --group WL --amount 2`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMint(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Wallet, "wallet", "", "wallet address to mint for (overrides wallet in config)")
	cmd.Flags().StringVar(&opts.Group, "group", "", "guard group label (default: first allowed group)")
	cmd.Flags().Uint64Var(&opts.Amount, "amount", 1, "number of items to mint")

	return cmd
}

func runMint(opts *MintOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := commandContext(cmd)

	if opts.Amount == 0 {
		return NewExitError(ExitCommandError, "--amount must be positive")
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if err := walletOverride(&cfg, opts.Wallet); err != nil {
		return err
	}
	if cfg.Wallet == "" {
		return NewExitError(ExitCommandError, "mint requires a wallet: pass --wallet or set wallet in config")
	}

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.close()
	if b.minter == nil {
		return NewExitError(ExitCommandError, "mint requires --fixture: transaction signing is not supported")
	}

	r, _ := newRunner(opts.RootOptions, cfg, b)
	snap, err := evaluateOnce(ctx, r, formatter)
	if err != nil {
		return err
	}

	label := labelArg(opts.Group)
	if label == "" {
		label = snap.Result.BestLabel
	}
	if label == "" {
		res, err := newCheckResult(cfg, b.machine.String(), snap)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to digest result", err)
		}
		if outErr := formatter.Error(ErrCodeNotAllowed, "no guard group allows minting", res.Groups); outErr != nil {
			return outErr
		}
		return NewExitError(ExitFailure, "no guard group allows minting")
	}

	orch := mint.New(r, b.minter, mint.WithEvaluator(evaluator(cfg)))
	receipt, err := orch.Mint(ctx, label, opts.Amount)
	if err != nil {
		code := errorCode(err)
		if errors.Is(err, mint.ErrNotAllowed) || errors.Is(err, mint.ErrUnknownGroup) {
			code = ErrCodeNotAllowed
		}
		msg := fmt.Sprintf("mint failed: %v", err)
		if guard.IsSubmissionRace(err) {
			msg = fmt.Sprintf("group %q changed before submission, retry: %v", label, err)
		}
		if outErr := formatter.Error(code, msg, nil); outErr != nil {
			return outErr
		}
		return WrapExitError(ExitFailure, "mint failed", err)
	}

	return formatter.Success(MintResult{Receipt: receipt, Wallet: cfg.Wallet})
}
