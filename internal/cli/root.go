package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/mintgate/internal/runner"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string
	Fixture string

	// IDGenerator overrides pass ID generation (for testing).
	// If nil, defaults to runner.UUIDv7Generator.
	IDGenerator runner.PassIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the mintgate CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mintgate",
		Short: "Candy machine mint eligibility",
		Long: `mintgate evaluates the guard groups of a Solana candy machine against
chain time, mint state and a wallet, and reports which groups can mint.

The candy machine is read from MINTGATE_CANDY_MACHINE_ID or the machine key
of the config file. The RPC endpoint is read from SOLANA_RPC_ENDPOINT or
rpc_endpoint, defaulting to devnet. --fixture replaces the RPC node with an
offline CUE description of the machine.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(opts, cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to config file (default mintgate.yaml if present)")
	cmd.PersistentFlags().StringVar(&opts.Fixture, "fixture", "", "evaluate against a CUE fixture instead of the RPC node")

	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewMintCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))

	return cmd
}
