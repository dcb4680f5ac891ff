package cli

import (
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/mintgate/internal/allowlist"
	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/chain/fixture"
	"github.com/roach88/mintgate/internal/chain/onchain"
	"github.com/roach88/mintgate/internal/chaintime"
	"github.com/roach88/mintgate/internal/config"
	"github.com/roach88/mintgate/internal/guard"
	"github.com/roach88/mintgate/internal/runner"
)

func setupLogging(opts *RootOptions, w io.Writer) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func newFormatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   opts.Verbose,
	}
}

// loadConfig reads settings; --fixture wins over the fixture key.
// Warnings are logged, never fatal.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Fixture != "" {
		cfg.Fixture = opts.Fixture
	}
	return cfg, nil
}

// backend is the chain a command evaluates against.
type backend struct {
	client chain.Client
	// minter is nil for the RPC backend: transaction signing is out of scope.
	minter     chain.Minter
	machine    solana.PublicKey
	allowLists map[string]*allowlist.Tree
	close      func() error
}

// openBackend connects to the fixture or RPC node named by cfg.
//
// Allow-list trees come from the config, and for fixtures also from the
// declared allow-list members; config entries win.
func openBackend(cfg config.Config) (*backend, error) {
	trees, err := cfg.AllowListTrees()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to build allow lists", err)
	}

	if cfg.Fixture != "" {
		slog.Debug("loading fixture", "path", cfg.Fixture)
		fx, err := fixture.Load(cfg.Fixture)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load fixture", err)
		}
		declared, err := fx.AllowLists()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read fixture allow lists", err)
		}
		for label, members := range declared {
			if _, ok := trees[label]; ok {
				continue
			}
			tree, err := allowlist.New(members)
			if err != nil {
				return nil, WrapExitError(ExitCommandError, "failed to build allow lists", err)
			}
			trees[label] = tree
		}

		machine := cfg.MachineKey()
		if machine.IsZero() {
			machine = fx.Machine()
		}
		return &backend{
			client:     fx,
			minter:     fx,
			machine:    machine,
			allowLists: trees,
			close:      func() error { return nil },
		}, nil
	}

	for _, w := range cfg.Warnings() {
		slog.Warn(w)
	}
	slog.Debug("connecting to rpc", "endpoint", cfg.RPCEndpoint, "timeout", cfg.RPCTimeout)
	c := onchain.New(cfg.RPCEndpoint,
		onchain.WithTimeout(cfg.RPCTimeout),
		onchain.WithRateLimit(cfg.RPCRateLimit),
	)
	return &backend{
		client:     c,
		machine:    cfg.MachineKey(),
		allowLists: trees,
		close:      c.Close,
	}, nil
}

// evaluator caps verdicts at the configured mint amount.
func evaluator(cfg config.Config) guard.EvaluateFunc {
	return guard.Evaluator{MaxPerMint: cfg.MaxMintAmount}.Evaluate
}

// newRunner wires the evaluation runner and its time source.
func newRunner(opts *RootOptions, cfg config.Config, b *backend, extra ...runner.Option) (*runner.Runner, *chaintime.Source) {
	src := chaintime.New(b.client, chaintime.WithInterval(cfg.TimePollInterval))

	ropts := []runner.Option{
		runner.WithEvaluator(evaluator(cfg)),
		runner.WithAllowLists(b.allowLists),
		runner.WithInterval(cfg.EligibilityInterval),
	}
	if opts.IDGenerator != nil {
		ropts = append(ropts, runner.WithIDGenerator(opts.IDGenerator))
	}
	ropts = append(ropts, extra...)

	r := runner.New(b.client, src, b.machine, ropts...)
	if w := cfg.WalletKey(); w != nil {
		r.SetWallet(w)
	}
	return r, src
}

// walletOverride applies a --wallet flag to cfg.
func walletOverride(cfg *config.Config, wallet string) error {
	if wallet == "" {
		return nil
	}
	if _, err := solana.PublicKeyFromBase58(wallet); err != nil {
		return WrapExitError(ExitCommandError, "invalid --wallet", err)
	}
	cfg.Wallet = wallet
	return nil
}
