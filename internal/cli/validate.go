package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/mintgate/internal/chain/fixture"
	"github.com/roach88/mintgate/internal/config"
	"github.com/roach88/mintgate/internal/guard"
)

// ValidationIssue is one validation error.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Machine  string            `json:"machine,omitempty"`
	Groups   []string          `json:"groups,omitempty"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []string          `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check settings against the candy guard",
		Long: `Validate the config file and fixture, then read the candy guard and check
the settings against it.

Errors: unparsable settings or fixtures, unreadable or unsupported machine
accounts, unknown guard conditions and allow lists whose merkle root differs
from the guard's. Warnings: missing machine address, display texts or allow
lists for labels the guard does not have, and allow-list groups without
configured members.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	result := validate(commandContext(cmd), opts, formatter)

	if len(result.Errors) > 0 {
		return outputValidationErrors(formatter, result)
	}
	return formatter.Success(result)
}

func validate(ctx context.Context, opts *RootOptions, formatter *OutputFormatter) ValidationResult {
	var result ValidationResult
	fail := func(field, code, message string, line int) ValidationResult {
		result.Errors = append(result.Errors, ValidationIssue{Field: field, Code: code, Message: message, Line: line})
		return result
	}

	cfg, err := config.Load(opts.Config)
	if err != nil {
		return fail("config", ErrCodeValidation, err.Error(), 0)
	}
	if opts.Fixture != "" {
		cfg.Fixture = opts.Fixture
	}
	formatter.VerboseLog("Config loaded (fixture=%q)", cfg.Fixture)

	if cfg.Fixture != "" {
		if _, err := fixture.Load(cfg.Fixture); err != nil {
			var le *fixture.LoadError
			if errors.As(err, &le) {
				line := 0
				if le.Pos.IsValid() {
					line = le.Pos.Line()
				}
				return fail("fixture."+le.Field, ErrCodeValidation, le.Message, line)
			}
			return fail("fixture", ErrCodeValidation, err.Error(), 0)
		}
	}

	b, err := openBackend(cfg)
	if err != nil {
		return fail("backend", ErrCodeValidation, err.Error(), 0)
	}
	defer b.close()

	if b.machine.IsZero() {
		result.Warnings = append(result.Warnings, cfg.Warnings()...)
		result.Valid = true
		return result
	}
	result.Machine = b.machine.String()

	formatter.VerboseLog("Reading candy machine %s", b.machine)
	m, err := b.client.FetchMachine(ctx, b.machine)
	if err != nil {
		return fail("machine", errorCode(err), err.Error(), 0)
	}
	cg, err := b.client.FetchGuard(ctx, m)
	if err != nil {
		return fail("guard", errorCode(err), err.Error(), 0)
	}
	groups, err := cg.Resolved()
	if err != nil {
		return fail("guard", errorCode(err), err.Error(), 0)
	}

	byLabel := make(map[string]guard.Group, len(groups))
	for _, g := range groups {
		result.Groups = append(result.Groups, g.Label)
		byLabel[g.Label] = g
	}

	for label := range cfg.Labels {
		if _, ok := byLabel[label]; !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("labels.%s: no guard group with this label", label))
		}
	}
	for label := range cfg.AllowLists {
		g, ok := byLabel[label]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("allow_lists.%s: no guard group with this label", label))
			continue
		}
		if _, ok := g.Find(guard.AllowList); !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("allow_lists.%s: group has no allow_list guard", label))
		}
	}

	for _, g := range groups {
		cond, ok := g.Find(guard.AllowList)
		if !ok {
			continue
		}
		tree, ok := b.allowLists[g.Label]
		if !ok {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("group %s: allow_list guard without configured members, members will not be recognized", g.Label))
			continue
		}
		if root := tree.Root(); root != cond.MerkleRoot {
			result.Errors = append(result.Errors, ValidationIssue{
				Field:   "allow_lists." + g.Label,
				Code:    ErrCodeValidation,
				Message: fmt.Sprintf("merkle root %x does not match guard root %x", root[:], cond.MerkleRoot[:]),
			})
		}
	}

	sort.Strings(result.Warnings)
	result.Valid = len(result.Errors) == 0
	return result
}

// outputValidationErrors outputs validation errors in the configured format.
// Validation failures exit with code 1.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	result.Valid = false

	if formatter.Format == "json" {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(formatter.Writer, "warning: %s\n", w)
	}

	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))
}

func (r ValidationResult) String() string {
	var b strings.Builder
	b.WriteString("✓ Valid\n")
	if r.Machine != "" {
		fmt.Fprintf(&b, "machine  %s\n", r.Machine)
		fmt.Fprintf(&b, "groups   %s\n", strings.Join(r.Groups, ", "))
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}
