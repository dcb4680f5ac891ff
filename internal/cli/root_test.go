package cli

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mintgate/internal/config"
	"github.com/roach88/mintgate/internal/testutil"
)

const (
	member   = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	outsider = "So11111111111111111111111111111111111111112"
)

var (
	dropFixture     = filepath.Join("testdata", "drop.cue")
	oversoldFixture = filepath.Join("testdata", "oversold.cue")
	brokenFixture   = filepath.Join("testdata", "broken.cue")
	labelsConfig    = filepath.Join("testdata", "mintgate.yaml")
	mismatchConfig  = filepath.Join("testdata", "mismatch.yaml")
)

// execute runs the root command with deterministic pass IDs and returns
// stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvMachine, "")
	t.Setenv(config.EnvRPCEndpoint, "")

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	cmd := newRootCommand(&RootOptions{IDGenerator: testutil.NewSequentialIDGenerator("pass")})
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)

	err := cmd.Execute()
	return stdout.String(), err
}

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func TestRootCommand_Subcommands(t *testing.T) {
	cmd := NewRootCommand()

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	assert.ElementsMatch(t, []string{"check", "watch", "mint", "trace", "validate"}, names)
}

func TestRootCommand_PersistentFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"verbose", "format", "config", "fixture"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
	assert.Equal(t, "text", cmd.PersistentFlags().Lookup("format").DefValue)
	assert.Equal(t, "v", cmd.PersistentFlags().Lookup("verbose").Shorthand)
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	_, err := execute(t, "check", "--fixture", dropFixture, "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestRootCommand_MissingConfig(t *testing.T) {
	_, err := execute(t, "check", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}
