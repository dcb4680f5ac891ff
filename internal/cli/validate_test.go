package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mintgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidate_Fixture(t *testing.T) {
	out, err := execute(t, "validate", "--fixture", dropFixture, "--config", labelsConfig)
	require.NoError(t, err)

	assert.Equal(t, "✓ Valid\n"+
		"machine  CndyV3LdqHUfDLmE5naZjVN8rBZz4tqhdefbAnjHG3JR\n"+
		"groups   WL, public\n", out)
}

func TestValidate_FixtureJSON(t *testing.T) {
	out, err := execute(t, "validate", "--fixture", dropFixture, "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, []string{"WL", "public"}, resp.Data.Groups)
	assert.Empty(t, resp.Data.Errors)
}

func TestValidate_Warnings(t *testing.T) {
	cfg := writeConfig(t, `
labels:
  OG:
    header: Early supporters
allow_lists:
  public:
    - TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA
`)
	out, err := execute(t, "validate", "--fixture", dropFixture, "--config", cfg)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ Valid\n")
	assert.Contains(t, out, "warning: allow_lists.public: group has no allow_list guard\n")
	assert.Contains(t, out, "warning: labels.OG: no guard group with this label\n")
}

func TestValidate_MerkleRootMismatch(t *testing.T) {
	out, err := execute(t, "validate", "--fixture", dropFixture, "--config", mismatchConfig)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "validation failed with 1 error(s)")

	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E007 allow_lists.WL: merkle root")
}

func TestValidate_BrokenFixture(t *testing.T) {
	out, err := execute(t, "validate", "--fixture", brokenFixture, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  *CLIError        `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 1)
	assert.Equal(t, "fixture.machine.address", resp.Data.Errors[0].Field)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
}

func TestValidate_BadConfig(t *testing.T) {
	cfg := writeConfig(t, "unknown_key: 1\n")

	out, err := execute(t, "validate", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "E007 config:")
}

func TestValidate_NoMachine(t *testing.T) {
	cfg := writeConfig(t, "max_mint_amount: 2\n")

	out, err := execute(t, "validate", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Valid\n")
	assert.Contains(t, out, "warning: ")
	assert.NotContains(t, out, "groups")
}
