package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_NoGroupsUsesDefault(t *testing.T) {
	defaults := []Condition{{Type: StartDate, Date: 10}, {Type: SolPayment, Lamports: 5}}

	groups, err := Resolve(defaults, nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, DefaultLabel, groups[0].Label)
	assert.Equal(t, defaults, groups[0].Conditions)

	groups[0].Conditions[0].Date = 99
	assert.Equal(t, int64(10), defaults[0].Date, "defaults must not alias the result")
}

func TestResolve_GroupOverridesDefault(t *testing.T) {
	defaults := []Condition{{Type: StartDate, Date: 10}, {Type: SolPayment, Lamports: 5}}
	groups := []Group{
		{Label: "OG", Conditions: []Condition{{Type: StartDate, Date: 1}}},
		{Label: "pub"},
	}

	out, err := Resolve(defaults, groups)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "OG", out[0].Label)
	assert.Equal(t, []Condition{{Type: StartDate, Date: 1}, {Type: SolPayment, Lamports: 5}}, out[0].Conditions)

	assert.Equal(t, "pub", out[1].Label)
	assert.Equal(t, defaults, out[1].Conditions)
}

func TestResolve_DuplicateLabel(t *testing.T) {
	_, err := Resolve(nil, []Group{{Label: "WL"}, {Label: "WL"}})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), `"WL"`)
}

func TestGroupValidate(t *testing.T) {
	ok := Group{Label: "WL", Conditions: []Condition{{Type: AllowList}, {Type: Token2022Payment}}}
	require.NoError(t, ok.Validate())

	bad := Group{Label: "WL", Conditions: []Condition{{Type: AllowList}, {Type: "bogus_guard"}}}
	err := bad.Validate()
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Equal(t, "CONFIGURATION_ERROR: unknown guard condition (group=WL, condition=bogus_guard)", err.Error())
}
