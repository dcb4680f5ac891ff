package eligibility

import (
	"errors"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mintgate/internal/allowlist"
	"github.com/roach88/mintgate/internal/guard"
)

func machineGroups(t *testing.T) ([]guard.Group, *allowlist.Tree) {
	t.Helper()
	var a, b solana.PublicKey
	a[0], b[0] = 1, 2
	tree, err := allowlist.New([]solana.PublicKey{a, b})
	require.NoError(t, err)

	return []guard.Group{
		{Label: "WL", Conditions: []guard.Condition{
			{Type: guard.StartDate, Date: 100},
			{Type: guard.EndDate, Date: 200},
			{Type: guard.AllowList, MerkleRoot: tree.Root()},
		}},
		{Label: "default", Conditions: []guard.Condition{
			{Type: guard.StartDate, Date: 0},
			{Type: guard.EndDate, Date: math.MaxInt64},
		}},
	}, tree
}

func TestAggregate_WalletNotOnAllowList(t *testing.T) {
	groups, _ := machineGroups(t)
	var stranger solana.PublicKey
	stranger[0] = 9

	res, err := Aggregate(groups, guard.Evaluate, &guard.Wallet{Address: stranger}, 150,
		guard.MintState{ItemsAvailable: 10, ItemsRedeemed: 9})
	require.NoError(t, err)

	require.Len(t, res.Verdicts, 2)
	assert.Equal(t, "WL", res.Verdicts[0].Label)
	assert.False(t, res.Verdicts[0].Allowed)
	assert.Equal(t, guard.ReasonNotOnAllowList, res.Verdicts[0].Reason)

	assert.True(t, res.Verdicts[1].Allowed)
	assert.Equal(t, uint64(1), res.Verdicts[1].MaxAmount)

	assert.True(t, res.AnyAllowed)
	assert.Equal(t, "default", res.BestLabel)
}

func TestAggregate_BestLabelIsFirstAllowed(t *testing.T) {
	groups, tree := machineGroups(t)
	var member solana.PublicKey
	member[0] = 1
	proof, ok := tree.Proof(member)
	require.True(t, ok)

	w := &guard.Wallet{Address: member, Proofs: map[string]allowlist.Proof{"WL": proof}}
	res, err := Aggregate(groups, guard.Evaluate, w, 150, guard.MintState{ItemsAvailable: 10})
	require.NoError(t, err)
	assert.Equal(t, "WL", res.BestLabel)
}

func TestAggregate_DisconnectedWallet(t *testing.T) {
	groups, _ := machineGroups(t)

	calls := 0
	counting := func(g guard.Group, w *guard.Wallet, now guard.TimeSnapshot, st guard.MintState) (guard.Verdict, error) {
		calls++
		return guard.Evaluate(g, w, now, st)
	}

	res, err := Aggregate(groups, counting, nil, 150, guard.MintState{ItemsAvailable: 10, ItemsRedeemed: 2})
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "only the time-only group is evaluated")
	assert.False(t, res.Verdicts[0].Allowed)
	assert.Equal(t, guard.ReasonWalletNotConnected, res.Verdicts[0].Reason)
	assert.Equal(t, uint64(0), res.Verdicts[0].MaxAmount)
	assert.True(t, res.Verdicts[1].Allowed)
}

func TestAggregate_DisconnectedWalletStillRejectsUnknownCondition(t *testing.T) {
	groups := []guard.Group{{Label: "WL", Conditions: []guard.Condition{
		{Type: guard.AllowList},
		{Type: "bogus_guard"},
	}}}
	called := false
	eval := func(guard.Group, *guard.Wallet, guard.TimeSnapshot, guard.MintState) (guard.Verdict, error) {
		called = true
		return guard.Verdict{}, nil
	}

	_, err := Aggregate(groups, eval, nil, 150, guard.MintState{ItemsAvailable: 10})
	require.Error(t, err)
	assert.True(t, guard.IsConfigurationError(err))
	assert.Contains(t, err.Error(), "group=WL")
	assert.Contains(t, err.Error(), "bogus_guard")
	assert.False(t, called)

	_, err = Aggregate(groups, guard.Evaluate, &guard.Wallet{}, 150, guard.MintState{ItemsAvailable: 10})
	require.Error(t, err)
	assert.True(t, guard.IsConfigurationError(err))
}

func TestAggregate_NoGroups(t *testing.T) {
	res, err := Aggregate(nil, guard.Evaluate, nil, 0, guard.MintState{ItemsAvailable: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Verdicts)
	assert.False(t, res.AnyAllowed)
	assert.Empty(t, res.BestLabel)
}

func TestAggregate_IntegrityViolationStopsBeforeEvaluation(t *testing.T) {
	groups, _ := machineGroups(t)
	called := false
	eval := func(guard.Group, *guard.Wallet, guard.TimeSnapshot, guard.MintState) (guard.Verdict, error) {
		called = true
		return guard.Verdict{}, nil
	}

	_, err := Aggregate(groups, eval, nil, 0, guard.MintState{ItemsAvailable: 1, ItemsRedeemed: 2})
	require.Error(t, err)
	assert.True(t, guard.IsIntegrityError(err))
	assert.False(t, called)
}

func TestAggregate_PropagatesEvaluatorError(t *testing.T) {
	groups := []guard.Group{{Label: "odd", Conditions: []guard.Condition{{Type: "asset_gate"}}}}

	_, err := Aggregate(groups, guard.Evaluate, &guard.Wallet{}, 0, guard.MintState{ItemsAvailable: 1})
	require.Error(t, err)
	assert.True(t, guard.IsConfigurationError(err))
	assert.Contains(t, err.Error(), `"odd"`)

	boom := errors.New("boom")
	_, err = Aggregate([]guard.Group{{Label: "x"}}, func(guard.Group, *guard.Wallet, guard.TimeSnapshot, guard.MintState) (guard.Verdict, error) {
		return guard.Verdict{}, boom
	}, nil, 0, guard.MintState{})
	assert.ErrorIs(t, err, boom)
}

func TestAggregate_DuplicateLabel(t *testing.T) {
	_, err := Aggregate([]guard.Group{{Label: "a"}, {Label: "a"}}, guard.Evaluate, nil, 0, guard.MintState{ItemsAvailable: 1})
	require.Error(t, err)
	assert.True(t, guard.IsConfigurationError(err))
}

func TestAggregate_DoesNotRetainInput(t *testing.T) {
	groups, _ := machineGroups(t)
	res, err := Aggregate(groups, guard.Evaluate, nil, 150, guard.MintState{ItemsAvailable: 10})
	require.NoError(t, err)

	groups[1].Label = "renamed"
	assert.Equal(t, "default", res.Verdicts[1].Label)
}

func TestResult_Verdict(t *testing.T) {
	res := Result{Verdicts: []guard.Verdict{{Label: "a"}, {Label: "b", Allowed: true}}}

	v, ok := res.Verdict("b")
	require.True(t, ok)
	assert.True(t, v.Allowed)

	_, ok = res.Verdict("c")
	assert.False(t, ok)
}

func TestAggregate_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("anyAllowed iff some verdict is allowed", prop.ForAll(
		func(starts []int64, now int64, available, redeemed int) bool {
			if redeemed > available {
				redeemed = available
			}
			groups := make([]guard.Group, len(starts))
			for i, s := range starts {
				groups[i] = guard.Group{
					Label:      string(rune('a' + i)),
					Conditions: []guard.Condition{{Type: guard.StartDate, Date: s}},
				}
			}
			st := guard.MintState{ItemsAvailable: uint64(available), ItemsRedeemed: uint64(redeemed)}
			res, err := Aggregate(groups, guard.Evaluate, nil, guard.TimeSnapshot(now), st)
			if err != nil || len(res.Verdicts) != len(groups) {
				return false
			}

			allowed := false
			first := ""
			for i, v := range res.Verdicts {
				if v.Label != groups[i].Label {
					return false
				}
				if v.Allowed {
					if !allowed {
						first = v.Label
					}
					allowed = true
				}
			}
			return res.AnyAllowed == allowed && res.BestLabel == first
		},
		gen.SliceOfN(8, gen.Int64Range(0, 1_000)),
		gen.Int64Range(0, 1_000),
		gen.IntRange(0, 20),
		gen.IntRange(0, 20),
	))

	properties.TestingRun(t)
}
