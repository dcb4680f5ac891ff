package guard

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestEvaluate_Properties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("evaluation is idempotent", prop.ForAll(
		func(now, start, span int64, available, redeemed int) bool {
			if redeemed > available {
				redeemed = available
			}
			g := Group{Label: "g", Conditions: []Condition{
				{Type: StartDate, Date: start},
				{Type: EndDate, Date: start + span},
				{Type: RedeemedAmount, Maximum: uint64(available) / 2},
			}}
			st := MintState{ItemsAvailable: uint64(available), ItemsRedeemed: uint64(redeemed)}
			a, errA := Evaluate(g, nil, TimeSnapshot(now), st)
			b, errB := Evaluate(g, nil, TimeSnapshot(now), st)
			return errA == nil && errB == nil && reflect.DeepEqual(a, b)
		},
		gen.Int64Range(0, 10_000),
		gen.Int64Range(0, 10_000),
		gen.Int64Range(1, 5_000),
		gen.IntRange(0, 100),
		gen.IntRange(0, 100),
	))

	properties.Property("time outside the window disallows", prop.ForAll(
		func(start, span, offset int64, before bool) bool {
			end := start + span
			now := end + offset
			if before {
				now = start - 1 - offset
			}
			g := Group{Label: "g", Conditions: []Condition{
				{Type: StartDate, Date: start},
				{Type: EndDate, Date: end},
			}}
			v, err := Evaluate(g, nil, TimeSnapshot(now), MintState{ItemsAvailable: 10})
			if err != nil || v.Allowed || v.MaxAmount != 0 {
				return false
			}
			if before {
				return v.Reason == ReasonNotStarted
			}
			return v.Reason == ReasonEnded
		},
		gen.Int64Range(1_000, 1_000_000),
		gen.Int64Range(1, 100_000),
		gen.Int64Range(0, 1_000),
		gen.Bool(),
	))

	properties.Property("sold out machines allow nothing", prop.ForAll(
		func(n int, maxPerMint int) bool {
			ev := Evaluator{MaxPerMint: uint64(maxPerMint)}
			st := MintState{ItemsAvailable: uint64(n), ItemsRedeemed: uint64(n)}
			v, err := ev.Evaluate(Group{Label: "g"}, &Wallet{}, 0, st)
			return err == nil && !v.Allowed && v.MaxAmount == 0 && v.Reason == ReasonSoldOut
		},
		gen.IntRange(0, 10_000),
		gen.IntRange(0, 20),
	))

	properties.Property("allowed amount never exceeds remaining supply", prop.ForAll(
		func(available, redeemed, maxPerMint int) bool {
			if redeemed > available {
				redeemed = available
			}
			ev := Evaluator{MaxPerMint: uint64(maxPerMint)}
			st := MintState{ItemsAvailable: uint64(available), ItemsRedeemed: uint64(redeemed)}
			v, err := ev.Evaluate(Group{Label: "g"}, nil, 0, st)
			if err != nil {
				return false
			}
			if !v.Allowed {
				return v.MaxAmount == 0
			}
			return v.MaxAmount >= 1 && v.MaxAmount <= st.Remaining()
		},
		gen.IntRange(0, 1_000),
		gen.IntRange(0, 1_000),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
