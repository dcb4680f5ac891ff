package guard

import (
	"sort"

	"github.com/roach88/mintgate/internal/allowlist"
)

// DefaultMaxPerMint is the mint ceiling used when no quantity-limiting
// condition applies.
const DefaultMaxPerMint uint64 = 1

// Supply is the implicit condition every group has on remaining items.
const Supply ConditionType = "items_remaining"

// Reasons surfaced on disallowed verdicts.
const (
	ReasonWalletNotConnected = "wallet not connected"
	ReasonNotStarted         = "mint window not open yet"
	ReasonEnded              = "mint window closed"
	ReasonNotOnAllowList     = "not on allow-list"
	ReasonMissingToken       = "missing required token"
	ReasonMissingNFT         = "no NFT from required collection"
	ReasonAddressGate        = "wallet not permitted by address gate"
	ReasonRedeemedLimit      = "redeemed limit reached"
	ReasonAllocationLimit    = "allocation limit reached"
	ReasonMintLimit          = "mint limit reached"
	ReasonSoldOut            = "sold out"
)

// category orders failures for the surfaced reason. Lower reports first.
type category int

const (
	categoryWallet category = iota
	categoryTime
	categoryGate
	categoryLimit
)

type failure struct {
	Failure
	cat category
}

// EvaluateFunc is the evaluation contract consumed by the aggregator.
type EvaluateFunc func(g Group, w *Wallet, now TimeSnapshot, st MintState) (Verdict, error)

// Evaluator evaluates guard groups. The zero value uses DefaultMaxPerMint.
type Evaluator struct {
	// MaxPerMint caps MaxAmount of allowed verdicts.
	MaxPerMint uint64
}

// Evaluate evaluates g with the default Evaluator.
func Evaluate(g Group, w *Wallet, now TimeSnapshot, st MintState) (Verdict, error) {
	return Evaluator{}.Evaluate(g, w, now, st)
}

// Evaluate computes the verdict of g. w is nil when no wallet is connected.
//
// Returns an error only for integrity violations of st and for unknown
// condition types; a disallowed group is a normal verdict.
func (e Evaluator) Evaluate(g Group, w *Wallet, now TimeSnapshot, st MintState) (Verdict, error) {
	if err := st.Validate(); err != nil {
		return Verdict{}, err
	}

	ceiling := e.MaxPerMint
	if ceiling == 0 {
		ceiling = DefaultMaxPerMint
	}

	var fails []failure
	fail := func(t ConditionType, cat category, reason string) {
		fails = append(fails, failure{Failure: Failure{Condition: t, Reason: reason}, cat: cat})
	}

	supply := st.Remaining()
	remaining := min(ceiling, supply)

	var payments []Payment

	for _, c := range g.Conditions {
		if c.WalletDependent() && w == nil {
			fail(c.Type, categoryWallet, ReasonWalletNotConnected)
			continue
		}

		switch c.Type {
		case StartDate:
			if int64(now) < c.Date {
				fail(c.Type, categoryTime, ReasonNotStarted)
			}

		case EndDate:
			if int64(now) >= c.Date {
				fail(c.Type, categoryTime, ReasonEnded)
			}

		case AllowList:
			proof, ok := w.Proof(g.Label)
			if !ok || !allowlist.Verify(w.Address, proof, c.MerkleRoot) {
				fail(c.Type, categoryGate, ReasonNotOnAllowList)
			}

		case TokenGate, TokenBurn:
			if w.TokenBalance(c.Mint) < c.Amount {
				fail(c.Type, categoryGate, ReasonMissingToken)
			}

		case NftGate, NftBurn:
			if !w.HoldsCollection(c.Collection) {
				fail(c.Type, categoryGate, ReasonMissingNFT)
			}

		case AddressGate:
			if w.Address != c.Address {
				fail(c.Type, categoryGate, ReasonAddressGate)
			}

		case RedeemedAmount:
			if st.ItemsRedeemed >= c.Maximum {
				fail(c.Type, categoryLimit, ReasonRedeemedLimit)
			} else {
				remaining = min(remaining, c.Maximum-st.ItemsRedeemed)
			}

		case Allocation:
			used := uint64(st.Allocations[c.ID])
			if used >= uint64(c.Limit) {
				fail(c.Type, categoryLimit, ReasonAllocationLimit)
			} else {
				remaining = min(remaining, uint64(c.Limit)-used)
			}

		case MintLimit:
			used := uint64(w.MintCounts[c.ID])
			if used >= uint64(c.Limit) {
				fail(c.Type, categoryLimit, ReasonMintLimit)
			} else {
				remaining = min(remaining, uint64(c.Limit)-used)
			}

		case SolPayment, FreezeSolPayment:
			p := Payment{Condition: c.Type, Amount: c.Lamports}
			if w != nil {
				p.Covered = covered(w.Lamports >= c.Lamports)
			}
			payments = append(payments, p)

		case TokenPayment, FreezeTokenPayment, Token2022Payment:
			p := Payment{Condition: c.Type, Amount: c.Amount, Mint: c.Mint.String()}
			if w != nil {
				p.Covered = covered(w.TokenBalance(c.Mint) >= c.Amount)
			}
			payments = append(payments, p)

		case NftPayment:
			p := Payment{Condition: c.Type, Amount: 1, Mint: c.Collection.String()}
			if w != nil {
				p.Covered = covered(w.HoldsCollection(c.Collection))
			}
			payments = append(payments, p)

		case BotTax, ThirdPartySigner, Gatekeeper, ProgramGate:
			// Enforced by the program at mint time.

		default:
			return Verdict{}, NewUnknownConditionError(g.Label, c.Type)
		}
	}

	if supply == 0 {
		fail(Supply, categoryLimit, ReasonSoldOut)
	}

	v := Verdict{Label: g.Label, Payments: payments}
	if len(fails) == 0 {
		v.Allowed = true
		v.MaxAmount = remaining
		return v, nil
	}

	sort.SliceStable(fails, func(i, j int) bool { return fails[i].cat < fails[j].cat })
	v.Failures = make([]Failure, len(fails))
	for i, f := range fails {
		v.Failures[i] = f.Failure
	}
	v.Reason = v.Failures[0].Reason
	return v, nil
}

func covered(ok bool) *bool {
	return &ok
}
