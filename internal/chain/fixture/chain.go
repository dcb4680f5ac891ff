package fixture

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/mintgate/internal/allowlist"
	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/guard"
)

// ErrInsufficientFunds is returned by SubmitMint when the wallet cannot cover
// a payment guard.
var ErrInsufficientFunds = errors.New("insufficient funds for payment guard")

// Chain is an in-memory candy machine. It is safe for concurrent use.
type Chain struct {
	mu sync.Mutex

	now         guard.TimeSnapshot
	machine     chain.Machine
	candyGuard  chain.CandyGuard
	allocations map[uint8]uint32
	wallets     map[solana.PublicKey]*guard.Wallet
	members     map[allowlist.Hash][]solana.PublicKey

	failure error
	mints   int
}

var (
	_ chain.Client = (*Chain)(nil)
	_ chain.Minter = (*Chain)(nil)
)

// Machine returns the address of the fixture's candy machine.
func (c *Chain) Machine() solana.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Address
}

// Wallets returns the addresses of the declared wallets in a stable order.
func (c *Chain) Wallets() []solana.PublicKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]solana.PublicKey, 0, len(c.wallets))
	for k := range c.wallets {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// AllowLists returns allow-list members by resolved group label, for groups
// whose allow_list condition was declared with addresses.
func (c *Chain) AllowLists() (map[string][]solana.PublicKey, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	groups, err := c.candyGuard.Resolved()
	if err != nil {
		return nil, err
	}
	out := make(map[string][]solana.PublicKey)
	for _, g := range groups {
		cond, ok := g.Find(guard.AllowList)
		if !ok {
			continue
		}
		if members, ok := c.members[cond.MerkleRoot]; ok {
			out[g.Label] = append([]solana.PublicKey(nil), members...)
		}
	}
	return out, nil
}

// SetTime sets the chain clock.
func (c *Chain) SetTime(t guard.TimeSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the chain clock forward by d seconds.
func (c *Chain) Advance(d int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += guard.TimeSnapshot(d)
}

// SetRedeemed overwrites the redeemed counter, as if other wallets minted.
func (c *Chain) SetRedeemed(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.State.ItemsRedeemed = n
}

// PutWallet adds or replaces a wallet.
func (c *Chain) PutWallet(w guard.Wallet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wallets[w.Address] = copyWallet(&w)
}

// Fail makes every read fail with err until Recover.
func (c *Chain) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure = err
}

// Recover clears an injected failure.
func (c *Chain) Recover() {
	c.Fail(nil)
}

func (c *Chain) check(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return guard.NewTransientError(op, err)
	}
	if c.failure != nil {
		return guard.NewTransientError(op, c.failure)
	}
	return nil
}

// FetchMachine implements chain.Client.
func (c *Chain) FetchMachine(ctx context.Context, id solana.PublicKey) (chain.Machine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx, "fetch candy machine"); err != nil {
		return chain.Machine{}, err
	}
	if id != c.machine.Address {
		return chain.Machine{}, guard.NewConfigurationError(fmt.Sprintf("candy machine %s not found", id), nil)
	}
	if c.machine.Version != chain.AccountVersionV2 {
		return chain.Machine{}, guard.NewConfigurationError(
			fmt.Sprintf("unsupported candy machine account version %d", c.machine.Version), nil)
	}
	return c.machine, nil
}

// FetchGuard implements chain.Client.
func (c *Chain) FetchGuard(ctx context.Context, m chain.Machine) (chain.CandyGuard, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx, "fetch candy guard"); err != nil {
		return chain.CandyGuard{}, err
	}
	if m.GuardAddress() != c.candyGuard.Address {
		return chain.CandyGuard{}, guard.NewConfigurationError(
			fmt.Sprintf("candy guard %s of machine %s not found", m.GuardAddress(), m.Address), nil)
	}

	cg := c.candyGuard
	cg.Defaults = append([]guard.Condition(nil), cg.Defaults...)
	cg.Groups = make([]guard.Group, len(c.candyGuard.Groups))
	for i, g := range c.candyGuard.Groups {
		cg.Groups[i] = guard.Group{Label: g.Label, Conditions: append([]guard.Condition(nil), g.Conditions...)}
	}

	groups, err := cg.Resolved()
	if err != nil {
		return chain.CandyGuard{}, err
	}
	if ids := chain.AllocationIDs(groups); len(ids) > 0 {
		cg.Allocations = make(map[uint8]uint32, len(ids))
		for _, id := range ids {
			cg.Allocations[id] = c.allocations[id]
		}
	}
	return cg, nil
}

// FetchWallet implements chain.Client. Undeclared wallets are empty.
func (c *Chain) FetchWallet(ctx context.Context, owner solana.PublicKey, req chain.WalletRequest) (*guard.Wallet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx, "fetch wallet"); err != nil {
		return nil, err
	}

	w := &guard.Wallet{Address: owner}
	if stored, ok := c.wallets[owner]; ok {
		w = copyWallet(stored)
	}
	w.Proofs = nil

	counts := make(map[uint8]uint32)
	for _, id := range req.MintLimitIDs() {
		counts[id] = w.MintCounts[id]
	}
	w.MintCounts = counts
	return w, nil
}

// ChainTime implements chain.Client.
func (c *Chain) ChainTime(ctx context.Context) (guard.TimeSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx, "fetch clock sysvar"); err != nil {
		return 0, err
	}
	return c.now, nil
}

// SubmitMint implements chain.Minter. The group is enforced the way the
// program would at execution time: a disallowed group or an amount above the
// group's limit fails with a submission race error. Counters and balances are
// updated on success.
func (c *Chain) SubmitMint(ctx context.Context, req chain.MintRequest) (chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(ctx, "submit mint"); err != nil {
		return chain.Receipt{}, err
	}
	if req.Machine != c.machine.Address || req.Guard != c.candyGuard.Address {
		return chain.Receipt{}, guard.NewConfigurationError("mint request targets an unknown machine", nil)
	}
	if req.Amount == 0 {
		return chain.Receipt{}, fmt.Errorf("mint amount must be positive")
	}

	groups, err := c.candyGuard.Resolved()
	if err != nil {
		return chain.Receipt{}, err
	}
	var g guard.Group
	found := false
	for _, candidate := range groups {
		if candidate.Label == req.Label {
			g, found = candidate, true
			break
		}
	}
	if !found {
		return chain.Receipt{}, guard.NewConfigurationError(fmt.Sprintf("guard group %q not found", req.Label), nil)
	}

	w, ok := c.wallets[req.Wallet]
	if !ok {
		w = &guard.Wallet{Address: req.Wallet, MintCounts: make(map[uint8]uint32)}
		c.wallets[req.Wallet] = w
	}
	if w.MintCounts == nil {
		w.MintCounts = make(map[uint8]uint32)
	}

	// Allow-list membership is proven to the program with the proof the
	// wallet submits; the fixture accepts any declared member.
	submitted := copyWallet(w)
	if cond, ok := g.Find(guard.AllowList); ok {
		if tree, err := allowlist.New(c.members[cond.MerkleRoot]); err == nil {
			if proof, ok := tree.Proof(w.Address); ok {
				submitted.SetProof(g.Label, proof)
			}
		}
	}

	st := c.machine.State
	st.Allocations = c.allocations
	v, err := (guard.Evaluator{MaxPerMint: req.Amount}).Evaluate(g, submitted, c.now, st)
	if err != nil {
		return chain.Receipt{}, err
	}
	if !v.Allowed {
		return chain.Receipt{}, guard.NewSubmissionRaceError(req.Label, v.Reason)
	}
	if req.Amount > v.MaxAmount {
		return chain.Receipt{}, guard.NewSubmissionRaceError(req.Label,
			fmt.Sprintf("amount %d exceeds remaining %d", req.Amount, v.MaxAmount))
	}

	due := costOf(g, req.Amount)
	if err := due.check(w); err != nil {
		return chain.Receipt{}, err
	}
	due.charge(w)
	for _, cond := range g.Conditions {
		switch cond.Type {
		case guard.MintLimit:
			w.MintCounts[cond.ID] += uint32(req.Amount)
		case guard.Allocation:
			if c.allocations == nil {
				c.allocations = make(map[uint8]uint32)
			}
			c.allocations[cond.ID] += uint32(req.Amount)
		}
	}
	c.machine.State.ItemsRedeemed += req.Amount

	c.mints++
	receipt := chain.Receipt{Label: req.Label, Minted: req.Amount}
	for i := uint64(0); i < req.Amount; i++ {
		receipt.Signatures = append(receipt.Signatures, fmt.Sprintf("fixture-%d-%d", c.mints, i+1))
	}
	return receipt, nil
}

// cost is what minting a number of items through one group takes from the
// wallet.
type cost struct {
	lamports uint64
	tokens   map[solana.PublicKey]uint64
	// nfts counts NFTs taken per verified collection.
	nfts map[solana.PublicKey]uint64
}

func costOf(g guard.Group, amount uint64) cost {
	c := cost{
		tokens: make(map[solana.PublicKey]uint64),
		nfts:   make(map[solana.PublicKey]uint64),
	}
	for _, cond := range g.Conditions {
		switch cond.Type {
		case guard.SolPayment, guard.FreezeSolPayment:
			c.lamports += cond.Lamports * amount
		case guard.TokenPayment, guard.FreezeTokenPayment, guard.Token2022Payment, guard.TokenBurn:
			c.tokens[cond.Mint] += cond.Amount * amount
		case guard.NftPayment, guard.NftBurn:
			c.nfts[cond.Collection] += amount
		}
	}
	return c
}

func (c cost) check(w *guard.Wallet) error {
	if w.Lamports < c.lamports {
		return fmt.Errorf("need %d lamports, have %d: %w", c.lamports, w.Lamports, ErrInsufficientFunds)
	}
	for mint, n := range c.tokens {
		if have := w.TokenBalance(mint); have < n {
			return fmt.Errorf("need %d of %s, have %d: %w", n, mint, have, ErrInsufficientFunds)
		}
	}
	for coll, n := range c.nfts {
		if have := collectionCount(w, coll); have < n {
			return fmt.Errorf("need %d NFTs of %s, have %d: %w", n, coll, have, ErrInsufficientFunds)
		}
	}
	return nil
}

// charge deducts c from w. Callers must check first.
func (c cost) charge(w *guard.Wallet) {
	w.Lamports -= c.lamports
	for i := range w.Holdings {
		h := &w.Holdings[i]
		if n := c.tokens[h.Mint]; n > 0 {
			take := min(n, h.Amount)
			h.Amount -= take
			c.tokens[h.Mint] = n - take
		}
		if h.Collection != nil {
			if n := c.nfts[*h.Collection]; n > 0 {
				take := min(n, h.Amount)
				h.Amount -= take
				c.nfts[*h.Collection] = n - take
			}
		}
	}
}

func collectionCount(w *guard.Wallet, collection solana.PublicKey) uint64 {
	var n uint64
	for _, h := range w.Holdings {
		if h.Collection != nil && *h.Collection == collection {
			n += h.Amount
		}
	}
	return n
}

func copyWallet(w *guard.Wallet) *guard.Wallet {
	out := *w
	out.Holdings = append([]guard.Holding(nil), w.Holdings...)
	if w.MintCounts != nil {
		out.MintCounts = make(map[uint8]uint32, len(w.MintCounts))
		for k, v := range w.MintCounts {
			out.MintCounts[k] = v
		}
	}
	if w.Proofs != nil {
		out.Proofs = make(map[string]allowlist.Proof, len(w.Proofs))
		for k, v := range w.Proofs {
			out.Proofs[k] = v
		}
	}
	return &out
}
