// Package chain defines how mint eligibility reads candy machine state and
// submits mints. Implementations live in subpackages: solana talks to an RPC
// node, fixture serves a CUE-described offline chain.
//
// Errors returned by a Client are classified with the guard error codes:
// missing or malformed accounts are configuration errors, failed reads are
// transient.
package chain

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/roach88/mintgate/internal/guard"
)

// Account versions of a candy machine.
const (
	AccountVersionV1 uint8 = 0
	AccountVersionV2 uint8 = 1
)

// Machine is a decoded candy machine account.
type Machine struct {
	Address        solana.PublicKey
	Version        uint8
	Authority      solana.PublicKey
	MintAuthority  solana.PublicKey
	CollectionMint solana.PublicKey
	Symbol         string
	State          guard.MintState
}

// GuardAddress returns the candy guard wrapping the machine. A guarded machine
// delegates mint authority to its candy guard.
func (m Machine) GuardAddress() solana.PublicKey {
	return m.MintAuthority
}

// CandyGuard is a decoded candy guard account.
type CandyGuard struct {
	Address   solana.PublicKey
	Base      solana.PublicKey
	Authority solana.PublicKey

	Defaults []guard.Condition
	Groups   []guard.Group

	// Allocations holds allocation tracker counts by id for this machine.
	Allocations map[uint8]uint32
}

// Resolved returns the groups to evaluate after merging defaults.
func (g CandyGuard) Resolved() ([]guard.Group, error) {
	return guard.Resolve(g.Defaults, g.Groups)
}

// WalletRequest tells FetchWallet which per-wallet data the groups need.
type WalletRequest struct {
	Machine solana.PublicKey
	Guard   solana.PublicKey
	Groups  []guard.Group
}

// MintLimitIDs returns the distinct mint_limit ids used by the groups.
func (r WalletRequest) MintLimitIDs() []uint8 {
	return distinctIDs(r.Groups, guard.MintLimit)
}

// NeedsCollections reports whether any group checks NFT collections.
func (r WalletRequest) NeedsCollections() bool {
	for _, g := range r.Groups {
		for _, c := range g.Conditions {
			switch c.Type {
			case guard.NftGate, guard.NftBurn, guard.NftPayment:
				return true
			}
		}
	}
	return false
}

// AllocationIDs returns the distinct allocation ids used by groups.
func AllocationIDs(groups []guard.Group) []uint8 {
	return distinctIDs(groups, guard.Allocation)
}

func distinctIDs(groups []guard.Group, t guard.ConditionType) []uint8 {
	var seen [256]bool
	var ids []uint8
	for _, g := range groups {
		for _, c := range g.Conditions {
			if c.Type == t && !seen[c.ID] {
				seen[c.ID] = true
				ids = append(ids, c.ID)
			}
		}
	}
	return ids
}

// Client reads the chain state one evaluation pass needs.
type Client interface {
	// FetchMachine reads the candy machine at id.
	FetchMachine(ctx context.Context, id solana.PublicKey) (Machine, error)

	// FetchGuard reads the candy guard of m, including its allocation counters.
	FetchGuard(ctx context.Context, m Machine) (CandyGuard, error)

	// FetchWallet reads balances, holdings and mint counters of owner.
	// Allow-list proofs are not on chain and are left empty.
	FetchWallet(ctx context.Context, owner solana.PublicKey, req WalletRequest) (*guard.Wallet, error)

	// ChainTime reads the clock sysvar.
	ChainTime(ctx context.Context) (guard.TimeSnapshot, error)
}

// MintRequest asks a Minter to mint through one guard group.
type MintRequest struct {
	Machine solana.PublicKey
	Guard   solana.PublicKey
	Label   string
	Wallet  solana.PublicKey
	Amount  uint64
}

// Receipt describes a submitted mint.
type Receipt struct {
	Label      string   `json:"label"`
	Minted     uint64   `json:"minted"`
	Signatures []string `json:"signatures"`
}

// Minter submits mint transactions.
type Minter interface {
	SubmitMint(ctx context.Context, req MintRequest) (Receipt, error)
}
