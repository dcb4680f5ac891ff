// Package fixture provides an offline chain described in CUE.
//
// A fixture file declares the chain time, one candy machine with its candy
// guard, and any number of wallets. The loaded Chain implements chain.Client
// and chain.Minter, so the whole evaluation pipeline and the mint
// orchestrator run against it without an RPC node:
//
//	time: 1_700_000_000
//	machine: {
//		address:         "CndyV3LdqHUfDLmE5naZjVN8rBZz4tqhdefbAnjHG3JR"
//		guard:           "Guard1JwRhJkVH6XZhzoYxeBVQe872VH6QggF4BWmS9g"
//		items_available: 10
//		items_redeemed:  9
//	}
//	guard: groups: [{
//		label: "WL"
//		conditions: [{type: "allow_list", addresses: ["..."]}]
//	}]
//
// Allow-list conditions may give either merkle_root (hex) or the member
// addresses; with addresses the root is computed and AllowLists reports the
// members so proofs can be built.
package fixture

import (
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"github.com/gagliardetto/solana-go"

	"github.com/roach88/mintgate/internal/allowlist"
	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/guard"
)

//go:embed schema.cue
var schemaSource string

// LoadError reports an invalid fixture, with the CUE position when known.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Field: "cue", Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Field: "cue", Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		le.Pos = positions[0]
	}
	return le
}

type conditionSpec struct {
	Type        string   `json:"type"`
	Lamports    uint64   `json:"lamports"`
	Amount      uint64   `json:"amount"`
	Mint        string   `json:"mint"`
	Destination string   `json:"destination"`
	Collection  string   `json:"collection"`
	Address     string   `json:"address"`
	Date        int64    `json:"date"`
	MerkleRoot  string   `json:"merkle_root"`
	Addresses   []string `json:"addresses"`
	ID          uint8    `json:"id"`
	Limit       uint32   `json:"limit"`
	Maximum     uint64   `json:"maximum"`
}

type groupSpec struct {
	Label      string          `json:"label"`
	Conditions []conditionSpec `json:"conditions"`
}

type holdingSpec struct {
	Mint       string `json:"mint"`
	Amount     uint64 `json:"amount"`
	Collection string `json:"collection"`
}

type walletSpec struct {
	Lamports   uint64            `json:"lamports"`
	Holdings   []holdingSpec     `json:"holdings"`
	MintCounts map[string]uint32 `json:"mint_counts"`
}

type fileSpec struct {
	Time    int64 `json:"time"`
	Machine struct {
		Address        string `json:"address"`
		Version        uint8  `json:"version"`
		Authority      string `json:"authority"`
		Guard          string `json:"guard"`
		CollectionMint string `json:"collection_mint"`
		Symbol         string `json:"symbol"`
		ItemsAvailable uint64 `json:"items_available"`
		ItemsRedeemed  uint64 `json:"items_redeemed"`
	} `json:"machine"`
	Guard struct {
		Default     []conditionSpec   `json:"default"`
		Groups      []groupSpec       `json:"groups"`
		Allocations map[string]uint32 `json:"allocations"`
	} `json:"guard"`
	Wallets map[string]walletSpec `json:"wallets"`
}

// Load reads and validates the fixture at path.
func Load(path string) (*Chain, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Field: "file", Message: err.Error()}
	}
	return Parse(data, path)
}

// Parse validates fixture source against the schema and builds a Chain.
// filename is used in error positions.
func Parse(data []byte, filename string) (*Chain, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v = schema.LookupPath(cue.ParsePath("#Fixture")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var decl fileSpec
	if err := v.Decode(&decl); err != nil {
		return nil, formatCUEError(err)
	}
	return build(decl)
}

// keyParser parses base58 keys and remembers the first failure.
type keyParser struct {
	err error
}

func (p *keyParser) key(field, s string) solana.PublicKey {
	if s == "" || p.err != nil {
		return solana.PublicKey{}
	}
	k, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		p.err = &LoadError{Field: field, Message: fmt.Sprintf("invalid public key %q: %v", s, err)}
	}
	return k
}

func parseIDMap(field string, m map[string]uint32) (map[uint8]uint32, error) {
	out := make(map[uint8]uint32, len(m))
	for k, v := range m {
		id, err := strconv.ParseUint(k, 10, 8)
		if err != nil {
			return nil, &LoadError{Field: field, Message: fmt.Sprintf("invalid counter id %q", k)}
		}
		out[uint8(id)] = v
	}
	return out, nil
}

func build(decl fileSpec) (*Chain, error) {
	var p keyParser
	c := &Chain{
		now:     guard.TimeSnapshot(decl.Time),
		members: make(map[allowlist.Hash][]solana.PublicKey),
		wallets: make(map[solana.PublicKey]*guard.Wallet),
	}

	c.machine = chain.Machine{
		Address:        p.key("machine.address", decl.Machine.Address),
		Version:        decl.Machine.Version,
		Authority:      p.key("machine.authority", decl.Machine.Authority),
		MintAuthority:  p.key("machine.guard", decl.Machine.Guard),
		CollectionMint: p.key("machine.collection_mint", decl.Machine.CollectionMint),
		Symbol:         decl.Machine.Symbol,
		State: guard.MintState{
			ItemsAvailable: decl.Machine.ItemsAvailable,
			ItemsRedeemed:  decl.Machine.ItemsRedeemed,
		},
	}

	conditions := func(field string, specs []conditionSpec) []guard.Condition {
		out := make([]guard.Condition, 0, len(specs))
		for _, cs := range specs {
			cond := guard.Condition{
				Type:        guard.ConditionType(cs.Type),
				Lamports:    cs.Lamports,
				Amount:      cs.Amount,
				Mint:        p.key(field+".mint", cs.Mint),
				Destination: p.key(field+".destination", cs.Destination),
				Collection:  p.key(field+".collection", cs.Collection),
				Address:     p.key(field+".address", cs.Address),
				Date:        cs.Date,
				ID:          cs.ID,
				Limit:       cs.Limit,
				Maximum:     cs.Maximum,
			}
			switch {
			case len(cs.Addresses) > 0:
				members := make([]solana.PublicKey, len(cs.Addresses))
				for i, a := range cs.Addresses {
					members[i] = p.key(field+".addresses", a)
				}
				if p.err != nil {
					break
				}
				tree, err := allowlist.New(members)
				if err != nil {
					p.err = &LoadError{Field: field, Message: err.Error()}
					break
				}
				cond.MerkleRoot = tree.Root()
				c.members[cond.MerkleRoot] = members
			case cs.MerkleRoot != "":
				b, err := hex.DecodeString(cs.MerkleRoot)
				if err != nil && p.err == nil {
					p.err = &LoadError{Field: field + ".merkle_root", Message: err.Error()}
				}
				copy(cond.MerkleRoot[:], b)
			}
			out = append(out, cond)
		}
		return out
	}

	c.candyGuard = chain.CandyGuard{
		Address:   c.machine.MintAuthority,
		Authority: c.machine.Authority,
		Defaults:  conditions("guard.default", decl.Guard.Default),
	}
	for _, gs := range decl.Guard.Groups {
		c.candyGuard.Groups = append(c.candyGuard.Groups, guard.Group{
			Label:      gs.Label,
			Conditions: conditions("guard.groups."+gs.Label, gs.Conditions),
		})
	}
	allocations, err := parseIDMap("guard.allocations", decl.Guard.Allocations)
	if err != nil {
		return nil, err
	}
	c.allocations = allocations

	for addr, ws := range decl.Wallets {
		owner := p.key("wallets", addr)
		w := &guard.Wallet{Address: owner, Lamports: ws.Lamports}
		for _, hs := range ws.Holdings {
			h := guard.Holding{Mint: p.key("wallets.holdings.mint", hs.Mint), Amount: hs.Amount}
			if hs.Collection != "" {
				col := p.key("wallets.holdings.collection", hs.Collection)
				h.Collection = &col
			}
			w.Holdings = append(w.Holdings, h)
		}
		if w.MintCounts, err = parseIDMap("wallets.mint_counts", ws.MintCounts); err != nil {
			return nil, err
		}
		c.wallets[owner] = w
	}

	if p.err != nil {
		return nil, p.err
	}
	return c, nil
}
