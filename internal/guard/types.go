package guard

import (
	"github.com/gagliardetto/solana-go"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/mintgate/internal/allowlist"
)

// ConditionType names a guard condition kind. Values match the on-chain guard
// names in snake_case.
type ConditionType string

const (
	BotTax             ConditionType = "bot_tax"
	SolPayment         ConditionType = "sol_payment"
	TokenPayment       ConditionType = "token_payment"
	StartDate          ConditionType = "start_date"
	ThirdPartySigner   ConditionType = "third_party_signer"
	TokenGate          ConditionType = "token_gate"
	Gatekeeper         ConditionType = "gatekeeper"
	EndDate            ConditionType = "end_date"
	AllowList          ConditionType = "allow_list"
	MintLimit          ConditionType = "mint_limit"
	NftPayment         ConditionType = "nft_payment"
	RedeemedAmount     ConditionType = "redeemed_amount"
	AddressGate        ConditionType = "address_gate"
	NftGate            ConditionType = "nft_gate"
	NftBurn            ConditionType = "nft_burn"
	TokenBurn          ConditionType = "token_burn"
	FreezeSolPayment   ConditionType = "freeze_sol_payment"
	FreezeTokenPayment ConditionType = "freeze_token_payment"
	ProgramGate        ConditionType = "program_gate"
	Allocation         ConditionType = "allocation"
	Token2022Payment   ConditionType = "token2022_payment"
)

// Known reports whether t is a condition type the evaluator understands.
func (t ConditionType) Known() bool {
	switch t {
	case BotTax, SolPayment, TokenPayment, StartDate, ThirdPartySigner, TokenGate,
		Gatekeeper, EndDate, AllowList, MintLimit, NftPayment, RedeemedAmount,
		AddressGate, NftGate, NftBurn, TokenBurn, FreezeSolPayment,
		FreezeTokenPayment, ProgramGate, Allocation, Token2022Payment:
		return true
	}
	return false
}

// Condition is one guard of a group. Only the parameters used by Type are set.
type Condition struct {
	Type ConditionType

	// Lamports is the SOL amount for sol_payment, freeze_sol_payment and bot_tax.
	Lamports uint64
	// Amount is the token amount for token payments, gates and burns.
	Amount uint64
	// Mint is the token mint for token payments, gates and burns.
	Mint solana.PublicKey
	// Destination receives payments.
	Destination solana.PublicKey
	// Collection is the required verified collection for nft_* conditions.
	Collection solana.PublicKey
	// Address is the only wallet admitted by address_gate.
	Address solana.PublicKey
	// Date is a unix timestamp for start_date and end_date.
	Date int64
	// MerkleRoot is the allow-list root.
	MerkleRoot allowlist.Hash
	// ID identifies the counter for mint_limit and allocation.
	ID uint8
	// Limit is the counter ceiling for mint_limit and allocation.
	Limit uint32
	// Maximum is the redemption ceiling for redeemed_amount.
	Maximum uint64
}

// WalletDependent reports whether the condition can only be checked against a
// connected wallet.
func (c Condition) WalletDependent() bool {
	switch c.Type {
	case AllowList, TokenGate, NftGate, AddressGate, NftBurn, TokenBurn, MintLimit:
		return true
	}
	return false
}

// Group is a labelled guard group: one mint phase.
type Group struct {
	Label      string
	Conditions []Condition
}

// WalletDependent reports whether any condition of the group needs a wallet.
func (g Group) WalletDependent() bool {
	for _, c := range g.Conditions {
		if c.WalletDependent() {
			return true
		}
	}
	return false
}

// Validate rejects the first condition whose type is not Known.
func (g Group) Validate() error {
	for _, c := range g.Conditions {
		if !c.Type.Known() {
			return NewUnknownConditionError(g.Label, c.Type)
		}
	}
	return nil
}

// NormalizeLabel returns label in NFC, the form group labels are matched in.
func NormalizeLabel(label string) string {
	return norm.NFC.String(label)
}

// Find returns the first condition of the given type.
func (g Group) Find(t ConditionType) (Condition, bool) {
	for _, c := range g.Conditions {
		if c.Type == t {
			return c, true
		}
	}
	return Condition{}, false
}

// TimeSnapshot is chain time in unix seconds.
type TimeSnapshot int64

// MintState is the machine's supply counters for one evaluation pass.
type MintState struct {
	ItemsAvailable uint64
	ItemsRedeemed  uint64

	// Allocations holds allocation tracker counts by allocation id.
	Allocations map[uint8]uint32
}

// Validate checks redeemed <= available.
func (s MintState) Validate() error {
	if s.ItemsRedeemed > s.ItemsAvailable {
		return NewIntegrityError("items redeemed exceeds items available")
	}
	return nil
}

// Remaining returns the unminted supply. Callers must Validate first.
func (s MintState) Remaining() uint64 {
	return s.ItemsAvailable - s.ItemsRedeemed
}

// Holding is one token balance of a wallet.
type Holding struct {
	Mint   solana.PublicKey
	Amount uint64

	// Collection is the verified collection of an NFT, nil otherwise.
	Collection *solana.PublicKey
}

// Wallet is the connected wallet's state for one evaluation pass.
type Wallet struct {
	Address  solana.PublicKey
	Lamports uint64
	Holdings []Holding

	// Proofs holds allow-list proofs by NFC group label. Use Proof and
	// SetProof rather than indexing directly.
	Proofs map[string]allowlist.Proof

	// MintCounts holds mint_limit counters by limit id.
	MintCounts map[uint8]uint32
}

// Proof returns the allow-list proof stored for the group label.
func (w *Wallet) Proof(label string) (allowlist.Proof, bool) {
	p, ok := w.Proofs[NormalizeLabel(label)]
	return p, ok
}

// SetProof stores proof for the group label.
func (w *Wallet) SetProof(label string, proof allowlist.Proof) {
	if w.Proofs == nil {
		w.Proofs = make(map[string]allowlist.Proof)
	}
	w.Proofs[NormalizeLabel(label)] = proof
}

// TokenBalance sums the amount held of mint.
func (w *Wallet) TokenBalance(mint solana.PublicKey) uint64 {
	var total uint64
	for _, h := range w.Holdings {
		if h.Mint == mint {
			total += h.Amount
		}
	}
	return total
}

// HoldsCollection reports whether the wallet holds an NFT of the verified collection.
func (w *Wallet) HoldsCollection(collection solana.PublicKey) bool {
	for _, h := range w.Holdings {
		if h.Amount > 0 && h.Collection != nil && *h.Collection == collection {
			return true
		}
	}
	return false
}

// Failure is one failed condition.
type Failure struct {
	Condition ConditionType `json:"condition"`
	Reason    string        `json:"reason"`
}

// Payment is a recorded payment requirement of a group.
type Payment struct {
	Condition ConditionType `json:"condition"`
	Amount    uint64        `json:"amount"`
	// Mint is the token or collection paid with; empty for SOL.
	Mint string `json:"mint,omitempty"`
	// Covered is nil when no wallet is connected.
	Covered *bool `json:"covered,omitempty"`
}

// Verdict is the eligibility result of one group in one pass.
type Verdict struct {
	Label     string    `json:"label"`
	Allowed   bool      `json:"allowed"`
	MaxAmount uint64    `json:"max_amount"`
	Reason    string    `json:"reason,omitempty"`
	Failures  []Failure `json:"failures,omitempty"`
	Payments  []Payment `json:"payments,omitempty"`
}
