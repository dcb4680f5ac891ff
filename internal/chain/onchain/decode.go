package onchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/roach88/mintgate/internal/allowlist"
	"github.com/roach88/mintgate/internal/chain"
	"github.com/roach88/mintgate/internal/guard"
)

// labelSize is the fixed width of a guard group label on chain.
const labelSize = 6

var (
	candyMachineDiscriminator = discriminator("CandyMachine")
	candyGuardDiscriminator   = discriminator("CandyGuard")
)

// discriminator returns the anchor account discriminator for name.
func discriminator(name string) []byte {
	sum := sha256.Sum256([]byte("account:" + name))
	return sum[:8]
}

// reader wraps a bin.Decoder and keeps the first error.
type reader struct {
	dec *bin.Decoder
	err error
}

func newReader(data []byte) *reader {
	return &reader{dec: bin.NewBinDecoder(data)}
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) u8() uint8 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint8()
	r.fail(err)
	return v
}

func (r *reader) boolean() bool {
	return r.u8() != 0
}

func (r *reader) u16() uint16 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint16(binary.LittleEndian)
	r.fail(err)
	return v
}

func (r *reader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint32(binary.LittleEndian)
	r.fail(err)
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadUint64(binary.LittleEndian)
	r.fail(err)
	return v
}

func (r *reader) i64() int64 {
	if r.err != nil {
		return 0
	}
	v, err := r.dec.ReadInt64(binary.LittleEndian)
	r.fail(err)
	return v
}

func (r *reader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.dec.Remaining() {
		r.fail(io.ErrUnexpectedEOF)
		return nil
	}
	b, err := r.dec.ReadNBytes(n)
	r.fail(err)
	return b
}

func (r *reader) pubkey() solana.PublicKey {
	b := r.bytes(solana.PublicKeyLength)
	if b == nil {
		return solana.PublicKey{}
	}
	return solana.PublicKeyFromBytes(b)
}

// str reads a u32 length-prefixed string.
func (r *reader) str() string {
	n := r.u32()
	return string(r.bytes(int(n)))
}

func (r *reader) remaining() int {
	if r.err != nil {
		return 0
	}
	return r.dec.Remaining()
}

func checkDiscriminator(data, want []byte, kind string) error {
	if len(data) < len(want) || !bytes.Equal(data[:len(want)], want) {
		return guard.NewConfigurationError(fmt.Sprintf("account is not a %s", kind), nil)
	}
	return nil
}

func truncated(kind string, err error) error {
	return guard.NewConfigurationError(fmt.Sprintf("malformed %s account", kind), err)
}

// DecodeMachine decodes a candy machine core account. Only account version V2
// is supported.
func DecodeMachine(addr solana.PublicKey, data []byte) (chain.Machine, error) {
	if err := checkDiscriminator(data, candyMachineDiscriminator, "candy machine"); err != nil {
		return chain.Machine{}, err
	}
	r := newReader(data[8:])

	m := chain.Machine{Address: addr}
	m.Version = r.u8()
	if r.err == nil && m.Version != chain.AccountVersionV2 {
		return chain.Machine{}, guard.NewConfigurationError(
			fmt.Sprintf("unsupported candy machine account version %d", m.Version), nil)
	}
	r.u8()     // token standard
	r.bytes(6) // features
	m.Authority = r.pubkey()
	m.MintAuthority = r.pubkey()
	m.CollectionMint = r.pubkey()
	m.State.ItemsRedeemed = r.u64()
	m.State.ItemsAvailable = r.u64()
	m.Symbol = string(bytes.TrimRight([]byte(r.str()), "\x00"))

	if r.err != nil {
		return chain.Machine{}, truncated("candy machine", r.err)
	}
	return m, nil
}

// guardDecoder decodes the payload of one guard.
type guardDecoder struct {
	cond   guard.ConditionType
	decode func(r *reader) guard.Condition
}

// guardLayout lists guards by feature bit.
var guardLayout = []guardDecoder{
	{guard.BotTax, func(r *reader) guard.Condition {
		c := guard.Condition{Type: guard.BotTax, Lamports: r.u64()}
		r.boolean() // last instruction
		return c
	}},
	{guard.SolPayment, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.SolPayment, Lamports: r.u64(), Destination: r.pubkey()}
	}},
	{guard.TokenPayment, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.TokenPayment, Amount: r.u64(), Mint: r.pubkey(), Destination: r.pubkey()}
	}},
	{guard.StartDate, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.StartDate, Date: r.i64()}
	}},
	{guard.ThirdPartySigner, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.ThirdPartySigner, Address: r.pubkey()}
	}},
	{guard.TokenGate, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.TokenGate, Amount: r.u64(), Mint: r.pubkey()}
	}},
	{guard.Gatekeeper, func(r *reader) guard.Condition {
		c := guard.Condition{Type: guard.Gatekeeper, Address: r.pubkey()}
		r.boolean() // expire on use
		return c
	}},
	{guard.EndDate, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.EndDate, Date: r.i64()}
	}},
	{guard.AllowList, func(r *reader) guard.Condition {
		var root allowlist.Hash
		copy(root[:], r.bytes(len(root)))
		return guard.Condition{Type: guard.AllowList, MerkleRoot: root}
	}},
	{guard.MintLimit, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.MintLimit, ID: r.u8(), Limit: uint32(r.u16())}
	}},
	{guard.NftPayment, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.NftPayment, Collection: r.pubkey(), Destination: r.pubkey()}
	}},
	{guard.RedeemedAmount, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.RedeemedAmount, Maximum: r.u64()}
	}},
	{guard.AddressGate, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.AddressGate, Address: r.pubkey()}
	}},
	{guard.NftGate, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.NftGate, Collection: r.pubkey()}
	}},
	{guard.NftBurn, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.NftBurn, Collection: r.pubkey()}
	}},
	{guard.TokenBurn, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.TokenBurn, Amount: r.u64(), Mint: r.pubkey()}
	}},
	{guard.FreezeSolPayment, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.FreezeSolPayment, Lamports: r.u64(), Destination: r.pubkey()}
	}},
	{guard.FreezeTokenPayment, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.FreezeTokenPayment, Amount: r.u64(), Mint: r.pubkey(), Destination: r.pubkey()}
	}},
	{guard.ProgramGate, func(r *reader) guard.Condition {
		n := r.u32()
		if int(n)*solana.PublicKeyLength > r.remaining() {
			r.fail(io.ErrUnexpectedEOF)
		}
		for i := uint32(0); i < n && r.err == nil; i++ {
			r.pubkey()
		}
		return guard.Condition{Type: guard.ProgramGate}
	}},
	{guard.Allocation, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.Allocation, ID: r.u8(), Limit: r.u32()}
	}},
	{guard.Token2022Payment, func(r *reader) guard.Condition {
		return guard.Condition{Type: guard.Token2022Payment, Amount: r.u64(), Mint: r.pubkey(), Destination: r.pubkey()}
	}},
}

// decodeGuardSet reads a feature bitmask followed by the enabled guards.
// A bit with no known layout is a configuration error naming label.
func decodeGuardSet(r *reader, label string) ([]guard.Condition, error) {
	features := r.u64()
	if r.err != nil {
		return nil, r.err
	}

	if unknown := features >> uint(len(guardLayout)); unknown != 0 {
		for bit := len(guardLayout); bit < 64; bit++ {
			if features&(1<<uint(bit)) != 0 {
				return nil, guard.NewUnknownConditionError(label, guard.ConditionType(fmt.Sprintf("guard_bit_%d", bit)))
			}
		}
	}

	var conds []guard.Condition
	for bit, gd := range guardLayout {
		if features&(1<<uint(bit)) == 0 {
			continue
		}
		c := gd.decode(r)
		if r.err != nil {
			return nil, fmt.Errorf("decode %s: %w", gd.cond, r.err)
		}
		conds = append(conds, c)
	}
	return conds, nil
}

// DecodeGuard decodes a candy guard account: the default guard set followed
// by a u32 count of labelled groups.
func DecodeGuard(addr solana.PublicKey, data []byte) (chain.CandyGuard, error) {
	if err := checkDiscriminator(data, candyGuardDiscriminator, "candy guard"); err != nil {
		return chain.CandyGuard{}, err
	}
	r := newReader(data[8:])

	cg := chain.CandyGuard{Address: addr}
	cg.Base = r.pubkey()
	r.u8() // bump
	cg.Authority = r.pubkey()
	if r.err != nil {
		return chain.CandyGuard{}, truncated("candy guard", r.err)
	}

	defaults, err := decodeGuardSet(r, guard.DefaultLabel)
	if err != nil {
		return chain.CandyGuard{}, wrapGuardErr(err)
	}
	cg.Defaults = defaults

	if r.remaining() == 0 {
		return cg, nil
	}
	n := r.u32()
	for i := uint32(0); i < n; i++ {
		label := string(bytes.TrimRight(r.bytes(labelSize), "\x00"))
		if r.err != nil {
			return chain.CandyGuard{}, truncated("candy guard", r.err)
		}
		conds, err := decodeGuardSet(r, label)
		if err != nil {
			return chain.CandyGuard{}, wrapGuardErr(err)
		}
		cg.Groups = append(cg.Groups, guard.Group{Label: label, Conditions: conds})
	}
	return cg, nil
}

func wrapGuardErr(err error) error {
	var ge *guard.Error
	if errors.As(err, &ge) {
		return err
	}
	return truncated("candy guard", err)
}

// DecodeMintCounter decodes a mint_limit counter account.
func DecodeMintCounter(data []byte) (uint32, error) {
	r := newReader(data)
	r.bytes(8)
	n := r.u16()
	if r.err != nil {
		return 0, truncated("mint counter", r.err)
	}
	return uint32(n), nil
}

// DecodeAllocationTracker decodes an allocation tracker account.
func DecodeAllocationTracker(data []byte) (uint32, error) {
	r := newReader(data)
	r.bytes(8)
	n := r.u32()
	if r.err != nil {
		return 0, truncated("allocation tracker", r.err)
	}
	return n, nil
}

// DecodeClock returns unix_timestamp from the clock sysvar.
func DecodeClock(data []byte) (guard.TimeSnapshot, error) {
	r := newReader(data)
	r.u64() // slot
	r.i64() // epoch start timestamp
	r.u64() // epoch
	r.u64() // leader schedule epoch
	ts := r.i64()
	if r.err != nil {
		return 0, truncated("clock sysvar", r.err)
	}
	return guard.TimeSnapshot(ts), nil
}

// DecodeCollection returns the verified collection of a token metadata
// account, or nil when the token has none. Accounts written before the
// collection field existed end early and report no collection.
func DecodeCollection(data []byte) (*solana.PublicKey, error) {
	r := newReader(data)
	r.u8()     // key
	r.pubkey() // update authority
	r.pubkey() // mint
	r.str()    // name
	r.str()    // symbol
	r.str()    // uri
	r.u16()    // seller fee
	if r.u8() == 1 {
		n := r.u32()
		r.bytes(int(n) * (solana.PublicKeyLength + 2))
	}
	if r.err != nil {
		return nil, truncated("token metadata", r.err)
	}
	r.boolean() // primary sale happened
	r.boolean() // is mutable
	if r.u8() == 1 {
		r.u8() // edition nonce
	}
	if r.u8() == 1 {
		r.u8() // token standard
	}
	if r.u8() != 1 {
		return nil, nil
	}
	verified := r.boolean()
	key := r.pubkey()
	if r.err != nil || !verified {
		return nil, nil
	}
	return &key, nil
}
