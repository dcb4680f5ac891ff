package onchain

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// accountBuilder encodes account data in the on-chain little-endian layout.
type accountBuilder struct {
	b []byte
}

func (a *accountBuilder) raw(p []byte) *accountBuilder {
	a.b = append(a.b, p...)
	return a
}

func (a *accountBuilder) u8(v uint8) *accountBuilder {
	a.b = append(a.b, v)
	return a
}

func (a *accountBuilder) boolean(v bool) *accountBuilder {
	if v {
		return a.u8(1)
	}
	return a.u8(0)
}

func (a *accountBuilder) u16(v uint16) *accountBuilder {
	a.b = binary.LittleEndian.AppendUint16(a.b, v)
	return a
}

func (a *accountBuilder) u32(v uint32) *accountBuilder {
	a.b = binary.LittleEndian.AppendUint32(a.b, v)
	return a
}

func (a *accountBuilder) u64(v uint64) *accountBuilder {
	a.b = binary.LittleEndian.AppendUint64(a.b, v)
	return a
}

func (a *accountBuilder) i64(v int64) *accountBuilder {
	return a.u64(uint64(v))
}

func (a *accountBuilder) key(k solana.PublicKey) *accountBuilder {
	return a.raw(k[:])
}

func (a *accountBuilder) str(s string) *accountBuilder {
	a.u32(uint32(len(s)))
	return a.raw([]byte(s))
}

func (a *accountBuilder) label(s string) *accountBuilder {
	var l [labelSize]byte
	copy(l[:], s)
	return a.raw(l[:])
}

func (a *accountBuilder) bytes() []byte {
	return a.b
}

func testKey(b byte) solana.PublicKey {
	var k solana.PublicKey
	for i := range k {
		k[i] = b
	}
	return k
}

func machineAccount(version uint8, redeemed, available uint64) []byte {
	return new(accountBuilder).
		raw(candyMachineDiscriminator).
		u8(version).
		u8(0).
		raw(make([]byte, 6)).
		key(testKey(1)).
		key(testKey(2)).
		key(testKey(3)).
		u64(redeemed).
		u64(available).
		str("MINT\x00\x00\x00\x00\x00\x00").
		u16(500).
		u64(0).
		boolean(true).
		u32(0).
		u8(0).
		u8(0).
		bytes()
}
