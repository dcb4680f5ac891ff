// Package allowlist builds and verifies the keccak merkle trees used by the
// candy guard allow-list condition.
//
// Leaves are keccak256 of the raw 32-byte wallet address. Interior nodes hash
// the sorted concatenation of their two children, and an unpaired node is
// promoted to the next level unchanged. This matches the trees produced by the
// mint tooling, so a root computed here can be compared with the merkle root
// stored on-chain.
package allowlist

import (
	"bytes"
	"errors"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/sha3"
)

// Hash is a 32-byte keccak digest.
type Hash [32]byte

// Proof is the ordered list of sibling hashes from a leaf to the root.
type Proof []Hash

// ErrEmpty is returned when a tree is built from no addresses.
var ErrEmpty = errors.New("allowlist: no addresses")

// Tree is an immutable merkle tree over a list of wallet addresses.
type Tree struct {
	levels [][]Hash
	index  map[solana.PublicKey]int
}

// Leaf returns the leaf hash for a wallet address.
func Leaf(addr solana.PublicKey) Hash {
	return keccak(addr[:])
}

// New builds a tree from addrs. Duplicate addresses keep their first position.
func New(addrs []solana.PublicKey) (*Tree, error) {
	if len(addrs) == 0 {
		return nil, ErrEmpty
	}

	index := make(map[solana.PublicKey]int, len(addrs))
	leaves := make([]Hash, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := index[a]; ok {
			continue
		}
		index[a] = len(leaves)
		leaves = append(leaves, Leaf(a))
	}

	levels := [][]Hash{leaves}
	for cur := leaves; len(cur) > 1; {
		next := make([]Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 == len(cur) {
				next = append(next, cur[i])
				continue
			}
			next = append(next, hashPair(cur[i], cur[i+1]))
		}
		levels = append(levels, next)
		cur = next
	}

	return &Tree{levels: levels, index: index}, nil
}

// Root returns the merkle root.
func (t *Tree) Root() Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Len returns the number of distinct addresses in the tree.
func (t *Tree) Len() int {
	return len(t.levels[0])
}

// Contains reports whether addr is a leaf of the tree.
func (t *Tree) Contains(addr solana.PublicKey) bool {
	_, ok := t.index[addr]
	return ok
}

// Proof returns the inclusion proof for addr, or false if addr is not a leaf.
func (t *Tree) Proof(addr solana.PublicKey) (Proof, bool) {
	idx, ok := t.index[addr]
	if !ok {
		return nil, false
	}

	proof := Proof{}
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := idx ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		idx /= 2
	}
	return proof, true
}

// Verify reports whether proof links addr to root.
func Verify(addr solana.PublicKey, proof Proof, root Hash) bool {
	h := Leaf(addr)
	for _, p := range proof {
		h = hashPair(h, p)
	}
	return h == root
}

func hashPair(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	buf := make([]byte, 0, 64)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return keccak(buf)
}

func keccak(data []byte) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
