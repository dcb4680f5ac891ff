package allowlist

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addrs(n int) []solana.PublicKey {
	out := make([]solana.PublicKey, n)
	for i := range out {
		out[i][0] = byte(i + 1)
		out[i][31] = byte(255 - i)
	}
	return out
}

func TestNew_Empty(t *testing.T) {
	_, err := New(nil)
	require.ErrorIs(t, err, ErrEmpty)
}

func TestTree_SingleLeafRootIsLeaf(t *testing.T) {
	a := addrs(1)
	tree, err := New(a)
	require.NoError(t, err)

	assert.Equal(t, Leaf(a[0]), tree.Root())

	proof, ok := tree.Proof(a[0])
	require.True(t, ok)
	assert.Empty(t, proof)
	assert.True(t, Verify(a[0], proof, tree.Root()))
}

func TestTree_EveryMemberVerifies(t *testing.T) {
	for _, n := range []int{2, 3, 5, 8, 13} {
		list := addrs(n)
		tree, err := New(list)
		require.NoError(t, err)
		assert.Equal(t, n, tree.Len())

		for _, a := range list {
			proof, ok := tree.Proof(a)
			require.True(t, ok)
			assert.True(t, Verify(a, proof, tree.Root()), "n=%d addr=%s", n, a)
		}
	}
}

func TestTree_NonMember(t *testing.T) {
	list := addrs(4)
	tree, err := New(list)
	require.NoError(t, err)

	outsider := solana.PublicKey{9, 9, 9}
	assert.False(t, tree.Contains(outsider))
	_, ok := tree.Proof(outsider)
	assert.False(t, ok)

	// A member's proof must not verify for another address.
	proof, _ := tree.Proof(list[0])
	assert.False(t, Verify(outsider, proof, tree.Root()))
}

func TestTree_DuplicatesIgnored(t *testing.T) {
	list := addrs(3)
	withDup := append(append([]solana.PublicKey{}, list...), list[1])

	a, err := New(list)
	require.NoError(t, err)
	b, err := New(withDup)
	require.NoError(t, err)

	assert.Equal(t, a.Root(), b.Root())
	assert.Equal(t, 3, b.Len())
}

func TestHashPair_Commutative(t *testing.T) {
	x, y := Leaf(addrs(2)[0]), Leaf(addrs(2)[1])
	assert.Equal(t, hashPair(x, y), hashPair(y, x))
}
