package merkle_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collapsinghierarchy/quorum/pkc/merkle"
)

func members(n int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = []byte(fmt.Sprintf("verifier-%02d", i))
	}
	return out
}

func TestProofsVerifyForEveryLeaf(t *testing.T) {
	h := merkle.Keccak{}
	tree, err := merkle.FromMembers(h, 3, members(8), []byte("salt"))
	require.NoError(t, err)
	require.Equal(t, 3, tree.Depth())

	for i := 0; i < 8; i++ {
		proof, err := tree.Proof(i)
		require.NoError(t, err)
		require.Len(t, proof, 3)
		assert.True(t, merkle.Verify(h, tree.Root(), tree.Leaf(i), proof), "leaf %d", i)
	}
}

func TestVerifyRejectsWrongSaltAndMember(t *testing.T) {
	h := merkle.Keccak{}
	ms := members(8)
	tree, err := merkle.FromMembers(h, 3, ms, []byte("salt"))
	require.NoError(t, err)
	proof, err := tree.Proof(2)
	require.NoError(t, err)

	assert.False(t, merkle.Verify(h, tree.Root(), h.Leaf(ms[2], []byte("other")), proof))
	assert.False(t, merkle.Verify(h, tree.Root(), h.Leaf([]byte("outsider"), []byte("salt")), proof))
	// a valid proof for another leaf does not transfer
	assert.False(t, merkle.Verify(h, tree.Root(), h.Leaf(ms[3], []byte("salt")), proof))
}

func TestRootDependsOnSalt(t *testing.T) {
	h := merkle.Keccak{}
	a, err := merkle.FromMembers(h, 3, members(8), []byte("a"))
	require.NoError(t, err)
	b, err := merkle.FromMembers(h, 3, members(8), []byte("b"))
	require.NoError(t, err)
	assert.NotEqual(t, a.Root(), b.Root())
}

func TestNodeIsOrderIndependent(t *testing.T) {
	h := merkle.Keccak{}
	x := h.Leaf([]byte("x"), nil)
	y := h.Leaf([]byte("y"), nil)
	assert.Equal(t, h.Node(x, y), h.Node(y, x))
}

func TestLeafCountMustMatchDepth(t *testing.T) {
	_, err := merkle.FromMembers(merkle.Keccak{}, 3, members(7), []byte("s"))
	require.ErrorIs(t, err, merkle.ErrLeafCount)

	tree, err := merkle.FromMembers(merkle.Keccak{}, 3, members(8), []byte("s"))
	require.NoError(t, err)
	_, err = tree.Proof(8)
	require.ErrorIs(t, err, merkle.ErrIndex)
}
