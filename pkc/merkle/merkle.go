// Package merkle implements fixed-depth binary Merkle trees used to commit to
// a verifier set and to prove membership of one verifier without revealing
// the others.
package merkle

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

type Node [32]byte

var (
	ErrLeafCount = errors.New("leaf count does not match tree depth")
	ErrIndex     = errors.New("leaf index out of range")
)

// Hasher derives leaves from (member, salt) pairs and combines child nodes.
type Hasher interface {
	Leaf(member, salt []byte) Node
	Node(a, b Node) Node
}

// Keccak hashes with legacy Keccak-256. Children are combined in sorted
// order so a proof does not need to carry left/right positions.
type Keccak struct{}

func (Keccak) Leaf(member, salt []byte) Node {
	return keccak(member, salt)
}

func (Keccak) Node(a, b Node) Node {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak(a[:], b[:])
}

func keccak(parts ...[]byte) Node {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var n Node
	h.Sum(n[:0])
	return n
}

// Tree keeps every level so proofs can be produced for any leaf.
// levels[0] are the leaves, the last level holds the root.
type Tree struct {
	hasher Hasher
	levels [][]Node
}

// New builds a tree of the given depth. Exactly 1<<depth leaves are required.
func New(h Hasher, depth int, leaves []Node) (*Tree, error) {
	if depth < 1 || len(leaves) != 1<<depth {
		return nil, fmt.Errorf("%w: depth %d, %d leaves", ErrLeafCount, depth, len(leaves))
	}
	level := append([]Node(nil), leaves...)
	t := &Tree{hasher: h, levels: [][]Node{level}}
	for len(level) > 1 {
		next := make([]Node, len(level)/2)
		for i := range next {
			next[i] = h.Node(level[2*i], level[2*i+1])
		}
		t.levels = append(t.levels, next)
		level = next
	}
	return t, nil
}

// FromMembers hashes each member with salt and builds the tree over them in order.
func FromMembers(h Hasher, depth int, members [][]byte, salt []byte) (*Tree, error) {
	leaves := make([]Node, len(members))
	for i, m := range members {
		leaves[i] = h.Leaf(m, salt)
	}
	return New(h, depth, leaves)
}

func (t *Tree) Root() Node { return t.levels[len(t.levels)-1][0] }

func (t *Tree) Depth() int { return len(t.levels) - 1 }

func (t *Tree) Leaf(i int) Node { return t.levels[0][i] }

// Proof returns the sibling path of leaf i, bottom-up.
func (t *Tree) Proof(i int) ([]Node, error) {
	if i < 0 || i >= len(t.levels[0]) {
		return nil, ErrIndex
	}
	proof := make([]Node, 0, t.Depth())
	for _, level := range t.levels[:len(t.levels)-1] {
		proof = append(proof, level[i^1])
		i /= 2
	}
	return proof, nil
}

// Verify folds proof into leaf and compares the result with root.
func Verify(h Hasher, root, leaf Node, proof []Node) bool {
	cur := leaf
	for _, sib := range proof {
		cur = h.Node(cur, sib)
	}
	return cur == root
}
