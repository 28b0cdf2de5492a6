package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// S1 — Treemath root.
func TestTreeMathRoot(t *testing.T) {
	cases := []struct {
		size LeafCount
		want NodeIndex
	}{
		{1, 0},
		{2, 1},
		{3, 3},
		{4, 3},
		{5, 7},
	}
	for _, c := range cases {
		require.Equal(t, c.want, root(c.size), "root(%d)", c.size)
	}
}

// S2 — Invalid treemath inputs.
func TestTreeMathInvalidInputs(t *testing.T) {
	_, err := leafDirectPath(3, 2)
	require.ErrorIs(t, err, ErrLeafNotInTree)

	_, err = parent(1000, 100)
	require.ErrorIs(t, err, ErrNodeNotInTree)
}

// Property 1: leafDirectPath(l, n) == parentDirectPath(parent(l, n), n).
func TestLeafDirectPathMatchesParentDirectPath(t *testing.T) {
	for n := LeafCount(1); n <= 32; n++ {
		for l := LeafIndex(0); uint32(l) < uint32(n); l++ {
			dp, err := leafDirectPath(l, n)
			require.NoError(t, err)

			p, err := parent(toNodeIndex(l), n)
			require.NoError(t, err)

			want, err := parentDirectPath(p, n)
			require.NoError(t, err)
			require.Equal(t, want, dp, "size=%d leaf=%d", n, l)
		}
	}
}

// Property 2: descendantsViaRecursion == descendantsViaIteration.
func TestDescendantsAgree(t *testing.T) {
	for n := LeafCount(1); n <= 16; n++ {
		w := nodeWidth(n)
		for node := NodeIndex(0); uint32(node) < w; node++ {
			recur := descendantsViaRecursion(node, n)
			iter := descendantsViaIteration(node, n)
			require.ElementsMatch(t, recur, iter, "size=%d node=%d", n, node)
		}
	}
}

func TestCopathAndCommonAncestor(t *testing.T) {
	n := LeafCount(8)
	cp, err := copath(0, n)
	require.NoError(t, err)
	require.NotEmpty(t, cp)

	ca := commonAncestor(toNodeIndex(0), toNodeIndex(1))
	require.Equal(t, NodeIndex(1), ca)
}
