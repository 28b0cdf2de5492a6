package mls

import "fmt"

// NodeIndex addresses a node in the flat, left-balanced array
// representation of a ratchet tree: a tree of `leafCount` leaves has
// `2*leafCount-1` nodes, leaves at the even indices.
type NodeIndex uint32

// LeafIndex addresses a leaf by its position among leaves (LeafIndex l
// corresponds to NodeIndex 2*l).
type LeafIndex uint32

// LeafCount is the number of leaves in a tree (populated or blank).
type LeafCount uint32

func toNodeIndex(l LeafIndex) NodeIndex { return NodeIndex(2 * uint32(l)) }

func toLeafIndex(n NodeIndex) (LeafIndex, bool) {
	if n%2 != 0 {
		return 0, false
	}
	return LeafIndex(n / 2), true
}

func nodeWidth(n LeafCount) uint32 {
	if n == 0 {
		return 0
	}
	return 2*uint32(n) - 1
}

// log2 returns the position of the highest set bit of x, or 0 for x==0.
func log2(x uint32) uint {
	if x == 0 {
		return 0
	}
	k := uint(0)
	for (x >> k) > 0 {
		k++
	}
	return k - 1
}

// level returns the number of trailing one-bits of x (0 for even x).
func level(x NodeIndex) uint {
	if x&0x01 == 0 {
		return 0
	}
	k := uint(0)
	for (uint32(x)>>k)&0x01 == 1 {
		k++
	}
	return k
}

// root returns the root node index for a tree of the given leaf count.
func root(n LeafCount) NodeIndex {
	w := nodeWidth(n)
	if w == 0 {
		return 0
	}
	return NodeIndex((uint32(1) << log2(w)) - 1)
}

func left(x NodeIndex) NodeIndex {
	if level(x) == 0 {
		return x
	}
	return x ^ NodeIndex(1<<(level(x)-1))
}

func right(x NodeIndex, n LeafCount) NodeIndex {
	if level(x) == 0 {
		return x
	}
	w := NodeIndex(nodeWidth(n))
	r := x ^ NodeIndex(0x03<<(level(x)-1))
	for r >= w {
		r = left(r)
	}
	return r
}

func parentStep(x NodeIndex) NodeIndex {
	k := level(x)
	one := uint32(1)
	return NodeIndex((uint32(x) | (one << k)) &^ (one << (k + 1)))
}

func inTree(n NodeIndex, size LeafCount) bool {
	return uint32(n) < nodeWidth(size)
}

// parent returns the unique ancestor of n one level up in the
// left-balanced layout. Fails with ErrNodeNotInTree when n is out of
// range for size.
func parent(n NodeIndex, size LeafCount) (NodeIndex, error) {
	if !inTree(n, size) {
		return 0, fmt.Errorf("parent(%d, %d): %w", n, size, ErrNodeNotInTree)
	}
	r := root(size)
	if n == r {
		return n, nil
	}
	w := NodeIndex(nodeWidth(size))
	p := parentStep(n)
	for p >= w {
		p = parentStep(p)
	}
	return p, nil
}

// sibling returns the other child of n's parent.
func sibling(n NodeIndex, size LeafCount) (NodeIndex, error) {
	p, err := parent(n, size)
	if err != nil {
		return 0, err
	}
	if n < p {
		return right(p, size), nil
	}
	if n > p {
		return left(p), nil
	}
	return p, nil // n is the root
}

// parentDirectPath returns node followed by each of its ancestors up to
// and including the root (just the root when node is the root); the
// empty slice for the single-leaf tree, whose root is a leaf.
func parentDirectPath(node NodeIndex, size LeafCount) ([]NodeIndex, error) {
	if !inTree(node, size) {
		return nil, fmt.Errorf("parentDirectPath(%d, %d): %w", node, size, ErrNodeNotInTree)
	}
	r := root(size)
	if node == r && level(node) == 0 {
		return []NodeIndex{}, nil
	}
	path := []NodeIndex{node}
	cur := node
	for cur != r {
		p, err := parent(cur, size)
		if err != nil {
			return nil, err
		}
		cur = p
		path = append(path, cur)
	}
	return path, nil
}

// leafDirectPath returns the nodes from leaf's parent up to and
// including the root (empty for the single-leaf tree, whose one leaf
// is the root).
func leafDirectPath(l LeafIndex, size LeafCount) ([]NodeIndex, error) {
	n := toNodeIndex(l)
	if !inTree(n, size) {
		return nil, fmt.Errorf("leafDirectPath(%d, %d): %w", l, size, ErrLeafNotInTree)
	}
	p, err := parent(n, size)
	if err != nil {
		return nil, err
	}
	return parentDirectPath(p, size)
}

// copath returns the siblings of leaf and of every ancestor of leaf up
// to, but excluding, the root.
func copath(l LeafIndex, size LeafCount) ([]NodeIndex, error) {
	n := toNodeIndex(l)
	if !inTree(n, size) {
		return nil, fmt.Errorf("copath(%d, %d): %w", l, size, ErrLeafNotInTree)
	}
	dp, err := leafDirectPath(l, size)
	if err != nil {
		return nil, err
	}
	nodes := []NodeIndex{n}
	if len(dp) > 0 {
		nodes = append(nodes, dp[:len(dp)-1]...)
	}
	out := make([]NodeIndex, 0, len(nodes))
	for _, node := range nodes {
		s, err := sibling(node, size)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// inPath reports whether y lies on the direct path from x to the root
// (equivalently, x is a descendant of y or x == y).
func inPath(x, y NodeIndex) bool {
	lx, ly := level(x), level(y)
	return lx <= ly && uint32(x)>>(ly+1) == uint32(y)>>(ly+1)
}

// commonAncestor returns the lowest node that is an ancestor of both l
// and r (the "full ancestor" of cisco/go-mls's tree-math).
func commonAncestor(l, r NodeIndex) NodeIndex {
	ll, lr := level(l)+1, level(r)+1
	if ll <= lr && uint32(l)>>lr == uint32(r)>>lr {
		return r
	}
	if lr <= ll && uint32(l)>>ll == uint32(r)>>ll {
		return l
	}
	k := uint(0)
	ln, rn := l, r
	for ln != rn {
		ln, rn = ln>>1, rn>>1
		k++
	}
	return NodeIndex((uint32(ln) << k) + (1 << (k - 1)) - 1)
}

// descendantsViaRecursion and descendantsViaIteration are two
// independent derivations of the leaves under n; §8 property 2
// requires they agree.
func descendantsViaRecursion(n NodeIndex, size LeafCount) []LeafIndex {
	if level(n) == 0 {
		l, ok := toLeafIndex(n)
		if !ok {
			return nil
		}
		return []LeafIndex{l}
	}
	out := append(descendantsViaRecursion(left(n), size), descendantsViaRecursion(right(n, size), size)...)
	return out
}

func descendantsViaIteration(n NodeIndex, size LeafCount) []LeafIndex {
	if level(n) == 0 {
		l, ok := toLeafIndex(n)
		if !ok {
			return nil
		}
		return []LeafIndex{l}
	}
	// Iteratively widen a frontier of subtrees until every member is a leaf.
	frontier := []NodeIndex{n}
	out := []LeafIndex{}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if level(cur) == 0 {
			l, _ := toLeafIndex(cur)
			out = append(out, l)
			continue
		}
		frontier = append(frontier, left(cur), right(cur, size))
	}
	return out
}
