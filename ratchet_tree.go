package mls

import (
	"bytes"
	"fmt"

	syntax "github.com/cisco/go-tls-syntax"
)

// PrivateTree holds the local member's own HPKE private keys: its own
// leaf's init private key, plus whatever ancestor private keys it has
// derived so far (from its own commits or from decrypting others').
type PrivateTree struct {
	Index       LeafIndex
	leafPriv    []byte
	ancestorKey map[NodeIndex][]byte
}

func NewPrivateTree(index LeafIndex, leafPriv []byte) *PrivateTree {
	return &PrivateTree{Index: index, leafPriv: dup(leafPriv), ancestorKey: map[NodeIndex][]byte{}}
}

func (pt *PrivateTree) setAncestorKey(n NodeIndex, priv []byte) {
	pt.ancestorKey[n] = dup(priv)
}

func (pt *PrivateTree) privateKeyFor(n NodeIndex) ([]byte, bool) {
	if n == toNodeIndex(pt.Index) {
		return pt.leafPriv, pt.leafPriv != nil
	}
	k, ok := pt.ancestorKey[n]
	return k, ok
}

// UpdatePathNode is one entry of an UpdatePath: the fresh public key
// for an ancestor node, plus the path secret re-encrypted to every
// member of that ancestor's copath resolution (in resolution order;
// an excluded leaf's slot is an empty placeholder so indices still
// line up for every receiver).
type UpdatePathNode struct {
	PublicKey           []byte           `tls:"head=2"`
	EncryptedPathSecret []HPKECiphertextWire `tls:"head=4"`
}

// HPKECiphertextWire is the wire form of an HPKECiphertext.
type HPKECiphertextWire struct {
	KEMOutput  []byte `tls:"head=2"`
	Ciphertext []byte `tls:"head=2"`
}

func toWire(c HPKECiphertext) HPKECiphertextWire {
	return HPKECiphertextWire{KEMOutput: c.Enc, Ciphertext: c.Ciphertext}
}
func fromWire(c HPKECiphertextWire) HPKECiphertext {
	return HPKECiphertext{Enc: c.KEMOutput, Ciphertext: c.Ciphertext}
}
func (c HPKECiphertextWire) empty() bool { return len(c.Ciphertext) == 0 && len(c.KEMOutput) == 0 }

// UpdatePath is the sender's fresh direct path, as placed into a
// Commit.
type UpdatePath struct {
	LeafKeyPackage KeyPackage
	Nodes          []UpdatePathNode `tls:"head=4"`
}

// RatchetTree is the ordered sequence of 2*L-1 nodes (leaves first
// numbered by even index) plus, for the local member, a PrivateTree.
type RatchetTree struct {
	Suite CipherSuite
	Nodes []Node
	Size  LeafCount
	priv  *PrivateTree
}

// NewRatchetTree builds the single-leaf tree containing only the
// creator, whose leaf is never blank (spec.md §3 invariant b).
func NewRatchetTree(suite CipherSuite, kp KeyPackage, leafPriv []byte) *RatchetTree {
	return &RatchetTree{
		Suite: suite,
		Nodes: []Node{LeafNode(kp)},
		Size:  1,
		priv:  NewPrivateTree(0, leafPriv),
	}
}

func (rt *RatchetTree) LeafCount() LeafCount { return rt.Size }
func (rt *RatchetTree) OwnIndex() LeafIndex  { return rt.priv.Index }
func (rt *RatchetTree) Private() *PrivateTree { return rt.priv }

func (rt *RatchetTree) nodeAt(n NodeIndex) Node {
	if int(n) >= len(rt.Nodes) {
		return BlankNode()
	}
	return rt.Nodes[n]
}

func (rt *RatchetTree) leafAt(l LeafIndex) (KeyPackage, bool) {
	n := rt.nodeAt(toNodeIndex(l))
	if n.NodeType != NodeTypeLeaf {
		return KeyPackage{}, false
	}
	return *n.Leaf, true
}

// Clone returns a deep copy, used so commit creation/staging mutate a
// scratch tree and leave the caller's state untouched until merge.
func (rt *RatchetTree) Clone() *RatchetTree {
	nodes := make([]Node, len(rt.Nodes))
	for i, n := range rt.Nodes {
		switch n.NodeType {
		case NodeTypeLeaf:
			nodes[i] = LeafNode(*n.Leaf)
		case NodeTypeParent:
			nodes[i] = ParentNodeOf(ParentNode{
				PublicKey:      dup(n.Parent.PublicKey),
				UnmergedLeaves: append([]LeafIndex(nil), n.Parent.UnmergedLeaves...),
				ParentHash:     dup(n.Parent.ParentHash),
			})
		default:
			nodes[i] = n
		}
	}
	clonedPriv := &PrivateTree{Index: rt.priv.Index, leafPriv: dup(rt.priv.leafPriv), ancestorKey: map[NodeIndex][]byte{}}
	for k, v := range rt.priv.ancestorKey {
		clonedPriv.ancestorKey[k] = dup(v)
	}
	return &RatchetTree{Suite: rt.Suite, Nodes: nodes, Size: rt.Size, priv: clonedPriv}
}

// publicKeyFor returns the bytes an HPKE seal to this node should
// target: a leaf's init key, or a parent's public key.
func (rt *RatchetTree) publicKeyFor(n NodeIndex) ([]byte, error) {
	node := rt.nodeAt(n)
	switch node.NodeType {
	case NodeTypeLeaf:
		return node.Leaf.InitKey, nil
	case NodeTypeParent:
		return node.Parent.PublicKey, nil
	default:
		return nil, fmt.Errorf("%w: blank node has no public key", ErrInvalidTree)
	}
}

// resolution returns the set of non-blank nodes an encryptor must
// target to reach every member of the subtree rooted at n: the node
// itself (plus its unmerged leaves) if non-blank, else the union of
// its children's resolutions.
func (rt *RatchetTree) resolution(n NodeIndex) []NodeIndex {
	node := rt.nodeAt(n)
	switch node.NodeType {
	case NodeTypeLeaf:
		return []NodeIndex{n}
	case NodeTypeParent:
		out := []NodeIndex{n}
		for _, l := range node.Parent.UnmergedLeaves {
			out = append(out, toNodeIndex(l))
		}
		return out
	default: // blank
		if level(n) == 0 {
			return nil
		}
		out := append(rt.resolution(left(n)), rt.resolution(right(n, rt.Size))...)
		return out
	}
}

func ensureWidth(nodes []Node, width int) []Node {
	for len(nodes) < width {
		nodes = append(nodes, BlankNode())
	}
	return nodes
}

// AddNodes fills blank leaves left-to-right, then extends the tree;
// each new leaf's index is recorded in the unmerged-leaves list of
// every non-blank parent on its direct path.
func (rt *RatchetTree) AddNodes(kps []KeyPackage) []LeafIndex {
	added := make([]LeafIndex, 0, len(kps))
	for _, kp := range kps {
		idx := rt.addOne(kp)
		added = append(added, idx)
	}
	return added
}

func (rt *RatchetTree) addOne(kp KeyPackage) LeafIndex {
	// Find first blank leaf.
	for l := LeafIndex(0); uint32(l) < uint32(rt.Size); l++ {
		if rt.nodeAt(toNodeIndex(l)).IsBlank() {
			rt.setLeaf(l, kp)
			rt.markUnmerged(l)
			return l
		}
	}
	// Extend: add one new leaf at the end. The
	// left-balanced layout grows one leaf (two node slots) at a time.
	newSize := rt.Size + 1
	rt.Nodes = ensureWidth(rt.Nodes, int(nodeWidth(newSize)))
	rt.Size = newSize
	l := LeafIndex(newSize - 1)
	rt.setLeaf(l, kp)
	rt.markUnmerged(l)
	return l
}

func (rt *RatchetTree) setLeaf(l LeafIndex, kp KeyPackage) {
	n := toNodeIndex(l)
	if int(n) >= len(rt.Nodes) {
		rt.Nodes = ensureWidth(rt.Nodes, int(n)+1)
	}
	rt.Nodes[n] = LeafNode(kp)
}

func (rt *RatchetTree) markUnmerged(l LeafIndex) {
	dp, err := leafDirectPath(l, rt.Size)
	if err != nil {
		return
	}
	for _, anc := range dp {
		node := rt.nodeAt(anc)
		if node.NodeType == NodeTypeParent {
			node.Parent.UnmergedLeaves = append(node.Parent.UnmergedLeaves, l)
			rt.Nodes[anc] = node
		}
	}
}

// Remove blanks the leaf and every node on its direct path.
func (rt *RatchetTree) Remove(l LeafIndex) error {
	n := toNodeIndex(l)
	if !inTree(n, rt.Size) {
		return fmt.Errorf("%w: remove leaf %d", ErrLeafNotInTree, l)
	}
	rt.Nodes[n] = BlankNode()
	dp, err := leafDirectPath(l, rt.Size)
	if err != nil {
		return err
	}
	for _, anc := range dp {
		rt.Nodes[anc] = BlankNode()
	}
	return nil
}

// Update replaces leaf's KeyPackage and blanks its direct path (the
// member picks a fresh path on its own next commit).
func (rt *RatchetTree) Update(l LeafIndex, kp KeyPackage) error {
	n := toNodeIndex(l)
	if !inTree(n, rt.Size) {
		return fmt.Errorf("%w: update leaf %d", ErrLeafNotInTree, l)
	}
	rt.Nodes[n] = LeafNode(kp)
	dp, err := leafDirectPath(l, rt.Size)
	if err != nil {
		return err
	}
	for _, anc := range dp {
		rt.Nodes[anc] = BlankNode()
	}
	return nil
}

// leafNodeHashInput / parentNodeHashInput are the TLS structs tree_hash
// hashes at each level (spec.md §4.3).
type leafNodeHashInput struct {
	NodeIndex  NodeIndex
	HasLeaf    bool
	KeyPackage *KeyPackage `tls:"optional"`
}

type parentNodeHashInputWire struct {
	NodeIndex  NodeIndex
	HasParent  bool
	Parent     *ParentNode `tls:"optional"`
	LeftHash   []byte      `tls:"head=1"`
	RightHash  []byte      `tls:"head=1"`
}

// TreeHash is a pure function of the node sequence: H(leaf_node_hash)
// for leaves, H(parent_node_hash, left_hash, right_hash) for parents.
func (rt *RatchetTree) TreeHash() ([]byte, error) {
	return rt.subtreeHash(root(rt.Size))
}

func (rt *RatchetTree) subtreeHash(n NodeIndex) ([]byte, error) {
	node := rt.nodeAt(n)
	if level(n) == 0 {
		var kp *KeyPackage
		has := node.NodeType == NodeTypeLeaf
		if has {
			kp = node.Leaf
		}
		enc, err := syntax.Marshal(leafNodeHashInput{NodeIndex: n, HasLeaf: has, KeyPackage: kp})
		if err != nil {
			return nil, err
		}
		return rt.Suite.Hash(enc), nil
	}

	lh, err := rt.subtreeHash(left(n))
	if err != nil {
		return nil, err
	}
	rh, err := rt.subtreeHash(right(n, rt.Size))
	if err != nil {
		return nil, err
	}
	var p *ParentNode
	has := node.NodeType == NodeTypeParent
	if has {
		p = node.Parent
	}
	enc, err := syntax.Marshal(parentNodeHashInputWire{NodeIndex: n, HasParent: has, Parent: p, LeftHash: lh, RightHash: rh})
	if err != nil {
		return nil, err
	}
	return rt.Suite.Hash(enc), nil
}

// parentHashInput is what a ParentNode.ParentHash commits to: the
// public key of the node above, its own parent-hash, and the tree
// hash of the sibling not on the path toward this node.
type parentHashInput struct {
	PublicKey     []byte `tls:"head=2"`
	ParentHash    []byte `tls:"head=1"`
	SiblingHash   []byte `tls:"head=1"`
}

func (rt *RatchetTree) computeParentHash(aboveKey, aboveParentHash, siblingHash []byte) []byte {
	enc, _ := syntax.Marshal(parentHashInput{PublicKey: aboveKey, ParentHash: aboveParentHash, SiblingHash: siblingHash})
	return rt.Suite.Hash(enc)
}

// VerifyParentHashes checks, for every non-blank parent P with a
// non-blank child C on the direct path to a populated leaf, that
// C's recorded parent_hash equals H(P.public_key, P.parent_hash,
// tree_hash(sibling(C))).
func (rt *RatchetTree) VerifyParentHashes() error {
	w := nodeWidth(rt.Size)
	for n := NodeIndex(0); uint32(n) < w; n++ {
		node := rt.nodeAt(n)
		if node.NodeType != NodeTypeParent {
			continue
		}
		for _, childSel := range []NodeIndex{left(n), right(n, rt.Size)} {
			child := rt.nodeAt(childSel)
			if child.NodeType != NodeTypeParent {
				continue
			}
			sib, err := sibling(childSel, rt.Size)
			if err != nil {
				return err
			}
			sibHash, err := rt.subtreeHash(sib)
			if err != nil {
				return err
			}
			want := rt.computeParentHash(node.Parent.PublicKey, node.Parent.ParentHash, sibHash)
			if !bytes.Equal(child.Parent.ParentHash, want) {
				return fmt.Errorf("%w: node %d", ErrParentHashMismatch, childSel)
			}
		}
	}
	return nil
}

// EncryptPath derives a fresh path secret chain from pathSecret along
// from's direct path, an HPKE keypair per ancestor, and encrypts each
// step to the resolution of the corresponding copath node (skipping
// leaves named in excluded — an empty wire ciphertext is emitted in
// their slot so resolution-order indices still line up for decrypt).
// It also updates the ParentNode entries in the tree and the local
// PrivateTree with the freshly derived keys.
func (rt *RatchetTree) EncryptPath(provider CryptoProvider, from LeafIndex, pathSecret Secret, groupContext []byte, excluded map[LeafIndex]bool) (*UpdatePath, []Secret, error) {
	dp, err := leafDirectPath(from, rt.Size)
	if err != nil {
		return nil, nil, err
	}
	cp, err := copath(from, rt.Size)
	if err != nil {
		return nil, nil, err
	}
	if len(dp) != len(cp) {
		return nil, nil, fmt.Errorf("%w: direct path / copath length mismatch", ErrInvalidTree)
	}

	secrets := make([]Secret, len(dp))
	nodesOut := make([]UpdatePathNode, len(dp))
	cur := pathSecret
	for i, ancestor := range dp {
		if i > 0 {
			cur, err = deriveSecret(provider, rt.Suite, cur, "path", nil)
			if err != nil {
				return nil, nil, err
			}
		}
		secrets[i] = cur

		priv, pub, err := provider.HPKEDeriveKeyPair(rt.Suite, cur.Bytes())
		if err != nil {
			return nil, nil, fmt.Errorf("%w: derive path keypair", ErrCrypto)
		}

		// Update the tree node and our own private tree immediately so
		// tree_hash/verify_parent_hashes below see the new state.
		parentHashAbove := []byte{}
		rt.Nodes[ancestor] = ParentNodeOf(ParentNode{PublicKey: pub, UnmergedLeaves: nil, ParentHash: parentHashAbove})
		rt.priv.setAncestorKey(ancestor, priv)

		res := rt.resolution(cp[i])
		cts := make([]HPKECiphertextWire, len(res))
		for j, target := range res {
			if tl, ok := toLeafIndex(target); ok && excluded[tl] {
				continue // empty placeholder preserves index alignment
			}
			pubTarget, err := rt.publicKeyFor(target)
			if err != nil {
				continue
			}
			ct, err := provider.HPKESeal(rt.Suite, pubTarget, nil, groupContext, cur.Bytes())
			if err != nil {
				return nil, nil, fmt.Errorf("%w: seal path secret", ErrCrypto)
			}
			cts[j] = toWire(ct)
		}
		nodesOut[i] = UpdatePathNode{PublicKey: pub, EncryptedPathSecret: cts}
	}

	// Now that every ancestor's public key is final, chain the parent
	// hashes top-down: root has no parent hash; each node below commits
	// to the node above it.
	rt.recomputeParentHashesAlong(dp)

	leafKP, ok := rt.leafAt(from)
	if !ok {
		return nil, nil, fmt.Errorf("%w: sender leaf is blank", ErrInvalidTree)
	}
	return &UpdatePath{LeafKeyPackage: leafKP, Nodes: nodesOut}, secrets, nil
}

// recomputeParentHashesAlong fills in ParentHash for each node in dp
// (ordered leaf-to-root) from the node above it, and for the leaf
// itself via its KeyPackage's parent-hash extension is out of scope
// here — only the parent/parent chain is chained, matching spec.md
// §3 invariant (e): "each non-blank parent's parent-hash equals the
// hash derived from the next parent up the direct path."
func (rt *RatchetTree) recomputeParentHashesAlong(dp []NodeIndex) {
	for i := len(dp) - 1; i >= 0; i-- {
		n := dp[i]
		node := rt.nodeAt(n)
		if node.NodeType != NodeTypeParent {
			continue
		}
		if i == len(dp)-1 {
			node.Parent.ParentHash = []byte{}
			rt.Nodes[n] = node
			continue
		}
		above := rt.nodeAt(dp[i+1])
		aboveParentHash := []byte{}
		if above.NodeType == NodeTypeParent {
			aboveParentHash = above.Parent.ParentHash
		}
		childSel, _ := sibling(n, rt.Size) // sibling subtree not on path toward n from above
		sibHash, err := rt.subtreeHash(childSel)
		if err != nil {
			continue
		}
		var aboveKey []byte
		if above.NodeType == NodeTypeParent {
			aboveKey = above.Parent.PublicKey
		}
		node.Parent.ParentHash = rt.computeParentHash(aboveKey, aboveParentHash, sibHash)
		rt.Nodes[n] = node
	}
}

// DecryptPath is the inverse of EncryptPath for a receiving member: it
// locates the highest point in the sender's direct path the receiver
// can decrypt (its own leaf or a previously learned ancestor key),
// opens that path secret, and re-derives the rest of the chain up to
// the root, validating every derived public key against the sender's
// published UpdatePath. It then installs the UpdatePath's public keys
// on the sender's direct path and recomputes their parent hashes.
func (rt *RatchetTree) DecryptPath(provider CryptoProvider, up *UpdatePath, senderLeaf LeafIndex, groupContext []byte) ([]Secret, error) {
	dp, err := leafDirectPath(senderLeaf, rt.Size)
	if err != nil {
		return nil, err
	}
	cp, err := copath(senderLeaf, rt.Size)
	if err != nil {
		return nil, err
	}
	if len(dp) != len(up.Nodes) {
		return nil, fmt.Errorf("%w: update path length mismatch", ErrInvalidTree)
	}

	myNode := toNodeIndex(rt.priv.Index)
	overlap := -1
	for i, c := range cp {
		if myNode == c || inPath(myNode, c) {
			overlap = i
			break
		}
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: receiver not covered by update path", ErrInvalidTree)
	}

	res := rt.resolution(cp[overlap])
	cts := up.Nodes[overlap].EncryptedPathSecret
	if len(res) != len(cts) {
		return nil, fmt.Errorf("%w: resolution / ciphertext length mismatch", ErrInvalidTree)
	}

	var startSecret Secret
	found := false
	for j, target := range res {
		priv, ok := rt.priv.privateKeyFor(target)
		if !ok || cts[j].empty() {
			continue
		}
		pt, err := provider.HPKEOpen(rt.Suite, priv, nil, groupContext, fromWire(cts[j]))
		if err != nil {
			return nil, fmt.Errorf("%w: open path secret", ErrCrypto)
		}
		startSecret = NewSecret(rt.Suite, ProtocolVersionMLS10, pt)
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("%w: no decryptable path secret for this receiver", ErrInvalidTree)
	}

	secrets := make([]Secret, len(dp)-overlap)
	secrets[0] = startSecret
	for i := 1; i < len(secrets); i++ {
		secrets[i], err = deriveSecret(provider, rt.Suite, secrets[i-1], "path", nil)
		if err != nil {
			return nil, err
		}
	}

	for i, anc := range dp[overlap:] {
		_, pub, err := provider.HPKEDeriveKeyPair(rt.Suite, secrets[i].Bytes())
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(pub, up.Nodes[overlap+i].PublicKey) {
			return nil, fmt.Errorf("%w: ancestor %d", ErrPublicKeyMismatch, anc)
		}
		priv, _, err := provider.HPKEDeriveKeyPair(rt.Suite, secrets[i].Bytes())
		if err != nil {
			return nil, err
		}
		rt.priv.setAncestorKey(anc, priv)
	}

	for i, anc := range dp {
		rt.Nodes[anc] = ParentNodeOf(ParentNode{PublicKey: dup(up.Nodes[i].PublicKey), UnmergedLeaves: nil, ParentHash: []byte{}})
	}
	rt.recomputeParentHashesAlong(dp)
	return secrets, nil
}

// mergePrivatePath is used by Welcome join step 8: starting from a
// decrypted path_secret at the common ancestor of the joiner and the
// signer, extend the private tree from that ancestor up to the root,
// deriving each next node's secret with "path" and recording each
// node's HPKE private key.
func (rt *RatchetTree) mergePrivatePath(provider CryptoProvider, fromAncestor NodeIndex, secret Secret) error {
	r := root(rt.Size)
	nodes := []NodeIndex{fromAncestor}
	cur := fromAncestor
	for cur != r {
		p, err := parent(cur, rt.Size)
		if err != nil {
			return err
		}
		cur = p
		nodes = append(nodes, cur)
	}
	s := secret
	for i, n := range nodes {
		if i > 0 {
			var err error
			s, err = deriveSecret(provider, rt.Suite, s, "path", nil)
			if err != nil {
				return err
			}
		}
		priv, pub, err := provider.HPKEDeriveKeyPair(rt.Suite, s.Bytes())
		if err != nil {
			return fmt.Errorf("%w: derive ancestor keypair", ErrCrypto)
		}
		node := rt.nodeAt(n)
		if node.NodeType == NodeTypeParent && !bytes.Equal(node.Parent.PublicKey, pub) {
			return fmt.Errorf("%w: ancestor %d", ErrPublicKeyMismatch, n)
		}
		rt.priv.setAncestorKey(n, priv)
	}
	return nil
}
