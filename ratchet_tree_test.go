package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTreeKeyPackage(t *testing.T, provider CryptoProvider, identity string) (KeyPackage, []byte) {
	t.Helper()
	kp, initPriv, _ := newTestKeyPackage(t, provider, identity)
	return kp, initPriv
}

// A freshly built two-leaf tree has no blank leaves; every leaf's
// resolution is itself, and the parent's resolution is both leaves.
func TestResolutionTwoLeaves(t *testing.T) {
	provider := DefaultProvider{}
	aliceKP, aliceLeafPriv := newTreeKeyPackage(t, provider, "alice")
	tree := NewRatchetTree(testSuite, aliceKP, aliceLeafPriv)

	bobKP, _ := newTreeKeyPackage(t, provider, "bob")
	tree.AddNodes([]KeyPackage{bobKP})

	require.Equal(t, []NodeIndex{0}, tree.resolution(0))
	require.Equal(t, []NodeIndex{2}, tree.resolution(2))
	// The parent at index 1 is blank until EncryptPath fills it, so its
	// resolution is the union of its two non-blank leaf children.
	require.Equal(t, []NodeIndex{0, 2}, tree.resolution(1))
}

// tree_hash is a pure function of node content: hashing an unchanged
// tree twice gives the same hash, and removing a member after an Add
// changes it.
func TestTreeHashChangesOnMembershipChange(t *testing.T) {
	provider := DefaultProvider{}
	aliceKP, aliceLeafPriv := newTreeKeyPackage(t, provider, "alice")
	tree := NewRatchetTree(testSuite, aliceKP, aliceLeafPriv)

	h0, err := tree.TreeHash()
	require.NoError(t, err)
	h0Again, err := tree.TreeHash()
	require.NoError(t, err)
	require.Equal(t, h0, h0Again)

	bobKP, _ := newTreeKeyPackage(t, provider, "bob")
	tree.AddNodes([]KeyPackage{bobKP})
	h1, err := tree.TreeHash()
	require.NoError(t, err)
	require.NotEqual(t, h0, h1)

	require.NoError(t, tree.Remove(1))
	h2, err := tree.TreeHash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h2)
}

// EncryptPath from alice must be decryptable by bob, both deriving the
// same chain of path secrets and agreeing on the resulting public
// keys and parent hashes.
func TestEncryptDecryptPathRoundTrip(t *testing.T) {
	provider := DefaultProvider{}
	aliceKP, aliceLeafPriv := newTreeKeyPackage(t, provider, "alice")
	aliceTree := NewRatchetTree(testSuite, aliceKP, aliceLeafPriv)

	bobKP, bobLeafPriv := newTreeKeyPackage(t, provider, "bob")
	aliceTree.AddNodes([]KeyPackage{bobKP})

	bobTree := &RatchetTree{Suite: testSuite, Nodes: append([]Node{}, aliceTree.Nodes...), Size: aliceTree.Size, priv: NewPrivateTree(1, bobLeafPriv)}

	pathSecret, err := RandomSecret(testSuite, ProtocolVersionMLS10, provider)
	require.NoError(t, err)
	groupContext := []byte("test-context")

	up, aliceSecrets, err := aliceTree.EncryptPath(provider, 0, pathSecret, groupContext, nil)
	require.NoError(t, err)
	require.NoError(t, aliceTree.VerifyParentHashes())

	bobTree.Nodes = append([]Node{}, aliceTree.Nodes...)
	bobSecrets, err := bobTree.DecryptPath(provider, up, 0, groupContext)
	require.NoError(t, err)

	require.Equal(t, aliceSecrets[len(aliceSecrets)-1].Bytes(), bobSecrets[len(bobSecrets)-1].Bytes())
	require.NoError(t, bobTree.VerifyParentHashes())
}

// Excluded leaves still get an aligned (empty) ciphertext slot so
// resolution-order indices match for every receiver, regardless of
// who was excluded.
func TestEncryptPathExcludedLeafPlaceholder(t *testing.T) {
	provider := DefaultProvider{}
	aliceKP, aliceLeafPriv := newTreeKeyPackage(t, provider, "alice")
	tree := NewRatchetTree(testSuite, aliceKP, aliceLeafPriv)

	bobKP, _ := newTreeKeyPackage(t, provider, "bob")
	carolKP, _ := newTreeKeyPackage(t, provider, "carol")
	tree.AddNodes([]KeyPackage{bobKP, carolKP})

	pathSecret, err := RandomSecret(testSuite, ProtocolVersionMLS10, provider)
	require.NoError(t, err)

	up, _, err := tree.EncryptPath(provider, 0, pathSecret, nil, map[LeafIndex]bool{1: true})
	require.NoError(t, err)

	sawEmptySlot := false
	for _, node := range up.Nodes {
		require.NotEmpty(t, node.EncryptedPathSecret, "resolution slots must stay aligned even with an excluded leaf")
		for _, ct := range node.EncryptedPathSecret {
			if ct.empty() {
				sawEmptySlot = true
			}
		}
	}
	require.True(t, sawEmptySlot, "excluded leaf's resolution slot should be an empty placeholder, not omitted")
}
