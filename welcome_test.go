package mls

import (
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestKeyPackage(t *testing.T, provider CryptoProvider, identity string) (KeyPackage, []byte, []byte) {
	t.Helper()
	initPriv, initPub, err := provider.HPKEGenerateKeyPair(testSuite)
	require.NoError(t, err)
	sigPub, sigPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	kp := KeyPackage{
		Version:     ProtocolVersionMLS10,
		CipherSuite: testSuite,
		InitKey:     initPub,
		Credential: Credential{
			CredentialType: CredentialTypeBasic,
			Basic: &BasicCredential{
				Identity:        []byte(identity),
				SignatureScheme: SignatureEd25519,
				PublicKey:       []byte(sigPub),
			},
		},
	}
	require.NoError(t, kp.Sign(provider, sigPriv))
	return kp, initPriv, sigPriv
}

// Creator makes a group, adds a second member, and the second member
// joins from the resulting Welcome. Both sides must land on the same
// epoch, tree hash, and epoch secrets.
func TestJoinFromWelcome(t *testing.T) {
	provider := DefaultProvider{}

	aliceKP, _, aliceSigPriv := newTestKeyPackage(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("test-group"), aliceKP, aliceSigPriv)
	require.NoError(t, err)

	bobKP, bobInitPriv, bobSigPriv := newTestKeyPackage(t, provider, "bob")
	_, err = group.ProposeAdd(bobKP)
	require.NoError(t, err)

	_, welcome, staged, err := group.CreateCommit(CommitParams{})
	require.NoError(t, err)
	require.NotNil(t, welcome)

	require.NoError(t, group.Merge(staged))
	require.Equal(t, uint64(1), group.Epoch())
	require.Equal(t, 2, group.MemberCount())

	bobLeafPriv, _, err := provider.HPKEGenerateKeyPair(testSuite)
	require.NoError(t, err)
	joined, err := JoinFromWelcome(provider, *welcome, JoinParams{
		InitPriv:   bobInitPriv,
		LeafPriv:   bobLeafPriv,
		SigPriv:    bobSigPriv,
		KeyPackage: bobKP,
	})
	require.NoError(t, err)

	require.Equal(t, group.Epoch(), joined.Epoch())
	require.Equal(t, group.TreeHash(), joined.TreeHash())
	require.Equal(t, group.Secrets.Encryption.Bytes(), joined.Secrets.Encryption.Bytes())
	require.Equal(t, group.Secrets.Exporter.Bytes(), joined.Secrets.Exporter.Bytes())
}

// S4 — a GroupInfo carrying two ratchet-tree extensions must be
// rejected before any tree state is trusted, even though each copy
// individually decodes fine.
func TestFindRatchetTreeExtensionRejectsDuplicate(t *testing.T) {
	provider := DefaultProvider{}
	aliceKP, _, aliceSigPriv := newTestKeyPackage(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("test-group"), aliceKP, aliceSigPriv)
	require.NoError(t, err)

	rtExt, err := RatchetTreeExtension{Nodes: group.Tree.Nodes}.ToExtension()
	require.NoError(t, err)

	_, err = findRatchetTreeExtension(Extensions{List: []Extension{rtExt}})
	require.NoError(t, err)

	_, err = findRatchetTreeExtension(Extensions{List: []Extension{rtExt, rtExt}})
	require.ErrorIs(t, err, ErrDuplicateRatchetTreeExt)
}

func TestFindRatchetTreeExtensionMissing(t *testing.T) {
	_, err := findRatchetTreeExtension(Extensions{})
	require.ErrorIs(t, err, ErrMissingRatchetTree)
}

// When a GroupInfo carries no ratchet_tree extension at all, the
// joiner falls back to caller-supplied nodes instead of failing
// outright, matching the "none" branch of the three-way extension
// lookup.
func TestRatchetTreeNodesFallsBackToCallerSupplied(t *testing.T) {
	provider := DefaultProvider{}
	aliceKP, _, aliceSigPriv := newTestKeyPackage(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("test-group"), aliceKP, aliceSigPriv)
	require.NoError(t, err)

	nodes, err := ratchetTreeNodes(Extensions{}, group.Tree.Nodes)
	require.NoError(t, err)
	require.Equal(t, group.Tree.Nodes, nodes)

	_, err = ratchetTreeNodes(Extensions{}, nil)
	require.ErrorIs(t, err, ErrMissingRatchetTree)
}
