package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewGroupSingleMember(t *testing.T) {
	provider := DefaultProvider{}
	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("solo-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)

	require.Equal(t, uint64(0), group.Epoch())
	require.Equal(t, 1, group.MemberCount())
	require.Equal(t, LeafIndex(0), group.OwnLeafIndex())
	require.Equal(t, []byte("solo-group"), group.GroupID())
}

// Persisting and reloading a group must reproduce the same tree and
// epoch secrets; the caller re-supplies its own signature key and
// credential since Marshal never stores them.
func TestGroupMarshalRoundTrip(t *testing.T) {
	provider := DefaultProvider{}
	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("persist-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)

	bob := newTestMember(t, provider, "bob")
	_, err = group.ProposeAdd(bob.kp)
	require.NoError(t, err)
	_, _, staged, err := group.CreateCommit(CommitParams{})
	require.NoError(t, err)
	require.NoError(t, group.Merge(staged))

	data, err := group.Marshal()
	require.NoError(t, err)

	reloaded, err := UnmarshalGroupState(provider, testSuite, data, alice.sigPriv, alice.kp.Credential)
	require.NoError(t, err)

	require.Equal(t, group.Epoch(), reloaded.Epoch())
	require.Equal(t, group.MemberCount(), reloaded.MemberCount())
	require.Equal(t, group.TreeHash(), reloaded.TreeHash())
	require.Equal(t, group.Secrets.Encryption.Bytes(), reloaded.Secrets.Encryption.Bytes())
	require.Equal(t, group.Secrets.Exporter.Bytes(), reloaded.Secrets.Exporter.Bytes())
}

// Proposing and then committing without any proposals queued produces
// a no-op-shaped commit: no path is generated unless ForceSelfUpdate
// is set, since the tree was not touched.
func TestCreateCommitNoOpWithoutProposals(t *testing.T) {
	provider := DefaultProvider{}
	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("noop-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)

	pt, welcome, staged, err := group.CreateCommit(CommitParams{})
	require.NoError(t, err)
	require.Nil(t, welcome)
	require.Nil(t, pt.Content.Commit.Path)
	require.NoError(t, group.Merge(staged))
	require.Equal(t, uint64(1), group.Epoch())
}
