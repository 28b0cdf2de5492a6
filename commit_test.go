package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type testMember struct {
	kp       KeyPackage
	initPriv []byte
	sigPriv  []byte
	group    *Group
}

func newTestMember(t *testing.T, provider CryptoProvider, identity string) *testMember {
	t.Helper()
	kp, initPriv, sigPriv := newTestKeyPackage(t, provider, identity)
	return &testMember{kp: kp, initPriv: initPriv, sigPriv: sigPriv}
}

// property 6 — commit-then-stage fixpoint: the committer's merged
// state and the receiver's staged-then-merged state land on identical
// tree hash, transcript hash, and epoch secrets.
func TestCreateCommitStageMergeFixpoint(t *testing.T) {
	provider := DefaultProvider{}

	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("fixpoint-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)
	alice.group = group

	bob := newTestMember(t, provider, "bob")
	_, err = group.ProposeAdd(bob.kp)
	require.NoError(t, err)

	pt, welcome, staged, err := group.CreateCommit(CommitParams{})
	require.NoError(t, err)
	require.NoError(t, group.Merge(staged))

	bobLeafPriv, _, err := provider.HPKEGenerateKeyPair(testSuite)
	require.NoError(t, err)
	bob.group, err = JoinFromWelcome(provider, *welcome, JoinParams{
		InitPriv: bob.initPriv, LeafPriv: bobLeafPriv, SigPriv: bob.sigPriv, KeyPackage: bob.kp,
	})
	require.NoError(t, err)

	require.Equal(t, alice.group.Epoch(), bob.group.Epoch())
	require.Equal(t, alice.group.TreeHash(), bob.group.TreeHash())

	// Now alice force-updates her own path; bob stages and merges the
	// resulting commit independently and must converge again.
	alicePT, _, aliceStaged, err := alice.group.CreateCommit(CommitParams{ForceSelfUpdate: true})
	require.NoError(t, err)
	require.NoError(t, alice.group.Merge(aliceStaged))
	_ = pt

	verifiable, err := NewVerifiableMlsPlaintext(*alicePT)
	require.NoError(t, err)
	alicePub, _, err := alice.kp.Credential.SignaturePublicKey()
	require.NoError(t, err)
	verified, err := verifiable.Verify(provider, testSuite, alicePub)
	require.NoError(t, err)

	bobStaged, err := bob.group.StageCommit(verified, NewProposalQueue(testSuite))
	require.NoError(t, err)
	require.NoError(t, bob.group.Merge(bobStaged))

	require.Equal(t, alice.group.Epoch(), bob.group.Epoch())
	require.Equal(t, alice.group.TreeHash(), bob.group.TreeHash())
	require.Equal(t, alice.group.Secrets.Encryption.Bytes(), bob.group.Secrets.Encryption.Bytes())
	require.Equal(t, alice.group.Secrets.Exporter.Bytes(), bob.group.Secrets.Exporter.Bytes())
	require.Equal(t, alice.group.Context.ConfirmedTranscriptHash, bob.group.Context.ConfirmedTranscriptHash)
}

// property 7 — a CreateCommit that fails partway must not have
// mutated the live group's tree, context, or epoch: CreateCommit
// always builds on a clone, so a bad PSK fetcher failing never
// corrupts the caller's retained state.
func TestCreateCommitFailureLeavesGroupUntouched(t *testing.T) {
	provider := DefaultProvider{}
	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("atomic-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)

	beforeEpoch := group.Epoch()
	beforeTreeHash := group.TreeHash()

	wantErr := ErrCrypto
	_, _, _, err = group.CreateCommit(CommitParams{
		InlineProposals: []Proposal{{
			ProposalType: ProposalTypePreSharedKey,
			PreSharedKey: &PreSharedKeyProposal{PSK: PreSharedKeyID{ID: []byte("missing")}},
		}},
		PSKFetcher: func(PreSharedKeyID) (Secret, error) { return Secret{}, wantErr },
	})
	require.ErrorIs(t, err, wantErr)

	require.Equal(t, beforeEpoch, group.Epoch())
	require.Equal(t, beforeTreeHash, group.TreeHash())
}

// property 8 — after a commit that adds a path, every non-blank
// parent's recorded parent-hash still verifies against the node above
// it.
func TestCommitProducesVerifiableParentHashes(t *testing.T) {
	provider := DefaultProvider{}
	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("parent-hash-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)

	bob := newTestMember(t, provider, "bob")
	_, err = group.ProposeAdd(bob.kp)
	require.NoError(t, err)

	_, _, staged, err := group.CreateCommit(CommitParams{ForceSelfUpdate: true})
	require.NoError(t, err)
	require.NoError(t, group.Merge(staged))
	require.NoError(t, group.Tree.VerifyParentHashes())
}

// A commit that removes a member blanks that member's leaf; the leaf
// count reported by MemberCount does not shrink.
func TestCommitRemovesMember(t *testing.T) {
	provider := DefaultProvider{}
	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("remove-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)

	bob := newTestMember(t, provider, "bob")
	_, err = group.ProposeAdd(bob.kp)
	require.NoError(t, err)
	_, _, staged, err := group.CreateCommit(CommitParams{})
	require.NoError(t, err)
	require.NoError(t, group.Merge(staged))
	require.Equal(t, 2, group.MemberCount())

	_, err = group.ProposeRemove(1)
	require.NoError(t, err)
	_, _, staged, err = group.CreateCommit(CommitParams{})
	require.NoError(t, err)
	require.NoError(t, group.Merge(staged))

	_, ok := group.Tree.leafAt(1)
	require.False(t, ok)
}

// A member cannot remove itself: CreateCommit rejects a Remove
// proposal whose target is the proposing member's own leaf.
func TestCreateCommitRejectsSelfRemoval(t *testing.T) {
	provider := DefaultProvider{}
	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("self-remove-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)

	bob := newTestMember(t, provider, "bob")
	_, err = group.ProposeAdd(bob.kp)
	require.NoError(t, err)
	_, _, staged, err := group.CreateCommit(CommitParams{})
	require.NoError(t, err)
	require.NoError(t, group.Merge(staged))

	_, err = group.ProposeRemove(group.OwnLeafIndex())
	require.NoError(t, err)

	_, _, _, err = group.CreateCommit(CommitParams{})
	require.ErrorIs(t, err, ErrSelfRemoval)
}

// Merging a commit based on a stale epoch is rejected rather than
// silently clobbering newer state.
func TestMergeRejectsStaleEpoch(t *testing.T) {
	provider := DefaultProvider{}
	alice := newTestMember(t, provider, "alice")
	group, err := NewGroup(provider, testSuite, []byte("stale-group"), alice.kp, alice.sigPriv)
	require.NoError(t, err)

	bob := newTestMember(t, provider, "bob")
	_, err = group.ProposeAdd(bob.kp)
	require.NoError(t, err)
	_, _, firstStaged, err := group.CreateCommit(CommitParams{ForceSelfUpdate: true})
	require.NoError(t, err)

	// Advance the group past firstStaged's base epoch via a second
	// self-update commit (which also carries the pending Add) before
	// trying to merge the stale one.
	_, _, otherStaged, err := group.CreateCommit(CommitParams{ForceSelfUpdate: true})
	require.NoError(t, err)
	require.NoError(t, group.Merge(otherStaged))

	err = group.Merge(firstStaged)
	require.ErrorIs(t, err, ErrStaleEpoch)
}
