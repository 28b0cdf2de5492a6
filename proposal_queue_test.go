package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testSuite = X25519_AES128GCM_SHA256_Ed25519

func addProposalFor(identity string) Proposal {
	return Proposal{
		ProposalType: ProposalTypeAdd,
		Add: &AddProposal{KeyPackage: KeyPackage{
			Version:     ProtocolVersionMLS10,
			CipherSuite: testSuite,
			InitKey:     []byte("init-" + identity),
			Credential: Credential{
				CredentialType: CredentialTypeBasic,
				Basic:          &BasicCredential{Identity: []byte(identity), SignatureScheme: SignatureEd25519, PublicKey: []byte("pub-" + identity)},
			},
		}},
	}
}

// S3 — round-trip Remove proposal.
func TestRoundTripRemoveProposal(t *testing.T) {
	p := Proposal{ProposalType: ProposalTypeRemove, Remove: &RemoveProposal{Removed: 123}}
	enc, err := marshal(ProposalOrRef{Type: ProposalOrRefTypeProposal, Proposal: &p})
	require.NoError(t, err)

	var decoded ProposalOrRef
	require.NoError(t, unmarshalExact(enc, &decoded))
	require.Equal(t, ProposalOrRefTypeProposal, decoded.Type)
	require.NotNil(t, decoded.Proposal.Remove)
	require.Equal(t, LeafIndex(123), decoded.Proposal.Remove.Removed)
}

// S6 — proposal order: [alice_add, bob_add] iterates alice then bob;
// committed [Proposal(bob_add), Ref(alice_add)] against
// {alice_add, bob_add} iterates bob then alice.
func TestProposalOrder(t *testing.T) {
	aliceAdd := addProposalFor("alice")
	bobAdd := addProposalFor("bob")

	byRef, err := FromProposalsByReference(testSuite, []Proposal{aliceAdd, bobAdd}, MemberSender(0))
	require.NoError(t, err)
	all := byRef.All()
	require.Len(t, all, 2)
	require.Equal(t, []byte("alice"), all[0].Add.KeyPackage.Credential.Basic.Identity)
	require.Equal(t, []byte("bob"), all[1].Add.KeyPackage.Credential.Basic.Identity)

	aliceRef, err := NewProposalReference(testSuite, aliceAdd)
	require.NoError(t, err)

	committed := []ProposalOrRef{
		{Type: ProposalOrRefTypeProposal, Proposal: &bobAdd},
		{Type: ProposalOrRefTypeReference, Reference: &aliceRef},
	}
	resolved, err := FromCommittedProposals(testSuite, committed, byRef, MemberSender(0))
	require.NoError(t, err)
	resolvedAll := resolved.All()
	require.Len(t, resolvedAll, 2)
	require.Equal(t, []byte("bob"), resolvedAll[0].Add.KeyPackage.Credential.Basic.Identity)
	require.Equal(t, []byte("alice"), resolvedAll[1].Add.KeyPackage.Credential.Basic.Identity)
}

func TestFromCommittedProposalsUnresolvedReference(t *testing.T) {
	available := NewProposalQueue(testSuite)
	missing := ProposalReference{Hash: []byte("does-not-exist")}
	_, err := FromCommittedProposals(testSuite, []ProposalOrRef{{Type: ProposalOrRefTypeReference, Reference: &missing}}, available, MemberSender(0))
	require.ErrorIs(t, err, ErrProposalNotFound)
}

func TestProposalQueueDeduplicatesByReference(t *testing.T) {
	add := addProposalFor("carol")
	q, err := FromProposalsByReference(testSuite, []Proposal{add, add}, MemberSender(0))
	require.NoError(t, err)
	require.Equal(t, 1, q.Len())
}
