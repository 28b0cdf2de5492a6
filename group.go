package mls

import "fmt"

// Group ties the ratchet tree, key schedule, transcripts, and secret
// tree together into the single exclusively-mutated unit spec.md §5
// describes ("interior mutability... or an exclusive group reference").
// Every mutating method takes a pointer receiver; there is no internal
// mutex, matching the "ordinary mutable ownership" alternative spec.md
// §9 explicitly permits.
type Group struct {
	Suite    CipherSuite
	provider CryptoProvider

	Tree    *RatchetTree
	Context GroupContext
	Secrets EpochSecrets

	secretTree *SecretTree
	schedule   *KeySchedule

	interimTranscriptHash []byte

	sigPriv    []byte
	credential Credential

	proposals *ProposalQueue

	maxFutureGenerations uint32
}

// NewGroup creates a brand-new single-member group from the creator's
// own signed KeyPackage and signature private key.
func NewGroup(provider CryptoProvider, suite CipherSuite, groupID []byte, creatorKP KeyPackage, sigPriv []byte) (*Group, error) {
	leafPriv, _, err := provider.HPKEGenerateKeyPair(suite)
	if err != nil {
		return nil, fmt.Errorf("%w: generate leaf keypair", ErrCrypto)
	}
	tree := NewRatchetTree(suite, creatorKP, leafPriv)

	g := &Group{
		Suite:                suite,
		provider:             provider,
		Tree:                 tree,
		sigPriv:              dup(sigPriv),
		credential:           creatorKP.Credential,
		proposals:            NewProposalQueue(suite),
		maxFutureGenerations: 1 << 16,
	}

	treeHash, err := tree.TreeHash()
	if err != nil {
		return nil, err
	}
	g.Context = GroupContext{GroupID: dup(groupID), Epoch: 0, TreeHash: treeHash, ConfirmedTranscriptHash: []byte{}}

	joinerSecret, err := RandomSecret(suite, ProtocolVersionMLS10, provider)
	if err != nil {
		return nil, err
	}
	pskSecret := NewSecret(suite, ProtocolVersionMLS10, make([]byte, suite.Constants().SecretSize))

	if err := g.advanceSchedule(joinerSecret, pskSecret); err != nil {
		return nil, err
	}
	g.interimTranscriptHash = []byte{}
	return g, nil
}

func (g *Group) advanceSchedule(joinerSecret, pskSecret Secret) error {
	groupContextBytes, err := marshal(g.Context)
	if err != nil {
		return err
	}
	ks := NewKeySchedule(g.provider, g.Suite)
	if err := ks.Init(joinerSecret, pskSecret); err != nil {
		return err
	}
	if err := ks.AddContext(groupContextBytes); err != nil {
		return err
	}
	secrets, err := ks.ComputeEpochSecrets()
	if err != nil {
		return err
	}
	g.schedule = ks
	g.Secrets = secrets
	g.secretTree = NewSecretTree(g.provider, g.Suite, g.Tree.LeafCount(), secrets.Encryption, g.maxFutureGenerations)
	return nil
}

func (g *Group) Epoch() uint64       { return g.Context.Epoch }
func (g *Group) MemberCount() int    { return int(g.Tree.LeafCount()) }
func (g *Group) OwnLeafIndex() LeafIndex { return g.Tree.OwnIndex() }
func (g *Group) GroupID() []byte     { return dup(g.Context.GroupID) }
func (g *Group) TreeHash() []byte    { return dup(g.Context.TreeHash) }

// ProposeAdd/ProposeUpdate/ProposeRemove append to the group's own
// pending proposal queue for the next commit.
func (g *Group) ProposeAdd(kp KeyPackage) (ProposalReference, error) {
	return g.proposals.Add(Proposal{ProposalType: ProposalTypeAdd, Add: &AddProposal{KeyPackage: kp}}, MemberSender(g.Tree.OwnIndex()))
}

func (g *Group) ProposeRemove(target LeafIndex) (ProposalReference, error) {
	return g.proposals.Add(Proposal{ProposalType: ProposalTypeRemove, Remove: &RemoveProposal{Removed: target}}, MemberSender(g.Tree.OwnIndex()))
}

func (g *Group) ProposeUpdate(kp KeyPackage) (ProposalReference, error) {
	return g.proposals.Add(Proposal{ProposalType: ProposalTypeUpdate, Update: &UpdateProposal{KeyPackage: kp}}, MemberSender(g.Tree.OwnIndex()))
}

// Marshal/UnmarshalGroupState persist the group's (GroupContext,
// RatchetTree, EpochSecrets) unit, the persistable shape spec.md §6
// names; the secret tree is rederived from EpochSecrets.Encryption on
// load rather than persisted directly, and the KeySchedule object is
// not restored.
type groupState struct {
	Context GroupContext
	Nodes   []Node `tls:"head=4"`
	Own     LeafIndex
	Secrets persistedEpochSecrets
}

type persistedEpochSecrets struct {
	Joiner         []byte `tls:"head=1"`
	Welcome        []byte `tls:"head=1"`
	Epoch          []byte `tls:"head=1"`
	SenderData     []byte `tls:"head=1"`
	Encryption     []byte `tls:"head=1"`
	Exporter       []byte `tls:"head=1"`
	Authentication []byte `tls:"head=1"`
	External       []byte `tls:"head=1"`
	Membership     []byte `tls:"head=1"`
	Confirmation   []byte `tls:"head=1"`
	Resumption     []byte `tls:"head=1"`
	Init           []byte `tls:"head=1"`
}

func (g *Group) Marshal() ([]byte, error) {
	s := g.Secrets
	state := groupState{
		Context: g.Context,
		Nodes:   g.Tree.Nodes,
		Own:     g.Tree.OwnIndex(),
		Secrets: persistedEpochSecrets{
			Joiner: s.Joiner.Bytes(), Welcome: s.Welcome.Bytes(), Epoch: s.Epoch.Bytes(),
			SenderData: s.SenderData.Bytes(), Encryption: s.Encryption.Bytes(), Exporter: s.Exporter.Bytes(),
			Authentication: s.Authentication.Bytes(), External: s.External.Bytes(), Membership: s.Membership.Bytes(),
			Confirmation: s.Confirmation.Bytes(), Resumption: s.Resumption.Bytes(), Init: s.Init.Bytes(),
		},
	}
	return marshal(state)
}

// UnmarshalGroupState reconstructs a Group from Marshal's output. The
// caller must supply the provider, suite, own signature private key,
// and credential again — these aren't secret-tree-derivable and
// storing a raw signature private key alongside group state is a
// credential-store policy decision this core doesn't make.
func UnmarshalGroupState(provider CryptoProvider, suite CipherSuite, data []byte, sigPriv []byte, credential Credential) (*Group, error) {
	var state groupState
	if err := unmarshalExact(data, &state); err != nil {
		return nil, err
	}
	tree := &RatchetTree{Suite: suite, Nodes: state.Nodes, Size: LeafCount((len(state.Nodes) + 1) / 2), priv: NewPrivateTree(state.Own, nil)}

	s := state.Secrets
	secrets := EpochSecrets{
		Joiner:         NewSecret(suite, ProtocolVersionMLS10, s.Joiner),
		Welcome:        NewSecret(suite, ProtocolVersionMLS10, s.Welcome),
		Epoch:          NewSecret(suite, ProtocolVersionMLS10, s.Epoch),
		SenderData:     NewSecret(suite, ProtocolVersionMLS10, s.SenderData),
		Encryption:     NewSecret(suite, ProtocolVersionMLS10, s.Encryption),
		Exporter:       NewSecret(suite, ProtocolVersionMLS10, s.Exporter),
		Authentication: NewSecret(suite, ProtocolVersionMLS10, s.Authentication),
		External:       NewSecret(suite, ProtocolVersionMLS10, s.External),
		Membership:     NewSecret(suite, ProtocolVersionMLS10, s.Membership),
		Confirmation:   NewSecret(suite, ProtocolVersionMLS10, s.Confirmation),
		Resumption:     NewSecret(suite, ProtocolVersionMLS10, s.Resumption),
		Init:           NewSecret(suite, ProtocolVersionMLS10, s.Init),
	}

	g := &Group{
		Suite: suite, provider: provider, Tree: tree, Context: state.Context, Secrets: secrets,
		sigPriv: dup(sigPriv), credential: credential, proposals: NewProposalQueue(suite),
		maxFutureGenerations: 1 << 16,
		secretTree:           NewSecretTree(provider, suite, tree.LeafCount(), secrets.Encryption, 1<<16),
	}
	return g, nil
}
