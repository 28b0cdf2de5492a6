package mls

import "fmt"

// FramingParameters carries the content type and authenticated data a
// Commit's MlsPlaintext wrapper is framed with.
type FramingParameters struct {
	ContentType       ContentType
	AuthenticatedData []byte
}

// CommitParams is the input to CreateCommit (spec.md §4.8 Create).
type CommitParams struct {
	Framing         FramingParameters
	InlineProposals []Proposal
	ProposalRefs    []ProposalReference
	ForceSelfUpdate bool
	PSKFetcher      func(PreSharedKeyID) (Secret, error)
}

// StagedCommit owns a fully-derived next-epoch state that has not yet
// replaced the Group's current state (spec.md §4.8 Stage/Merge split).
type StagedCommit struct {
	baseEpoch             uint64
	Tree                  *RatchetTree
	Context               GroupContext
	Secrets               EpochSecrets
	secretTree            *SecretTree
	interimTranscriptHash []byte
}

// applyProposalsWithSenders builds the (Removes, Updates, Adds)
// effective queue and applies it to treeClone in that order, per step
// 2. Update proposals apply to their sender's own leaf, since an
// Update carries only the replacement KeyPackage, not a leaf index
// (spec.md §4.7 glossary).
func applyProposalsWithSenders(treeClone *RatchetTree, q *ProposalQueue) (touched bool, err error) {
	for _, ref := range q.order {
		e := q.entries[ref]
		if e.proposal.ProposalType != ProposalTypeRemove {
			continue
		}
		if e.sender.SenderType == SenderTypeMember && e.sender.Member != nil &&
			*e.sender.Member == e.proposal.Remove.Removed {
			return false, ErrSelfRemoval
		}
		if err := treeClone.Remove(e.proposal.Remove.Removed); err != nil {
			return false, err
		}
		touched = true
	}
	for _, ref := range q.order {
		e := q.entries[ref]
		if e.proposal.ProposalType != ProposalTypeUpdate {
			continue
		}
		if e.sender.SenderType != SenderTypeMember || e.sender.Member == nil {
			return false, fmt.Errorf("%w: update proposal without member sender", ErrInvalidState)
		}
		if err := treeClone.Update(*e.sender.Member, e.proposal.Update.KeyPackage); err != nil {
			return false, err
		}
		touched = true
	}
	adds := q.FilteredByType(ProposalTypeAdd)
	if len(adds) > 0 {
		kps := make([]KeyPackage, len(adds))
		for i, p := range adds {
			kps[i] = p.Add.KeyPackage
		}
		treeClone.AddNodes(kps)
		touched = true
	}
	return touched, nil
}

// CreateCommit implements spec.md §4.8 Create: it builds the effective
// proposal set, mutates a tree clone, optionally generates a fresh
// path, advances a trial key schedule, computes the confirmation tag,
// and assembles per-Add Welcomes. The Group itself is not mutated;
// call Merge on the returned StagedCommit to adopt the result.
func (g *Group) CreateCommit(params CommitParams) (*MlsPlaintext, *Welcome, *StagedCommit, error) {
	effective, err := g.effectiveQueue(params)
	if err != nil {
		return nil, nil, nil, err
	}

	treeClone := g.Tree.Clone()
	touched, err := applyProposalsWithSenders(treeClone, effective)
	if err != nil {
		return nil, nil, nil, err
	}

	var commitSecret Secret
	var updatePath *UpdatePath
	var pathSecrets []Secret
	if touched || params.ForceSelfUpdate {
		pathSecret, err := RandomSecret(g.Suite, ProtocolVersionMLS10, g.provider)
		if err != nil {
			return nil, nil, nil, err
		}
		provisionalContext, err := marshal(g.Context)
		if err != nil {
			return nil, nil, nil, err
		}
		updatePath, pathSecrets, err = treeClone.EncryptPath(g.provider, treeClone.OwnIndex(), pathSecret, provisionalContext, nil)
		if err != nil {
			return nil, nil, nil, err
		}
		commitSecret = pathSecrets[len(pathSecrets)-1]
	} else {
		commitSecret = NewSecret(g.Suite, ProtocolVersionMLS10, make([]byte, g.Suite.Constants().SecretSize))
	}

	proposalOrRefs := make([]ProposalOrRef, 0, effective.Len())
	for _, key := range effective.order {
		e := effective.entries[key]
		ref := e.reference
		proposalOrRefs = append(proposalOrRefs, ProposalOrRef{Type: ProposalOrRefTypeReference, Reference: &ref})
	}
	commit := Commit{Proposals: proposalOrRefs, Path: updatePath}

	treeHash, err := treeClone.TreeHash()
	if err != nil {
		return nil, nil, nil, err
	}
	sender := MemberSender(g.Tree.OwnIndex())
	plaintext := newPlaintext(g.Context.GroupID, g.Context.Epoch, sender, params.Framing.AuthenticatedData, mlsPlaintextContent{ContentType: ContentTypeCommit, Commit: &commit})

	commitContent, err := NewMlsPlaintextCommitContent(plaintext)
	if err != nil {
		return nil, nil, nil, err
	}
	commitContentBytes, err := marshal(commitContent)
	if err != nil {
		return nil, nil, nil, err
	}
	confirmedTranscriptHash := g.Suite.Hash(append(dup(g.interimTranscriptHash), commitContentBytes...))

	pskSecret := NewSecret(g.Suite, ProtocolVersionMLS10, make([]byte, g.Suite.Constants().SecretSize))
	if params.PSKFetcher != nil {
		for _, p := range effective.FilteredByType(ProposalTypePreSharedKey) {
			psk, err := params.PSKFetcher(p.PreSharedKey.PSK)
			if err != nil {
				return nil, nil, nil, err
			}
			pskSecret, err = hkdfExtract(g.provider, g.Suite, pskSecret, psk)
			if err != nil {
				return nil, nil, nil, err
			}
		}
	}

	newContext := GroupContext{
		GroupID:                 g.Context.GroupID,
		Epoch:                   g.Context.Epoch + 1,
		TreeHash:                treeHash,
		ConfirmedTranscriptHash: confirmedTranscriptHash,
		Extensions:              g.Context.Extensions,
	}
	newContextBytes, err := marshal(newContext)
	if err != nil {
		return nil, nil, nil, err
	}

	ks := NewKeySchedule(g.provider, g.Suite)
	if err := ks.Init(commitSecret, pskSecret); err != nil {
		return nil, nil, nil, err
	}
	if err := ks.AddContext(newContextBytes); err != nil {
		return nil, nil, nil, err
	}
	newSecrets, err := ks.ComputeEpochSecrets()
	if err != nil {
		return nil, nil, nil, err
	}

	confirmationTag, err := ks.ConfirmationTag(confirmedTranscriptHash)
	if err != nil {
		return nil, nil, nil, err
	}
	plaintext.Confirmation = confirmationTag.Bytes()

	if err := plaintext.Sign(g.provider, g.Suite, g.sigPriv); err != nil {
		return nil, nil, nil, err
	}

	authData := NewMlsPlaintextCommitAuthData(plaintext)
	authDataBytes, err := marshal(authData)
	if err != nil {
		return nil, nil, nil, err
	}
	interimTranscriptHash := g.Suite.Hash(append(dup(confirmedTranscriptHash), authDataBytes...))

	newSecretTree := NewSecretTree(g.provider, g.Suite, treeClone.LeafCount(), newSecrets.Encryption, g.maxFutureGenerations)

	staged := &StagedCommit{
		baseEpoch: g.Context.Epoch, Tree: treeClone, Context: newContext, Secrets: newSecrets,
		secretTree: newSecretTree, interimTranscriptHash: interimTranscriptHash,
	}

	var welcome *Welcome
	adds := effective.FilteredByType(ProposalTypeAdd)
	if len(adds) > 0 {
		welcome, err = g.buildWelcome(treeClone, newSecrets.Joiner, newSecrets.Welcome, newContext, confirmationTag, adds, pathSecrets, updatePath)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	return &plaintext, welcome, staged, nil
}

func (g *Group) effectiveQueue(params CommitParams) (*ProposalQueue, error) {
	var proposalOrRefs []ProposalOrRef
	for _, p := range params.InlineProposals {
		pp := p
		proposalOrRefs = append(proposalOrRefs, ProposalOrRef{Type: ProposalOrRefTypeProposal, Proposal: &pp})
	}
	for _, ref := range params.ProposalRefs {
		rr := ref
		proposalOrRefs = append(proposalOrRefs, ProposalOrRef{Type: ProposalOrRefTypeReference, Reference: &rr})
	}
	// With no explicit references, every pending proposal of the group
	// is committed by reference, in queue order.
	if len(params.ProposalRefs) == 0 {
		for _, key := range g.proposals.order {
			rr := g.proposals.entries[key].reference
			proposalOrRefs = append(proposalOrRefs, ProposalOrRef{Type: ProposalOrRefTypeReference, Reference: &rr})
		}
	}
	return FromCommittedProposals(g.Suite, proposalOrRefs, g.proposals, MemberSender(g.Tree.OwnIndex()))
}

// buildWelcome implements step 7: for each Add, construct GroupSecrets
// (joiner_secret, path_secret at the common ancestor of sender and
// the added leaf, PSKs), HPKE-seal to the added member's init key,
// assemble and sign GroupInfo, AEAD-encrypt it with welcome_key/nonce.
func (g *Group) buildWelcome(tree *RatchetTree, joinerSecret, welcomeSecret Secret, context GroupContext, confirmationTag Mac, adds []Proposal, pathSecrets []Secret, path *UpdatePath) (*Welcome, error) {
	dp, err := leafDirectPath(tree.OwnIndex(), tree.LeafCount())
	if err != nil {
		return nil, err
	}

	groupInfo := GroupInfo{
		GroupID:                 context.GroupID,
		Epoch:                   context.Epoch,
		TreeHash:                context.TreeHash,
		ConfirmedTranscriptHash: context.ConfirmedTranscriptHash,
		GroupContextExtensions:  context.Extensions,
		ConfirmationTag:         confirmationTag.Bytes(),
		SignerIndex:             tree.OwnIndex(),
	}
	rtExt, err := RatchetTreeExtension{Nodes: tree.Nodes}.ToExtension()
	if err != nil {
		return nil, err
	}
	groupInfo.OtherExtensions = Extensions{List: []Extension{rtExt}}
	if err := groupInfo.Sign(g.provider, g.Suite, g.sigPriv); err != nil {
		return nil, err
	}
	groupInfoBytes, err := marshal(groupInfo)
	if err != nil {
		return nil, err
	}

	c := g.Suite.Constants()
	welcomeKeySecret, err := hkdfExpandLabel(g.provider, g.Suite, welcomeSecret, "key", nil, c.KeySize)
	if err != nil {
		return nil, err
	}
	welcomeNonceSecret, err := hkdfExpandLabel(g.provider, g.Suite, welcomeSecret, "nonce", nil, c.NonceSize)
	if err != nil {
		return nil, err
	}
	welcomeKey := welcomeKeySecret.Bytes()
	welcomeNonce := welcomeNonceSecret.Bytes()
	encryptedGroupInfo, err := g.provider.AEADSeal(g.Suite, welcomeKey, welcomeNonce, nil, groupInfoBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: seal group info", ErrCrypto)
	}

	secrets := make([]EncryptedGroupSecrets, 0, len(adds))
	for _, add := range adds {
		kp := add.Add.KeyPackage
		kpHash, err := kp.Hash(g.Suite)
		if err != nil {
			return nil, err
		}

		gs := GroupSecrets{JoinerSecret: joinerSecret.Bytes()}
		if path != nil {
			addedLeaf, ok := lastAddedLeaf(tree, kp)
			if ok {
				ancestor := commonAncestor(toNodeIndex(tree.OwnIndex()), toNodeIndex(addedLeaf))
				if ps, ok := pathSecretAt(dp, pathSecrets, ancestor); ok {
					gs = WithPathSecret(gs, ps.Bytes())
				}
			}
		}
		gsBytes, err := marshal(gs)
		if err != nil {
			return nil, err
		}
		ct, err := g.provider.HPKESeal(g.Suite, kp.InitKey, nil, nil, gsBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: seal group secrets", ErrCrypto)
		}
		secrets = append(secrets, EncryptedGroupSecrets{KeyPackageHash: kpHash, EncryptedGroupSecrets: toWire(ct)})
	}

	return &Welcome{Version: ProtocolVersionMLS10, CipherSuite: g.Suite, Secrets: secrets, EncryptedGroupInfo: encryptedGroupInfo}, nil
}

func lastAddedLeaf(tree *RatchetTree, kp KeyPackage) (LeafIndex, bool) {
	for l := LeafIndex(0); uint32(l) < uint32(tree.LeafCount()); l++ {
		leaf, ok := tree.leafAt(l)
		if ok && bytesEqual(leaf.InitKey, kp.InitKey) {
			return l, true
		}
	}
	return 0, false
}

func pathSecretAt(dp []NodeIndex, secrets []Secret, ancestor NodeIndex) (Secret, bool) {
	for i, n := range dp {
		if n == ancestor {
			return secrets[i], true
		}
	}
	return Secret{}, false
}

// StageCommit implements spec.md §4.8 Stage for a receiving member: it
// decodes the effective proposal set, applies it to a tree clone,
// decrypts the UpdatePath at this receiver's copath position if one
// is present, derives the same secrets, and verifies tree hash and
// confirmation tag before returning a StagedCommit.
func (g *Group) StageCommit(pt *VerifiedMlsPlaintext, available *ProposalQueue) (*StagedCommit, error) {
	if pt.Epoch != g.Context.Epoch {
		return nil, fmt.Errorf("%w: commit epoch %d, group epoch %d", ErrStaleEpoch, pt.Epoch, g.Context.Epoch)
	}
	if pt.Content.ContentType != ContentTypeCommit || pt.Content.Commit == nil {
		return nil, fmt.Errorf("%w: plaintext is not a commit", ErrInvalidState)
	}
	if pt.Sender.SenderType != SenderTypeMember || pt.Sender.Member == nil {
		return nil, fmt.Errorf("%w: commit sender is not a member", ErrInvalidState)
	}
	senderLeaf := *pt.Sender.Member

	effective, err := FromCommittedProposals(g.Suite, pt.Content.Commit.Proposals, available, MemberSender(senderLeaf))
	if err != nil {
		return nil, err
	}

	treeClone := g.Tree.Clone()
	touched, err := applyProposalsWithSenders(treeClone, effective)
	if err != nil {
		return nil, err
	}

	var commitSecret Secret
	if path := pt.Content.Commit.Path; path != nil {
		provisionalContext, err := marshal(g.Context)
		if err != nil {
			return nil, err
		}
		secrets, err := treeClone.DecryptPath(g.provider, path, senderLeaf, provisionalContext)
		if err != nil {
			return nil, err
		}
		commitSecret = secrets[len(secrets)-1]
	} else if touched {
		return nil, fmt.Errorf("%w: tree mutated but commit carries no path", ErrInvalidTree)
	} else {
		commitSecret = NewSecret(g.Suite, ProtocolVersionMLS10, make([]byte, g.Suite.Constants().SecretSize))
	}

	commitContent, err := NewMlsPlaintextCommitContent(pt.MlsPlaintext)
	if err != nil {
		return nil, err
	}
	commitContentBytes, err := marshal(commitContent)
	if err != nil {
		return nil, err
	}
	confirmedTranscriptHash := g.Suite.Hash(append(dup(g.interimTranscriptHash), commitContentBytes...))

	treeHash, err := treeClone.TreeHash()
	if err != nil {
		return nil, err
	}

	newContext := GroupContext{
		GroupID: g.Context.GroupID, Epoch: g.Context.Epoch + 1, TreeHash: treeHash,
		ConfirmedTranscriptHash: confirmedTranscriptHash, Extensions: g.Context.Extensions,
	}
	newContextBytes, err := marshal(newContext)
	if err != nil {
		return nil, err
	}

	pskSecret := NewSecret(g.Suite, ProtocolVersionMLS10, make([]byte, g.Suite.Constants().SecretSize))
	ks := NewKeySchedule(g.provider, g.Suite)
	if err := ks.Init(commitSecret, pskSecret); err != nil {
		return nil, err
	}
	if err := ks.AddContext(newContextBytes); err != nil {
		return nil, err
	}
	newSecrets, err := ks.ComputeEpochSecrets()
	if err != nil {
		return nil, err
	}

	wantTag, err := ks.ConfirmationTag(confirmedTranscriptHash)
	if err != nil {
		return nil, err
	}
	if !wantTag.Equal(Mac{data: pt.Confirmation}) {
		return nil, ErrConfirmationTagMismatch
	}

	authData := NewMlsPlaintextCommitAuthData(pt.MlsPlaintext)
	authDataBytes, err := marshal(authData)
	if err != nil {
		return nil, err
	}
	interimTranscriptHash := g.Suite.Hash(append(dup(confirmedTranscriptHash), authDataBytes...))

	newSecretTree := NewSecretTree(g.provider, g.Suite, treeClone.LeafCount(), newSecrets.Encryption, g.maxFutureGenerations)

	return &StagedCommit{
		baseEpoch: g.Context.Epoch, Tree: treeClone, Context: newContext, Secrets: newSecrets,
		secretTree: newSecretTree, interimTranscriptHash: interimTranscriptHash,
	}, nil
}

// Merge implements spec.md §4.8 Merge: atomically replace current
// state. Merging an already-merged commit is idempotent; merging a
// staged commit based on a stale epoch fails with StaleEpoch.
func (g *Group) Merge(sc *StagedCommit) error {
	if g.Context.Epoch == sc.Context.Epoch && bytesEqual(g.Context.ConfirmedTranscriptHash, sc.Context.ConfirmedTranscriptHash) {
		return nil
	}
	if sc.baseEpoch != g.Context.Epoch {
		return fmt.Errorf("%w: staged commit based on epoch %d, group is at %d", ErrStaleEpoch, sc.baseEpoch, g.Context.Epoch)
	}
	g.Tree = sc.Tree
	g.Context = sc.Context
	g.Secrets = sc.Secrets
	g.secretTree = sc.secretTree
	g.interimTranscriptHash = sc.interimTranscriptHash
	g.proposals = NewProposalQueue(g.Suite)
	return nil
}
