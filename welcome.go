package mls

import "fmt"

// JoinParams bundles what a prospective member needs on hand to
// process a Welcome: its own (private, public) HPKE init keypair and
// leaf signature key, plus its KeyPackage as sent to the group and the
// credential/signature identity that authored it. Nodes is used only
// when the GroupInfo carries no ratchet_tree extension, in which case
// the joiner must already have the tree from an out-of-band source.
type JoinParams struct {
	InitPriv   []byte
	LeafPriv   []byte
	SigPriv    []byte
	KeyPackage KeyPackage
	Nodes      []Node
}

// JoinFromWelcome implements spec.md §4.9's join procedure: locate the
// joiner's EncryptedGroupSecrets, recover the joiner_secret and
// optional path_secret, decrypt and verify the accompanying GroupInfo,
// rebuild the ratchet tree, and advance the key schedule to the
// current epoch.
func JoinFromWelcome(provider CryptoProvider, w Welcome, params JoinParams) (*Group, error) {
	if w.Version != ProtocolVersionMLS10 {
		return nil, fmt.Errorf("%w: welcome version %d", ErrUnsupportedMlsVersion, w.Version)
	}

	kpHash, err := params.KeyPackage.Hash(w.CipherSuite)
	if err != nil {
		return nil, err
	}
	egs, ok := w.FindSecrets(kpHash)
	if !ok {
		return nil, ErrJoinerSecretNotFound
	}

	suite := w.CipherSuite
	gsBytes, err := provider.HPKEOpen(suite, params.InitPriv, nil, nil, fromWire(egs.EncryptedGroupSecrets))
	if err != nil {
		return nil, fmt.Errorf("%w: open group secrets", ErrCrypto)
	}
	var gs GroupSecrets
	if err := unmarshalExact(gsBytes, &gs); err != nil {
		return nil, err
	}
	joinerSecret := NewSecret(suite, ProtocolVersionMLS10, gs.JoinerSecret)
	pskSecret := NewSecret(suite, ProtocolVersionMLS10, make([]byte, suite.Constants().SecretSize))

	ks := NewKeySchedule(provider, suite)
	if err := ks.Init(joinerSecret, pskSecret); err != nil {
		return nil, err
	}
	welcomeSecret, err := ks.WelcomeSecret()
	if err != nil {
		return nil, err
	}

	c := suite.Constants()
	welcomeKeySecret, err := hkdfExpandLabel(provider, suite, welcomeSecret, "key", nil, c.KeySize)
	if err != nil {
		return nil, err
	}
	welcomeNonceSecret, err := hkdfExpandLabel(provider, suite, welcomeSecret, "nonce", nil, c.NonceSize)
	if err != nil {
		return nil, err
	}
	welcomeKey := welcomeKeySecret.Bytes()
	welcomeNonce := welcomeNonceSecret.Bytes()
	groupInfoBytes, err := provider.AEADOpen(suite, welcomeKey, welcomeNonce, nil, w.EncryptedGroupInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: open group info", ErrGroupInfoDecryptionFailure)
	}
	var groupInfo GroupInfo
	if err := unmarshalExact(groupInfoBytes, &groupInfo); err != nil {
		return nil, err
	}

	nodes, err := ratchetTreeNodes(groupInfo.OtherExtensions, params.Nodes)
	if err != nil {
		return nil, err
	}
	tree := &RatchetTree{Suite: suite, Nodes: nodes, Size: LeafCount((len(nodes) + 1) / 2)}

	ownLeaf, ok := findOwnLeaf(tree, params.KeyPackage)
	if !ok {
		return nil, ErrOwnKeyPackageNotFound
	}
	tree.priv = NewPrivateTree(ownLeaf, params.LeafPriv)

	treeHash, err := tree.TreeHash()
	if err != nil {
		return nil, err
	}
	if !bytesEqual(treeHash, groupInfo.TreeHash) {
		return nil, ErrTreeHashMismatch
	}
	if err := tree.VerifyParentHashes(); err != nil {
		return nil, err
	}

	signerKP, ok := tree.leafAt(groupInfo.SignerIndex)
	if !ok {
		return nil, fmt.Errorf("%w: signer leaf %d", ErrLeafNotInTree, groupInfo.SignerIndex)
	}
	signerPub, _, err := signerKP.Credential.SignaturePublicKey()
	if err != nil {
		return nil, err
	}
	verifiable, err := NewVerifiableGroupInfo(groupInfo)
	if err != nil {
		return nil, err
	}
	verified, err := verifiable.Verify(provider, suite, signerPub)
	if err != nil {
		return nil, err
	}

	if gs.HasPathSecret() {
		ancestor := commonAncestor(toNodeIndex(ownLeaf), toNodeIndex(groupInfo.SignerIndex))
		pathSecret := NewSecret(suite, ProtocolVersionMLS10, gs.PathSecretBytes())
		if err := tree.mergePrivatePath(provider, ancestor, pathSecret); err != nil {
			return nil, err
		}
	}

	groupContext := GroupContext{
		GroupID:                 dup(verified.GroupID),
		Epoch:                   verified.Epoch,
		TreeHash:                dup(verified.TreeHash),
		ConfirmedTranscriptHash: dup(verified.ConfirmedTranscriptHash),
		Extensions:              verified.GroupContextExtensions,
	}
	groupContextBytes, err := marshal(groupContext)
	if err != nil {
		return nil, err
	}
	if err := ks.AddContext(groupContextBytes); err != nil {
		return nil, err
	}
	secrets, err := ks.ComputeEpochSecrets()
	if err != nil {
		return nil, err
	}

	wantTag, err := ks.ConfirmationTag(verified.ConfirmedTranscriptHash)
	if err != nil {
		return nil, err
	}
	if !wantTag.Equal(Mac{data: verified.ConfirmationTag}) {
		return nil, ErrConfirmationTagMismatch
	}

	g := &Group{
		Suite:                 suite,
		provider:              provider,
		Tree:                  tree,
		Context:               groupContext,
		Secrets:               secrets,
		schedule:              ks,
		interimTranscriptHash: dup(verified.ConfirmedTranscriptHash),
		sigPriv:               dup(params.SigPriv),
		credential:            params.KeyPackage.Credential,
		proposals:             NewProposalQueue(suite),
		maxFutureGenerations:  1 << 16,
	}
	g.secretTree = NewSecretTree(provider, suite, tree.LeafCount(), secrets.Encryption, g.maxFutureGenerations)
	return g, nil
}

// findRatchetTreeExtension requires exactly one ratchet_tree extension
// in a GroupInfo's other_extensions: a joiner that trusted more than
// one copy could be made to adopt a tree an attacker substituted.
func findRatchetTreeExtension(exts Extensions) (RatchetTreeExtension, error) {
	if exts.Count(ExtensionTypeRatchetTree) > 1 {
		return RatchetTreeExtension{}, ErrDuplicateRatchetTreeExt
	}
	ext, ok := exts.Find(ExtensionTypeRatchetTree)
	if !ok {
		return RatchetTreeExtension{}, ErrMissingRatchetTree
	}
	return ParseRatchetTreeExtension(ext)
}

// ratchetTreeNodes resolves the tree a joiner builds on: exactly one
// ratchet_tree extension wins outright; no extension at all falls back
// to caller-supplied nodes (the out-of-band delivery case); neither is
// available is an error.
func ratchetTreeNodes(exts Extensions, fallback []Node) ([]Node, error) {
	if exts.Count(ExtensionTypeRatchetTree) > 1 {
		return nil, ErrDuplicateRatchetTreeExt
	}
	ext, ok := exts.Find(ExtensionTypeRatchetTree)
	if !ok {
		if len(fallback) == 0 {
			return nil, ErrMissingRatchetTree
		}
		return fallback, nil
	}
	rtExt, err := ParseRatchetTreeExtension(ext)
	if err != nil {
		return nil, err
	}
	return rtExt.Nodes, nil
}

func findOwnLeaf(tree *RatchetTree, kp KeyPackage) (LeafIndex, bool) {
	for l := LeafIndex(0); uint32(l) < uint32(tree.LeafCount()); l++ {
		leaf, ok := tree.leafAt(l)
		if ok && bytesEqual(leaf.InitKey, kp.InitKey) {
			return l, true
		}
	}
	return 0, false
}
