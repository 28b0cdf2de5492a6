package mls

import "fmt"

// GroupContext is the immutable-within-an-epoch context bound into
// the key schedule and into every signed payload.
type GroupContext struct {
	GroupID                 []byte `tls:"head=1"`
	Epoch                   uint64
	TreeHash                []byte `tls:"head=1"`
	ConfirmedTranscriptHash []byte `tls:"head=1"`
	Extensions              Extensions
}

// SenderType discriminates the Sender tagged variant.
type SenderType uint8

const (
	SenderTypeMember        SenderType = 1
	SenderTypePreconfigured SenderType = 2
	SenderTypeNewMember     SenderType = 3
)

// Sender is Sender = Member(LeafIndex) | Preconfigured(external_id) | NewMember.
type Sender struct {
	SenderType    SenderType
	Member        *LeafIndex
	Preconfigured []byte
}

func MemberSender(l LeafIndex) Sender { return Sender{SenderType: SenderTypeMember, Member: &l} }

func (s Sender) MarshalTLS() ([]byte, error) {
	switch s.SenderType {
	case SenderTypeMember:
		if s.Member == nil {
			return nil, fmt.Errorf("%w: member sender missing leaf index", ErrInputDecode)
		}
		body, err := marshal(*s.Member)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(s.SenderType)}, body...), nil
	case SenderTypePreconfigured:
		return append([]byte{byte(s.SenderType)}, writeOpaqueVec1(s.Preconfigured)...), nil
	case SenderTypeNewMember:
		return []byte{byte(s.SenderType)}, nil
	default:
		return nil, fmt.Errorf("%w: unknown sender type %d", ErrInputDecode, s.SenderType)
	}
}

func (s *Sender) UnmarshalTLS(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: short sender", ErrInputDecode)
	}
	st := SenderType(data[0])
	switch st {
	case SenderTypeMember:
		var l LeafIndex
		n, err := unmarshal(data[1:], &l)
		if err != nil {
			return 0, err
		}
		*s = Sender{SenderType: st, Member: &l}
		return n + 1, nil
	case SenderTypePreconfigured:
		id, n, err := readOpaqueVec1(data[1:])
		if err != nil {
			return 0, err
		}
		*s = Sender{SenderType: st, Preconfigured: id}
		return n + 1, nil
	case SenderTypeNewMember:
		*s = Sender{SenderType: st}
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: unknown sender type %d", ErrInputDecode, st)
	}
}

// ProposalType discriminates the Proposal tagged variant.
type ProposalType uint8

const (
	ProposalTypeAdd                    ProposalType = 1
	ProposalTypeUpdate                 ProposalType = 2
	ProposalTypeRemove                 ProposalType = 3
	ProposalTypePreSharedKey           ProposalType = 4
	ProposalTypeReInit                 ProposalType = 5
	ProposalTypeExternalInit           ProposalType = 6
	ProposalTypeGroupContextExtensions ProposalType = 7
)

type AddProposal struct{ KeyPackage KeyPackage }
type UpdateProposal struct{ KeyPackage KeyPackage }
type RemoveProposal struct{ Removed LeafIndex }

// PreSharedKeyID names an out-of-band PSK the group wishes to mix in.
type PreSharedKeyID struct {
	ID []byte `tls:"head=2"`
}

type PreSharedKeyProposal struct{ PSK PreSharedKeyID }

type ReInitProposal struct {
	GroupID     []byte `tls:"head=1"`
	Version     ProtocolVersion
	CipherSuite CipherSuite
	Extensions  Extensions
}

type ExternalInitProposal struct {
	KEMOutput []byte `tls:"head=2"`
}

type GroupContextExtensionsProposal struct{ Extensions Extensions }

// Proposal is the tagged union over every pending-change kind spec.md
// §3 lists for the ProposalQueue.
type Proposal struct {
	ProposalType           ProposalType
	Add                    *AddProposal
	Update                 *UpdateProposal
	Remove                 *RemoveProposal
	PreSharedKey           *PreSharedKeyProposal
	ReInit                 *ReInitProposal
	ExternalInit           *ExternalInitProposal
	GroupContextExtensions *GroupContextExtensionsProposal
}

func (p Proposal) MarshalTLS() ([]byte, error) {
	var body []byte
	var err error
	switch p.ProposalType {
	case ProposalTypeAdd:
		body, err = marshal(p.Add)
	case ProposalTypeUpdate:
		body, err = marshal(p.Update)
	case ProposalTypeRemove:
		body, err = marshal(p.Remove)
	case ProposalTypePreSharedKey:
		body, err = marshal(p.PreSharedKey)
	case ProposalTypeReInit:
		body, err = marshal(p.ReInit)
	case ProposalTypeExternalInit:
		body, err = marshal(p.ExternalInit)
	case ProposalTypeGroupContextExtensions:
		body, err = marshal(p.GroupContextExtensions)
	default:
		return nil, fmt.Errorf("%w: unknown proposal type %d", ErrInputDecode, p.ProposalType)
	}
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(p.ProposalType)}, body...), nil
}

func (p *Proposal) UnmarshalTLS(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: short proposal", ErrInputDecode)
	}
	pt := ProposalType(data[0])
	rest := data[1:]
	var n int
	var err error
	switch pt {
	case ProposalTypeAdd:
		var v AddProposal
		n, err = unmarshal(rest, &v)
		p.Add = &v
	case ProposalTypeUpdate:
		var v UpdateProposal
		n, err = unmarshal(rest, &v)
		p.Update = &v
	case ProposalTypeRemove:
		var v RemoveProposal
		n, err = unmarshal(rest, &v)
		p.Remove = &v
	case ProposalTypePreSharedKey:
		var v PreSharedKeyProposal
		n, err = unmarshal(rest, &v)
		p.PreSharedKey = &v
	case ProposalTypeReInit:
		var v ReInitProposal
		n, err = unmarshal(rest, &v)
		p.ReInit = &v
	case ProposalTypeExternalInit:
		var v ExternalInitProposal
		n, err = unmarshal(rest, &v)
		p.ExternalInit = &v
	case ProposalTypeGroupContextExtensions:
		var v GroupContextExtensionsProposal
		n, err = unmarshal(rest, &v)
		p.GroupContextExtensions = &v
	default:
		return 0, fmt.Errorf("%w: unknown proposal type %d", ErrInputDecode, pt)
	}
	if err != nil {
		return 0, err
	}
	p.ProposalType = pt
	return n + 1, nil
}

// ProposalReference is the hash a committer uses to reference an
// already-broadcast proposal rather than repeating it inline.
type ProposalReference struct {
	Hash []byte `tls:"head=1"`
}

func NewProposalReference(suite CipherSuite, p Proposal) (ProposalReference, error) {
	enc, err := marshal(p)
	if err != nil {
		return ProposalReference{}, err
	}
	return ProposalReference{Hash: suite.Hash(enc)}, nil
}

func (r ProposalReference) Equal(o ProposalReference) bool {
	return bytesEqual(r.Hash, o.Hash)
}

// ProposalOrRefType discriminates the ProposalOrRef tagged variant a
// Commit lists its effective proposals with.
type ProposalOrRefType uint8

const (
	ProposalOrRefTypeProposal  ProposalOrRefType = 1
	ProposalOrRefTypeReference ProposalOrRefType = 2
)

type ProposalOrRef struct {
	Type      ProposalOrRefType
	Proposal  *Proposal
	Reference *ProposalReference
}

func (p ProposalOrRef) MarshalTLS() ([]byte, error) {
	switch p.Type {
	case ProposalOrRefTypeProposal:
		body, err := marshal(p.Proposal)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(p.Type)}, body...), nil
	case ProposalOrRefTypeReference:
		body, err := marshal(p.Reference)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(p.Type)}, body...), nil
	default:
		return nil, fmt.Errorf("%w: unknown proposal-or-ref type %d", ErrInputDecode, p.Type)
	}
}

func (p *ProposalOrRef) UnmarshalTLS(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: short proposal-or-ref", ErrInputDecode)
	}
	t := ProposalOrRefType(data[0])
	switch t {
	case ProposalOrRefTypeProposal:
		var v Proposal
		n, err := unmarshal(data[1:], &v)
		if err != nil {
			return 0, err
		}
		*p = ProposalOrRef{Type: t, Proposal: &v}
		return n + 1, nil
	case ProposalOrRefTypeReference:
		var v ProposalReference
		n, err := unmarshal(data[1:], &v)
		if err != nil {
			return 0, err
		}
		*p = ProposalOrRef{Type: t, Reference: &v}
		return n + 1, nil
	default:
		return 0, fmt.Errorf("%w: unknown proposal-or-ref type %d", ErrInputDecode, t)
	}
}

// Commit is the content of an MlsPlaintext that advances the epoch.
type Commit struct {
	Proposals []ProposalOrRef `tls:"head=4"`
	Path      *UpdatePath     `tls:"optional"`
}

// ContentType discriminates the MlsPlaintext content.
type ContentType uint8

const (
	ContentTypeApplication ContentType = 1
	ContentTypeProposal    ContentType = 2
	ContentTypeCommit      ContentType = 3
)

type mlsPlaintextContent struct {
	ContentType ContentType
	Application []byte
	Proposal    *Proposal
	Commit      *Commit
}

func (c mlsPlaintextContent) MarshalTLS() ([]byte, error) {
	switch c.ContentType {
	case ContentTypeApplication:
		return append([]byte{byte(c.ContentType)}, writeOpaqueVec4(c.Application)...), nil
	case ContentTypeProposal:
		body, err := marshal(c.Proposal)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(c.ContentType)}, body...), nil
	case ContentTypeCommit:
		body, err := marshal(c.Commit)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(c.ContentType)}, body...), nil
	default:
		return nil, fmt.Errorf("%w: unknown content type %d", ErrInputDecode, c.ContentType)
	}
}

func (c *mlsPlaintextContent) UnmarshalTLS(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: short plaintext content", ErrInputDecode)
	}
	ct := ContentType(data[0])
	switch ct {
	case ContentTypeApplication:
		app, n, err := readOpaqueVec4(data[1:])
		if err != nil {
			return 0, err
		}
		*c = mlsPlaintextContent{ContentType: ct, Application: app}
		return n + 1, nil
	case ContentTypeProposal:
		var v Proposal
		n, err := unmarshal(data[1:], &v)
		if err != nil {
			return 0, err
		}
		*c = mlsPlaintextContent{ContentType: ct, Proposal: &v}
		return n + 1, nil
	case ContentTypeCommit:
		var v Commit
		n, err := unmarshal(data[1:], &v)
		if err != nil {
			return 0, err
		}
		*c = mlsPlaintextContent{ContentType: ct, Commit: &v}
		return n + 1, nil
	default:
		return 0, fmt.Errorf("%w: unknown content type %d", ErrInputDecode, ct)
	}
}

// MlsPlaintext is the unencrypted, signed framing for handshake
// messages (proposals, commits) and for application data that doesn't
// need sender-data confidentiality.
type MlsPlaintext struct {
	GroupID           []byte `tls:"head=1"`
	Epoch             uint64
	Sender            Sender
	AuthenticatedData []byte `tls:"head=4"`
	Content           mlsPlaintextContent
	Signature         []byte `tls:"head=2"`
	Confirmation      []byte `tls:"head=1"` // present only when Content is a Commit
	Membership        []byte `tls:"head=1"` // present only when Sender is a Member
}

func newPlaintext(groupID []byte, epoch uint64, sender Sender, aad []byte, content mlsPlaintextContent) MlsPlaintext {
	return MlsPlaintext{GroupID: dup(groupID), Epoch: epoch, Sender: sender, AuthenticatedData: dup(aad), Content: content}
}

func (pt MlsPlaintext) tbs() ([]byte, error) {
	return marshal(struct {
		GroupID           []byte `tls:"head=1"`
		Epoch             uint64
		Sender            Sender
		AuthenticatedData []byte `tls:"head=4"`
		Content           mlsPlaintextContent
	}{pt.GroupID, pt.Epoch, pt.Sender, pt.AuthenticatedData, pt.Content})
}

// VerifiableMlsPlaintext is a decoded-but-not-yet-authenticated
// MlsPlaintext: its payload bytes are available, but callers cannot
// reach the contents until Verify succeeds (spec.md §4.6, §9).
type VerifiableMlsPlaintext struct {
	plaintext MlsPlaintext
	tbs       []byte
}

func NewVerifiableMlsPlaintext(pt MlsPlaintext) (*VerifiableMlsPlaintext, error) {
	tbs, err := pt.tbs()
	if err != nil {
		return nil, err
	}
	return &VerifiableMlsPlaintext{plaintext: pt, tbs: tbs}, nil
}

// VerifiedMlsPlaintext is the type-state reached only via
// VerifiableMlsPlaintext.Verify.
type VerifiedMlsPlaintext struct {
	MlsPlaintext
}

func (v *VerifiableMlsPlaintext) Verify(provider CryptoProvider, suite CipherSuite, signerPub []byte) (*VerifiedMlsPlaintext, error) {
	if !provider.Verify(suite, signerPub, v.tbs, v.plaintext.Signature) {
		return nil, ErrInvalidSignature
	}
	return &VerifiedMlsPlaintext{MlsPlaintext: v.plaintext}, nil
}

// Sign computes and sets pt.Signature.
func (pt *MlsPlaintext) Sign(provider CryptoProvider, suite CipherSuite, sigPriv []byte) error {
	tbs, err := pt.tbs()
	if err != nil {
		return err
	}
	sig, err := provider.Sign(suite, sigPriv, tbs)
	if err != nil {
		return fmt.Errorf("%w: sign plaintext", ErrCrypto)
	}
	pt.Signature = sig
	return nil
}

// MembershipMac computes the membership_tag MAC over (tbs || signature).
func (pt MlsPlaintext) MembershipMac(provider CryptoProvider, suite CipherSuite, membershipKey Secret) (Mac, error) {
	tbs, err := pt.tbs()
	if err != nil {
		return Mac{}, err
	}
	return NewMac(provider, suite, membershipKey.Bytes(), append(tbs, pt.Signature...))
}

// MlsPlaintextCommitContent / MlsPlaintextCommitAuthData are the two
// transcript-hash chain inputs of spec.md §4.6/S5: confirmed and
// interim transcript hash extend with these, in order.
type MlsPlaintextCommitContent struct {
	GroupID []byte `tls:"head=1"`
	Epoch   uint64
	Sender  Sender
	Commit  Commit
}

func NewMlsPlaintextCommitContent(pt MlsPlaintext) (*MlsPlaintextCommitContent, error) {
	if pt.Content.ContentType != ContentTypeCommit || pt.Content.Commit == nil {
		return nil, fmt.Errorf("%w: plaintext is not a commit", ErrInvalidState)
	}
	return &MlsPlaintextCommitContent{GroupID: pt.GroupID, Epoch: pt.Epoch, Sender: pt.Sender, Commit: *pt.Content.Commit}, nil
}

type MlsPlaintextCommitAuthData struct {
	Signature       []byte `tls:"head=2"`
	ConfirmationTag []byte `tls:"head=1"`
}

func NewMlsPlaintextCommitAuthData(pt MlsPlaintext) *MlsPlaintextCommitAuthData {
	return &MlsPlaintextCommitAuthData{Signature: pt.Signature, ConfirmationTag: pt.Confirmation}
}

// MlsCiphertext is the encrypted framing for application messages (and
// optionally handshake messages) once a secret tree is available.
type MlsCiphertext struct {
	GroupID             []byte `tls:"head=1"`
	Epoch               uint64
	ContentType         ContentType
	AuthenticatedData   []byte `tls:"head=4"`
	EncryptedSenderData []byte `tls:"head=1"`
	Ciphertext          []byte `tls:"head=4"`
}

type senderData struct {
	Sender     LeafIndex
	Generation uint32
}

// SealApplication encrypts an application-data MlsPlaintext-equivalent
// payload for (sender, generation), deriving its key/nonce from the
// secret tree and its sender-data key/nonce from SenderData secret
// keyed by a sample of the ciphertext (the MLS "reuse guard" idiom).
func SealApplication(provider CryptoProvider, suite CipherSuite, groupID []byte, epoch uint64, secretTree *SecretTree, senderDataSecret Secret, sender LeafIndex, aad, plaintext []byte) (*MlsCiphertext, error) {
	generation, kn, err := nextApplicationKeyAndNonce(secretTree, sender)
	if err != nil {
		return nil, err
	}
	ct, err := provider.AEADSeal(suite, kn.Key, kn.Nonce, aad, plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: seal application data", ErrCrypto)
	}

	sd, err := marshal(senderData{Sender: sender, Generation: generation})
	if err != nil {
		return nil, err
	}
	sample := ct
	if len(sample) > 16 {
		sample = sample[:16]
	}
	c := suite.Constants()
	sdKeySecret, err := hkdfExpandLabel(provider, suite, senderDataSecret, "key", sample, c.KeySize)
	if err != nil {
		return nil, err
	}
	sdNonceSecret, err := hkdfExpandLabel(provider, suite, senderDataSecret, "nonce", sample, c.NonceSize)
	if err != nil {
		return nil, err
	}
	sdKey := sdKeySecret.Bytes()
	sdNonce := sdNonceSecret.Bytes()
	encSD, err := provider.AEADSeal(suite, sdKey, sdNonce, nil, sd)
	if err != nil {
		return nil, fmt.Errorf("%w: seal sender data", ErrCrypto)
	}

	return &MlsCiphertext{
		GroupID:             dup(groupID),
		Epoch:               epoch,
		ContentType:         ContentTypeApplication,
		AuthenticatedData:   dup(aad),
		EncryptedSenderData: encSD,
		Ciphertext:          ct,
	}, nil
}

// OpenApplication reverses SealApplication.
func OpenApplication(provider CryptoProvider, suite CipherSuite, secretTree *SecretTree, senderDataSecret Secret, ct *MlsCiphertext) (sender LeafIndex, plaintext []byte, err error) {
	sample := ct.Ciphertext
	if len(sample) > 16 {
		sample = sample[:16]
	}
	c := suite.Constants()
	sdKeySecret, err := hkdfExpandLabel(provider, suite, senderDataSecret, "key", sample, c.KeySize)
	if err != nil {
		return 0, nil, err
	}
	sdNonceSecret, err := hkdfExpandLabel(provider, suite, senderDataSecret, "nonce", sample, c.NonceSize)
	if err != nil {
		return 0, nil, err
	}
	sdKey := sdKeySecret.Bytes()
	sdNonce := sdNonceSecret.Bytes()
	sdBytes, err := provider.AEADOpen(suite, sdKey, sdNonce, nil, ct.EncryptedSenderData)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: open sender data", ErrCrypto)
	}
	var sd senderData
	if _, err := unmarshal(sdBytes, &sd); err != nil {
		return 0, nil, err
	}

	key, nonce, err := secretTree.GetNonceAndKey(sd.Sender, false, sd.Generation)
	if err != nil {
		return 0, nil, err
	}
	pt, err := provider.AEADOpen(suite, key, nonce, ct.AuthenticatedData, ct.Ciphertext)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: open application data", ErrCrypto)
	}
	return sd.Sender, pt, nil
}

func nextApplicationKeyAndNonce(secretTree *SecretTree, sender LeafIndex) (uint32, keyAndNonce, error) {
	r, err := secretTree.applicationRatchet(sender)
	if err != nil {
		return 0, keyAndNonce{}, err
	}
	gen, kn, err := r.next()
	if err != nil {
		return 0, keyAndNonce{}, err
	}
	return gen, kn, nil
}

// PreSharedKeyID, GroupSecrets, EncryptedGroupSecrets, Welcome are the
// single-use, per-joiner payloads of spec.md §3/§4.9.
type GroupSecrets struct {
	JoinerSecret []byte          `tls:"head=1"`
	PathSecret   *pathSecretOpt  `tls:"optional"`
	PSKs         []PreSharedKeyID `tls:"head=2"`
}

type pathSecretOpt struct {
	Data []byte `tls:"head=1"`
}

func (g GroupSecrets) HasPathSecret() bool { return g.PathSecret != nil }

func (g GroupSecrets) PathSecretBytes() []byte {
	if g.PathSecret == nil {
		return nil
	}
	return g.PathSecret.Data
}

func WithPathSecret(g GroupSecrets, secret []byte) GroupSecrets {
	g.PathSecret = &pathSecretOpt{Data: secret}
	return g
}

type EncryptedGroupSecrets struct {
	KeyPackageHash        []byte              `tls:"head=1"`
	EncryptedGroupSecrets HPKECiphertextWire
}

type Welcome struct {
	Version             ProtocolVersion
	CipherSuite         CipherSuite
	Secrets             []EncryptedGroupSecrets `tls:"head=4"`
	EncryptedGroupInfo  []byte                  `tls:"head=4"`
}

// FindSecrets locates the EncryptedGroupSecrets addressed to
// keyPackageHash (spec.md §4.9 step 2).
func (w Welcome) FindSecrets(keyPackageHash []byte) (EncryptedGroupSecrets, bool) {
	for _, s := range w.Secrets {
		if bytesEqual(s.KeyPackageHash, keyPackageHash) {
			return s, true
		}
	}
	return EncryptedGroupSecrets{}, false
}

// RatchetTreeExtension carries a full copy of the ratchet tree inside
// a GroupInfo's other_extensions, so a joiner without an out-of-band
// tree can reconstruct it (spec.md §4.9 step 5).
type RatchetTreeExtension struct {
	Nodes []Node `tls:"head=4"`
}

func (e RatchetTreeExtension) ToExtension() (Extension, error) {
	data, err := marshal(e)
	if err != nil {
		return Extension{}, err
	}
	return Extension{ExtensionType: ExtensionTypeRatchetTree, Data: data}, nil
}

func ParseRatchetTreeExtension(ext Extension) (RatchetTreeExtension, error) {
	var r RatchetTreeExtension
	if err := unmarshalExact(ext.Data, &r); err != nil {
		return RatchetTreeExtension{}, err
	}
	return r, nil
}

// GroupInfo is the signed payload a Welcome AEAD-wraps: everything a
// joiner needs to validate and adopt the current epoch.
type GroupInfo struct {
	GroupID                 []byte `tls:"head=1"`
	Epoch                   uint64
	TreeHash                []byte `tls:"head=1"`
	ConfirmedTranscriptHash []byte `tls:"head=1"`
	GroupContextExtensions  Extensions
	OtherExtensions         Extensions
	ConfirmationTag         []byte `tls:"head=1"`
	SignerIndex             LeafIndex
	Signature               []byte `tls:"head=2"`
}

func (gi GroupInfo) tbs() ([]byte, error) {
	return marshal(struct {
		GroupID                 []byte `tls:"head=1"`
		Epoch                   uint64
		TreeHash                []byte `tls:"head=1"`
		ConfirmedTranscriptHash []byte `tls:"head=1"`
		GroupContextExtensions  Extensions
		OtherExtensions         Extensions
		ConfirmationTag         []byte `tls:"head=1"`
		SignerIndex             LeafIndex
	}{gi.GroupID, gi.Epoch, gi.TreeHash, gi.ConfirmedTranscriptHash, gi.GroupContextExtensions, gi.OtherExtensions, gi.ConfirmationTag, gi.SignerIndex})
}

func (gi *GroupInfo) Sign(provider CryptoProvider, suite CipherSuite, sigPriv []byte) error {
	tbs, err := gi.tbs()
	if err != nil {
		return err
	}
	sig, err := provider.Sign(suite, sigPriv, tbs)
	if err != nil {
		return fmt.Errorf("%w: sign group info", ErrCrypto)
	}
	gi.Signature = sig
	return nil
}

// VerifiableGroupInfo / VerifiedGroupInfo mirror the plaintext
// type-state pair for the signed GroupInfo payload.
type VerifiableGroupInfo struct {
	info GroupInfo
	tbs  []byte
}

func NewVerifiableGroupInfo(gi GroupInfo) (*VerifiableGroupInfo, error) {
	tbs, err := gi.tbs()
	if err != nil {
		return nil, err
	}
	return &VerifiableGroupInfo{info: gi, tbs: tbs}, nil
}

type VerifiedGroupInfo struct {
	GroupInfo
}

func (v *VerifiableGroupInfo) Verify(provider CryptoProvider, suite CipherSuite, signerPub []byte) (*VerifiedGroupInfo, error) {
	if !provider.Verify(suite, signerPub, v.tbs, v.info.Signature) {
		return nil, fmt.Errorf("%w: group info signature", ErrInvalidGroupInfoSignature)
	}
	return &VerifiedGroupInfo{GroupInfo: v.info}, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func writeOpaqueVec4(data []byte) []byte {
	n := uint32(len(data))
	return append([]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}, data...)
}

func readOpaqueVec4(data []byte) ([]byte, int, error) {
	if len(data) < 4 {
		return nil, 0, fmt.Errorf("%w: short opaque vector header", ErrInputDecode)
	}
	n := int(uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3]))
	if len(data) < 4+n {
		return nil, 0, fmt.Errorf("%w: truncated opaque vector", ErrInputDecode)
	}
	return data[4 : 4+n], 4 + n, nil
}
