package mls

import (
	"fmt"

	syntax "github.com/cisco/go-tls-syntax"
)

// ExtensionType identifies a well-known KeyPackage/GroupContext
// extension.
type ExtensionType uint16

const (
	ExtensionTypeCapabilities   ExtensionType = 1
	ExtensionTypeLifetime       ExtensionType = 2
	ExtensionTypeRatchetTree    ExtensionType = 3
	ExtensionTypeParentHash     ExtensionType = 4
)

// Extension is an opaque, typed byte blob attached to a KeyPackage or
// GroupContext.
type Extension struct {
	ExtensionType ExtensionType
	Data          []byte `tls:"head=2"`
}

// Extensions is a TLS vector of Extension.
type Extensions struct {
	List []Extension `tls:"head=2"`
}

// Find returns the first extension of the given type, if present.
func (e Extensions) Find(t ExtensionType) (Extension, bool) {
	for _, ext := range e.List {
		if ext.ExtensionType == t {
			return ext, true
		}
	}
	return Extension{}, false
}

// Count returns how many extensions of the given type are present —
// used for the duplicate-ratchet-tree-extension defense-in-depth
// check (spec.md §9 Open Questions item 1).
func (e Extensions) Count(t ExtensionType) int {
	n := 0
	for _, ext := range e.List {
		if ext.ExtensionType == t {
			n++
		}
	}
	return n
}

// Capabilities advertises protocol versions, ciphersuites, and
// extensions a member supports.
type Capabilities struct {
	Versions     []ProtocolVersion `tls:"head=1"`
	CipherSuites []CipherSuite     `tls:"head=1"`
	Extensions   []ExtensionType   `tls:"head=1"`
}

// Lifetime bounds the validity window of a KeyPackage.
type Lifetime struct {
	NotBefore uint64
	NotAfter  uint64
}

// KeyPackage is a member's advertised long-lived cryptographic
// identity and capabilities, signed by its credential.
type KeyPackage struct {
	Version      ProtocolVersion
	CipherSuite  CipherSuite
	InitKey      []byte `tls:"head=2"`
	Credential   Credential
	Capabilities Capabilities
	Lifetime     Lifetime
	Extensions   Extensions
	Signature    []byte `tls:"head=2"`
}

// tbs returns the bytes the KeyPackage signature is computed over:
// every field except the signature itself.
func (kp KeyPackage) tbs() ([]byte, error) {
	unsigned := kp
	unsigned.Signature = nil
	return syntax.Marshal(struct {
		Version      ProtocolVersion
		CipherSuite  CipherSuite
		InitKey      []byte `tls:"head=2"`
		Credential   Credential
		Capabilities Capabilities
		Lifetime     Lifetime
		Extensions   Extensions
	}{unsigned.Version, unsigned.CipherSuite, unsigned.InitKey, unsigned.Credential, unsigned.Capabilities, unsigned.Lifetime, unsigned.Extensions})
}

// Sign computes and sets kp.Signature with the signature scheme of
// kp.CipherSuite; the credential must yield a signature public key,
// but its own scheme is not used.
func (kp *KeyPackage) Sign(provider CryptoProvider, sigPriv []byte) error {
	tbs, err := kp.tbs()
	if err != nil {
		return err
	}
	_, scheme, err := kp.Credential.SignaturePublicKey()
	if err != nil {
		return err
	}
	sig, err := provider.Sign(kp.CipherSuite, sigPriv, tbs)
	if err != nil {
		return fmt.Errorf("%w: sign key package", ErrCrypto)
	}
	_ = scheme
	kp.Signature = sig
	return nil
}

// Verify checks kp.Signature against its own embedded credential.
func (kp KeyPackage) Verify(provider CryptoProvider) error {
	tbs, err := kp.tbs()
	if err != nil {
		return err
	}
	pub, _, err := kp.Credential.SignaturePublicKey()
	if err != nil {
		return err
	}
	if !provider.Verify(kp.CipherSuite, pub, tbs, kp.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// Hash returns H(encode(kp)), used to locate the EncryptedGroupSecrets
// addressed to this key package in a Welcome (spec.md §4.9 step 2).
func (kp KeyPackage) Hash(suite CipherSuite) ([]byte, error) {
	enc, err := syntax.Marshal(kp)
	if err != nil {
		return nil, err
	}
	return suite.Hash(enc), nil
}

// NodeType discriminates the Node tagged variant.
type NodeType uint8

const (
	NodeTypeBlank  NodeType = 0
	NodeTypeLeaf   NodeType = 1
	NodeTypeParent NodeType = 2
)

// ParentNode carries an HPKE public key, the list of leaves added
// since this parent was last refreshed ("unmerged leaves"), and the
// parent-hash of the node above it.
type ParentNode struct {
	PublicKey      []byte      `tls:"head=2"`
	UnmergedLeaves []LeafIndex `tls:"head=4"`
	ParentHash     []byte      `tls:"head=1"`
}

// Node is the tagged variant Node = Leaf(KeyPackage) | Parent(ParentNode) | Blank.
type Node struct {
	NodeType NodeType
	Leaf     *KeyPackage
	Parent   *ParentNode
}

func BlankNode() Node { return Node{NodeType: NodeTypeBlank} }

func LeafNode(kp KeyPackage) Node {
	k := kp
	return Node{NodeType: NodeTypeLeaf, Leaf: &k}
}

func ParentNodeOf(p ParentNode) Node {
	pp := p
	return Node{NodeType: NodeTypeParent, Parent: &pp}
}

func (n Node) IsBlank() bool { return n.NodeType == NodeTypeBlank }

func (n Node) MarshalTLS() ([]byte, error) {
	switch n.NodeType {
	case NodeTypeBlank:
		return []byte{byte(NodeTypeBlank)}, nil
	case NodeTypeLeaf:
		body, err := syntax.Marshal(n.Leaf)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(NodeTypeLeaf)}, body...), nil
	case NodeTypeParent:
		body, err := syntax.Marshal(n.Parent)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(NodeTypeParent)}, body...), nil
	default:
		return nil, fmt.Errorf("%w: unknown node type %d", ErrInputDecode, n.NodeType)
	}
}

func (n *Node) UnmarshalTLS(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: short node", ErrInputDecode)
	}
	nt := NodeType(data[0])
	switch nt {
	case NodeTypeBlank:
		*n = Node{NodeType: NodeTypeBlank}
		return 1, nil
	case NodeTypeLeaf:
		var kp KeyPackage
		k, err := syntax.Unmarshal(data[1:], &kp)
		if err != nil {
			return 0, err
		}
		*n = Node{NodeType: NodeTypeLeaf, Leaf: &kp}
		return k + 1, nil
	case NodeTypeParent:
		var p ParentNode
		k, err := syntax.Unmarshal(data[1:], &p)
		if err != nil {
			return 0, err
		}
		*n = Node{NodeType: NodeTypeParent, Parent: &p}
		return k + 1, nil
	default:
		// Reject Default/unknown discriminants at decode time (spec.md §9).
		return 0, fmt.Errorf("%w: unknown node type %d", ErrInputDecode, nt)
	}
}
