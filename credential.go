package mls

import (
	"fmt"

	syntax "github.com/cisco/go-tls-syntax"
)

// CredentialType discriminates the Credential tagged variant.
type CredentialType uint8

const (
	CredentialTypeBasic CredentialType = 1
	CredentialTypeX509  CredentialType = 2
)

// BasicCredential is an unauthenticated (identity, public key) pair —
// the only credential kind the core fully supports, since validating
// an X.509 chain is a credential-store concern out of scope per
// spec.md §1.
type BasicCredential struct {
	Identity        []byte `tls:"head=2"`
	SignatureScheme SignatureScheme
	PublicKey       []byte `tls:"head=2"`
}

// X509Credential decodes but is rejected at use (SignaturePublicKey
// returns ErrInvalidState): validating a certificate chain needs a
// trust store this package does not own.
type X509Credential struct {
	CertChain [][]byte `tls:"head=2"`
}

// Credential is the tagged variant Credential = Basic | X509.
type Credential struct {
	CredentialType CredentialType
	Basic          *BasicCredential
	X509           *X509Credential
}

func (c Credential) MarshalTLS() ([]byte, error) {
	switch c.CredentialType {
	case CredentialTypeBasic:
		body, err := syntax.Marshal(c.Basic)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(c.CredentialType)}, body...), nil
	case CredentialTypeX509:
		body, err := syntax.Marshal(c.X509)
		if err != nil {
			return nil, err
		}
		return append([]byte{byte(c.CredentialType)}, body...), nil
	default:
		return nil, fmt.Errorf("%w: unknown credential type %d", ErrInputDecode, c.CredentialType)
	}
}

func (c *Credential) UnmarshalTLS(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: short credential", ErrInputDecode)
	}
	ct := CredentialType(data[0])
	switch ct {
	case CredentialTypeBasic:
		var b BasicCredential
		n, err := syntax.Unmarshal(data[1:], &b)
		if err != nil {
			return 0, err
		}
		*c = Credential{CredentialType: ct, Basic: &b}
		return n + 1, nil
	case CredentialTypeX509:
		var x X509Credential
		n, err := syntax.Unmarshal(data[1:], &x)
		if err != nil {
			return 0, err
		}
		*c = Credential{CredentialType: ct, X509: &x}
		return n + 1, nil
	default:
		return 0, fmt.Errorf("%w: unknown credential type %d", ErrInputDecode, ct)
	}
}

// SignaturePublicKey extracts the key a signature over a payload
// binding this credential should be checked against.
func (c Credential) SignaturePublicKey() ([]byte, SignatureScheme, error) {
	if c.CredentialType != CredentialTypeBasic || c.Basic == nil {
		return nil, 0, fmt.Errorf("%w: non-basic credential not supported by this core", ErrInvalidState)
	}
	return c.Basic.PublicKey, c.Basic.SignatureScheme, nil
}
