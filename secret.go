package mls

import (
	"crypto/subtle"
	"fmt"
)

// ProtocolVersion identifies the wire version a Secret or signed
// payload was produced under.
type ProtocolVersion uint8

const ProtocolVersionMLS10 ProtocolVersion = 1

// Secret is an opaque byte sequence tagged with the ciphersuite and
// protocol version it was derived under. Equality and derivation
// preserve the tag; debug formatting never exposes the bytes.
type Secret struct {
	suite   CipherSuite
	version ProtocolVersion
	data    []byte
}

// NewSecret wraps raw bytes with a ciphersuite/version tag.
func NewSecret(suite CipherSuite, version ProtocolVersion, data []byte) Secret {
	return Secret{suite: suite, version: version, data: dup(data)}
}

// RandomSecret draws a fresh secret of the ciphersuite's hash length
// from the provider's RNG. RNG failure is fatal to the caller, who
// should treat it the same as any other ErrCrypto.
func RandomSecret(suite CipherSuite, version ProtocolVersion, provider CryptoProvider) (Secret, error) {
	n := suite.Constants().SecretSize
	raw, err := provider.Rand(n)
	if err != nil {
		return Secret{}, fmt.Errorf("mls: random secret: %w", ErrCrypto)
	}
	return NewSecret(suite, version, raw), nil
}

// Bytes returns the underlying bytes. Callers must not retain them
// past the secret's lifetime without zeroing their own copy.
func (s Secret) Bytes() []byte { return s.data }

func (s Secret) Len() int { return len(s.data) }

func (s Secret) Suite() CipherSuite       { return s.suite }
func (s Secret) Version() ProtocolVersion { return s.version }

// Equal performs a constant-time comparison of two secrets, including
// their tags (tag comparison is not itself required to be
// constant-time, but doing so costs nothing and avoids a second
// code path).
func (s Secret) Equal(o Secret) bool {
	tagEq := subtle.ConstantTimeByteEq(byte(s.version), byte(o.version)) &
		subtle.ConstantTimeEq(int32(s.suite), int32(o.suite))
	return tagEq == 1 && subtle.ConstantTimeCompare(s.data, o.data) == 1
}

// Zero overwrites the underlying bytes with zeroes, as required on
// drop.
func (s *Secret) Zero() {
	zeroize(s.data)
}

// String never exposes secret contents.
func (s Secret) String() string {
	return fmt.Sprintf("Secret{suite=%d, version=%d, len=%d}", s.suite, s.version, len(s.data))
}

func (s Secret) GoString() string { return s.String() }

func dup(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func zeroize(data []byte) {
	for i := range data {
		data[i] = 0
	}
}

// hkdfExtract performs HKDF-Extract(salt, ikm) for the suite's hash via
// the pluggable CryptoProvider, per spec.md §6's provider interface.
func hkdfExtract(provider CryptoProvider, suite CipherSuite, salt, ikm Secret) (Secret, error) {
	out, err := provider.HKDFExtract(suite, salt.data, ikm.data)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: hkdf extract", ErrCrypto)
	}
	return NewSecret(suite, ikm.version, out), nil
}

// encodedLabel is the "mls10 <label>" TLS-encoded info input shared by
// hkdfExpandLabel and deriveSecret.
func encodedLabel(length uint16, label string, context []byte) []byte {
	labelData := append([]byte("mls10 "), []byte(label)...)
	out := make([]byte, 0, 2+1+len(labelData)+4+len(context))
	out = append(out, byte(length>>8), byte(length))
	out = append(out, byte(len(labelData)))
	out = append(out, labelData...)
	ctxLen := uint32(len(context))
	out = append(out, byte(ctxLen>>24), byte(ctxLen>>16), byte(ctxLen>>8), byte(ctxLen))
	out = append(out, context...)
	return out
}

// hkdfExpandLabel derives length bytes of keying material from secret
// via HKDF-Expand, using the MLS label-encoding convention, routed
// through the pluggable CryptoProvider.
func hkdfExpandLabel(provider CryptoProvider, suite CipherSuite, secret Secret, label string, context []byte, length int) (Secret, error) {
	info := encodedLabel(uint16(length), label, context)
	out, err := provider.HKDFExpand(suite, secret.data, info, length)
	if err != nil {
		return Secret{}, fmt.Errorf("%w: hkdf expand", ErrCrypto)
	}
	return NewSecret(suite, secret.version, out), nil
}

// deriveSecret derives a secret-length value keyed by label and bound
// to context via its hash digest.
func deriveSecret(provider CryptoProvider, suite CipherSuite, secret Secret, label string, context []byte) (Secret, error) {
	h := suite.hashFunc()()
	h.Write(context)
	contextHash := h.Sum(nil)
	return hkdfExpandLabel(provider, suite, secret, label, contextHash, suite.Constants().SecretSize)
}

// Mac is a message-authentication tag. Construction is HKDF-Extract
// under the hood (the MLS confirmation/membership tags use the
// extract step of HKDF as their MAC), and comparison is constant-time.
type Mac struct {
	data []byte
}

// NewMac computes HMAC(salt=salt, ikm) equivalent to HKDF-Extract for
// the suite's hash, via the pluggable CryptoProvider.
func NewMac(provider CryptoProvider, suite CipherSuite, salt, ikm []byte) (Mac, error) {
	out, err := provider.HKDFExtract(suite, salt, ikm)
	if err != nil {
		return Mac{}, fmt.Errorf("%w: mac", ErrCrypto)
	}
	return Mac{data: out}, nil
}

func (m Mac) Bytes() []byte { return m.data }

// Equal performs constant-time comparison (§8 property 4: runtime must
// be independent of the position of the first differing byte).
func (m Mac) Equal(o Mac) bool {
	return subtle.ConstantTimeCompare(m.data, o.data) == 1
}

func (m Mac) String() string  { return fmt.Sprintf("Mac{len=%d}", len(m.data)) }
func (m Mac) GoString() string { return m.String() }
