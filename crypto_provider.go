package mls

// HPKEConfig selects the KEM/KDF/AEAD combination an HPKE operation
// uses; it is derived from a CipherSuite but kept as its own type so a
// provider can be asked for "the HPKE config of this suite" without
// exposing the suite's internal descriptor.
type HPKEConfig struct {
	KEM  KEMID
	KDF  KDFID
	AEAD AEADID
}

func (cs CipherSuite) HPKEConfig() HPKEConfig {
	d, _ := cs.descriptor()
	return HPKEConfig{KEM: d.kem, KDF: d.kdf, AEAD: d.aead}
}

// HPKECiphertext is the (encapsulated key, ciphertext) pair produced
// by an HPKE seal.
type HPKECiphertext struct {
	Enc        []byte
	Ciphertext []byte
}

// CryptoProvider is the pluggable cryptographic backend the core
// consumes: the core reaches cryptographic primitives only through
// it, and the package's reference implementation is DefaultProvider
// (default_provider.go). Every operation it exposes is the provider
// interface of spec.md §6.
// Implementations MUST report the opaque ErrCrypto (wrapped) on any
// primitive failure — sealed-user-data failures (AEAD/HPKE open,
// signature verify) must not reveal which internal check failed.
type CryptoProvider interface {
	// HKDFExtract and HKDFExpand back every HKDF-based derivation in
	// the package: secret.go's hkdfExtract/hkdfExpandLabel/deriveSecret
	// and NewMac all call through here rather than reaching into a
	// concrete HKDF implementation directly.
	HKDFExtract(suite CipherSuite, salt, ikm []byte) ([]byte, error)
	HKDFExpand(suite CipherSuite, prk, info []byte, length int) ([]byte, error)
	Hash(suite CipherSuite, data []byte) ([]byte, error)

	AEADSeal(suite CipherSuite, key, nonce, aad, plaintext []byte) ([]byte, error)
	AEADOpen(suite CipherSuite, key, nonce, aad, ciphertext []byte) ([]byte, error)

	// HPKEGenerateKeyPair returns (private, public).
	HPKEGenerateKeyPair(suite CipherSuite) (priv, pub []byte, err error)
	// HPKEDeriveKeyPair derives a keypair deterministically from a
	// seed (used to turn a path secret into an HPKE keypair).
	HPKEDeriveKeyPair(suite CipherSuite, seed []byte) (priv, pub []byte, err error)
	HPKESeal(suite CipherSuite, pub, info, aad, plaintext []byte) (HPKECiphertext, error)
	HPKEOpen(suite CipherSuite, priv, info, aad []byte, ct HPKECiphertext) ([]byte, error)

	Sign(suite CipherSuite, key, data []byte) ([]byte, error)
	Verify(suite CipherSuite, pub, data, sig []byte) bool

	Rand(length int) ([]byte, error)
}
