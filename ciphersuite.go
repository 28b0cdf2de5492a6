package mls

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sync"
)

// CipherSuite is a static descriptor identifying a hash, AEAD, HPKE
// KEM, and signature scheme. Only the suites registered below are
// accepted anywhere in the core.
type CipherSuite uint16

const (
	X25519_AES128GCM_SHA256_Ed25519        CipherSuite = 1
	P256_AES128GCM_SHA256_P256             CipherSuite = 2
	X25519_CHACHA20POLY1305_SHA256_Ed25519 CipherSuite = 3
	X448_AES256GCM_SHA512_Ed448            CipherSuite = 4
	P521_AES256GCM_SHA512_P521             CipherSuite = 5
	X448_CHACHA20POLY1305_SHA512_Ed448     CipherSuite = 6
	P384_AES256GCM_SHA384_P384             CipherSuite = 7
)

// KEMID, AEADID and KDFID mirror the HPKE (RFC 9180) identifiers a
// CipherSuite binds together; the concrete values only matter to the
// CryptoProvider implementation, not to the core state machine.
type KEMID uint16
type AEADID uint16
type KDFID uint16

const (
	KEMX25519 KEMID = 0x0020
	KEMP256   KEMID = 0x0010
	KEMP384   KEMID = 0x0011
	KEMP521   KEMID = 0x0012
	KEMX448   KEMID = 0x0021
)

const (
	AEADAES128GCM        AEADID = 0x0001
	AEADAES256GCM        AEADID = 0x0002
	AEADChaCha20Poly1305 AEADID = 0x0003
)

const (
	KDFHKDFSHA256 KDFID = 0x0001
	KDFHKDFSHA384 KDFID = 0x0002
	KDFHKDFSHA512 KDFID = 0x0003
)

// SignatureScheme identifies a ciphersuite's signature algorithm.
type SignatureScheme uint16

const (
	SignatureEd25519  SignatureScheme = 0x0807
	SignatureECDSAP256 SignatureScheme = 0x0403
	SignatureECDSAP384 SignatureScheme = 0x0503
	SignatureECDSAP521 SignatureScheme = 0x0603
	SignatureEd448    SignatureScheme = 0x0808
)

// CipherSuiteConstants carries the byte lengths derived from a suite's
// hash/AEAD/KEM, used to size secrets, keys, and nonces.
type CipherSuiteConstants struct {
	SecretSize int
	KeySize    int
	NonceSize  int
	HashSize   int
}

type cipherSuiteDescriptor struct {
	name      string
	kem       KEMID
	kdf       KDFID
	aead      AEADID
	sig       SignatureScheme
	hash      func() hash.Hash
	constants CipherSuiteConstants
}

var registry = struct {
	mu   sync.RWMutex
	data map[CipherSuite]cipherSuiteDescriptor
}{data: make(map[CipherSuite]cipherSuiteDescriptor)}

func init() {
	RegisterCipherSuite(X25519_AES128GCM_SHA256_Ed25519, cipherSuiteDescriptor{
		name: "MLS10_128_DHKEMX25519_AES128GCM_SHA256_Ed25519",
		kem:  KEMX25519, kdf: KDFHKDFSHA256, aead: AEADAES128GCM, sig: SignatureEd25519,
		hash:      sha256.New,
		constants: CipherSuiteConstants{SecretSize: 32, KeySize: 16, NonceSize: 12, HashSize: 32},
	})
	RegisterCipherSuite(P256_AES128GCM_SHA256_P256, cipherSuiteDescriptor{
		name: "MLS10_128_DHKEMP256_AES128GCM_SHA256_P256",
		kem:  KEMP256, kdf: KDFHKDFSHA256, aead: AEADAES128GCM, sig: SignatureECDSAP256,
		hash:      sha256.New,
		constants: CipherSuiteConstants{SecretSize: 32, KeySize: 16, NonceSize: 12, HashSize: 32},
	})
	RegisterCipherSuite(X25519_CHACHA20POLY1305_SHA256_Ed25519, cipherSuiteDescriptor{
		name: "MLS10_128_DHKEMX25519_CHACHA20POLY1305_SHA256_Ed25519",
		kem:  KEMX25519, kdf: KDFHKDFSHA256, aead: AEADChaCha20Poly1305, sig: SignatureEd25519,
		hash:      sha256.New,
		constants: CipherSuiteConstants{SecretSize: 32, KeySize: 32, NonceSize: 12, HashSize: 32},
	})
	RegisterCipherSuite(X448_AES256GCM_SHA512_Ed448, cipherSuiteDescriptor{
		name: "MLS10_256_DHKEMX448_AES256GCM_SHA512_Ed448",
		kem:  KEMX448, kdf: KDFHKDFSHA512, aead: AEADAES256GCM, sig: SignatureEd448,
		hash:      sha512.New,
		constants: CipherSuiteConstants{SecretSize: 64, KeySize: 32, NonceSize: 12, HashSize: 64},
	})
	RegisterCipherSuite(P521_AES256GCM_SHA512_P521, cipherSuiteDescriptor{
		name: "MLS10_256_DHKEMP521_AES256GCM_SHA512_P521",
		kem:  KEMP521, kdf: KDFHKDFSHA512, aead: AEADAES256GCM, sig: SignatureECDSAP521,
		hash:      sha512.New,
		constants: CipherSuiteConstants{SecretSize: 64, KeySize: 32, NonceSize: 12, HashSize: 64},
	})
	RegisterCipherSuite(X448_CHACHA20POLY1305_SHA512_Ed448, cipherSuiteDescriptor{
		name: "MLS10_256_DHKEMX448_CHACHA20POLY1305_SHA512_Ed448",
		kem:  KEMX448, kdf: KDFHKDFSHA512, aead: AEADChaCha20Poly1305, sig: SignatureEd448,
		hash:      sha512.New,
		constants: CipherSuiteConstants{SecretSize: 64, KeySize: 32, NonceSize: 12, HashSize: 64},
	})
	RegisterCipherSuite(P384_AES256GCM_SHA384_P384, cipherSuiteDescriptor{
		name: "MLS10_256_DHKEMP384_AES256GCM_SHA384_P384",
		kem:  KEMP384, kdf: KDFHKDFSHA384, aead: AEADAES256GCM, sig: SignatureECDSAP384,
		hash:      sha512.New384,
		constants: CipherSuiteConstants{SecretSize: 48, KeySize: 32, NonceSize: 12, HashSize: 48},
	})
}

// RegisterCipherSuite adds (or replaces, before first lookup) an entry
// in the process-wide read-only ciphersuite registry (spec.md §9
// "Static ciphersuite registry"). Eager init at program start, no
// teardown, no reconfiguration expected after first lookup — callers
// that want to avoid the global entirely can skip this and pass
// CipherSuite values directly to every call instead.
func RegisterCipherSuite(cs CipherSuite, d cipherSuiteDescriptor) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.data[cs] = d
}

// CipherSuiteByName looks up a registered suite by its descriptive
// name, e.g. for parsing conformance test vectors.
func CipherSuiteByName(name string) (CipherSuite, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	for cs, d := range registry.data {
		if d.name == name {
			return cs, true
		}
	}
	return 0, false
}

func (cs CipherSuite) descriptor() (cipherSuiteDescriptor, bool) {
	registry.mu.RLock()
	defer registry.mu.RUnlock()
	d, ok := registry.data[cs]
	return d, ok
}

// Supported reports whether cs is a registered, accepted ciphersuite.
func (cs CipherSuite) Supported() bool {
	_, ok := cs.descriptor()
	return ok
}

func (cs CipherSuite) String() string {
	if d, ok := cs.descriptor(); ok {
		return d.name
	}
	return fmt.Sprintf("CipherSuite(%d)", uint16(cs))
}

// Constants returns the byte-length parameters implied by this suite.
// Panics if the suite is unregistered — callers are expected to
// validate Supported() at the system boundary (decode time).
func (cs CipherSuite) Constants() CipherSuiteConstants {
	d, ok := cs.descriptor()
	if !ok {
		panic(fmt.Sprintf("mls: unsupported ciphersuite %d", cs))
	}
	return d.constants
}

func (cs CipherSuite) hashFunc() func() hash.Hash {
	d, ok := cs.descriptor()
	if !ok {
		panic(fmt.Sprintf("mls: unsupported ciphersuite %d", cs))
	}
	return d.hash
}

func (cs CipherSuite) KEM() KEMID {
	d, _ := cs.descriptor()
	return d.kem
}

func (cs CipherSuite) AEAD() AEADID {
	d, _ := cs.descriptor()
	return d.aead
}

func (cs CipherSuite) SignatureScheme() SignatureScheme {
	d, _ := cs.descriptor()
	return d.sig
}

// Hash computes H(data) under this suite's hash function.
func (cs CipherSuite) Hash(data []byte) []byte {
	h := cs.hashFunc()()
	h.Write(data)
	return h.Sum(nil)
}
