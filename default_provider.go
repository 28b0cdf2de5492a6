package mls

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"

	hpke "github.com/cisco/go-hpke"
	x448 "git.schwanenlied.me/yawning/x448.git"
	"github.com/cloudflare/circl/sign/ed448"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// DefaultProvider is a reference CryptoProvider implementation backed
// by this module's domain-stack dependencies. It exists so the core's
// tests (and any caller without its own provider) have a concrete,
// working backend; it is not required reading to understand the
// protocol state machine in the rest of the package.
type DefaultProvider struct{}

var _ CryptoProvider = DefaultProvider{}

func (DefaultProvider) HKDFExtract(suite CipherSuite, salt, ikm []byte) ([]byte, error) {
	mac := hmac.New(suite.hashFunc(), salt)
	mac.Write(ikm)
	return mac.Sum(nil), nil
}

func (DefaultProvider) HKDFExpand(suite CipherSuite, prk, info []byte, length int) ([]byte, error) {
	r := hkdf.Expand(suite.hashFunc(), prk, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("%w: hkdf expand: %v", ErrCrypto, err)
	}
	return out, nil
}

func (DefaultProvider) Hash(suite CipherSuite, data []byte) ([]byte, error) {
	return suite.Hash(data), nil
}

func (DefaultProvider) Rand(length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, out); err != nil {
		return nil, fmt.Errorf("%w: rand: %v", ErrCrypto, err)
	}
	return out, nil
}

func aeadCipher(suite CipherSuite, key []byte) (cipher.AEAD, error) {
	switch suite.AEAD() {
	case AEADAES128GCM, AEADAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("%w: aes: %v", ErrCrypto, err)
		}
		return cipher.NewGCM(block)
	case AEADChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, fmt.Errorf("%w: unsupported aead", ErrCrypto)
	}
}

func (DefaultProvider) AEADSeal(suite CipherSuite, key, nonce, aad, plaintext []byte) ([]byte, error) {
	aead, err := aeadCipher(suite, key)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

func (DefaultProvider) AEADOpen(suite CipherSuite, key, nonce, aad, ciphertext []byte) ([]byte, error) {
	aead, err := aeadCipher(suite, key)
	if err != nil {
		return nil, err
	}
	pt, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		// Opaque: do not leak which check inside Open failed.
		return nil, fmt.Errorf("%w: aead open", ErrCrypto)
	}
	return pt, nil
}

// hpkeSuite translates a CipherSuite's HPKE config into cisco/go-hpke
// identifiers, for the KEMs that library supports directly
// (X25519, P-256, P-384, P-521). X448-family suites are handled by
// hpkeX448{Seal,Open} below, since this HPKE library predates the
// X448 KEM.
func hpkeSuite(suite CipherSuite) (hpke.CipherSuite, error) {
	cfg := suite.HPKEConfig()
	var kem hpke.KEMID
	switch cfg.KEM {
	case KEMX25519:
		kem = hpke.DHKEM_X25519
	case KEMP256:
		kem = hpke.DHKEM_P256
	case KEMP384:
		kem = hpke.DHKEM_P384
	case KEMP521:
		kem = hpke.DHKEM_P521
	default:
		return hpke.CipherSuite{}, fmt.Errorf("%w: kem not handled by go-hpke", ErrCrypto)
	}
	var kdf hpke.KDFID
	switch cfg.KDF {
	case KDFHKDFSHA256:
		kdf = hpke.KDF_HKDF_SHA256
	case KDFHKDFSHA384:
		kdf = hpke.KDF_HKDF_SHA384
	case KDFHKDFSHA512:
		kdf = hpke.KDF_HKDF_SHA512
	}
	var aead hpke.AEADID
	switch cfg.AEAD {
	case AEADAES128GCM:
		aead = hpke.AEAD_AESGCM128
	case AEADAES256GCM:
		aead = hpke.AEAD_AESGCM256
	case AEADChaCha20Poly1305:
		aead = hpke.AEAD_CHACHA20POLY1305
	}
	return hpke.AssembleCipherSuite(kem, kdf, aead)
}

func isX448(suite CipherSuite) bool {
	return suite.HPKEConfig().KEM == KEMX448
}

func (DefaultProvider) HPKEGenerateKeyPair(suite CipherSuite) (priv, pub []byte, err error) {
	if isX448(suite) {
		var sk [56]byte
		if _, err := io.ReadFull(rand.Reader, sk[:]); err != nil {
			return nil, nil, fmt.Errorf("%w: x448 keygen: %v", ErrCrypto, err)
		}
		var pk [56]byte
		x448.ScalarBaseMult(&pk, &sk)
		return sk[:], pk[:], nil
	}
	hs, err := hpkeSuite(suite)
	if err != nil {
		return nil, nil, err
	}
	skR, pkR, err := hs.KEM.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: hpke keygen: %v", ErrCrypto, err)
	}
	return hs.KEM.SerializePrivate(skR), hs.KEM.Serialize(pkR), nil
}

func (DefaultProvider) HPKEDeriveKeyPair(suite CipherSuite, seed []byte) (priv, pub []byte, err error) {
	if isX448(suite) {
		var sk [56]byte
		h := sha512.Sum512(seed)
		copy(sk[:], h[:56])
		var pk [56]byte
		x448.ScalarBaseMult(&pk, &sk)
		return sk[:], pk[:], nil
	}
	hs, err := hpkeSuite(suite)
	if err != nil {
		return nil, nil, err
	}
	skR, pkR, err := hs.KEM.DeriveKeyPair(seed)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: hpke derive keypair: %v", ErrCrypto, err)
	}
	return hs.KEM.SerializePrivate(skR), hs.KEM.Serialize(pkR), nil
}

func (DefaultProvider) HPKESeal(suite CipherSuite, pub, info, aad, plaintext []byte) (HPKECiphertext, error) {
	if isX448(suite) {
		return hpkeX448Seal(suite, pub, info, aad, plaintext)
	}
	hs, err := hpkeSuite(suite)
	if err != nil {
		return HPKECiphertext{}, err
	}
	pkR, err := hs.KEM.Deserialize(pub)
	if err != nil {
		return HPKECiphertext{}, fmt.Errorf("%w: hpke deserialize pub: %v", ErrCrypto, err)
	}
	enc, ctx, err := hpke.SetupBaseS(hs, rand.Reader, pkR, info)
	if err != nil {
		return HPKECiphertext{}, fmt.Errorf("%w: hpke setup sender", ErrCrypto)
	}
	ct := ctx.Seal(aad, plaintext)
	return HPKECiphertext{Enc: enc, Ciphertext: ct}, nil
}

func (DefaultProvider) HPKEOpen(suite CipherSuite, priv, info, aad []byte, ct HPKECiphertext) ([]byte, error) {
	if isX448(suite) {
		return hpkeX448Open(suite, priv, info, aad, ct)
	}
	hs, err := hpkeSuite(suite)
	if err != nil {
		return nil, err
	}
	skR, err := hs.KEM.DeserializePrivate(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke deserialize priv: %v", ErrCrypto, err)
	}
	ctx, err := hpke.SetupBaseR(hs, skR, ct.Enc, info)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke setup receiver", ErrCrypto)
	}
	pt, err := ctx.Open(aad, ct.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke open", ErrCrypto)
	}
	return pt, nil
}

// hpkeX448Seal/Open implement an RFC 9180 base-mode HPKE construction
// over the X448 KEM, mirroring the labeled-HKDF key-schedule shape of
// other_examples' BoringSSL hpke.go test runner (that file hand-rolls
// the same base-mode setup for X25519; this generalizes it to the
// X448 branch cisco/go-hpke's 2020 snapshot does not cover).
func hpkeX448Seal(suite CipherSuite, pubR, info, aad, plaintext []byte) (HPKECiphertext, error) {
	var skE, pkE [56]byte
	if _, err := io.ReadFull(rand.Reader, skE[:]); err != nil {
		return HPKECiphertext{}, fmt.Errorf("%w: x448 ephemeral: %v", ErrCrypto, err)
	}
	x448.ScalarBaseMult(&pkE, &skE)

	var pkRArr, ss [56]byte
	copy(pkRArr[:], pubR)
	x448.ScalarMult(&ss, &skE, &pkRArr)

	key, nonce, exporter := hpkeX448KeySchedule(suite, ss[:], pkE[:], pubR, info)
	_ = exporter
	aeadImpl, err := aeadCipher(suite, key)
	if err != nil {
		return HPKECiphertext{}, err
	}
	ct := aeadImpl.Seal(nil, nonce, plaintext, aad)
	return HPKECiphertext{Enc: pkE[:], Ciphertext: ct}, nil
}

func hpkeX448Open(suite CipherSuite, privR, info, aad []byte, ct HPKECiphertext) ([]byte, error) {
	var skR, pkE, ss [56]byte
	copy(skR[:], privR)
	copy(pkE[:], ct.Enc)
	x448.ScalarMult(&ss, &skR, &pkE)

	var pkRArr [56]byte
	x448.ScalarBaseMult(&pkRArr, &skR)

	key, nonce, _ := hpkeX448KeySchedule(suite, ss[:], ct.Enc, pkRArr[:], info)
	aeadImpl, err := aeadCipher(suite, key)
	if err != nil {
		return nil, err
	}
	pt, err := aeadImpl.Open(nil, nonce, ct.Ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: hpke open", ErrCrypto)
	}
	return pt, nil
}

// hpkeX448KeySchedule derives (key, base_nonce, exporter_secret) from
// the X448 shared secret, following RFC 9180 §5.1's base-mode
// KeySchedule (psk/psk_id empty).
func hpkeX448KeySchedule(suite CipherSuite, sharedSecret, enc, pkR, info []byte) (key, nonce, exporter []byte) {
	suiteID := append([]byte("HPKE"), byte(KEMX448>>8), byte(KEMX448))
	kdf := suite.HPKEConfig().KDF
	suiteID = append(suiteID, byte(kdf>>8), byte(kdf))
	suiteID = append(suiteID, byte(suite.HPKEConfig().AEAD>>8), byte(suite.HPKEConfig().AEAD))

	h := suite.hashFunc()
	extract := func(salt, ikm []byte) []byte {
		mac := hmac.New(h, salt)
		mac.Write(ikm)
		return mac.Sum(nil)
	}
	labeledExtract := func(salt []byte, label string, ikm []byte) []byte {
		labeled := append([]byte("HPKE-v1"), suiteID...)
		labeled = append(labeled, []byte(label)...)
		labeled = append(labeled, ikm...)
		return extract(salt, labeled)
	}
	labeledExpand := func(prk []byte, label string, labelInfo []byte, length int) []byte {
		lenBytes := []byte{byte(length >> 8), byte(length)}
		labeled := append(lenBytes, []byte("HPKE-v1")...)
		labeled = append(labeled, suiteID...)
		labeled = append(labeled, []byte(label)...)
		labeled = append(labeled, labelInfo...)
		r := hkdf.Expand(suite.hashFunc(), prk, labeled)
		out := make([]byte, length)
		io.ReadFull(r, out)
		return out
	}

	psk, pskIDHash := []byte{}, labeledExtract(nil, "psk_id_hash", nil)
	infoHash := labeledExtract(nil, "info_hash", info)
	keySchedCtx := append([]byte{0x00}, pskIDHash...)
	keySchedCtx = append(keySchedCtx, infoHash...)

	secret := labeledExtract(extract(nil, sharedSecret), "secret", psk)
	keyLen := suite.Constants().KeySize
	nonceLen := suite.Constants().NonceSize
	secretLen := suite.Constants().SecretSize

	key = labeledExpand(secret, "key", keySchedCtx, keyLen)
	nonce = labeledExpand(secret, "base_nonce", keySchedCtx, nonceLen)
	exporter = labeledExpand(secret, "exp", keySchedCtx, secretLen)
	return
}

func (DefaultProvider) Sign(suite CipherSuite, key, data []byte) ([]byte, error) {
	switch suite.SignatureScheme() {
	case SignatureEd25519:
		if len(key) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: bad ed25519 key size", ErrCrypto)
		}
		return ed25519.Sign(ed25519.PrivateKey(key), data), nil
	case SignatureEd448:
		if len(key) != ed448.PrivateKeySize {
			return nil, fmt.Errorf("%w: bad ed448 key size", ErrCrypto)
		}
		return ed448.Sign(ed448.PrivateKey(key), data, ""), nil
	case SignatureECDSAP256, SignatureECDSAP384, SignatureECDSAP521:
		curve := ecdsaCurve(suite.SignatureScheme())
		priv := new(ecdsa.PrivateKey)
		priv.Curve = curve
		priv.D = new(big.Int).SetBytes(key)
		priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(key)
		digest := suite.Hash(data)
		r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
		if err != nil {
			return nil, fmt.Errorf("%w: ecdsa sign: %v", ErrCrypto, err)
		}
		return asn1.Marshal(ecdsaSignature{R: r, S: s})
	default:
		return nil, fmt.Errorf("%w: unsupported signature scheme", ErrCrypto)
	}
}

func (DefaultProvider) Verify(suite CipherSuite, pub, data, sig []byte) bool {
	switch suite.SignatureScheme() {
	case SignatureEd25519:
		if len(pub) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
	case SignatureEd448:
		if len(pub) != ed448.PublicKeySize {
			return false
		}
		return ed448.Verify(ed448.PublicKey(pub), data, sig, "")
	case SignatureECDSAP256, SignatureECDSAP384, SignatureECDSAP521:
		curve := ecdsaCurve(suite.SignatureScheme())
		x, y := elliptic.Unmarshal(curve, pub)
		if x == nil {
			return false
		}
		pk := &ecdsa.PublicKey{Curve: curve, X: x, Y: y}
		var parsed ecdsaSignature
		if _, err := asn1.Unmarshal(sig, &parsed); err != nil {
			return false
		}
		digest := suite.Hash(data)
		return ecdsa.Verify(pk, digest, parsed.R, parsed.S)
	default:
		return false
	}
}

type ecdsaSignature struct {
	R, S *big.Int
}

func ecdsaCurve(sig SignatureScheme) elliptic.Curve {
	switch sig {
	case SignatureECDSAP256:
		return elliptic.P256()
	case SignatureECDSAP384:
		return elliptic.P384()
	case SignatureECDSAP521:
		return elliptic.P521()
	default:
		return elliptic.P256()
	}
}
