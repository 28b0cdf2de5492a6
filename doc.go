// Package mls implements the cryptographic core of the Messaging Layer
// Security (MLS) group key agreement protocol: tree-math addressing, the
// ratchet tree, the key schedule, the secret tree, proposal queueing, the
// commit/stage/merge engine, and the Welcome join procedure.
//
// The pluggable cryptographic provider (HPKE, AEAD, HKDF, signatures,
// hashing, RNG), the wire codec's underlying byte format, credential
// storage, and any managed-group façade live outside this package; it
// consumes a CryptoProvider and produces/consumes TLS-presentation encoded
// messages.
package mls
