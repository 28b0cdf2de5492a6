package mls

import "fmt"

// keyAndNonce is one derived (key, nonce) pair from a hash ratchet.
type keyAndNonce struct {
	Key   []byte
	Nonce []byte
}

func (k keyAndNonce) clone() keyAndNonce {
	return keyAndNonce{Key: dup(k.Key), Nonce: dup(k.Nonce)}
}

// hashRatchet is a single per-node generation chain: each Next() call
// advances NextSecret and yields the (key, nonce, generation) for the
// consumed step, grounded on the per-leaf application/handshake
// ratchets of spec.md §4.5.
type hashRatchet struct {
	provider       CryptoProvider
	suite          CipherSuite
	node           NodeIndex
	label          string
	nextSecret     Secret
	nextGeneration uint32
	cache          map[uint32]keyAndNonce
}

func newHashRatchet(provider CryptoProvider, suite CipherSuite, node NodeIndex, label string, baseSecret Secret) *hashRatchet {
	return &hashRatchet{
		provider:   provider,
		suite:      suite,
		node:       node,
		label:      label,
		nextSecret: baseSecret,
		cache:      map[uint32]keyAndNonce{},
	}
}

func (hr *hashRatchet) deriveTreeSecret(label string, generation uint32, length int) ([]byte, error) {
	ctx := nodeContext(NodeIndex(generation))
	s, err := hkdfExpandLabel(hr.provider, hr.suite, hr.nextSecret, label, ctx, length)
	if err != nil {
		return nil, err
	}
	return s.Bytes(), nil
}

func (hr *hashRatchet) next() (uint32, keyAndNonce, error) {
	c := hr.suite.Constants()
	key, err := hr.deriveTreeSecret(hr.label+"-key", hr.nextGeneration, c.KeySize)
	if err != nil {
		return 0, keyAndNonce{}, err
	}
	nonce, err := hr.deriveTreeSecret(hr.label+"-nonce", hr.nextGeneration, c.NonceSize)
	if err != nil {
		return 0, keyAndNonce{}, err
	}
	secret, err := hr.deriveTreeSecret(hr.label+"-secret", hr.nextGeneration, c.SecretSize)
	if err != nil {
		return 0, keyAndNonce{}, err
	}

	generation := hr.nextGeneration
	hr.nextGeneration++
	hr.nextSecret.Zero()
	hr.nextSecret = NewSecret(hr.suite, hr.nextSecret.Version(), secret)

	kn := keyAndNonce{Key: key, Nonce: nonce}
	hr.cache[generation] = kn
	return generation, kn.clone(), nil
}

// get returns the (key, nonce) for generation, deriving and caching
// every intermediate generation as needed. Asking for an already
// consumed-and-erased generation is SecretReuse; asking too far ahead
// of maxFutureGenerations is TooDistant.
func (hr *hashRatchet) get(generation uint32, maxFutureGenerations uint32) (keyAndNonce, error) {
	if kn, ok := hr.cache[generation]; ok {
		return kn, nil
	}
	if generation < hr.nextGeneration {
		return keyAndNonce{}, fmt.Errorf("%w: generation %d already consumed", ErrSecretReuse, generation)
	}
	if generation-hr.nextGeneration > maxFutureGenerations {
		return keyAndNonce{}, fmt.Errorf("%w: generation %d too far ahead", ErrTooDistant, generation)
	}
	for hr.nextGeneration < generation {
		if _, _, err := hr.next(); err != nil {
			return keyAndNonce{}, err
		}
	}
	_, kn, err := hr.next()
	if err != nil {
		return keyAndNonce{}, err
	}
	return kn, nil
}

func (hr *hashRatchet) erase(generation uint32) {
	kn, ok := hr.cache[generation]
	if !ok {
		return
	}
	zeroize(kn.Key)
	zeroize(kn.Nonce)
	delete(hr.cache, generation)
}

// secretTreeNode is a slot of the secret tree: populated until both
// children are derived from it, at which point spec.md §4.5 requires
// it be deleted.
type secretTreeNode struct {
	secret Secret
	filled bool
}

// SecretTree hands out per-leaf, per-purpose (handshake/application)
// hash ratchets, lazily expanding a tree of the same shape as the
// ratchet tree from a single encryption_secret at its root.
type SecretTree struct {
	provider             CryptoProvider
	suite                CipherSuite
	size                  LeafCount
	maxFutureGenerations  uint32
	nodes                 map[NodeIndex]secretTreeNode
	handshakeRatchets     map[LeafIndex]*hashRatchet
	applicationRatchets   map[LeafIndex]*hashRatchet
}

// NewSecretTree seeds the root with encryptionSecret. maxFutureGenerations
// bounds how far ahead of a ratchet's current generation get() will
// derive before returning TooDistant (a guard against unbounded
// memory growth from a malicious generation number).
func NewSecretTree(provider CryptoProvider, suite CipherSuite, size LeafCount, encryptionSecret Secret, maxFutureGenerations uint32) *SecretTree {
	st := &SecretTree{
		provider:             provider,
		suite:                suite,
		size:                 size,
		maxFutureGenerations: maxFutureGenerations,
		nodes:                map[NodeIndex]secretTreeNode{},
		handshakeRatchets:    map[LeafIndex]*hashRatchet{},
		applicationRatchets:  map[LeafIndex]*hashRatchet{},
	}
	st.nodes[root(size)] = secretTreeNode{secret: encryptionSecret, filled: true}
	return st
}

func (st *SecretTree) leafSecret(l LeafIndex) (Secret, error) {
	target := toNodeIndex(l)
	// Walk down from the root toward the leaf, deriving "tree" children
	// on demand and deleting the parent once both children exist. A
	// node already expanded by an earlier lookup is simply stepped past.
	cur := root(st.size)
	for cur != target {
		l := left(cur)
		r := right(cur, st.size)
		next := r
		if inPath(target, l) || target == l {
			next = l
		}
		node, ok := st.nodes[cur]
		if !ok {
			cur = next
			continue
		}
		leftSecret, err := deriveSecret(st.provider, st.suite, node.secret, "tree", nodeContext(l))
		if err != nil {
			return Secret{}, err
		}
		rightSecret, err := deriveSecret(st.provider, st.suite, node.secret, "tree", nodeContext(r))
		if err != nil {
			return Secret{}, err
		}
		st.nodes[l] = secretTreeNode{secret: leftSecret, filled: true}
		st.nodes[r] = secretTreeNode{secret: rightSecret, filled: true}
		node.secret.Zero()
		delete(st.nodes, cur)
		cur = next
	}
	out, ok := st.nodes[target]
	if !ok {
		return Secret{}, fmt.Errorf("%w: node %d not derivable", ErrInvalidTree, target)
	}
	return out.secret, nil
}

func nodeContext(n NodeIndex) []byte {
	return []byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func (st *SecretTree) handshakeRatchet(l LeafIndex) (*hashRatchet, error) {
	if r, ok := st.handshakeRatchets[l]; ok {
		return r, nil
	}
	base, err := st.leafSecret(l)
	if err != nil {
		return nil, err
	}
	hs, err := deriveSecret(st.provider, st.suite, base, "handshake", nil)
	if err != nil {
		return nil, err
	}
	r := newHashRatchet(st.provider, st.suite, toNodeIndex(l), "handshake", hs)
	st.handshakeRatchets[l] = r
	return r, nil
}

func (st *SecretTree) applicationRatchet(l LeafIndex) (*hashRatchet, error) {
	if r, ok := st.applicationRatchets[l]; ok {
		return r, nil
	}
	base, err := st.leafSecret(l)
	if err != nil {
		return nil, err
	}
	app, err := deriveSecret(st.provider, st.suite, base, "application", nil)
	if err != nil {
		return nil, err
	}
	r := newHashRatchet(st.provider, st.suite, toNodeIndex(l), "application", app)
	st.applicationRatchets[l] = r
	return r, nil
}

// GetNonceAndKey returns the (key, nonce) for (leaf, generation) in
// the requested chain ("handshake" or "application").
func (st *SecretTree) GetNonceAndKey(l LeafIndex, handshake bool, generation uint32) (key, nonce []byte, err error) {
	var r *hashRatchet
	if handshake {
		r, err = st.handshakeRatchet(l)
	} else {
		r, err = st.applicationRatchet(l)
	}
	if err != nil {
		return nil, nil, err
	}
	kn, err := r.get(generation, st.maxFutureGenerations)
	if err != nil {
		return nil, nil, err
	}
	return kn.Key, kn.Nonce, nil
}

// Erase deletes a consumed generation's key material so a compromised
// later state cannot recover earlier application traffic.
func (st *SecretTree) Erase(l LeafIndex, handshake bool, generation uint32) {
	var r *hashRatchet
	var ok bool
	if handshake {
		r, ok = st.handshakeRatchets[l]
	} else {
		r, ok = st.applicationRatchets[l]
	}
	if !ok {
		return
	}
	r.erase(generation)
}

// keyScheduleState names the position in the linear state machine of
// spec.md §4.4.
type keyScheduleState int

const (
	stateInit keyScheduleState = iota
	stateJoinerDerived
	stateContextAdded
	stateEpochSecretsComputed
)

// EpochSecrets is the full derived bundle materialized once a
// KeySchedule reaches EpochSecretsComputed.
type EpochSecrets struct {
	Joiner         Secret
	Welcome        Secret
	Epoch          Secret
	SenderData     Secret
	Encryption     Secret
	Exporter       Secret
	Authentication Secret
	External       Secret
	Membership     Secret
	Confirmation   Secret
	Resumption     Secret
	Init           Secret
}

// KeySchedule drives one epoch's secrets through the four states
// Init → JoinerDerived → ContextAdded → EpochSecretsComputed. Calling
// a step out of order returns InvalidState rather than silently
// deriving from zero values.
type KeySchedule struct {
	provider CryptoProvider
	suite    CipherSuite
	state    keyScheduleState

	joinerSecret Secret
	pskSecret    Secret
	extracted    Secret
	welcomeSecret Secret

	groupContext []byte
	epochSecret  Secret
	secrets      EpochSecrets
}

func NewKeySchedule(provider CryptoProvider, suite CipherSuite) *KeySchedule {
	return &KeySchedule{provider: provider, suite: suite, state: stateInit}
}

// Init consumes the joiner_secret (fresh randomness from the
// committer, or carried in a Welcome for a new joiner) and an optional
// PSK input secret, producing the welcome_secret.
func (ks *KeySchedule) Init(joinerSecret, pskSecret Secret) error {
	if ks.state != stateInit {
		return fmt.Errorf("%w: Init called out of order", ErrInvalidState)
	}
	ks.joinerSecret = joinerSecret
	ks.pskSecret = pskSecret
	extracted, err := hkdfExtract(ks.provider, ks.suite, joinerSecret, pskSecret)
	if err != nil {
		return err
	}
	ks.extracted = extracted
	welcomeSecret, err := deriveSecret(ks.provider, ks.suite, ks.extracted, "welcome", nil)
	if err != nil {
		return err
	}
	ks.welcomeSecret = welcomeSecret
	ks.state = stateJoinerDerived
	return nil
}

// WelcomeSecret is available once Init has run.
func (ks *KeySchedule) WelcomeSecret() (Secret, error) {
	if ks.state < stateJoinerDerived {
		return Secret{}, fmt.Errorf("%w: welcome secret requested before Init", ErrInvalidState)
	}
	return ks.welcomeSecret, nil
}

// AddContext binds the epoch's GroupContext (group_id, epoch,
// tree_hash, confirmed_transcript_hash, extensions — encoded by the
// caller) and derives epoch_secret.
func (ks *KeySchedule) AddContext(groupContext []byte) error {
	if ks.state != stateJoinerDerived {
		return fmt.Errorf("%w: AddContext called out of order", ErrInvalidState)
	}
	ks.groupContext = dup(groupContext)
	epochSecret, err := hkdfExpandLabel(ks.provider, ks.suite, ks.extracted, "epoch", groupContext, ks.suite.Constants().SecretSize)
	if err != nil {
		return err
	}
	ks.epochSecret = epochSecret
	ks.state = stateContextAdded
	return nil
}

// ComputeEpochSecrets derives every per-purpose secret from
// epoch_secret, completing the state machine.
func (ks *KeySchedule) ComputeEpochSecrets() (EpochSecrets, error) {
	if ks.state != stateContextAdded {
		return EpochSecrets{}, fmt.Errorf("%w: ComputeEpochSecrets called out of order", ErrInvalidState)
	}
	var derivErr error
	derive := func(label string) Secret {
		if derivErr != nil {
			return Secret{}
		}
		s, err := deriveSecret(ks.provider, ks.suite, ks.epochSecret, label, nil)
		if err != nil {
			derivErr = err
			return Secret{}
		}
		return s
	}
	ks.secrets = EpochSecrets{
		Joiner:         ks.joinerSecret,
		Welcome:        ks.welcomeSecret,
		Epoch:          ks.epochSecret,
		SenderData:     derive("sender data"),
		Encryption:     derive("encryption"),
		Exporter:       derive("exporter"),
		Authentication: derive("authentication"),
		External:       derive("external"),
		Membership:     derive("membership"),
		Confirmation:   derive("confirmation"),
		Resumption:     derive("resumption"),
		Init:           derive("init"),
	}
	if derivErr != nil {
		return EpochSecrets{}, derivErr
	}
	ks.state = stateEpochSecretsComputed
	return ks.secrets, nil
}

// Secrets returns the computed bundle, failing if the schedule hasn't
// reached EpochSecretsComputed.
func (ks *KeySchedule) Secrets() (EpochSecrets, error) {
	if ks.state != stateEpochSecretsComputed {
		return EpochSecrets{}, fmt.Errorf("%w: epoch secrets not yet computed", ErrInvalidState)
	}
	return ks.secrets, nil
}

// ConfirmationTag computes MAC(confirmation_key, confirmed_transcript_hash).
func (ks *KeySchedule) ConfirmationTag(confirmedTranscriptHash []byte) (Mac, error) {
	secrets, err := ks.Secrets()
	if err != nil {
		return Mac{}, err
	}
	return NewMac(ks.provider, ks.suite, secrets.Confirmation.Bytes(), confirmedTranscriptHash)
}

// NextInitSecret returns this epoch's init_secret, from which the next
// epoch's joiner_secret chain continues; the schedule itself is not
// modified.
func (ks *KeySchedule) NextInitSecret() (Secret, error) {
	secrets, err := ks.Secrets()
	if err != nil {
		return Secret{}, err
	}
	return secrets.Init, nil
}
