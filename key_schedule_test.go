package mls

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func runKeySchedule(t *testing.T, joinerSecret, pskSecret Secret, groupContext []byte) EpochSecrets {
	t.Helper()
	ks := NewKeySchedule(DefaultProvider{}, testSuite)
	require.NoError(t, ks.Init(joinerSecret, pskSecret))
	require.NoError(t, ks.AddContext(groupContext))
	secrets, err := ks.ComputeEpochSecrets()
	require.NoError(t, err)
	return secrets
}

// Property 5 — identical (joiner_secret, psk_secret, group_context) inputs
// must yield byte-identical epoch secrets.
func TestKeyScheduleDeterministic(t *testing.T) {
	joinerSecret := NewSecret(testSuite, ProtocolVersionMLS10, []byte("joiner-secret-joiner-secret-32!"))
	pskSecret := NewSecret(testSuite, ProtocolVersionMLS10, make([]byte, testSuite.Constants().SecretSize))
	groupContext := []byte("fixed-group-context")

	a := runKeySchedule(t, joinerSecret, pskSecret, groupContext)
	b := runKeySchedule(t, joinerSecret, pskSecret, groupContext)

	require.Equal(t, a.Joiner.Bytes(), b.Joiner.Bytes())
	require.Equal(t, a.Welcome.Bytes(), b.Welcome.Bytes())
	require.Equal(t, a.Epoch.Bytes(), b.Epoch.Bytes())
	require.Equal(t, a.SenderData.Bytes(), b.SenderData.Bytes())
	require.Equal(t, a.Encryption.Bytes(), b.Encryption.Bytes())
	require.Equal(t, a.Exporter.Bytes(), b.Exporter.Bytes())
	require.Equal(t, a.Authentication.Bytes(), b.Authentication.Bytes())
	require.Equal(t, a.External.Bytes(), b.External.Bytes())
	require.Equal(t, a.Membership.Bytes(), b.Membership.Bytes())
	require.Equal(t, a.Confirmation.Bytes(), b.Confirmation.Bytes())
	require.Equal(t, a.Resumption.Bytes(), b.Resumption.Bytes())
}

// A different group context must change every derived secret, since
// every purpose label is derived from an epoch_secret that itself
// binds the context.
func TestKeyScheduleContextChangesSecrets(t *testing.T) {
	joinerSecret := NewSecret(testSuite, ProtocolVersionMLS10, []byte("joiner-secret-joiner-secret-32!"))
	pskSecret := NewSecret(testSuite, ProtocolVersionMLS10, make([]byte, testSuite.Constants().SecretSize))

	a := runKeySchedule(t, joinerSecret, pskSecret, []byte("context-a"))
	b := runKeySchedule(t, joinerSecret, pskSecret, []byte("context-b"))

	require.NotEqual(t, a.Epoch.Bytes(), b.Epoch.Bytes())
	require.NotEqual(t, a.Encryption.Bytes(), b.Encryption.Bytes())
}

// Calling a state-machine step out of order is rejected rather than
// silently deriving from zero-valued intermediate state.
func TestKeyScheduleRejectsOutOfOrderCalls(t *testing.T) {
	ks := NewKeySchedule(DefaultProvider{}, testSuite)
	err := ks.AddContext([]byte("context"))
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = ks.ComputeEpochSecrets()
	require.ErrorIs(t, err, ErrInvalidState)

	joinerSecret := NewSecret(testSuite, ProtocolVersionMLS10, make([]byte, testSuite.Constants().SecretSize))
	pskSecret := NewSecret(testSuite, ProtocolVersionMLS10, make([]byte, testSuite.Constants().SecretSize))
	require.NoError(t, ks.Init(joinerSecret, pskSecret))
	require.ErrorIs(t, ks.Init(joinerSecret, pskSecret), ErrInvalidState)
}

// The secret tree derives distinct, reproducible per-generation
// (key, nonce) pairs per leaf and chain, and refuses reuse of an
// already-consumed generation once queried in order.
func TestSecretTreePerLeafRatchets(t *testing.T) {
	encryptionSecret := NewSecret(testSuite, ProtocolVersionMLS10, []byte("encryption-secret-32-bytes-long"))
	st := NewSecretTree(DefaultProvider{}, testSuite, 4, encryptionSecret, 1<<10)

	k0, n0, err := st.GetNonceAndKey(0, false, 0)
	require.NoError(t, err)
	k1, n1, err := st.GetNonceAndKey(1, false, 0)
	require.NoError(t, err)
	require.NotEqual(t, k0, k1)
	require.NotEqual(t, n0, n1)

	k0Again, n0Again, err := st.GetNonceAndKey(0, false, 0)
	require.NoError(t, err)
	require.Equal(t, k0, k0Again)
	require.Equal(t, n0, n0Again)

	st.Erase(0, false, 0)
	_, _, err = st.GetNonceAndKey(0, false, 0)
	require.ErrorIs(t, err, ErrSecretReuse)

	_, _, err = st.GetNonceAndKey(0, false, 1<<20)
	require.ErrorIs(t, err, ErrTooDistant)
}
