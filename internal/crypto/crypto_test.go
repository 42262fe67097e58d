package crypto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irohad/sumeragi/internal/crypto"
)

func TestSignVerifyRoundTrip_Ed25519(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)

	payload := []byte("iroha consensus payload")
	sig, err := crypto.Sign(kp.Private, payload)
	require.NoError(t, err)
	assert.Equal(t, crypto.Ed25519, sig.Algorithm)

	assert.NoError(t, crypto.Verify(kp.Public, payload, sig))
}

func TestSignVerifyRoundTrip_Secp256k1(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Secp256k1)
	require.NoError(t, err)

	payload := []byte("iroha consensus payload")
	sig, err := crypto.Sign(kp.Private, payload)
	require.NoError(t, err)
	assert.Equal(t, crypto.Secp256k1, sig.Algorithm)

	assert.NoError(t, crypto.Verify(kp.Public, payload, sig))
}

func TestVerifyFailsOnTamperedPayload(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)

	sig, err := crypto.Sign(kp.Private, []byte("original"))
	require.NoError(t, err)

	err = crypto.Verify(kp.Public, []byte("tampered"), sig)
	assert.ErrorIs(t, err, crypto.ErrVerificationFailed)
}

func TestVerifyRejectsMismatchedAlgorithms(t *testing.T) {
	edKP, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)
	secpKP, err := crypto.GenerateKeyPair(crypto.Secp256k1)
	require.NoError(t, err)

	sig, err := crypto.Sign(secpKP.Private, []byte("payload"))
	require.NoError(t, err)

	err = crypto.Verify(edKP.Public, []byte("payload"), sig)
	assert.ErrorIs(t, err, crypto.ErrUnsupportedAlgorithm)
}

func TestHashIsFixedWidth(t *testing.T) {
	h := crypto.SumBytes([]byte("anything"))
	assert.Len(t, h.Bytes(), crypto.HashSize)
}

func TestZeroHashSentinel(t *testing.T) {
	var h crypto.Hash
	assert.True(t, h.IsZero())
	h[0] = 1
	assert.False(t, h.IsZero())
}
