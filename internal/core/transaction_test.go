package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
)

func signedTx(t *testing.T, kp crypto.KeyPair, author string, createdAt time.Time) core.Transaction {
	t.Helper()
	tx := core.Transaction{
		ChainID:        "wonderland",
		Author:         author,
		CreatedAtMilli: createdAt.UnixMilli(),
		Instructions:   []core.Instruction{{Kind: "Transfer", Payload: []byte("alice->bob:10")}},
	}
	signed, err := tx.Sign(kp.Private)
	require.NoError(t, err)
	return signed
}

func TestTransactionEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)
	tx := signedTx(t, kp, "alice@wonderland", time.Now())

	encoded := tx.Encode()
	decoded, err := core.DecodeTransaction(encoded)
	require.NoError(t, err)

	assert.Equal(t, tx.Hash(), decoded.Hash())
	assert.Equal(t, encoded, decoded.Encode())
}

func TestTransactionSignatureVerifies(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)
	tx := signedTx(t, kp, "alice@wonderland", time.Now())

	assert.NoError(t, tx.VerifySignatures(kp.Public))
}

func TestTransactionSignatureRejectsWrongKey(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)
	other, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)
	tx := signedTx(t, kp, "alice@wonderland", time.Now())

	assert.Error(t, tx.VerifySignatures(other.Public))
}

func TestTransactionWithNoSignaturesNeverVerifies(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)
	tx := core.Transaction{ChainID: "wonderland", Author: "alice@wonderland"}
	assert.Error(t, tx.VerifySignatures(kp.Public))
}

func TestCheckLimitsRejectsTooManyInstructions(t *testing.T) {
	tx := core.Transaction{
		Instructions: make([]core.Instruction, 10),
	}
	lim := core.Limits{MaxInstructions: 5, MaxPayloadBytes: 1 << 20}
	assert.Error(t, tx.CheckLimits(lim))
}

func TestCheckLimitsRejectsOversizedPayload(t *testing.T) {
	tx := core.Transaction{
		Instructions: []core.Instruction{{Kind: "k", Payload: make([]byte, 100)}},
	}
	lim := core.Limits{MaxInstructions: 10, MaxPayloadBytes: 10}
	assert.Error(t, tx.CheckLimits(lim))
}

func TestCheckCreationTime_ExactlyAtThresholdIsAccepted(t *testing.T) {
	now := time.Now()
	lim := core.Limits{FutureThreshold: time.Minute}
	tx := core.Transaction{CreatedAtMilli: now.Add(time.Minute).UnixMilli()}
	assert.NoError(t, tx.CheckCreationTime(now, lim))
}

func TestCheckCreationTime_PastThresholdIsRejected(t *testing.T) {
	now := time.Now()
	lim := core.Limits{FutureThreshold: time.Minute}
	tx := core.Transaction{CreatedAtMilli: now.Add(time.Minute + time.Millisecond).UnixMilli()}
	assert.Error(t, tx.CheckCreationTime(now, lim))
}
