package txqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
	"github.com/irohad/sumeragi/internal/txqueue"
)

type fakeView struct {
	committed map[crypto.Hash]struct{}
}

func (v fakeView) Height() uint64 { return 0 }

func (v fakeView) HasTransaction(h crypto.Hash) bool {
	_, ok := v.committed[h]
	return ok
}

func tx(author string, at time.Time) core.AcceptedTransaction {
	t := core.Transaction{
		ChainID:        "test",
		Author:         author,
		CreatedAtMilli: at.UnixMilli(),
		Instructions:   []core.Instruction{{Kind: "noop"}},
	}
	return t.ToAccepted()
}

func TestPushAndPopRoundTrip(t *testing.T) {
	q := txqueue.New(txqueue.DefaultLimits, nil, nil)
	now := time.Now()
	accepted := tx("alice@wonderland", now)

	require.NoError(t, q.Push(accepted, nil, now))
	assert.Equal(t, 1, q.Len())

	got, ok := q.Pop(nil, now)
	require.True(t, ok)
	assert.Equal(t, accepted.Hash, got.Hash)
	assert.Equal(t, 0, q.Len())
}

func TestPushRejectsDuplicateHash(t *testing.T) {
	q := txqueue.New(txqueue.DefaultLimits, nil, nil)
	now := time.Now()
	accepted := tx("alice@wonderland", now)

	require.NoError(t, q.Push(accepted, nil, now))
	err := q.Push(accepted, nil, now)
	require.Error(t, err)
	var rejectErr *txqueue.RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, txqueue.ReasonIsInQueue, rejectErr.Reason)
}

func TestPushRejectsFutureTransaction(t *testing.T) {
	q := txqueue.New(txqueue.DefaultLimits, nil, nil)
	now := time.Now()
	accepted := tx("alice@wonderland", now.Add(time.Hour))

	err := q.Push(accepted, nil, now)
	require.Error(t, err)
	var rejectErr *txqueue.RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, txqueue.ReasonInFuture, rejectErr.Reason)
}

func TestPushRejectsExpiredTransaction(t *testing.T) {
	q := txqueue.New(txqueue.DefaultLimits, nil, nil)
	now := time.Now()
	accepted := tx("alice@wonderland", now.Add(-48*time.Hour))

	err := q.Push(accepted, nil, now)
	require.Error(t, err)
	var rejectErr *txqueue.RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, txqueue.ReasonExpired, rejectErr.Reason)
}

func TestPushRejectsAlreadyCommitted(t *testing.T) {
	q := txqueue.New(txqueue.DefaultLimits, nil, nil)
	now := time.Now()
	accepted := tx("alice@wonderland", now)
	view := fakeView{committed: map[crypto.Hash]struct{}{accepted.Hash: {}}}

	err := q.Push(accepted, view, now)
	require.Error(t, err)
	var rejectErr *txqueue.RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, txqueue.ReasonInBlockchain, rejectErr.Reason)
}

func TestPushRejectsFullQueue(t *testing.T) {
	limits := txqueue.DefaultLimits
	limits.Capacity = 1
	q := txqueue.New(limits, nil, nil)
	now := time.Now()

	require.NoError(t, q.Push(tx("alice@wonderland", now), nil, now))
	err := q.Push(tx("bob@wonderland", now), nil, now)
	require.Error(t, err)
	var rejectErr *txqueue.RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, txqueue.ReasonFull, rejectErr.Reason)
}

func TestPushRejectsPerAuthorCapacity(t *testing.T) {
	limits := txqueue.DefaultLimits
	limits.MaxPerAuthor = 1
	q := txqueue.New(limits, nil, nil)
	now := time.Now()

	require.NoError(t, q.Push(tx("alice@wonderland", now), nil, now))

	second := core.Transaction{
		ChainID:        "test",
		Author:         "alice@wonderland",
		CreatedAtMilli: now.UnixMilli(),
		Instructions:   []core.Instruction{{Kind: "noop2"}},
	}.ToAccepted()

	err := q.Push(second, nil, now)
	require.Error(t, err)
	var rejectErr *txqueue.RejectError
	require.ErrorAs(t, err, &rejectErr)
	assert.Equal(t, txqueue.ReasonMaximumTransactionsPerUser, rejectErr.Reason)
}

func TestDrainForBlockSkipsDuplicatesAlreadyInOutput(t *testing.T) {
	q := txqueue.New(txqueue.DefaultLimits, nil, nil)
	now := time.Now()

	var existing []core.AcceptedTransaction
	for i := 0; i < 3; i++ {
		accepted := core.Transaction{
			ChainID:        "test",
			Author:         "alice@wonderland",
			CreatedAtMilli: now.UnixMilli(),
			Instructions:   []core.Instruction{{Kind: "noop", Payload: []byte{byte(i)}}},
		}.ToAccepted()
		require.NoError(t, q.Push(accepted, nil, now))
		if i == 0 {
			existing = append(existing, accepted)
		}
	}

	out := q.DrainForBlock(10, existing)
	assert.Len(t, out, 3)
}

func TestSampleDoesNotRemoveEntries(t *testing.T) {
	q := txqueue.New(txqueue.DefaultLimits, nil, nil)
	now := time.Now()
	for i := 0; i < 5; i++ {
		accepted := core.Transaction{
			ChainID:        "test",
			Author:         "alice@wonderland",
			CreatedAtMilli: now.UnixMilli(),
			Instructions:   []core.Instruction{{Kind: "noop", Payload: []byte{byte(i)}}},
		}.ToAccepted()
		require.NoError(t, q.Push(accepted, nil, now))
	}

	sample := q.Sample(2)
	assert.Len(t, sample, 2)
	assert.Equal(t, 5, q.Len())
}

func TestPopOnEmptyQueueReturnsFalse(t *testing.T) {
	q := txqueue.New(txqueue.DefaultLimits, nil, nil)
	_, ok := q.Pop(nil, time.Now())
	assert.False(t, ok)
}
