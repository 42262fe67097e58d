// Package txqueue implements the bounded, multi-producer/single-consumer
// transaction queue that feeds block proposals. A bounded FIFO
// of hashes, a hash-to-transaction map, and a per-author count are kept
// mutually consistent under a single lock.
package txqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irohad/sumeragi/internal/consensuserrors"
	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
	"github.com/irohad/sumeragi/internal/eventbus"
	"github.com/irohad/sumeragi/internal/worldstate"
)

// RejectReason names why Push refused a transaction.
type RejectReason string

const (
	ReasonInFuture                   RejectReason = "in_future"
	ReasonExpired                    RejectReason = "expired"
	ReasonInBlockchain               RejectReason = "in_blockchain"
	ReasonIsInQueue                  RejectReason = "is_in_queue"
	ReasonFull                       RejectReason = "full"
	ReasonMaximumTransactionsPerUser RejectReason = "maximum_transactions_per_user"
)

// RejectError is returned by Push when a transaction is refused.
type RejectError struct {
	Reason RejectReason
	Hash   crypto.Hash
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("txqueue: rejected %s: %s", e.Hash, e.Reason)
}

// Limits bounds queue capacity and transaction freshness.
type Limits struct {
	Capacity        int
	MaxPerAuthor    int
	QueueTTL        time.Duration
	FutureThreshold time.Duration
}

// DefaultLimits mirrors core.DefaultLimits' future-threshold and adds
// queue-specific bounds sized for a single-node development deployment.
var DefaultLimits = Limits{
	Capacity:        1 << 16,
	MaxPerAuthor:    256,
	QueueTTL:        24 * time.Hour,
	FutureThreshold: core.DefaultLimits.FutureThreshold,
}

type entry struct {
	tx core.AcceptedTransaction
}

// Queue is the bounded FIFO described above. The zero value is not usable;
// construct with New.
type Queue struct {
	mu     sync.Mutex
	limits Limits
	log    *logrus.Logger
	bus    eventbus.EventBus

	fifo   []crypto.Hash
	byHash map[crypto.Hash]entry
	counts map[string]int
}

// New constructs an empty Queue. bus may be nil, in which case queued and
// expired notifications are dropped.
func New(limits Limits, log *logrus.Logger, bus eventbus.EventBus) *Queue {
	if log == nil {
		log = logrus.New()
	}
	if bus == nil {
		bus = eventbus.NoopBus{}
	}
	return &Queue{
		limits: limits,
		log:    log,
		bus:    bus,
		byHash: make(map[crypto.Hash]entry),
		counts: make(map[string]int),
	}
}

// Len returns the number of transactions currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.fifo)
}

func (q *Queue) freshnessCheck(tx core.Transaction, now time.Time) RejectReason {
	createdAt := time.UnixMilli(tx.CreatedAtMilli)
	if createdAt.Sub(now) > q.limits.FutureThreshold {
		return ReasonInFuture
	}
	ttl := q.limits.QueueTTL
	if tx.TTL > 0 && tx.TTL < ttl {
		ttl = tx.TTL
	}
	if now.Sub(createdAt) > ttl {
		return ReasonExpired
	}
	return ""
}

// Push validates and inserts a transaction, checking in order: creation
// time in the future, expired, already in the blockchain, already queued,
// queue full, per-author cap; a transaction passing all six is inserted.
func (q *Queue) Push(tx core.AcceptedTransaction, view worldstate.View, now time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if reason := q.freshnessCheck(tx.Transaction, now); reason != "" {
		return &RejectError{Reason: reason, Hash: tx.Hash}
	}
	if view != nil && view.HasTransaction(tx.Hash) {
		return &RejectError{Reason: ReasonInBlockchain, Hash: tx.Hash}
	}
	if _, exists := q.byHash[tx.Hash]; exists {
		return &RejectError{Reason: ReasonIsInQueue, Hash: tx.Hash}
	}
	if len(q.byHash) >= q.limits.Capacity {
		return &RejectError{Reason: ReasonFull, Hash: tx.Hash}
	}
	author := tx.Transaction.Author
	if q.counts[author] >= q.limits.MaxPerAuthor {
		return &RejectError{Reason: ReasonMaximumTransactionsPerUser, Hash: tx.Hash}
	}

	q.byHash[tx.Hash] = entry{tx: tx}
	q.counts[author]++
	q.fifo = append(q.fifo, tx.Hash)

	q.bus.Publish(eventbus.Event{Kind: eventbus.KindTransactionQueued, TransactionHash: tx.Hash})
	return nil
}

func (q *Queue) decrementAuthor(author string) {
	if q.counts[author] <= 0 {
		panic(consensuserrors.ErrAuthorCountUnderflow)
	}
	q.counts[author]--
	if q.counts[author] == 0 {
		delete(q.counts, author)
	}
}

func (q *Queue) evict(h crypto.Hash) {
	e, ok := q.byHash[h]
	if !ok {
		return
	}
	delete(q.byHash, h)
	q.decrementAuthor(e.tx.Transaction.Author)
}

// popOne pops the next hash off the FIFO, re-checking freshness and
// in-blockchain status. Hashes missing from the map (logged as a warning)
// and entries evicted as expired/committed are skipped and popping goes on;
// it returns the first live transaction, or false once the FIFO is empty.
func (q *Queue) popOne(view worldstate.View, now time.Time) (core.AcceptedTransaction, bool) {
	for len(q.fifo) > 0 {
		h := q.fifo[0]
		q.fifo = q.fifo[1:]

		e, ok := q.byHash[h]
		if !ok {
			q.log.Warnf("txqueue: popped hash %s missing from map under high load", h)
			continue
		}
		if reason := q.freshnessCheck(e.tx.Transaction, now); reason != "" {
			q.evict(h)
			q.bus.Publish(eventbus.Event{Kind: eventbus.KindTransactionExpired, TransactionHash: h})
			continue
		}
		if view != nil && view.HasTransaction(h) {
			q.evict(h)
			q.bus.Publish(eventbus.Event{Kind: eventbus.KindTransactionExpired, TransactionHash: h})
			continue
		}
		delete(q.byHash, h)
		q.decrementAuthor(e.tx.Transaction.Author)
		return e.tx, true
	}
	return core.AcceptedTransaction{}, false
}

// Pop removes and returns one live transaction, or false if the queue has
// nothing usable left.
func (q *Queue) Pop(view worldstate.View, now time.Time) (core.AcceptedTransaction, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popOne(view, now)
}

// DrainForBlock pops up to max entries not already present in out, appending
// them, and returns the extended slice. It stops when out reaches max or the
// FIFO empties. This operation is expected to be serialized by the caller
// (the consensus engine is the sole consumer).
func (q *Queue) DrainForBlock(max int, out []core.AcceptedTransaction) []core.AcceptedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	present := make(map[crypto.Hash]struct{}, len(out))
	for _, tx := range out {
		present[tx.Hash] = struct{}{}
	}

	now := time.Now()
	for len(out) < max {
		tx, ok := q.popOne(nil, now)
		if !ok {
			break
		}
		if _, dup := present[tx.Hash]; dup {
			continue
		}
		present[tx.Hash] = struct{}{}
		out = append(out, tx)
	}
	return out
}

// Sample returns up to n uniformly selected pending transactions for
// gossip, without removing them from the queue.
func (q *Queue) Sample(n int) []core.AcceptedTransaction {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n <= 0 || len(q.fifo) == 0 {
		return nil
	}
	if n > len(q.fifo) {
		n = len(q.fifo)
	}

	perm := samplePermutation(len(q.fifo), n)
	out := make([]core.AcceptedTransaction, 0, n)
	for _, idx := range perm {
		h := q.fifo[idx]
		if e, ok := q.byHash[h]; ok {
			out = append(out, e.tx)
		}
	}
	return out
}
