package consensus

import (
	"sync"
	"time"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
	"github.com/irohad/sumeragi/internal/topology"
)

// Phase names the per-height state machine's current position. Exactly one
// phase is active at a time for a given height; transitions are driven
// exclusively by the engine task.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseProposing
	PhaseAwaitingReceipt
	PhaseAwaitingVotes
	PhaseAwaitingCommit
	PhaseChangingView
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseProposing:
		return "proposing"
	case PhaseAwaitingReceipt:
		return "awaiting_receipt"
	case PhaseAwaitingVotes:
		return "awaiting_votes"
	case PhaseAwaitingCommit:
		return "awaiting_commit"
	case PhaseChangingView:
		return "changing_view"
	default:
		return "unknown"
	}
}

// viewChangeTally accumulates the signatures gathered for one distinct
// view-change proof, keyed by the proof's content hash (reason + parent +
// prior-chain hash). Merging a second proof with the same key unions its
// signatures into the first.
type viewChangeTally struct {
	proof      core.ViewChangeProof
	signatures map[string]core.PeerSignature // keyed by publicKeyMapKey(signer)
}

// PerHeightState holds everything the consensus engine tracks while
// working on one block height: which phase it is in, the block under
// construction or vote, accumulated committee signatures, the leader's
// bookkeeping of forwarded transactions awaiting a receipt, and the
// tallies of in-flight view-change proofs. It is owned exclusively by the
// engine task; any other task that needs a read of it goes through a
// request/reply message rather than touching this struct directly, so the
// mutex here exists only to let tests and diagnostics take a safe
// snapshot.
type PerHeightState struct {
	mu sync.RWMutex

	height   uint64
	view     uint64
	phase    Phase
	deadline time.Time

	topology topology.Topology

	votingBlock *core.Block
	signatures  map[string]core.PeerSignature

	// pendingReceipt is leader-side bookkeeping: the hash of a forwarded
	// transaction maps to the peer that forwarded it, so a TransactionReceipt
	// can be sent back once the transaction is queued locally.
	pendingReceipt map[crypto.Hash]core.PeerIdentity

	// awaitingBlock is non-leader bookkeeping: the set of transaction hashes
	// this node has itself forwarded to the leader and is waiting to see
	// included in a BlockCreated, or receipted for directly.
	awaitingBlock map[crypto.Hash]struct{}

	viewChangeTallies map[crypto.Hash]*viewChangeTally

	invalidatedHashes []crypto.Hash
}

// NewPerHeightState creates the state for height, starting Idle at view 0
// under top.
func NewPerHeightState(height uint64, top topology.Topology) *PerHeightState {
	return &PerHeightState{
		height:            height,
		topology:          top,
		phase:             PhaseIdle,
		signatures:        make(map[string]core.PeerSignature),
		pendingReceipt:    make(map[crypto.Hash]core.PeerIdentity),
		awaitingBlock:     make(map[crypto.Hash]struct{}),
		viewChangeTallies: make(map[crypto.Hash]*viewChangeTally),
	}
}

func (s *PerHeightState) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

func (s *PerHeightState) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *PerHeightState) Topology() topology.Topology {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topology
}

func (s *PerHeightState) VotingBlock() (core.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.votingBlock == nil {
		return core.Block{}, false
	}
	return *s.votingBlock, true
}

// enterPhase transitions to next with a fresh deadline (zero if the phase
// has no timeout of its own, e.g. Idle).
func (s *PerHeightState) enterPhase(next Phase, deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = next
	s.deadline = deadline
}

func (s *PerHeightState) deadlineAt() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.deadline.IsZero() {
		return time.Time{}, false
	}
	return s.deadline, true
}

func (s *PerHeightState) setVotingBlock(b core.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := b
	s.votingBlock = &cp
	s.signatures = make(map[string]core.PeerSignature)
}

// addSignature records sig against the current voting block and reports
// the number of distinct signatures now held.
func (s *PerHeightState) addSignature(sig core.PeerSignature) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signatures[publicKeyMapKey(sig.Signer)] = sig
	return len(s.signatures)
}

func (s *PerHeightState) signatureList() []core.PeerSignature {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.PeerSignature, 0, len(s.signatures))
	for _, sig := range s.signatures {
		out = append(out, sig)
	}
	return out
}

func (s *PerHeightState) recordForwarded(origin core.PeerIdentity, hash crypto.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingReceipt[hash] = origin
}

func (s *PerHeightState) takeForwardOrigin(hash crypto.Hash) (core.PeerIdentity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	origin, ok := s.pendingReceipt[hash]
	if ok {
		delete(s.pendingReceipt, hash)
	}
	return origin, ok
}

func (s *PerHeightState) markAwaitingBlock(hash crypto.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.awaitingBlock[hash] = struct{}{}
}

func (s *PerHeightState) isAwaitingBlock(hash crypto.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.awaitingBlock[hash]
	return ok
}

// mergeViewChange implements the tallying rule: proofs are indexed by
// content hash, a new proof's signatures union into any existing entry for
// the same hash, and proofs whose latest-block-hash or
// prior-view-change-hash disagree with the currently installed chain are
// silently dropped. It returns the merged tally and whether any new
// signature was added (the caller uses this to decide whether to
// re-broadcast).
func (s *PerHeightState) mergeViewChange(proof core.ViewChangeProof, localLatestBlockHash, localPriorViewChangeHash crypto.Hash) (tally viewChangeTally, added bool, accepted bool) {
	if proof.LatestBlockHash != localLatestBlockHash || proof.PriorViewChangeHash != localPriorViewChangeHash {
		return viewChangeTally{}, false, false
	}

	key := proof.Hash()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.viewChangeTallies[key]
	if !ok {
		t = &viewChangeTally{proof: proof, signatures: make(map[string]core.PeerSignature)}
		s.viewChangeTallies[key] = t
	}
	for _, sig := range proof.Signatures {
		k := publicKeyMapKey(sig.Signer)
		if _, exists := t.signatures[k]; !exists {
			t.signatures[k] = sig
			added = true
		}
	}
	return *t, added, true
}

func (s *PerHeightState) viewChangeSignatureCount(proof core.ViewChangeProof) int {
	key := proof.Hash()
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.viewChangeTallies[key]
	if !ok {
		return 0
	}
	return len(t.signatures)
}

func (s *PerHeightState) viewChangeSignatureList(proof core.ViewChangeProof) []core.PeerSignature {
	key := proof.Hash()
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.viewChangeTallies[key]
	if !ok {
		return nil
	}
	out := make([]core.PeerSignature, 0, len(t.signatures))
	for _, sig := range t.signatures {
		out = append(out, sig)
	}
	return out
}

// advanceToHeight performs the concurrency-safe commit book-keeping: clear
// the voting block, the pending-receipt map, the awaiting-block set, the
// view-change tallies, and the invalidated-hash list, then install the new
// height and topology. Callers must not let any other goroutine observe
// this state mid-update; the engine task is the only writer, so the lock
// here only protects readers.
func (s *PerHeightState) advanceToHeight(height uint64, top topology.Topology) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height = height
	s.view = 0
	s.topology = top
	s.phase = PhaseIdle
	s.deadline = time.Time{}
	s.votingBlock = nil
	s.signatures = make(map[string]core.PeerSignature)
	s.pendingReceipt = make(map[crypto.Hash]core.PeerIdentity)
	s.awaitingBlock = make(map[crypto.Hash]struct{})
	s.viewChangeTallies = make(map[crypto.Hash]*viewChangeTally)
	s.invalidatedHashes = nil
}

// advanceView applies a successful view change at the same height: rotate
// the topology, bump the view counter, optionally append the failed
// block's hash to the invalidated list, and clear all in-flight
// bookkeeping before returning to Idle.
func (s *PerHeightState) advanceView(top topology.Topology, failedBlockHash crypto.Hash, hasFailedBlockHash bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view++
	s.topology = top
	s.phase = PhaseIdle
	s.deadline = time.Time{}
	s.votingBlock = nil
	s.signatures = make(map[string]core.PeerSignature)
	s.pendingReceipt = make(map[crypto.Hash]core.PeerIdentity)
	s.awaitingBlock = make(map[crypto.Hash]struct{})
	s.viewChangeTallies = make(map[crypto.Hash]*viewChangeTally)
	if hasFailedBlockHash {
		s.invalidatedHashes = append(s.invalidatedHashes, failedBlockHash)
	}
}

func (s *PerHeightState) invalidated() []crypto.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crypto.Hash, len(s.invalidatedHashes))
	copy(out, s.invalidatedHashes)
	return out
}

func (s *PerHeightState) View() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view
}
