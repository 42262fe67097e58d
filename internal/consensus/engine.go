package consensus

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/irohad/sumeragi/internal/config"
	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
	"github.com/irohad/sumeragi/internal/eventbus"
	"github.com/irohad/sumeragi/internal/store"
	"github.com/irohad/sumeragi/internal/topology"
	"github.com/irohad/sumeragi/internal/transport"
	"github.com/irohad/sumeragi/internal/txqueue"
	"github.com/irohad/sumeragi/internal/worldstate"
)

// Direction distinguishes an outbound message the engine is about to send
// from an inbound message it just decoded, for the benefit of the message
// interceptor.
type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// gossipSeenCacheSize bounds the gossip-dedup LRU: large enough to cover
// several gossip periods' worth of batches at the default
// gossip_batch_size without growing unbounded under replay from a
// misbehaving or merely redundant peer.
const gossipSeenCacheSize = 8192

// Interceptor is invoked on every message the engine sends or receives. It
// may pass the message through unchanged or drop it by returning keep=false;
// tests substitute one that drops or mutates messages to exercise failure
// paths.
type Interceptor func(dir Direction, peer core.PeerIdentity, msg Message) (out Message, keep bool)

// IdentityInterceptor is the default Interceptor: every message passes
// through unmodified.
func IdentityInterceptor(_ Direction, _ core.PeerIdentity, msg Message) (Message, bool) {
	return msg, true
}

type inboundMessage struct {
	from core.PeerIdentity
	msg  Message
}

// connectPeersPeriod derives how often the engine reconciles its connection
// table against the current committee from the network idle timeout: there
// is no dedicated configuration knob for this, so it is picked frequent
// enough to notice a dropped peer well before its connection would time out
// on its own.
func connectPeersPeriod(idleTimeout time.Duration) time.Duration {
	d := idleTimeout / 3
	if d <= 0 {
		d = time.Second
	}
	return d
}

// Engine drives the per-height state machine: it is the single task that
// ever mutates consensus state. Every other task (peer connections, the
// queue's producers) communicates with it only by pushing onto e.inbound or
// by calling the thread-safe accessors on PerHeightState / txqueue.Queue.
type Engine struct {
	cfg  config.Config
	log  *logrus.Logger
	bus  eventbus.EventBus
	self core.PeerIdentity
	keys crypto.KeyPair

	queue *txqueue.Queue
	table *transport.Table
	store store.BlockStore
	ws    worldstate.WorldState

	// gossipSeen bounds the memory cost of TransactionGossip replay: a
	// transaction hash already seen via gossip is not re-pushed onto the
	// local queue a second time, and the node never re-broadcasts a
	// gossiped transaction: gossip is a leaf operation here, not an
	// amplifying relay.
	gossipSeen *lru.Cache[crypto.Hash, struct{}]

	genesis     *core.GenesisTopology
	trustedKeys map[string]struct{}

	interceptorMu sync.RWMutex
	interceptor   Interceptor

	state *PerHeightState

	// lastBlockHash and priorViewChangeHash anchor every view-change proof
	// this node signs or merges to the chain state it actually observes, so
	// stale or foreign proofs are rejected by PerHeightState.mergeViewChange.
	lastBlockHash       crypto.Hash
	priorViewChangeHash crypto.Hash
	viewChangeChain     []core.ViewChangeProof

	phaseTimer *time.Timer
	inbound    chan inboundMessage
	stopChan   chan struct{}
	wg         sync.WaitGroup
}

// New constructs an Engine. genesis is non-nil only on the node configured
// to propose the genesis block.
func New(
	cfg config.Config,
	self core.PeerIdentity,
	keys crypto.KeyPair,
	q *txqueue.Queue,
	table *transport.Table,
	bs store.BlockStore,
	ws worldstate.WorldState,
	bus eventbus.EventBus,
	log *logrus.Logger,
	genesis *core.GenesisTopology,
) (*Engine, error) {
	if log == nil {
		log = logrus.New()
	}
	if bus == nil {
		bus = eventbus.NoopBus{}
	}

	peers, f, err := peersFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	trusted := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		trusted[publicKeyMapKey(p.PublicKey)] = struct{}{}
	}

	view := ws.CurrentView()
	height := view.Height() + 1
	top := topology.New(peers, f)

	gossipSeen, err := lru.New[crypto.Hash, struct{}](gossipSeenCacheSize)
	if err != nil {
		return nil, fmt.Errorf("consensus: create gossip dedup cache: %w", err)
	}

	e := &Engine{
		cfg:         cfg,
		log:         log,
		bus:         bus,
		self:        self,
		keys:        keys,
		queue:       q,
		table:       table,
		store:       bs,
		ws:          ws,
		genesis:     genesis,
		trustedKeys: trusted,
		gossipSeen:  gossipSeen,
		interceptor: IdentityInterceptor,
		state:       NewPerHeightState(height, top),
		inbound:     make(chan inboundMessage, 4096),
		stopChan:    make(chan struct{}),
	}
	table.SetOnConnect(func(c *transport.Conn) { go e.pumpConn(c) })
	return e, nil
}

func peersFromConfig(cfg config.Config) ([]core.PeerIdentity, int, error) {
	peers := make([]core.PeerIdentity, 0, len(cfg.Sumeragi.TrustedPeers))
	for _, tp := range cfg.Sumeragi.TrustedPeers {
		raw, err := hex.DecodeString(tp.PublicKey)
		if err != nil {
			return nil, 0, fmt.Errorf("consensus: decode trusted peer key %q: %w", tp.Address, err)
		}
		var algo crypto.Algorithm
		switch tp.Algorithm {
		case "ed25519":
			algo = crypto.Ed25519
		case "secp256k1":
			algo = crypto.Secp256k1
		default:
			return nil, 0, fmt.Errorf("consensus: trusted peer %q has unsupported algorithm %q", tp.Address, tp.Algorithm)
		}
		peers = append(peers, core.PeerIdentity{Address: tp.Address, PublicKey: crypto.PublicKey{Algorithm: algo, Raw: raw}})
	}
	f := (len(peers) - 1) / 3
	return peers, f, nil
}

// SetInterceptor installs a new message interceptor, replacing whatever was
// set before (the identity passthrough by default).
func (e *Engine) SetInterceptor(i Interceptor) {
	e.interceptorMu.Lock()
	defer e.interceptorMu.Unlock()
	if i == nil {
		i = IdentityInterceptor
	}
	e.interceptor = i
}

func (e *Engine) intercept(dir Direction, peer core.PeerIdentity, msg Message) (Message, bool) {
	e.interceptorMu.RLock()
	i := e.interceptor
	e.interceptorMu.RUnlock()
	return i(dir, peer, msg)
}

// SubmitTransaction offers tx to the local queue. A nil error means it was
// accepted onto the queue; otherwise the error is a *txqueue.RejectError
// naming one of the documented rejection reasons.
func (e *Engine) SubmitTransaction(tx core.Transaction) error {
	return e.queue.Push(tx.ToAccepted(), e.ws.CurrentView(), time.Now())
}

// State exposes the current per-height state for diagnostics and tests.
func (e *Engine) State() *PerHeightState { return e.state }

// Start launches the engine task. It returns immediately; call Stop for a
// graceful shutdown.
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop signals the engine to finish its current transition and exit, then
// waits for it to do so.
func (e *Engine) Stop() {
	close(e.stopChan)
	e.wg.Wait()
}

func (e *Engine) run() {
	defer e.wg.Done()
	ctx := context.Background()

	gossipTicker := time.NewTicker(e.cfg.Sumeragi.GossipPeriod)
	defer gossipTicker.Stop()
	connectTicker := time.NewTicker(connectPeersPeriod(e.cfg.Network.IdleTimeout))
	defer connectTicker.Stop()
	retrieveTicker := time.NewTicker(e.cfg.Sumeragi.BlockTime)
	defer retrieveTicker.Stop()

	e.phaseTimer = time.NewTimer(time.Hour)
	if !e.phaseTimer.Stop() {
		<-e.phaseTimer.C
	}
	defer e.phaseTimer.Stop()

	e.bootstrap(ctx)

	for {
		select {
		case <-e.stopChan:
			return
		case m := <-e.inbound:
			e.handleMessage(ctx, m.from, m.msg)
		case <-e.phaseTimer.C:
			e.handleDeadline()
		case <-retrieveTicker.C:
			e.retrieveTransactions(ctx)
		case <-gossipTicker.C:
			e.gossip()
		case <-connectTicker.C:
			e.table.Reconcile(ctx, e.state.Topology().Peers(), e.acceptPeer)
		}
	}
}

// acceptPeer reports whether a remote public key belongs to the configured
// trusted committee.
func (e *Engine) acceptPeer(pub crypto.PublicKey) bool {
	_, ok := e.trustedKeys[publicKeyMapKey(pub)]
	return ok
}

func (e *Engine) pumpConn(c *transport.Conn) {
	for {
		select {
		case <-e.stopChan:
			return
		case payload, ok := <-c.Inbound():
			if !ok {
				return
			}
			msg, err := DecodeMessage(payload)
			if err != nil {
				e.log.WithError(err).WithField("peer", c.Remote().Address).Debug("consensus: closing connection on undecodable message")
				c.Close()
				return
			}
			msg, keep := e.intercept(DirectionInbound, c.Remote(), msg)
			if !keep {
				continue
			}
			select {
			case e.inbound <- inboundMessage{from: c.Remote(), msg: msg}:
			case <-e.stopChan:
				return
			}
		}
	}
}

func (e *Engine) sendTo(peer core.PeerIdentity, msg Message) {
	msg, keep := e.intercept(DirectionOutbound, peer, msg)
	if !keep {
		return
	}
	payload, err := msg.Encode()
	if err != nil {
		e.log.WithError(err).Warn("consensus: failed to encode outbound message")
		return
	}
	conn, ok := e.table.Get(peer)
	if !ok {
		e.log.WithField("peer", peer.Address).Debug("consensus: peer not connected, dropping send")
		return
	}
	if err := conn.Send(payload); err != nil {
		e.log.WithError(err).WithField("peer", peer.Address).Debug("consensus: send failed")
	}
}

func (e *Engine) broadcast(msg Message) {
	for _, p := range e.state.Topology().Peers() {
		if p.Equal(e.self) {
			continue
		}
		e.sendTo(p, msg)
	}
}

// armDeadline resets the phase timer to fire after d, draining any
// already-pending tick first so the reset is never a no-op.
func (e *Engine) armDeadline(d time.Duration) {
	if !e.phaseTimer.Stop() {
		select {
		case <-e.phaseTimer.C:
		default:
		}
	}
	e.phaseTimer.Reset(d)
}

func (e *Engine) disarmDeadline() {
	if !e.phaseTimer.Stop() {
		select {
		case <-e.phaseTimer.C:
		default:
		}
	}
}

// bootstrap runs the process-start transitions: a node with no committed
// blocks and a local genesis key proposes the genesis block; every other
// node simply waits in Idle for height 1 to arrive over the wire.
func (e *Engine) bootstrap(ctx context.Context) {
	if e.ws.CurrentView().Height() > 0 {
		return
	}
	if e.genesis != nil {
		e.proposeGenesis(ctx)
	}
}

func (e *Engine) proposeGenesis(ctx context.Context) {
	top := e.state.Topology()
	view := e.ws.CurrentView()

	var drained []core.AcceptedTransaction
	drained = e.queue.DrainForBlock(e.cfg.ChainWide.MaxTransactionsInBlock, drained)

	pending := core.NewPendingBlock(drained)
	chained := pending.ToChained(1, crypto.ZeroHash, time.Now().UnixMilli(), nil, nil, e.genesis)

	valid, err := validateBlock(ctx, e.ws, view, chained)
	if err != nil {
		e.log.WithError(err).Error("consensus: failed to validate genesis block")
		return
	}
	sig, err := crypto.Sign(e.keys.Private, valid.Header.Hash().Bytes())
	if err != nil {
		e.log.WithError(err).Error("consensus: failed to sign genesis block")
		return
	}
	valid.ProposerSig = core.PeerSignature{Signer: e.keys.Public, Signature: sig}

	if top.CommitteeSize() == 1 {
		e.commit(ctx, valid.ToCommitted([]core.PeerSignature{valid.ProposerSig}))
		return
	}
	e.state.setVotingBlock(valid)
	e.state.enterPhase(PhaseAwaitingVotes, time.Now().Add(e.cfg.Sumeragi.CommitTime))
	e.armDeadline(e.cfg.Sumeragi.CommitTime)
	e.broadcast(Message{Kind: KindBlockCreated, Block: valid})
}

// retrieveTransactions implements the Idle-state work: the leader drains
// the queue and proposes; a non-leader forwards one representative
// transaction to the leader.
func (e *Engine) retrieveTransactions(ctx context.Context) {
	if e.state.Phase() != PhaseIdle {
		return
	}
	top := e.state.Topology()
	leader, ok := top.Leader()
	if !ok {
		return
	}
	if leader.Equal(e.self) {
		e.proposeAsLeader(ctx, top)
		return
	}
	e.forwardOnePending(leader)
}

func (e *Engine) proposeAsLeader(ctx context.Context, top topology.Topology) {
	if e.queue.Len() == 0 {
		return
	}
	view := e.ws.CurrentView()
	block, err := proposeBlock(
		ctx, e.ws, view, e.queue, e.cfg.ChainWide.MaxTransactionsInBlock,
		e.state.Height(), e.lastBlockHash, e.viewChangeChain, e.state.invalidated(), nil,
		e.keys, time.Now(),
	)
	if err != nil {
		e.log.WithError(err).Error("consensus: failed to build proposal")
		return
	}
	if block.IsEmpty() {
		return
	}

	if top.CommitteeSize() == 1 {
		e.commit(ctx, block.ToCommitted([]core.PeerSignature{block.ProposerSig}))
		return
	}

	e.state.enterPhase(PhaseProposing, time.Time{})
	e.state.setVotingBlock(block)
	e.state.enterPhase(PhaseAwaitingVotes, time.Now().Add(e.cfg.Sumeragi.CommitTime))
	e.armDeadline(e.cfg.Sumeragi.CommitTime)
	e.broadcast(Message{Kind: KindBlockCreated, Block: block})
}

func (e *Engine) forwardOnePending(leader core.PeerIdentity) {
	sampled := e.queue.Sample(1)
	if len(sampled) == 0 {
		return
	}
	tx := sampled[0]
	e.state.markAwaitingBlock(tx.Hash)
	e.sendTo(leader, Message{Kind: KindTransactionForwarded, Forwarded: tx})
	e.state.enterPhase(PhaseAwaitingReceipt, time.Now().Add(e.cfg.Sumeragi.TxReceiptTime))
	e.armDeadline(e.cfg.Sumeragi.TxReceiptTime)
}

func (e *Engine) gossip() {
	sample := e.queue.Sample(e.cfg.Sumeragi.GossipBatchSize)
	if len(sample) == 0 {
		return
	}
	e.broadcast(Message{Kind: KindTransactionGossip, Gossip: sample})
}

func (e *Engine) handleMessage(ctx context.Context, from core.PeerIdentity, msg Message) {
	switch msg.Kind {
	case KindTransactionGossip:
		for _, tx := range msg.Gossip {
			if _, seen := e.gossipSeen.Get(tx.Hash); seen {
				continue
			}
			e.gossipSeen.Add(tx.Hash, struct{}{})
			if err := e.queue.Push(tx, e.ws.CurrentView(), time.Now()); err != nil {
				e.log.WithError(err).Debug("consensus: gossip transaction rejected")
			}
		}
	case KindTransactionForwarded:
		e.handleTransactionForwarded(from, msg.Forwarded)
	case KindTransactionReceipt:
		e.handleTransactionReceipt(msg.Receipt)
	case KindBlockCreated:
		e.handleBlockCreated(from, msg.Block)
	case KindBlockSigned:
		e.handleBlockSigned(msg.BlockHash, msg.Signature)
	case KindBlockCommitted:
		e.handleBlockCommitted(ctx, msg.Block)
	case KindViewChangeSuggested:
		e.mergeAndMaybeRebroadcast(msg.ViewChange)
	default:
		e.log.WithField("kind", msg.Kind).Debug("consensus: unknown message kind")
	}
}

func (e *Engine) handleTransactionForwarded(from core.PeerIdentity, tx core.AcceptedTransaction) {
	err := e.queue.Push(tx, e.ws.CurrentView(), time.Now())
	var rej *txqueue.RejectError
	if err != nil && !(errors.As(err, &rej) && rej.Reason == txqueue.ReasonIsInQueue) {
		e.log.WithError(err).Debug("consensus: forwarded transaction rejected")
		return
	}
	e.state.recordForwarded(from, tx.Hash)
	e.sendTo(from, Message{Kind: KindTransactionReceipt, Receipt: tx.Hash})
}

func (e *Engine) handleTransactionReceipt(hash crypto.Hash) {
	if e.state.Phase() != PhaseAwaitingReceipt || !e.state.isAwaitingBlock(hash) {
		return
	}
	e.disarmDeadline()
	e.state.enterPhase(PhaseIdle, time.Time{})
}

func (e *Engine) handleBlockCreated(from core.PeerIdentity, block core.Block) {
	if block.Header.Height != e.state.Height() || block.Header.ParentHash != e.lastBlockHash {
		e.log.WithField("from", from.Address).Debug("consensus: dropping block-created for wrong height/parent")
		return
	}
	if err := verifyBlockSignature(block, block.ProposerSig); err != nil {
		e.log.WithError(err).Debug("consensus: dropping block-created with bad proposer signature")
		return
	}
	if !verifyBlockRoots(block) {
		e.log.Debug("consensus: dropping block-created with inconsistent roots")
		return
	}
	if block.IsEmpty() {
		return
	}

	top := e.state.Topology()
	e.state.setVotingBlock(block)

	sig, err := signBlock(e.keys, block)
	if err != nil {
		e.log.WithError(err).Error("consensus: failed to sign block")
		return
	}

	if top.RoleOf(e.self) == topology.RoleProxyTail {
		count := e.state.addSignature(sig)
		e.state.enterPhase(PhaseAwaitingVotes, time.Now().Add(e.cfg.Sumeragi.CommitTime))
		e.armDeadline(e.cfg.Sumeragi.CommitTime)
		e.checkCommitQuorum(block, top, count)
		return
	}

	proxyTail, ok := top.ProxyTail()
	if !ok {
		return
	}
	e.sendTo(proxyTail, Message{Kind: KindBlockSigned, BlockHash: block.Hash(), Signature: sig})
	e.state.enterPhase(PhaseAwaitingCommit, time.Now().Add(e.cfg.Sumeragi.CommitTime))
	e.armDeadline(e.cfg.Sumeragi.CommitTime)
}

func (e *Engine) handleBlockSigned(blockHash crypto.Hash, sig core.PeerSignature) {
	top := e.state.Topology()
	if top.RoleOf(e.self) != topology.RoleProxyTail {
		return
	}
	vb, ok := e.state.VotingBlock()
	if !ok || vb.Hash() != blockHash {
		e.log.Debug("consensus: dropping block-signed for unknown voting block")
		return
	}
	if err := verifyBlockSignature(vb, sig); err != nil {
		e.log.WithError(err).Debug("consensus: dropping block-signed with bad signature")
		return
	}
	count := e.state.addSignature(sig)
	e.checkCommitQuorum(vb, top, count)
}

func (e *Engine) checkCommitQuorum(block core.Block, top topology.Topology, signatureCount int) {
	quorum := 2*top.F() + 1
	if signatureCount < quorum {
		return
	}
	committed := block.ToCommitted(e.state.signatureList())
	e.broadcast(Message{Kind: KindBlockCommitted, Block: committed})
	e.commit(context.Background(), committed)
}

func (e *Engine) handleBlockCommitted(ctx context.Context, block core.Block) {
	if block.Header.Height != e.state.Height() {
		e.log.WithField("height", block.Header.Height).Debug("consensus: dropping block-committed for wrong height")
		return
	}
	top := e.state.Topology()
	quorum := 2*top.F() + 1
	valid := 0
	for _, sig := range block.Signatures {
		if verifyBlockSignature(block, sig) == nil {
			valid++
		}
	}
	if valid < quorum {
		e.log.Debug("consensus: dropping block-committed with insufficient valid signatures")
		return
	}
	e.commit(ctx, block)
}

// commit applies a quorum-committed block: world state, durable storage,
// topology rotation, and the book-keeping reset, in that order. A
// world-state apply failure is logged at warn and otherwise tolerated: the
// state machine cannot refuse a quorum-committed block, but topology is
// left unrotated for this block so the node does not silently drift from
// the committee.
func (e *Engine) commit(ctx context.Context, block core.Block) {
	_, applyErr := e.ws.Apply(ctx, block)
	if applyErr != nil {
		e.log.WithError(applyErr).Warn("consensus: world state apply failed, holding topology")
	}
	if err := e.store.Append(ctx, block); err != nil {
		e.log.WithError(err).Error("consensus: block store append failed")
	}

	top := e.state.Topology()
	if applyErr == nil {
		top = top.AfterCommit()
	}
	e.lastBlockHash = block.Hash()
	e.viewChangeChain = nil
	e.disarmDeadline()
	e.state.advanceToHeight(block.Header.Height+1, top)
	e.bus.Publish(eventbus.Event{Kind: eventbus.KindBlockCommitted, BlockHash: block.Hash(), Height: block.Header.Height})
}

func (e *Engine) handleDeadline() {
	switch e.state.Phase() {
	case PhaseAwaitingReceipt:
		e.signAndBroadcastViewChange(core.ReasonNoTransactionReceipt, crypto.Hash{}, false)
	case PhaseAwaitingVotes, PhaseAwaitingCommit:
		var failedHash crypto.Hash
		has := false
		if vb, ok := e.state.VotingBlock(); ok {
			failedHash = vb.Hash()
			has = true
		}
		e.signAndBroadcastViewChange(core.ReasonCommitTimeout, failedHash, has)
	}
}

// signAndBroadcastViewChange starts (or rejoins) a view change: it builds a
// proof anchored to the chain state this node last observed, signs it,
// folds its own signature into the local tally, enters ChangingView, and
// broadcasts the signed proof to the rest of the committee.
func (e *Engine) signAndBroadcastViewChange(reason core.ViewChangeReason, failedHash crypto.Hash, hasFailed bool) {
	proof := core.ViewChangeProof{
		Reason:              reason,
		LatestBlockHash:     e.lastBlockHash,
		PriorViewChangeHash: e.priorViewChangeHash,
		FailedBlockHash:     failedHash,
		HasFailedBlockHash:  hasFailed,
	}
	sig, err := crypto.Sign(e.keys.Private, proof.Hash().Bytes())
	if err != nil {
		e.log.WithError(err).Error("consensus: failed to sign view-change proof")
		return
	}
	signed, _ := proof.WithSignature(core.PeerSignature{Signer: e.keys.Public, Signature: sig})

	e.disarmDeadline()
	e.state.enterPhase(PhaseChangingView, time.Time{})
	e.mergeAndMaybeRebroadcast(signed)
}

// mergeAndMaybeRebroadcast folds an inbound or locally-produced view-change
// proof into the local tally. Proofs that disagree with this node's chain
// state are silently dropped. A tally that newly reached quorum is
// installed; otherwise, if the merge added a signature this node had not
// already seen, the merged proof is re-broadcast so the rest of the
// committee converges on the same signature set.
func (e *Engine) mergeAndMaybeRebroadcast(proof core.ViewChangeProof) {
	tally, added, accepted := e.state.mergeViewChange(proof, e.lastBlockHash, e.priorViewChangeHash)
	if !accepted {
		return
	}

	top := e.state.Topology()
	quorum := 2*top.F() + 1
	if len(tally.signatures) >= quorum {
		e.installViewChange(tally)
		return
	}
	if added {
		merged := tally.proof
		merged.Signatures = e.state.viewChangeSignatureList(tally.proof)
		e.broadcast(Message{Kind: KindViewChangeSuggested, ViewChange: merged})
	}
}

// installViewChange rotates the topology, advances the view counter, and
// returns the per-height state to Idle once a view-change tally reaches
// commit quorum.
func (e *Engine) installViewChange(tally viewChangeTally) {
	top := e.state.Topology().AfterViewChange()
	e.priorViewChangeHash = tally.proof.Hash()

	merged := tally.proof
	merged.Signatures = e.state.viewChangeSignatureList(tally.proof)
	e.viewChangeChain = append(e.viewChangeChain, merged)

	e.state.advanceView(top, tally.proof.FailedBlockHash, tally.proof.HasFailedBlockHash)
}

func verifyBlockRoots(block core.Block) bool {
	acceptedLeaves := make([]crypto.Hash, len(block.Accepted))
	for i, tx := range block.Accepted {
		acceptedLeaves[i] = tx.Hash
	}
	rejectedLeaves := make([]crypto.Hash, len(block.Rejected))
	for i, rtx := range block.Rejected {
		rejectedLeaves[i] = rtx.Transaction.Hash
	}
	return core.MerkleRootOf(acceptedLeaves) == block.Header.TxRoot &&
		core.MerkleRootOf(rejectedLeaves) == block.Header.RejectedTxRoot
}
