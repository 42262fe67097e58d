package consensus

import (
	"context"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

// memStore and memWorldState are the same minimal in-memory stand-ins
// cmd/sumeragid wires in production; tests use their own copies so this
// package's tests don't depend on package main.

type memStore struct {
	mu     sync.Mutex
	blocks map[uint64]core.Block
}

func newMemStore() *memStore { return &memStore{blocks: make(map[uint64]core.Block)} }

func (s *memStore) Append(_ context.Context, b core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Header.Height] = b
	return nil
}

func (s *memStore) Load(_ context.Context, height uint64) (core.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	if !ok {
		return core.Block{}, store.ErrNotFound
	}
	return b, nil
}

func (s *memStore) appendedHeights() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uint64, 0, len(s.blocks))
	for h := range s.blocks {
		out = append(out, h)
	}
	return out
}

type memView struct {
	height    uint64
	committed map[crypto.Hash]struct{}
}

func (v memView) Height() uint64 { return v.height }
func (v memView) HasTransaction(h crypto.Hash) bool {
	_, ok := v.committed[h]
	return ok
}

type memWorldState struct {
	mu        sync.Mutex
	height    uint64
	committed map[crypto.Hash]struct{}
}

func newMemWorldState() *memWorldState {
	return &memWorldState{committed: make(map[crypto.Hash]struct{})}
}

func (w *memWorldState) snapshot() memView {
	cp := make(map[crypto.Hash]struct{}, len(w.committed))
	for h := range w.committed {
		cp[h] = struct{}{}
	}
	return memView{height: w.height, committed: cp}
}

func (w *memWorldState) CurrentView() worldstate.View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshot()
}

func (w *memWorldState) Validate(_ context.Context, _ core.AcceptedTransaction, _ worldstate.View) worldstate.Outcome {
	return worldstate.Outcome{Accepted: true}
}

func (w *memWorldState) Apply(_ context.Context, b core.Block) (worldstate.View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tx := range b.Accepted {
		w.committed[tx.Hash] = struct{}{}
	}
	w.height = b.Header.Height
	return w.snapshot(), nil
}

func testConfig(t *testing.T, trusted []config.TrustedPeer) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Sumeragi.TrustedPeers = trusted
	cfg.Sumeragi.BlockTime = 30 * time.Millisecond
	cfg.Sumeragi.CommitTime = 2 * time.Second
	cfg.Sumeragi.TxReceiptTime = 150 * time.Millisecond
	cfg.Sumeragi.GossipPeriod = 50 * time.Millisecond
	cfg.Network.IdleTimeout = 300 * time.Millisecond
	cfg.ChainWide.MaxTransactionsInBlock = 16
	return cfg
}

func trustedPeerEntry(t *testing.T, addr string, kp crypto.KeyPair) config.TrustedPeer {
	t.Helper()
	return config.TrustedPeer{
		Address:   addr,
		PublicKey: hex.EncodeToString(kp.Public.Raw),
		Algorithm: "ed25519",
	}
}

// TestSingleNodeGenesisCommitsImmediately covers the end-to-end scenario
// where a committee of one proposes and commits its own genesis block with
// no network round-trips at all.
func TestSingleNodeGenesisCommitsImmediately(t *testing.T) {
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)

	addr := "127.0.0.1:0"
	cfg := testConfig(t, []config.TrustedPeer{trustedPeerEntry(t, addr, kp)})
	self := core.PeerIdentity{Address: addr, PublicKey: kp.Public}

	bus := eventbus.NewChannelBus()
	events := bus.Subscribe(16)

	q := txqueue.New(txqueue.DefaultLimits, nil, bus)
	table := transport.NewTable(self, kp.Private, cfg.Network.IdleTimeout, nil, bus)
	bs := newMemStore()
	ws := newMemWorldState()

	genesis := &core.GenesisTopology{Peers: []core.PeerIdentity{self}, F: 0}

	engine, err := New(cfg, self, kp, q, table, bs, ws, bus, nil, genesis)
	require.NoError(t, err)

	engine.Start()
	defer engine.Stop()

	select {
	case ev := <-events:
		assert.Equal(t, eventbus.KindBlockCommitted, ev.Kind)
		assert.Equal(t, uint64(1), ev.Height)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for genesis block-committed event")
	}

	assert.Equal(t, uint64(2), engine.State().Height())
	assert.Equal(t, []uint64{1}, bs.appendedHeights())
}

// fourNodeCluster wires four engines over real TCP loopback connections, one
// of which (index 0) proposes genesis as leader, to exercise the full
// happy-path commit across a real committee.
type fourNodeCluster struct {
	engines []*Engine
	buses   []*eventbus.ChannelBus
	queues  []*txqueue.Queue
	stores  []*memStore
	ids     []core.PeerIdentity
}

func newFourNodeCluster(t *testing.T) *fourNodeCluster {
	t.Helper()
	const n = 4

	kps := make([]crypto.KeyPair, n)
	lns := make([]net.Listener, n)
	ids := make([]core.PeerIdentity, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
		require.NoError(t, err)
		kps[i] = kp

		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns[i] = ln
		ids[i] = core.PeerIdentity{Address: ln.Addr().String(), PublicKey: kp.Public}
	}

	trusted := make([]config.TrustedPeer, n)
	for i := 0; i < n; i++ {
		trusted[i] = trustedPeerEntry(t, ids[i].Address, kps[i])
	}

	c := &fourNodeCluster{}
	for i := 0; i < n; i++ {
		cfg := testConfig(t, trusted)
		bus := eventbus.NewChannelBus()
		q := txqueue.New(txqueue.DefaultLimits, nil, bus)
		table := transport.NewTable(ids[i], kps[i].Private, cfg.Network.IdleTimeout, nil, bus)
		accept := func(pub crypto.PublicKey) bool {
			for _, p := range ids {
				if p.PublicKey.Algorithm == pub.Algorithm && string(p.PublicKey.Raw) == string(pub.Raw) {
					return true
				}
			}
			return false
		}
		ln := lns[i]
		go func() {
			for {
				nc, err := ln.Accept()
				if err != nil {
					return
				}
				go table.Accept(nc, accept)
			}
		}()
		t.Cleanup(func() { ln.Close() })

		bs := newMemStore()
		ws := newMemWorldState()

		var genesis *core.GenesisTopology
		if i == 0 {
			genesis = &core.GenesisTopology{Peers: append([]core.PeerIdentity(nil), ids...), F: 1}
		}

		engine, err := New(cfg, ids[i], kps[i], q, table, bs, ws, bus, nil, genesis)
		require.NoError(t, err)

		c.engines = append(c.engines, engine)
		c.buses = append(c.buses, bus)
		c.queues = append(c.queues, q)
		c.stores = append(c.stores, bs)
	}
	c.ids = ids
	return c
}

func (c *fourNodeCluster) start() {
	for _, e := range c.engines {
		e.Start()
	}
}

func (c *fourNodeCluster) stop() {
	for _, e := range c.engines {
		e.Stop()
	}
}

func TestFourNodeHappyPathCommitsAtEveryPeer(t *testing.T) {
	if testing.Short() {
		t.Skip("real-TCP four node cluster test skipped in -short mode")
	}
	c := newFourNodeCluster(t)
	c.start()
	defer c.stop()

	// Genesis (height 1) commits with no client transactions, driven solely
	// by node 0.
	require.Eventually(t, func() bool {
		return c.engines[0].State().Height() >= 2
	}, 2*time.Second, 10*time.Millisecond, "genesis never committed on the proposer")

	for i, e := range c.engines {
		require.Eventually(t, func() bool {
			return e.State().Height() >= 2
		}, 3*time.Second, 10*time.Millisecond, fmt.Sprintf("node %d never observed genesis commit", i))
	}

	tx := core.Transaction{
		ChainID:        "wonderland",
		Author:         "alice@wonderland",
		CreatedAtMilli: time.Now().UnixMilli(),
		Instructions:   []core.Instruction{{Kind: "Transfer", Payload: []byte("10 coins to bob")}},
	}
	kp, err := crypto.GenerateKeyPair(crypto.Ed25519)
	require.NoError(t, err)
	signed, err := tx.Sign(kp.Private)
	require.NoError(t, err)

	require.NoError(t, c.engines[0].SubmitTransaction(signed))

	for i, e := range c.engines {
		require.Eventually(t, func() bool {
			return e.State().Height() >= 3
		}, 5*time.Second, 10*time.Millisecond, fmt.Sprintf("node %d never committed height 2", i))
	}
}

func TestViewChangeTallyAccumulatesSignaturesAndDropsStaleProofs(t *testing.T) {
	kp1, _ := crypto.GenerateKeyPair(crypto.Ed25519)
	kp2, _ := crypto.GenerateKeyPair(crypto.Ed25519)
	kp3, _ := crypto.GenerateKeyPair(crypto.Ed25519)

	s := NewPerHeightState(1, topology.New(nil, 0))

	proof := core.ViewChangeProof{Reason: core.ReasonCommitTimeout, LatestBlockHash: crypto.ZeroHash}
	sig1, _ := crypto.Sign(kp1.Private, proof.Hash().Bytes())
	sig2, _ := crypto.Sign(kp2.Private, proof.Hash().Bytes())
	sig3, _ := crypto.Sign(kp3.Private, proof.Hash().Bytes())

	p1, _ := proof.WithSignature(core.PeerSignature{Signer: kp1.Public, Signature: sig1})
	_, added1, accepted1 := s.mergeViewChange(p1, crypto.ZeroHash, crypto.ZeroHash)
	assert.True(t, accepted1)
	assert.True(t, added1)

	p2, _ := proof.WithSignature(core.PeerSignature{Signer: kp2.Public, Signature: sig2})
	tally2, added2, accepted2 := s.mergeViewChange(p2, crypto.ZeroHash, crypto.ZeroHash)
	assert.True(t, accepted2)
	assert.True(t, added2)
	assert.Len(t, tally2.signatures, 2)

	p3, _ := proof.WithSignature(core.PeerSignature{Signer: kp3.Public, Signature: sig3})
	tally3, _, accepted3 := s.mergeViewChange(p3, crypto.ZeroHash, crypto.ZeroHash)
	assert.True(t, accepted3)
	assert.Len(t, tally3.signatures, 3)

	// A proof anchored to a different chain state is silently dropped.
	stale := core.ViewChangeProof{Reason: core.ReasonCommitTimeout, LatestBlockHash: crypto.SumBytes([]byte("other branch"))}
	_, _, acceptedStale := s.mergeViewChange(stale, crypto.ZeroHash, crypto.ZeroHash)
	assert.False(t, acceptedStale)
}
