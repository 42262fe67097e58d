// Command sumeragid runs one Sumeragi consensus node: it loads the node's
// configuration, opens its listener, and wires the crypto, transport,
// queue, and consensus components together exactly as the boundary
// interfaces in internal/store and internal/worldstate expect. The disk
// block store, the smart-contract execution engine, and the genesis
// loader are all out of scope for the core; this binary
// supplies minimal in-memory stand-ins for them so the node is runnable
// end to end.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/irohad/sumeragi/internal/config"
	"github.com/irohad/sumeragi/internal/consensus"
	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
	"github.com/irohad/sumeragi/internal/eventbus"
	"github.com/irohad/sumeragi/internal/store"
	"github.com/irohad/sumeragi/internal/transport"
	"github.com/irohad/sumeragi/internal/txqueue"
	"github.com/irohad/sumeragi/internal/worldstate"
)

func main() {
	configPath := flag.String("config", "", "path to the node's YAML configuration file")
	isGenesis := flag.Bool("genesis", false, "propose the genesis block on startup")
	flag.Parse()

	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(*configPath, *isGenesis, log); err != nil {
		log.WithError(err).Error("sumeragid: fatal startup error")
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps a startup failure to the process exit codes: configuration
// errors exit 1, any other fatal startup error exits 2.
func exitCodeFor(err error) int {
	if _, ok := err.(*configError); ok {
		return 1
	}
	return 2
}

type configError struct{ error }

func run(configPath string, isGenesis bool, log *logrus.Logger) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return &configError{fmt.Errorf("sumeragid: load config: %w", err)}
		}
		cfg = loaded
	}
	if err := cfg.Validate(); err != nil {
		return &configError{fmt.Errorf("sumeragid: invalid config: %w", err)}
	}

	keys, err := crypto.GenerateKeyPair(crypto.Ed25519)
	if err != nil {
		return fmt.Errorf("sumeragid: generate node key pair: %w", err)
	}
	log.WithField("public_key", hex.EncodeToString(keys.Public.Raw)).Info("sumeragid: node identity")

	self := core.PeerIdentity{Address: cfg.Network.ListenAddr, PublicKey: keys.Public}

	bus := eventbus.NewChannelBus()
	logEvents(bus, log)

	q := txqueue.New(txqueue.Limits{
		Capacity:        cfg.Queue.Capacity,
		MaxPerAuthor:    cfg.Queue.CapacityPerUser,
		QueueTTL:        cfg.Queue.TransactionTimeToLive,
		FutureThreshold: cfg.Queue.FutureThreshold,
	}, log, bus)

	table := transport.NewTable(self, keys.Private, cfg.Network.IdleTimeout, log, bus)

	trusted, err := trustedKeySet(cfg)
	if err != nil {
		return &configError{err}
	}
	accept := func(pub crypto.PublicKey) bool {
		_, ok := trusted[peerMapKey(pub)]
		return ok
	}

	ln, err := net.Listen("tcp", cfg.Network.ListenAddr)
	if err != nil {
		return fmt.Errorf("sumeragid: listen on %s: %w", cfg.Network.ListenAddr, err)
	}
	defer ln.Close()
	go acceptLoop(ln, table, accept, log)

	var genesis *core.GenesisTopology
	if isGenesis {
		peers, f, err := trustedPeerList(cfg)
		if err != nil {
			return &configError{err}
		}
		genesis = &core.GenesisTopology{Peers: peers, F: f}
	}

	bs := newMemBlockStore()
	ws := newMemWorldState()

	engine, err := consensus.New(cfg, self, keys, q, table, bs, ws, bus, log, genesis)
	if err != nil {
		return fmt.Errorf("sumeragid: construct engine: %w", err)
	}
	engine.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("sumeragid: shutdown signal received, draining current transition")
	engine.Stop()
	return nil
}

// acceptLoop accepts inbound TCP connections and hands each to the
// connection table's handshake-and-register path; a listener close (on
// shutdown) ends the loop without logging an error.
func acceptLoop(ln net.Listener, table *transport.Table, accept func(crypto.PublicKey) bool, log *logrus.Logger) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			if _, err := table.Accept(conn, accept); err != nil {
				log.WithError(err).Debug("sumeragid: inbound handshake failed")
			}
		}()
	}
}

// logEvents subscribes to bus and logs every published event at a level
// appropriate to its kind; this is the thin telemetry collaborator the
// core proper leaves out of scope.
func logEvents(bus *eventbus.ChannelBus, log *logrus.Logger) {
	ch := bus.Subscribe(256)
	go func() {
		for ev := range ch {
			fields := logrus.Fields{"kind": ev.Kind.String()}
			switch ev.Kind {
			case eventbus.KindTransactionQueued, eventbus.KindTransactionExpired:
				fields["tx_hash"] = ev.TransactionHash.String()
			case eventbus.KindBlockCommitted:
				fields["block_hash"] = ev.BlockHash.String()
				fields["height"] = ev.Height
			case eventbus.KindPeerTerminated:
				fields["connection_id"] = ev.ConnectionID
			}
			log.WithFields(fields).Info("sumeragid: event")
		}
	}()
}

func trustedPeerList(cfg config.Config) ([]core.PeerIdentity, int, error) {
	peers := make([]core.PeerIdentity, 0, len(cfg.Sumeragi.TrustedPeers))
	for _, tp := range cfg.Sumeragi.TrustedPeers {
		raw, err := hex.DecodeString(tp.PublicKey)
		if err != nil {
			return nil, 0, fmt.Errorf("sumeragid: decode trusted peer key %q: %w", tp.Address, err)
		}
		var algo crypto.Algorithm
		switch tp.Algorithm {
		case "ed25519":
			algo = crypto.Ed25519
		case "secp256k1":
			algo = crypto.Secp256k1
		default:
			return nil, 0, fmt.Errorf("sumeragid: trusted peer %q has unsupported algorithm %q", tp.Address, tp.Algorithm)
		}
		peers = append(peers, core.PeerIdentity{Address: tp.Address, PublicKey: crypto.PublicKey{Algorithm: algo, Raw: raw}})
	}
	f := (len(peers) - 1) / 3
	return peers, f, nil
}

func trustedKeySet(cfg config.Config) (map[string]struct{}, error) {
	peers, _, err := trustedPeerList(cfg)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(peers))
	for _, p := range peers {
		out[peerMapKey(p.PublicKey)] = struct{}{}
	}
	return out, nil
}

func peerMapKey(pub crypto.PublicKey) string {
	return pub.Algorithm.String() + ":" + string(pub.Raw)
}

// memBlockStore is an in-memory stand-in for the out-of-scope durable
// block store: it satisfies store.BlockStore so the engine
// has somewhere to append committed blocks when run as a single demo
// binary, with no durability guarantee across restarts.
type memBlockStore struct {
	mu     sync.RWMutex
	blocks map[uint64]core.Block
}

func newMemBlockStore() *memBlockStore {
	return &memBlockStore{blocks: make(map[uint64]core.Block)}
}

func (s *memBlockStore) Append(_ context.Context, block core.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[block.Header.Height] = block
	return nil
}

func (s *memBlockStore) Load(_ context.Context, height uint64) (core.Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[height]
	if !ok {
		return core.Block{}, store.ErrNotFound
	}
	return b, nil
}

// memWorldState is an in-memory stand-in for the out-of-scope
// smart-contract execution and permission/policy engines: it
// accepts every transaction unconditionally and tracks only the
// committed-transaction-hash set and current height, enough to satisfy
// worldstate.WorldState's contract for a demo single binary.
type memWorldState struct {
	mu        sync.RWMutex
	height    uint64
	committed map[crypto.Hash]struct{}
}

func newMemWorldState() *memWorldState {
	return &memWorldState{committed: make(map[crypto.Hash]struct{})}
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

func (w *memWorldState) CurrentView() worldstate.View {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snapshot := make(map[crypto.Hash]struct{}, len(w.committed))
	for h := range w.committed {
		snapshot[h] = struct{}{}
	}
	return memView{height: w.height, committed: snapshot}
}

func (w *memWorldState) Validate(_ context.Context, _ core.AcceptedTransaction, _ worldstate.View) worldstate.Outcome {
	return worldstate.Outcome{Accepted: true}
}

func (w *memWorldState) Apply(_ context.Context, block core.Block) (worldstate.View, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tx := range block.Accepted {
		w.committed[tx.Hash] = struct{}{}
	}
	w.height = block.Header.Height
	snapshot := make(map[crypto.Hash]struct{}, len(w.committed))
	for h := range w.committed {
		snapshot[h] = struct{}{}
	}
	return memView{height: w.height, committed: snapshot}, nil
}
