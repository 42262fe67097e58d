package transport

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/crypto"
	"github.com/irohad/sumeragi/internal/eventbus"
)

// Table owns the set of live peer connections. Other tasks hold send
// handles (via Send/Broadcast) only; the table itself is the sole owner of
// the connection map.
type Table struct {
	mu    sync.RWMutex
	conns map[string]*Conn // keyed by core.PeerIdentity.Key()

	self        core.PeerIdentity
	selfPriv    crypto.PrivateKey
	idleTimeout time.Duration
	log         *logrus.Logger
	bus         eventbus.EventBus

	onConnect func(*Conn)
}

// SetOnConnect registers a callback invoked, from the goroutine that
// completed the handshake, every time a new connection is registered in
// the table (including the winning side of a duplicate-connection race).
// It is not invoked for the connection a duplicate race discards. Intended
// for a single subscriber (the consensus engine) wired at startup.
func (t *Table) SetOnConnect(fn func(*Conn)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = fn
}

// NewTable constructs an empty connection table for a node identified by
// self/selfPriv.
func NewTable(self core.PeerIdentity, selfPriv crypto.PrivateKey, idleTimeout time.Duration, log *logrus.Logger, bus eventbus.EventBus) *Table {
	if log == nil {
		log = logrus.New()
	}
	if bus == nil {
		bus = eventbus.NoopBus{}
	}
	return &Table{
		conns:       make(map[string]*Conn),
		self:        self,
		selfPriv:    selfPriv,
		idleTimeout: idleTimeout,
		log:         log,
		bus:         bus,
	}
}

// Get returns the live connection to peer, if any.
func (t *Table) Get(peer core.PeerIdentity) (*Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[peer.Key()]
	return c, ok
}

// Broadcast sends payload to every currently connected peer, skipping any
// that are backpressured; an unreachable peer during broadcast is simply
// skipped.
func (t *Table) Broadcast(payload []byte) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for key, c := range t.conns {
		if err := c.Send(payload); err != nil {
			t.log.WithError(err).WithField("peer", key).Debug("transport: broadcast send failed")
		}
	}
}

// Dial establishes an outbound connection to addr, expecting remote's
// identity to be acceptable per accept, and registers it in the table
// (resolving any reciprocal-dial race via the duplicate-resolution rule).
func (t *Table) Dial(ctx context.Context, addr string, accept func(crypto.PublicKey) bool) (*Conn, error) {
	dialer := net.Dialer{Timeout: t.idleTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return t.completeHandshakeAndRegister(netConn, roleInitiator, accept)
}

// Accept completes an inbound handshake on an already-accepted net.Conn and
// registers it in the table.
func (t *Table) Accept(netConn net.Conn, accept func(crypto.PublicKey) bool) (*Conn, error) {
	return t.completeHandshakeAndRegister(netConn, roleResponder, accept)
}

func (t *Table) completeHandshakeAndRegister(netConn net.Conn, role handshakeRole, accept func(crypto.PublicKey) bool) (*Conn, error) {
	_ = netConn.SetDeadline(time.Now().Add(t.idleTimeout))
	session, err := Handshake(netConn, role, t.self, t.selfPriv, accept)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	_ = netConn.SetDeadline(time.Time{})

	conn := newConn(uuid.NewString(), netConn, session, t.idleTimeout, t.log, t.bus)

	t.mu.Lock()
	key := session.Remote.Key()
	if existing, ok := t.conns[key]; ok {
		keep, drop := resolveDuplicate(existing, conn)
		t.conns[key] = keep
		onConnect := t.onConnect
		t.mu.Unlock()
		if drop == conn {
			drop.Close()
			return keep, nil
		}
		existing.Close()
		go func() { _ = conn.Run() }()
		if onConnect != nil {
			onConnect(conn)
		}
		return conn, nil
	}
	t.conns[key] = conn
	onConnect := t.onConnect
	t.mu.Unlock()

	go func() { _ = conn.Run() }()
	if onConnect != nil {
		onConnect(conn)
	}
	return conn, nil
}

// resolveDuplicate implements the deterministic tie-break: the session
// with the lexicographically smaller disambiguator is kept.
func resolveDuplicate(a, b *Conn) (keep, drop *Conn) {
	if bytes.Compare(a.session.Disambiguator[:], b.session.Disambiguator[:]) <= 0 {
		return a, b
	}
	return b, a
}

// Remove drops peer's connection from the table without closing it (the
// caller is expected to have already closed it, e.g. from a read error).
func (t *Table) Remove(peer core.PeerIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, peer.Key())
}

// Reconcile dials every expected peer not currently connected (in
// shuffled order, to avoid thundering-herd correlation across the
// cluster) and drops any connected peer no longer in expected.
func (t *Table) Reconcile(ctx context.Context, expected []core.PeerIdentity, accept func(crypto.PublicKey) bool) {
	t.mu.RLock()
	connected := make(map[string]struct{}, len(t.conns))
	for k := range t.conns {
		connected[k] = struct{}{}
	}
	t.mu.RUnlock()

	expectedKeys := make(map[string]struct{}, len(expected))
	var missing []core.PeerIdentity
	for _, p := range expected {
		expectedKeys[p.Key()] = struct{}{}
		if _, ok := connected[p.Key()]; !ok && p.Key() != t.self.Key() {
			missing = append(missing, p)
		}
	}
	rand.Shuffle(len(missing), func(i, j int) { missing[i], missing[j] = missing[j], missing[i] })

	for _, p := range missing {
		if _, err := t.Dial(ctx, p.Address, accept); err != nil {
			t.log.WithError(err).WithField("peer", p.Address).Debug("transport: reconcile dial failed")
		}
	}

	t.mu.Lock()
	for k, c := range t.conns {
		if _, ok := expectedKeys[k]; !ok {
			c.Close()
			delete(t.conns, k)
		}
	}
	t.mu.Unlock()
}
