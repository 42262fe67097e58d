package transport

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irohad/sumeragi/internal/consensuserrors"
	"github.com/irohad/sumeragi/internal/core"
	"github.com/irohad/sumeragi/internal/eventbus"
)

// messageTag values prefix every application frame so Conn.readLoop can
// distinguish Ping/Pong control frames from application payloads without
// involving the consensus engine's own message taxonomy.
type messageTag byte

const (
	tagPing        messageTag = 0
	tagPong        messageTag = 1
	tagApplication messageTag = 2
)

// Conn wraps one established, authenticated connection to a peer: the
// per-connection task concurrently awaits a ping tick, an idle tick, an
// outbound item, and an inbound frame.
type Conn struct {
	id      string
	netConn net.Conn
	session *Session
	fw      *frameWriter
	fr      *frameReader
	log     *logrus.Logger
	bus     eventbus.EventBus

	idleTimeout time.Duration
	pingPeriod  time.Duration

	outbound chan []byte
	inbound  chan []byte
	liveness chan struct{}

	closeOnce sync.Once
	closed    chan struct{}
}

// newConn wraps netConn and session into a live Conn but does not start its
// pump goroutines; call Run to do that.
func newConn(id string, netConn net.Conn, session *Session, idleTimeout time.Duration, log *logrus.Logger, bus eventbus.EventBus) *Conn {
	if log == nil {
		log = logrus.New()
	}
	if bus == nil {
		bus = eventbus.NoopBus{}
	}
	return &Conn{
		id:          id,
		netConn:     netConn,
		session:     session,
		fw:          newFrameWriter(netConn, session.send),
		fr:          newFrameReader(netConn, session.recv),
		log:         log,
		bus:         bus,
		idleTimeout: idleTimeout,
		pingPeriod:  idleTimeout / 2,
		outbound:    make(chan []byte, 256),
		inbound:     make(chan []byte, 256),
		liveness:    make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// ID identifies the connection for logging and the event bus.
func (c *Conn) ID() string { return c.id }

// Remote returns the verified identity of the peer at the other end.
func (c *Conn) Remote() core.PeerIdentity { return c.session.Remote }

// Inbound returns the channel of decoded application-layer payloads
// received from the peer.
func (c *Conn) Inbound() <-chan []byte { return c.inbound }

// Send enqueues an application-layer payload for transmission. It never
// blocks past the outbound channel's buffer; a full buffer indicates a
// peer that cannot keep up and is the transport's backpressure signal.
func (c *Conn) Send(payload []byte) error {
	select {
	case c.outbound <- payload:
		return nil
	case <-c.closed:
		return fmt.Errorf("transport: connection %s is closed", c.id)
	default:
		return fmt.Errorf("transport: connection %s outbound queue full", c.id)
	}
}

// Close tears the connection down, safe to call more than once.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.netConn.Close()
		c.bus.Publish(eventbus.Event{Kind: eventbus.KindPeerTerminated, ConnectionID: c.id})
	})
}

// Run drives the connection's lifetime: a reader goroutine decodes inbound
// frames into c.inbound; the caller's goroutine (this one) multiplexes
// outbound sends, ping/idle timers, and reader errors until Close or a
// fatal error. Every branch is cancellation-safe: reads own their
// partial-frame state inside frameReader,
// writes go through net.Conn's own buffered write path.
func (c *Conn) Run() error {
	readErrs := make(chan error, 1)
	go c.readLoop(readErrs)

	idleTimer := time.NewTimer(c.idleTimeout)
	pingTimer := time.NewTimer(c.pingPeriod)
	defer idleTimer.Stop()
	defer pingTimer.Stop()

	resetTimers := func() {
		if !idleTimer.Stop() {
			select {
			case <-idleTimer.C:
			default:
			}
		}
		idleTimer.Reset(c.idleTimeout)
		if !pingTimer.Stop() {
			select {
			case <-pingTimer.C:
			default:
			}
		}
		pingTimer.Reset(c.pingPeriod)
	}

	for {
		select {
		case <-c.closed:
			return nil

		case err := <-readErrs:
			c.log.WithError(err).WithField("conn", c.id).Debug("transport: connection read failed")
			c.Close()
			return fmt.Errorf("%w: %v", consensuserrors.ErrFrameDecodeFailure, err)

		case payload := <-c.outbound:
			if err := c.fw.WriteFrame(append([]byte{byte(tagApplication)}, payload...)); err != nil {
				c.Close()
				return err
			}
			resetTimers()

		case <-c.liveness:
			resetTimers()

		case <-pingTimer.C:
			if err := c.fw.WriteFrame([]byte{byte(tagPing)}); err != nil {
				c.Close()
				return err
			}
			pingTimer.Reset(c.pingPeriod)

		case <-idleTimer.C:
			c.log.WithField("conn", c.id).Warn("transport: idle timeout")
			c.Close()
			return consensuserrors.ErrIdleTimeout
		}
	}
}

func (c *Conn) readLoop(errs chan<- error) {
	for {
		frame, err := c.fr.ReadFrame()
		if err != nil {
			select {
			case errs <- err:
			case <-c.closed:
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		select {
		case c.liveness <- struct{}{}:
		default:
		}
		switch messageTag(frame[0]) {
		case tagPing:
			if err := c.fw.WriteFrame([]byte{byte(tagPong)}); err != nil {
				select {
				case errs <- err:
				case <-c.closed:
				}
				return
			}
		case tagPong:
			// liveness only; no payload to deliver.
		case tagApplication:
			select {
			case c.inbound <- frame[1:]:
			case <-c.closed:
				return
			}
		default:
			select {
			case errs <- fmt.Errorf("transport: unknown message tag %d", frame[0]):
			case <-c.closed:
			}
			return
		}
	}
}
