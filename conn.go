// Package curvecp implements a secure, connection-oriented transport
// that tunnels arbitrary messages over a reliable byte-stream using the
// CurveCP handshake: a mutually-authenticated Curve25519 key exchange
// between long-term and ephemeral keypairs, followed by authenticated,
// encrypted, length-prefixed application messages.
//
// Each Connection is a single-threaded cooperative actor: exactly one
// goroutine (run) ever mutates its state, in response to control calls
// arriving over an internal command channel, inbound frames arriving
// from a dedicated reader goroutine, or timers. Callers never see or
// need to reason about this goroutine; they interact only through
// Send, Recv, AsyncRecv, AsyncCancel, Close, ControllingProcess, and
// Metadata.
package curvecp

import (
	"container/list"
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rudd-O/curvecp/cookiekeys"
	"github.com/Rudd-O/curvecp/registry"
	"github.com/Rudd-O/curvecp/vault"
)

type handshakeState int

const (
	stateReady handshakeState = iota
	stateAwaitingCookie
	stateAwaitingHello
	stateAwaitingVouch
	stateAwaitingReady
	stateConnected
	stateTerminal
)

var connIDCounter atomic.Uint64

// inboundEvent is what the reader goroutine posts to the actor: either a
// decoded frame's raw bytes, or the I/O error that ended the read loop.
type inboundEvent struct {
	frame []byte
	err   error
}

// receiverKind distinguishes a blocked synchronous caller from an
// asynchronous subscription in the receive queue.
type receiverKind int

const (
	receiverSync receiverKind = iota
	receiverAsync
)

// recvResult is what a blocked Recv call receives once the processor
// delivers a payload, a timer fires, or the connection closes.
type recvResult struct {
	data []byte
	err  error
}

// pendingReceiver is one element of the receive queue: either a blocked
// sync waiter or an async subscription, each with its own independent
// cancellable timer.
type pendingReceiver struct {
	id      uint64
	kind    receiverKind
	ref     RecvRef
	replyCh chan recvResult
	timer   *time.Timer
}

// Connection is one CurveCP connection: the connection actor described
// in the package doc. Obtain one via Connect, (*Listener).Accept, or
// Start.
type Connection struct {
	id   uint64
	conn net.Conn
	mode Mode
	side side
	log  zerolog.Logger

	v          vault.Vault
	cookieKeys cookiekeys.Source
	reg        registry.Registry
	peerLTPub  *vault.PublicKey

	state handshakeState

	ourEphPub  vault.PublicKey
	ourEphPriv vault.PrivateKey
	peerEphPub vault.PublicKey
	cookieEcho [96]byte

	c  uint64
	rc uint64

	md  []MetadataPair
	rmd []MetadataPair

	buf []byte

	recvQueue  *list.List
	nextRecvID uint64

	controller Controller

	cmds    chan func()
	inbound chan inboundEvent
	armCh   chan struct{}
	armed   bool
	done    chan struct{}

	handshakeTimer    *time.Timer
	handshakeDeadline time.Duration
	startResult       chan error

	closeOnce bool
}

func newConnection(conn net.Conn, o *options) *Connection {
	c := &Connection{
		id:         connIDCounter.Add(1),
		conn:       conn,
		mode:       o.mode,
		log:        o.logger,
		v:          o.vault,
		cookieKeys: o.cookieKeys,
		reg:        o.registry,
		peerLTPub:  o.peerPublicKey,
		state:      stateReady,
		md:         o.metadata,
		recvQueue:  list.New(),
		controller: o.controller,
		cmds:       make(chan func()),
		inbound:    make(chan inboundEvent),
		armCh:      make(chan struct{}, 1),
		done:       make(chan struct{}),
		handshakeDeadline: o.timeout,
	}
	if c.mode == Client {
		c.side = sideClient
	} else {
		c.side = sideServer
	}
	return c
}

// ID returns the connection's process-local identifier, used as the
// ConnID in Notifications delivered to its controller.
func (c *Connection) ID() uint64 { return c.id }

// Start wraps an already-obtained byte stream and drives the CurveCP
// handshake to completion, blocking until the connection reaches the
// connected state or the handshake fails. The mode option (or
// WithMode) selects client or server behavior.
func Start(conn net.Conn, opts ...Option) (*Connection, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.vault == nil {
		v, err := vault.GenerateLocal()
		if err != nil {
			return nil, fmt.Errorf("curvecp: failed to generate vault: %w", err)
		}
		o.vault = v
	}
	if o.mode == Server && o.cookieKeys == nil {
		ck, err := cookiekeys.NewRotating(time.Minute, 1)
		if err != nil {
			return nil, fmt.Errorf("curvecp: failed to start cookie key rotation: %w", err)
		}
		o.cookieKeys = ck
	}
	if o.mode == Client && o.peerPublicKey == nil {
		conn.Close()
		return nil, fmt.Errorf("curvecp: client mode requires WithPeerPublicKey")
	}
	if o.controller == nil {
		o.controller = NewChanController(16)
	}

	c := newConnection(conn, o)
	resultCh := make(chan error, 1)
	c.startResult = resultCh

	go c.readerLoop()
	go c.run()

	err := <-resultCh
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Connect dials address over network, then performs a client-mode
// CurveCP handshake against peerPublicKey (set via WithPeerPublicKey).
// If ctx has a deadline and the caller did not supply WithTimeout, the
// deadline also bounds the handshake.
func Connect(ctx context.Context, network, address string, opts ...Option) (*Connection, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	base := []Option{WithMode(Client)}
	if deadline, ok := ctx.Deadline(); ok {
		base = append(base, WithTimeout(time.Until(deadline)))
	}
	opts = append(base, opts...)
	return Start(conn, opts...)
}

// beginHandshake runs the "ready" state's start transition. It executes
// before the actor's event loop begins selecting, so no synchronization
// is required: nothing else can observe connection state yet.
func (c *Connection) beginHandshake(timeout time.Duration) {
	if timeout > 0 {
		c.handshakeTimer = time.AfterFunc(timeout, func() {
			c.submit(func() { c.onHandshakeTimeout() })
		})
	}
	var err error
	if c.mode == Client {
		err = c.startClientHandshake()
	} else {
		err = c.startServerHandshake()
	}
	if err != nil {
		c.failHandshake(err)
	}
}

// submit hands a closure to the actor goroutine for execution, in
// order, serialized with every other mutation. Returns false if the
// actor has already terminated.
func (c *Connection) submit(fn func()) bool {
	select {
	case c.cmds <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Connection) run() {
	defer close(c.done)
	c.beginHandshake(c.handshakeDeadline)
	for c.state != stateTerminal {
		select {
		case fn := <-c.cmds:
			fn()
		case ev := <-c.inbound:
			c.handleInbound(ev)
		case <-c.controller.Done():
			c.onControllerDied()
		}
	}
}

func (c *Connection) arm() {
	if c.armed || c.state == stateTerminal {
		return
	}
	c.armed = true
	select {
	case c.armCh <- struct{}{}:
	default:
	}
}

func (c *Connection) readerLoop() {
	for {
		select {
		case <-c.armCh:
		case <-c.done:
			return
		}
		frame, err := readFrame(c.conn)
		select {
		case c.inbound <- inboundEvent{frame: frame, err: err}:
		case <-c.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *Connection) handleInbound(ev inboundEvent) {
	c.armed = false
	if ev.err != nil {
		c.onTransportError(ev.err)
		return
	}
	pkt, err := decodePacket(ev.frame)
	if err != nil {
		if c.state == stateConnected {
			c.log.Error().Err(err).Msg("curvecp: malformed frame in connected state")
			c.closeLocked(&TransportError{Reason: err})
		} else {
			c.failHandshake(fatalHandshake(err))
		}
		return
	}
	c.dispatch(pkt)
}

// dispatch routes a decoded packet to the handler appropriate for the
// current handshake state. Any frame whose type does not match the
// state's expected type is fatal.
func (c *Connection) dispatch(pkt interface{}) {
	switch c.state {
	case stateAwaitingHello:
		p, ok := pkt.(helloPacket)
		if !ok {
			c.failHandshake(fatalHandshake(ErrUnexpectedFrame))
			return
		}
		c.onHello(p)
	case stateAwaitingCookie:
		p, ok := pkt.(cookiePacket)
		if !ok {
			c.failHandshake(fatalHandshake(ErrUnexpectedFrame))
			return
		}
		c.onCookie(p)
	case stateAwaitingVouch:
		p, ok := pkt.(vouchPacket)
		if !ok {
			c.failHandshake(fatalHandshake(ErrUnexpectedFrame))
			return
		}
		c.onVouch(p)
	case stateAwaitingReady:
		// A server whose client sent no metadata skips Ready entirely, so
		// the next inbound frame here may already be a Message.
		switch p := pkt.(type) {
		case readyPacket:
			c.onReady(p)
		case msgPacket:
			c.onReadySkippedDeliverMessage(p)
		default:
			c.failHandshake(fatalHandshake(ErrUnexpectedFrame))
		}
	case stateConnected:
		p, ok := pkt.(msgPacket)
		if !ok {
			c.log.Error().Msg("curvecp: unexpected frame type in connected state")
			c.closeLocked(&TransportError{Reason: ErrUnexpectedFrame})
			return
		}
		c.onMessage(p)
	default:
		c.failHandshake(fatalHandshake(ErrUnexpectedFrame))
	}
}

func (c *Connection) onTransportError(err error) {
	if c.state == stateReady || c.state == stateAwaitingCookie || c.state == stateAwaitingHello ||
		c.state == stateAwaitingVouch || c.state == stateAwaitingReady {
		c.failHandshake(&TransportError{Reason: err})
		return
	}
	c.closeLocked(&TransportError{Reason: err})
}

func (c *Connection) onHandshakeTimeout() {
	if c.state == stateConnected || c.state == stateTerminal {
		return
	}
	c.failHandshake(ErrTimeout)
}

func (c *Connection) onControllerDied() {
	c.closeLocked(ErrClosed)
}

// failHandshake tears the connection down exactly like close, since the
// handshake never reached connected, then reports the fatal handshake
// error to whoever is blocked in Start/Connect/Accept. The socket is
// therefore already released when Start returns.
func (c *Connection) failHandshake(err error) {
	c.closeLocked(err)
	c.completeStart(err)
}

func (c *Connection) completeStart(err error) {
	if c.startResult == nil {
		return
	}
	select {
	case c.startResult <- err:
	default:
	}
	c.startResult = nil
}

// closeLocked performs the shared teardown for close, transport
// failure, and controller death: release the socket exactly once, fail
// every pending sync receiver with the given reason, deliver at most
// one Closed notification if any async receiver was pending, and
// transition to terminal.
func (c *Connection) closeLocked(reason error) {
	if c.closeOnce {
		return
	}
	c.closeOnce = true
	if c.handshakeTimer != nil {
		c.handshakeTimer.Stop()
	}
	c.conn.Close()

	sawAsync := false
	for e := c.recvQueue.Front(); e != nil; e = e.Next() {
		pr := e.Value.(*pendingReceiver)
		if pr.timer != nil {
			pr.timer.Stop()
		}
		switch pr.kind {
		case receiverSync:
			pr.replyCh <- recvResult{err: reason}
		case receiverAsync:
			sawAsync = true
		}
	}
	c.recvQueue.Init()
	if sawAsync {
		c.controller.Deliver(Notification{Tag: TagClosed, ConnID: c.id})
	}
	c.state = stateTerminal
}

// Send encrypts and transmits one application message. One call to Send
// is exactly one encrypted frame: there is no fragmentation.
func (c *Connection) Send(msg []byte) error {
	reply := make(chan error, 1)
	ok := c.submit(func() {
		reply <- c.sendLocked(msg)
	})
	if !ok {
		return ErrClosed
	}
	return <-reply
}

// Recv blocks until the next application message arrives, ctx is done,
// or the connection closes.
func (c *Connection) Recv(ctx context.Context) ([]byte, error) {
	reply := make(chan recvResult, 1)
	var id uint64
	ok := c.submit(func() {
		id = c.registerReceiver(receiverSync, reply, ctx)
	})
	if !ok {
		return nil, ErrClosed
	}
	select {
	case res := <-reply:
		return res.data, res.err
	case <-ctx.Done():
		c.submit(func() { c.cancelReceiver(id) })
		select {
		case res := <-reply:
			return res.data, res.err
		default:
			if ctx.Err() == context.DeadlineExceeded {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()
		}
	}
}

// AsyncRecv registers an asynchronous subscription and returns
// immediately with its ref. Later messages, timeouts, and connection
// loss are delivered to the controller as Notifications tagged with
// this ref (for TagAsyncTimeout) or the connection's id (for TagMsg and
// TagClosed).
func (c *Connection) AsyncRecv(ctx context.Context) (RecvRef, error) {
	var ref RecvRef
	ok := c.submit(func() {
		ref = newRecvRef()
		c.registerAsyncReceiver(ref, ctx)
	})
	if !ok {
		return RecvRef{}, ErrClosed
	}
	return ref, nil
}

// AsyncCancel removes a pending async subscription. Idempotent: an
// unknown ref returns nil.
func (c *Connection) AsyncCancel(ref RecvRef) error {
	ok := c.submit(func() {
		c.cancelAsyncReceiver(ref)
	})
	if !ok {
		return nil
	}
	return nil
}

// Close releases the connection's resources. Idempotent.
func (c *Connection) Close() error {
	ok := c.submit(func() {
		c.closeLocked(ErrClosed)
	})
	if !ok {
		return nil
	}
	return nil
}

// ControllingProcess reassigns the connection's controller. Only the
// current controller may do this; any other caller gets ErrNotOwner.
func (c *Connection) ControllingProcess(current, next Controller) error {
	reply := make(chan error, 1)
	ok := c.submit(func() {
		if c.controller != current {
			reply <- ErrNotOwner
			return
		}
		c.controller = next
		reply <- nil
	})
	if !ok {
		return ErrClosed
	}
	return <-reply
}

// Metadata returns the peer's metadata as received during the
// handshake.
func (c *Connection) Metadata() ([]MetadataPair, error) {
	reply := make(chan []MetadataPair, 1)
	ok := c.submit(func() {
		reply <- c.rmd
	})
	if !ok {
		return nil, ErrClosed
	}
	return <-reply, nil
}
