package curvecp

import (
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rudd-O/curvecp/cookiekeys"
	"github.com/Rudd-O/curvecp/registry"
	"github.com/Rudd-O/curvecp/vault"
)

// Mode selects which side of the handshake a connection plays.
type Mode int

const (
	Client Mode = iota
	Server
)

// RecvRef is the opaque identifier handed back by AsyncRecv, later used
// to match AsyncCancel calls and async notifications to the receiver
// that requested them. Backed by a random UUID so refs are unguessable
// and never collide across connections or processes.
type RecvRef uuid.UUID

func newRecvRef() RecvRef {
	return RecvRef(uuid.New())
}

func (r RecvRef) String() string {
	return uuid.UUID(r).String()
}

// NotificationTag distinguishes the three shapes of async delivery a
// Controller can receive.
type NotificationTag int

const (
	// TagMsg carries a message delivered to an outstanding AsyncRecv.
	TagMsg NotificationTag = iota
	// TagAsyncTimeout reports that an outstanding AsyncRecv's deadline
	// expired before a message arrived.
	TagAsyncTimeout
	// TagClosed reports that the connection has closed. At most one is
	// ever delivered per connection, regardless of how many async
	// receivers were pending.
	TagClosed
)

// Notification is one asynchronous event delivered to a Connection's
// controller.
type Notification struct {
	Tag    NotificationTag
	ConnID uint64
	Bytes  []byte  // set when Tag == TagMsg
	Ref    RecvRef // set when Tag == TagAsyncTimeout
}

// Controller is the principal that owns asynchronous delivery for a
// connection. A connection holds a one-way liveness relation to its
// controller via Done: it never keeps the controller alive, it only
// observes whether the controller has gone away.
type Controller interface {
	// Deliver hands one Notification to the controller. Implementations
	// must not block indefinitely; a buffered channel-backed Controller
	// is the expected shape.
	Deliver(Notification)
	// Done reports controller death: once closed, the connection that
	// holds this Controller closes its socket and terminates.
	Done() <-chan struct{}
}

// ChanController is a Controller backed by a buffered channel, grounded
// on the Go idiom of exposing async events as a channel to range over.
type ChanController struct {
	ch   chan Notification
	done chan struct{}
}

// NewChanController creates a ChanController with the given delivery
// buffer size.
func NewChanController(buffer int) *ChanController {
	return &ChanController{
		ch:   make(chan Notification, buffer),
		done: make(chan struct{}),
	}
}

// Notifications returns the channel notifications arrive on.
func (c *ChanController) Notifications() <-chan Notification {
	return c.ch
}

func (c *ChanController) Deliver(n Notification) {
	select {
	case c.ch <- n:
	case <-c.done:
	}
}

func (c *ChanController) Done() <-chan struct{} {
	return c.done
}

// Close marks the controller as dead. Connections observing Done() will
// close their socket and terminate.
func (c *ChanController) Close() {
	select {
	case <-c.done:
	default:
		close(c.done)
	}
}

// Option configures a Connection at Start/Connect/Accept time.
type Option func(*options)

type options struct {
	mode           Mode
	metadata       []MetadataPair
	peerPublicKey  *vault.PublicKey
	timeout        time.Duration
	vault          vault.Vault
	cookieKeys     cookiekeys.Source
	registry       registry.Registry
	logger         zerolog.Logger
	controller     Controller
}

func defaultOptions() *options {
	return &options{
		mode:     Client,
		timeout:  0,
		registry: registry.AllowAll,
		logger:   zerolog.Nop(),
	}
}

// WithMode selects client or server behavior for Start. Connect and
// Accept set this automatically.
func WithMode(m Mode) Option {
	return func(o *options) { o.mode = m }
}

// WithMetadata sets the ordered list of metadata pairs sent to the peer
// during the handshake.
func WithMetadata(md []MetadataPair) Option {
	return func(o *options) { o.metadata = md }
}

// WithPeerPublicKey sets the server's long-term public key a client
// expects to reach. Required for client-mode connections.
func WithPeerPublicKey(pub vault.PublicKey) Option {
	return func(o *options) { o.peerPublicKey = &pub }
}

// WithTimeout bounds the handshake's duration. Zero (the default) means
// no deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithVault supplies the long-term keypair capability. Defaults to a
// freshly generated vault.Local if omitted.
func WithVault(v vault.Vault) Option {
	return func(o *options) { o.vault = v }
}

// WithCookieKeys supplies the server-side rotating cookie key source.
// Ignored in client mode. Defaults to a one-minute cookiekeys.Rotating
// with a history depth of one.
func WithCookieKeys(s cookiekeys.Source) Option {
	return func(o *options) { o.cookieKeys = s }
}

// WithRegistry supplies the server-side client-identity verifier.
// Ignored in client mode. Defaults to registry.AllowAll.
func WithRegistry(r registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger attaches a structured logger used for handshake
// diagnostics and fatal-error reporting. Defaults to a no-op logger.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithController sets the connection's initial controller. Defaults to
// a ChanController with a small buffer if omitted.
func WithController(c Controller) Option {
	return func(o *options) { o.controller = c }
}
