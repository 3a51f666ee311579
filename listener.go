package curvecp

import (
	"context"
	"net"
)

// Listener accepts inbound byte-stream connections and drives a
// server-mode handshake on each one before handing it back.
type Listener struct {
	ln   net.Listener
	opts []Option
}

// Listen opens network/address and returns a Listener that applies opts
// (plus WithMode(Server)) to every accepted connection.
func Listen(network, address string, opts ...Option) (*Listener, error) {
	ln, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	all := append([]Option{WithMode(Server)}, opts...)
	return &Listener{ln: ln, opts: all}, nil
}

// Accept blocks for the next inbound connection, then blocks again
// until its handshake completes or fails. extra options apply only to
// this one connection, layered on top of the Listener's own.
func (l *Listener) Accept(ctx context.Context, extra ...Option) (*Connection, error) {
	type result struct {
		c   *Connection
		err error
	}
	ch := make(chan result, 1)
	go func() {
		raw, err := l.ln.Accept()
		if err != nil {
			ch <- result{nil, err}
			return
		}
		opts := append(append([]Option{}, l.opts...), extra...)
		c, err := Start(raw, opts...)
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		return r.c, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				r.c.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Close stops accepting new connections. Already-accepted connections
// are unaffected.
func (l *Listener) Close() error { return l.ln.Close() }

// Addr returns the listener's bound network address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }
