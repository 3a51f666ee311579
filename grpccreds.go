package curvecp

import (
	"context"
	"io"
	"net"
	"time"

	"google.golang.org/grpc/credentials"

	"github.com/Rudd-O/curvecp/cookiekeys"
	"github.com/Rudd-O/curvecp/registry"
	"github.com/Rudd-O/curvecp/vault"
)

// GRPCCredentials adapts a CurveCP handshake to grpc's
// credentials.TransportCredentials, so a gRPC server or client can run
// its HTTP/2 framing over an authenticated CurveCP byte-stream instead
// of TLS.
type GRPCCredentials struct {
	Vault         vault.Vault
	Registry      registry.Registry
	CookieKeys    cookiekeys.Source
	PeerPublicKey *vault.PublicKey
	Timeout       time.Duration
}

// ClientHandshake dials out: it runs a client-mode handshake against
// PeerPublicKey and returns a net.Conn view of the resulting
// Connection.
func (g *GRPCCredentials) ClientHandshake(ctx context.Context, _ string, rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	opts := []Option{WithMode(Client)}
	if g.Vault != nil {
		opts = append(opts, WithVault(g.Vault))
	}
	if g.PeerPublicKey != nil {
		opts = append(opts, WithPeerPublicKey(*g.PeerPublicKey))
	}
	if g.Timeout > 0 {
		opts = append(opts, WithTimeout(g.Timeout))
	} else if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, WithTimeout(time.Until(deadline)))
	}
	c, err := Start(rawConn, opts...)
	if err != nil {
		return nil, nil, err
	}
	return &connAdapter{c: c}, AuthInfo{PeerPublicKey: *c.peerLTPub}, nil
}

// ServerHandshake runs a server-mode handshake, consulting Registry and
// CookieKeys, and returns a net.Conn view of the resulting Connection.
func (g *GRPCCredentials) ServerHandshake(rawConn net.Conn) (net.Conn, credentials.AuthInfo, error) {
	opts := []Option{WithMode(Server)}
	if g.Vault != nil {
		opts = append(opts, WithVault(g.Vault))
	}
	if g.Registry != nil {
		opts = append(opts, WithRegistry(g.Registry))
	}
	if g.CookieKeys != nil {
		opts = append(opts, WithCookieKeys(g.CookieKeys))
	}
	if g.Timeout > 0 {
		opts = append(opts, WithTimeout(g.Timeout))
	}
	c, err := Start(rawConn, opts...)
	if err != nil {
		return nil, nil, err
	}
	var peer vault.PublicKey
	if c.peerLTPub != nil {
		peer = *c.peerLTPub
	}
	return &connAdapter{c: c}, AuthInfo{PeerPublicKey: peer}, nil
}

func (g *GRPCCredentials) Info() credentials.ProtocolInfo {
	return credentials.ProtocolInfo{
		SecurityProtocol: "curvecp",
		SecurityVersion:  "1.0",
	}
}

func (g *GRPCCredentials) Clone() credentials.TransportCredentials {
	clone := *g
	return &clone
}

// OverrideServerName is retained only because credentials.TransportCredentials
// still declares it; CurveCP authenticates peers by public key, not by
// server name.
func (g *GRPCCredentials) OverrideServerName(string) error { return nil }

// AuthInfo is the credentials.AuthInfo CurveCP reports to gRPC after a
// successful handshake: the peer's long-term public key.
type AuthInfo struct {
	PeerPublicKey vault.PublicKey
}

func (AuthInfo) AuthType() string { return "curvecp" }

// connAdapter presents a Connection as a byte-stream net.Conn, the
// shape grpc's HTTP/2 transport requires: each Read drains one
// message at a time into the caller's buffer, and each Write sends
// its entire argument as a single message.
type connAdapter struct {
	c    *Connection
	rbuf []byte
}

func (a *connAdapter) Read(p []byte) (int, error) {
	if len(a.rbuf) == 0 {
		msg, err := a.c.Recv(context.Background())
		if err != nil {
			if err == ErrClosed {
				return 0, io.EOF
			}
			return 0, err
		}
		a.rbuf = msg
	}
	n := copy(p, a.rbuf)
	a.rbuf = a.rbuf[n:]
	return n, nil
}

func (a *connAdapter) Write(p []byte) (int, error) {
	if err := a.c.Send(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (a *connAdapter) Close() error { return a.c.Close() }
func (a *connAdapter) LocalAddr() net.Addr  { return a.c.conn.LocalAddr() }
func (a *connAdapter) RemoteAddr() net.Addr { return a.c.conn.RemoteAddr() }

func (a *connAdapter) SetDeadline(t time.Time) error      { return a.c.conn.SetDeadline(t) }
func (a *connAdapter) SetReadDeadline(t time.Time) error  { return a.c.conn.SetReadDeadline(t) }
func (a *connAdapter) SetWriteDeadline(t time.Time) error { return a.c.conn.SetWriteDeadline(t) }
