// Package registry verifies whether a client's long-term public key is
// acceptable on a given transport, the last gate a CurveCP server
// handshake passes through before admitting a connection.
package registry

import (
	"net"
	"sync"

	"github.com/Rudd-O/curvecp/vault"
)

// Registry decides whether a presenting client public key is allowed to
// complete the handshake on the given transport. Implementations MUST be
// safe for concurrent reads, since a busy listener verifies many
// in-flight handshakes at once.
type Registry interface {
	Verify(transport net.Conn, clientPublic vault.PublicKey) bool
}

// AllowAllRegistry admits every client public key. It is the default used
// when a server is started without an explicit Registry.
type AllowAllRegistry struct{}

func (AllowAllRegistry) Verify(net.Conn, vault.PublicKey) bool { return true }

// AllowAll is the shared AllowAllRegistry value.
var AllowAll Registry = AllowAllRegistry{}

// AllowList is a Registry backed by an explicit set of accepted client
// public keys.
type AllowList struct {
	mu      sync.RWMutex
	allowed map[vault.PublicKey]struct{}
}

// NewAllowList builds an AllowList admitting exactly the given keys.
func NewAllowList(keys ...vault.PublicKey) *AllowList {
	a := &AllowList{allowed: make(map[vault.PublicKey]struct{}, len(keys))}
	for _, k := range keys {
		a.allowed[k] = struct{}{}
	}
	return a
}

// Add admits an additional public key. Safe to call concurrently with
// Verify.
func (a *AllowList) Add(k vault.PublicKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[k] = struct{}{}
}

// Remove revokes a public key. Safe to call concurrently with Verify;
// already-established connections are unaffected.
func (a *AllowList) Remove(k vault.PublicKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.allowed, k)
}

func (a *AllowList) Verify(_ net.Conn, clientPublic vault.PublicKey) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.allowed[clientPublic]
	return ok
}
