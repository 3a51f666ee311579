// Package vault holds the long-term keypair of a CurveCP endpoint and
// performs the long-term box operations the handshake needs, so that the
// secret key never has to leave a single, swappable capability.
package vault

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// PublicKey is a Curve25519 public key, 32 bytes.
type PublicKey [32]byte

// PrivateKey is a Curve25519 private key, 32 bytes.
type PrivateKey [32]byte

func keyFromString(s string, t string) (p [32]byte, err error) {
	if len(s) < 1 {
		return p, fmt.Errorf("%s key is too short", t)
	}
	if t == "private" {
		if s[0] != 'p' {
			if s[0] == 'P' {
				return p, fmt.Errorf("%s key %s appears to be a public key", t, s)
			}
			return p, fmt.Errorf("%s key %s is not valid", t, s)
		}
	} else if t == "public" {
		if s[0] != 'P' {
			if s[0] == 'p' {
				return p, fmt.Errorf("%s key %s appears to be a private key", t, s)
			}
			return p, fmt.Errorf("%s key %s is not valid", t, s)
		}
	}
	s = s[1:]
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return p, err
	}
	if len(data) != 32 {
		return p, fmt.Errorf("%s key %s does not decode to 32 bytes", t, s)
	}
	copy(p[:], data)
	return p, nil
}

// String renders a PrivateKey as the letter "p" plus a base64 encoding of
// the 32 key bytes.
func (k PrivateKey) String() string {
	return "p" + base64.StdEncoding.EncodeToString(k[:])
}

// PrivateKeyFromString parses the format produced by PrivateKey.String.
func PrivateKeyFromString(s string) (PrivateKey, error) {
	p, err := keyFromString(s, "private")
	return PrivateKey(p), err
}

// String renders a PublicKey as the letter "P" plus a base64 encoding of
// the 32 key bytes.
func (k PublicKey) String() string {
	return "P" + base64.StdEncoding.EncodeToString(k[:])
}

// PublicKeyFromString parses the format produced by PublicKey.String.
func PublicKeyFromString(s string) (PublicKey, error) {
	p, err := keyFromString(s, "public")
	return PublicKey(p), err
}

// GenerateKeyPair generates a fresh Curve25519 keypair. Safe to call
// concurrently.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return PrivateKey(*priv), PublicKey(*pub), nil
}

// ErrVerifyFailed is returned by BoxOpen when the ciphertext does not
// authenticate under the given nonce and peer key.
var ErrVerifyFailed = fmt.Errorf("vault: box authentication failed")

// Vault is the capability that holds a long-term keypair and performs
// long-term box operations on its behalf, plus a non-repeating
// random-nonce-tail generator. It is the sole owner of the long-term
// private key: nothing outside an implementation of this interface ever
// needs to see it in cleartext.
type Vault interface {
	// Box seals plaintext to peerPublic under the vault's long-term
	// secret key, using the given 24-byte nonce.
	Box(plaintext []byte, nonce *[24]byte, peerPublic PublicKey) []byte
	// BoxOpen opens ciphertext that was sealed to the vault's long-term
	// public key by peerPublic, using the given 24-byte nonce.
	BoxOpen(ciphertext []byte, nonce *[24]byte, peerPublic PublicKey) ([]byte, error)
	// PublicKey returns the vault's long-term public key.
	PublicKey() PublicKey
	// SafeNonce returns 16 bytes that this vault guarantees it will
	// never return again for the lifetime of the process.
	SafeNonce() [16]byte
}

// Local is an in-process Vault backed by a keypair held in memory. It is
// the default Vault used when none is supplied to Start/Connect/Listen.
//
// SafeNonce mixes crypto/rand entropy with a monotonically increasing
// counter: even in the astronomically unlikely event that crypto/rand
// repeats 16 bytes, the counter still guarantees non-repetition for as
// long as the process runs.
type Local struct {
	priv    PrivateKey
	pub     PublicKey
	counter atomic.Uint64
}

// NewLocal wraps an existing long-term keypair in a Local vault.
func NewLocal(priv PrivateKey, pub PublicKey) *Local {
	return &Local{priv: priv, pub: pub}
}

// NewLocalFromPrivate derives the matching public key from a private
// key alone and wraps both in a Local vault, for the common case of a
// deployment that only persists the private half.
func NewLocalFromPrivate(priv PrivateKey) *Local {
	var pub PublicKey
	curve25519.ScalarBaseMult((*[32]byte)(&pub), (*[32]byte)(&priv))
	return &Local{priv: priv, pub: pub}
}

// GenerateLocal generates a fresh long-term keypair and wraps it in a
// Local vault.
func GenerateLocal() (*Local, error) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return NewLocal(priv, pub), nil
}

func (l *Local) Box(plaintext []byte, nonce *[24]byte, peerPublic PublicKey) []byte {
	peer := [32]byte(peerPublic)
	priv := [32]byte(l.priv)
	return box.Seal(nil, plaintext, nonce, &peer, &priv)
}

func (l *Local) BoxOpen(ciphertext []byte, nonce *[24]byte, peerPublic PublicKey) ([]byte, error) {
	peer := [32]byte(peerPublic)
	priv := [32]byte(l.priv)
	out, ok := box.Open(nil, ciphertext, nonce, &peer, &priv)
	if !ok {
		return nil, ErrVerifyFailed
	}
	return out, nil
}

func (l *Local) PublicKey() PublicKey {
	return l.pub
}

func (l *Local) SafeNonce() [16]byte {
	var n [16]byte
	if _, err := rand.Read(n[:]); err != nil {
		panic(fmt.Sprintf("vault: failed to read entropy for safe nonce: %s", err))
	}
	seq := l.counter.Add(1)
	n[8] ^= byte(seq)
	n[9] ^= byte(seq >> 8)
	n[10] ^= byte(seq >> 16)
	n[11] ^= byte(seq >> 24)
	n[12] ^= byte(seq >> 32)
	n[13] ^= byte(seq >> 40)
	n[14] ^= byte(seq >> 48)
	n[15] ^= byte(seq >> 56)
	return n
}
