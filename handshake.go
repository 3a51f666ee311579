package curvecp

import (
	"golang.org/x/crypto/nacl/box"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/Rudd-O/curvecp/vault"
)

// sealBox and openBox perform ephemeral-keyed box operations directly,
// bypassing a Vault: the Hello, Cookie outer layer, Initiate outer
// layer, Ready, and Message frames all involve at least one side's
// ephemeral keypair, which a Vault (a long-term key capability) never
// holds.
func sealBox(plaintext []byte, nonce [24]byte, peerPub, myPriv [32]byte) []byte {
	return box.Seal(nil, plaintext, &nonce, &peerPub, &myPriv)
}

func openBox(ciphertext []byte, nonce [24]byte, peerPub, myPriv [32]byte) ([]byte, bool) {
	return box.Open(nil, ciphertext, &nonce, &peerPub, &myPriv)
}

var helloZeroPlaintext = make([]byte, 64)

// startClientHandshake sends the opening Hello frame and arms the
// socket for the server's Cookie.
func (c *Connection) startClientHandshake() error {
	priv, pub, err := vault.GenerateKeyPair()
	if err != nil {
		return err
	}
	c.ourEphPriv, c.ourEphPub = priv, pub

	nonce := shortTermNonce(kindHello, sideClient, 0)
	b := sealBox(helloZeroPlaintext, nonce, [32]byte(*c.peerLTPub), [32]byte(c.ourEphPriv))
	if err := writeFrame(c.conn, encodeHello(helloPacket{EC: c.ourEphPub, N: 0, Box: b})); err != nil {
		return &TransportError{Reason: err}
	}
	c.state = stateAwaitingCookie
	c.arm()
	return nil
}

// startServerHandshake has nothing to send; it just arms for the
// client's Hello.
func (c *Connection) startServerHandshake() error {
	c.state = stateAwaitingHello
	c.arm()
	return nil
}

func (c *Connection) onHello(p helloPacket) {
	nonce := shortTermNonce(kindHello, sideClient, p.N)
	plain, err := c.v.BoxOpen(p.Box, &nonce, vault.PublicKey(p.EC))
	if err != nil {
		c.failHandshake(fatalHandshake(ErrVerifyFailed))
		return
	}
	if len(plain) != 64 || !isAllZero(plain) {
		c.failHandshake(fatalHandshake(ErrMalformedHello))
		return
	}
	c.peerEphPub = p.EC

	priv, pub, err := vault.GenerateKeyPair()
	if err != nil {
		c.failHandshake(fatalHandshake(err))
		return
	}
	c.ourEphPriv, c.ourEphPub = priv, pub

	innerTail := c.v.SafeNonce()
	innerNonce := longTermNonce(longTermMinuteKey, innerTail)
	minuteKey := [32]byte(c.cookieKeys.CurrentKey())
	cookiePlain := make([]byte, 0, 64)
	cookiePlain = append(cookiePlain, p.EC[:]...)
	cookiePlain = append(cookiePlain, c.ourEphPriv[:]...)
	sealed := secretbox.Seal(nil, cookiePlain, (*[24]byte)(&innerNonce), &minuteKey)

	var kookie [96]byte
	copy(kookie[:16], innerTail[:])
	copy(kookie[16:], sealed)

	outerTail := c.v.SafeNonce()
	outerNonce := longTermNonce(longTermCookie, outerTail)
	outerPlain := make([]byte, 0, 128)
	outerPlain = append(outerPlain, c.ourEphPub[:]...)
	outerPlain = append(outerPlain, kookie[:]...)
	outerBox := c.v.Box(outerPlain, &outerNonce, vault.PublicKey(p.EC))

	if err := writeFrame(c.conn, encodeCookie(cookiePacket{Nonce: outerTail, Box: outerBox})); err != nil {
		c.failHandshake(&TransportError{Reason: err})
		return
	}
	c.state = stateAwaitingVouch
	c.arm()
}

func (c *Connection) onCookie(p cookiePacket) {
	nonce := longTermNonce(longTermCookie, p.Nonce)
	plain, ok := openBox(p.Box, nonce, [32]byte(*c.peerLTPub), [32]byte(c.ourEphPriv))
	if !ok || len(plain) != 128 {
		c.failHandshake(fatalHandshake(ErrVerifyFailed))
		return
	}
	copy(c.peerEphPub[:], plain[:32])
	copy(c.cookieEcho[:], plain[32:128])

	vouchTail := c.v.SafeNonce()
	vouchNonce := longTermNonce(longTermVouch, vouchTail)
	vouchInnerBox := c.v.Box(c.ourEphPub[:], &vouchNonce, *c.peerLTPub)

	mdBytes, err := encodeMetadata(c.md)
	if err != nil {
		c.failHandshake(fatalHandshake(err))
		return
	}

	ourLTPub := c.v.PublicKey()
	plainInitiate := make([]byte, 0, 32+16+len(vouchInnerBox)+len(mdBytes))
	plainInitiate = append(plainInitiate, ourLTPub[:]...)
	plainInitiate = append(plainInitiate, vouchTail[:]...)
	plainInitiate = append(plainInitiate, vouchInnerBox...)
	plainInitiate = append(plainInitiate, mdBytes...)

	outerNonce := shortTermNonce(kindInitiate, sideClient, 1)
	outerBox := sealBox(plainInitiate, outerNonce, [32]byte(c.peerEphPub), [32]byte(c.ourEphPriv))

	if err := writeFrame(c.conn, encodeVouch(vouchPacket{Kookie: c.cookieEcho, N: 1, Box: outerBox})); err != nil {
		c.failHandshake(&TransportError{Reason: err})
		return
	}
	c.c = 2
	c.rc = 2
	c.state = stateAwaitingReady
	c.arm()
}

// verifyCookieEcho checks invariant: the cookie the client echoed back
// must decrypt under one of the server's recent minute keys and name
// exactly the ephemeral keypair this connection already holds.
func (c *Connection) verifyCookieEcho(kookie [96]byte) bool {
	var tail [16]byte
	copy(tail[:], kookie[:16])
	sealed := kookie[16:]
	nonce := longTermNonce(longTermMinuteKey, tail)
	for _, k := range c.cookieKeys.RecentKeys() {
		key := [32]byte(k)
		plain, ok := secretbox.Open(nil, sealed, (*[24]byte)(&nonce), &key)
		if !ok || len(plain) != 64 {
			continue
		}
		if [32]byte(c.peerEphPub) == [32]byte(plain[:32]) && [32]byte(c.ourEphPriv) == sliceTo32(plain[32:]) {
			return true
		}
	}
	return false
}

func sliceTo32(b []byte) [32]byte {
	var out [32]byte
	copy(out[:], b)
	return out
}

func (c *Connection) onVouch(p vouchPacket) {
	if p.N != 1 {
		c.failHandshake(fatalHandshake(ErrBadCounter))
		return
	}
	outerNonce := shortTermNonce(kindInitiate, sideClient, p.N)
	plain, ok := openBox(p.Box, outerNonce, [32]byte(c.peerEphPub), [32]byte(c.ourEphPriv))
	if !ok || len(plain) < 32+16+48 {
		c.failHandshake(fatalHandshake(ErrVerifyFailed))
		return
	}
	var clientLTPub vault.PublicKey
	copy(clientLTPub[:], plain[:32])
	var vouchTail [16]byte
	copy(vouchTail[:], plain[32:48])
	vouchInnerBox := plain[48:96]
	mdBytes := plain[96:]

	if !c.verifyCookieEcho(p.Kookie) {
		c.failHandshake(fatalHandshake(ErrCookie))
		return
	}

	vouchNonce := longTermNonce(longTermVouch, vouchTail)
	vouchPlain, err := c.v.BoxOpen(vouchInnerBox, &vouchNonce, clientLTPub)
	if err != nil || len(vouchPlain) != 32 || [32]byte(c.peerEphPub) != sliceTo32(vouchPlain) {
		c.failHandshake(fatalHandshake(ErrVouchMismatch))
		return
	}

	if !c.reg.Verify(c.conn, clientLTPub) {
		c.failHandshake(fatalHandshake(ErrRegistryRejected))
		return
	}

	rmd, err := decodeMetadata(mdBytes)
	if err != nil {
		c.failHandshake(fatalHandshake(err))
		return
	}
	c.rmd = rmd
	c.peerLTPub = &clientLTPub

	if len(mdBytes) > 0 {
		readyMD, err := encodeMetadata(c.md)
		if err != nil {
			c.failHandshake(fatalHandshake(err))
			return
		}
		readyNonce := shortTermNonce(kindReady, sideServer, 2)
		readyBox := sealBox(readyMD, readyNonce, [32]byte(c.peerEphPub), [32]byte(c.ourEphPriv))
		if err := writeFrame(c.conn, encodeReady(readyPacket{N: 2, Box: readyBox})); err != nil {
			c.failHandshake(&TransportError{Reason: err})
			return
		}
	}

	c.c = 3
	c.rc = 2
	c.state = stateConnected
	c.completeStart(nil)
	c.drainQueue()
}

func (c *Connection) onReady(p readyPacket) {
	if p.N != 2 {
		c.failHandshake(fatalHandshake(ErrBadCounter))
		return
	}
	nonce := shortTermNonce(kindReady, sideServer, p.N)
	plain, ok := openBox(p.Box, nonce, [32]byte(c.peerEphPub), [32]byte(c.ourEphPriv))
	if !ok {
		c.failHandshake(fatalHandshake(ErrVerifyFailed))
		return
	}
	rmd, err := decodeMetadata(plain)
	if err != nil {
		c.failHandshake(fatalHandshake(err))
		return
	}
	c.rmd = rmd
	c.rc = 3
	c.state = stateConnected
	c.completeStart(nil)
	c.drainQueue()
}

// onReadySkippedDeliverMessage handles a server that skipped Ready
// because this client's Initiate carried no metadata: the client's first
// inbound frame is already the server's first Message, at counter 3
// (counter 2 stays reserved for the skipped Ready).
func (c *Connection) onReadySkippedDeliverMessage(p msgPacket) {
	c.rmd = nil
	c.rc = 3
	c.state = stateConnected
	c.completeStart(nil)
	c.onMessage(p)
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
