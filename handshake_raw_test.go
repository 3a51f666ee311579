package curvecp

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Rudd-O/curvecp/cookiekeys"
	"github.com/Rudd-O/curvecp/vault"
)

// rawClient drives the wire side of a CurveCP handshake by hand, so
// tests can forge values (a skipped counter, a stale cookie key) that
// the real Connection actor would never produce on its own.
type rawClient struct {
	t  *testing.T
	cn net.Conn

	ltPriv vault.PrivateKey
	ltPub  vault.PublicKey

	ephPriv vault.PrivateKey
	ephPub  vault.PublicKey

	peerLTPub  vault.PublicKey
	peerEphPub vault.PublicKey
}

func newRawClient(t *testing.T, cn net.Conn, serverLTPub vault.PublicKey) *rawClient {
	t.Helper()
	ltPriv, ltPub, err := vault.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate long-term keypair: %v", err)
	}
	ephPriv, ephPub, err := vault.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate ephemeral keypair: %v", err)
	}
	return &rawClient{
		t:         t,
		cn:        cn,
		ltPriv:    ltPriv,
		ltPub:     ltPub,
		ephPriv:   ephPriv,
		ephPub:    ephPub,
		peerLTPub: serverLTPub,
	}
}

func (r *rawClient) sendHello() {
	r.t.Helper()
	nonce := shortTermNonce(kindHello, sideClient, 0)
	b := sealBox(helloZeroPlaintext, nonce, [32]byte(r.peerLTPub), [32]byte(r.ephPriv))
	frame := encodeHello(helloPacket{EC: r.ephPub, N: 0, Box: b})
	if err := writeFrame(r.cn, frame); err != nil {
		r.t.Fatalf("send hello: %v", err)
	}
}

// readCookie reads and opens the server's Cookie, recording the
// server's ephemeral public key and returning the opaque cookie echo.
func (r *rawClient) readCookie() [96]byte {
	r.t.Helper()
	frame, err := readFrame(r.cn)
	if err != nil {
		r.t.Fatalf("read cookie frame: %v", err)
	}
	pkt, err := decodePacket(frame)
	if err != nil {
		r.t.Fatalf("decode cookie: %v", err)
	}
	cp, ok := pkt.(cookiePacket)
	if !ok {
		r.t.Fatalf("decoded to %T, want cookiePacket", pkt)
	}
	nonce := longTermNonce(longTermCookie, cp.Nonce)
	plain, ok := openBox(cp.Box, nonce, [32]byte(r.peerLTPub), [32]byte(r.ephPriv))
	if !ok || len(plain) != 128 {
		r.t.Fatalf("open cookie box failed")
	}
	copy(r.peerEphPub[:], plain[:32])
	var kookie [96]byte
	copy(kookie[:], plain[32:128])
	return kookie
}

// sendVouch builds and sends a conformant Vouch/Initiate frame (N=1)
// echoing back the given cookie, with the given metadata.
func (r *rawClient) sendVouch(kookie [96]byte, md []MetadataPair) {
	r.t.Helper()
	lv := vault.NewLocal(r.ltPriv, r.ltPub)

	vouchTail := lv.SafeNonce()
	vouchNonce := longTermNonce(longTermVouch, vouchTail)
	vouchInnerBox := lv.Box(r.ephPub[:], &vouchNonce, r.peerLTPub)

	mdBytes, err := encodeMetadata(md)
	if err != nil {
		r.t.Fatalf("encode metadata: %v", err)
	}

	plainInitiate := make([]byte, 0, 32+16+len(vouchInnerBox)+len(mdBytes))
	plainInitiate = append(plainInitiate, r.ltPub[:]...)
	plainInitiate = append(plainInitiate, vouchTail[:]...)
	plainInitiate = append(plainInitiate, vouchInnerBox...)
	plainInitiate = append(plainInitiate, mdBytes...)

	outerNonce := shortTermNonce(kindInitiate, sideClient, 1)
	outerBox := sealBox(plainInitiate, outerNonce, [32]byte(r.peerEphPub), [32]byte(r.ephPriv))

	frame := encodeVouch(vouchPacket{Kookie: kookie, N: 1, Box: outerBox})
	if err := writeFrame(r.cn, frame); err != nil {
		r.t.Fatalf("send vouch: %v", err)
	}
}

// sendMsg seals and sends one Message frame at the given (possibly
// forged) counter.
func (r *rawClient) sendMsg(counter uint64, plaintext []byte) {
	r.t.Helper()
	nonce := shortTermNonce(kindMsg, sideClient, counter)
	b := sealBox(plaintext, nonce, [32]byte(r.peerEphPub), [32]byte(r.ephPriv))
	frame := encodeMsg(msgPacket{N: counter, Box: b})
	if err := writeFrame(r.cn, frame); err != nil {
		r.t.Fatalf("send message: %v", err)
	}
}

// TestForgedCounterSkipIsFatal drives a server through a real handshake
// against a hand-built client, then sends a Message at counter 5 when
// the server expects counter 2: a skipped counter, not merely an
// out-of-order one, must kill the connection.
func TestForgedCounterSkipIsFatal(t *testing.T) {
	serverVault, err := vault.GenerateLocal()
	if err != nil {
		t.Fatalf("generate vault: %v", err)
	}

	a, b := net.Pipe()
	serverCh := make(chan startResult, 1)
	go func() {
		c, err := Start(a, WithMode(Server), WithVault(serverVault))
		serverCh <- startResult{c, err}
	}()

	rc := newRawClient(t, b, serverVault.PublicKey())
	rc.sendHello()
	kookie := rc.readCookie()
	rc.sendVouch(kookie, nil)

	sr := <-serverCh
	if sr.err != nil {
		t.Fatalf("server handshake: %v", sr.err)
	}
	server := sr.c
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	recvErrCh := make(chan error, 1)
	go func() {
		_, err := server.Recv(ctx)
		recvErrCh <- err
	}()

	rc.sendMsg(5, []byte("forged"))

	select {
	case err := <-recvErrCh:
		if err == nil {
			t.Fatalf("expected an error after a skipped message counter")
		}
		var te *TransportError
		if !errors.As(err, &te) {
			t.Fatalf("expected *TransportError, got %T: %v", err, err)
		}
		if !errors.Is(te, ErrVerifyFailed) {
			t.Fatalf("expected ErrVerifyFailed, got %v", te)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the connection to reject the forged counter")
	}
}

// TestCookieVerifiesAcrossKeyRotation drives a server whose cookie key
// rotates between issuing the Cookie and receiving the echoed-back
// Vouch/Initiate, proving the server checks the echo against every
// recent key, not only the current one.
func TestCookieVerifiesAcrossKeyRotation(t *testing.T) {
	serverVault, err := vault.GenerateLocal()
	if err != nil {
		t.Fatalf("generate vault: %v", err)
	}
	ck, err := cookiekeys.NewRotating(15*time.Millisecond, 4)
	if err != nil {
		t.Fatalf("new rotating cookie keys: %v", err)
	}
	defer ck.Stop()

	a, b := net.Pipe()
	serverCh := make(chan startResult, 1)
	go func() {
		c, err := Start(a, WithMode(Server), WithVault(serverVault), WithCookieKeys(ck))
		serverCh <- startResult{c, err}
	}()

	rc := newRawClient(t, b, serverVault.PublicKey())
	rc.sendHello()
	kookie := rc.readCookie()

	keyAtIssue := ck.CurrentKey()
	deadline := time.Now().Add(2 * time.Second)
	for ck.CurrentKey() == keyAtIssue && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ck.CurrentKey() == keyAtIssue {
		t.Fatalf("cookie key never rotated")
	}

	rc.sendVouch(kookie, nil)

	sr := <-serverCh
	if sr.err != nil {
		t.Fatalf("server handshake failed after cookie key rotation: %v", sr.err)
	}
	sr.c.Close()
}
