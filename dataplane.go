package curvecp

// sendLocked is Send's actor-side implementation: one call seals and
// transmits exactly one frame, with no fragmentation or coalescing.
func (c *Connection) sendLocked(msg []byte) error {
	if c.state != stateConnected {
		return ErrClosed
	}
	if c.c == ^uint64(0) {
		c.closeLocked(ErrCounterExhausted)
		return ErrCounterExhausted
	}
	nonce := shortTermNonce(kindMsg, c.side, c.c)
	b := sealBox(msg, nonce, [32]byte(c.peerEphPub), [32]byte(c.ourEphPriv))
	frame := encodeMsg(msgPacket{N: c.c, Box: b})
	if err := writeFrame(c.conn, frame); err != nil {
		te := &TransportError{Reason: err}
		c.closeLocked(te)
		return te
	}
	c.c++
	return nil
}

// onMessage decrypts one inbound Message frame, rejecting any counter
// that does not exactly match the next counter expected, then stores
// the plaintext in the one-slot buffer and runs the processor. A
// skipped or replayed counter is fatal: a gap would mean the peer
// dropped a message, or a frame is being replayed or reordered, and
// the underlying transport is a reliable, ordered byte stream where
// that can only happen if a peer is misbehaving.
func (c *Connection) onMessage(p msgPacket) {
	if p.N != c.rc {
		c.closeLocked(&TransportError{Reason: ErrVerifyFailed})
		return
	}
	if c.rc == ^uint64(0) {
		c.closeLocked(ErrCounterExhausted)
		return
	}
	nonce := shortTermNonce(kindMsg, c.side.opposite(), p.N)
	plain, ok := openBox(p.Box, nonce, [32]byte(c.peerEphPub), [32]byte(c.ourEphPriv))
	if !ok {
		c.closeLocked(&TransportError{Reason: ErrVerifyFailed})
		return
	}
	c.rc = p.N + 1
	c.buf = plain
	c.drainQueue()
}
