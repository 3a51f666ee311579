package curvecp

import "encoding/binary"

// Nonce prefixes. Short-term nonces are counter-based: a 16-byte prefix
// followed by an 8-byte big-endian counter. Long-term nonces are
// random-tail: an 8-byte prefix followed by a 16-byte value a Vault
// promises never to repeat. These byte sequences are part of the wire
// contract and must not change.
var (
	helloClientPrefix    = [16]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', '-', 'c', 'l', 'i', 'e', 'n', 't', '-', 'H'}
	initiateClientPrefix = [16]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', '-', 'c', 'l', 'i', 'e', 'n', 't', '-', 'I'}
	msgClientPrefix      = [16]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', '-', 'c', 'l', 'i', 'e', 'n', 't', '-', 'M'}

	helloServerPrefix    = [16]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', '-', 's', 'e', 'r', 'v', 'e', 'r', '-', 'H'}
	initiateServerPrefix = [16]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', '-', 's', 'e', 'r', 'v', 'e', 'r', '-', 'I'}
	msgServerPrefix      = [16]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', '-', 's', 'e', 'r', 'v', 'e', 'r', '-', 'M'}
	readyServerPrefix    = [16]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', '-', 's', 'e', 'r', 'v', 'e', 'r', '-', 'R'}

	minuteKeyPrefix = [8]byte{'m', 'i', 'n', 'u', 't', 'e', '-', 'k'}
	vouchPrefix     = [8]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', 'V'}
	cookiePrefix    = [8]byte{'C', 'u', 'r', 'v', 'e', 'C', 'P', 'K'}
)

// side identifies which endpoint of a handshake a packet, nonce, or
// counter belongs to.
type side int

const (
	sideClient side = iota
	sideServer
)

func (s side) opposite() side {
	if s == sideClient {
		return sideServer
	}
	return sideClient
}

// packetKind distinguishes which short-term nonce family a counter is
// drawn from.
type packetKind int

const (
	kindHello packetKind = iota
	kindInitiate
	kindMsg
	kindReady
)

func shortTermPrefix(k packetKind, s side) [16]byte {
	switch {
	case k == kindHello && s == sideClient:
		return helloClientPrefix
	case k == kindInitiate && s == sideClient:
		return initiateClientPrefix
	case k == kindMsg && s == sideClient:
		return msgClientPrefix
	case k == kindHello && s == sideServer:
		return helloServerPrefix
	case k == kindInitiate && s == sideServer:
		return initiateServerPrefix
	case k == kindMsg && s == sideServer:
		return msgServerPrefix
	case k == kindReady && s == sideServer:
		return readyServerPrefix
	default:
		panic("curvecp: no short-term nonce prefix for this (kind, side) pair")
	}
}

// shortTermNonce builds the 24-byte nonce used for a counter-based box:
// the family prefix followed by the big-endian counter.
func shortTermNonce(k packetKind, s side, counter uint64) [24]byte {
	var n [24]byte
	prefix := shortTermPrefix(k, s)
	copy(n[:16], prefix[:])
	binary.BigEndian.PutUint64(n[16:], counter)
	return n
}

// longTermKind distinguishes which long-term nonce family a random tail
// belongs to.
type longTermKind int

const (
	longTermMinuteKey longTermKind = iota
	longTermVouch
	longTermCookie
)

func longTermPrefix(k longTermKind) [8]byte {
	switch k {
	case longTermMinuteKey:
		return minuteKeyPrefix
	case longTermVouch:
		return vouchPrefix
	case longTermCookie:
		return cookiePrefix
	default:
		panic("curvecp: unknown long-term nonce kind")
	}
}

// longTermNonce builds the 24-byte nonce used for a random-tail box: the
// family prefix followed by the 16-byte tail a Vault promises is unique.
func longTermNonce(k longTermKind, tail [16]byte) [24]byte {
	var n [24]byte
	prefix := longTermPrefix(k)
	copy(n[:8], prefix[:])
	copy(n[8:], tail[:])
	return n
}
