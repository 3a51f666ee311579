package curvecp

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/Rudd-O/curvecp/vault"
)

// Wire frame magic prefixes. Unknown prefixes decode to packetUnknown and
// are fatal in every handshake state.
var (
	helloMagic  = [8]byte{0x6C, 0x09, 0xAF, 0xB2, 0x8A, 0xA9, 0xFA, 0xFC}
	cookieMagic = [8]byte{0x1C, 0x45, 0xDC, 0xB9, 0x41, 0xC0, 0xE3, 0xF6}
	vouchMagic  = [8]byte{0x6C, 0x09, 0xAF, 0xB2, 0x8A, 0xA9, 0xFA, 0xFD}
	readyMagic  = [8]byte{0x6D, 0x09, 0xAF, 0xB2, 0x8A, 0xA9, 0xFA, 0xFD}
	msgMagic    = [8]byte{0x6D, 0x1B, 0x39, 0xCB, 0xF6, 0x5A, 0x11, 0xB4}
)

// maxFrameLength is the largest payload the 16-bit big-endian frame
// length prefix can carry.
const maxFrameLength = 65535

// helloPacket is the client's opening message: its ephemeral public key,
// a zero counter, and an 80-byte box of 64 zero bytes proving possession
// of the corresponding ephemeral private key.
type helloPacket struct {
	EC  vault.PublicKey
	N   uint64
	Box []byte
}

// cookiePacket is the server's reply: a 16-byte safe nonce tail and a
// box containing the server's ephemeral public key plus an opaque
// cookie.
type cookiePacket struct {
	Nonce [16]byte
	Box   []byte
}

// vouchPacket (wire name Initiate) carries the client's cookie echo, the
// next counter, and a box containing the client's long-term public key,
// its vouch, and optional metadata.
type vouchPacket struct {
	Kookie [96]byte
	N      uint64
	Box    []byte
}

// readyPacket carries the server's outbound metadata (possibly empty),
// sent only when the client's Initiate carried metadata of its own.
type readyPacket struct {
	N   uint64
	Box []byte
}

// msgPacket carries one encrypted application message.
type msgPacket struct {
	N   uint64
	Box []byte
}

func encodeHello(p helloPacket) []byte {
	buf := make([]byte, 8+32+8+len(p.Box))
	copy(buf[:8], helloMagic[:])
	copy(buf[8:40], p.EC[:])
	binary.BigEndian.PutUint64(buf[40:48], p.N)
	copy(buf[48:], p.Box)
	return buf
}

func encodeCookie(p cookiePacket) []byte {
	buf := make([]byte, 8+16+len(p.Box))
	copy(buf[:8], cookieMagic[:])
	copy(buf[8:24], p.Nonce[:])
	copy(buf[24:], p.Box)
	return buf
}

func encodeVouch(p vouchPacket) []byte {
	buf := make([]byte, 8+96+8+len(p.Box))
	copy(buf[:8], vouchMagic[:])
	copy(buf[8:104], p.Kookie[:])
	binary.BigEndian.PutUint64(buf[104:112], p.N)
	copy(buf[112:], p.Box)
	return buf
}

func encodeReady(p readyPacket) []byte {
	buf := make([]byte, 8+8+len(p.Box))
	copy(buf[:8], readyMagic[:])
	binary.BigEndian.PutUint64(buf[8:16], p.N)
	copy(buf[16:], p.Box)
	return buf
}

func encodeMsg(p msgPacket) []byte {
	buf := make([]byte, 8+8+len(p.Box))
	copy(buf[:8], msgMagic[:])
	binary.BigEndian.PutUint64(buf[8:16], p.N)
	copy(buf[16:], p.Box)
	return buf
}

// errUnknownPacket is returned by decodePacket when the frame's 8-byte
// magic prefix does not match any known wire frame, or when a frame is
// too short to contain its required fields.
var errUnknownPacket = fmt.Errorf("curvecp: unknown or malformed packet")

// decodePacket inspects a raw frame's magic prefix and decodes it into
// one of helloPacket, cookiePacket, vouchPacket, readyPacket, or
// msgPacket. Vouch and Initiate share a magic prefix in this protocol
// (the client sends it as Initiate; decoding it always yields a
// vouchPacket, and callers distinguish by handshake state).
func decodePacket(frame []byte) (interface{}, error) {
	if len(frame) < 8 {
		return nil, errUnknownPacket
	}
	var magic [8]byte
	copy(magic[:], frame[:8])
	switch magic {
	case helloMagic:
		if len(frame) != 8+32+8+80 {
			return nil, errUnknownPacket
		}
		var ec vault.PublicKey
		copy(ec[:], frame[8:40])
		n := binary.BigEndian.Uint64(frame[40:48])
		box := append([]byte(nil), frame[48:]...)
		return helloPacket{EC: ec, N: n, Box: box}, nil
	case cookieMagic:
		if len(frame) != 8+16+144 {
			return nil, errUnknownPacket
		}
		var nonce [16]byte
		copy(nonce[:], frame[8:24])
		box := append([]byte(nil), frame[24:]...)
		return cookiePacket{Nonce: nonce, Box: box}, nil
	case vouchMagic:
		if len(frame) < 8+96+8+112 {
			return nil, errUnknownPacket
		}
		var kookie [96]byte
		copy(kookie[:], frame[8:104])
		n := binary.BigEndian.Uint64(frame[104:112])
		box := append([]byte(nil), frame[112:]...)
		return vouchPacket{Kookie: kookie, N: n, Box: box}, nil
	case readyMagic:
		if len(frame) < 8+8+16 {
			return nil, errUnknownPacket
		}
		n := binary.BigEndian.Uint64(frame[8:16])
		box := append([]byte(nil), frame[16:]...)
		return readyPacket{N: n, Box: box}, nil
	case msgMagic:
		if len(frame) < 8+8+16 {
			return nil, errUnknownPacket
		}
		n := binary.BigEndian.Uint64(frame[8:16])
		box := append([]byte(nil), frame[16:]...)
		return msgPacket{N: n, Box: box}, nil
	default:
		return nil, errUnknownPacket
	}
}

// writeFrame writes one length-prefixed frame: a 16-bit big-endian byte
// count followed by the payload.
func writeFrame(conn net.Conn, payload []byte) error {
	if len(payload) > maxFrameLength {
		return fmt.Errorf("curvecp: frame of %d bytes exceeds maximum of %d", len(payload), maxFrameLength)
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := conn.Write(payload)
	return err
}

// readFrame blocks until one length-prefixed frame has arrived, then
// returns its payload. This is the "single-shot read-arm" primitive:
// exactly one Read-until-frame-complete cycle per call.
func readFrame(conn net.Conn) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(conn, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
