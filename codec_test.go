package curvecp

import (
	"bytes"
	"net"
	"testing"
)

func TestFrameRoundTripOverPipe(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	payload := []byte("hello world")
	errCh := make(chan error, 1)
	go func() { errCh <- writeFrame(a, payload) }()

	got, err := readFrame(b)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestFrameRoundTripEmptyPayload(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- writeFrame(a, nil) }()

	got, err := readFrame(b)
	if err != nil {
		t.Fatalf("readFrame: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("writeFrame: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty frame, got %d bytes", len(got))
	}
}

func TestDecodePacketUnknownMagic(t *testing.T) {
	_, err := decodePacket(bytes.Repeat([]byte{0xff}, 20))
	if err != errUnknownPacket {
		t.Fatalf("got %v, want errUnknownPacket", err)
	}
}

func TestDecodePacketTooShort(t *testing.T) {
	_, err := decodePacket(helloMagic[:4])
	if err != errUnknownPacket {
		t.Fatalf("got %v, want errUnknownPacket", err)
	}
}

func TestEncodeDecodeHello(t *testing.T) {
	var pub [32]byte
	copy(pub[:], bytes.Repeat([]byte{0x11}, 32))
	p := helloPacket{N: 7, Box: bytes.Repeat([]byte{0x22}, 80)}
	copy(p.EC[:], pub[:])
	frame := encodeHello(p)
	decoded, err := decodePacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(helloPacket)
	if !ok {
		t.Fatalf("decoded to %T, want helloPacket", decoded)
	}
	if got.N != p.N || got.EC != p.EC || !bytes.Equal(got.Box, p.Box) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, p)
	}
}

func TestEncodeDecodeMsgAllowsEmptyBox(t *testing.T) {
	p := msgPacket{N: 3, Box: bytes.Repeat([]byte{0x01}, 16)}
	frame := encodeMsg(p)
	decoded, err := decodePacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(msgPacket)
	if !ok {
		t.Fatalf("decoded to %T, want msgPacket", decoded)
	}
	if got.N != p.N || !bytes.Equal(got.Box, p.Box) {
		t.Fatalf("round trip mismatch")
	}
}

func TestEncodeDecodeReadyAllowsEmptyBox(t *testing.T) {
	p := readyPacket{N: 2, Box: bytes.Repeat([]byte{0x01}, 16)}
	frame := encodeReady(p)
	decoded, err := decodePacket(frame)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := decoded.(readyPacket)
	if !ok {
		t.Fatalf("decoded to %T, want readyPacket", decoded)
	}
	if got.N != p.N || !bytes.Equal(got.Box, p.Box) {
		t.Fatalf("round trip mismatch")
	}
}
