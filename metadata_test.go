package curvecp

import (
	"bytes"
	"testing"
)

func TestMetadataRoundTrip(t *testing.T) {
	in := []MetadataPair{
		{Key: []byte("region"), Value: []byte("us-east")},
		{Key: []byte("client-version"), Value: []byte("1.2.3")},
	}
	enc, err := encodeMetadata(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := decodeMetadata(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d pairs, want %d", len(out), len(in))
	}
	for i := range in {
		if !bytes.Equal(out[i].Key, in[i].Key) || !bytes.Equal(out[i].Value, in[i].Value) {
			t.Fatalf("pair %d mismatch: got %+v want %+v", i, out[i], in[i])
		}
	}
}

func TestMetadataEmptyRoundTrip(t *testing.T) {
	enc, err := encodeMetadata(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(enc) != 0 {
		t.Fatalf("empty metadata should encode to a zero-length payload, got %v", enc)
	}
	out, err := decodeMetadata(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected no pairs, got %d", len(out))
	}
}

func TestDecodeMetadataTruncated(t *testing.T) {
	enc, err := encodeMetadata([]MetadataPair{{Key: []byte("k"), Value: []byte("v")}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := decodeMetadata(enc[:len(enc)-1]); err == nil {
		t.Fatalf("expected error decoding truncated metadata")
	}
}

func TestEncodeMetadataRejectsOversizedValue(t *testing.T) {
	big := make([]byte, maxValueLength+1)
	_, err := encodeMetadata([]MetadataPair{{Key: []byte("k"), Value: big}})
	if err == nil {
		t.Fatalf("expected error for oversized value")
	}
}
