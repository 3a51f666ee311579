package curvecp

import "testing"

func TestShortTermNonceEncodesCounter(t *testing.T) {
	n := shortTermNonce(kindMsg, sideClient, 1)
	if string(n[:16]) != "CurveCP-client-M" {
		t.Fatalf("unexpected prefix: %q", n[:16])
	}
	if n[23] != 1 {
		t.Fatalf("counter not encoded in low byte: %v", n[16:])
	}
}

func TestShortTermNonceDistinctPerKindAndSide(t *testing.T) {
	seen := map[[24]byte]bool{}
	for _, k := range []packetKind{kindHello, kindInitiate, kindMsg} {
		for _, s := range []side{sideClient, sideServer} {
			n := shortTermNonce(k, s, 0)
			if seen[n] {
				t.Fatalf("nonce collision for kind=%d side=%d", k, s)
			}
			seen[n] = true
		}
	}
}

func TestLongTermNonceUsesTail(t *testing.T) {
	var tail [16]byte
	copy(tail[:], "0123456789abcdef")
	n := longTermNonce(longTermCookie, tail)
	if string(n[:8]) != "CurveCPK" {
		t.Fatalf("unexpected cookie prefix: %q", n[:8])
	}
	if string(n[8:]) != string(tail[:]) {
		t.Fatalf("tail not copied through")
	}
}

func TestSideOpposite(t *testing.T) {
	if sideClient.opposite() != sideServer {
		t.Fatalf("client's opposite should be server")
	}
	if sideServer.opposite() != sideClient {
		t.Fatalf("server's opposite should be client")
	}
}
