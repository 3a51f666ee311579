package vault

import "testing"

func TestGenerateKeyPairDistinct(t *testing.T) {
	priv1, pub1, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	priv2, pub2, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if priv1 == priv2 || pub1 == pub2 {
		t.Fatalf("two generated keypairs should not collide")
	}
}

func TestKeyStringRoundTrip(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	gotPriv, err := PrivateKeyFromString(priv.String())
	if err != nil {
		t.Fatalf("parse private: %v", err)
	}
	if gotPriv != priv {
		t.Fatalf("private key round trip mismatch")
	}
	gotPub, err := PublicKeyFromString(pub.String())
	if err != nil {
		t.Fatalf("parse public: %v", err)
	}
	if gotPub != pub {
		t.Fatalf("public key round trip mismatch")
	}
}

func TestKeyFromStringRejectsWrongKind(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := PublicKeyFromString(priv.String()); err == nil {
		t.Fatalf("expected error parsing a private key string as public")
	}
	if _, err := PrivateKeyFromString(pub.String()); err == nil {
		t.Fatalf("expected error parsing a public key string as private")
	}
}

func TestBoxRoundTrip(t *testing.T) {
	aPriv, aPub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	bPriv, bPub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a := NewLocal(aPriv, aPub)
	b := NewLocal(bPriv, bPub)

	var nonce [24]byte
	copy(nonce[:], "unit-test-nonce-value!!")
	msg := []byte("the quick brown fox")
	sealed := a.Box(msg, &nonce, bPub)

	opened, err := b.BoxOpen(sealed, &nonce, aPub)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if string(opened) != string(msg) {
		t.Fatalf("got %q, want %q", opened, msg)
	}
}

func TestBoxOpenFailsUnderWrongKey(t *testing.T) {
	aPriv, aPub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	bPriv, bPub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	_, otherPub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	a := NewLocal(aPriv, aPub)
	b := NewLocal(bPriv, bPub)

	var nonce [24]byte
	sealed := a.Box([]byte("secret"), &nonce, bPub)
	if _, err := b.BoxOpen(sealed, &nonce, otherPub); err != ErrVerifyFailed {
		t.Fatalf("got %v, want ErrVerifyFailed", err)
	}
}

func TestSafeNonceNeverRepeats(t *testing.T) {
	v, err := GenerateLocal()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	seen := make(map[[16]byte]bool)
	for i := 0; i < 1000; i++ {
		n := v.SafeNonce()
		if seen[n] {
			t.Fatalf("SafeNonce repeated after %d calls", i)
		}
		seen[n] = true
	}
}

func TestNewLocalFromPrivateDerivesPublicKey(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	v := NewLocalFromPrivate(priv)
	if v.PublicKey() != pub {
		t.Fatalf("derived public key mismatch")
	}
}
