package registry

import (
	"testing"

	"github.com/Rudd-O/curvecp/vault"
)

func TestAllowAllAdmitsAnyKey(t *testing.T) {
	var k vault.PublicKey
	k[0] = 1
	if !AllowAll.Verify(nil, k) {
		t.Fatalf("AllowAll should admit any key")
	}
}

func TestAllowListAdmitsOnlyKnownKeys(t *testing.T) {
	var known, unknown vault.PublicKey
	known[0] = 1
	unknown[0] = 2
	a := NewAllowList(known)
	if !a.Verify(nil, known) {
		t.Fatalf("expected known key to be admitted")
	}
	if a.Verify(nil, unknown) {
		t.Fatalf("expected unknown key to be rejected")
	}
}

func TestAllowListAddAndRemove(t *testing.T) {
	var k vault.PublicKey
	k[0] = 9
	a := NewAllowList()
	if a.Verify(nil, k) {
		t.Fatalf("key should not be admitted before Add")
	}
	a.Add(k)
	if !a.Verify(nil, k) {
		t.Fatalf("key should be admitted after Add")
	}
	a.Remove(k)
	if a.Verify(nil, k) {
		t.Fatalf("key should not be admitted after Remove")
	}
}
