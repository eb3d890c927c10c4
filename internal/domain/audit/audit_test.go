package audit

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

func entry(args string) *Entry {
	return &Entry{
		TS:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Tenant:   "acme",
		Subject:  "agent-7",
		Tool:     "net.http",
		Args:     json.RawMessage(args),
		Decision: "allow",
		Rule:     "net-allowlist",
	}
}

func TestComputeHashDeterministic(t *testing.T) {
	a, err := ComputeHash(entry(`{"url":"https://api.example.com","method":"GET"}`), nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	b, err := ComputeHash(entry(`{"url":"https://api.example.com","method":"GET"}`), nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("identical entries hashed differently")
	}
	if len(a) != 32 {
		t.Fatalf("hash length = %d, want 32", len(a))
	}
}

func TestComputeHashCanonicalizesKeyOrder(t *testing.T) {
	a, err := ComputeHash(entry(`{"url":"https://x","method":"GET"}`), nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	b, err := ComputeHash(entry(`{"method":"GET","url":"https://x"}`), nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatal("key order changed the hash")
	}
}

func TestComputeHashChains(t *testing.T) {
	first, err := ComputeHash(entry(`{}`), nil)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	second, err := ComputeHash(entry(`{}`), first)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if bytes.Equal(first, second) {
		t.Fatal("prev hash did not affect the chain")
	}

	// Any change to the entry breaks the link.
	changed := entry(`{}`)
	changed.Decision = "deny"
	third, err := ComputeHash(changed, first)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if bytes.Equal(second, third) {
		t.Fatal("changed entry produced the same chained hash")
	}
}
