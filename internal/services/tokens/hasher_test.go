package tokens

import "testing"

func TestHasherHashIsDeterministic(t *testing.T) {
	h := NewHasher("test-key")

	first := h.Hash("refresh-secret")
	second := h.Hash("refresh-secret")

	if first != second {
		t.Fatalf("expected identical hashes, got %q and %q", first, second)
	}
	if first == "refresh-secret" {
		t.Fatal("hash must not equal the raw secret")
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(first))
	}
}

func TestHasherKeyChangesHash(t *testing.T) {
	a := NewHasher("key-a").Hash("refresh-secret")
	b := NewHasher("key-b").Hash("refresh-secret")

	if a == b {
		t.Fatal("different keys must produce different hashes")
	}
}

func TestHasherMatches(t *testing.T) {
	h := NewHasher("test-key")
	hash := h.Hash("refresh-secret")

	if !h.Matches("refresh-secret", hash) {
		t.Fatal("expected match for the original secret")
	}
	if h.Matches("other-secret", hash) {
		t.Fatal("expected mismatch for a different secret")
	}
	if h.Matches("refresh-secret", "") {
		t.Fatal("expected mismatch for an empty hash")
	}
}
