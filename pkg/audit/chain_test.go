package audit

import (
	"context"
	"testing"
	"time"
)

func newTestChain(t *testing.T) *Chain {
	t.Helper()
	c, err := New(Config{SigningKey: []byte("test-signing-key")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestAppendChainsToPredecessor(t *testing.T) {
	c := newTestChain(t)
	ctx := context.Background()

	first, err := c.Append(ctx, "tenant.created", "alice", "tenant-1", map[string]any{"name": "acme"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	second, err := c.Append(ctx, "tenant.updated", "alice", "tenant-1", map[string]any{"name": "acme-2"})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if second.PreviousHash != first.Signature {
		t.Fatalf("second.PreviousHash = %q, want %q", second.PreviousHash, first.Signature)
	}
	if first.Signature == second.Signature {
		t.Fatal("distinct entries produced identical signatures")
	}
}

func TestVerifyIntegrityDetectsTamper(t *testing.T) {
	c := newTestChain(t)
	ctx := context.Background()

	if _, err := c.Append(ctx, "tenant.created", "alice", "tenant-1", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Append(ctx, "tenant.updated", "alice", "tenant-1", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	result := c.VerifyIntegrity(nil, nil)
	if !result.ChainIntact {
		t.Fatalf("expected intact chain, got %+v", result)
	}
	if result.VerifiedEntries != 3 { // genesis + 2 appends
		t.Fatalf("VerifiedEntries = %d, want 3", result.VerifiedEntries)
	}

	// Tamper with a historical entry's payload without re-signing.
	c.entries[1].EventData["tampered"] = true

	result = c.VerifyIntegrity(nil, nil)
	if result.ChainIntact {
		t.Fatal("expected tamper to be detected")
	}
	if result.InvalidEntryID != c.entries[1].ID {
		t.Fatalf("InvalidEntryID = %d, want %d", result.InvalidEntryID, c.entries[1].ID)
	}
}

func TestAppendSanitizesEventData(t *testing.T) {
	c := newTestChain(t)
	entry, err := c.Append(context.Background(), "secret.read", "bob", "tenant-1", map[string]any{
		"api_key":  "sk-live-abc",
		"password": "hunter2",
		"token":    "eyJabc",
		"name":     "ok",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, present := entry.EventData["api_key"]; present {
		t.Error("api_key should have been stripped")
	}
	if _, present := entry.EventData["password"]; present {
		t.Error("password should have been stripped")
	}
	if entry.EventData["token"] != "[REDACTED]" {
		t.Errorf("token = %v, want [REDACTED]", entry.EventData["token"])
	}
	if entry.EventData["name"] != "ok" {
		t.Errorf("name = %v, want ok", entry.EventData["name"])
	}
}

func TestRotateBridgesToArchivedHead(t *testing.T) {
	c := newTestChain(t)
	ctx := context.Background()

	last, err := c.Append(ctx, "tenant.created", "alice", "tenant-1", nil)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	if err := c.Rotate(ctx); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	if len(c.entries) != 1 {
		t.Fatalf("expected a single bridging entry after rotate, got %d", len(c.entries))
	}
	if c.entries[0].PreviousHash != last.Signature {
		t.Fatalf("bridge.PreviousHash = %q, want %q", c.entries[0].PreviousHash, last.Signature)
	}

	result := c.VerifyIntegrity(nil, nil)
	if !result.ChainIntact {
		t.Fatalf("expected intact chain after rotate, got %+v", result)
	}
}

func TestVerifyIntegrityRespectsTimeBounds(t *testing.T) {
	c := newTestChain(t)
	ctx := context.Background()

	mid := time.Now().UTC()
	time.Sleep(time.Millisecond)

	if _, err := c.Append(ctx, "tenant.created", "alice", "tenant-1", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	result := c.VerifyIntegrity(nil, &mid)
	if result.VerifiedEntries != 1 { // only genesis predates mid
		t.Fatalf("VerifiedEntries = %d, want 1", result.VerifiedEntries)
	}
}
