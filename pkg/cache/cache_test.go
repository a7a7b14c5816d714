package cache

import (
	"testing"
	"time"
)

func TestKey_IsStableSHA256(t *testing.T) {
	key := Key([]byte("hello"))
	want := "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"
	if key != want {
		t.Errorf("Key(hello) = %s, want %s", key, want)
	}
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute})
	defer c.Close()

	key := c.Put([]byte("hello"), 0, "text/plain")
	value, ct, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit")
	}
	if string(value) != "hello" || ct != "text/plain" {
		t.Errorf("got (%q, %q)", value, ct)
	}
}

func TestCache_DuplicatePutDoesNotGrowSize(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute})
	defer c.Close()

	c.Put([]byte("hello"), 0, "")
	if c.Size() != 1 {
		t.Fatalf("size after first put = %d, want 1", c.Size())
	}
	c.Put([]byte("hello"), 0, "")
	if c.Size() != 1 {
		t.Errorf("size after duplicate put = %d, want 1 (no new LRU entry)", c.Size())
	}
}

func TestCache_ExpiredEntryIsAMiss(t *testing.T) {
	c := New(Config{DefaultTTL: 10 * time.Millisecond})
	defer c.Close()

	key := c.Put([]byte("hello"), 10*time.Millisecond, "")
	time.Sleep(25 * time.Millisecond)

	if _, _, ok := c.Get(key); ok {
		t.Error("expected miss on expired entry")
	}
}

func TestCache_EvictsLRUWhenOverMaxSize(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute, MaxSize: 2})
	defer c.Close()

	k1 := c.Put([]byte("a"), 0, "")
	c.Put([]byte("b"), 0, "")
	// Touch k1 so it becomes most-recently-used.
	c.Get(k1)
	c.Put([]byte("c"), 0, "")

	if _, _, ok := c.Get(k1); !ok {
		t.Error("expected k1 to survive eviction after being touched")
	}
	if c.Size() != 2 {
		t.Errorf("size = %d, want 2", c.Size())
	}
}

func TestCache_ProbablyExistsNeverFalseNegative(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute})
	defer c.Close()

	key := c.Put([]byte("hello"), 0, "")
	if !c.ProbablyExists(key) {
		t.Error("ProbablyExists must return true for a key that was added")
	}
}

func TestCache_SnapshotTracksHitsAndMisses(t *testing.T) {
	c := New(Config{DefaultTTL: time.Minute})
	defer c.Close()

	key := c.Put([]byte("hello"), 0, "")
	c.Get(key)
	c.Get("nonexistent")

	stats, hitRate, _ := c.Snapshot()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("stats = %+v, want 1 hit and 1 miss", stats)
	}
	if hitRate != 0.5 {
		t.Errorf("hitRate = %v, want 0.5", hitRate)
	}
}

func TestFingerprint_DeterministicAcrossCalls(t *testing.T) {
	a := Fingerprint("chat", "normalized prompt", "policy-v1")
	b := Fingerprint("chat", "normalized prompt", "policy-v1")
	if a != b {
		t.Error("Fingerprint must be deterministic for identical inputs")
	}

	c := Fingerprint("chat", "different prompt", "policy-v1")
	if a == c {
		t.Error("Fingerprint must differ for different prompts")
	}
}
