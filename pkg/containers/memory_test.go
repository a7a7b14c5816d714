package containers

import (
	"context"
	"testing"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	c, err := m.Create(ctx, "tenant-a", []byte("hello"), "text/plain", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := m.Get(ctx, "tenant-a", c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got.Content) != "hello" {
		t.Errorf("Content = %q, want hello", got.Content)
	}
}

func TestMemoryStoreCrossTenantGetNotFound(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	c, err := m.Create(ctx, "tenant-a", []byte("secret"), "text/plain", nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := m.Get(ctx, "tenant-b", c.ID); err == nil {
		t.Fatal("Get across tenants: want not_found error")
	}
}

func TestMemoryStoreBucketLifecycle(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()

	b, err := m.CreateBucket(ctx, "tenant-a", "documents")
	if err != nil {
		t.Fatalf("CreateBucket: %v", err)
	}

	c, err := m.CreateInBucket(ctx, "tenant-a", b.ID, []byte("doc"), "text/plain", nil)
	if err != nil {
		t.Fatalf("CreateInBucket: %v", err)
	}
	if c.BucketID != b.ID {
		t.Errorf("BucketID = %q, want %q", c.BucketID, b.ID)
	}

	if _, err := m.CreateInBucket(ctx, "tenant-b", b.ID, []byte("doc"), "text/plain", nil); err == nil {
		t.Fatal("CreateInBucket across tenants: want not_found error")
	}

	if err := m.CloseBucket(ctx, "tenant-a", b.ID); err != nil {
		t.Fatalf("CloseBucket: %v", err)
	}
	closed, err := m.GetBucket(ctx, "tenant-a", b.ID)
	if err != nil {
		t.Fatalf("GetBucket: %v", err)
	}
	if closed.ClosedAt == nil {
		t.Error("ClosedAt not set after CloseBucket")
	}
}

func TestSinkImplementsIngestContainerSink(t *testing.T) {
	m := NewMemoryStore()
	sink := NewSink(m)

	id, err := sink.Store(context.Background(), "tenant-a", []byte("content"), map[string]any{"content_type": "text/plain"})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if id == "" {
		t.Fatal("Store: want non-empty container ID")
	}

	c, err := m.Get(context.Background(), "tenant-a", id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if c.ContentType != "text/plain" {
		t.Errorf("ContentType = %q, want text/plain", c.ContentType)
	}
}
