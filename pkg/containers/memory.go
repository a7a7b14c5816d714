package containers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

// MemoryStore is an in-process Store for tests and single-node
// deployments without Postgres configured.
type MemoryStore struct {
	mu         sync.Mutex
	buckets    map[string]Bucket
	containers map[string]Container
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:    make(map[string]Bucket),
		containers: make(map[string]Container),
	}
}

func (m *MemoryStore) CreateBucket(ctx context.Context, tenantID, name string) (Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := Bucket{ID: uuid.NewString(), TenantID: tenantID, Name: name, CreatedAt: time.Now().UTC()}
	m.buckets[b.ID] = b
	return b, nil
}

func (m *MemoryStore) CloseBucket(ctx context.Context, tenantID, bucketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucketID]
	if !ok || b.TenantID != tenantID {
		return apierr.NotFound("bucket", bucketID)
	}
	now := time.Now().UTC()
	b.ClosedAt = &now
	m.buckets[bucketID] = b
	return nil
}

func (m *MemoryStore) GetBucket(ctx context.Context, tenantID, bucketID string) (Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucketID]
	if !ok || b.TenantID != tenantID {
		return Bucket{}, apierr.NotFound("bucket", bucketID)
	}
	return b, nil
}

func (m *MemoryStore) Create(ctx context.Context, tenantID string, content []byte, contentType string, metadata map[string]any) (Container, error) {
	return m.create(tenantID, "", content, contentType, metadata)
}

func (m *MemoryStore) CreateInBucket(ctx context.Context, tenantID, bucketID string, content []byte, contentType string, metadata map[string]any) (Container, error) {
	m.mu.Lock()
	b, ok := m.buckets[bucketID]
	m.mu.Unlock()
	if !ok || b.TenantID != tenantID {
		return Container{}, apierr.NotFound("bucket", bucketID)
	}
	return m.create(tenantID, bucketID, content, contentType, metadata)
}

func (m *MemoryStore) create(tenantID, bucketID string, content []byte, contentType string, metadata map[string]any) (Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := Container{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		BucketID:    bucketID,
		ContentType: contentType,
		Content:     content,
		Metadata:    metadata,
		CreatedAt:   time.Now().UTC(),
	}
	m.containers[c.ID] = c
	return c, nil
}

func (m *MemoryStore) Get(ctx context.Context, tenantID, containerID string) (Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerID]
	if !ok || c.TenantID != tenantID {
		return Container{}, apierr.NotFound("container", containerID)
	}
	return c, nil
}

func (m *MemoryStore) SetEmbeddingRef(ctx context.Context, tenantID, containerID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[containerID]
	if !ok || c.TenantID != tenantID {
		return apierr.NotFound("container", containerID)
	}
	c.EmbeddingRef = ref
	m.containers[containerID] = c
	return nil
}
