// Package containers implements C13's content/bucket store: tenant-scoped
// persistence for ingested content, with an embedding_ref slot an
// external embedding client populates later. Store is the interface
// pkg/ingest's ContainerSink is satisfied against.
package containers

import (
	"context"
	"time"
)

// Container is one stored piece of ingested content.
type Container struct {
	ID           string         `db:"id" json:"id"`
	TenantID     string         `db:"tenant_id" json:"tenant_id"`
	BucketID     string         `db:"bucket_id" json:"bucket_id,omitempty"`
	ContentType  string         `db:"content_type" json:"content_type"`
	Content      []byte         `db:"content" json:"-"`
	Metadata     map[string]any `db:"-" json:"metadata,omitempty"`
	EmbeddingRef string         `db:"embedding_ref" json:"embedding_ref,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// Bucket groups containers under a per-tenant lifecycle.
type Bucket struct {
	ID        string     `db:"id" json:"id"`
	TenantID  string     `db:"tenant_id" json:"tenant_id"`
	Name      string     `db:"name" json:"name"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ClosedAt  *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// Store is the tenant-scoped persistence surface for container storage.
// Every read takes tenantID and must behave as if rows outside that
// tenant don't exist: a cross-tenant lookup returns apierr.NotFound,
// never a different tenant's data.
type Store interface {
	CreateBucket(ctx context.Context, tenantID, name string) (Bucket, error)
	CloseBucket(ctx context.Context, tenantID, bucketID string) error
	GetBucket(ctx context.Context, tenantID, bucketID string) (Bucket, error)

	Create(ctx context.Context, tenantID string, content []byte, contentType string, metadata map[string]any) (Container, error)
	CreateInBucket(ctx context.Context, tenantID, bucketID string, content []byte, contentType string, metadata map[string]any) (Container, error)
	Get(ctx context.Context, tenantID, containerID string) (Container, error)
	SetEmbeddingRef(ctx context.Context, tenantID, containerID, ref string) error
}

var _ Store = (*MemoryStore)(nil)
var _ Store = (*PostgresStore)(nil)

// Sink adapts a Store to pkg/ingest.ContainerSink, which only needs the
// create half of Store.
type Sink struct {
	backing Store
}

// NewSink wraps store for use as an ingest pipeline's ContainerSink.
func NewSink(store Store) Sink {
	return Sink{backing: store}
}

// Store implements pkg/ingest.ContainerSink.
func (s Sink) Store(ctx context.Context, tenantID string, content []byte, metadata map[string]any) (string, error) {
	contentType, _ := metadata["content_type"].(string)
	c, err := s.backing.Create(ctx, tenantID, content, contentType, metadata)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}
