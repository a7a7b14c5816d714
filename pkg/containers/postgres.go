package containers

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/pkg/storage/postgres"
)

// PostgresStore persists buckets and containers through sqlx, matching
// 0004_containers.sql's schema. Metadata round-trips through a JSONB
// column, marshaled the way the indexer serializes structured
// columns (toJSONB).
type PostgresStore struct {
	db   *sqlx.DB
	base *postgres.BaseStore
}

// NewPostgresStore wraps an existing connection.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db, base: postgres.NewBaseStore(db.DB, "containers")}
}

func toJSONB(v any) []byte {
	if v == nil {
		return []byte("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}

func (p *PostgresStore) CreateBucket(ctx context.Context, tenantID, name string) (Bucket, error) {
	var b Bucket
	err := p.db.GetContext(ctx, &b, `
		INSERT INTO buckets (id, tenant_id, name)
		VALUES (gen_random_uuid()::text, $1, $2)
		RETURNING id, tenant_id, name, created_at, closed_at`,
		tenantID, name)
	if err != nil {
		return Bucket{}, apierr.StorageError("create_bucket", err)
	}
	return b, nil
}

func (p *PostgresStore) CloseBucket(ctx context.Context, tenantID, bucketID string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE buckets SET closed_at = now() WHERE id = $1 AND tenant_id = $2`,
		bucketID, tenantID)
	if err != nil {
		return apierr.StorageError("close_bucket", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.StorageError("close_bucket", err)
	}
	if n == 0 {
		return apierr.NotFound("bucket", bucketID)
	}
	return nil
}

func (p *PostgresStore) GetBucket(ctx context.Context, tenantID, bucketID string) (Bucket, error) {
	var b Bucket
	err := p.db.GetContext(ctx, &b, `
		SELECT id, tenant_id, name, created_at, closed_at
		FROM buckets WHERE id = $1 AND tenant_id = $2`,
		bucketID, tenantID)
	if err != nil {
		return Bucket{}, apierr.NotFound("bucket", bucketID)
	}
	return b, nil
}

func (p *PostgresStore) Create(ctx context.Context, tenantID string, content []byte, contentType string, metadata map[string]any) (Container, error) {
	return p.insert(ctx, tenantID, nil, content, contentType, metadata)
}

// CreateInBucket runs the open-bucket check and the insert inside a single
// transaction via base.WithTx, so a concurrent CloseBucket can't close the
// bucket between the check and the write.
func (p *PostgresStore) CreateInBucket(ctx context.Context, tenantID, bucketID string, content []byte, contentType string, metadata map[string]any) (Container, error) {
	var c Container
	err := p.base.WithTx(ctx, func(txCtx context.Context) error {
		var closed bool
		row := p.base.QueryRowContext(txCtx, `
			SELECT closed_at IS NOT NULL FROM buckets WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
			bucketID, tenantID)
		if err := row.Scan(&closed); err != nil {
			return apierr.NotFound("bucket", bucketID)
		}
		if closed {
			return apierr.New(apierr.KindInvalidInput, "bucket is closed")
		}
		inserted, err := p.insert(txCtx, tenantID, &bucketID, content, contentType, metadata)
		if err != nil {
			return err
		}
		c = inserted
		return nil
	})
	return c, err
}

func (p *PostgresStore) insert(ctx context.Context, tenantID string, bucketID *string, content []byte, contentType string, metadata map[string]any) (Container, error) {
	var c Container
	row := p.base.QueryRowContext(ctx, `
		INSERT INTO containers (id, tenant_id, bucket_id, content_type, content, metadata)
		VALUES (gen_random_uuid()::text, $1, $2, $3, $4, $5)
		RETURNING id, tenant_id, COALESCE(bucket_id, ''), content_type, content,
		          COALESCE(embedding_ref, ''), created_at`,
		tenantID, bucketID, contentType, content, toJSONB(metadata))
	if err := row.Scan(&c.ID, &c.TenantID, &c.BucketID, &c.ContentType, &c.Content, &c.EmbeddingRef, &c.CreatedAt); err != nil {
		return Container{}, apierr.StorageError("create_container", err)
	}
	c.Metadata = metadata
	return c, nil
}

func (p *PostgresStore) Get(ctx context.Context, tenantID, containerID string) (Container, error) {
	var c Container
	var rawMetadata []byte
	row := p.db.QueryRowxContext(ctx, `
		SELECT id, tenant_id, COALESCE(bucket_id, ''), content_type, content,
		       metadata, COALESCE(embedding_ref, ''), created_at
		FROM containers WHERE id = $1 AND tenant_id = $2`,
		containerID, tenantID)
	if err := row.Scan(&c.ID, &c.TenantID, &c.BucketID, &c.ContentType, &c.Content, &rawMetadata, &c.EmbeddingRef, &c.CreatedAt); err != nil {
		return Container{}, apierr.NotFound("container", containerID)
	}
	_ = json.Unmarshal(rawMetadata, &c.Metadata)
	return c, nil
}

func (p *PostgresStore) SetEmbeddingRef(ctx context.Context, tenantID, containerID, ref string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE containers SET embedding_ref = $1 WHERE id = $2 AND tenant_id = $3`,
		ref, containerID, tenantID)
	if err != nil {
		return apierr.StorageError("set_embedding_ref", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apierr.StorageError("set_embedding_ref", err)
	}
	if n == 0 {
		return apierr.NotFound("container", containerID)
	}
	return nil
}
