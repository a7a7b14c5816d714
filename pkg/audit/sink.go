package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Sink persists an already-signed Entry. When Write fails, Append returns
// the error to the caller and does not add the entry to the in-memory
// chain, so the chain's head stays at the previous entry.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// memorySink discards entries; used when no durable sink is configured.
type memorySink struct{}

func (memorySink) Write(ctx context.Context, entry Entry) error { return nil }

// NewMemorySink returns a Sink that retains nothing beyond the chain's own
// in-memory ring, matching the in-memory-only fallback path.
func NewMemorySink() Sink { return memorySink{} }

// fileSink appends entries as JSONL, grounded on the existing
// fileAuditSink.
type fileSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileSink opens path for append, creating it if necessary.
func NewFileSink(path string) (Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, err
	}
	return &fileSink{file: f}, nil
}

func (s *fileSink) Write(ctx context.Context, entry Entry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.file.Write(append(b, '\n'))
	return err
}

// postgresSink writes entries to the audit_log table, grounded on the
// teacher's postgresAuditSink.
type postgresSink struct {
	db *sql.DB
}

// NewPostgresSink writes entries to audit_log (see
// internal/platform/migrations/0002_audit_chain.sql).
func NewPostgresSink(db *sql.DB) Sink {
	return &postgresSink{db: db}
}

func (s *postgresSink) Write(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry.EventData)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_log
			(seq, tenant_id, actor, action, payload, prev_hash, entry_hash, recorded_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.TenantID, entry.Actor, entry.EventType, data, entry.PreviousHash, entry.Signature, entry.Timestamp)
	return err
}
