// Package ingest implements the content intake pipeline: fetch, normalize,
// extract, containerize. Stage functions are pure and compose with
// early-exit on error, preserving the failing stage's label, per
// Grounded on the existing HTTP client/timeout
// conventions (infrastructure/ratelimit.RateLimitedClient) and its
// header/security helpers, generalized into the full pipeline.
package ingest

import (
	"time"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

// Source names which of Content/Path/URL populated the fetch request.
type Source int

const (
	// SourceContent provides bytes directly, skipping Fetch's I/O.
	SourceContent Source = iota
	// SourcePath reads a local file, size-checked before reading.
	SourcePath
	// SourceURL fetches over HTTP(S) under SSRF-safe constraints.
	SourceURL
)

// Request describes one ingest job. ContentType is required for
// SourceContent and SourcePath, which have no response header to infer
// it from; SourceURL overrides it with the fetched response's header.
type Request struct {
	TenantID    string
	Source      Source
	Content     []byte
	Path        string
	URL         string
	ContentType string
	Metadata    map[string]any
}

// State threads through the pipeline stages, accumulating fields as each
// stage completes.
type State struct {
	Request Request

	RawContent  []byte
	ContentType string

	Normalized   string
	NormKind     string // "html", "text", "json"
	Skipped      bool
	SkippedKind  string

	ByteSize   int
	WordCount  int
	LineCount  int
	CharCount  int
	ExtractedAt time.Time
	SourceURL  string

	ContainerID string
}

// Stage is one pipeline step. A non-nil error carries the stage's label
// so a caller can report exactly where a pipeline failed.
type Stage func(ctx StageContext, s State) (State, *apierr.ServiceError)

// StageLabel tags a ServiceError with the stage that produced it.
func StageLabel(stage string, err *apierr.ServiceError) *apierr.ServiceError {
	if err == nil {
		return nil
	}
	return err.WithDetails("stage", stage)
}
