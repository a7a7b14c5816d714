package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/pkg/ingest"
)

// ingestRequest is the wire shape of POST /v1/ingest. Exactly one of
// Content, Path, or URL selects the fetch source.
type ingestRequest struct {
	Content     string         `json:"content"`
	Path        string         `json:"path"`
	URL         string         `json:"url"`
	ContentType string         `json:"content_type"`
	Metadata    map[string]any `json:"metadata"`
}

type ingestResponse struct {
	ContainerID string `json:"container_id,omitempty"`
	Normalized  string `json:"normalized,omitempty"`
	NormKind    string `json:"norm_kind,omitempty"`
	ByteSize    int    `json:"byte_size"`
	WordCount   int    `json:"word_count"`
	Skipped     bool   `json:"skipped"`
	SkippedKind string `json:"skipped_kind,omitempty"`
}

// handleIngest runs one request synchronously through the fetch,
// normalize, extract, containerize pipeline and returns the container ID
// in the same response. S1's operation handler only forwards envelopes
// to S2; it does not run this pipeline.
func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.InvalidInput("body", "malformed request body"))
		return
	}

	ingestReq := ingest.Request{
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
	}
	switch {
	case req.URL != "":
		ingestReq.Source = ingest.SourceURL
		ingestReq.URL = req.URL
	case req.Path != "":
		ingestReq.Source = ingest.SourcePath
		ingestReq.Path = req.Path
	case req.Content != "":
		ingestReq.Source = ingest.SourceContent
		ingestReq.Content = []byte(req.Content)
	default:
		writeError(c, apierr.InvalidInput("content", "one of content, path, or url is required"))
		return
	}

	authCtx, _ := authContextFrom(c)
	ingestReq.TenantID = authCtx.TenantID

	sctx := ingest.StageContext{
		Ctx:        c.Request.Context(),
		AccessLog:  zerolog.Ctx(c.Request.Context()).With().Str("tenant_id", authCtx.TenantID).Logger(),
		Containers: s.deps.Containers,
	}

	state, svcErr := ingest.Pipeline(sctx, ingestReq)
	if svcErr != nil {
		writeError(c, svcErr)
		return
	}

	c.JSON(http.StatusOK, ingestResponse{
		ContainerID: state.ContainerID,
		Normalized:  state.Normalized,
		NormKind:    state.NormKind,
		ByteSize:    state.ByteSize,
		WordCount:   state.WordCount,
		Skipped:     state.Skipped,
		SkippedKind: state.SkippedKind,
	})
}
