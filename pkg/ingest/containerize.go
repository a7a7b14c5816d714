package ingest

import (
	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

// Containerize hands the normalized content off to the configured
// ContainerSink (C13). Skipped states are not stored.
func Containerize(sctx StageContext, s State) (State, *apierr.ServiceError) {
	if s.Skipped {
		return s, nil
	}
	if sctx.Containers == nil {
		return s, nil
	}

	metadata := map[string]any{
		"content_type": s.NormKind,
		"byte_size":    s.ByteSize,
		"word_count":   s.WordCount,
		"line_count":   s.LineCount,
		"char_count":   s.CharCount,
	}
	if s.SourceURL != "" {
		metadata["source_url"] = s.SourceURL
	}
	for k, v := range s.Request.Metadata {
		metadata[k] = v
	}

	containerID, err := sctx.Containers.Store(sctx.Ctx, s.Request.TenantID, []byte(s.Normalized), metadata)
	if err != nil {
		return s, apierr.Internal("store container", err)
	}

	s.ContainerID = containerID
	return s, nil
}
