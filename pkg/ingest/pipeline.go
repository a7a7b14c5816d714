package ingest

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
)

// StageContext carries the request context plus the shared dependencies
// every stage may need (the SSRF access logger, the containerize sink).
type StageContext struct {
	Ctx       context.Context
	AccessLog zerolog.Logger
	Containers ContainerSink
}

// ContainerSink is C13's intake surface: persist content and optionally
// embed it. Declared here so pkg/ingest doesn't import pkg/containers
// directly; pkg/containers implements this interface.
type ContainerSink interface {
	Store(ctx context.Context, tenantID string, content []byte, metadata map[string]any) (containerID string, err error)
}

// Pipeline runs Fetch, Normalize, Extract, Containerize in order,
// stopping at the first stage that returns an error or marks the state
// skipped.
func Pipeline(sctx StageContext, req Request) (State, *apierr.ServiceError) {
	state := State{Request: req}

	stages := []struct {
		name string
		fn   Stage
	}{
		{"fetch", Fetch},
		{"normalize", Normalize},
		{"extract", Extract},
		{"containerize", Containerize},
	}

	for _, stage := range stages {
		next, err := stage.fn(sctx, state)
		if err != nil {
			return state, StageLabel(stage.name, err)
		}
		state = next
		if state.Skipped {
			break
		}
	}

	return state, nil
}
