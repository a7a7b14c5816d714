package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/pkg/llmrouter"
)

// generateRequest is the wire shape of POST /v1/generate.
type generateRequest struct {
	EpisodeID     string         `json:"episode_id"`
	Kind          string         `json:"kind"`
	Prompt        string         `json:"prompt"`
	Priority      string         `json:"priority"`
	Metadata      map[string]any `json:"metadata"`
	OverrideChain string         `json:"override_chain"`
	ModelPolicy   string         `json:"model_policy"`
	ToolUse       map[string]any `json:"tool_use"`
}

type generateResponse struct {
	Text      string          `json:"text"`
	Usage     llmrouter.Usage `json:"usage"`
	Provider  string          `json:"provider"`
	CacheHit  bool            `json:"cache_hit"`
	Fallbacks int             `json:"fallbacks"`
}

func (s *Server) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apierr.InvalidInput("body", "malformed request body"))
		return
	}
	if req.Prompt == "" {
		writeError(c, apierr.InvalidInput("prompt", "prompt is required"))
		return
	}

	authCtx, _ := authContextFrom(c)
	if err := s.deps.Auth.Authorize(authCtx, "generate", "invoke"); err != nil {
		writeError(c, err)
		return
	}

	priority := llmrouter.PriorityNormal
	if req.Priority != "" {
		priority = llmrouter.Priority(req.Priority)
	}

	episode := llmrouter.Episode{
		ID:       req.EpisodeID,
		Kind:     req.Kind,
		Prompt:   req.Prompt,
		Priority: priority,
		TenantID: authCtx.TenantID,
		Metadata: req.Metadata,
	}
	opts := llmrouter.Options{
		OverrideChain: req.OverrideChain,
		ModelPolicy:   req.ModelPolicy,
		ToolUse:       req.ToolUse,
	}

	result, err := s.deps.Router.Analyze(c.Request.Context(), episode, opts)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, generateResponse{
		Text:      result.Text,
		Usage:     result.Usage,
		Provider:  result.Provider,
		CacheHit:  result.CacheHit,
		Fallbacks: result.Fallbacks,
	})
}
