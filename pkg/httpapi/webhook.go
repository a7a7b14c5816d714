package httpapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/viable-systems/control-plane/internal/platform/apierr"
	"github.com/viable-systems/control-plane/internal/platform/security"
	"github.com/viable-systems/control-plane/pkg/bus"
	"github.com/viable-systems/control-plane/pkg/ratelimit"
	"github.com/viable-systems/control-plane/pkg/vsm"
)

// telegramReplayWindow bounds how long an update_id is remembered for
// replay rejection; the Bot API doesn't itself guarantee exactly-once
// delivery on retry.
const telegramReplayWindow = 10 * time.Minute

// telegramUpdate is the slice of an inbound Telegram webhook payload this
// edge cares about: enough to route and rate-limit, not a full mirror of
// the Bot API schema.
type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// handleTelegramWebhook verifies the request's HMAC-SHA256 signature
// against the configured webhook secret before forwarding the update to
// S1 over the bus, matching the constant-time shared-secret
// comparison idiom. Per-chat throughput is bounded by a declared budget
// so one noisy chat can't exhaust S1's operational queue.
func (s *Server) handleTelegramWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		writeError(c, apierr.InvalidInput("body", "unreadable request body"))
		return
	}

	signature := c.GetHeader("X-Signature-256")
	if !s.verifyWebhookSignature(body, signature) {
		writeError(c, apierr.Unauthorized("invalid webhook signature"))
		return
	}

	var update telegramUpdate
	if err := json.Unmarshal(body, &update); err != nil {
		writeError(c, apierr.InvalidInput("body", "malformed telegram update"))
		return
	}

	if s.webhookReplay != nil && !s.webhookReplay.ValidateAndMark(strconv.FormatInt(update.UpdateID, 10)) {
		c.Status(http.StatusOK)
		return
	}

	chatID := "unknown"
	if update.Message != nil {
		chatID = strconv.FormatInt(update.Message.Chat.ID, 10)
	}

	if s.deps.Limiter != nil {
		if err := s.deps.Limiter.RequestTokens(c.Request.Context(), s.cfg.TelegramChatBudget.Name, chatID, ratelimit.PriorityNormal, 1); err != nil {
			writeError(c, apierr.RateLimited(s.cfg.TelegramChatBudget.Name, chatID))
			return
		}
	}

	env, err := bus.New("vsm.s1.operation", chatID, update, "")
	if err != nil {
		writeError(c, apierr.Internal("failed to build envelope", err))
		return
	}
	if err := s.deps.Bus.Publish(c.Request.Context(), vsm.TopicS1, env); err != nil {
		writeError(c, apierr.Internal("failed to publish to s1", err))
		return
	}

	c.Status(http.StatusOK)
}

func (s *Server) verifyWebhookSignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(s.cfg.TelegramWebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) == 1
}
