package httpapi

import (
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/viable-systems/control-plane/pkg/telemetry"
)

const (
	eventsHeartbeatInterval = 15 * time.Second
	eventsStallTimeout      = 60 * time.Second
	eventsBufferSize        = 64
)

// handleEvents streams telemetry events matching a caller-supplied topic
// prefix (query param "topic", defaulting to the empty prefix which
// matches everything) as Server-Sent Events. A 15s heartbeat keeps
// intermediaries from closing the connection. Events that arrive while
// the buffer is full are dropped, so the telemetry bus's synchronous
// dispatch never blocks on this stream; a consumer whose buffer has been
// overflowing for a whole stall window is disconnected at the next
// heartbeat.
func (s *Server) handleEvents(c *gin.Context) {
	prefix := strings.TrimSpace(c.Query("topic"))
	listenerID := uuid.NewString()

	ch := make(chan telemetry.Event, eventsBufferSize)
	// droppedSince is the UnixNano time of the first drop since the last
	// successful enqueue, or 0 while the buffer has room.
	var droppedSince atomic.Int64
	s.deps.Telemetry.Attach(listenerID, prefix, func(ev telemetry.Event) {
		select {
		case ch <- ev:
			droppedSince.Store(0)
		default:
			// Buffer full: drop rather than block the synchronous emitter.
			droppedSince.CompareAndSwap(0, time.Now().UnixNano())
		}
	})
	defer s.deps.Telemetry.Detach(listenerID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	heartbeat := time.NewTicker(eventsHeartbeatInterval)
	defer heartbeat.Stop()

	ctx := c.Request.Context()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			c.SSEvent(ev.Name, ev)
			c.Writer.Flush()
		case <-heartbeat.C:
			if since := droppedSince.Load(); since != 0 && time.Since(time.Unix(0, since)) >= eventsStallTimeout {
				return
			}
			c.SSEvent("heartbeat", gin.H{"ts": time.Now().UTC()})
			c.Writer.Flush()
		}
	}
}
