package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	notificationEventName = "notification"
	heartbeatEventName    = "heartbeat"
	readyEventName        = "ready"
)

// handleNotificationStream relays the square's live notifications as server-sent events.
// Missed events are recovered by listing the persisted log.
func (h *httpHandler) handleNotificationStream(c *gin.Context) {
	squareID := currentSquare(c)
	ctx := c.Request.Context()
	events, unsubscribe := h.stream.Subscribe(ctx, squareID.String())
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(readyEventName, gin.H{"square_id": squareID.String()})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	user := currentUser(c)
	h.logger.Debug("notification stream opened", zap.String("square_id", squareID.String()), zap.String("user_id", user.ID.String()))
	defer h.logger.Debug("notification stream closed", zap.String("square_id", squareID.String()), zap.String("user_id", user.ID.String()))

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.SSEvent(notificationEventName, event)
			c.Writer.Flush()
		case now := <-ticker.C:
			c.SSEvent(heartbeatEventName, gin.H{"at": now.UTC()})
			c.Writer.Flush()
		}
	}
}
