package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailpulse/services/events"
)

const DefaultKeepAlive = 25 * time.Second

type EventsHandler struct {
	hub       *events.Hub
	keepAlive time.Duration
}

func NewEventsHandler(hub *events.Hub, keepAlive time.Duration) *EventsHandler {
	return &EventsHandler{hub: hub, keepAlive: keepAlive}
}

// Stream sends live domain events as server-sent events until the client
// goes away. Events published before the subscription are not replayed.
func (h *EventsHandler) Stream(c *gin.Context) {
	sub := h.hub.Subscribe(c.Query("accountId"))
	defer h.hub.Unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case event, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-ticker.C:
			c.SSEvent("keepalive", gin.H{"dropped": sub.Dropped()})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
