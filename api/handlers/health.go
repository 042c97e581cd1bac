package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/customeros/mailpulse/interfaces"
	"github.com/customeros/mailpulse/internal/enum"
)

type subscriberCounter interface {
	SubscriberCount() int
}

type HealthHandler struct {
	supervisor  interfaces.SyncSupervisor
	subscribers subscriberCounter
}

func NewHealthHandler(supervisor interfaces.SyncSupervisor, subscribers subscriberCounter) *HealthHandler {
	return &HealthHandler{supervisor: supervisor, subscribers: subscribers}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Status reports every supervised account plus a count per state.
func (h *HealthHandler) Status(c *gin.Context) {
	accounts := h.supervisor.Status()

	states := make(map[enum.ConnectionState]int)
	for _, status := range accounts {
		states[status.State]++
	}

	c.JSON(http.StatusOK, gin.H{
		"accounts":    accounts,
		"states":      states,
		"subscribers": h.subscribers.SubscriberCount(),
	})
}
