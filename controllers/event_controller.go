package controllers

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"receiptmanager/services"
)

const keepAliveInterval = 25 * time.Second

type EventController struct {
	hub *services.EventHub
}

func NewEventController(hub *services.EventHub) *EventController {
	return &EventController{hub: hub}
}

// Stream serves the hub as server-sent events. The first event carries
// the current refresh trigger so a reconnecting client can tell whether
// it missed a refresh.
func (ec *EventController) Stream(c *gin.Context) {
	events, unsubscribe := ec.hub.Subscribe()
	defer unsubscribe()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent(string(services.EventRefresh), services.Event{
		Type:    services.EventRefresh,
		Trigger: ec.hub.Trigger(),
		At:      time.Now(),
	})
	c.Writer.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case event, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(event.Type), event)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		}
	})
}
