package handlers

import (
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/mutulens/api/ws"
	"github.com/feichai0017/mutulens/internal/pipeline"
	"github.com/feichai0017/mutulens/internal/service/extraction"
	"github.com/feichai0017/mutulens/pkg/logger"
)

// EventsHandler forwards controller events to websocket clients.
type EventsHandler struct {
	hub         *ws.Hub
	unsubscribe func()
	logger      logger.Logger
}

func NewEventsHandler(service extraction.Service, hub *ws.Hub, log logger.Logger) *EventsHandler {
	h := &EventsHandler{hub: hub, logger: log}
	h.unsubscribe = service.Subscribe(h.forward)
	return h
}

func (h *EventsHandler) forward(ev pipeline.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", logger.Error(err))
		return
	}
	h.hub.Broadcast(data)
}

func (h *EventsHandler) Stream(c *gin.Context) {
	if err := h.hub.ServeWS(c.Writer, c.Request); err != nil {
		h.logger.Warn("Websocket upgrade failed", logger.Error(err))
	}
}

// Close stops forwarding events.
func (h *EventsHandler) Close() {
	h.unsubscribe()
}
