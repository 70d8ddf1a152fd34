package handler

import (
	"strconv"

	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/gin-gonic/gin"
)

// EventFeed exposes recently published engine events
type EventFeed interface {
	Events() []shared.DomainEvent
	OfType(eventType string) []shared.DomainEvent
}

// EventsHandler serves the recent event feed
type EventsHandler struct {
	BaseHandler
	feed EventFeed
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(feed EventFeed) *EventsHandler {
	return &EventsHandler{feed: feed}
}

// List handles GET /events?type=&limit=. Newest events come last; limit
// keeps the newest ones.
func (h *EventsHandler) List(c *gin.Context) {
	var events []shared.DomainEvent
	if t := c.Query("type"); t != "" {
		events = h.feed.OfType(t)
	} else {
		events = h.feed.Events()
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			h.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		if limit < len(events) {
			events = events[len(events)-limit:]
		}
	}

	if events == nil {
		events = []shared.DomainEvent{}
	}
	h.Success(c, events)
}

// RegisterRoutes mounts the event feed
func (h *EventsHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/events", h.List)
}
