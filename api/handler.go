// Package api provides the HTTP surface for sessions and guided forms.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lmarchetti42/chatform/hub"
	"github.com/lmarchetti42/chatform/session"
)

// Handler handles HTTP requests.
type Handler struct {
	manager *session.Manager
	ws      *hub.Server
	logger  *zap.Logger
}

// NewHandler creates a new handler. ws may be nil when no WebSocket
// surface is exposed.
func NewHandler(manager *session.Manager, ws *hub.Server, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		ws:      ws,
		logger:  logger,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	e.POST("/v1/sessions", h.CreateSession)
	e.GET("/v1/sessions", h.ListSessions)
	e.GET("/v1/sessions/:id", h.GetSession)
	e.GET("/v1/sessions/:id/messages", h.GetMessages)
	e.POST("/v1/sessions/:id/messages", h.PostMessage)
	e.POST("/v1/sessions/:id/cancel", h.CancelStream)

	e.POST("/v1/sessions/:id/form/start", h.StartForm)
	e.POST("/v1/sessions/:id/form/respond", h.RespondForm)
	e.POST("/v1/sessions/:id/form/accept", h.AcceptForm)
	e.POST("/v1/sessions/:id/form/edit", h.EditForm)
	e.GET("/v1/sessions/:id/form/review", h.ReviewForm)
	e.POST("/v1/sessions/:id/form/submit", h.SubmitForm)

	if h.ws != nil {
		e.GET("/v1/sessions/:id/ws", h.ws.Handle)
	}
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}
