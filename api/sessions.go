package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/lmarchetti42/chatform/domain"
	"github.com/lmarchetti42/chatform/session"
)

type postMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments,omitempty"`
}

// CreateSession opens a new conversation.
// POST /v1/sessions
func (h *Handler) CreateSession(c echo.Context) error {
	coord, err := h.manager.Create(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
	}
	return c.JSON(http.StatusCreated, coord.Session())
}

// ListSessions returns all known sessions.
// GET /v1/sessions
func (h *Handler) ListSessions(c echo.Context) error {
	sessions, err := h.manager.List(c.Request().Context())
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list sessions"})
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// GetSession returns a single session snapshot.
// GET /v1/sessions/:id
func (h *Handler) GetSession(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, coord.Session())
}

// GetMessages returns the conversation transcript.
// GET /v1/sessions/:id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}

	messages := coord.Messages()
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}

	return c.JSON(http.StatusOK, map[string]any{"messages": messages})
}

// PostMessage appends a user message and starts the assistant response
// stream. The reply is pushed over the session's WebSocket; the response
// here only acknowledges the user message.
// POST /v1/sessions/:id/messages
func (h *Handler) PostMessage(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}

	var req postMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "content is required"})
	}

	msg, err := coord.Send(c.Request().Context(), req.Content, req.Attachments)
	if err != nil {
		h.logger.Error("failed to start stream", zap.Error(err))
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "failed to reach assistant"})
	}

	return c.JSON(http.StatusAccepted, msg)
}

// CancelStream stops the in-flight assistant response, if any.
// POST /v1/sessions/:id/cancel
func (h *Handler) CancelStream(c echo.Context) error {
	coord, err := h.openSession(c)
	if err != nil {
		return err
	}
	coord.Cancel()
	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) openSession(c echo.Context) (*session.Coordinator, error) {
	sessionID := c.Param("id")
	coord, err := h.manager.Open(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			return nil, echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		h.logger.Error("failed to open session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to open session")
	}
	return coord, nil
}
