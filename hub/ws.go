package hub

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	writeTimeout   = 10 * time.Second
	pongTimeout    = 60 * time.Second
	pingInterval   = 54 * time.Second
	maxMessageSize = 32 * 1024
)

// Server upgrades HTTP requests to WebSocket subscriptions on the hub.
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewServer creates a WebSocket server around the hub.
func NewServer(h *Hub, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Handle upgrades the request and subscribes it to the session's frames.
// The session id comes from the route parameter.
func (s *Server) Handle(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return err
	}

	sub := s.hub.NewSubscriber(ws, sessionID)
	s.hub.Register(sub)

	ws.SetReadLimit(maxMessageSize)

	go s.writePump(sub)
	go s.readPump(sub)

	return nil
}

// readPump drains client frames. Clients only send pongs and close frames;
// anything else is discarded.
func (s *Server) readPump(sub *Subscriber) {
	defer func() {
		s.hub.Unregister(sub)
		sub.Close()
	}()

	sub.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
	sub.Conn.SetPongHandler(func(string) error {
		sub.Conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := sub.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(sub *Subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sub.Close()
	}()

	for {
		select {
		case data, ok := <-sub.Send:
			sub.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				sub.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			sub.Conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := sub.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
