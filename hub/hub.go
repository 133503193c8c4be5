// Package hub fans session frames out to WebSocket subscribers.
package hub

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrBufferFull is returned when a subscriber cannot keep up with the
// frame rate and its send buffer overflows.
var ErrBufferFull = errors.New("send buffer full")

const sendBuffer = 256

// Subscriber is a single WebSocket connection watching one session.
type Subscriber struct {
	ID        string
	SessionID string
	Conn      *websocket.Conn
	Send      chan []byte

	writeMu sync.Mutex
}

// WriteMessage serializes writes to the underlying connection.
func (s *Subscriber) WriteMessage(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.Conn.WriteMessage(messageType, data)
}

// Close closes the underlying connection.
func (s *Subscriber) Close() error {
	return s.Conn.Close()
}

type sessionFrame struct {
	sessionID string
	data      []byte
}

// Hub tracks subscribers per session and delivers frames to them.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	sessions    map[string]map[string]bool

	register   chan *Subscriber
	unregister chan *Subscriber
	frames     chan sessionFrame

	logger *zap.Logger
}

// NewHub creates a hub. Run must be started for delivery to happen.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		sessions:    make(map[string]map[string]bool),
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		frames:      make(chan sessionFrame, 256),
		logger:      logger,
	}
}

// Run is the hub's delivery loop. It is meant to run in its own goroutine
// for the life of the process.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub.ID] = sub
			if sub.SessionID != "" {
				if h.sessions[sub.SessionID] == nil {
					h.sessions[sub.SessionID] = make(map[string]bool)
				}
				h.sessions[sub.SessionID][sub.ID] = true
			}
			h.mu.Unlock()
			h.logger.Debug("subscriber registered",
				zap.String("subscriber_id", sub.ID),
				zap.String("session_id", sub.SessionID))

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub.ID]; ok {
				delete(h.subscribers, sub.ID)
				h.detachLocked(sub)
				close(sub.Send)
			}
			h.mu.Unlock()
			h.logger.Debug("subscriber unregistered", zap.String("subscriber_id", sub.ID))

		case frame := <-h.frames:
			h.mu.RLock()
			for subID := range h.sessions[frame.sessionID] {
				sub, ok := h.subscribers[subID]
				if !ok {
					continue
				}
				select {
				case sub.Send <- frame.data:
				default:
					// Slow consumer, drop the connection.
					h.logger.Warn("subscriber buffer full, dropping",
						zap.String("subscriber_id", subID))
					go h.Unregister(sub)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) detachLocked(sub *Subscriber) {
	if sub.SessionID == "" || h.sessions[sub.SessionID] == nil {
		return
	}
	delete(h.sessions[sub.SessionID], sub.ID)
	if len(h.sessions[sub.SessionID]) == 0 {
		delete(h.sessions, sub.SessionID)
	}
}

// NewSubscriber wraps a WebSocket connection bound to a session. The
// subscriber is not registered until Register is called.
func (h *Hub) NewSubscriber(ws *websocket.Conn, sessionID string) *Subscriber {
	return &Subscriber{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Conn:      ws,
		Send:      make(chan []byte, sendBuffer),
	}
}

// Register adds the subscriber to the delivery loop.
func (h *Hub) Register(sub *Subscriber) {
	h.register <- sub
}

// Unregister removes the subscriber and closes its send channel.
func (h *Hub) Unregister(sub *Subscriber) {
	h.unregister <- sub
}

// Broadcast delivers raw bytes to every subscriber of a session.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	h.frames <- sessionFrame{sessionID: sessionID, data: data}
}

// BroadcastJSON marshals v and delivers it to every subscriber of a session.
func (h *Hub) BroadcastJSON(sessionID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Broadcast(sessionID, data)
	return nil
}

// SendJSON delivers a frame to one subscriber only.
func (h *Hub) SendJSON(sub *Subscriber, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case sub.Send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// HasSubscribers reports whether any subscriber is watching the session.
func (h *Hub) HasSubscribers(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID]) > 0
}
