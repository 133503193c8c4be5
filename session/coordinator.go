package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lmarchetti42/chatform/config"
	"github.com/lmarchetti42/chatform/domain"
	"github.com/lmarchetti42/chatform/extract"
	"github.com/lmarchetti42/chatform/form"
	"github.com/lmarchetti42/chatform/store"
)

// streamErrorFallback replaces the assistant message content when the
// transport fails mid-stream.
const streamErrorFallback = "Sorry, the connection to the assistant was interrupted. Please try again."

var (
	// ErrNoFormSchema is returned when a form operation arrives before any
	// field schema is available.
	ErrNoFormSchema = errors.New("no form schema available for this session")
)

// Channel is one open stream of backend events.
type Channel interface {
	Events() <-chan domain.StreamEvent
	Cancel()
}

// Opener opens a stream channel for a request payload.
type Opener interface {
	Open(ctx context.Context, req *domain.StreamRequest) (Channel, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, req *domain.StreamRequest) (Channel, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, req *domain.StreamRequest) (Channel, error) {
	return f(ctx, req)
}

// Sink receives user-visible frames produced while a stream is applied.
type Sink interface {
	BroadcastJSON(sessionID string, v any) error
}

// Frame is one user-visible update pushed to connected clients.
type Frame struct {
	Type    string `json:"type"`
	Ts      int64  `json:"ts"`
	Payload any    `json:"payload,omitempty"`
}

// Coordinator owns one ConversationSession. All mutation of the session
// happens through it, and at most one channel is open at any instant.
type Coordinator struct {
	opener    Opener
	store     store.Store
	sink      Sink
	extractor *extract.Extractor
	cfg       *config.Config
	logger    *zap.Logger

	mu         sync.Mutex
	session    *domain.Session
	buffer     *ContentBuffer
	channel    Channel
	current    *domain.Message
	done       chan struct{}
	form       *form.Engine
	lastFields *domain.FieldMap
}

// NewCoordinator creates a coordinator owning the given session.
func NewCoordinator(session *domain.Session, opener Opener, st store.Store, sink Sink, cfg *config.Config, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		opener:    opener,
		store:     st,
		sink:      sink,
		extractor: extract.NewExtractor(logger),
		cfg:       cfg,
		logger:    logger,
		session:   session,
	}
}

// Session returns a snapshot of the session without its messages.
func (c *Coordinator) Session() domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := *c.session
	snapshot.Messages = nil
	return snapshot
}

// Messages returns the session's message history in insertion order.
func (c *Coordinator) Messages() []*domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*domain.Message, len(c.session.Messages))
	for i, m := range c.session.Messages {
		copied := *m
		out[i] = &copied
	}
	return out
}

// Send appends a user message, opens a stream with the full history, and
// applies the resulting events to the session. A channel already open for
// this session is cancelled first.
func (c *Coordinator) Send(ctx context.Context, text string, attachments []domain.Attachment) (*domain.Message, error) {
	c.cancelActive()

	now := time.Now()
	userMsg := &domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		SessionID: c.session.SessionID,
		Role:      domain.RoleUser,
		Content:   text,
		CreatedAt: now,
	}

	c.mu.Lock()
	c.session.Messages = append(c.session.Messages, userMsg)
	req := c.buildRequest(attachments)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.CreateMessage(ctx, userMsg); err != nil {
			// Storage failure must not block the conversation.
			c.logger.Error("failed to persist user message", zap.Error(err))
		}
	}

	ch, err := c.opener.Open(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	placeholder := &domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		SessionID: c.session.SessionID,
		Role:      domain.RoleAssistant,
		Streaming: true,
		CreatedAt: time.Now(),
	}
	done := make(chan struct{})

	if c.store != nil {
		if err := c.store.CreateMessage(ctx, placeholder); err != nil {
			c.logger.Error("failed to persist assistant placeholder", zap.Error(err))
		}
	}

	c.mu.Lock()
	c.session.Messages = append(c.session.Messages, placeholder)
	c.session.Streaming = true
	c.buffer = &ContentBuffer{}
	c.channel = ch
	c.current = placeholder
	c.done = done
	c.mu.Unlock()

	go c.run(ch, placeholder, done)
	return userMsg, nil
}

// Cancel stops the live stream, if any. Idempotent.
func (c *Coordinator) Cancel() {
	c.cancelActive()
}

// Close tears the session down; the open channel, if any, is closed.
func (c *Coordinator) Close() {
	c.cancelActive()
}

// Streaming reports whether a channel is currently open.
func (c *Coordinator) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channel != nil
}

// cancelActive enforces the at-most-one-channel invariant: it cancels the
// prior channel and waits for its event loop to wind down.
func (c *Coordinator) cancelActive() {
	c.mu.Lock()
	ch := c.channel
	done := c.done
	c.mu.Unlock()

	if ch == nil {
		return
	}
	ch.Cancel()
	if done != nil {
		<-done
	}
}

// buildRequest assembles the stream request payload from the full message
// history. Attachment descriptors ride on the final user message, opaque to
// this component. Callers must hold c.mu.
func (c *Coordinator) buildRequest(attachments []domain.Attachment) *domain.StreamRequest {
	req := &domain.StreamRequest{
		TaskID:      c.cfg.TaskID,
		ExecutionID: c.session.ExecutionID,
	}
	for i, m := range c.session.Messages {
		rm := domain.RequestMessage{Role: m.Role, Content: m.Content}
		if i == len(c.session.Messages)-1 {
			rm.Attachments = attachments
		}
		req.Messages = append(req.Messages, rm)
	}
	return req
}

// run consumes one channel until it closes, applying each event to session
// state strictly in delivery order.
func (c *Coordinator) run(ch Channel, msg *domain.Message, done chan struct{}) {
	defer close(done)

	terminated := false
	for ev := range ch.Events() {
		c.apply(ev, msg)
		switch ev.(type) {
		case domain.Done, domain.StreamError:
			terminated = true
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !terminated {
		// Cancelled mid-stream: keep the partial content, stop streaming.
		msg.Streaming = false
		c.session.Streaming = false
		c.persistAssistant(msg)
	}
	if c.channel == ch {
		c.channel = nil
		c.done = nil
		c.current = nil
	}
}

// apply is the single reducer over session state for stream events.
func (c *Coordinator) apply(ev domain.StreamEvent, msg *domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch event := ev.(type) {
	case domain.ContentDelta:
		c.buffer.Append(event.Text)
		msg.Content = c.buffer.Snapshot()
		c.broadcast("delta", map[string]any{
			"message_id": msg.MessageID,
			"text":       event.Text,
		})

	case domain.ExecutionAssigned:
		if c.session.ExecutionID != "" {
			return
		}
		c.session.SetExecution(event.ID, event.Title)
		if c.store != nil {
			if err := c.store.SetSessionExecution(context.Background(), c.session.SessionID, event.ID, event.Title); err != nil {
				c.logger.Error("failed to persist execution id", zap.Error(err))
			}
		}
		c.broadcast("execution", map[string]any{
			"execution_id": event.ID,
			"title":        event.Title,
		})

	case domain.UsageUpdate:
		c.session.TokenCount = event.Tokens
		c.session.Cost = event.Cost
		if c.store != nil {
			if err := c.store.UpdateSessionUsage(context.Background(), c.session.SessionID, event.Tokens, event.Cost); err != nil {
				c.logger.Error("failed to persist usage", zap.Error(err))
			}
		}
		c.broadcast("usage", map[string]any{
			"token_count": event.Tokens,
			"cost":        event.Cost.String(),
		})

	case domain.SideEffect:
		// Forwarded unchanged after the configured visible delay; not
		// interpreted further here.
		name := event.Name
		payload := event.Payload
		delay := c.cfg.SideEffectDelay
		time.AfterFunc(delay, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.broadcast(name, payload)
		})

	case domain.Done:
		c.buffer.Finalize()
		msg.Streaming = false
		c.session.Streaming = false
		c.finishMessage(msg)
		c.broadcast("done", map[string]any{
			"message_id": msg.MessageID,
		})

	case domain.StreamError:
		msg.Content = streamErrorFallback
		msg.Streaming = false
		c.session.Streaming = false
		c.logger.Warn("stream failed", zap.String("session_id", c.session.SessionID), zap.String("error", event.Message))
		c.persistAssistant(msg)
		c.broadcast("error", map[string]any{
			"message_id": msg.MessageID,
			"message":    event.Message,
		})
	}
}

// finishMessage runs extraction once over the finalized buffer and attaches
// the result to the assistant message. Callers must hold c.mu.
func (c *Coordinator) finishMessage(msg *domain.Message) {
	text := c.buffer.Snapshot()
	msg.Content = text

	res := c.extractor.Extract(text)
	if res.Artifact != nil {
		after := res.After
		if !c.cfg.KeepAfterText {
			after = ""
		}
		ex := &domain.Extraction{
			ArtifactType: res.Artifact.Type,
			Title:        res.Artifact.Title,
			Form:         res.Form,
			Error:        res.Error,
			Before:       res.Before,
			After:        after,
		}

		switch {
		case res.Form != nil:
			engine := form.NewEngine(res.Form.Fields)
			if c.lastFields != nil {
				if err := engine.SetExtractedData(c.lastFields); err != nil {
					c.logger.Warn("failed to seed form from extracted data", zap.Error(err))
				}
			}
			c.form = engine
		case res.Error == nil:
			// Generic and unknown-typed payloads run through field
			// extraction.
			if fm, err := extract.Flatten(res.Artifact.Payload); err == nil && fm.Len() > 0 {
				ex.Fields = fm
				c.lastFields = fm
				if c.form != nil && c.form.State() == domain.FormStateIdle {
					if err := c.form.SetExtractedData(fm); err != nil {
						c.logger.Warn("failed to seed form from extracted data", zap.Error(err))
					}
				}
			}
		}

		msg.Extracted = ex
	}

	c.persistAssistant(msg)
}

// persistAssistant updates the stored assistant message with its final
// content and extraction. Callers must hold c.mu.
func (c *Coordinator) persistAssistant(msg *domain.Message) {
	if c.store == nil {
		return
	}
	if err := c.store.UpdateMessage(context.Background(), msg); err != nil {
		c.logger.Error("failed to persist assistant message", zap.Error(err))
	}
}

// broadcast pushes a frame to connected clients. Callers must hold c.mu.
func (c *Coordinator) broadcast(frameType string, payload any) {
	if c.sink == nil {
		return
	}
	frame := Frame{Type: frameType, Ts: time.Now().UnixMilli(), Payload: payload}
	if err := c.sink.BroadcastJSON(c.session.SessionID, frame); err != nil {
		c.logger.Warn("failed to broadcast frame", zap.String("type", frameType), zap.Error(err))
	}
}
