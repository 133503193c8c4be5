package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lmarchetti42/chatform/domain"
)

// Client opens streaming connections to the assistant backend.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a backend client. The bearer token may be empty:
// unauthenticated sessions are allowed.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Open sends the request payload and returns a Stream delivering the
// backend's events. The caller owns the stream and must consume it until the
// channel closes, or call Cancel.
func (c *Client) Open(ctx context.Context, req *domain.StreamRequest) (*Stream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	sctx, cancel := context.WithCancel(ctx)

	httpReq, err := http.NewRequestWithContext(sctx, http.MethodPost, c.baseURL+"/v1/assistant/stream", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(respBody))
	}

	s := newStream(cancel)
	go c.consume(s, resp.Body)
	return s, nil
}

// consume parses the SSE stream and delivers typed events until a terminal
// event, a transport failure, or cancellation.
func (c *Client) consume(s *Stream, body io.ReadCloser) {
	defer s.finish()
	defer body.Close()

	var name, data string
	var usage usageTally
	terminated := false

	dispatch := func() bool {
		if name == "" && data == "" {
			return true
		}
		events, terminal := c.decodeEvent(name, data, &usage)
		name, data = "", ""
		for _, ev := range events {
			if !s.deliver(ev) {
				return false
			}
		}
		if terminal {
			terminated = true
			return false
		}
		return true
	}

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		// An empty line marks the end of one event.
		if line == "" {
			if !dispatch() {
				return
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			chunk := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data != "" {
				data += "\n" + chunk
			}
			if data == "" {
				data = chunk
			}
		}
	}

	if !dispatch() {
		return
	}
	if terminated {
		return
	}

	// The connection ended without a terminal event: surface it as a
	// single error.
	msg := "connection to assistant interrupted"
	if err := scanner.Err(); err != nil {
		c.logger.Warn("stream read failed", zap.Error(err))
	}
	s.deliver(domain.StreamError{Message: msg})
}

// usageTally carries the last-seen usage counters across wire events, so a
// tick reporting only one of them never resets the other.
type usageTally struct {
	tokens int
	cost   decimal.Decimal
}

// decodeEvent converts one wire event into typed stream events. A "message"
// event may update several things at once; absent fields mean no update.
// Unknown events with a JSON payload are forwarded as side effects; anything
// else is ignored for forward compatibility.
func (c *Client) decodeEvent(name, data string, usage *usageTally) ([]domain.StreamEvent, bool) {
	switch name {
	case "", "message":
		var p domain.MessageEventPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			c.logger.Warn("malformed message event, skipping", zap.Error(err))
			return nil, false
		}
		var events []domain.StreamEvent
		if p.Content != nil {
			events = append(events, domain.ContentDelta{Text: *p.Content})
		}
		if p.ExecutionID != nil {
			var title string
			if p.Title != nil {
				title = *p.Title
			}
			events = append(events, domain.ExecutionAssigned{ID: *p.ExecutionID, Title: title})
		}
		if p.TokenCount != nil || p.Cost != nil {
			if p.TokenCount != nil {
				usage.tokens = *p.TokenCount
			}
			if p.Cost != nil {
				if cost, err := decimal.NewFromString(p.Cost.String()); err == nil {
					usage.cost = cost
				}
			}
			events = append(events, domain.UsageUpdate{Tokens: usage.tokens, Cost: usage.cost})
		}
		return events, false

	case "done":
		return []domain.StreamEvent{domain.Done{}}, true

	case "error":
		var p domain.ErrorEventPayload
		if err := json.Unmarshal([]byte(data), &p); err != nil || p.Message == "" {
			p.Message = "assistant reported an error"
		}
		return []domain.StreamEvent{domain.StreamError{Message: p.Message}}, true

	default:
		if json.Valid([]byte(data)) {
			return []domain.StreamEvent{domain.SideEffect{
				Name:    name,
				Payload: json.RawMessage(data),
			}}, false
		}
		c.logger.Debug("ignoring unknown event", zap.String("event", name))
		return nil, false
	}
}
