package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lmarchetti42/chatform/domain"
)

func collect(t *testing.T, s *Stream) []domain.StreamEvent {
	t.Helper()
	var events []domain.StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for stream to close, got %d events", len(events))
		}
	}
}

func sseHandler(t *testing.T, frames []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing Accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprint(w, frame)
			flusher.Flush()
		}
	}
}

func TestOpenDeliversEventsInOrder(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{
		"event: message\ndata: {\"content\":\"Hel\"}\n\n",
		"event: message\ndata: {\"content\":\"lo\",\"executionId\":\"exec_1\",\"title\":\"Open account\"}\n\n",
		"event: message\ndata: {\"tokenCount\":42,\"cost\":0.003}\n\n",
		"event: done\ndata: {}\n\n",
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil)
	s, err := client.Open(context.Background(), &domain.StreamRequest{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	events := collect(t, s)
	if len(events) != 5 {
		t.Fatalf("expected 5 events, got %d: %#v", len(events), events)
	}
	if d, ok := events[0].(domain.ContentDelta); !ok || d.Text != "Hel" {
		t.Fatalf("unexpected first event: %#v", events[0])
	}
	if d, ok := events[1].(domain.ContentDelta); !ok || d.Text != "lo" {
		t.Fatalf("unexpected second event: %#v", events[1])
	}
	exec, ok := events[2].(domain.ExecutionAssigned)
	if !ok || exec.ID != "exec_1" || exec.Title != "Open account" {
		t.Fatalf("unexpected third event: %#v", events[2])
	}
	usage, ok := events[3].(domain.UsageUpdate)
	if !ok || usage.Tokens != 42 || usage.Cost.String() != "0.003" {
		t.Fatalf("unexpected fourth event: %#v", events[3])
	}
	if _, ok := events[4].(domain.Done); !ok {
		t.Fatalf("expected Done, got %#v", events[4])
	}
}

func TestPartialUsageTicksKeepLastSeenCounters(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{
		"event: message\ndata: {\"tokenCount\":10,\"cost\":0.5}\n\n",
		"event: message\ndata: {\"tokenCount\":20}\n\n",
		"event: message\ndata: {\"cost\":0.7}\n\n",
		"event: done\ndata: {}\n\n",
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil)
	s, err := client.Open(context.Background(), &domain.StreamRequest{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	events := collect(t, s)
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d: %#v", len(events), events)
	}
	second, ok := events[1].(domain.UsageUpdate)
	if !ok || second.Tokens != 20 || second.Cost.String() != "0.5" {
		t.Fatalf("token-only tick must keep the cost: %#v", events[1])
	}
	third, ok := events[2].(domain.UsageUpdate)
	if !ok || third.Tokens != 20 || third.Cost.String() != "0.7" {
		t.Fatalf("cost-only tick must keep the tokens: %#v", events[2])
	}
}

func TestOpenErrorEventIsTerminal(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{
		"event: message\ndata: {\"content\":\"partial\"}\n\n",
		"event: error\ndata: {\"message\":\"backend exploded\"}\n\n",
		"event: message\ndata: {\"content\":\"never seen\"}\n\n",
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil)
	s, err := client.Open(context.Background(), &domain.StreamRequest{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	events := collect(t, s)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %#v", len(events), events)
	}
	se, ok := events[1].(domain.StreamError)
	if !ok || se.Message != "backend exploded" {
		t.Fatalf("unexpected terminal event: %#v", events[1])
	}
}

func TestOpenConnectionDropEmitsSingleError(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{
		"event: message\ndata: {\"content\":\"a\"}\n\n",
		// connection closes with no done/error frame
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil)
	s, err := client.Open(context.Background(), &domain.StreamRequest{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	events := collect(t, s)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %#v", len(events), events)
	}
	if _, ok := events[1].(domain.StreamError); !ok {
		t.Fatalf("expected StreamError, got %#v", events[1])
	}
}

func TestOpenUnknownEventsIgnoredSideEffectsForwarded(t *testing.T) {
	server := httptest.NewServer(sseHandler(t, []string{
		"event: task.updated\ndata: {\"status\":\"approved\"}\n\n",
		"event: bogus\ndata: not json\n\n",
		"event: done\ndata: {}\n\n",
	}))
	defer server.Close()

	client := NewClient(server.URL, "", 5*time.Second, nil)
	s, err := client.Open(context.Background(), &domain.StreamRequest{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	events := collect(t, s)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d: %#v", len(events), events)
	}
	effect, ok := events[0].(domain.SideEffect)
	if !ok || effect.Name != "task.updated" {
		t.Fatalf("unexpected first event: %#v", events[0])
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: message\ndata: {\"content\":\"a\"}\n\n")
		flusher.Flush()
		<-release
		fmt.Fprint(w, "event: message\ndata: {\"content\":\"b\"}\n\n")
		flusher.Flush()
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "", 5*time.Second, nil)
	s, err := client.Open(context.Background(), &domain.StreamRequest{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	first := <-s.Events()
	if d, ok := first.(domain.ContentDelta); !ok || d.Text != "a" {
		t.Fatalf("unexpected first event: %#v", first)
	}

	s.Cancel()
	s.Cancel() // idempotent

	// No further events may arrive; the channel just closes.
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return
			}
			t.Fatalf("event delivered after cancel: %#v", ev)
		case <-timeout:
			t.Fatalf("stream did not close after cancel")
		}
	}
}

func TestOpenNon200Fails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "bad")
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, nil)
	if _, err := client.Open(context.Background(), &domain.StreamRequest{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestOpenSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected Authorization header: %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second, nil)
	s, err := client.Open(context.Background(), &domain.StreamRequest{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	collect(t, s)
}
