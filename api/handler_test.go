package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lmarchetti42/chatform/config"
	"github.com/lmarchetti42/chatform/domain"
	"github.com/lmarchetti42/chatform/session"
	"github.com/lmarchetti42/chatform/tests/helpers"
)

type scriptedChannel struct {
	events chan domain.StreamEvent
}

func (c scriptedChannel) Events() <-chan domain.StreamEvent { return c.events }
func (c scriptedChannel) Cancel()                           {}

// scriptedOpener replays one event script per Open call.
type scriptedOpener struct {
	mu      sync.Mutex
	scripts [][]domain.StreamEvent
	opened  int
}

func (o *scriptedOpener) Open(_ context.Context, _ *domain.StreamRequest) (session.Channel, error) {
	o.mu.Lock()
	var script []domain.StreamEvent
	if o.opened < len(o.scripts) {
		script = o.scripts[o.opened]
	}
	o.opened++
	o.mu.Unlock()

	events := make(chan domain.StreamEvent, len(script)+1)
	for _, ev := range script {
		events <- ev
	}
	close(events)
	return scriptedChannel{events: events}, nil
}

func newTestHandler(t *testing.T, scripts ...[]domain.StreamEvent) (*Handler, *session.Manager) {
	t.Helper()

	st := helpers.NewTestSQLiteStore(t)
	cfg := &config.Config{SideEffectDelay: time.Millisecond, KeepAfterText: true}
	manager := session.NewManager(&scriptedOpener{scripts: scripts}, st, nil, cfg, nil)
	t.Cleanup(manager.Shutdown)

	return NewHandler(manager, nil, nil), manager
}

func doJSON(t *testing.T, h echo.HandlerFunc, method, target, body, sessionID string) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if sessionID != "" {
		c.SetParamNames("id")
		c.SetParamValues(sessionID)
	}

	if err := h(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func waitIdle(t *testing.T, coord *session.Coordinator) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !coord.Streaming() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("stream did not finish")
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.Health, http.MethodGet, "/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.CreateSession, http.MethodPost, "/v1/sessions", "", "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var created domain.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.SessionID == "" {
		t.Fatalf("expected session id, got %+v", created)
	}

	rec = doJSON(t, h.GetSession, http.MethodGet, "/v1/sessions/"+created.SessionID, "", created.SessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h.ListSessions, http.MethodGet, "/v1/sessions", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var listed struct {
		Sessions []domain.Session `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(listed.Sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(listed.Sessions))
	}
}

func TestGetSessionNotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := doJSON(t, h.GetSession, http.MethodGet, "/v1/sessions/nope", "", "nope")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestPostMessageStreamsReply(t *testing.T) {
	h, manager := newTestHandler(t, []domain.StreamEvent{
		domain.ContentDelta{Text: "hi "},
		domain.ContentDelta{Text: "there"},
		domain.Done{},
	})

	coord, err := manager.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sessionID := coord.Session().SessionID

	rec := doJSON(t, h.PostMessage, http.MethodPost, "/v1/sessions/"+sessionID+"/messages",
		`{"content":"hello"}`, sessionID)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	waitIdle(t, coord)

	rec = doJSON(t, h.GetMessages, http.MethodGet, "/v1/sessions/"+sessionID+"/messages", "", sessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if resp.Messages[1].Content != "hi there" {
		t.Fatalf("unexpected assistant content: %q", resp.Messages[1].Content)
	}
}

func TestPostMessageRequiresContent(t *testing.T) {
	h, manager := newTestHandler(t)

	coord, err := manager.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sessionID := coord.Session().SessionID

	rec := doJSON(t, h.PostMessage, http.MethodPost, "/v1/sessions/"+sessionID+"/messages",
		`{"content":""}`, sessionID)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetMessagesLimit(t *testing.T) {
	h, manager := newTestHandler(t,
		[]domain.StreamEvent{domain.ContentDelta{Text: "one"}, domain.Done{}},
		[]domain.StreamEvent{domain.ContentDelta{Text: "two"}, domain.Done{}},
	)

	coord, err := manager.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sessionID := coord.Session().SessionID

	for _, content := range []string{"first", "second"} {
		rec := doJSON(t, h.PostMessage, http.MethodPost, "/v1/sessions/"+sessionID+"/messages",
			`{"content":"`+content+`"}`, sessionID)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("expected 202, got %d", rec.Code)
		}
		waitIdle(t, coord)
	}

	rec := doJSON(t, h.GetMessages, http.MethodGet, "/v1/sessions/"+sessionID+"/messages?limit=2", "", sessionID)
	var resp struct {
		Messages []domain.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if resp.Messages[1].Content != "two" {
		t.Fatalf("expected newest messages, got %q", resp.Messages[1].Content)
	}
}

func TestCancelStream(t *testing.T) {
	h, manager := newTestHandler(t)

	coord, err := manager.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sessionID := coord.Session().SessionID

	rec := doJSON(t, h.CancelStream, http.MethodPost, "/v1/sessions/"+sessionID+"/cancel", "", sessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestFormFlowOverHTTP(t *testing.T) {
	h, manager := newTestHandler(t)

	coord, err := manager.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sessionID := coord.Session().SessionID

	startBody := `{"fields":[
		{"name":"firstName","displayName":"First Name","type":"string","validation":{"required":true}},
		{"name":"email","displayName":"Email","type":"string"}
	]}`
	rec := doJSON(t, h.StartForm, http.MethodPost, "/v1/sessions/"+sessionID+"/form/start", startBody, sessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h.RespondForm, http.MethodPost, "/v1/sessions/"+sessionID+"/form/respond",
		`{"field":"firstName","value":"Ana"}`, sessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("respond: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	// Answering a field that is not awaited is rejected.
	rec = doJSON(t, h.RespondForm, http.MethodPost, "/v1/sessions/"+sessionID+"/form/respond",
		`{"field":"firstName","value":"again"}`, sessionID)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-turn respond: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, h.RespondForm, http.MethodPost, "/v1/sessions/"+sessionID+"/form/respond",
		`{"field":"email","value":"ana@example.com"}`, sessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("respond: expected 200, got %d", rec.Code)
	}

	rec = doJSON(t, h.ReviewForm, http.MethodGet, "/v1/sessions/"+sessionID+"/form/review", "", sessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("review: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "First Name") {
		t.Fatalf("review should list display names: %s", rec.Body.String())
	}

	rec = doJSON(t, h.SubmitForm, http.MethodPost, "/v1/sessions/"+sessionID+"/form/submit", "", sessionID)
	if rec.Code != http.StatusOK {
		t.Fatalf("submit: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var submitted struct {
		Answers map[string]any `json:"answers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &submitted); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if submitted.Answers["firstName"] != "Ana" {
		t.Fatalf("unexpected answers: %+v", submitted.Answers)
	}

	// Submitting again fails, the form session is gone.
	rec = doJSON(t, h.SubmitForm, http.MethodPost, "/v1/sessions/"+sessionID+"/form/submit", "", sessionID)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second submit: expected 404, got %d", rec.Code)
	}
}

func TestStartFormWithoutSchema(t *testing.T) {
	h, manager := newTestHandler(t)

	coord, err := manager.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	sessionID := coord.Session().SessionID

	rec := doJSON(t, h.StartForm, http.MethodPost, "/v1/sessions/"+sessionID+"/form/start", `{}`, sessionID)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}
