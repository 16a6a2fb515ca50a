package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"post-sentinel/internal/domain"
	"post-sentinel/internal/journal"
	"post-sentinel/internal/supervise"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace/noop"
)

type queueStub struct{}

func (queueStub) Len() int          { return 3 }
func (queueStub) Dropped() uint64   { return 1 }
func (queueStub) Processed() uint64 { return 42 }

type budgetStub struct{}

func (budgetStub) State() domain.BudgetState { return domain.BudgetState{Date: "2026-04-02", Used: 2} }
func (budgetStub) Limit() int                { return 5 }
func (budgetStub) Remaining() int            { return 3 }

type tasksStub struct {
	healthy bool
}

func (t tasksStub) Snapshot() map[string]supervise.TaskStatus {
	return map[string]supervise.TaskStatus{"bus": {State: supervise.StateRunning}}
}
func (t tasksStub) Healthy() bool { return t.healthy }

type stateStub struct{}

func (stateStub) Snapshot() map[string]json.RawMessage {
	return map[string]json.RawMessage{"truth_social:last_seen_id": json.RawMessage(`"1002"`)}
}

type decisionsStub struct {
	entries []journal.Entry
	err     error
	limit   int
}

func (d *decisionsStub) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	d.limit = limit
	return d.entries, d.err
}

func newTestRouter(h *Handler, apiKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r, apiKey)
	return r
}

func newTestHandler(healthy bool) *Handler {
	tracer := noop.NewTracerProvider().Tracer("handler-test")
	return New(tracer, queueStub{}, budgetStub{}, tasksStub{healthy: healthy})
}

func serve(r *gin.Engine, method, path string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	r := newTestRouter(newTestHandler(true), "")
	w := serve(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	body := w.Body.String()
	if body != "{\"status\":\"healthy\"}\n" && body != "{\"status\":\"healthy\"}" {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestHealthDegraded(t *testing.T) {
	r := newTestRouter(newTestHandler(false), "")
	w := serve(r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestStatus(t *testing.T) {
	h := newTestHandler(true)
	h.started = time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return h.started.Add(90 * time.Second) }
	h.SetStateReader(stateStub{})
	r := newTestRouter(h, "")

	w := serve(r, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body statusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.UptimeSeconds != 90 {
		t.Fatalf("uptime = %d", body.UptimeSeconds)
	}
	if body.Queue != (queueStatus{Depth: 3, Dropped: 1, Processed: 42}) {
		t.Fatalf("queue = %+v", body.Queue)
	}
	if body.Budget != (budgetStatus{Date: "2026-04-02", Used: 2, Limit: 5, Remaining: 3}) {
		t.Fatalf("budget = %+v", body.Budget)
	}
	if body.Tasks["bus"].State != supervise.StateRunning {
		t.Fatalf("tasks = %+v", body.Tasks)
	}
	if string(body.State["truth_social:last_seen_id"]) != `"1002"` {
		t.Fatalf("state = %v", body.State)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	r := newTestRouter(newTestHandler(true), "secret")

	if w := serve(r, http.MethodGet, "/api/status", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: expected 401, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "nope"}); w.Code != http.StatusForbidden {
		t.Fatalf("wrong key: expected 403, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/status", map[string]string{"X-API-Key": "secret"}); w.Code != http.StatusOK {
		t.Fatalf("valid key: expected 200, got %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Fatalf("health must stay open, got %d", w.Code)
	}
}

func TestDecisionsDisabled(t *testing.T) {
	r := newTestRouter(newTestHandler(true), "")
	if w := serve(r, http.MethodGet, "/api/decisions", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestDecisions(t *testing.T) {
	h := newTestHandler(true)
	stub := &decisionsStub{entries: []journal.Entry{{ID: 1, Source: "truth", Tickers: []domain.TickerSignal{}}}}
	h.SetDecisionReader(stub)
	r := newTestRouter(h, "")

	w := serve(r, http.MethodGet, "/api/decisions?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if stub.limit != 5 {
		t.Fatalf("limit = %d", stub.limit)
	}
	var body struct {
		Count     int             `json:"count"`
		Decisions []journal.Entry `json:"decisions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if body.Count != 1 || body.Decisions[0].Source != "truth" {
		t.Fatalf("unexpected payload: %+v", body)
	}

	if w := serve(r, http.MethodGet, "/api/decisions?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: expected 400, got %d", w.Code)
	}

	stub.err = errors.New("db down")
	if w := serve(r, http.MethodGet, "/api/decisions", nil); w.Code != http.StatusBadGateway {
		t.Fatalf("journal error: expected 502, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := newTestRouter(newTestHandler(true), "secret")
	w := serve(r, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
