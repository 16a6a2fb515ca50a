// Package handler serves the operator status API.
package handler

import (
	"context"
	"encoding/json"
	"time"

	"post-sentinel/internal/domain"
	"post-sentinel/internal/journal"
	"post-sentinel/internal/supervise"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

// QueueReader exposes the event bus counters.
type QueueReader interface {
	Len() int
	Dropped() uint64
	Processed() uint64
}

type BudgetReader interface {
	State() domain.BudgetState
	Limit() int
	Remaining() int
}

// TaskReader exposes supervised task liveness.
type TaskReader interface {
	Snapshot() map[string]supervise.TaskStatus
	Healthy() bool
}

// StateReader exposes the persisted state (watermarks, budget).
type StateReader interface {
	Snapshot() map[string]json.RawMessage
}

// DecisionReader lists journaled decisions.
type DecisionReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

type Handler struct {
	tracer    trace.Tracer
	queue     QueueReader
	budget    BudgetReader
	tasks     TaskReader
	decisions DecisionReader
	state     StateReader
	started   time.Time
	now       func() time.Time
}

func New(tracer trace.Tracer, queue QueueReader, budget BudgetReader, tasks TaskReader) *Handler {
	return &Handler{
		tracer:  tracer,
		queue:   queue,
		budget:  budget,
		tasks:   tasks,
		started: time.Now(),
		now:     time.Now,
	}
}

// SetDecisionReader enables /api/decisions.
func (h *Handler) SetDecisionReader(r DecisionReader) {
	h.decisions = r
}

// SetStateReader adds the persisted state to /api/status.
func (h *Handler) SetStateReader(r StateReader) {
	h.state = r
}

// RegisterRoutes mounts the routes. The /api group requires apiKey when set.
func (h *Handler) RegisterRoutes(r *gin.Engine, apiKey string) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", APIKeyAuth(apiKey))
	api.GET("/status", h.Status)
	api.GET("/decisions", h.Decisions)
}
