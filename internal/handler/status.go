package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"post-sentinel/internal/journal"
	"post-sentinel/internal/supervise"

	"github.com/gin-gonic/gin"
)

type queueStatus struct {
	Depth     int    `json:"depth"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
}

type budgetStatus struct {
	Date      string `json:"date"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

type statusResponse struct {
	UptimeSeconds int64                           `json:"uptime_seconds"`
	Queue         queueStatus                     `json:"queue"`
	Budget        budgetStatus                    `json:"budget"`
	Tasks         map[string]supervise.TaskStatus `json:"tasks"`
	State         map[string]json.RawMessage      `json:"state,omitempty" swaggertype:"object"`
}

type decisionsResponse struct {
	Count     int             `json:"count"`
	Decisions []journal.Entry `json:"decisions"`
}

// Status godoc
// @Summary      Service status
// @Description  Queue counters, search budget, supervised task liveness and persisted state
// @Tags         status
// @Produce      json
// @Success      200  {object}  handler.statusResponse
// @Failure      401  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/status [get]
func (h *Handler) Status(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.status")
	defer span.End()

	resp := statusResponse{
		UptimeSeconds: int64(h.now().Sub(h.started).Seconds()),
		Tasks:         map[string]supervise.TaskStatus{},
	}
	if h.queue != nil {
		resp.Queue = queueStatus{Depth: h.queue.Len(), Dropped: h.queue.Dropped(), Processed: h.queue.Processed()}
	}
	if h.budget != nil {
		st := h.budget.State()
		resp.Budget = budgetStatus{Date: st.Date, Used: st.Used, Limit: h.budget.Limit(), Remaining: h.budget.Remaining()}
	}
	if h.tasks != nil {
		resp.Tasks = h.tasks.Snapshot()
	}
	if h.state != nil {
		resp.State = h.state.Snapshot()
	}
	c.JSON(http.StatusOK, resp)
}

// Decisions godoc
// @Summary      Recent decisions
// @Description  Lists journaled decisions, newest first
// @Tags         decisions
// @Produce      json
// @Param        limit  query  int  false  "Number of decisions"  default(50)
// @Success      200  {object}  handler.decisionsResponse
// @Failure      400  {object}  map[string]string
// @Failure      401  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Failure      503  {object}  map[string]string
// @Security     ApiKeyAuth
// @Router       /api/decisions [get]
func (h *Handler) Decisions(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.decisions")
	defer span.End()

	if h.decisions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "decision journal is disabled"})
		return
	}
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	entries, err := h.decisions.Recent(ctx, limit)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, decisionsResponse{Count: len(entries), Decisions: entries})
}
