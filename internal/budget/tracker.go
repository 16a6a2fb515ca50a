// Package budget gates search-enabled model calls with a per-UTC-day counter.
package budget

import (
	"sync"
	"time"

	"post-sentinel/internal/domain"
)

// Tracker counts search-enabled calls for the current UTC day. The day rolls
// over lazily on the next CanUse or RecordUse after midnight UTC. Tracker
// never persists; the owner writes State back to the store.
type Tracker struct {
	mu    sync.Mutex
	state domain.BudgetState
	limit int
	now   func() time.Time
}

func NewTracker(initial domain.BudgetState, limit int, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	if limit < 0 {
		limit = 0
	}
	return &Tracker{state: initial, limit: limit, now: now}
}

func (t *Tracker) rollLocked() {
	today := domain.UTCDate(t.now())
	if t.state.Date != today {
		t.state.Date = today
		t.state.Used = 0
	}
}

// CanUse reports whether another search-enabled call fits today's budget.
func (t *Tracker) CanUse() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.state.Used < t.limit
}

// RecordUse counts one search-enabled call.
func (t *Tracker) RecordUse() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	t.state.Used++
}

// State returns a copy of the counter for write-back.
func (t *Tracker) State() domain.BudgetState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) Limit() int { return t.limit }

// Remaining is the number of calls left in the stored window. It does not roll the date.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r := t.limit - t.state.Used; r > 0 {
		return r
	}
	return 0
}
