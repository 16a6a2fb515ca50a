// Package supervise keeps long-running tasks alive: a task that returns or
// panics is restarted after an increasing delay, indefinitely.
package supervise

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"post-sentinel/internal/logger"
	"post-sentinel/internal/metrics"
	"post-sentinel/internal/retry"
)

type Task struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// HealthyAfter resets the backoff when a run lasted at least this long.
	HealthyAfter time.Duration
}

// DefaultPolicy restarts after 5s, doubling to 5m.
func DefaultPolicy() Policy {
	return Policy{Initial: 5 * time.Second, Max: 5 * time.Minute, Multiplier: 2, HealthyAfter: 10 * time.Minute}
}

// State is a liveness transition reported to the hook.
type State string

const (
	StateRunning State = "running"
	StateCrashed State = "crashed"
	StateStopped State = "stopped"
)

// Hook observes liveness transitions.
type Hook func(task string, state State, err error)

// Run supervises t until ctx is cancelled. It only returns ctx.Err().
func Run(ctx context.Context, t Task, p Policy, hook Hook) error {
	log := logger.WithComponent("supervise").With().Str("task", t.Name).Logger()
	if p.Initial <= 0 {
		p = DefaultPolicy()
	}
	b := retry.Policy{Initial: p.Initial, Max: p.Max, Multiplier: p.Multiplier}.ExponentialBackOff()

	notify := func(s State, err error) {
		up := 0.0
		if s == StateRunning {
			up = 1
		}
		metrics.TaskUp.WithLabelValues(t.Name).Set(up)
		if hook != nil {
			hook(t.Name, s, err)
		}
	}

	for {
		started := time.Now()
		notify(StateRunning, nil)
		err := runOnce(ctx, t)

		if ctx.Err() != nil {
			notify(StateStopped, nil)
			return ctx.Err()
		}
		if err == nil {
			err = fmt.Errorf("task returned")
		}
		notify(StateCrashed, err)
		metrics.TaskRestarts.WithLabelValues(t.Name).Inc()

		if p.HealthyAfter > 0 && time.Since(started) >= p.HealthyAfter {
			b.Reset()
		}
		wait := b.NextBackOff()
		log.Error().Err(err).Dur("restart_in", wait).Msg("task crashed")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			notify(StateStopped, nil)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func runOnce(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t.Fn(ctx)
}

// Registry records the latest state of every supervised task for the status API.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskStatus
}

type TaskStatus struct {
	State     State     `json:"state"`
	Restarts  int       `json:"restarts"`
	LastError string    `json:"last_error,omitempty"`
	Since     time.Time `json:"since"`
}

func NewRegistry() *Registry {
	return &Registry{tasks: map[string]TaskStatus{}}
}

// Hook returns a Hook that updates the registry.
func (r *Registry) Hook() Hook {
	return func(task string, state State, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		st := r.tasks[task]
		st.State = state
		st.Since = time.Now().UTC()
		if state == StateCrashed {
			st.Restarts++
			if err != nil {
				st.LastError = err.Error()
			}
		}
		r.tasks[task] = st
	}
}

// Snapshot copies the current task states.
func (r *Registry) Snapshot() map[string]TaskStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]TaskStatus, len(r.tasks))
	for k, v := range r.tasks {
		out[k] = v
	}
	return out
}

// Healthy reports whether every known task is running.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.tasks {
		if st.State != StateRunning {
			return false
		}
	}
	return true
}
