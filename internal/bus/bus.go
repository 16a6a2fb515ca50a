// Package bus queues events from the monitors and processes them on a single
// worker: analyze, resolve priority, notify, persist the budget.
package bus

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"post-sentinel/internal/analysis"
	"post-sentinel/internal/domain"
	"post-sentinel/internal/logger"
	"post-sentinel/internal/metrics"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultQueueSize       = 100
	defaultAnalysisTimeout = 5 * time.Minute
)

type Analyzer interface {
	Analyze(ctx context.Context, in analysis.Input) (*domain.Decision, error)
}

type Dispatcher interface {
	Deliver(title, message string, priority domain.Priority, url string)
	DeliverSplit(quickSignal, details, url string)
}

// BudgetSource is read after every analysis so the counter can be persisted.
type BudgetSource interface {
	State() domain.BudgetState
}

// StateWriter is the persisted state handle.
type StateWriter interface {
	Set(key string, value any) error
}

// Recorder keeps an audit trail of processed events.
type Recorder interface {
	Record(ctx context.Context, evt domain.Event, decision *domain.Decision) error
}

type Config struct {
	QueueSize       int
	AnalysisTimeout time.Duration
	// NotifyOnFailure sends the event's own message when analysis fails.
	NotifyOnFailure bool
}

type Bus struct {
	tracer     trace.Tracer
	cfg        Config
	queue      chan domain.Event
	analyzer   Analyzer
	dispatcher Dispatcher
	budget     BudgetSource
	state      StateWriter
	recorder   Recorder
	dropped    atomic.Uint64
	processed  atomic.Uint64
	log        zerolog.Logger
}

type Option func(*Bus)

// WithRecorder attaches a decision journal.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

func New(
	tracer trace.Tracer,
	cfg Config,
	analyzer Analyzer,
	dispatcher Dispatcher,
	budget BudgetSource,
	state StateWriter,
	opts ...Option,
) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = defaultAnalysisTimeout
	}
	b := &Bus{
		tracer:     tracer,
		cfg:        cfg,
		queue:      make(chan domain.Event, cfg.QueueSize),
		analyzer:   analyzer,
		dispatcher: dispatcher,
		budget:     budget,
		state:      state,
		log:        logger.WithComponent("bus"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish enqueues evt without blocking. A full queue drops the event and
// returns false.
func (b *Bus) Publish(evt domain.Event) bool {
	select {
	case b.queue <- evt:
		metrics.EventsPublished.WithLabelValues(evt.Source).Inc()
		metrics.QueueDepth.Set(float64(len(b.queue)))
		b.log.Debug().Str("source", evt.Source).Int("priority", int(evt.Priority)).Msg("event queued")
		return true
	default:
		b.dropped.Add(1)
		metrics.EventsDropped.WithLabelValues(evt.Source).Inc()
		b.log.Warn().
			Str("source", evt.Source).
			Int("capacity", cap(b.queue)).
			Msg("queue full, dropping event")
		return false
	}
}

// Len is the number of events waiting.
func (b *Bus) Len() int { return len(b.queue) }

func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

func (b *Bus) Processed() uint64 { return b.processed.Load() }

// Run is the single worker. It blocks until ctx is cancelled.
func (b *Bus) Run(ctx context.Context) error {
	b.log.Info().Int("capacity", cap(b.queue)).Msg("bus worker started")
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Int("pending", len(b.queue)).Msg("bus worker stopped")
			return nil
		case evt := <-b.queue:
			metrics.QueueDepth.Set(float64(len(b.queue)))
			b.process(ctx, evt)
		}
	}
}

func (b *Bus) process(ctx context.Context, evt domain.Event) {
	ctx, span := b.tracer.Start(ctx, "bus.process")
	defer span.End()
	span.SetAttributes(attribute.String("source", evt.Source))

	start := time.Now()
	outcome := "notified"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			b.log.Error().
				Str("source", evt.Source).
				Interface("panic", r).
				Msg("event processing panicked")
		}
		b.processed.Add(1)
		metrics.EventsProcessed.WithLabelValues(evt.Source, outcome).Inc()
		b.log.Info().
			Str("source", evt.Source).
			Int("priority", int(evt.Priority)).
			Str("outcome", outcome).
			Dur("took", time.Since(start)).
			Msg("event finished")
	}()

	var decision *domain.Decision
	if evt.ShouldAnalyze() {
		var err error
		decision, err = b.analyze(ctx, evt)
		b.persistBudget()
		if err != nil {
			span.RecordError(err)
			b.log.Error().Err(err).Str("source", evt.Source).Msg("analysis failed")
			if !b.cfg.NotifyOnFailure {
				outcome = "analysis_failed"
				return
			}
			outcome = "degraded"
			b.dispatcher.Deliver(evt.Title, degradedMessage(evt), evt.Priority, evt.URL)
			b.record(ctx, evt, nil)
			return
		}
		evt.Priority = ResolvePriority(evt, decision)
	}
	span.SetAttributes(attribute.Int("priority", int(evt.Priority)))

	message := evt.Message
	if decision != nil {
		message = urlPrefix(evt.URL) + analysis.Summarize(decision)
	}

	if evt.Payload.Mode == domain.ModePattern && evt.Priority >= domain.PriorityEmergency && decision.HasSignals() {
		outcome = "split"
		b.dispatcher.DeliverSplit(analysis.QuickSignal(decision), message, evt.URL)
	} else {
		b.dispatcher.Deliver(evt.Title, message, evt.Priority, evt.URL)
	}

	b.record(ctx, evt, decision)
}

func (b *Bus) analyze(ctx context.Context, evt domain.Event) (*domain.Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, b.cfg.AnalysisTimeout)
	defer cancel()

	d, err := b.analyzer.Analyze(ctx, analysis.Input{
		Text:        evt.Payload.Text,
		URL:         evt.URL,
		CreatedAt:   evt.CreatedAt,
		Mode:        evt.Payload.Mode,
		PreScreened: evt.Payload.PreScreened,
	})
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, fmt.Errorf("analyzer returned no decision")
	}
	return d, nil
}

func (b *Bus) persistBudget() {
	if b.budget == nil || b.state == nil {
		return
	}
	if err := b.state.Set(domain.BudgetKey, b.budget.State()); err != nil {
		b.log.Warn().Err(err).Msg("budget write-back failed")
	}
}

func (b *Bus) record(ctx context.Context, evt domain.Event, d *domain.Decision) {
	if b.recorder == nil {
		return
	}
	if err := b.recorder.Record(ctx, evt, d); err != nil {
		b.log.Warn().Err(err).Str("source", evt.Source).Msg("journal record failed")
	}
}

// ResolvePriority raises evt's priority from the decision; it never lowers it.
// An explicit decision priority is a floor, otherwise any remaining signal
// floors at high. In pattern mode an options action forces emergency.
func ResolvePriority(evt domain.Event, d *domain.Decision) domain.Priority {
	p := evt.Priority
	if d == nil {
		return p
	}
	if d.Priority != nil {
		p = max(p, domain.Priority(*d.Priority).Clamp())
	} else if d.HasSignals() {
		p = max(p, domain.PriorityHigh)
	}
	if evt.Payload.Mode == domain.ModePattern && d.HasEmergencyAction() {
		p = max(p, domain.PriorityEmergency)
	}
	return p
}

func urlPrefix(url string) string {
	if url == "" {
		return ""
	}
	return url + "\n\n"
}

func degradedMessage(evt domain.Event) string {
	return urlPrefix(evt.URL) + evt.Message + "\n\n(not analyzed)"
}
