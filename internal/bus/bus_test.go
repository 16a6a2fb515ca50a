package bus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"post-sentinel/internal/analysis"
	"post-sentinel/internal/domain"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubAnalyzer struct {
	mu       sync.Mutex
	inputs   []analysis.Input
	decision *domain.Decision
	err      error
	panicMsg string
}

func (s *stubAnalyzer) Analyze(_ context.Context, in analysis.Input) (*domain.Decision, error) {
	s.mu.Lock()
	s.inputs = append(s.inputs, in)
	s.mu.Unlock()
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.decision, s.err
}

func (s *stubAnalyzer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

type delivery struct {
	title, message, url string
	priority            domain.Priority
	split               bool
}

type stubDispatcher struct {
	mu  sync.Mutex
	out []delivery
}

func (s *stubDispatcher) Deliver(title, message string, priority domain.Priority, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, delivery{title: title, message: message, priority: priority, url: url})
}

func (s *stubDispatcher) DeliverSplit(quick, details, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, delivery{title: quick, message: details, priority: domain.PriorityEmergency, url: url, split: true})
}

func (s *stubDispatcher) deliveries() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.out...)
}

type stubBudget struct{ state domain.BudgetState }

func (s stubBudget) State() domain.BudgetState { return s.state }

type stubState struct {
	mu   sync.Mutex
	sets map[string]any
	err  error
}

func (s *stubState) Set(key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sets == nil {
		s.sets = map[string]any{}
	}
	s.sets[key] = value
	return s.err
}

func (s *stubState) get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.sets[key]
	return v, ok
}

type stubRecorder struct {
	mu      sync.Mutex
	records []domain.Event
}

func (s *stubRecorder) Record(_ context.Context, evt domain.Event, _ *domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, evt)
	return nil
}

func (s *stubRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func newTestBus(a Analyzer, d Dispatcher, st StateWriter, cfg Config, opts ...Option) *Bus {
	return New(trace.NewNoopTracerProvider().Tracer("test"), cfg, a, d,
		stubBudget{state: domain.BudgetState{Date: "2026-01-02", Used: 3}}, st, opts...)
}

func runBus(t *testing.T, b *Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func analyzeEvent(text string) domain.Event {
	return domain.Event{
		Source:   "truth",
		Title:    "New post",
		Message:  "raw text",
		URL:      "https://truth/1",
		Priority: domain.PriorityNormal,
		Payload:  domain.Payload{Text: text, Analyze: true},
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	b := newTestBus(&stubAnalyzer{}, &stubDispatcher{}, &stubState{}, Config{})

	for i := 0; i < DefaultQueueSize; i++ {
		require.True(t, b.Publish(domain.Event{Source: "truth"}))
	}
	require.NotPanics(t, func() {
		require.False(t, b.Publish(domain.Event{Source: "truth"}))
	})
	require.Equal(t, DefaultQueueSize, b.Len())
	require.EqualValues(t, 1, b.Dropped())
}

func TestProcessAnalyzesAndNotifies(t *testing.T) {
	a := &stubAnalyzer{decision: &domain.Decision{
		Analysis: "tariffs", Sentiment: "bearish", Confidence: 0.8,
		Tickers: []domain.TickerSignal{{Symbol: "SPY", Action: "SELL"}},
	}}
	d := &stubDispatcher{}
	st := &stubState{}
	rec := &stubRecorder{}
	b := newTestBus(a, d, st, Config{}, WithRecorder(rec))
	runBus(t, b)

	require.True(t, b.Publish(analyzeEvent("new tariffs")))
	eventually(t, func() bool { return len(d.deliveries()) == 1 && rec.count() == 1 })

	got := d.deliveries()[0]
	require.Equal(t, "New post", got.title)
	require.Equal(t, domain.PriorityHigh, got.priority)
	require.Contains(t, got.message, "https://truth/1\n\nSentiment: bearish")
	require.Contains(t, got.message, "- SPY: SELL")

	v, ok := st.get(domain.BudgetKey)
	require.True(t, ok)
	require.Equal(t, domain.BudgetState{Date: "2026-01-02", Used: 3}, v)

	a.mu.Lock()
	require.Equal(t, "new tariffs", a.inputs[0].Text)
	require.Equal(t, "https://truth/1", a.inputs[0].URL)
	a.mu.Unlock()
}

func TestProcessSkipsAnalysisWhenNotFlagged(t *testing.T) {
	a := &stubAnalyzer{}
	d := &stubDispatcher{}
	st := &stubState{}
	b := newTestBus(a, d, st, Config{})
	runBus(t, b)

	b.Publish(domain.Event{Source: "truth", Title: "heartbeat", Message: "alive", Payload: domain.Payload{Text: "x", Analyze: false}})
	eventually(t, func() bool { return len(d.deliveries()) == 1 })

	require.Equal(t, 0, a.calls())
	require.Equal(t, "alive", d.deliveries()[0].message)
	_, ok := st.get(domain.BudgetKey)
	require.False(t, ok, "budget must only be written after analysis")
}

func TestProcessPatternSplit(t *testing.T) {
	strike := 450.0
	a := &stubAnalyzer{decision: &domain.Decision{
		Sentiment: "bearish", Confidence: 0.9,
		Tickers: []domain.TickerSignal{{Symbol: "SPY", Action: domain.ActionBuyPuts, Strike: &strike}},
	}}
	d := &stubDispatcher{}
	b := newTestBus(a, d, &stubState{}, Config{})
	runBus(t, b)

	evt := analyzeEvent("tariffs on everything")
	evt.Payload.Mode = domain.ModePattern
	b.Publish(evt)
	eventually(t, func() bool { return len(d.deliveries()) == 1 })

	got := d.deliveries()[0]
	require.True(t, got.split)
	require.Equal(t, "SPY: BUY_PUTS @ $450", got.title)
	require.Contains(t, got.message, "Sentiment: bearish")
}

func TestProcessAnalysisFailureDegraded(t *testing.T) {
	a := &stubAnalyzer{err: errors.New("all models down")}
	d := &stubDispatcher{}
	st := &stubState{}
	b := newTestBus(a, d, st, Config{NotifyOnFailure: true})
	runBus(t, b)

	b.Publish(analyzeEvent("hello"))
	eventually(t, func() bool { return len(d.deliveries()) == 1 })

	got := d.deliveries()[0]
	require.Contains(t, got.message, "raw text")
	require.Contains(t, got.message, "(not analyzed)")
	require.Equal(t, domain.PriorityNormal, got.priority)
	_, ok := st.get(domain.BudgetKey)
	require.True(t, ok)
}

func TestProcessAnalysisFailureSilent(t *testing.T) {
	a := &stubAnalyzer{err: errors.New("down")}
	d := &stubDispatcher{}
	b := newTestBus(a, d, &stubState{}, Config{NotifyOnFailure: false})
	runBus(t, b)

	b.Publish(analyzeEvent("one"))
	eventually(t, func() bool { return b.Processed() == 1 })
	require.Empty(t, d.deliveries())
}

func TestProcessRecoversFromPanic(t *testing.T) {
	a := &stubAnalyzer{panicMsg: "boom"}
	d := &stubDispatcher{}
	b := newTestBus(a, d, &stubState{}, Config{})
	runBus(t, b)

	b.Publish(analyzeEvent("first"))
	eventually(t, func() bool { return b.Processed() == 1 })

	a.mu.Lock()
	a.panicMsg = ""
	a.decision = &domain.Decision{Sentiment: "neutral"}
	a.mu.Unlock()

	b.Publish(analyzeEvent("second"))
	eventually(t, func() bool { return len(d.deliveries()) == 1 })
	require.Equal(t, 2, a.calls())
}

func TestProcessPersistFailureTolerated(t *testing.T) {
	a := &stubAnalyzer{decision: &domain.Decision{Sentiment: "neutral"}}
	d := &stubDispatcher{}
	b := newTestBus(a, d, &stubState{err: errors.New("disk full")}, Config{})
	runBus(t, b)

	b.Publish(analyzeEvent("x"))
	eventually(t, func() bool { return len(d.deliveries()) == 1 })
}

func TestResolvePriority(t *testing.T) {
	two, neg := 2, -1
	signal := []domain.TickerSignal{{Symbol: "AAPL", Action: "BUY"}}
	puts := []domain.TickerSignal{{Symbol: "SPY", Action: domain.ActionBuyPuts}}

	tests := []struct {
		name     string
		start    domain.Priority
		mode     domain.Mode
		decision *domain.Decision
		want     domain.Priority
	}{
		{name: "no decision", start: 0, want: 0},
		{name: "signals floor at high", start: 0, decision: &domain.Decision{Tickers: signal}, want: 1},
		{name: "filtered to nothing is not a signal", start: 0, decision: &domain.Decision{Tickers: []domain.TickerSignal{}}, want: 0},
		{name: "explicit priority floor", start: 0, decision: &domain.Decision{Priority: &two}, want: 2},
		{name: "explicit lower never lowers", start: 1, decision: &domain.Decision{Priority: &neg, Tickers: signal}, want: 1},
		{name: "explicit priority wins over signal floor", start: -1, decision: &domain.Decision{Priority: &neg, Tickers: signal}, want: -1},
		{name: "pattern options force emergency", start: 0, mode: domain.ModePattern, decision: &domain.Decision{Tickers: puts}, want: 2},
		{name: "options outside pattern mode", start: 0, decision: &domain.Decision{Tickers: puts}, want: 1},
		{name: "already emergency", start: 2, decision: &domain.Decision{}, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt := domain.Event{Priority: tt.start, Payload: domain.Payload{Mode: tt.mode}}
			got := ResolvePriority(evt, tt.decision)
			require.Equal(t, tt.want, got)
			require.GreaterOrEqual(t, got, tt.start)
		})
	}
}
