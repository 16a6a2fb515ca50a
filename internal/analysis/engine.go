// Package analysis turns a post into a trade Decision with a two-tier
// reasoning pipeline: an optional relevance screen, a main pass that may use
// web search, a JSON shaping pass and an escalation pass on a stronger model
// when confidence is low.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"post-sentinel/internal/domain"
	"post-sentinel/internal/logger"
	"post-sentinel/internal/metrics"
	"post-sentinel/internal/retry"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	mediaOnlyAnalysis   = "Media-only post (no text). No trade signal."
	mediaOnlyConfidence = 0.4
	notRelevantConf     = 0.4
)

// BypassPolicy decides when a low-confidence decision skips escalation.
type BypassPolicy string

const (
	// BypassOnDecisionPriority skips escalation when the decision itself asks
	// for the top priority tier.
	BypassOnDecisionPriority BypassPolicy = "decision_priority"
	// BypassOnPatternMode skips escalation for pattern-mode decisions that
	// carry an options action.
	BypassOnPatternMode BypassPolicy = "pattern_mode"
	BypassNever         BypassPolicy = "never"
)

// ParseBypassPolicy maps a config string to a policy, defaulting to
// BypassOnDecisionPriority.
func ParseBypassPolicy(s string) BypassPolicy {
	switch BypassPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case BypassOnPatternMode:
		return BypassOnPatternMode
	case BypassNever:
		return BypassNever
	default:
		return BypassOnDecisionPriority
	}
}

// SearchBudget gates web search on the main and escalation passes.
type SearchBudget interface {
	CanUse() bool
	RecordUse()
}

// VerdictCache memoizes screening verdicts by post text.
type VerdictCache interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	Store(ctx context.Context, key, value string) error
}

type Config struct {
	Model               string
	ReasoningModel      string
	ScreeningModel      string
	Fallbacks           []string
	EscalationThreshold float64
	ScreenThreshold     float64
	ScreenEnabled       bool
	Whitelist           []string
	Bypass              BypassPolicy
	MaxOutput           int
	ShapeMaxOutput      int
	// Retry wraps every reasoning call. Zero value means retry.Remote().
	Retry retry.Policy
}

// Input is the post to analyze.
type Input struct {
	Text        string
	URL         string
	CreatedAt   string
	Mode        domain.Mode
	PreScreened bool
}

func (in Input) pattern() bool { return in.Mode == domain.ModePattern }

type Engine struct {
	tracer    trace.Tracer
	reasoner  Reasoner
	budget    SearchBudget
	cache     VerdictCache
	cfg       Config
	whitelist map[string]struct{}
	log       zerolog.Logger
}

func NewEngine(tracer trace.Tracer, reasoner Reasoner, budget SearchBudget, cache VerdictCache, cfg Config) *Engine {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.ReasoningModel == "" {
		cfg.ReasoningModel = cfg.Model
	}
	if cfg.ScreeningModel == "" {
		cfg.ScreeningModel = cfg.Model
	}
	if cfg.Bypass == "" {
		cfg.Bypass = BypassOnDecisionPriority
	}
	if cfg.MaxOutput <= 0 {
		cfg.MaxOutput = 2000
	}
	if cfg.ShapeMaxOutput <= 0 {
		cfg.ShapeMaxOutput = 800
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Remote()
	}

	wl := make(map[string]struct{}, len(cfg.Whitelist))
	for _, sym := range cfg.Whitelist {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym != "" {
			wl[sym] = struct{}{}
		}
	}

	return &Engine{
		tracer:    tracer,
		reasoner:  reasoner,
		budget:    budget,
		cache:     cache,
		cfg:       cfg,
		whitelist: wl,
		log:       logger.WithComponent("analysis"),
	}
}

// Analyze runs the full pipeline for one post. An error is returned only when
// the main pass cannot produce any text.
func (e *Engine) Analyze(ctx context.Context, in Input) (*domain.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "analysis.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("mode", string(in.Mode)),
		attribute.Int("text_len", len(in.Text)),
	)

	if strings.TrimSpace(in.Text) == "" {
		return &domain.Decision{
			Analysis:   mediaOnlyAnalysis,
			Sentiment:  "neutral",
			Confidence: mediaOnlyConfidence,
			Tickers:    []domain.TickerSignal{},
			Sources:    []domain.SourceRef{},
		}, nil
	}

	if (e.cfg.ScreenEnabled || in.pattern()) && !in.PreScreened {
		v := e.screen(ctx, in.Text)
		if !v.Relevant || (!v.Heuristic && v.Confidence < e.cfg.ScreenThreshold) {
			metrics.ScreenVerdicts.WithLabelValues("rejected").Inc()
			span.SetAttributes(attribute.Bool("screened_out", true))
			return notRelevantDecision(v), nil
		}
		metrics.ScreenVerdicts.WithLabelValues("relevant").Inc()
	}

	decision, err := e.runPass(ctx, "main", e.cfg.Model, buildMainPrompt(in), in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("main analysis: %w", err)
	}

	if decision.Confidence >= e.cfg.EscalationThreshold {
		return decision, nil
	}
	if e.bypassed(decision, in) {
		metrics.Escalations.WithLabelValues("bypassed").Inc()
		return decision, nil
	}
	return e.escalate(ctx, decision, in), nil
}

func (e *Engine) escalate(ctx context.Context, original *domain.Decision, in Input) *domain.Decision {
	ctx, span := e.tracer.Start(ctx, "analysis.escalate")
	defer span.End()

	refined, err := e.runPass(ctx, "escalate", e.cfg.ReasoningModel, buildEscalationPrompt(in), in)
	if err != nil {
		span.RecordError(err)
		metrics.Escalations.WithLabelValues("failed").Inc()
		e.log.Warn().Err(err).Str("model", e.cfg.ReasoningModel).Msg("escalation failed, keeping first decision")
		return original
	}
	if refined.Confidence >= original.Confidence {
		refined.Escalated = true
		metrics.Escalations.WithLabelValues("adopted").Inc()
		e.log.Info().
			Float64("from", original.Confidence).
			Float64("to", refined.Confidence).
			Msg("escalation adopted")
		return refined
	}
	metrics.Escalations.WithLabelValues("kept").Inc()
	return original
}

func (e *Engine) bypassed(d *domain.Decision, in Input) bool {
	switch e.cfg.Bypass {
	case BypassNever:
		return false
	case BypassOnPatternMode:
		return in.pattern() && d.HasEmergencyAction()
	default:
		return d.Priority != nil && domain.Priority(*d.Priority) >= domain.PriorityEmergency
	}
}

// runPass does one free-form reasoning call followed by the shaping call and
// the whitelist filter. Both calls use the pass's model.
func (e *Engine) runPass(ctx context.Context, pass, model, prompt string, in Input) (*domain.Decision, error) {
	ctx, span := e.tracer.Start(ctx, "analysis."+pass)
	defer span.End()

	search := e.budget != nil && e.budget.CanUse()
	span.SetAttributes(attribute.String("model", model), attribute.Bool("web_search", search))

	resp, err := e.complete(ctx, pass, Request{
		Model:     model,
		System:    buildSystemPrompt(in.pattern()),
		Messages:  []Message{{Role: "user", Content: prompt}},
		WebSearch: search,
		MaxOutput: e.cfg.MaxOutput,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if resp.UsedSearch && e.budget != nil {
		e.budget.RecordUse()
		metrics.SearchUses.Inc()
	}

	decision := e.shape(ctx, model, resp.Text, in.pattern())
	decision.Tickers = FilterWhitelist(decision.Tickers, e.whitelist)
	decision.Model = resp.Model
	return decision, nil
}

func (e *Engine) shape(ctx context.Context, model, text string, pattern bool) *domain.Decision {
	ctx, span := e.tracer.Start(ctx, "analysis.shape")
	defer span.End()

	zero := 0.0
	resp, err := e.complete(ctx, "shape", Request{
		Model:       model,
		System:      buildShapeSystemPrompt(pattern),
		Messages:    []Message{{Role: "user", Content: buildShapePrompt(text, e.cfg.Whitelist)}},
		MaxOutput:   e.cfg.ShapeMaxOutput,
		Temperature: &zero,
	})
	if err != nil {
		span.RecordError(err)
		e.log.Warn().Err(err).Msg("shaping failed, using free-form analysis")
		return FallbackDecision(text)
	}
	return ParseDecision(resp.Text)
}

// complete calls the reasoner with retries, walking the fallback chain while
// the requested model is reported unavailable.
func (e *Engine) complete(ctx context.Context, pass string, req Request) (*Response, error) {
	policy := e.cfg.Retry
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, ErrModelUnavailable) &&
			!errors.Is(err, context.Canceled) &&
			!errors.Is(err, context.DeadlineExceeded)
	}
	policy.OnRetry = func(err error, wait time.Duration) {
		e.log.Warn().Err(err).Str("pass", pass).Str("model", req.Model).Dur("wait", wait).Msg("reasoning call failed, retrying")
	}

	var firstErr error
	for _, model := range e.modelChain(req.Model) {
		req.Model = model
		resp, err := retry.DoValue(ctx, policy, func(ctx context.Context) (*Response, error) {
			return e.reasoner.Complete(ctx, req)
		})
		if err == nil {
			metrics.ReasonerCalls.WithLabelValues(pass, "ok").Inc()
			if resp.Model == "" {
				resp.Model = model
			}
			return resp, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if !errors.Is(err, ErrModelUnavailable) {
			metrics.ReasonerCalls.WithLabelValues(pass, "error").Inc()
			return nil, err
		}
		metrics.ReasonerCalls.WithLabelValues(pass, "unavailable").Inc()
		e.log.Warn().Str("pass", pass).Str("model", model).Msg("model unavailable, trying fallback")
	}
	return nil, firstErr
}

func (e *Engine) modelChain(primary string) []string {
	seen := map[string]bool{}
	chain := make([]string, 0, len(e.cfg.Fallbacks)+1)
	for _, m := range append([]string{primary}, e.cfg.Fallbacks...) {
		m = strings.TrimSpace(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		chain = append(chain, m)
	}
	return chain
}

func notRelevantDecision(v verdict) *domain.Decision {
	reason := strings.TrimSpace(v.Reasoning)
	if reason == "" {
		reason = "no trade-policy content"
	}
	return &domain.Decision{
		Analysis:   "Not tariff/trade related: " + reason,
		Sentiment:  "neutral",
		Confidence: notRelevantConf,
		Tickers:    []domain.TickerSignal{},
		Sources:    []domain.SourceRef{},
	}
}
