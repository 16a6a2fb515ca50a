package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

const (
	screenMaxOutput     = 150
	heuristicConfidence = 0.5
)

var tradeKeywords = []string{"tariff", "trade war", "trade deal"}

type verdict struct {
	Relevant   bool    `json:"relevant"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
	// Heuristic is set when the keyword fallback produced the verdict.
	Heuristic bool `json:"-"`
}

// ScreenKey is the cache key for a post's screening verdict.
func ScreenKey(text string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(text)))
	return "screen:" + hex.EncodeToString(sum[:])
}

// KeywordVerdict is the screening fallback used when the screening model
// cannot be reached.
func KeywordVerdict(text string) (relevant bool, confidence float64) {
	lower := strings.ToLower(text)
	for _, kw := range tradeKeywords {
		if strings.Contains(lower, kw) {
			return true, heuristicConfidence
		}
	}
	return false, heuristicConfidence
}

func (e *Engine) screen(ctx context.Context, text string) verdict {
	ctx, span := e.tracer.Start(ctx, "analysis.screen")
	defer span.End()

	key := ScreenKey(text)
	if e.cache != nil {
		if raw, ok, err := e.cache.Lookup(ctx, key); err != nil {
			e.log.Warn().Err(err).Msg("screen cache lookup failed")
		} else if ok {
			var v verdict
			if json.Unmarshal([]byte(raw), &v) == nil {
				span.SetAttributes(attribute.Bool("cache_hit", true))
				return v
			}
		}
	}

	zero := 0.0
	resp, err := e.complete(ctx, "screen", Request{
		Model:       e.cfg.ScreeningModel,
		System:      screenSystemPrompt,
		Messages:    []Message{{Role: "user", Content: buildScreenPrompt(text)}},
		MaxOutput:   screenMaxOutput,
		Temperature: &zero,
	})
	if err != nil {
		span.RecordError(err)
		relevant, conf := KeywordVerdict(text)
		e.log.Warn().Err(err).Bool("relevant", relevant).Msg("screening failed, using keyword heuristic")
		return verdict{Relevant: relevant, Confidence: conf, Reasoning: "keyword match", Heuristic: true}
	}

	var v verdict
	if err := DecodeLenient(resp.Text, &v); err != nil {
		relevant, conf := KeywordVerdict(text)
		e.log.Warn().Err(err).Msg("unparsable screening verdict, using keyword heuristic")
		return verdict{Relevant: relevant, Confidence: conf, Reasoning: "keyword match", Heuristic: true}
	}
	v.Confidence = clamp01(v.Confidence)
	span.SetAttributes(attribute.Bool("relevant", v.Relevant), attribute.Float64("confidence", v.Confidence))

	if e.cache != nil {
		if raw, err := json.Marshal(v); err == nil {
			if err := e.cache.Store(ctx, key, string(raw)); err != nil {
				e.log.Warn().Err(err).Msg("screen cache store failed")
			}
		}
	}
	return v
}
