package analysis

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"

	"post-sentinel/internal/domain"
)

var (
	openFence  = regexp.MustCompile("^```[a-zA-Z]*\\s*")
	closeFence = regexp.MustCompile("\\s*```$")
)

const (
	fallbackConfidence  = 0.3
	fallbackAnalysisLen = 500
)

// StripCodeFences removes a surrounding markdown fence such as ```json ... ```.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = openFence.ReplaceAllString(s, "")
		s = closeFence.ReplaceAllString(s, "")
	}
	return s
}

// DecodeLenient unmarshals a model response into dst. Fences are stripped
// first; if the text still is not JSON the first well-formed object embedded
// in it is used.
func DecodeLenient(raw string, dst any) error {
	txt := StripCodeFences(raw)
	if err := json.Unmarshal([]byte(txt), dst); err == nil {
		return nil
	}
	obj, ok := firstObject(txt)
	if !ok {
		return errors.New("no JSON object in response")
	}
	return json.Unmarshal(obj, dst)
}

func firstObject(s string) (json.RawMessage, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		var raw json.RawMessage
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		if err := dec.Decode(&raw); err == nil {
			return raw, true
		}
	}
	return nil, false
}

type shapedTicker struct {
	Symbol     string `json:"symbol"`
	Action     string `json:"action"`
	Strike     any    `json:"strike"`
	Expiration string `json:"expiration"`
	Timing     string `json:"timing"`
	Rationale  string `json:"rationale"`
}

type shapedDecision struct {
	Analysis    string             `json:"analysis"`
	Sentiment   string             `json:"sentiment"`
	Confidence  any                `json:"confidence"`
	Tickers     []shapedTicker     `json:"tickers"`
	Sources     []domain.SourceRef `json:"sources"`
	NeedsSearch any                `json:"needs_search"`
	Priority    any                `json:"priority"`
}

// ParseDecision turns a shaping response into a Decision. Unparsable output
// yields the neutral fallback decision instead of an error. Numeric fields
// accept JSON numbers or numeric strings; priorities are rounded.
func ParseDecision(raw string) *domain.Decision {
	var shaped shapedDecision
	if err := DecodeLenient(raw, &shaped); err != nil {
		return FallbackDecision(raw)
	}

	confidence, _ := parseNumber(shaped.Confidence)
	d := &domain.Decision{
		Analysis:    strings.TrimSpace(shaped.Analysis),
		Sentiment:   normalizeSentiment(shaped.Sentiment),
		Confidence:  clamp01(confidence),
		Tickers:     make([]domain.TickerSignal, 0, len(shaped.Tickers)),
		Sources:     make([]domain.SourceRef, 0, len(shaped.Sources)),
		NeedsSearch: parseBool(shaped.NeedsSearch),
	}
	if f, ok := parseNumber(shaped.Priority); ok {
		p := int(priorityFromFloat(f))
		d.Priority = &p
	}
	for _, t := range shaped.Tickers {
		sym := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if sym == "" {
			continue
		}
		action := strings.ToUpper(strings.TrimSpace(t.Action))
		if action == "" {
			action = domain.ActionHold
		}
		d.Tickers = append(d.Tickers, domain.TickerSignal{
			Symbol:     sym,
			Action:     action,
			Strike:     parseStrike(t.Strike),
			Expiration: strings.TrimSpace(t.Expiration),
			Timing:     strings.TrimSpace(t.Timing),
			Rationale:  strings.TrimSpace(t.Rationale),
		})
	}
	for _, s := range shaped.Sources {
		if strings.TrimSpace(s.URL) == "" && strings.TrimSpace(s.Title) == "" {
			continue
		}
		d.Sources = append(d.Sources, s)
	}
	return d
}

// FallbackDecision is used when the shaping output cannot be parsed.
func FallbackDecision(raw string) *domain.Decision {
	return &domain.Decision{
		Analysis:   truncateRunes(StripCodeFences(raw), fallbackAnalysisLen),
		Sentiment:  "neutral",
		Confidence: fallbackConfidence,
		Tickers:    []domain.TickerSignal{},
		Sources:    []domain.SourceRef{},
	}
}

func parseStrike(v any) *float64 {
	if f, ok := parseNumber(v); ok {
		return &f
	}
	return nil
}

func parseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		n = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(n), "$"))
		f, err := strconv.ParseFloat(n, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func priorityFromFloat(f float64) domain.Priority {
	f = math.Round(f)
	if f < float64(domain.PriorityLowest) {
		return domain.PriorityLowest
	}
	if f > float64(domain.PriorityEmergency) {
		return domain.PriorityEmergency
	}
	return domain.Priority(f)
}

func parseBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		ok, _ := strconv.ParseBool(strings.TrimSpace(b))
		return ok
	}
	return false
}

func normalizeSentiment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "neutral"
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FilterWhitelist keeps the signals whose symbol is in the whitelist,
// case-insensitively and in order. An empty whitelist keeps everything.
func FilterWhitelist(tickers []domain.TickerSignal, whitelist map[string]struct{}) []domain.TickerSignal {
	if len(whitelist) == 0 {
		return tickers
	}
	out := make([]domain.TickerSignal, 0, len(tickers))
	for _, t := range tickers {
		if _, ok := whitelist[strings.ToUpper(strings.TrimSpace(t.Symbol))]; ok {
			out = append(out, t)
		}
	}
	return out
}
