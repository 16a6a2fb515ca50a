package domain

import (
	"strings"
	"time"
)

// Priority mirrors the Pushover priority scale.
type Priority int

const (
	PriorityLowest    Priority = -2
	PriorityLow       Priority = -1
	PriorityNormal    Priority = 0
	PriorityHigh      Priority = 1
	PriorityEmergency Priority = 2
)

func (p Priority) IsValid() bool {
	return p >= PriorityLowest && p <= PriorityEmergency
}

// Clamp bounds p to the supported range.
func (p Priority) Clamp() Priority {
	if p.IsValid() {
		return p
	}
	if p < PriorityLowest {
		return PriorityLowest
	}
	if p > PriorityEmergency {
		return PriorityEmergency
	}
	return p
}

// Mode selects how an event is analyzed.
type Mode string

const (
	ModeStandard Mode = ""
	// ModePattern is the tariff-pattern mode: posts are screened for trade-policy
	// relevance and options actions may trigger an emergency alert.
	ModePattern Mode = "pattern"
)

const (
	ActionBuy      = "BUY"
	ActionSell     = "SELL"
	ActionHold     = "HOLD"
	ActionBuyPuts  = "BUY_PUTS"
	ActionBuyCalls = "BUY_CALLS"
)

// IsEmergencyAction reports whether an action forces the top priority tier in
// pattern mode.
func IsEmergencyAction(action string) bool {
	switch strings.ToUpper(strings.TrimSpace(action)) {
	case ActionBuyPuts, ActionBuyCalls:
		return true
	}
	return false
}

// Payload carries the analysis inputs of an Event. Extra is the only untyped
// part and holds mode-specific fields that the pipeline passes through.
type Payload struct {
	Text        string         `json:"text,omitempty"`
	Analyze     bool           `json:"analyze"`
	Mode        Mode           `json:"mode,omitempty"`
	PreScreened bool           `json:"pre_screened,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Event is one unit of work for the bus.
type Event struct {
	Source    string   `json:"source"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	URL       string   `json:"url,omitempty"`
	Priority  Priority `json:"priority"`
	CreatedAt string   `json:"created_at,omitempty"`
	Payload   Payload  `json:"payload"`
}

// ShouldAnalyze reports whether the event carries text that was flagged for analysis.
func (e *Event) ShouldAnalyze() bool {
	return e.Payload.Analyze && strings.TrimSpace(e.Payload.Text) != ""
}

type TickerSignal struct {
	Symbol     string   `json:"symbol"`
	Action     string   `json:"action"`
	Strike     *float64 `json:"strike,omitempty"`
	Expiration string   `json:"expiration,omitempty"`
	Timing     string   `json:"timing,omitempty"`
	Rationale  string   `json:"rationale,omitempty"`
}

type SourceRef struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Decision is the analysis result for one Event.
type Decision struct {
	Analysis    string         `json:"analysis"`
	Sentiment   string         `json:"sentiment"`
	Confidence  float64        `json:"confidence"`
	Tickers     []TickerSignal `json:"tickers"`
	Sources     []SourceRef    `json:"sources"`
	NeedsSearch bool           `json:"needs_search"`
	Priority    *int           `json:"priority,omitempty"`
	Escalated   bool           `json:"escalated,omitempty"`
	Model       string         `json:"model,omitempty"`
}

// HasSignals reports whether the decision suggests at least one trade.
func (d *Decision) HasSignals() bool {
	return d != nil && len(d.Tickers) > 0
}

// HasEmergencyAction reports whether any signal carries an options action.
func (d *Decision) HasEmergencyAction() bool {
	if d == nil {
		return false
	}
	for _, t := range d.Tickers {
		if IsEmergencyAction(t.Action) {
			return true
		}
	}
	return false
}

const budgetDateLayout = "2006-01-02"

// BudgetState is the persisted daily counter of search-enabled calls.
type BudgetState struct {
	Date string `json:"date"`
	Used int    `json:"used"`
}

// UTCDate formats t as the budget window key.
func UTCDate(t time.Time) string {
	return t.UTC().Format(budgetDateLayout)
}

// Post is one item returned by a source connector.
type Post struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	URL       string `json:"url,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// CompareIDs orders source identifiers. Decimal ids (snowflakes) compare
// numerically without overflow; anything else compares lexically.
func CompareIDs(a, b string) int {
	if isDigits(a) && isDigits(b) {
		a = strings.TrimLeft(a, "0")
		b = strings.TrimLeft(b, "0")
		if len(a) != len(b) {
			if len(a) < len(b) {
				return -1
			}
			return 1
		}
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// WatermarkKey is the state key holding the last processed id of a source.
func WatermarkKey(source string) string {
	return source + ":last_seen_id"
}

// BudgetKey is the state key holding the search budget.
const BudgetKey = "search_budget"
