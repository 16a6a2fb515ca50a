package analysis

import (
	"strings"
	"testing"

	"post-sentinel/internal/domain"
)

func TestParseDecisionFenced(t *testing.T) {
	plain := `{"analysis":"tariffs up","sentiment":"Bearish","confidence":0.62,"tickers":[{"symbol":"spy","action":"sell","rationale":"risk off"}],"sources":[{"title":"Reuters","url":"https://r.example"}],"needs_search":true}`
	fenced := "```json\n" + plain + "\n```"

	a := ParseDecision(plain)
	b := ParseDecision(fenced)

	if a.Analysis != b.Analysis || a.Confidence != b.Confidence || a.Sentiment != b.Sentiment {
		t.Fatalf("fenced parse differs: %+v vs %+v", a, b)
	}
	if b.Sentiment != "bearish" {
		t.Fatalf("expected lowercased sentiment, got %q", b.Sentiment)
	}
	if len(b.Tickers) != 1 || b.Tickers[0].Symbol != "SPY" || b.Tickers[0].Action != "SELL" {
		t.Fatalf("unexpected tickers: %+v", b.Tickers)
	}
	if len(b.Sources) != 1 || !b.NeedsSearch {
		t.Fatalf("unexpected sources/needs_search: %+v", b)
	}
}

func TestParseDecisionEmbeddedObject(t *testing.T) {
	raw := `Sure! Here you go: {"analysis":"x","confidence":0.7} hope that helps {not json}`
	d := ParseDecision(raw)
	if d.Analysis != "x" || d.Confidence != 0.7 {
		t.Fatalf("expected embedded object, got %+v", d)
	}
}

func TestParseDecisionUnparsable(t *testing.T) {
	raw := "The model rambled " + strings.Repeat("a", 600)
	d := ParseDecision(raw)

	if d.Sentiment != "neutral" || d.Confidence != fallbackConfidence {
		t.Fatalf("unexpected fallback: %+v", d)
	}
	if d.Tickers == nil || len(d.Tickers) != 0 || d.Sources == nil || len(d.Sources) != 0 {
		t.Fatalf("expected empty non-nil slices, got %+v", d)
	}
	if n := len([]rune(d.Analysis)); n != fallbackAnalysisLen {
		t.Fatalf("expected analysis cut to %d runes, got %d", fallbackAnalysisLen, n)
	}
}

func TestParseDecisionNormalizes(t *testing.T) {
	d := ParseDecision(`{"confidence": 3.5, "priority": 9, "tickers":[{"symbol":" qqq ","action":"buy_calls","strike":"$450.5","expiration":"2025-06-20"},{"symbol":"","action":"BUY"},{"symbol":"IWM"}]}`)

	if d.Confidence != 1 {
		t.Fatalf("expected confidence clamped to 1, got %v", d.Confidence)
	}
	if d.Sentiment != "neutral" {
		t.Fatalf("expected neutral default, got %q", d.Sentiment)
	}
	if d.Priority == nil || *d.Priority != 2 {
		t.Fatalf("expected priority clamped to 2, got %v", d.Priority)
	}
	if len(d.Tickers) != 2 {
		t.Fatalf("expected blank symbol dropped, got %+v", d.Tickers)
	}
	q := d.Tickers[0]
	if q.Symbol != "QQQ" || q.Action != domain.ActionBuyCalls || q.Strike == nil || *q.Strike != 450.5 {
		t.Fatalf("unexpected options signal: %+v", q)
	}
	if d.Tickers[1].Action != domain.ActionHold {
		t.Fatalf("expected HOLD default, got %q", d.Tickers[1].Action)
	}
}

func TestParseDecisionAcceptsLooseNumbers(t *testing.T) {
	d := ParseDecision(`{"confidence":0.9,"priority":1.0,"tickers":[{"symbol":"AAPL","action":"BUY"}]}`)
	if d.Confidence != 0.9 || d.Priority == nil || *d.Priority != 1 {
		t.Fatalf("float priority rejected: %+v", d)
	}
	if len(d.Tickers) != 1 || d.Tickers[0].Symbol != "AAPL" {
		t.Fatalf("expected ticker kept, got %+v", d.Tickers)
	}

	d = ParseDecision(`{"confidence":"0.8","priority":"-1","needs_search":"true","tickers":[{"symbol":"TSLA","action":"SELL"}]}`)
	if d.Confidence != 0.8 || d.Priority == nil || *d.Priority != -1 || !d.NeedsSearch {
		t.Fatalf("string numbers rejected: %+v", d)
	}
	if len(d.Tickers) != 1 || d.Tickers[0].Symbol != "TSLA" {
		t.Fatalf("expected ticker kept, got %+v", d.Tickers)
	}

	d = ParseDecision(`{"confidence":"high","priority":1.6,"tickers":[]}`)
	if d.Confidence != 0 || d.Priority == nil || *d.Priority != 2 {
		t.Fatalf("unexpected coercion: %+v", d)
	}
}

func TestFilterWhitelist(t *testing.T) {
	in := []domain.TickerSignal{{Symbol: "AAPL", Action: "BUY"}, {Symbol: "TSLA", Action: "SELL"}, {Symbol: "msft"}}

	got := FilterWhitelist(in, map[string]struct{}{"AAPL": {}, "MSFT": {}})
	if len(got) != 2 || got[0].Symbol != "AAPL" || got[1].Symbol != "msft" {
		t.Fatalf("unexpected filter result: %+v", got)
	}

	got = FilterWhitelist(in[:2], map[string]struct{}{"AAPL": {}})
	if len(got) != 1 || got[0].Symbol != "AAPL" {
		t.Fatalf("expected exactly [AAPL], got %+v", got)
	}

	if got := FilterWhitelist(in, nil); len(got) != 3 {
		t.Fatalf("empty whitelist should keep all, got %d", len(got))
	}
}

func TestStripCodeFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{}\n```": "{}",
		"```\n[1]\n```":    "[1]",
		"  {\"a\":1}  ":    `{"a":1}`,
	}
	for in, want := range cases {
		if got := StripCodeFences(in); got != want {
			t.Fatalf("StripCodeFences(%q) = %q, want %q", in, got, want)
		}
	}
}
