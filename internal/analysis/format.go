package analysis

import (
	"fmt"
	"strconv"
	"strings"

	"post-sentinel/internal/domain"
)

const (
	maxSummarySources = 3
	quickSignalEmpty  = "Signal generated - check details notification"
)

// Summarize renders a Decision as a notification body.
func Summarize(d *domain.Decision) string {
	if d == nil {
		return ""
	}
	parts := []string{
		fmt.Sprintf("Sentiment: %s (conf %s)", d.Sentiment, formatFloat(d.Confidence)),
		strings.TrimSpace(d.Analysis),
	}
	if len(d.Tickers) > 0 {
		parts = append(parts, "\nSignals:")
		for _, t := range d.Tickers {
			line := fmt.Sprintf("- %s: %s", t.Symbol, t.Action)
			if t.Rationale != "" {
				line += " - " + t.Rationale
			}
			parts = append(parts, line)
		}
	} else {
		parts = append(parts, "\nNo trade suggested.")
	}
	if len(d.Sources) > 0 {
		parts = append(parts, "\nSources:")
		for i, s := range d.Sources {
			if i == maxSummarySources {
				break
			}
			title := s.Title
			if title == "" {
				title = "source"
			}
			parts = append(parts, fmt.Sprintf("* %s - %s", title, s.URL))
		}
	}
	if d.Escalated {
		parts = append(parts, "\n(Used reasoning model for final decision)")
	}

	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// QuickSignal renders one compact line per signal, e.g. "SPY: BUY_PUTS @ $450 (2025-05-16)".
func QuickSignal(d *domain.Decision) string {
	if !d.HasSignals() {
		return quickSignalEmpty
	}
	lines := make([]string, 0, len(d.Tickers))
	for _, t := range d.Tickers {
		line := t.Symbol + ": " + t.Action
		if t.Strike != nil && *t.Strike != 0 {
			line += " @ $" + formatFloat(*t.Strike)
		}
		if t.Expiration != "" {
			line += " (" + t.Expiration + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
