// Package notify delivers alerts to the operator. Delivery is fire-and-forget:
// failures are retried, logged and dropped, never returned to the caller.
package notify

import (
	"context"
	"strings"
	"unicode"

	"post-sentinel/internal/domain"
)

const (
	MaxTitleLen   = 250
	MaxMessageLen = 1024

	ellipsis = "…"

	// Emergency alerts repeat every RetryInterval seconds until acknowledged
	// or Expire seconds pass. Pushover bounds both to [30, 10800].
	emergencyRetrySeconds  = 30
	emergencyExpireSeconds = 3600
	minRepeatSeconds       = 30
	maxRepeatSeconds       = 10800

	viewPostTitle = "View Full Post"
)

// Notification is one message for a transport.
type Notification struct {
	Title         string
	Message       string
	Priority      domain.Priority
	URL           string
	URLTitle      string
	RetryInterval int // seconds, priority 2 only
	Expire        int // seconds, priority 2 only
}

// Transport sends one notification. Errors wrapped with retry.Permanent are
// not retried.
type Transport interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Build applies the transport caps and the emergency repeat parameters.
func Build(title, message string, priority domain.Priority, url string) Notification {
	n := Notification{
		Title:    Truncate(title, MaxTitleLen),
		Message:  Truncate(message, MaxMessageLen),
		Priority: priority.Clamp(),
		URL:      url,
	}
	if url != "" {
		n.URLTitle = viewPostTitle
	}
	if n.Priority == domain.PriorityEmergency {
		n.RetryInterval = clampSeconds(emergencyRetrySeconds)
		n.Expire = clampSeconds(emergencyExpireSeconds)
	}
	return n
}

func clampSeconds(v int) int {
	if v < minRepeatSeconds {
		return minRepeatSeconds
	}
	if v > maxRepeatSeconds {
		return maxRepeatSeconds
	}
	return v
}

// Truncate cuts s to at most limit runes including the trailing ellipsis.
// It prefers the last sentence end inside the final fifth of the budget,
// then the last space there, then a hard cut.
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	if limit <= 1 {
		return string(r[:limit])
	}

	budget := limit - 1
	windowStart := budget * 4 / 5
	cut := -1
	for i := budget - 1; i >= windowStart; i-- {
		if r[i] == '.' || r[i] == '!' || r[i] == '?' || r[i] == '\n' {
			cut = i + 1
			break
		}
	}
	if cut < 0 {
		for i := budget; i > windowStart; i-- {
			if unicode.IsSpace(r[i]) {
				cut = i
				break
			}
		}
	}
	if cut < 0 {
		cut = budget
	}
	return strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace) + ellipsis
}
