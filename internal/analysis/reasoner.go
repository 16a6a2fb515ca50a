package analysis

import (
	"context"
	"errors"
)

// ErrModelUnavailable marks a request whose model id was rejected by the
// reasoning service. It triggers the fallback chain.
var ErrModelUnavailable = errors.New("model unavailable")

// Reasoner is the opaque reasoning capability: prompt in, text out.
type Reasoner interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

type Message struct {
	Role    string
	Content string
}

type Request struct {
	Model       string
	System      string
	Messages    []Message
	WebSearch   bool
	MaxOutput   int
	Temperature *float64
}

type Response struct {
	Text        string
	UsedSearch  bool
	Model       string
	TotalTokens int64
}
