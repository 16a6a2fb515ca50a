package notify

import (
	"context"
	"errors"
	"fmt"

	"post-sentinel/internal/logger"
	"post-sentinel/internal/retry"

	"github.com/rs/zerolog"
)

// MultiTransport sends every notification to all transports. A send counts as
// delivered once any transport accepted it; mirrors that failed are logged and
// not retried, so a retry never duplicates an alert on a transport that
// already delivered it.
type MultiTransport struct {
	transports []Transport
	log        zerolog.Logger
}

func NewMultiTransport(transports ...Transport) *MultiTransport {
	out := make([]Transport, 0, len(transports))
	for _, t := range transports {
		if t != nil {
			out = append(out, t)
		}
	}
	return &MultiTransport{transports: out, log: logger.WithComponent("notify")}
}

func (m *MultiTransport) Name() string { return "multi" }

func (m *MultiTransport) Len() int { return len(m.transports) }

// Send returns nil when any transport succeeded, a permanent error when every
// transport failed permanently, and a retryable error otherwise.
func (m *MultiTransport) Send(ctx context.Context, n Notification) error {
	if len(m.transports) == 0 {
		return retry.Permanent(errors.New("no notification transport configured"))
	}

	var errs []error
	delivered := 0
	allPermanent := true
	for _, t := range m.transports {
		err := t.Send(ctx, n)
		if err == nil {
			delivered++
			continue
		}
		if !retry.IsPermanent(err) {
			allPermanent = false
		}
		errs = append(errs, fmt.Errorf("%s: %s", t.Name(), err.Error()))
	}

	joined := errors.Join(errs...)
	if delivered > 0 {
		if joined != nil {
			m.log.Warn().Err(joined).Str("title", n.Title).Msg("notification not mirrored to every transport")
		}
		return nil
	}
	if allPermanent {
		return retry.Permanent(joined)
	}
	return joined
}
