package notify

import (
	"context"
	"sync"
	"time"

	"post-sentinel/internal/domain"
	"post-sentinel/internal/logger"
	"post-sentinel/internal/metrics"
	"post-sentinel/internal/retry"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultSplitDelay  = 2 * time.Second
	defaultSendTimeout = 2 * time.Minute

	emergencyTitle = "🚨 Pattern Alert"
	detailsTitle   = "Pattern Analysis - Details"
)

type DispatcherConfig struct {
	// RatePerSecond paces sends across all goroutines. Zero means 2/s.
	RatePerSecond float64
	Burst         int
	SplitDelay    time.Duration
	SendTimeout   time.Duration
	// Retry defaults to retry.Notification().
	Retry retry.Policy
}

// Dispatcher fans deliveries out to short-lived goroutines.
type Dispatcher struct {
	transport Transport
	limiter   *rate.Limiter
	cfg       DispatcherConfig
	wg        sync.WaitGroup
	log       zerolog.Logger
}

func NewDispatcher(transport Transport, cfg DispatcherConfig) *Dispatcher {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.SplitDelay <= 0 {
		cfg.SplitDelay = defaultSplitDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.Notification()
	}
	return &Dispatcher{
		transport: transport,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		cfg:       cfg,
		log:       logger.WithComponent("notify"),
	}
}

// Deliver sends one notification in the background.
func (d *Dispatcher) Deliver(title, message string, priority domain.Priority, url string) {
	n := Build(title, message, priority, url)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(n)
	}()
}

// DeliverSplit sends the compact signal at emergency priority, then after a
// fixed delay the full details at normal priority. Both run on one goroutine
// so the details never arrive first.
func (d *Dispatcher) DeliverSplit(quickSignal, details, url string) {
	quick := Build(emergencyTitle, quickSignal, domain.PriorityEmergency, url)
	full := Build(detailsTitle, details, domain.PriorityNormal, url)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.send(quick)
		time.Sleep(d.cfg.SplitDelay)
		d.send(full)
	}()
}

// Wait blocks until every in-flight delivery finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) send(n Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	policy := d.cfg.Retry
	policy.OnRetry = func(err error, wait time.Duration) {
		d.log.Warn().Err(err).Str("transport", d.transport.Name()).Dur("wait", wait).Msg("notification failed, retrying")
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		if err := d.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		return d.transport.Send(ctx, n)
	})
	if err != nil {
		metrics.Notifications.WithLabelValues("failed").Inc()
		d.log.Error().Err(err).
			Str("title", n.Title).
			Int("priority", int(n.Priority)).
			Msg("notification dropped")
		return
	}
	metrics.Notifications.WithLabelValues("sent").Inc()
	d.log.Debug().Str("title", n.Title).Int("priority", int(n.Priority)).Msg("notification sent")
}
