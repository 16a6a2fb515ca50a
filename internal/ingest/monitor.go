// Package ingest runs one polling loop per source and hands new posts to the
// bus as events, persisting a per-source watermark as it goes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"post-sentinel/internal/domain"
	"post-sentinel/internal/logger"
	"post-sentinel/internal/provider"

	"github.com/rs/zerolog"
)

const (
	minPollInterval       = 30 * time.Second
	defaultPollInterval   = 90 * time.Second
	defaultPublishTimeout = 25 * time.Second
	defaultHeartbeat      = 600 * time.Second
	defaultCooldownMin    = 240 * time.Second
	defaultCooldownMax    = 480 * time.Second
	defaultRecoverDelay   = 10 * time.Second
	minJitter             = 5 * time.Second

	mediaOnlyMessage = "Media-only post (no text). No trade signal."
	analyzingMessage = "Analyzing post…"
)

// Source is a connector returning posts newer than sinceID, newest first.
type Source interface {
	Fetch(ctx context.Context, sinceID string) ([]domain.Post, error)
}

type Publisher interface {
	Publish(evt domain.Event) bool
}

// WatermarkStore is the slice of the state store the monitor needs.
type WatermarkStore interface {
	GetString(key string) string
	Set(key string, value any) error
}

type Config struct {
	Name  string
	Title string
	Mode  domain.Mode
	// SkipEmpty drops media-only posts instead of publishing them.
	SkipEmpty         bool
	PollInterval      time.Duration
	PublishTimeout    time.Duration
	HeartbeatInterval time.Duration // negative disables
	CooldownMin       time.Duration
	CooldownMax       time.Duration
	RecoverDelay      time.Duration
}

type Monitor struct {
	cfg    Config
	source Source
	bus    Publisher
	store  WatermarkStore
	log    zerolog.Logger

	last          string
	nextHeartbeat time.Time

	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	randRange func(lo, hi time.Duration) time.Duration
	minPoll   time.Duration
}

func NewMonitor(cfg Config, source Source, bus Publisher, store WatermarkStore) *Monitor {
	if cfg.Name == "" {
		cfg.Name = "truth"
	}
	if cfg.Title == "" {
		cfg.Title = "New post"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollInterval < minPollInterval {
		cfg.PollInterval = minPollInterval
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeat
	}
	if cfg.CooldownMin <= 0 {
		cfg.CooldownMin = defaultCooldownMin
	}
	if cfg.CooldownMax < cfg.CooldownMin {
		cfg.CooldownMax = max(defaultCooldownMax, cfg.CooldownMin)
	}
	if cfg.RecoverDelay <= 0 {
		cfg.RecoverDelay = defaultRecoverDelay
	}
	return &Monitor{
		cfg:       cfg,
		source:    source,
		bus:       bus,
		store:     store,
		log:       logger.WithComponent("ingest").With().Str("source", cfg.Name).Logger(),
		now:       time.Now,
		sleep:     sleepContext,
		randRange: randRange,
		minPoll:   minPollInterval,
	}
}

func (m *Monitor) Name() string { return m.cfg.Name }

// Run polls until ctx is cancelled. Fetch failures never end the loop.
func (m *Monitor) Run(ctx context.Context) error {
	m.last = m.store.GetString(domain.WatermarkKey(m.cfg.Name))
	m.log.Info().
		Str("last_seen", m.last).
		Dur("poll", m.cfg.PollInterval).
		Str("mode", string(m.cfg.Mode)).
		Msg("monitor started")
	if m.cfg.HeartbeatInterval > 0 {
		m.nextHeartbeat = m.now().Add(m.cfg.HeartbeatInterval)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var wait time.Duration
		err := m.poll(ctx)
		switch {
		case err == nil:
			m.heartbeat()
			wait = m.pollDelay()
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, provider.ErrRateLimited):
			wait = m.randRange(m.cfg.CooldownMin, m.cfg.CooldownMax)
			m.log.Warn().Err(err).Dur("cooldown", wait).Msg("rate limited, cooling down")
		default:
			wait = m.cfg.RecoverDelay
			m.log.Error().Err(err).Dur("recover", wait).Msg("poll failed")
		}

		if err := m.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// poll bootstraps when there is no watermark, otherwise publishes every new
// post oldest to newest.
func (m *Monitor) poll(ctx context.Context) error {
	if m.last == "" {
		return m.bootstrap(ctx)
	}

	posts, err := m.source.Fetch(ctx, m.last)
	if err != nil {
		return fmt.Errorf("fetch since %s: %w", m.last, err)
	}
	if len(posts) == 0 {
		m.log.Debug().Str("last_seen", m.last).Msg("no new posts")
		return nil
	}

	m.log.Info().Int("new", len(posts)).Msg("publishing new posts")
	for i := len(posts) - 1; i >= 0; i-- {
		m.publishPost(posts[i])
		m.advance(posts[i].ID)
	}
	return nil
}

func (m *Monitor) bootstrap(ctx context.Context) error {
	posts, err := m.source.Fetch(ctx, "")
	if err != nil {
		return fmt.Errorf("bootstrap fetch: %w", err)
	}
	if len(posts) == 0 {
		m.log.Info().Msg("bootstrap found no posts")
		return nil
	}
	latest := posts[0]
	m.log.Info().Str("id", latest.ID).Msg("bootstrap publishing latest post")
	m.publishPost(latest)
	m.advance(latest.ID)
	return nil
}

// advance moves the watermark forward and persists it. A failed write keeps
// the in-memory watermark.
func (m *Monitor) advance(id string) {
	if id == "" || (m.last != "" && domain.CompareIDs(id, m.last) <= 0) {
		return
	}
	m.last = id
	if err := m.store.Set(domain.WatermarkKey(m.cfg.Name), id); err != nil {
		m.log.Warn().Err(err).Str("last_seen", id).Msg("watermark write failed")
	}
}

func (m *Monitor) publishPost(p domain.Post) {
	text := strings.TrimSpace(p.Content)
	if text == "" && m.cfg.SkipEmpty {
		m.log.Debug().Str("id", p.ID).Msg("skipping media-only post")
		return
	}
	m.log.Info().Str("id", p.ID).Str("preview", preview(text)).Msg("new post")
	m.publishWithTimeout(m.eventFor(p, text))
}

func (m *Monitor) eventFor(p domain.Post, text string) domain.Event {
	evt := domain.Event{
		Source:    m.cfg.Name,
		Title:     m.cfg.Title,
		Message:   mediaOnlyMessage,
		URL:       p.URL,
		Priority:  domain.PriorityNormal,
		CreatedAt: p.CreatedAt,
		Payload: domain.Payload{
			Mode:  m.cfg.Mode,
			Extra: map[string]any{"post_id": p.ID},
		},
	}
	if text != "" {
		evt.Message = analyzingMessage
		evt.Payload.Text = text
		evt.Payload.Analyze = true
	}
	return evt
}

func (m *Monitor) heartbeat() {
	if m.cfg.HeartbeatInterval <= 0 {
		return
	}
	now := m.now()
	if now.Before(m.nextHeartbeat) {
		return
	}
	last := m.last
	if last == "" {
		last = "(none)"
	}
	m.publishWithTimeout(domain.Event{
		Source:   m.cfg.Name,
		Title:    m.cfg.Name + " heartbeat",
		Message:  "Alive. last_seen=" + last,
		Priority: domain.PriorityNormal,
	})
	m.nextHeartbeat = now.Add(m.cfg.HeartbeatInterval)
}

// publishWithTimeout hands evt to the bus and stops waiting after the
// publish timeout. The publish itself is not cancelled.
func (m *Monitor) publishWithTimeout(evt domain.Event) bool {
	done := make(chan bool, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.log.Error().Interface("panic", r).Msg("publish panicked")
				done <- false
			}
		}()
		done <- m.bus.Publish(evt)
	}()

	timer := time.NewTimer(m.cfg.PublishTimeout)
	defer timer.Stop()
	select {
	case ok := <-done:
		if !ok {
			m.log.Warn().Str("title", evt.Title).Msg("event not accepted by bus")
		}
		return ok
	case <-timer.C:
		m.log.Warn().Dur("timeout", m.cfg.PublishTimeout).Msg("publish timed out, continuing")
		return false
	}
}

// pollDelay is the poll interval with ±max(5s, interval/8) of jitter,
// never below the minimum interval.
func (m *Monitor) pollDelay() time.Duration {
	spread := max(minJitter, m.cfg.PollInterval/8)
	d := m.cfg.PollInterval + m.randRange(-spread, spread)
	return max(d, m.minPoll)
}

func preview(text string) string {
	if text == "" {
		return "(media-only)"
	}
	text = strings.ReplaceAll(text, "\n", " ")
	r := []rune(text)
	if len(r) > 120 {
		return string(r[:117]) + "…"
	}
	return text
}

func randRange(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
