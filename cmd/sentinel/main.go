package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "post-sentinel/docs"
	"post-sentinel/internal/analysis"
	"post-sentinel/internal/bot"
	"post-sentinel/internal/budget"
	"post-sentinel/internal/bus"
	"post-sentinel/internal/cache"
	"post-sentinel/internal/config"
	"post-sentinel/internal/domain"
	"post-sentinel/internal/handler"
	"post-sentinel/internal/ingest"
	"post-sentinel/internal/journal"
	"post-sentinel/internal/llm"
	"post-sentinel/internal/logger"
	"post-sentinel/internal/notify"
	"post-sentinel/internal/provider"
	"post-sentinel/internal/state"
	"post-sentinel/internal/supervise"
	"post-sentinel/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 5 * time.Second
	drainTimeout    = 10 * time.Second
)

var (
	loadEnvFunc       = godotenv.Load
	loadConfigFunc    = config.Load
	initTracerFunc    = tracing.InitTracer
	openStateFunc     = state.Open
	newChatClientFunc = llm.NewOpenAIClient
	connectRedisFunc  = cache.Connect
	openJournalFunc   = func(ctx context.Context, dsn string) (journal.PgxPool, func(), error) {
		pool, err := journal.Open(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return pool, pool.Close, nil
	}
	newTelegramBotFunc     = bot.New
	newRouterFunc          = gin.New
	notifyContextFunc      = signal.NotifyContext
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	exitFunc               = os.Exit
)

// @title           Post Sentinel API
// @version         1.0
// @description     Operator status API for the post watcher.

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey  ApiKeyAuth
// @in                          header
// @name                        X-API-Key
func main() {
	_ = loadEnvFunc()

	cfg := loadConfigFunc()
	logger.Configure(logger.Config{Level: cfg.LogLevel, Service: tracing.ServiceName})
	log := logger.WithComponent("main")

	ctx, stop := notifyContextFunc(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("post-sentinel exited with error")
		stop()
		exitFunc(1)
		return
	}
	log.Info().Msg("post-sentinel exiting")
}

// run wires the pipeline and blocks until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.WithComponent("main")

	tp, tracer, err := initTracerFunc(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("error shutting down tracer provider")
		}
	}()

	store := openStateFunc(cfg.StateFile)
	var saved domain.BudgetState
	if _, err := store.Get(domain.BudgetKey, &saved); err != nil {
		log.Warn().Err(err).Msg("stored search budget unreadable, starting fresh")
		saved = domain.BudgetState{}
	}
	tracker := budget.NewTracker(saved, cfg.MaxSearchPerDay, nil)

	var verdicts analysis.VerdictCache
	if cfg.RedisURL != "" {
		client, err := connectRedisFunc(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, screening cache disabled")
		} else {
			defer closeRedis(client)
			verdicts = cache.NewScreenCache(client, 0)
		}
	}

	reasoner := llm.NewClient(tracer, newChatClientFunc(cfg.OpenAIAPIKey), llm.Location{
		Country:  cfg.LocationCountry,
		City:     cfg.LocationCity,
		Region:   cfg.LocationRegion,
		Timezone: cfg.LocationTZ,
	})
	engine := analysis.NewEngine(tracer, reasoner, tracker, verdicts, analysis.Config{
		Model:               cfg.Model,
		ReasoningModel:      cfg.ReasoningModel,
		ScreeningModel:      cfg.ScreeningModel,
		Fallbacks:           cfg.ReasoningFallbacks,
		EscalationThreshold: cfg.EscalationThreshold,
		ScreenThreshold:     cfg.ScreenThreshold,
		ScreenEnabled:       cfg.ScreenEnabled,
		Whitelist:           cfg.TickerWhitelist,
		Bypass:              analysis.ParseBypassPolicy(cfg.EscalationBypass),
	})

	var transports []notify.Transport
	if pushover := notify.NewPushoverTransport(cfg.PushoverAPIToken, cfg.PushoverUserKey); pushover.Configured() {
		transports = append(transports, pushover)
	}
	telegram, err := newTelegramBotFunc(bot.Config{Token: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID}, tracker, nil)
	if err != nil {
		log.Warn().Err(err).Msg("telegram bot disabled")
		telegram = nil
	}
	if telegram != nil {
		transports = append(transports, telegram)
	}
	fanout := notify.NewMultiTransport(transports...)
	if fanout.Len() == 0 {
		log.Warn().Msg("no notification transport configured, alerts will only be logged")
	}
	dispatcher := notify.NewDispatcher(fanout, notify.DispatcherConfig{})

	var busOpts []bus.Option
	var decisions handler.DecisionReader
	if cfg.DatabaseURL != "" {
		repo, closePool, err := openJournal(ctx, tracer, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("decision journal disabled")
		} else {
			defer closePool()
			busOpts = append(busOpts, bus.WithRecorder(repo))
			decisions = repo
		}
	}

	eventBus := bus.New(tracer, bus.Config{
		QueueSize:       cfg.BusQueueSize,
		NotifyOnFailure: cfg.NotifyOnFailure,
	}, engine, dispatcher, tracker, store, busOpts...)
	if telegram != nil {
		telegram.SetQueue(eventBus)
	}

	registry := supervise.NewRegistry()
	tasks := []supervise.Task{{Name: "bus", Fn: eventBus.Run}}
	monitors := buildMonitors(cfg, tracer, eventBus, store)
	for _, m := range monitors {
		tasks = append(tasks, supervise.Task{Name: "monitor:" + m.Name(), Fn: m.Run})
	}
	if telegram != nil {
		tasks = append(tasks, supervise.Task{Name: "telegram", Fn: telegram.Start})
	}

	h := handler.New(tracer, eventBus, tracker, registry)
	h.SetStateReader(store)
	if decisions != nil {
		h.SetDecisionReader(decisions)
	}
	r := newRouterFunc()
	r.Use(gin.Recovery(), otelgin.Middleware(tracing.ServiceName))
	h.RegisterRoutes(r, cfg.APIKey)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	title, message := notify.StartupNotice(notify.StartupInfo{
		Monitors:       monitorLabels(cfg, monitors),
		Model:          cfg.Model,
		ReasoningModel: cfg.ReasoningModel,
		ScreeningModel: cfg.ScreeningModel,
		SearchLimit:    cfg.MaxSearchPerDay,
	})
	dispatcher.Deliver(title, message, domain.PriorityNormal, "")

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			err := supervise.Run(gctx, t, supervise.DefaultPolicy(), registry.Hook())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("status API listening")
		if err := startHTTPServerFunc(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return shutdownHTTPServerFunc(srv, shutdownCtx)
	})

	log.Info().Int("tasks", len(tasks)).Msg("post-sentinel running")
	err = g.Wait()
	drain(dispatcher, drainTimeout)
	return err
}

// buildMonitors creates one monitor per enabled source. The truth and
// pattern monitors share a provider so they share its rate limit.
func buildMonitors(cfg *config.Config, tracer trace.Tracer, pub ingest.Publisher, store ingest.WatermarkStore) []*ingest.Monitor {
	heartbeat := time.Duration(cfg.HeartbeatSecs) * time.Second
	if cfg.HeartbeatSecs == 0 {
		heartbeat = -1
	}
	base := ingest.Config{
		PollInterval:      time.Duration(cfg.PollSecs) * time.Second,
		PublishTimeout:    time.Duration(cfg.PublishTimeoutSec) * time.Second,
		HeartbeatInterval: heartbeat,
	}

	var truth *provider.TruthSocialProvider
	truthSource := func() *provider.TruthSocialProvider {
		if truth == nil {
			truth = provider.NewTruthSocialProvider(tracer, provider.TruthSocialConfig{
				BaseURL:   cfg.TruthBaseURL,
				Handle:    cfg.TruthHandle,
				AccountID: cfg.TruthAccountID,
			})
		}
		return truth
	}

	var out []*ingest.Monitor
	for _, name := range cfg.EnabledMonitors {
		mc := base
		switch name {
		case config.MonitorTruth:
			mc.Name = "truth_social"
			mc.Title = "New post from @" + cfg.TruthHandle
			out = append(out, ingest.NewMonitor(mc, truthSource(), pub, store))
		case config.MonitorPattern:
			mc.Name = "tariff_pattern"
			mc.Title = "Tariff watch: @" + cfg.TruthHandle
			mc.Mode = domain.ModePattern
			mc.SkipEmpty = true
			mc.PollInterval = time.Duration(cfg.PatternPollSecs) * time.Second
			out = append(out, ingest.NewMonitor(mc, truthSource(), pub, store))
		case config.MonitorRSS:
			mc.Name = "rss"
			mc.Title = "New feed item"
			out = append(out, ingest.NewMonitor(mc, provider.NewRSSProvider(tracer, cfg.RSSFeedURL, 0), pub, store))
		}
	}
	return out
}

func monitorLabels(cfg *config.Config, monitors []*ingest.Monitor) []string {
	labels := make([]string, 0, len(monitors))
	for _, m := range monitors {
		switch m.Name() {
		case "truth_social":
			labels = append(labels, "Truth Social (@"+cfg.TruthHandle+")")
		case "tariff_pattern":
			labels = append(labels, "Tariff pattern (@"+cfg.TruthHandle+")")
		default:
			labels = append(labels, m.Name())
		}
	}
	return labels
}

func openJournal(ctx context.Context, tracer trace.Tracer, dsn string) (*journal.Repository, func(), error) {
	pool, closePool, err := openJournalFunc(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	repo := journal.NewRepository(pool, tracer)
	if err := repo.RunMigrations(ctx); err != nil {
		closePool()
		return nil, nil, err
	}
	return repo, closePool, nil
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		log := logger.WithComponent("main")
		log.Warn().Err(err).Msg("error closing redis client")
	}
}

// drain waits for in-flight notifications, up to timeout.
func drain(d *notify.Dispatcher, timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log := logger.WithComponent("main")
		log.Warn().Msg("gave up waiting for in-flight notifications")
	}
}
