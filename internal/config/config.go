package config

import (
	"os"
	"strconv"
	"strings"

	"post-sentinel/internal/logger"
)

// Monitor names accepted in ENABLED_MONITORS.
const (
	MonitorTruth   = "truth"
	MonitorPattern = "pattern"
	MonitorRSS     = "rss"
)

type Config struct {
	OpenAIAPIKey        string
	Model               string
	ReasoningModel      string
	ScreeningModel      string
	ReasoningFallbacks  []string
	EscalationThreshold float64
	ScreenEnabled       bool
	ScreenThreshold     float64
	EscalationBypass    string
	MaxSearchPerDay     int
	TickerWhitelist     []string

	LocationCountry string
	LocationCity    string
	LocationRegion  string
	LocationTZ      string

	TruthHandle    string
	TruthBaseURL   string
	TruthAccountID string
	RSSFeedURL     string

	EnabledMonitors   []string
	PollSecs          int
	PatternPollSecs   int
	PublishTimeoutSec int
	HeartbeatSecs     int

	BusQueueSize    int
	NotifyOnFailure bool

	PushoverUserKey  string
	PushoverAPIToken string
	TelegramBotToken string
	TelegramChatID   int64

	StateFile   string
	RedisURL    string
	DatabaseURL string
	HTTPAddr    string
	APIKey      string
	LogLevel    string
}

func Load() *Config {
	log := logger.WithComponent("config")

	cfg := &Config{
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
		PushoverUserKey:  strings.TrimSpace(os.Getenv("PUSHOVER_USER_KEY")),
		PushoverAPIToken: strings.TrimSpace(os.Getenv("PUSHOVER_API_TOKEN")),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		RedisURL:         strings.TrimSpace(os.Getenv("REDIS_URL")),
		TruthAccountID:   strings.TrimSpace(os.Getenv("TRUTH_ACCOUNT_ID")),
		RSSFeedURL:       strings.TrimSpace(os.Getenv("RSS_FEED_URL")),
		APIKey:           strings.TrimSpace(os.Getenv("API_KEY")),
		LogLevel:         strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		LocationCountry:  strings.TrimSpace(os.Getenv("LOCATION_COUNTRY")),
		LocationCity:     strings.TrimSpace(os.Getenv("LOCATION_CITY")),
		LocationRegion:   strings.TrimSpace(os.Getenv("LOCATION_REGION")),
		LocationTZ:       strings.TrimSpace(os.Getenv("LOCATION_TZ")),
	}

	if cfg.OpenAIAPIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, analysis requests will fail")
	}
	if cfg.PushoverUserKey == "" || cfg.PushoverAPIToken == "" {
		log.Warn().Msg("PUSHOVER_USER_KEY/PUSHOVER_API_TOKEN not set, Pushover delivery disabled")
	}
	if cfg.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, screening cache disabled")
	}
	if cfg.DatabaseURL == "" {
		log.Info().Msg("DATABASE_URL not set, decision journal disabled")
	}

	cfg.Model = envString("MODEL", "gpt-4o-mini")
	cfg.ReasoningModel = envString("REASONING_MODEL", "gpt-4o")
	cfg.ScreeningModel = envString("SCREENING_MODEL", cfg.Model)
	cfg.ReasoningFallbacks = []string{
		envString("REASONING_FALLBACK_1", "gpt-4o"),
		envString("REASONING_FALLBACK_2", "gpt-4.1-mini"),
		envString("REASONING_FALLBACK_3", "gpt-4o-mini"),
	}

	cfg.EscalationThreshold = envUnitFloat("REASONING_TRIGGER_CONF", 0.50)
	cfg.ScreenThreshold = envUnitFloat("SCREEN_THRESHOLD", 0.60)
	cfg.ScreenEnabled = envBool("SCREEN_ENABLED", false)
	cfg.NotifyOnFailure = envBool("NOTIFY_ON_FAILURE", true)

	cfg.EscalationBypass = strings.ToLower(envString("ESCALATION_BYPASS", "decision_priority"))
	switch cfg.EscalationBypass {
	case "decision_priority", "pattern_mode", "never":
	default:
		log.Warn().Str("value", cfg.EscalationBypass).Msg("unsupported ESCALATION_BYPASS, defaulting to decision_priority")
		cfg.EscalationBypass = "decision_priority"
	}

	cfg.MaxSearchPerDay = 60
	if v := strings.TrimSpace(os.Getenv("MAX_SEARCH_CALLS_PER_DAY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxSearchPerDay = n
		}
	}

	cfg.TickerWhitelist = envList("TICKER_WHITELIST", true)

	cfg.TruthHandle = strings.TrimPrefix(envString("TRUTH_HANDLE", "realDonaldTrump"), "@")
	cfg.TruthBaseURL = strings.TrimRight(envString("TRUTH_BASE_URL", "https://truthsocial.com"), "/")

	cfg.EnabledMonitors = envList("ENABLED_MONITORS", false)
	if len(cfg.EnabledMonitors) == 0 {
		cfg.EnabledMonitors = []string{MonitorTruth}
	}
	known := cfg.EnabledMonitors[:0]
	for _, m := range cfg.EnabledMonitors {
		m = strings.ToLower(m)
		switch m {
		case MonitorTruth, MonitorPattern:
			known = append(known, m)
		case MonitorRSS:
			if cfg.RSSFeedURL == "" {
				log.Warn().Msg("rss monitor enabled without RSS_FEED_URL, skipping")
				continue
			}
			known = append(known, m)
		default:
			log.Warn().Str("monitor", m).Msg("unknown monitor in ENABLED_MONITORS, skipping")
		}
	}
	cfg.EnabledMonitors = known

	cfg.PollSecs = max(30, envPositiveInt("POLL_SECONDS", 90))
	cfg.PatternPollSecs = max(30, envPositiveInt("PATTERN_POLL_SECONDS", cfg.PollSecs))
	cfg.PublishTimeoutSec = envPositiveInt("PUBLISH_TIMEOUT_SEC", 25)
	cfg.BusQueueSize = envPositiveInt("BUS_QUEUE_SIZE", 100)

	// 0 disables the heartbeat.
	cfg.HeartbeatSecs = 600
	if v := strings.TrimSpace(os.Getenv("HEARTBEAT_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.HeartbeatSecs = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("TELEGRAM_CHAT_ID")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.TelegramChatID = n
		} else {
			log.Warn().Str("value", v).Msg("invalid TELEGRAM_CHAT_ID, Telegram notifications disabled")
		}
	}

	cfg.StateFile = envString("STATE_FILE", ".post_sentinel_state.json")
	cfg.HTTPAddr = envString("HTTP_ADDR", ":8080")

	return cfg
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envPositiveInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func envUnitFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envList(key string, upper bool) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if upper {
			part = strings.ToUpper(part)
		}
		out = append(out, part)
	}
	return out
}
