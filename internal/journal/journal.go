// Package journal keeps an optional Postgres audit trail of processed events
// and their decisions.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"post-sentinel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const createDecisionsTable = `
CREATE TABLE IF NOT EXISTS decisions (
    id          BIGSERIAL        PRIMARY KEY,
    source      TEXT             NOT NULL,
    post_id     TEXT             NOT NULL DEFAULT '',
    post_url    TEXT             NOT NULL DEFAULT '',
    priority    INTEGER          NOT NULL,
    analyzed    BOOLEAN          NOT NULL,
    sentiment   TEXT             NOT NULL DEFAULT '',
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    escalated   BOOLEAN          NOT NULL DEFAULT FALSE,
    model       TEXT             NOT NULL DEFAULT '',
    tickers     JSONB            NOT NULL DEFAULT '[]',
    analysis    TEXT             NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ      NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_decisions_recorded_at
    ON decisions (recorded_at DESC);

CREATE INDEX IF NOT EXISTS idx_decisions_source_post
    ON decisions (source, post_id);
`

const (
	defaultRecent = 50
	maxRecent     = 200
)

var openPool = pgxpool.New

// Open connects to Postgres.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := openPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Entry is one journaled event.
type Entry struct {
	ID         int64                 `json:"id"`
	Source     string                `json:"source"`
	PostID     string                `json:"post_id,omitempty"`
	PostURL    string                `json:"post_url,omitempty"`
	Priority   int                   `json:"priority"`
	Analyzed   bool                  `json:"analyzed"`
	Sentiment  string                `json:"sentiment,omitempty"`
	Confidence float64               `json:"confidence"`
	Escalated  bool                  `json:"escalated"`
	Model      string                `json:"model,omitempty"`
	Tickers    []domain.TickerSignal `json:"tickers"`
	Analysis   string                `json:"analysis,omitempty"`
	RecordedAt time.Time             `json:"recorded_at"`
}

type Repository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewRepository(pool PgxPool, tracer trace.Tracer) *Repository {
	return &Repository{pool: pool, tracer: tracer}
}

func (r *Repository) RunMigrations(ctx context.Context) error {
	ctx, span := r.tracer.Start(ctx, "journal.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createDecisionsTable)
	return err
}

// Record stores evt with its final priority and decision. A nil decision
// records an unanalyzed event.
func (r *Repository) Record(ctx context.Context, evt domain.Event, d *domain.Decision) error {
	ctx, span := r.tracer.Start(ctx, "journal.record")
	defer span.End()
	span.SetAttributes(attribute.String("source", evt.Source))

	var (
		sentiment, model, analysis string
		confidence                 float64
		escalated                  bool
		tickers                    = []domain.TickerSignal{}
	)
	if d != nil {
		sentiment, model, analysis = d.Sentiment, d.Model, d.Analysis
		confidence, escalated = d.Confidence, d.Escalated
		if d.Tickers != nil {
			tickers = d.Tickers
		}
	}
	tickersJSON, err := json.Marshal(tickers)
	if err != nil {
		return fmt.Errorf("encode tickers: %w", err)
	}

	_, err = r.pool.Exec(ctx,
		`INSERT INTO decisions
		     (source, post_id, post_url, priority, analyzed, sentiment, confidence, escalated, model, tickers, analysis)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		evt.Source, postID(evt), evt.URL, int(evt.Priority), d != nil,
		sentiment, confidence, escalated, model, string(tickersJSON), analysis,
	)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]Entry, error) {
	ctx, span := r.tracer.Start(ctx, "journal.recent")
	defer span.End()

	if limit <= 0 {
		limit = defaultRecent
	}
	limit = min(limit, maxRecent)
	rows, err := r.pool.Query(ctx,
		`SELECT id, source, post_id, post_url, priority, analyzed, sentiment, confidence,
		        escalated, model, tickers, analysis, recorded_at
		 FROM decisions
		 ORDER BY recorded_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var tickers []byte
		if err := rows.Scan(&e.ID, &e.Source, &e.PostID, &e.PostURL, &e.Priority, &e.Analyzed,
			&e.Sentiment, &e.Confidence, &e.Escalated, &e.Model, &tickers, &e.Analysis, &e.RecordedAt); err != nil {
			return nil, err
		}
		if len(tickers) > 0 {
			if err := json.Unmarshal(tickers, &e.Tickers); err != nil {
				return nil, fmt.Errorf("decode tickers for decision %d: %w", e.ID, err)
			}
		}
		if e.Tickers == nil {
			e.Tickers = []domain.TickerSignal{}
		}
		e.RecordedAt = e.RecordedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func postID(evt domain.Event) string {
	if v, ok := evt.Payload.Extra["post_id"].(string); ok {
		return v
	}
	return ""
}
