package journal

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"post-sentinel/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type execCall struct {
	sql  string
	args []any
}

type stubPool struct {
	execs    []execCall
	execErr  error
	rows     pgx.Rows
	queryErr error
	queries  []execCall
}

func (p *stubPool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), p.execErr
}

func (p *stubPool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.queries = append(p.queries, execCall{sql: sql, args: args})
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return p.rows, nil
}

// stubRows yields fixed rows; each row is a slice of values matching the
// scan destinations in order.
type stubRows struct {
	data   [][]any
	idx    int
	closed bool
}

func (r *stubRows) Close()                                       { r.closed = true }
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.data[r.idx-1], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	if r.idx >= len(r.data) {
		return false
	}
	r.idx++
	return true
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	if len(row) != len(dest) {
		return errors.New("column count mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = row[i].(int64)
		case *int:
			*p = row[i].(int)
		case *string:
			*p = row[i].(string)
		case *bool:
			*p = row[i].(bool)
		case *float64:
			*p = row[i].(float64)
		case *[]byte:
			*p = row[i].([]byte)
		case *time.Time:
			*p = row[i].(time.Time)
		default:
			return errors.New("unsupported scan destination")
		}
	}
	return nil
}

func newRepo(pool *stubPool) *Repository {
	return NewRepository(pool, noop.NewTracerProvider().Tracer("test"))
}

func TestRunMigrations(t *testing.T) {
	pool := &stubPool{}
	require.NoError(t, newRepo(pool).RunMigrations(context.Background()))
	require.Len(t, pool.execs, 1)
	assert.Contains(t, pool.execs[0].sql, "CREATE TABLE IF NOT EXISTS decisions")
}

func TestRecordDecision(t *testing.T) {
	pool := &stubPool{}
	strike := 450.0
	evt := domain.Event{
		Source:   "truth:realDonaldTrump",
		URL:      "https://truthsocial.com/@realDonaldTrump/1",
		Priority: domain.PriorityEmergency,
		Payload:  domain.Payload{Extra: map[string]any{"post_id": "1"}},
	}
	d := &domain.Decision{
		Analysis:   "tariffs up",
		Sentiment:  "bearish",
		Confidence: 0.8,
		Escalated:  true,
		Model:      "o3",
		Tickers:    []domain.TickerSignal{{Symbol: "SPY", Action: "BUY_PUTS", Strike: &strike}},
	}

	require.NoError(t, newRepo(pool).Record(context.Background(), evt, d))
	require.Len(t, pool.execs, 1)
	args := pool.execs[0].args
	require.Len(t, args, 11)
	assert.Equal(t, "truth:realDonaldTrump", args[0])
	assert.Equal(t, "1", args[1])
	assert.Equal(t, 2, args[3])
	assert.Equal(t, true, args[4])
	assert.Equal(t, "bearish", args[5])
	assert.Equal(t, 0.8, args[6])
	assert.Equal(t, true, args[7])
	assert.True(t, strings.Contains(args[9].(string), `"symbol":"SPY"`))
}

func TestRecordUnanalyzedEvent(t *testing.T) {
	pool := &stubPool{}
	evt := domain.Event{Source: "heartbeat", Priority: domain.PriorityLow}

	require.NoError(t, newRepo(pool).Record(context.Background(), evt, nil))
	args := pool.execs[0].args
	assert.Equal(t, "", args[1])
	assert.Equal(t, -1, args[3])
	assert.Equal(t, false, args[4])
	assert.Equal(t, "[]", args[9])
}

func TestRecordWrapsExecError(t *testing.T) {
	pool := &stubPool{execErr: errors.New("connection reset")}
	err := newRepo(pool).Record(context.Background(), domain.Event{Source: "x"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert decision")
}

func TestRecentDecodesRows(t *testing.T) {
	at := time.Date(2026, 4, 2, 20, 0, 0, 0, time.UTC)
	rows := &stubRows{data: [][]any{
		{int64(7), "truth:a", "99", "https://x/99", 2, true, "bearish", 0.7, false, "gpt-4o",
			[]byte(`[{"symbol":"SPY","action":"BUY_PUTS","strike":450}]`), "analysis", at},
		{int64(6), "heartbeat", "", "", -1, false, "", 0.0, false, "", []byte(`[]`), "", at.Add(-time.Hour)},
	}}
	pool := &stubPool{rows: rows}

	entries, err := newRepo(pool).Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, rows.closed)
	assert.Equal(t, []any{10}, pool.queries[0].args)

	assert.Equal(t, int64(7), entries[0].ID)
	require.Len(t, entries[0].Tickers, 1)
	assert.Equal(t, "SPY", entries[0].Tickers[0].Symbol)
	require.NotNil(t, entries[0].Tickers[0].Strike)
	assert.Equal(t, 450.0, *entries[0].Tickers[0].Strike)
	assert.Empty(t, entries[1].Tickers)
	assert.NotNil(t, entries[1].Tickers)
}

func TestRecentClampsLimit(t *testing.T) {
	pool := &stubPool{rows: &stubRows{}}
	_, err := newRepo(pool).Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, []any{50}, pool.queries[0].args)

	_, err = newRepo(pool).Recent(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, []any{200}, pool.queries[1].args)
}

func TestRecentQueryError(t *testing.T) {
	pool := &stubPool{queryErr: errors.New("boom")}
	_, err := newRepo(pool).Recent(context.Background(), 5)
	require.Error(t, err)
}

func TestOpenWrapsConnectError(t *testing.T) {
	orig := openPool
	defer func() { openPool = orig }()
	openPool = func(context.Context, string) (*pgxpool.Pool, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	_, err := Open(context.Background(), "postgres://nowhere")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to postgres")
}
