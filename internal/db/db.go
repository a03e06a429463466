package db

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultSlowQuery is the duration above which a statement is logged at warn level.
const DefaultSlowQuery = 200 * time.Millisecond

// Connect opens a pgx connection pool and verifies connectivity with a ping. Statements
// are traced to logger; slow ones and failures are logged at warn level.
func Connect(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.ConnConfig.Tracer = NewQueryLogger(logger, DefaultSlowQuery)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	sql string
	at  time.Time
}

// QueryLogger is a pgx.QueryTracer writing one record per statement.
type QueryLogger struct {
	logger *slog.Logger
	slow   time.Duration
	now    func() time.Time
}

var _ pgx.QueryTracer = (*QueryLogger)(nil)

func NewQueryLogger(logger *slog.Logger, slow time.Duration) *QueryLogger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &QueryLogger{logger: logger, slow: slow, now: time.Now}
}

func (q *QueryLogger) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{sql: data.SQL, at: q.now()})
}

func (q *QueryLogger) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	took := q.now().Sub(start.at)
	switch {
	case data.Err != nil:
		q.logger.WarnContext(ctx, "db: query failed", "sql", compact(start.sql), "took", took, "error", data.Err)
	case q.slow > 0 && took >= q.slow:
		q.logger.WarnContext(ctx, "db: slow query", "sql", compact(start.sql), "took", took, "rows", data.CommandTag.RowsAffected())
	default:
		q.logger.DebugContext(ctx, "db: query", "sql", compact(start.sql), "took", took)
	}
}

// compact folds whitespace so multi-line statements log on one line.
func compact(sql string) string {
	out := make([]byte, 0, len(sql))
	space := false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			space = len(out) > 0
			continue
		}
		if space {
			out = append(out, ' ')
			space = false
		}
		out = append(out, c)
	}
	return string(out)
}
