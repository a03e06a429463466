package db

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestQueryLogger(t *testing.T) {
	cases := []struct {
		name string
		took time.Duration
		err  error
		want string
	}{
		{name: "fast", took: time.Millisecond, want: "level=DEBUG msg=\"db: query\""},
		{name: "slow", took: time.Second, want: "level=WARN msg=\"db: slow query\""},
		{name: "failed", took: time.Millisecond, err: errors.New("deadlock detected"), want: "deadlock detected"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			ql := NewQueryLogger(newTestLogger(&buf), 100*time.Millisecond)
			base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
			ql.now = func() time.Time { return base }

			ctx := ql.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1\n  FROM stock_levels"})
			ql.now = func() time.Time { return base.Add(tc.took) }
			ql.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1"), Err: tc.err})

			out := buf.String()
			if !strings.Contains(out, tc.want) {
				t.Fatalf("expected %q in %q", tc.want, out)
			}
			if !strings.Contains(out, `sql="SELECT 1 FROM stock_levels"`) {
				t.Fatalf("expected compacted sql in %q", out)
			}
		})
	}
}

func TestQueryLoggerWithoutStart(t *testing.T) {
	var buf bytes.Buffer
	ql := NewQueryLogger(newTestLogger(&buf), time.Second)
	ql.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	if buf.Len() != 0 {
		t.Fatalf("expected no output, got %q", buf.String())
	}
}

func TestCompact(t *testing.T) {
	if got := compact("\n  UPDATE x\n\tSET a = 1  "); got != "UPDATE x SET a = 1" {
		t.Fatalf("unexpected compact result %q", got)
	}
}
