package checkout

import (
	"context"
	"io"
	"log/slog"
	"time"
)

const sweepBatch = 100

// Sweeper periodically releases expired checkout locks.
type Sweeper struct {
	o        *Orchestrator
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(o *Orchestrator, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{o: o, interval: interval, logger: logger}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.InfoContext(ctx, "checkout sweeper: started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "checkout sweeper: stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "checkout sweeper: sweep", "error", err)
			}
		}
	}
}

// Sweep compensates and fails every expired non-terminal lock, completing the captured ones
// instead. It returns how many reached a terminal state.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	released := 0
	for {
		locks, err := s.o.deps.Locks.ListExpired(ctx, s.o.now().UTC(), sweepBatch)
		if err != nil {
			return released, err
		}
		batch := 0
		for i := range locks {
			s.o.expire(ctx, &locks[i])
			if locks[i].IsTerminal() {
				batch++
			}
		}
		released += batch
		if len(locks) < sweepBatch || batch == 0 || ctx.Err() != nil {
			break
		}
	}
	if released > 0 {
		s.logger.InfoContext(ctx, "checkout sweeper: expired locks released", "count", released)
	}
	return released, nil
}
