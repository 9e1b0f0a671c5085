package core

// scheduler.go prunes load history in the background. It runs once at
// start and then every interval until ctx is cancelled. A failed prune is
// logged and retried on the next tick.

import (
	"context"
	"log/slog"
	"time"
)

// HistoryPruner is implemented by stores that can delete old history.
type HistoryPruner interface {
	PruneLoads(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartHistoryPruner blocks until ctx is done. A non-positive retention
// disables pruning and returns immediately.
func (s *Service) StartHistoryPruner(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 || interval <= 0 {
		return
	}
	slog.Info("history pruner started", "retention", retention, "interval", interval)

	s.pruneHistory(ctx, time.Now().Add(-retention))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("history pruner stopped")
			return
		case now := <-ticker.C:
			s.pruneHistory(ctx, now.Add(-retention))
		}
	}
}

// pruneHistory removes loads started before cutoff from whichever history
// is in use.
func (s *Service) pruneHistory(ctx context.Context, cutoff time.Time) int64 {
	start := time.Now()
	var (
		n   int64
		err error
	)
	if p, ok := s.store.(HistoryPruner); ok {
		n, err = p.PruneLoads(ctx, cutoff)
	} else if s.store == nil {
		n = s.history.prune(cutoff)
	}
	if err != nil {
		slog.Error("history prune failed", "error", err)
		return 0
	}
	slog.Info("history pruned", "removed", n, "cutoff", cutoff, "duration_ms", time.Since(start).Milliseconds())
	return n
}
