package worker

import (
	"context"
	"log/slog"
	"time"
)

// PruneStore is the persistence interface consumed by CallLogPruner.
type PruneStore interface {
	DeleteCallsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CallLogPruner periodically deletes call records older than the retention
// window.
type CallLogPruner struct {
	store     PruneStore
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewCallLogPruner creates a pruner that runs every interval.
func NewCallLogPruner(store PruneStore, retention, interval time.Duration) *CallLogPruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CallLogPruner{store: store, retention: retention, interval: interval, now: time.Now}
}

func (w *CallLogPruner) Name() string { return "call_log_pruner" }

// Run prunes once at start and then on every tick until ctx is cancelled.
func (w *CallLogPruner) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.prune(ctx)
		}
	}
}

func (w *CallLogPruner) prune(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	cutoff := w.now().UTC().Add(-w.retention)
	n, err := w.store.DeleteCallsBefore(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			slog.LogAttrs(ctx, slog.LevelError, "call log prune failed",
				slog.String("error", err.Error()),
			)
		}
		return
	}
	if n > 0 {
		slog.Info("call log pruned", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
}
