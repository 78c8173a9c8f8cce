package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner runs workers side by side. The first failure cancels the rest.
type Runner struct {
	workers []Worker
}

func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run blocks until every worker has returned and reports the first error,
// prefixed with the failing worker's name.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		name := nameOf(w)
		g.Go(func() error {
			slog.Debug("worker started", "worker", name)
			if err := w.Run(ctx); err != nil {
				slog.Error("worker failed", "worker", name, "error", err)
				return fmt.Errorf("%s: %w", name, err)
			}
			slog.Debug("worker stopped", "worker", name)
			return nil
		})
	}
	return g.Wait()
}

// named is implemented by workers that report a log-friendly name.
type named interface {
	Name() string
}

func nameOf(w Worker) string {
	if n, ok := w.(named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", w)
}
