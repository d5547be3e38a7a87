package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Runner is a long-running background worker. Run blocks until the context
// is cancelled or the worker fails.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a plain function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

type namedWorker struct {
	name   string
	runner Runner
}

// Orchestrator supervises a set of background workers. All workers share a
// context: the first failure cancels the rest, and a clean shutdown after
// cancellation is not treated as an error.
type Orchestrator struct {
	logger  *slog.Logger
	workers []namedWorker
}

// NewOrchestrator creates an empty orchestrator.
func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	return &Orchestrator{logger: logger.With(slog.String("component", "orchestrator"))}
}

// Add registers a worker under a name used in logs and failure messages.
// A nil runner is skipped, so optional workers can be passed through
// unconditionally.
func (o *Orchestrator) Add(name string, r Runner) {
	if r == nil {
		return
	}
	o.workers = append(o.workers, namedWorker{name: name, runner: r})
}

// AddFunc registers a plain function as a worker.
func (o *Orchestrator) AddFunc(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	o.Add(name, RunnerFunc(fn))
}

// Len reports how many workers are registered.
func (o *Orchestrator) Len() int { return len(o.workers) }

// Run starts every registered worker and blocks until they all stop. It
// returns nil when the shared context is cancelled and all workers exit
// cleanly, or the first worker failure otherwise.
func (o *Orchestrator) Run(ctx context.Context) error {
	if len(o.workers) == 0 {
		o.logger.InfoContext(ctx, "no workers registered")
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, w := range o.workers {
		o.logger.InfoContext(ctx, "starting worker", slog.String("worker", w.name))
		g.Go(o.wrap(ctx, w))
	}
	return g.Wait()
}

// wrap converts a worker exit into an errgroup result. Errors reported
// during shutdown are swallowed so cancellation stays clean.
func (o *Orchestrator) wrap(ctx context.Context, w namedWorker) func() error {
	return func() error {
		err := w.runner.Run(ctx)
		if ctx.Err() != nil {
			o.logger.Info("worker stopped", slog.String("worker", w.name))
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", w.name, err)
		}
		o.logger.Info("worker finished", slog.String("worker", w.name))
		return nil
	}
}
