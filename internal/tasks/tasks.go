// Package tasks runs independently cancellable periodic background work.
package tasks

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrStarted is returned when Start or Every is called on a running or stopped group.
var ErrStarted = errors.New("task group already started")

type task struct {
	name     string
	interval time.Duration
	fn       func(context.Context)
}

// Group owns a set of periodic tasks. Register with Every, then Start once.
// Stop cancels every task and waits for in-progress runs to return.
type Group struct {
	logger *slog.Logger

	mu      sync.Mutex
	tasks   []task
	started bool
	cancel  context.CancelFunc
	eg      *errgroup.Group
}

// New creates an empty Group.
func New(logger *slog.Logger) *Group {
	return &Group{logger: logger.With("component", "tasks")}
}

// Every registers fn to run every interval after Start. The first run happens
// one interval after Start. A non-positive interval disables the task.
func (g *Group) Every(name string, interval time.Duration, fn func(context.Context)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return ErrStarted
	}
	if interval <= 0 {
		g.logger.Info("task disabled", "task", name)
		return nil
	}
	g.tasks = append(g.tasks, task{name: name, interval: interval, fn: fn})
	return nil
}

// Start launches every registered task. Tasks run until ctx is cancelled or
// Stop is called.
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.started {
		return ErrStarted
	}
	g.started = true

	ctx, g.cancel = context.WithCancel(ctx)
	g.eg, ctx = errgroup.WithContext(ctx)

	for _, t := range g.tasks {
		g.eg.Go(func() error {
			g.run(ctx, t)
			return nil
		})
	}
	g.logger.Info("background tasks started", "count", len(g.tasks))
	return nil
}

func (g *Group) run(ctx context.Context, t task) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("task cancelled", "task", t.name)
			return
		case <-ticker.C:
			// select picks randomly when both are ready; never run past cancellation.
			if ctx.Err() != nil {
				g.logger.Debug("task cancelled", "task", t.name)
				return
			}
			t.fn(ctx)
		}
	}
}

// Stop cancels all tasks and waits for them to exit. It is idempotent and
// safe to call on a group that never started.
func (g *Group) Stop() error {
	g.mu.Lock()
	cancel, eg := g.cancel, g.eg
	g.started = true
	g.cancel, g.eg = nil, nil
	g.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	err := eg.Wait()
	g.logger.Info("background tasks stopped")
	return err
}
