// Package dispatch runs the fixed-size worker pool over the filesystem
// queue. A feeder goroutine watches the queue directory and rescans on a
// timer; workers claim files and hand them to the pipeline. The claim rename
// makes duplicate feeds harmless, so the feeder never tracks what it already
// sent.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"forgelet/internal/queue"
)

// Handler processes one claimed task. It owns the task's terminal
// disposition (archive or fail); the dispatcher only counts outcomes.
type Handler func(ctx context.Context, t *queue.Task) error

// Stats is a point-in-time snapshot of dispatcher counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// Dispatcher coordinates the feeder and the worker pool.
type Dispatcher struct {
	q            *queue.Queue
	handler      Handler
	workers      int
	scanInterval time.Duration
	stuckGrace   time.Duration
	logger       *slog.Logger

	processed atomic.Int64
	failed    atomic.Int64
}

// New creates a Dispatcher. workers must be at least 1.
func New(q *queue.Queue, handler Handler, workers int, scanInterval, stuckGrace time.Duration, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if scanInterval <= 0 {
		scanInterval = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		q:            q,
		handler:      handler,
		workers:      workers,
		scanInterval: scanInterval,
		stuckGrace:   stuckGrace,
		logger:       logger,
	}
}

// Stats returns current counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Workers:   d.workers,
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
	}
}

// Run blocks until ctx is cancelled, running the feeder and all workers.
// A task interrupted by cancellation keeps its claim in processing/; the
// staleness sweep readmits it on the next run.
func (d *Dispatcher) Run(ctx context.Context) error {
	names := make(chan string)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(names)
		return d.feed(ctx, names)
	})
	for i := 0; i < d.workers; i++ {
		id := i
		g.Go(func() error {
			d.work(ctx, id, names)
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// feed pushes pending filenames to the workers. It rescans on filesystem
// create events and on the ticker; the ticker also covers events lost while
// the channel was full.
func (d *Dispatcher) feed(ctx context.Context, names chan<- string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(d.q.Dir()); err != nil {
		return err
	}

	// Requests claimed by a previous run that never finished go back first.
	if d.stuckGrace > 0 {
		if readmitted, err := d.q.ReadmitStuck(d.stuckGrace); err != nil {
			d.logger.Error("readmitting stuck requests", "error", err)
		} else if len(readmitted) > 0 {
			d.logger.Info("readmitted stuck requests", "count", len(readmitted))
		}
	}

	if err := d.push(ctx, names); err != nil {
		return err
	}

	ticker := time.NewTicker(d.scanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) || !strings.HasSuffix(ev.Name, ".txt") {
				continue
			}
			if err := d.push(ctx, names); err != nil {
				return err
			}
		case werr, ok := <-watcher.Errors:
			if ok {
				d.logger.Warn("queue watcher error", "error", werr)
			}
		case <-ticker.C:
			if d.stuckGrace > 0 {
				if readmitted, err := d.q.ReadmitStuck(d.stuckGrace); err != nil {
					d.logger.Error("readmitting stuck requests", "error", err)
				} else if len(readmitted) > 0 {
					d.logger.Info("readmitted stuck requests", "count", len(readmitted))
				}
			}
			if err := d.push(ctx, names); err != nil {
				return err
			}
		}
	}
}

func (d *Dispatcher) push(ctx context.Context, names chan<- string) error {
	pending, err := d.q.Scan()
	if err != nil {
		d.logger.Error("scanning queue", "error", err)
		return nil
	}
	for _, name := range pending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case names <- name:
		}
	}
	return nil
}

func (d *Dispatcher) work(ctx context.Context, id int, names <-chan string) {
	logger := d.logger.With("worker", id)
	for name := range names {
		task, err := d.q.Claim(name)
		if err != nil {
			if errors.Is(err, queue.ErrAlreadyClaimed) {
				continue
			}
			logger.Error("claim failed", "file", name, "error", err)
			d.failed.Add(1)
			continue
		}

		logger.Info("processing request", "file", name, "owner", task.Owner)
		if err := d.handler(ctx, task); err != nil {
			logger.Error("request failed", "file", name, "owner", task.Owner, "error", err)
			d.failed.Add(1)
			continue
		}
		d.processed.Add(1)
	}
}
