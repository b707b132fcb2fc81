// Package worker runs queued sync documents one at a time.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/scaleconnect/internal/domain/model"
	"github.com/okian/scaleconnect/pkg/logger"
	"github.com/okian/scaleconnect/pkg/metrics"
)

// Job abstracts what workers read off the queue.
type Job = model.Job

// Handler runs one job.
type Handler interface {
	Handle(ctx context.Context, j Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, j Job) error { return f(ctx, j) }

// Queue defines how workers receive jobs.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Job
}

// Worker processes jobs from a queue.
type Worker interface {
	// Run starts the worker loop until ctx is canceled, Shutdown is called
	// or the queue is closed.
	Run(ctx context.Context)

	// Shutdown stops the worker after the job in progress.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue   Queue
	handler Handler
	name    string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, handler Handler, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:    queue,
		handler:  handler,
		name:     "worker",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		logger:   logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}

			if err := w.processJob(ctx, j); err != nil {
				w.logger.Error(ctx, "error processing job", logger.String("job", j.ID.String()), logger.Error(err))
			}
		}
	}
}

// Done is closed when Run returns.
func (w *InMemoryWorker) Done() <-chan struct{} {
	return w.done
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.shutdown:
	default:
		close(w.shutdown)
	}

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) processJob(ctx context.Context, j Job) error {
	start := time.Now()

	err := w.handler.Handle(ctx, j)
	metrics.RecordJob(err)

	w.logger.Debug(ctx, "job processed",
		logger.String("job", j.ID.String()),
		logger.String("source", j.Source),
		logger.Duration("waited", start.Sub(j.ReceivedAt)),
		logger.Duration("took", time.Since(start)),
	)

	if err != nil {
		return fmt.Errorf("job %s: %w", j.ID, err)
	}
	return nil
}
