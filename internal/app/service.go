// Package service runs sync documents: it owns the account registry, the
// token store and the job queue the cmd layer feeds.
package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/scaleconnect/internal/accounts"
	eventqueue "github.com/okian/scaleconnect/internal/adapters/mq/queue"
	"github.com/okian/scaleconnect/internal/adapters/mq/worker"
	"github.com/okian/scaleconnect/internal/config"
	"github.com/okian/scaleconnect/internal/domain/dedupe"
	"github.com/okian/scaleconnect/internal/domain/model"
	"github.com/okian/scaleconnect/internal/tokens"
	"github.com/okian/scaleconnect/internal/transform"
	"github.com/okian/scaleconnect/internal/weights"
	"github.com/okian/scaleconnect/pkg/core"
	"github.com/okian/scaleconnect/pkg/logger"
	"github.com/okian/scaleconnect/pkg/metrics"
	"github.com/okian/scaleconnect/pkg/picooc"
)

// ErrNotStarted is returned by Submit before Start.
var ErrNotStarted = errors.New("service not started")

// Weights reads and writes the sources and targets of a sync.
type Weights interface {
	GetWeights(ctx context.Context, from any) ([]*core.Weight, error)
	SetWeights(ctx context.Context, to string, src []*core.Weight) error
}

// Service runs syncs.
type Service struct {
	mu sync.Mutex

	weights       Weights
	queueSize     int
	dedupeMaxKeys int

	queue   *eventqueue.InMemoryQueue
	worker  *worker.InMemoryWorker
	started bool

	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithQueueSize sets the maximum number of pending sync documents.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithWeights replaces the weights reader and writer.
func WithWeights(w Weights) Option {
	return func(s *Service) {
		if w != nil {
			s.weights = w
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Service from cfg. Accounts keep their tokens in
// cfg.TokensPath and ask for missing passwords with prompt, which may be nil.
func New(cfg *config.Config, prompt accounts.PasswordPrompt, opts ...Option) *Service {
	s := &Service{queueSize: cfg.QueueSize, dedupeMaxKeys: cfg.DedupeMaxKeys}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("sync")
	}

	if s.weights == nil {
		registry := accounts.NewRegistry(
			tokens.NewStore(cfg.TokensPath),
			accounts.WithFactory(accounts.NewFactory(accounts.Vendors{
				Xiaomi: accounts.XiaomiOptions(cfg.Xiaomi, s.logger.Named("xiaomi")),
				Picooc: []picooc.Option{picooc.WithLogger(s.logger.Named("picooc"))},
			})),
			accounts.WithPrompt(prompt),
			accounts.WithTTL(cfg.AccountTTL),
			accounts.WithLogger(s.logger.Named("accounts")),
		)
		s.weights = weights.New(registry)
	}

	return s
}

// Start runs the worker that consumes submitted documents.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(s.queueSize))
	s.worker = worker.NewInMemoryWorker(s.queue, s, worker.WithName("documents"), worker.WithLogger(s.logger))
	go s.worker.Run(ctx)

	s.started = true
	s.logger.Debug(ctx, "sync service started", logger.Int("queueSize", s.queueSize))

	return nil
}

// Stop closes the queue and waits for the pending documents to finish or
// ctx to end.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.started = false

	_ = s.queue.Close()

	select {
	case <-s.worker.Done():
		return nil
	case <-ctx.Done():
		return s.worker.Shutdown(ctx)
	}
}

// Submit queues a sync document. source tells where it came from.
func (s *Service) Submit(ctx context.Context, source string, payload []byte) error {
	s.mu.Lock()
	q := s.queue
	started := s.started
	s.mu.Unlock()

	if !started {
		return ErrNotStarted
	}
	return q.Enqueue(ctx, model.NewJob(source, payload))
}

// Handle runs a queued document.
func (s *Service) Handle(ctx context.Context, j model.Job) error {
	return s.run(ctx, j.ID, j.Payload)
}

// RunOnce runs a sync document synchronously.
func (s *Service) RunOnce(ctx context.Context, payload []byte) error {
	return s.run(ctx, uuid.New(), payload)
}

// Health reports the queue state for the ops server.
func (s *Service) Health() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := map[string]any{"status": "ok", "started": s.started}
	if s.queue != nil {
		h["queue"] = s.queue.Len()
		if s.queue.IsClosed() {
			h["status"] = "stopped"
		}
	}
	return h
}

// run executes every sync of payload in name order. A failing sync does not
// stop the others; the errors are joined.
func (s *Service) run(ctx context.Context, id uuid.UUID, payload []byte) error {
	syncs, err := config.ParseSyncs(payload)
	if err != nil {
		return fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	if len(syncs) == 0 {
		return config.ErrNoDocument
	}

	names := make([]string, 0, len(syncs))
	for name := range syncs {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	for _, name := range names {
		if err = ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err = s.runSync(ctx, id, name, syncs[name]); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func (s *Service) runSync(ctx context.Context, id uuid.UUID, name string, sc config.Sync) error {
	start := time.Now()

	n, err := s.sync(ctx, sc)

	took := time.Since(start)
	metrics.RecordSyncRun(name, n, float64(took.Milliseconds()), err)

	fields := []logger.Field{
		logger.String("run", id.String()),
		logger.String("name", name),
		logger.Int("records", n),
		logger.Duration("duration", took),
	}
	if err != nil {
		s.logger.Error(ctx, "sync failed", append(fields, logger.Error(err))...)
		return err
	}
	s.logger.Info(ctx, "sync finished", fields...)

	return nil
}

func (s *Service) sync(ctx context.Context, sc config.Sync) (int, error) {
	ws, err := s.weights.GetWeights(ctx, sc.From)
	if err != nil {
		return 0, err
	}

	if err = transform.Apply(sc.Expr, ws); err != nil {
		return 0, err
	}

	if sc.Dedupe {
		ws = dedupe.Filter(dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeMaxKeys)), ws)
	}

	if err = s.weights.SetWeights(ctx, sc.To, ws); err != nil {
		return 0, err
	}

	return len(ws), nil
}
