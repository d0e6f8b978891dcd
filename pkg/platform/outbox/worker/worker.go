package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"bnpl/pkg/platform/outbox"
	"bnpl/pkg/platform/outbox/metrics"
)

const pruneInterval = time.Minute

// Worker polls the outbox and hands pending entries to a Handler.
// Entries whose handler fails stay pending and are retried on the next poll.
type Worker struct {
	store        outbox.Store
	handler      outbox.Handler
	batchSize    int
	pollInterval time.Duration
	retention    time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
	now          func() time.Time

	lastPrune time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Result summarizes one poll cycle.
type Result struct {
	Fetched int
	Handled int
	Failed  int
}

// Option configures the Worker.
type Option func(*Worker)

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithRetention deletes processed entries older than d. Zero keeps them forever.
func WithRetention(d time.Duration) Option {
	return func(w *Worker) {
		w.retention = d
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// New creates a new outbox worker.
func New(store outbox.Store, handler outbox.Handler, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		store:        store,
		handler:      handler,
		batchSize:    100,
		pollInterval: time.Second,
		logger:       slog.Default(),
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			if _, err := w.RunOnce(w.ctx); err != nil {
				w.logger.Error("outbox poll failed", "error", err)
			}
		}
	}
}

// RunOnce fetches and handles one batch of pending entries.
func (w *Worker) RunOnce(ctx context.Context) (*Result, error) {
	start := w.now()
	defer func() {
		if w.metrics != nil {
			w.metrics.ObservePollDuration(w.now().Sub(start).Seconds())
		}
	}()

	entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
	if err != nil {
		if w.metrics != nil {
			w.metrics.IncHandleFailures()
		}
		return nil, err
	}

	res := &Result{Fetched: len(entries)}
	if w.metrics != nil && len(entries) > 0 {
		w.metrics.ObserveBatchSize(len(entries))
	}
	for _, entry := range entries {
		if w.handleEntry(ctx, entry) {
			res.Handled++
		} else {
			res.Failed++
		}
	}

	w.updatePending(ctx)
	w.prune(ctx)
	return res, nil
}

func (w *Worker) handleEntry(ctx context.Context, entry *outbox.Entry) bool {
	start := w.now()
	if err := w.handler.Handle(ctx, entry); err != nil {
		w.logger.Warn("outbox entry handling failed",
			"id", entry.ID,
			"event_type", entry.EventType,
			"aggregate_id", entry.AggregateID,
			"attempts", entry.Attempts+1,
			"error", err,
		)
		if w.metrics != nil {
			w.metrics.IncHandleFailures()
		}
		if markErr := w.store.MarkFailed(ctx, entry.ID, err.Error()); markErr != nil {
			w.logger.Error("failed to record outbox failure", "id", entry.ID, "error", markErr)
		}
		return false
	}

	// A failure here means the entry is handled again later; handlers dedupe by entry ID.
	if err := w.store.MarkProcessed(ctx, entry.ID, w.now()); err != nil {
		w.logger.Error("failed to mark outbox entry processed", "id", entry.ID, "error", err)
		return false
	}
	if w.metrics != nil {
		w.metrics.IncHandled()
		w.metrics.ObserveHandleDuration(w.now().Sub(start).Seconds())
	}
	return true
}

func (w *Worker) updatePending(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	if count, err := w.store.CountPending(ctx); err == nil {
		w.metrics.SetPendingDepth(count)
	}
}

func (w *Worker) prune(ctx context.Context) {
	if w.retention <= 0 {
		return
	}
	now := w.now()
	if now.Sub(w.lastPrune) < pruneInterval {
		return
	}
	w.lastPrune = now
	n, err := w.store.DeleteProcessedBefore(ctx, now.Add(-w.retention))
	if err != nil {
		w.logger.Error("failed to prune outbox", "error", err)
		return
	}
	if n > 0 && w.metrics != nil {
		w.metrics.AddPruned(n)
	}
}

// drain makes a bounded final pass over pending entries during shutdown.
func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	w.logger.Info("draining outbox worker")
	for ctx.Err() == nil {
		res, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("failed to drain outbox", "error", err)
			return
		}
		// stop when empty or when nothing in the batch can make progress
		if res.Fetched == 0 || res.Handled == 0 {
			return
		}
	}
}

// Stop gracefully stops the worker.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
