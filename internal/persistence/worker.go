package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ReserveBank/internal/core"
	"ReserveBank/internal/observability"
	"ReserveBank/internal/storage"
)

// EventSink receives the event log rows of a batch. EventLogWriter is the
// Postgres implementation.
type EventSink interface {
	WriteEvents(ctx context.Context, rows []EventRow) error
}

// Worker drains the persist channel. Each batch is written to the event log
// first and then applied to the state store as one merged change set. Both
// writes are idempotent, so a batch that failed halfway is simply retried.
//
// The engine sends on the persist channel with a blocking send: if the worker
// falls behind, the engine stalls rather than losing an operation.
type Worker struct {
	sink         EventSink // nil when the event log is disabled
	store        storage.Store
	backend      string
	inputChan    <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	logger       zerolog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type WorkerConfig struct {
	Sink         EventSink
	Store        storage.Store
	Backend      string // label for store metrics
	Input        <-chan core.Output
	BatchSize    int
	FlushTimeout time.Duration
	Metrics      *observability.Metrics
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Millisecond
	}
	if cfg.Backend == "" {
		cfg.Backend = "unknown"
	}
	return &Worker{
		sink:           cfg.Sink,
		store:          cfg.Store,
		backend:        cfg.Backend,
		inputChan:      cfg.Input,
		batchSize:      cfg.BatchSize,
		flushTimeout:   cfg.FlushTimeout,
		metrics:        cfg.Metrics,
		logger:         observability.NewLogger("persistence"),
		initialBackoff: 100 * time.Millisecond,
		maxBackoff:     30 * time.Second,
	}
}

// Run batches outputs and flushes when the batch is full or the flush timer
// fires. It returns nil when the input channel is closed and ctx.Err() on
// cancellation, flushing whatever is pending in both cases.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]core.Output, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			w.finalFlush(w.drainPending(batch))
			return ctx.Err()

		case out, ok := <-w.inputChan:
			if !ok {
				w.finalFlush(batch)
				return nil
			}

			batch = append(batch, out)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Int("events", len(batch)).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.logger.Error().Err(err).Int("events", len(batch)).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// drainPending appends whatever the engine already handed over.
func (w *Worker) drainPending(batch []core.Output) []core.Output {
	for {
		select {
		case out, ok := <-w.inputChan:
			if !ok {
				return batch
			}
			batch = append(batch, out)
		default:
			return batch
		}
	}
}

func (w *Worker) finalFlush(batch []core.Output) {
	if len(batch) == 0 {
		return
	}
	if err := w.flush(context.Background(), batch); err != nil {
		w.logger.Error().Err(err).Int("events", len(batch)).Msg("final flush failed")
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. On cancellation it makes one last attempt with a
// background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []core.Output) error {
	backoff := w.initialBackoff

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.logger.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("events", len(batch)).
				Msg("persistence retry")
			if w.metrics != nil {
				w.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > w.maxBackoff {
				backoff = w.maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.logger.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
		w.logger.Warn().Err(err).Msg("persistence flush failed")
	}
}

func (w *Worker) flush(ctx context.Context, batch []core.Output) error {
	start := time.Now()

	if w.sink != nil {
		rows := make([]EventRow, 0, len(batch))
		for _, out := range batch {
			rows = append(rows, EventRowFromEnvelope(out.Envelope))
		}
		if err := w.sink.WriteEvents(ctx, rows); err != nil {
			w.countError("write_events")
			return fmt.Errorf("write events: %w", err)
		}
	}

	cs := storage.NewChangeSet()
	for _, out := range batch {
		cs.Merge(storage.ChangeSetFromOutput(out))
	}
	if err := w.store.Apply(ctx, cs); err != nil {
		w.countError("apply_state")
		return fmt.Errorf("apply state: %w", err)
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(batch)))
		w.metrics.PersistEventsWritten.Add(float64(len(batch)))
		w.metrics.PersistLastSequence.Set(float64(batch[len(batch)-1].Envelope.Sequence))
		var puts, deletes int
		for _, op := range cs.Compact() {
			if op.Delete {
				deletes++
			} else {
				puts++
			}
		}
		w.metrics.StoreKeysWritten.WithLabelValues(w.backend, "put").Add(float64(puts))
		w.metrics.StoreKeysWritten.WithLabelValues(w.backend, "delete").Add(float64(deletes))
	}
	return nil
}

func (w *Worker) countError(kind string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
