package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jmerrifield20/AuditVault/internal/fabric"
)

// ErrPermanent marks a persistence failure that retrying cannot fix, such as
// an event that no longer matches its hash. Persisters wrap it.
var ErrPermanent = errors.New("permanent reconcile failure")

// Persister stores a pending item without contacting the ledger.
type Persister interface {
	Persist(ctx context.Context, p Pending) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, p Pending) error

// Persist implements Persister.
func (f PersisterFunc) Persist(ctx context.Context, p Pending) error { return f(ctx, p) }

// Config holds worker configuration.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
	BatchSize   int
}

// MetricsRecordFunc is an optional callback invoked after each item with its
// outcome: "persisted", "retry" or "dead".
type MetricsRecordFunc func(outcome string)

// Worker periodically drains a Queue.
type Worker struct {
	queue      Queue
	deadLetter Queue
	persister  Persister
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// NewWorker creates a Worker.
func NewWorker(queue Queue, persister Persister, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	return &Worker{queue: queue, persister: persister, cfg: cfg, logger: logger}
}

// SetDeadLetter configures where items go after MaxAttempts failures or a
// permanent error. Without one they are logged and dropped.
func (w *Worker) SetDeadLetter(q Queue) {
	w.deadLetter = q
}

// SetMetricsRecord configures the metrics recording callback.
func (w *Worker) SetMetricsRecord(fn MetricsRecordFunc) {
	w.onMetrics = fn
}

// Start runs the drain loop until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.Drain(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("reconcile: drain", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Drain processes up to BatchSize queued items and returns how many were
// persisted. Items that fail are re-queued at the tail and are not retried
// again until the next pass, so Interval spaces out attempts.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	queued, err := w.queue.Len(ctx)
	if err != nil {
		return 0, err
	}
	limit := w.cfg.BatchSize
	if queued < int64(limit) {
		limit = int(queued)
	}

	persisted := 0
	tried := make(map[fabric.Reference]struct{}, limit)
	for i := 0; i < limit; i++ {
		p, err := w.queue.Pop(ctx)
		if err != nil {
			return persisted, err
		}
		if p == nil {
			return persisted, nil
		}
		if _, ok := tried[p.Ref]; ok {
			// Wrapped around to an item this pass already requeued.
			return persisted, w.queue.Push(ctx, *p)
		}
		tried[p.Ref] = struct{}{}

		err = w.persister.Persist(ctx, *p)
		if err == nil {
			persisted++
			w.record("persisted")
			w.logger.Info("reconcile: orphan persisted",
				zap.String("hash", p.Hash.String()),
				zap.String("fabric_tx_id", p.Ref.String()),
				zap.Int("attempts", p.Attempts+1),
			)
			continue
		}

		p.Attempts++
		p.LastErr = err.Error()
		if errors.Is(err, ErrPermanent) || p.Attempts >= w.cfg.MaxAttempts {
			w.bury(ctx, p, err)
			continue
		}

		w.record("retry")
		w.logger.Warn("reconcile: persist failed, requeueing",
			zap.String("hash", p.Hash.String()),
			zap.String("fabric_tx_id", p.Ref.String()),
			zap.Int("attempts", p.Attempts),
			zap.Error(err),
		)
		if err := w.queue.Push(ctx, *p); err != nil {
			// The reference is only in the log from here on.
			w.logger.Error("reconcile: requeue failed, manual reconciliation required",
				zap.String("hash", p.Hash.String()),
				zap.String("fabric_tx_id", p.Ref.String()),
				zap.Error(err),
			)
			return persisted, err
		}
	}
	return persisted, nil
}

func (w *Worker) bury(ctx context.Context, p *Pending, cause error) {
	w.record("dead")
	w.logger.Error("reconcile: giving up, manual reconciliation required",
		zap.String("hash", p.Hash.String()),
		zap.String("fabric_tx_id", p.Ref.String()),
		zap.Int("attempts", p.Attempts),
		zap.Error(cause),
	)
	if w.deadLetter == nil {
		return
	}
	if err := w.deadLetter.Push(ctx, *p); err != nil {
		w.logger.Error("reconcile: dead-letter push failed", zap.Error(err))
	}
}

func (w *Worker) record(outcome string) {
	if w.onMetrics != nil {
		w.onMetrics(outcome)
	}
}
