// Package anchor binds audit events to the ledger: hash, submit, persist.
//
// A record is stored only after the ledger has returned a reference for the
// event's content hash, and once the ledger has accepted a hash the call
// runs to completion: either the record is stored or a *PersistenceError
// carrying the hash and reference is returned.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/event"
	"github.com/jmerrifield20/AuditVault/internal/fabric"
	"github.com/jmerrifield20/AuditVault/internal/model"
	"github.com/jmerrifield20/AuditVault/internal/reconcile"
	"github.com/jmerrifield20/AuditVault/internal/store"
	"go.uber.org/zap"
)

// Outcomes reported to the metrics callback.
const (
	OutcomeAnchored      = "anchored"
	OutcomeSerialization = "serialization_error"
	OutcomeUnavailable   = "ledger_unavailable"
	OutcomeRejected      = "ledger_rejected"
	OutcomePersistence   = "persistence_error"
)

// Store is the persistence interface for the anchor service.
// *store.Postgres, *store.SQL and *store.Memory satisfy it.
type Store interface {
	Insert(ctx context.Context, r *model.Record) (*model.Record, error)
	Get(ctx context.Context, id int64) (*model.Record, error)
	GetByLedgerRef(ctx context.Context, ref string) (*model.Record, error)
	List(ctx context.Context, limit, offset int) ([]*model.Record, error)
}

// Publisher announces anchored records. The notify package implementations
// satisfy it.
type Publisher interface {
	PublishAnchored(ctx context.Context, rec *model.Record) error
}

// MetricsRecordFunc is an optional callback invoked once per Anchor call.
type MetricsRecordFunc func(outcome string, elapsed time.Duration)

// Config holds anchor timeouts.
type Config struct {
	// SubmitTimeout bounds the ledger call. Expiry is reported as
	// fabric.ErrUnavailable.
	SubmitTimeout time.Duration
	// PersistTimeout bounds the store write. It is measured from ledger
	// success and ignores caller cancellation.
	PersistTimeout time.Duration
	// QueueTimeout bounds the orphan queue push after a failed store write.
	// It gets its own deadline since the write may have used up PersistTimeout.
	QueueTimeout time.Duration
}

// Service anchors audit events.
type Service struct {
	hasher    *canonical.Hasher
	ledger    fabric.Client
	store     Store
	orphans   reconcile.Queue // nil = orphans are only logged
	publisher Publisher       // nil = no notifications
	onMetrics MetricsRecordFunc
	cfg       Config
	logger    *zap.Logger
}

// New creates a Service.
func New(hasher *canonical.Hasher, ledger fabric.Client, st Store, cfg Config, logger *zap.Logger) *Service {
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.PersistTimeout == 0 {
		cfg.PersistTimeout = 30 * time.Second
	}
	if cfg.QueueTimeout == 0 {
		cfg.QueueTimeout = 5 * time.Second
	}
	return &Service{
		hasher: hasher,
		ledger: ledger,
		store:  st,
		cfg:    cfg,
		logger: logger,
	}
}

// SetOrphanQueue configures where failed persistence attempts are queued.
func (s *Service) SetOrphanQueue(q reconcile.Queue) {
	s.orphans = q
}

// SetPublisher configures the anchored-event publisher.
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// SetMetricsRecord configures the metrics recording callback.
func (s *Service) SetMetricsRecord(fn MetricsRecordFunc) {
	s.onMetrics = fn
}

// Anchor hashes ev, submits the hash to the ledger and stores the record.
//
// Errors:
//   - *event.SerializationError: ev cannot be canonicalised; nothing was
//     submitted or stored.
//   - fabric.ErrUnavailable / fabric.ErrRejected: the ledger call failed or
//     timed out; nothing was stored.
//   - *PersistenceError: the ledger accepted the hash but the store write
//     failed.
func (s *Service) Anchor(ctx context.Context, ev event.Value) (*model.Record, error) {
	start := time.Now()

	hash, err := s.hasher.Hash(ev)
	if err != nil {
		s.record(OutcomeSerialization, start)
		return nil, err
	}

	ref, err := s.submit(ctx, hash)
	if err != nil {
		if errors.Is(err, fabric.ErrRejected) {
			s.record(OutcomeRejected, start)
		} else {
			s.record(OutcomeUnavailable, start)
		}
		s.logger.Warn("ledger submission failed",
			zap.String("hash", hash.String()),
			zap.Error(err),
		)
		return nil, err
	}

	// The ledger holds the hash now. Caller cancellation no longer applies.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.PersistTimeout)
	defer cancel()

	rec, err := s.store.Insert(pctx, &model.Record{
		Event:       ev,
		ContentHash: hash.String(),
		LedgerRef:   ref.String(),
		Anchored:    true,
	})
	if err != nil {
		s.record(OutcomePersistence, start)
		perr := &PersistenceError{Hash: hash, Ref: ref, Event: ev, Err: err}
		s.logger.Error("anchored event not persisted",
			zap.String("hash", hash.String()),
			zap.String("fabric_tx_id", ref.String()),
			zap.Error(err),
		)
		s.queueOrphan(ctx, perr)
		return nil, perr
	}

	s.record(OutcomeAnchored, start)
	s.logger.Info("audit event anchored",
		zap.Int64("event_id", rec.ID),
		zap.String("hash", rec.ContentHash),
		zap.String("fabric_tx_id", rec.LedgerRef),
	)
	s.publish(pctx, rec)
	return rec, nil
}

type submitResult struct {
	ref fabric.Reference
	err error
}

// submit performs one bounded ledger call. The bound holds even if the
// client ignores its context.
func (s *Service) submit(ctx context.Context, hash canonical.ContentHash) (fabric.Reference, error) {
	sctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	done := make(chan submitResult, 1)
	go func() {
		ref, err := s.ledger.Submit(sctx, hash)
		done <- submitResult{ref, err}
	}()

	var r submitResult
	select {
	case r = <-done:
	case <-sctx.Done():
		select {
		case r = <-done:
		default:
			go s.watchLate(hash, done)
			return "", fmt.Errorf("%w: submit: %w", fabric.ErrUnavailable, sctx.Err())
		}
	}

	if r.err != nil {
		return "", classify(r.err)
	}
	if r.ref == "" {
		return "", fmt.Errorf("%w: ledger returned an empty reference", fabric.ErrUnavailable)
	}
	return r.ref, nil
}

// watchLate logs a reference that arrives after the submit deadline so the
// orphaned ledger entry can be found.
func (s *Service) watchLate(hash canonical.ContentHash, done <-chan submitResult) {
	r := <-done
	if r.err == nil && r.ref != "" {
		s.logger.Warn("ledger accepted hash after submit deadline",
			zap.String("hash", hash.String()),
			zap.String("fabric_tx_id", r.ref.String()),
		)
	}
}

// classify guarantees every ledger failure matches ErrUnavailable or
// ErrRejected. Unclassified errors are treated as transient.
func classify(err error) error {
	if errors.Is(err, fabric.ErrUnavailable) || errors.Is(err, fabric.ErrRejected) {
		return err
	}
	return fmt.Errorf("%w: %w", fabric.ErrUnavailable, err)
}

func (s *Service) queueOrphan(ctx context.Context, perr *PersistenceError) {
	if s.orphans == nil {
		return
	}
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.QueueTimeout)
	defer cancel()

	p := perr.Pending()
	p.FailedAt = time.Now().UTC()
	if err := s.orphans.Push(qctx, p); err != nil {
		s.logger.Error("orphan queue push failed (non-fatal), manual reconciliation required",
			zap.String("hash", perr.Hash.String()),
			zap.String("fabric_tx_id", perr.Ref.String()),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, rec *model.Record) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishAnchored(ctx, rec); err != nil {
		s.logger.Warn("anchored notification failed (non-fatal)",
			zap.Int64("event_id", rec.ID),
			zap.Error(err),
		)
	}
}

func (s *Service) record(outcome string, start time.Time) {
	if s.onMetrics != nil {
		s.onMetrics(outcome, time.Since(start))
	}
}

// Persist stores an already-anchored event without contacting the ledger.
// It is the retry path for a *PersistenceError. The event must still hash to
// p.Hash. If p.Ref is already recorded with the same hash the existing
// record is returned.
func (s *Service) Persist(ctx context.Context, p reconcile.Pending) (*model.Record, error) {
	if p.Ref == "" {
		return nil, fmt.Errorf("persist: empty ledger reference: %w", reconcile.ErrPermanent)
	}
	hash, err := s.hasher.Hash(p.Event)
	if err != nil {
		return nil, fmt.Errorf("persist: %w: %w", reconcile.ErrPermanent, err)
	}
	if hash != p.Hash {
		return nil, fmt.Errorf("persist %s: %w", p.Ref, ErrHashMismatch)
	}

	rec, err := s.store.Insert(ctx, &model.Record{
		Event:       p.Event,
		ContentHash: hash.String(),
		LedgerRef:   p.Ref.String(),
		Anchored:    true,
	})
	if err == nil {
		s.logger.Info("anchored event persisted on retry",
			zap.Int64("event_id", rec.ID),
			zap.String("fabric_tx_id", rec.LedgerRef),
		)
		s.publish(ctx, rec)
		return rec, nil
	}
	if !errors.Is(err, store.ErrDuplicateRef) {
		return nil, fmt.Errorf("persist %s: %w", p.Ref, err)
	}

	existing, err := s.store.GetByLedgerRef(ctx, p.Ref.String())
	if err != nil {
		return nil, fmt.Errorf("load existing record for %s: %w", p.Ref, err)
	}
	if existing.ContentHash != hash.String() {
		return nil, fmt.Errorf("persist %s: %w", p.Ref, ErrRefConflict)
	}
	return existing, nil
}

// Get returns a stored record.
func (s *Service) Get(ctx context.Context, id int64) (*model.Record, error) {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get audit event %d: %w", id, err)
	}
	return rec, nil
}

// List returns stored records newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]*model.Record, error) {
	recs, err := s.store.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return recs, nil
}

// Verify recomputes the content hash of a stored record and, when the ledger
// client implements fabric.Lookup, checks that the ledger reference anchors
// the same hash.
func (s *Service) Verify(ctx context.Context, id int64) (*model.Verification, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	v := &model.Verification{
		EventID:    rec.ID,
		StoredHash: rec.ContentHash,
		FabricTxID: rec.LedgerRef,
	}
	computed, err := s.hasher.Hash(rec.Event)
	if err != nil {
		return nil, fmt.Errorf("rehash audit event %d: %w", id, err)
	}
	v.ComputedHash = computed.String()
	v.HashMatches = v.ComputedHash == rec.ContentHash

	if lookup, ok := s.ledger.(fabric.Lookup); ok {
		lctx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
		defer cancel()
		ledgerHash, err := lookup.Lookup(lctx, fabric.Reference(rec.LedgerRef))
		switch {
		case err == nil:
			v.LedgerChecked = true
			v.LedgerHash = ledgerHash.String()
			v.LedgerMatches = v.LedgerHash == rec.ContentHash
		case errors.Is(err, fabric.ErrUnknownReference):
			v.LedgerChecked = true
		default:
			return nil, fmt.Errorf("look up ledger reference %s: %w", rec.LedgerRef, err)
		}
	}

	v.Valid = v.HashMatches && (!v.LedgerChecked || v.LedgerMatches)
	if !v.Valid {
		s.logger.Warn("audit event failed verification",
			zap.Int64("event_id", rec.ID),
			zap.String("stored_hash", v.StoredHash),
			zap.String("computed_hash", v.ComputedHash),
			zap.String("ledger_hash", v.LedgerHash),
		)
	}
	return v, nil
}
