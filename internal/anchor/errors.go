package anchor

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/event"
	"github.com/jmerrifield20/AuditVault/internal/fabric"
	"github.com/jmerrifield20/AuditVault/internal/reconcile"
)

var (
	// ErrPersistence matches every *PersistenceError.
	ErrPersistence = errors.New("anchor persistence failed")

	// ErrHashMismatch is returned by Persist when the event no longer hashes
	// to the recorded content hash. Retrying cannot fix it.
	ErrHashMismatch = fmt.Errorf("event does not match its content hash: %w", reconcile.ErrPermanent)

	// ErrRefConflict is returned by Persist when the ledger reference is
	// already recorded against a different hash.
	ErrRefConflict = fmt.Errorf("ledger reference recorded with a different hash: %w", reconcile.ErrPermanent)
)

// PersistenceError reports that the ledger accepted a hash but the record
// could not be stored. Hash and Ref identify the ledger entry; retry with
// Service.Persist, never by anchoring again.
type PersistenceError struct {
	Hash  canonical.ContentHash
	Ref   fabric.Reference
	Event event.Value
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist anchored event (hash %s, fabric tx %s): %v", e.Hash, e.Ref, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is reports ErrPersistence as matching.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// Pending returns the reconcile item for this failure.
func (e *PersistenceError) Pending() reconcile.Pending {
	return reconcile.Pending{Event: e.Event, Hash: e.Hash, Ref: e.Ref, Attempts: 1, LastErr: e.Err.Error()}
}
