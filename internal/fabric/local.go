package fabric

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/trustledger"
)

// Local anchors hashes in an in-process trust ledger. It is used in
// standalone mode and in tests.
type Local struct {
	ledger    trustledger.Ledger
	submitter string
}

// NewLocal creates a Local client appending to ledger as submitter.
func NewLocal(ledger trustledger.Ledger, submitter string) *Local {
	return &Local{ledger: ledger, submitter: submitter}
}

// Submit implements Client.
func (l *Local) Submit(ctx context.Context, hash canonical.ContentHash) (Reference, error) {
	entry, err := l.ledger.Append(ctx, hash.String(), l.submitter)
	if err != nil {
		if errors.Is(err, trustledger.ErrInvalidHash) {
			return "", fmt.Errorf("%w: %w", ErrRejected, err)
		}
		return "", classifyContext(ctx, fmt.Errorf("%w: %w", ErrUnavailable, err))
	}
	return Reference(entry.TxID()), nil
}

// Lookup implements Lookup.
func (l *Local) Lookup(ctx context.Context, ref Reference) (canonical.ContentHash, error) {
	entry, err := l.ledger.GetByTxID(ctx, ref.String())
	if err != nil {
		if errors.Is(err, trustledger.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownReference, ref)
		}
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return canonical.ContentHash(entry.ContentHash), nil
}
