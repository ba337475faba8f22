// Package fabric is the boundary to the external append-only ledger (the
// "fabric"). A Client performs exactly one submission attempt per call and
// classifies every failure as either ErrUnavailable (transient, safe to retry
// the whole anchor call) or ErrRejected (permanent).
package fabric

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
)

var (
	// ErrUnavailable marks a transient failure reaching the ledger: connection
	// errors, timeouts, 5xx and 429 responses.
	ErrUnavailable = errors.New("ledger unavailable")

	// ErrRejected marks a permanent refusal of a submission by the ledger.
	ErrRejected = errors.New("ledger rejected submission")

	// ErrUnknownReference is returned by Lookup when the ledger has no record
	// of the given reference.
	ErrUnknownReference = errors.New("unknown ledger reference")
)

// Reference is the opaque transaction identifier returned by the ledger.
type Reference string

func (r Reference) String() string { return string(r) }

// Client submits content hashes to the ledger.
type Client interface {
	// Submit records hash on the ledger and returns the transaction reference.
	// Implementations make a single attempt and never retry.
	Submit(ctx context.Context, hash canonical.ContentHash) (Reference, error)
}

// Lookup is implemented by clients that can resolve a reference back to the
// content hash it anchors. It is used by audit verification.
type Lookup interface {
	Lookup(ctx context.Context, ref Reference) (canonical.ContentHash, error)
}

// unavailable wraps err as a transient ledger failure.
func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}

// rejected wraps err as a permanent ledger failure.
func rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// classifyContext maps a context expiry to ErrUnavailable. Any other error is
// returned unchanged.
func classifyContext(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, ctxErr)
	}
	return err
}

// checkHash rejects malformed hashes before any network call is made.
func checkHash(hash canonical.ContentHash) error {
	if err := hash.Validate(); err != nil {
		return rejected("%v", err)
	}
	return nil
}
