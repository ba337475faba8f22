package trustledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/AuditVault/internal/canonical"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// It serves as the trust anchor of the chain; all subsequent entry hashes
// chain from this constant rather than from a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

var (
	// ErrNotFound is returned when no entry matches an index or transaction ID.
	ErrNotFound = errors.New("ledger entry not found")

	// ErrInvalidHash is returned by Append when the submitted content hash is malformed.
	ErrInvalidHash = errors.New("invalid content hash")
)

// Entry is a single anchored content hash in the chain.
type Entry struct {
	Index       int       `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	ContentHash string    `json:"content_hash"`
	Submitter   string    `json:"submitter"` // client identity or "fabric-system"
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
}

// TxID returns the transaction identifier handed to the submitter.
func (e *Entry) TxID() string { return e.Hash }

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// This function must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.ContentHash, e.Submitter, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func validateContentHash(hash string) error {
	if err := canonical.ContentHash(hash).Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	return nil
}
