package trustledger

import "context"

// Ledger is the interface for the append-only hash chain.
// Both MemoryLedger and PostgresLedger implement this interface.
type Ledger interface {
	// Append chains a new entry recording contentHash.
	// Returns ErrInvalidHash when contentHash is not a 64 character lowercase hex digest.
	Append(ctx context.Context, contentHash, submitter string) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// GetByTxID returns the entry whose transaction ID (entry hash) is txID.
	GetByTxID(ctx context.Context, txID string) (*Entry, error)

	// Len returns the total number of entries (including the genesis entry).
	Len(ctx context.Context) (int, error)

	// Verify walks the entire chain and checks hash consistency.
	// Returns nil if the chain is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the most recent entry (the chain tip).
	Root(ctx context.Context) (string, error)
}
