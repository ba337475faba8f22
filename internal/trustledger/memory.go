package trustledger

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryLedger is an in-memory, thread-safe Ledger implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
	byTxID  map[string]int
}

// New creates a MemoryLedger initialised with the canonical genesis entry.
// The genesis entry is at index 0 and its hash is GenesisHash.
func New() *MemoryLedger {
	l := &MemoryLedger{byTxID: make(map[string]int)}
	genesis := &Entry{
		Index:       0,
		Timestamp:   time.Now().UTC().Truncate(time.Microsecond),
		ContentHash: GenesisHash,
		Submitter:   "fabric-system",
		PrevHash:    GenesisHash,
		Hash:        GenesisHash, // genesis hash is the well-known constant, not computed
	}
	l.entries = append(l.entries, genesis)
	l.byTxID[genesis.Hash] = 0
	return l
}

// Append implements Ledger.
func (l *MemoryLedger) Append(ctx context.Context, contentHash, submitter string) (*Entry, error) {
	if err := validateContentHash(contentHash); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	entry := &Entry{
		Index:       len(l.entries),
		Timestamp:   time.Now().UTC().Truncate(time.Microsecond),
		ContentHash: contentHash,
		Submitter:   submitter,
		PrevHash:    prev.Hash,
	}
	entry.Hash = hashEntry(entry)
	l.entries = append(l.entries, entry)
	l.byTxID[entry.Hash] = entry.Index

	cp := *entry
	return &cp, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	cp := *l.entries[index]
	return &cp, nil
}

// GetByTxID implements Ledger.
func (l *MemoryLedger) GetByTxID(_ context.Context, txID string) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	idx, ok := l.byTxID[txID]
	if !ok {
		return nil, fmt.Errorf("tx %s: %w", txID, ErrNotFound)
	}
	cp := *l.entries[idx]
	return &cp, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger. It walks the chain and checks that all hashes
// are consistent. The genesis entry (index 0) is validated against GenesisHash.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, curr := range l.entries {
		if i == 0 {
			// Genesis: must equal the well-known constant.
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}

		prev := l.entries[i-1]
		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
	}
	return nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		return "", nil
	}
	return l.entries[len(l.entries)-1].Hash, nil
}

// tamper overwrites the content hash of an entry without re-chaining.
// Only used by tests to exercise Verify.
func (l *MemoryLedger) tamper(index int, contentHash string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[index].ContentHash = contentHash
}
