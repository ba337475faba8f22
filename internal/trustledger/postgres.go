package trustledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all fabric gateway instances.
const advisoryLockKey = int64(1_159_876_543)

const entryColumns = `idx, timestamp, content_hash, submitter, prev_hash, hash`

// PostgresLedger persists the hash chain to a PostgreSQL database.
// It implements the Ledger interface.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresLedger creates a PostgresLedger backed by the given connection pool.
func NewPostgresLedger(pool *pgxpool.Pool, logger *zap.Logger) *PostgresLedger {
	return &PostgresLedger{pool: pool, logger: logger}
}

// Init inserts the genesis entry if the chain is empty.
func (l *PostgresLedger) Init(ctx context.Context) error {
	_, err := l.pool.Exec(ctx,
		`INSERT INTO trust_ledger (`+entryColumns+`)
		 VALUES (0, $1, $2, 'fabric-system', $2, $2)
		 ON CONFLICT (idx) DO NOTHING`,
		time.Now().UTC(), GenesisHash,
	)
	if err != nil {
		return fmt.Errorf("insert genesis entry: %w", err)
	}
	return nil
}

// Append implements Ledger.
// It acquires a PostgreSQL advisory lock, reads the chain tail, computes the
// new entry hash, and inserts it, all within a single transaction.
func (l *PostgresLedger) Append(ctx context.Context, contentHash, submitter string) (*Entry, error) {
	if err := validateContentHash(contentHash); err != nil {
		return nil, err
	}

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	// The lock is automatically released when the transaction commits or rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	var prevIdx int
	var prevHash string
	if err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM trust_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash); err != nil {
		return nil, fmt.Errorf("read ledger tail: %w", err)
	}

	entry := &Entry{
		Index:       prevIdx + 1,
		Timestamp:   time.Now().UTC().Truncate(time.Microsecond),
		ContentHash: contentHash,
		Submitter:   submitter,
		PrevHash:    prevHash,
	}
	entry.Hash = hashEntry(entry)

	if _, err := tx.Exec(ctx,
		`INSERT INTO trust_ledger (`+entryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.Index, entry.Timestamp, entry.ContentHash,
		entry.Submitter, entry.PrevHash, entry.Hash,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit ledger tx: %w", err)
	}

	l.logger.Debug("ledger entry appended",
		zap.Int("idx", entry.Index),
		zap.String("content_hash", entry.ContentHash),
		zap.String("submitter", entry.Submitter),
	)
	return entry, nil
}

// Get implements Ledger.
func (l *PostgresLedger) Get(ctx context.Context, index int) (*Entry, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM trust_ledger WHERE idx = $1`, index)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get ledger entry %d: %w", index, err)
	}
	return entry, nil
}

// GetByTxID implements Ledger.
func (l *PostgresLedger) GetByTxID(ctx context.Context, txID string) (*Entry, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM trust_ledger WHERE hash = $1`, txID)
	entry, err := scanEntry(row)
	if err != nil {
		return nil, fmt.Errorf("get ledger tx %s: %w", txID, err)
	}
	return entry, nil
}

// Len implements Ledger.
func (l *PostgresLedger) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trust_ledger").Scan(&n); err != nil {
		return 0, fmt.Errorf("count ledger entries: %w", err)
	}
	return n, nil
}

// Verify implements Ledger. It streams all rows ordered by idx and validates
// the hash chain. O(n) in ledger length; may be slow for very large ledgers.
func (l *PostgresLedger) Verify(ctx context.Context) error {
	rows, err := l.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM trust_ledger ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var prev *Entry
	for rows.Next() {
		curr, err := scanEntry(rows)
		if err != nil {
			return fmt.Errorf("scan ledger row: %w", err)
		}

		if prev == nil {
			// Validate genesis: hash must be the well-known constant.
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			prev = curr
			continue
		}

		if curr.PrevHash != prev.Hash {
			return fmt.Errorf("hash chain broken at index %d", curr.Index)
		}
		if curr.Hash != hashEntry(curr) {
			return fmt.Errorf("entry %d has invalid hash", curr.Index)
		}
		prev = curr
	}
	return rows.Err()
}

// Root implements Ledger.
func (l *PostgresLedger) Root(ctx context.Context) (string, error) {
	var hash string
	if err := l.pool.QueryRow(ctx,
		"SELECT hash FROM trust_ledger ORDER BY idx DESC LIMIT 1",
	).Scan(&hash); err != nil {
		return "", fmt.Errorf("get ledger root: %w", err)
	}
	return hash, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	e := &Entry{}
	if err := row.Scan(
		&e.Index, &e.Timestamp, &e.ContentHash,
		&e.Submitter, &e.PrevHash, &e.Hash,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	e.Timestamp = e.Timestamp.UTC()
	return e, nil
}
