package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmerrifield20/AuditVault/internal/model"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQL stores records through database/sql using SQLite syntax.
type SQL struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite database at path and
// applies the schema. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serialises writers and keeps ":memory:" databases
	// from splitting across the pool.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return NewSQL(db), nil
}

// NewSQL wraps an open database that already has the audit_events schema.
func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Close releases the database.
func (s *SQL) Close() error {
	return s.db.Close()
}

// Insert stores r in a single INSERT statement.
func (s *SQL) Insert(ctx context.Context, r *model.Record) (*model.Record, error) {
	data, err := encodeEvent(r.Event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	rec := cloneRecord(r)
	rec.CreatedAt = s.now().Truncate(time.Millisecond)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_data, hash_value, fabric_tx_id, anchored, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		data, r.ContentHash, r.LedgerRef, r.Anchored, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert %s: %w", r.LedgerRef, ErrDuplicateRef)
		}
		return nil, fmt.Errorf("insert audit event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted id: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// Get returns the record with the given ID.
func (s *SQL) Get(ctx context.Context, id int64) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM audit_events WHERE id = ?`, id)
	return scanSQLRecord(row)
}

// GetByLedgerRef returns the record anchored under ref.
func (s *SQL) GetByLedgerRef(ctx context.Context, ref string) (*model.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM audit_events WHERE fabric_tx_id = ?`, ref)
	return scanSQLRecord(row)
}

// List returns records newest first.
func (s *SQL) List(ctx context.Context, limit, offset int) ([]*model.Record, error) {
	limit, offset = clampList(limit, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM audit_events ORDER BY id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []*model.Record
	for rows.Next() {
		rec, err := scanSQLRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *SQL) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type sqlScanner interface {
	Scan(dest ...any) error
}

func scanSQLRecord(row sqlScanner) (*model.Record, error) {
	var (
		rec       model.Record
		data      string
		createdMs int64
	)
	if err := row.Scan(&rec.ID, &data, &rec.ContentHash, &rec.LedgerRef, &rec.Anchored, &createdMs); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan audit event: %w", err)
	}
	ev, err := decodeEvent(data)
	if err != nil {
		return nil, fmt.Errorf("decode stored event %d: %w", rec.ID, err)
	}
	rec.Event = ev
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
