package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/AuditVault/internal/model"
)

const recordColumns = `id, event_data, hash_value, fabric_tx_id, anchored, created_at`

// Postgres stores records in the audit_events table.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres creates a Postgres store.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Insert stores r in a single INSERT ... RETURNING statement.
func (s *Postgres) Insert(ctx context.Context, r *model.Record) (*model.Record, error) {
	data, err := encodeEvent(r.Event)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}

	rec := cloneRecord(r)
	err = s.db.QueryRow(ctx,
		`INSERT INTO audit_events (event_data, hash_value, fabric_tx_id, anchored)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		data, r.ContentHash, r.LedgerRef, r.Anchored,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("insert %s: %w", r.LedgerRef, ErrDuplicateRef)
		}
		return nil, fmt.Errorf("insert audit event: %w", err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

// Get returns the record with the given ID.
func (s *Postgres) Get(ctx context.Context, id int64) (*model.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM audit_events WHERE id = $1`, id)
	return scanRecord(row)
}

// GetByLedgerRef returns the record anchored under ref.
func (s *Postgres) GetByLedgerRef(ctx context.Context, ref string) (*model.Record, error) {
	row := s.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM audit_events WHERE fabric_tx_id = $1`, ref)
	return scanRecord(row)
}

// List returns records newest first.
func (s *Postgres) List(ctx context.Context, limit, offset int) ([]*model.Record, error) {
	limit, offset = clampList(limit, offset)
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM audit_events ORDER BY id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Count returns the number of stored records.
func (s *Postgres) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM audit_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

// Ping checks connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanRecord(row pgx.Row) (*model.Record, error) {
	var (
		rec  model.Record
		data string
	)
	if err := row.Scan(&rec.ID, &data, &rec.ContentHash, &rec.LedgerRef, &rec.Anchored, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan audit event: %w", err)
	}
	ev, err := decodeEvent(data)
	if err != nil {
		return nil, fmt.Errorf("decode stored event %d: %w", rec.ID, err)
	}
	rec.Event = ev
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}
