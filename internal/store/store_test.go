package store_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmerrifield20/AuditVault/internal/canonical"
	"github.com/jmerrifield20/AuditVault/internal/event"
	"github.com/jmerrifield20/AuditVault/internal/model"
	"github.com/jmerrifield20/AuditVault/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordStore is the method set shared by every implementation.
type recordStore interface {
	Insert(ctx context.Context, r *model.Record) (*model.Record, error)
	Get(ctx context.Context, id int64) (*model.Record, error)
	GetByLedgerRef(ctx context.Context, ref string) (*model.Record, error)
	List(ctx context.Context, limit, offset int) ([]*model.Record, error)
	Count(ctx context.Context) (int64, error)
}

func newRecord(t *testing.T, raw, ref string) *model.Record {
	t.Helper()
	ev, err := event.Parse([]byte(raw))
	require.NoError(t, err)
	h, err := canonical.NewHasher().Hash(ev)
	require.NoError(t, err)
	return &model.Record{Event: ev, ContentHash: h.String(), LedgerRef: ref, Anchored: true}
}

func exerciseStore(t *testing.T, s recordStore) {
	ctx := context.Background()

	raw := `{"user":"alice","action":"login","ts":1690000000,"amount":1.50}`
	in := newRecord(t, raw, "tx-1")
	got, err := s.Insert(ctx, in)
	require.NoError(t, err)
	assert.Positive(t, got.ID)
	assert.False(t, got.CreatedAt.IsZero())
	assert.Zero(t, in.ID, "Insert must not mutate its argument")

	loaded, err := s.Get(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, in.ContentHash, loaded.ContentHash)
	assert.Equal(t, "tx-1", loaded.LedgerRef)
	assert.True(t, loaded.Anchored)

	// The raw event comes back verbatim and re-hashes to the stored hash.
	b, err := loaded.Event.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, raw, string(b))
	h, err := canonical.NewHasher().Hash(loaded.Event)
	require.NoError(t, err)
	assert.Equal(t, loaded.ContentHash, h.String())

	byRef, err := s.GetByLedgerRef(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, got.ID, byRef.ID)

	_, err = s.Insert(ctx, newRecord(t, `{"other":true}`, "tx-1"))
	assert.ErrorIs(t, err, store.ErrDuplicateRef)

	_, err = s.Get(ctx, 9999)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetByLedgerRef(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	for i := 2; i <= 4; i++ {
		_, err := s.Insert(ctx, newRecord(t, fmt.Sprintf(`{"seq":%d}`, i), fmt.Sprintf("tx-%d", i)))
		require.NoError(t, err)
	}
	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	page, err := s.List(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "tx-3", page[0].LedgerRef)
	assert.Equal(t, "tx-2", page[1].LedgerRef)
}

func TestMemory(t *testing.T) {
	exerciseStore(t, store.NewMemory())
}

func TestSQLite_inMemory(t *testing.T) {
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestSQLite_file(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	s, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	_, err = s.Insert(context.Background(), newRecord(t, `{"a":1}`, "tx-a"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := store.OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer reopened.Close()
	rec, err := reopened.GetByLedgerRef(context.Background(), "tx-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.ID)
}

func TestOpenSQLite_requiresPath(t *testing.T) {
	_, err := store.OpenSQLite(context.Background(), "  ")
	assert.Error(t, err)
}

func TestSQL_insertFailureLeavesNoRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), "tx-1", true, sqlmock.AnyArg()).
		WillReturnError(errors.New("disk I/O error"))

	s := store.NewSQL(db)
	_, err = s.Insert(context.Background(), newRecord(t, `{"a":1}`, "tx-1"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrDuplicateRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_uniqueViolationMapsToDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnError(errors.New("UNIQUE constraint failed: audit_events.fabric_tx_id"))

	_, err = store.NewSQL(db).Insert(context.Background(), newRecord(t, `{"a":1}`, "tx-1"))
	assert.ErrorIs(t, err, store.ErrDuplicateRef)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_insertReturnsAssignedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO audit_events").
		WithArgs(`{"a":1}`, sqlmock.AnyArg(), "tx-9", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(42, 1))

	rec, err := store.NewSQL(db).Insert(context.Background(), newRecord(t, `{"a":1}`, "tx-9"))
	require.NoError(t, err)
	assert.Equal(t, int64(42), rec.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQL_corruptStoredEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "event_data", "hash_value", "fabric_tx_id", "anchored", "created_at"}).
		AddRow(int64(1), `{"a":`, "d171f4834444358b1cba27ad2559e8eca3011c7a752f99241a9cd2673d03ad35", "tx-1", true, int64(0))
	mock.ExpectQuery("SELECT (.+) FROM audit_events WHERE id = ?").WithArgs(int64(1)).WillReturnRows(rows)

	_, err = store.NewSQL(db).Get(context.Background(), 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, store.ErrNotFound)
}

func TestMemory_concurrentInserts(t *testing.T) {
	s := store.NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Insert(context.Background(), &model.Record{
				Event:       event.Null(),
				ContentHash: "d171f4834444358b1cba27ad2559e8eca3011c7a752f99241a9cd2673d03ad35",
				LedgerRef:   fmt.Sprintf("tx-%d", i),
				Anchored:    true,
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	n, _ := s.Count(context.Background())
	assert.Equal(t, int64(50), n)
}
