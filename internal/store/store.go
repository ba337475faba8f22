// Package store persists anchored audit records. Every implementation
// enforces one record per ledger reference and inserts each record in a
// single atomic statement.
package store

import (
	"errors"

	"github.com/jmerrifield20/AuditVault/internal/event"
	"github.com/jmerrifield20/AuditVault/internal/model"
)

var (
	// ErrNotFound is returned when no record matches the lookup.
	ErrNotFound = errors.New("audit record not found")

	// ErrDuplicateRef is returned by Insert when a record already exists for
	// the ledger reference.
	ErrDuplicateRef = errors.New("ledger reference already recorded")
)

const defaultListLimit = 50

// clampList applies the default and upper page size.
func clampList(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// encodeEvent renders the raw event for storage. Member order and number
// literals are kept as received.
func encodeEvent(v event.Value) (string, error) {
	b, err := v.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeEvent(data string) (event.Value, error) {
	return event.ParseValue([]byte(data))
}

// cloneRecord returns a deep enough copy for callers to own. event.Value is
// immutable so it is shared.
func cloneRecord(r *model.Record) *model.Record {
	cp := *r
	return &cp
}
