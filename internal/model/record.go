package model

import (
	"time"

	"github.com/jmerrifield20/AuditVault/internal/event"
)

// Record is a persisted, anchored audit event. It is created once per
// successful anchor call and never mutated.
type Record struct {
	ID          int64       `json:"event_id"`
	Event       event.Value `json:"event"`
	ContentHash string      `json:"hash"`
	LedgerRef   string      `json:"fabric_tx_id"`
	Anchored    bool        `json:"anchored"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AuditEventRequest is the body of POST /api/v1/audit-events.
type AuditEventRequest struct {
	Event event.Value `json:"event"`
}

// AuditEventResponse is returned after a successful anchor.
type AuditEventResponse struct {
	EventID    int64  `json:"event_id"`
	Hash       string `json:"hash"`
	FabricTxID string `json:"fabric_tx_id"`
	Anchored   bool   `json:"anchored"`
}

// NewAuditEventResponse builds the response for r.
func NewAuditEventResponse(r *Record) AuditEventResponse {
	return AuditEventResponse{
		EventID:    r.ID,
		Hash:       r.ContentHash,
		FabricTxID: r.LedgerRef,
		Anchored:   r.Anchored,
	}
}

// Verification is the outcome of re-checking a stored record.
type Verification struct {
	EventID      int64  `json:"event_id"`
	StoredHash   string `json:"stored_hash"`
	ComputedHash string `json:"computed_hash"`
	FabricTxID   string `json:"fabric_tx_id"`
	// LedgerHash is the hash the ledger holds for FabricTxID. Empty when the
	// ledger client cannot look references up.
	LedgerHash    string `json:"ledger_hash,omitempty"`
	HashMatches   bool   `json:"hash_matches"`
	LedgerChecked bool   `json:"ledger_checked"`
	LedgerMatches bool   `json:"ledger_matches"`
	Valid         bool   `json:"valid"`
}
