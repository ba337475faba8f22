// Package notify announces anchored audit events to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmerrifield20/AuditVault/internal/model"
)

// DefaultSubject is the NATS subject anchored events are published on.
const DefaultSubject = "auditvault.events.anchored"

// Message is the payload published for every anchored record.
type Message struct {
	EventID    int64     `json:"event_id"`
	Hash       string    `json:"hash"`
	FabricTxID string    `json:"fabric_tx_id"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// NewMessage builds the notification payload for rec.
func NewMessage(rec *model.Record) Message {
	return Message{
		EventID:    rec.ID,
		Hash:       rec.ContentHash,
		FabricTxID: rec.LedgerRef,
		AnchoredAt: rec.CreatedAt,
	}
}

func encode(rec *model.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("notify: nil record")
	}
	b, err := json.Marshal(NewMessage(rec))
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return b, nil
}

// Publisher is implemented by NATSPublisher, WebhookPublisher, Multi and Noop.
type Publisher interface {
	PublishAnchored(ctx context.Context, rec *model.Record) error
}
