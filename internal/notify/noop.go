package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/jmerrifield20/AuditVault/internal/model"
)

// Noop logs anchored events instead of publishing them.
// Use in development or when NATS is not configured.
type Noop struct {
	logger *zap.Logger
}

// NewNoop creates a Noop publisher backed by the given logger.
func NewNoop(logger *zap.Logger) *Noop {
	return &Noop{logger: logger}
}

// PublishAnchored logs the record and returns nil.
func (n *Noop) PublishAnchored(_ context.Context, rec *model.Record) error {
	if rec == nil {
		return nil
	}
	n.logger.Debug("anchored event (noop, not published)",
		zap.Int64("event_id", rec.ID),
		zap.String("hash", rec.ContentHash),
		zap.String("fabric_tx_id", rec.LedgerRef),
	)
	return nil
}
