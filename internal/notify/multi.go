package notify

import (
	"context"
	"errors"

	"github.com/jmerrifield20/AuditVault/internal/model"
)

// Multi fans one record out to several publishers.
type Multi []Publisher

// PublishAnchored calls every publisher and joins their errors.
func (m Multi) PublishAnchored(ctx context.Context, rec *model.Record) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishAnchored(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
