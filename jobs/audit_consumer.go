package jobs

import (
	"context"

	"github.com/odyssey-erp/odyssey-iam/internal/audit"
	"github.com/odyssey-erp/odyssey-iam/internal/events"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// AuditConsumer writes every domain event to the audit log.
type AuditConsumer struct {
	Store AuditRecorder
}

// Handle implements events.Handler.
func (c *AuditConsumer) Handle(ctx context.Context, event events.Event) error {
	meta := event.Meta
	if _, ok := meta[events.MetaInitialPassword]; ok {
		meta = make(map[string]string, len(event.Meta))
		for k, v := range event.Meta {
			if k != events.MetaInitialPassword {
				meta[k] = v
			}
		}
	}
	return c.Store.Record(ctx, audit.Entry{
		EventID:    event.ID,
		Topic:      event.Type,
		Actor:      event.Actor,
		Subject:    event.Subject,
		Payload:    event.Payload,
		Meta:       meta,
		OccurredAt: event.OccurredAt,
	})
}
