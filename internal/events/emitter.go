package events

import (
	"context"
	"log/slog"
	"time"
)

const publishTimeout = 2 * time.Second

// Emitter publishes events fire-and-forget. A failed publish is logged and
// never reaches the caller, whose relational write has already committed.
type Emitter struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewEmitter wraps publisher. A nil publisher turns Emit into a no-op.
func NewEmitter(publisher Publisher, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{publisher: publisher, logger: logger}
}

// Emit builds and publishes an event.
func (e *Emitter) Emit(ctx context.Context, topic, actor, subject string, payload any, meta map[string]string) {
	if e == nil || e.publisher == nil {
		return
	}
	event, err := New(topic, actor, subject, payload, meta)
	if err != nil {
		e.logger.Warn("build event", slog.String("topic", topic), slog.Any("error", err))
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("publish event",
			slog.String("topic", topic),
			slog.String("event_id", event.ID),
			slog.String("subject", subject),
			slog.Any("error", err))
	}
}
