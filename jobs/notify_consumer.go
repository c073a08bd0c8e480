package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/mail"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// NotifyTopics are the events that produce user-facing mail.
var NotifyTopics = []string{events.UserCreated, events.UserCancelled, events.UserUncancelled}

// Marker records that an event was already handled.
type Marker interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// MailQueue hands a message to the retrying mail:send task.
type MailQueue interface {
	EnqueueSendEmail(ctx context.Context, msg mail.Message) error
}

// NotifyConsumer mails account lifecycle notices. Each event id is mailed at
// most once per MarkerTTL even if the event is delivered again. Event
// fan-out is never redelivered, so a failed send is handed to Retry.
type NotifyConsumer struct {
	Sender     mail.Sender
	Retry      MailQueue
	Marker     Marker
	MarkerTTL  time.Duration
	PurgeAfter time.Duration
	Logger     *slog.Logger
}

// Handle implements events.Handler.
func (c *NotifyConsumer) Handle(ctx context.Context, event events.Event) error {
	var u users.User
	if err := event.Decode(&u); err != nil {
		return fmt.Errorf("notify: decode %s: %w", event.Type, err)
	}
	if u.Email == "" {
		return nil
	}
	var msg mail.Message
	switch event.Type {
	case events.UserCreated:
		msg = mail.Welcome(u.Email, u.Username, event.Meta[events.MetaInitialPassword])
	case events.UserCancelled:
		msg = mail.Cancelled(u.Email, u.Username, c.purgeAfter())
	case events.UserUncancelled:
		msg = mail.Restored(u.Email, u.Username)
	default:
		return nil
	}

	key := "event:" + event.ID + ":notified"
	first, err := c.Marker.SetNX(ctx, key, "1", c.markerTTL())
	if err != nil {
		// mail anyway; a redelivery may then send a duplicate
		c.logger().Warn("notify marker", slog.String("event_id", event.ID), slog.Any("error", err))
		first = true
	}
	if !first {
		c.logger().Debug("notification already sent", slog.String("event_id", event.ID))
		return nil
	}
	sendErr := c.Sender.Send(ctx, msg)
	if sendErr == nil {
		return nil
	}
	if c.Retry == nil {
		return fmt.Errorf("notify: send %s: %w", event.Type, sendErr)
	}
	if err := c.Retry.EnqueueSendEmail(ctx, msg); err != nil {
		return fmt.Errorf("notify: send %s: %w; requeue: %v", event.Type, sendErr, err)
	}
	c.logger().Warn("notification requeued",
		slog.String("event_id", event.ID),
		slog.String("topic", event.Type),
		slog.Any("error", sendErr),
	)
	return nil
}

func (c *NotifyConsumer) markerTTL() time.Duration {
	if c.MarkerTTL <= 0 {
		return 7 * 24 * time.Hour
	}
	return c.MarkerTTL
}

func (c *NotifyConsumer) purgeAfter() time.Duration {
	if c.PurgeAfter <= 0 {
		return DefaultPurgeAfter
	}
	return c.PurgeAfter
}

func (c *NotifyConsumer) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}
