package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-iam/internal/events"
	"github.com/odyssey-erp/odyssey-iam/internal/mail"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueEvents carries domain events; the task type is the event topic.
	QueueEvents = "events"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskPurgeCancelled is the daily sweep of long-cancelled accounts.
	TaskPurgeCancelled = "users:purge_cancelled"
)

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(msg mail.Message) (*asynq.Task, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewEventTask wraps a domain event for the events queue.
func NewEventTask(event events.Event) (*asynq.Task, error) {
	if event.Type == "" {
		return nil, errors.New("jobs: event type required")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("jobs: encode event: %w", err)
	}
	return asynq.NewTask(event.Type, data), nil
}

// NewPurgeCancelledTask constructs the purge sweep task.
func NewPurgeCancelledTask() *asynq.Task {
	return asynq.NewTask(TaskPurgeCancelled, nil)
}

// SendEmailJob delivers queued mail.
type SendEmailJob struct {
	Sender mail.Sender
	Logger *slog.Logger
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func (j *SendEmailJob) HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var msg mail.Message
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("jobs: decode mail: %v: %w", err, asynq.SkipRetry)
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("jobs: %v: %w", err, asynq.SkipRetry)
	}
	if err := j.Sender.Send(ctx, msg); err != nil {
		if j.Logger != nil {
			j.Logger.Warn("send email", slog.String("to", msg.To), slog.Any("error", err))
		}
		return err
	}
	return nil
}

// EventHandler adapts a Router to asynq: every delivered event task is decoded
// and fanned out to its subscribers.
func EventHandler(router *events.Router) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var event events.Event
		if err := json.Unmarshal(t.Payload(), &event); err != nil {
			return fmt.Errorf("jobs: decode event %s: %v: %w", t.Type(), err, asynq.SkipRetry)
		}
		if event.Type == "" {
			event.Type = t.Type()
		}
		return router.Dispatch(ctx, event)
	}
}
