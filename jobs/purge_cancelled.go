package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// DefaultPurgeAfter is how long a cancelled account stays recoverable.
const DefaultPurgeAfter = 30 * 24 * time.Hour

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Purger removes accounts cancelled before a cutoff.
type Purger interface {
	PurgeCancelled(ctx context.Context, cutoff time.Time) ([]users.User, error)
}

// PurgeCancelledJob hard-deletes accounts whose cancellation is older than After.
type PurgeCancelledJob struct {
	Users   Purger
	After   time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPurgeCancelledJob wires dependencies for the purge handler.
func NewPurgeCancelledJob(purger Purger, after time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeCancelledJob {
	if after <= 0 {
		after = DefaultPurgeAfter
	}
	return &PurgeCancelledJob{
		Users:   purger,
		After:   after,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskPurgeCancelled tasks.
func (j *PurgeCancelledJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run performs one sweep and returns the number of purged accounts.
func (j *PurgeCancelledJob) Run(ctx context.Context) (int, error) {
	if j == nil || j.Users == nil {
		return 0, errors.New("purge cancelled: handler not configured")
	}
	metrics := j.metrics()
	tracker := metrics.Track(TaskPurgeCancelled)
	cutoff := j.now().Add(-j.After)
	logger := j.logger().With(slog.Time("cutoff", cutoff))

	purged, err := j.Users.PurgeCancelled(ctx, cutoff)
	if err != nil {
		logger.Error("purge cancelled users", slog.Any("error", err))
		return 0, tracker.End(err)
	}
	metrics.AddPurged(len(purged))
	logger.Info("purged cancelled users", slog.Int("count", len(purged)))
	return len(purged), tracker.End(nil)
}

func (j *PurgeCancelledJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *PurgeCancelledJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}

func (j *PurgeCancelledJob) metrics() *jobmetrics.Metrics {
	if j.Metrics == nil {
		return defaultJobMetrics
	}
	return j.Metrics
}
