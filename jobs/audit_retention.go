package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

var retentionTables = []string{"access_logs", "policy_violations", "change_history"}

// RetentionStore deletes aged rows from one audit table.
type RetentionStore interface {
	DeleteOlderThan(ctx context.Context, table string, cutoffDays int) (int64, error)
}

// AuditRetentionJob removes audit rows older than the configured retention window.
type AuditRetentionJob struct {
	Repo    RetentionStore
	Logger  *slog.Logger
	Default int

	clock func() time.Time
}

// NewAuditRetentionJob initialises the retention handler.
func NewAuditRetentionJob(repo RetentionStore, logger *slog.Logger, defaultDays int) *AuditRetentionJob {
	return &AuditRetentionJob{
		Repo:    repo,
		Logger:  logger,
		Default: defaultDays,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a retention sweep across all audit tables.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Repo == nil {
		return errors.New("audit retention: handler not configured")
	}
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	days := payload.RetentionDays
	if days <= 0 {
		days = j.Default
	}
	if days <= 0 {
		j.logger().Info("audit retention disabled, skipping sweep")
		return nil
	}

	start := j.clock()
	var firstErr error
	for _, table := range retentionTables {
		removed, err := j.Repo.DeleteOlderThan(ctx, table, days)
		if err != nil {
			j.logger().Error("audit retention sweep failed",
				slog.String("table", table),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		j.logger().Info("audit retention sweep",
			slog.String("table", table),
			slog.Int64("removed", removed),
			slog.Int("retention_days", days))
	}
	j.logger().Info("audit retention done",
		slog.Duration("elapsed", j.clock().Sub(start)))
	return firstErr
}

func (j *AuditRetentionJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
