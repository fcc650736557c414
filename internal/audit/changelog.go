package audit

import (
	"context"
	"log/slog"
)

// FailureCounter is the operator-visible channel for audit write failures.
type FailureCounter interface {
	IncAuditFailure(kind string)
}

// ChangeLog is the fire-and-continue front of the change history write path.
// A failed write never fails the mutation that triggered it, but it is
// always logged and counted.
type ChangeLog struct {
	recorder *Recorder
	logger   *slog.Logger
	metrics  FailureCounter
}

// NewChangeLog constructs a ChangeLog.
func NewChangeLog(recorder *Recorder, logger *slog.Logger, metrics FailureCounter) *ChangeLog {
	return &ChangeLog{recorder: recorder, logger: logger, metrics: metrics}
}

// RecordChange persists the change, surfacing failures without propagating
// them.
func (c *ChangeLog) RecordChange(ctx context.Context, change Change) {
	if c == nil || c.recorder == nil {
		return
	}
	if err := c.recorder.RecordChange(ctx, change); err != nil {
		if c.logger != nil {
			c.logger.Error("change history write failed",
				slog.String("table", change.TableName),
				slog.String("record_id", change.RecordID),
				slog.Any("error", err))
		}
		if c.metrics != nil {
			c.metrics.IncAuditFailure("change_history")
		}
	}
}
