package audit

import (
	"context"
	"errors"
	"fmt"
)

// RecorderRepository is the persistence sink for audit writes.
type RecorderRepository interface {
	InsertAccessLog(ctx context.Context, entry AccessLog) error
	InsertPolicyViolations(ctx context.Context, violations []PolicyViolation) error
	InsertChangeHistory(ctx context.Context, change Change) error
}

// Recorder writes append-only audit records. All three write paths validate
// their input; none of them is ever updated or deleted outside retention.
type Recorder struct {
	repo RecorderRepository
}

// NewRecorder constructs a Recorder.
func NewRecorder(repo RecorderRepository) *Recorder {
	return &Recorder{repo: repo}
}

// RecordAccess persists one decision record.
func (r *Recorder) RecordAccess(ctx context.Context, entry AccessLog) error {
	if r == nil || r.repo == nil {
		return errors.New("audit: recorder not configured")
	}
	if entry.Decision != DecisionAllow && entry.Decision != DecisionDeny {
		return fmt.Errorf("audit: invalid decision %q", entry.Decision)
	}
	if entry.Path == "" || entry.Method == "" {
		return errors.New("audit: access log requires path and method")
	}
	return r.repo.InsertAccessLog(ctx, entry)
}

// RecordViolations persists the failing policy checks behind one denial.
func (r *Recorder) RecordViolations(ctx context.Context, violations []PolicyViolation) error {
	if r == nil || r.repo == nil {
		return errors.New("audit: recorder not configured")
	}
	if len(violations) == 0 {
		return nil
	}
	for _, v := range violations {
		if v.Attribute == "" {
			return errors.New("audit: violation requires attribute")
		}
	}
	return r.repo.InsertPolicyViolations(ctx, violations)
}

// RecordChange persists a before/after snapshot of one mutation.
func (r *Recorder) RecordChange(ctx context.Context, change Change) error {
	if r == nil || r.repo == nil {
		return errors.New("audit: recorder not configured")
	}
	switch change.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return fmt.Errorf("audit: invalid action %q", change.Action)
	}
	if change.TableName == "" || change.RecordID == "" {
		return errors.New("audit: change requires table_name and record_id")
	}
	return r.repo.InsertChangeHistory(ctx, change)
}
