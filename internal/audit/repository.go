package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for audit records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertAccessLog appends one decision record.
func (r *Repository) InsertAccessLog(ctx context.Context, entry AccessLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO access_logs (user_id, role_id, feature_id, path, method, decision, reason, request_id, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()))`,
		entry.UserID, entry.RoleID, entry.FeatureID, entry.Path, entry.Method,
		entry.Decision, entry.Reason, entry.RequestID, nullTime(entry.OccurredAt))
	return err
}

// InsertPolicyViolations appends the failing checks of one denial.
func (r *Repository) InsertPolicyViolations(ctx context.Context, violations []PolicyViolation) error {
	batch := &pgx.Batch{}
	for _, v := range violations {
		batch.Queue(`
			INSERT INTO policy_violations (user_id, feature_id, policy_id, attribute, expected_value, actual_value, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, NOW()))`,
			v.UserID, v.FeatureID, v.PolicyID, v.Attribute, v.ExpectedValue, v.ActualValue, nullTime(v.OccurredAt))
	}
	return r.pool.SendBatch(ctx, batch).Close()
}

// InsertChangeHistory appends one mutation record.
func (r *Repository) InsertChangeHistory(ctx context.Context, change Change) error {
	oldJSON, err := marshalSnapshot(change.OldValues)
	if err != nil {
		return err
	}
	newJSON, err := marshalSnapshot(change.NewValues)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO change_history (user_id, table_name, record_id, action, old_values, new_values, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()))`,
		change.ActorID, change.TableName, change.RecordID, change.Action,
		oldJSON, newJSON, change.Reason, nullTime(change.OccurredAt))
	return err
}

// ListAccessLogs returns a page of decision records, newest first.
func (r *Repository) ListAccessLogs(ctx context.Context, f AccessLogFilters, limit, offset int) ([]AccessLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, role_id, feature_id, path, method, decision, reason, request_id, occurred_at
		FROM access_logs
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at < $2)
		  AND ($3::bigint IS NULL OR user_id = $3)
		  AND ($4::text IS NULL OR decision = $4)
		  AND ($5::text IS NULL OR path = $5)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $6 OFFSET $7`,
		f.from(), f.to(), f.UserID, nullString(f.Decision), nullString(f.Path), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []AccessLog
	for rows.Next() {
		var l AccessLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.RoleID, &l.FeatureID, &l.Path, &l.Method, &l.Decision, &l.Reason, &l.RequestID, &l.OccurredAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// ListPolicyViolations returns a page of violation records, newest first.
func (r *Repository) ListPolicyViolations(ctx context.Context, userID *int64, limit, offset int) ([]PolicyViolation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, feature_id, policy_id, attribute, expected_value, actual_value, occurred_at
		FROM policy_violations
		WHERE ($1::bigint IS NULL OR user_id = $1)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var violations []PolicyViolation
	for rows.Next() {
		var v PolicyViolation
		if err := rows.Scan(&v.ID, &v.UserID, &v.FeatureID, &v.PolicyID, &v.Attribute, &v.ExpectedValue, &v.ActualValue, &v.OccurredAt); err != nil {
			return nil, err
		}
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// ListChanges returns a page of mutation records, newest first.
func (r *Repository) ListChanges(ctx context.Context, f ChangeFilters, limit, offset int) ([]Change, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, table_name, record_id, action, old_values, new_values, reason, occurred_at
		FROM change_history
		WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
		  AND ($2::timestamptz IS NULL OR occurred_at < $2)
		  AND ($3::bigint IS NULL OR user_id = $3)
		  AND ($4::text IS NULL OR table_name = $4)
		  AND ($5::text IS NULL OR action = $5)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $6 OFFSET $7`,
		f.from(), f.to(), f.ActorID, nullString(f.Table), nullString(f.Action), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var changes []Change
	for rows.Next() {
		var c Change
		var oldJSON, newJSON []byte
		if err := rows.Scan(&c.ID, &c.ActorID, &c.TableName, &c.RecordID, &c.Action, &oldJSON, &newJSON, &c.Reason, &c.OccurredAt); err != nil {
			return nil, err
		}
		if len(oldJSON) > 0 {
			if err := json.Unmarshal(oldJSON, &c.OldValues); err != nil {
				return nil, err
			}
		}
		if len(newJSON) > 0 {
			if err := json.Unmarshal(newJSON, &c.NewValues); err != nil {
				return nil, err
			}
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// DeleteOlderThan removes audit rows past the retention window. Used only by
// the retention job.
func (r *Repository) DeleteOlderThan(ctx context.Context, table string, cutoffDays int) (int64, error) {
	var query string
	switch table {
	case "access_logs":
		query = `DELETE FROM access_logs WHERE occurred_at < NOW() - make_interval(days => $1)`
	case "policy_violations":
		query = `DELETE FROM policy_violations WHERE occurred_at < NOW() - make_interval(days => $1)`
	case "change_history":
		query = `DELETE FROM change_history WHERE occurred_at < NOW() - make_interval(days => $1)`
	default:
		return 0, errUnknownTable(table)
	}
	tag, err := r.pool.Exec(ctx, query, cutoffDays)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func marshalSnapshot(values map[string]any) ([]byte, error) {
	if values == nil {
		return nil, nil
	}
	return json.Marshal(values)
}
