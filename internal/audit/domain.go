package audit

import "time"

// Decision outcomes stored in access_logs.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
)

// Actions stored in change_history.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// AccessLog is the immutable record of one access decision. Entity
// references are pointers because the referenced row may be deleted later;
// the trail must survive it.
type AccessLog struct {
	ID         int64     `json:"id"`
	UserID     *int64    `json:"user_id"`
	RoleID     *int64    `json:"role_id"`
	FeatureID  *int64    `json:"feature_id"`
	Path       string    `json:"path"`
	Method     string    `json:"method"`
	Decision   string    `json:"decision"`
	Reason     string    `json:"reason"`
	RequestID  string    `json:"request_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PolicyViolation records one failing policy check behind a denial.
type PolicyViolation struct {
	ID            int64     `json:"id"`
	UserID        *int64    `json:"user_id"`
	FeatureID     *int64    `json:"feature_id"`
	PolicyID      *int64    `json:"policy_id"`
	Attribute     string    `json:"attribute"`
	ExpectedValue string    `json:"expected_value"`
	ActualValue   *string   `json:"actual_value"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Change is a generic mutation audit record with before/after snapshots.
// The snapshots are opaque maps; they mirror whatever shape the mutated
// resource has.
type Change struct {
	ID         int64          `json:"id"`
	ActorID    *int64         `json:"actor_id"`
	TableName  string         `json:"table_name"`
	RecordID   string         `json:"record_id"`
	Action     string         `json:"action"`
	OldValues  map[string]any `json:"old_values,omitempty"`
	NewValues  map[string]any `json:"new_values,omitempty"`
	Reason     string         `json:"reason"`
	OccurredAt time.Time      `json:"occurred_at"`
}
