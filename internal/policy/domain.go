package policy

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalid marks policy validation failures: configuration errors caught
// at admin time.
var ErrInvalid = errors.New("policy: invalid")

// Operator compares a user attribute against a policy value.
type Operator string

// Supported operators. The in operator takes a comma-separated value list.
const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "neq"
	OpGreater      Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLess         Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpIn           Operator = "in"
)

// Policy is one attribute rule attached to a feature. Every policy on a
// feature must hold for access to proceed.
type Policy struct {
	ID        int64     `json:"id"`
	FeatureID int64     `json:"feature_id"`
	Attribute string    `json:"attribute"`
	Operator  Operator  `json:"operator"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidateOperator rejects operators outside the supported set. Called on
// every write so a malformed policy is a configuration error at admin time,
// never a surprise at decision time.
func ValidateOperator(op Operator) error {
	switch op {
	case OpEqual, OpNotEqual, OpGreater, OpGreaterEqual, OpLess, OpLessEqual, OpIn:
		return nil
	}
	return fmt.Errorf("%w: unsupported operator %q", ErrInvalid, op)
}
