package policy

import (
	"fmt"
	"strconv"
	"strings"
)

// Violation describes one failing policy check. Actual is nil when the user
// carries no value for the attribute.
type Violation struct {
	Policy   Policy
	Expected string
	Actual   *string
}

// Evaluation is the outcome of checking one policy set.
type Evaluation struct {
	Pass       bool
	Violations []Violation
}

// Evaluate checks every policy against the user's attributes. All policies
// must hold (AND); an empty policy set passes. The function is pure: no I/O,
// no state, so outcomes depend only on the inputs.
//
// A missing attribute always fails its policy. Numeric operands are compared
// numerically when both sides parse as numbers, otherwise as strings.
func Evaluate(attrs map[string]any, policies []Policy) Evaluation {
	result := Evaluation{Pass: true}
	for _, p := range policies {
		raw, ok := attrs[p.Attribute]
		if !ok || raw == nil {
			result.Pass = false
			result.Violations = append(result.Violations, Violation{Policy: p, Expected: p.Value})
			continue
		}
		actual := stringify(raw)
		if !apply(p.Operator, actual, p.Value) {
			result.Pass = false
			result.Violations = append(result.Violations, Violation{Policy: p, Expected: p.Value, Actual: &actual})
		}
	}
	return result
}

func apply(op Operator, actual, expected string) bool {
	switch op {
	case OpEqual:
		return compare(actual, expected) == 0
	case OpNotEqual:
		return compare(actual, expected) != 0
	case OpGreater:
		return compare(actual, expected) > 0
	case OpGreaterEqual:
		return compare(actual, expected) >= 0
	case OpLess:
		return compare(actual, expected) < 0
	case OpLessEqual:
		return compare(actual, expected) <= 0
	case OpIn:
		for _, candidate := range strings.Split(expected, ",") {
			if compare(actual, strings.TrimSpace(candidate)) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

// compare orders two operands numerically when both parse as numbers,
// lexically otherwise.
func compare(a, b string) int {
	na, errA := strconv.ParseFloat(a, 64)
	nb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func stringify(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case bool:
		return strconv.FormatBool(value)
	case int:
		return strconv.Itoa(value)
	case int64:
		return strconv.FormatInt(value, 10)
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", value)
	}
}
