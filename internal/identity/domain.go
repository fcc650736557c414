package identity

import "time"

// User is an account plus the attributes policies evaluate against.
type User struct {
	ID             int64          `json:"id"`
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	PasswordHash   string         `json:"-"`
	Department     string         `json:"department"`
	Region         string         `json:"region"`
	Level          int            `json:"level"`
	IsActive       bool           `json:"is_active"`
	Attributes     map[string]any `json:"attributes,omitempty"`
	RolesUpdatedAt time.Time      `json:"roles_updated_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// AttributeMap flattens the well-known attribute columns and the open
// attributes blob into one lookup for the policy evaluator. Column values
// win over blob entries of the same key, so the typed fields stay
// authoritative.
func (u User) AttributeMap() map[string]any {
	attrs := make(map[string]any, len(u.Attributes)+4)
	for k, v := range u.Attributes {
		attrs[k] = v
	}
	attrs["department"] = u.Department
	attrs["region"] = u.Region
	attrs["level"] = u.Level
	attrs["active"] = u.IsActive
	return attrs
}
