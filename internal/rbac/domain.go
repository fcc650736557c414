package rbac

import "time"

// Role represents a named permission bundle. A role with GrantsAll set
// bypasses the capability matrix and policy checks entirely.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	GrantsAll   bool      `json:"grants_all"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FeatureCategory groups features for presentation. Color and icon carry no
// decision weight.
type FeatureCategory struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Color     string    `json:"color"`
	Icon      string    `json:"icon"`
	CreatedAt time.Time `json:"created_at"`
}

// Feature is the protected capability unit.
type Feature struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CategoryID  *int64    `json:"category_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Capability names one of the four grantable operations.
type Capability string

const (
	CapabilityCreate Capability = "create"
	CapabilityRead   Capability = "read"
	CapabilityUpdate Capability = "update"
	CapabilityDelete Capability = "delete"
)

// Capabilities holds the four flags of one capability matrix row.
type Capabilities struct {
	CanCreate bool `json:"can_create"`
	CanRead   bool `json:"can_read"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
}

// Has reports whether the given capability flag is set.
func (c Capabilities) Has(cap Capability) bool {
	switch cap {
	case CapabilityCreate:
		return c.CanCreate
	case CapabilityRead:
		return c.CanRead
	case CapabilityUpdate:
		return c.CanUpdate
	case CapabilityDelete:
		return c.CanDelete
	}
	return false
}

// Union merges two flag sets with logical OR per flag.
func (c Capabilities) Union(other Capabilities) Capabilities {
	return Capabilities{
		CanCreate: c.CanCreate || other.CanCreate,
		CanRead:   c.CanRead || other.CanRead,
		CanUpdate: c.CanUpdate || other.CanUpdate,
		CanDelete: c.CanDelete || other.CanDelete,
	}
}

// RoleFeature is one row of the capability matrix. At most one row exists per
// (role, feature) pair.
type RoleFeature struct {
	ID        int64        `json:"id"`
	RoleID    int64        `json:"role_id"`
	FeatureID int64        `json:"feature_id"`
	Capabilities
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Aggregate folds capability rows from multiple roles into one flag set.
// A user holding several roles gets a capability when any role grants it.
func Aggregate(rows []RoleFeature) Capabilities {
	var agg Capabilities
	for _, row := range rows {
		agg = agg.Union(row.Capabilities)
	}
	return agg
}

// CapabilityForMethod maps an HTTP method to the flag it requires.
func CapabilityForMethod(method string) (Capability, bool) {
	switch method {
	case "GET", "HEAD":
		return CapabilityRead, true
	case "POST":
		return CapabilityCreate, true
	case "PUT", "PATCH":
		return CapabilityUpdate, true
	case "DELETE":
		return CapabilityDelete, true
	}
	return "", false
}
