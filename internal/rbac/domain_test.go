package rbac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAggregateORsFlagsAcrossRoles(t *testing.T) {
	rows := []RoleFeature{
		{RoleID: 1, FeatureID: 10, Capabilities: Capabilities{CanRead: true}},
		{RoleID: 2, FeatureID: 10, Capabilities: Capabilities{CanUpdate: true}},
		{RoleID: 3, FeatureID: 10, Capabilities: Capabilities{}},
	}
	agg := Aggregate(rows)
	require.Equal(t, Capabilities{CanRead: true, CanUpdate: true}, agg)
}

func TestAggregateEmptyIsAllFalse(t *testing.T) {
	require.Equal(t, Capabilities{}, Aggregate(nil))
}

func TestCapabilitiesHas(t *testing.T) {
	caps := Capabilities{CanCreate: true, CanDelete: true}
	require.True(t, caps.Has(CapabilityCreate))
	require.False(t, caps.Has(CapabilityRead))
	require.False(t, caps.Has(CapabilityUpdate))
	require.True(t, caps.Has(CapabilityDelete))
	require.False(t, caps.Has(Capability("execute")))
}

func TestCapabilityForMethod(t *testing.T) {
	cases := []struct {
		method string
		want   Capability
		ok     bool
	}{
		{"GET", CapabilityRead, true},
		{"HEAD", CapabilityRead, true},
		{"POST", CapabilityCreate, true},
		{"PUT", CapabilityUpdate, true},
		{"PATCH", CapabilityUpdate, true},
		{"DELETE", CapabilityDelete, true},
		{"OPTIONS", "", false},
		{"TRACE", "", false},
	}
	for _, tc := range cases {
		got, ok := CapabilityForMethod(tc.method)
		require.Equal(t, tc.ok, ok, tc.method)
		require.Equal(t, tc.want, got, tc.method)
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"User Management", "user-management"},
		{"Opérations", "operations"},
		{"  Audit & Compliance  ", "audit-compliance"},
		{"Reports 2026", "reports-2026"},
		{"---", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Slugify(tc.in), tc.in)
	}
}
