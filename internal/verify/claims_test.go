package verify

import (
	"slices"
	"testing"
)

func TestStringList(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"comma separated", "read, write,delete", []string{"read", "write", "delete"}},
		{"inner space kept", "super admin, viewer", []string{"super admin", "viewer"}},
		{"empty elements dropped", " , a,,", []string{"a"}},
		{"array", []any{"x", "", 3, "y z"}, []string{"x", "y z"}},
		{"unsupported", 42, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stringList(tt.in); !slices.Equal(got, tt.want) {
				t.Fatalf("stringList(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestIdentifyKeepsMultiWordRole(t *testing.T) {
	sc, err := DefaultClaimMapping().Identify(OriginLocalVerification, map[string]any{
		"sub":   "user-1",
		"roles": "super admin",
	})
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if !slices.Equal(sc.Roles(), []string{"super admin"}) {
		t.Fatalf("Roles = %q", sc.Roles())
	}
}

func TestRolePermissions(t *testing.T) {
	m := DefaultClaimMapping()
	m.RolePermissions = DefaultRolePermissions()

	tests := []struct {
		name   string
		claims map[string]any
		want   []string
	}{
		{"derived from role", map[string]any{"roles": "admin"}, []string{"admin", "read", "write"}},
		{"unknown role gets fallback", map[string]any{"roles": []any{"guest"}}, []string{"read"}},
		{"roles combine", map[string]any{"roles": "viewer, owner"}, []string{"admin", "delete", "read", "write"}},
		{"explicit claim wins", map[string]any{"roles": "owner", "permissions": "docs:read"}, []string{"docs:read"}},
		{"no roles", map[string]any{}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.claims["sub"] = "user-1"
			sc, err := m.Identify(OriginLocalVerification, tt.claims)
			if err != nil {
				t.Fatalf("Identify: %v", err)
			}
			if got := sc.Permissions(); !slices.Equal(got, tt.want) {
				t.Fatalf("Permissions = %q, want %q", got, tt.want)
			}
		})
	}

	t.Run("disabled by default", func(t *testing.T) {
		sc, err := DefaultClaimMapping().Identify(OriginLocalVerification, map[string]any{"sub": "user-1", "roles": "admin"})
		if err != nil {
			t.Fatalf("Identify: %v", err)
		}
		if len(sc.Permissions()) != 0 {
			t.Fatalf("Permissions = %q", sc.Permissions())
		}
	})
}
