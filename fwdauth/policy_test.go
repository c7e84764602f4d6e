package fwdauth

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/keksclan/goFwdAuth/internal/luaengine"
)

func policyIdentity(t *testing.T, claims map[string]any) *SecurityContext {
	t.Helper()
	sc, err := DefaultClaimMapping().Identify(OriginLocalVerification, claims)
	if err != nil {
		t.Fatalf("identity: %v", err)
	}
	return sc
}

func TestClaimPolicyValidate(t *testing.T) {
	claims := map[string]any{
		"sub":       "user-1",
		"tenant_id": "tenant-1",
		"roles":     []any{"editor"},
		"aal":       "aal2",
		"level":     json.Number("3"),
		"groups":    []any{"eng", "ops"},
	}
	sc := policyIdentity(t, claims)

	tests := []struct {
		name    string
		policy  ClaimPolicy
		wantErr error
	}{
		{"empty policy", ClaimPolicy{}, nil},
		{"required present", ClaimPolicy{Required: []string{"aal"}}, nil},
		{"required missing", ClaimPolicy{Required: []string{"org"}}, ErrClaimMissing},
		{"denylisted claim present", ClaimPolicy{Denylist: []string{"aal"}}, ErrClaimForbidden},
		{"denylisted claim absent", ClaimPolicy{Denylist: []string{"impersonator"}}, nil},
		{"enforced string", ClaimPolicy{EnforcedValues: map[string][]any{"aal": {"aal1", "aal2"}}}, nil},
		{"enforced string mismatch", ClaimPolicy{EnforcedValues: map[string][]any{"aal": {"aal1"}}}, ErrClaimValueNotAllowed},
		{"enforced number", ClaimPolicy{EnforcedValues: map[string][]any{"level": {3}}}, nil},
		{"enforced array any element", ClaimPolicy{EnforcedValues: map[string][]any{"groups": {"ops"}}}, nil},
		{"enforced array no element", ClaimPolicy{EnforcedValues: map[string][]any{"groups": {"sales"}}}, ErrClaimValueNotAllowed},
		{"enforced absent claim", ClaimPolicy{EnforcedValues: map[string][]any{"region": {"eu"}}}, nil},
		{"any role match", ClaimPolicy{AnyRole: []string{"admin", "editor"}}, nil},
		{"any role miss", ClaimPolicy{AnyRole: []string{"admin"}}, ErrRoleRequired},
		{"tenant required", ClaimPolicy{RequireTenant: true}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate(claims, sc)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	noTenant := map[string]any{"sub": "user-2"}
	if err := (ClaimPolicy{RequireTenant: true}).Validate(noTenant, policyIdentity(t, noTenant)); !errors.Is(err, ErrTenantRequired) {
		t.Fatalf("expected ErrTenantRequired, got %v", err)
	}
}

func TestBuildPolicy(t *testing.T) {
	t.Run("nothing configured", func(t *testing.T) {
		p, err := buildPolicy(Policies{Lua: LuaPolicyConfig{Script: `reject()`}})
		if err != nil || p != nil {
			t.Fatalf("expected nil policy, got %v, %v", p != nil, err)
		}
	})

	t.Run("compile error", func(t *testing.T) {
		if _, err := buildPolicy(Policies{Lua: LuaPolicyConfig{Enabled: true, Script: `if then`}}); err == nil {
			t.Fatal("expected compile error")
		}
	})

	t.Run("declarative runs before lua", func(t *testing.T) {
		p, err := buildPolicy(Policies{
			Claims: ClaimPolicy{Required: []string{"aal"}},
			Lua:    LuaPolicyConfig{Enabled: true, Script: `reject("lua ran")`},
		})
		if err != nil {
			t.Fatalf("buildPolicy: %v", err)
		}
		claims := map[string]any{"sub": "user-1"}
		if err := p(t.Context(), claims, policyIdentity(t, claims)); !errors.Is(err, ErrClaimMissing) {
			t.Fatalf("expected ErrClaimMissing, got %v", err)
		}
	})

	t.Run("lua sees identity", func(t *testing.T) {
		p, err := buildPolicy(Policies{Lua: LuaPolicyConfig{
			Enabled: true,
			Script:  `require_role("admin") if user_id ~= "user-1" then reject() end`,
		}})
		if err != nil {
			t.Fatalf("buildPolicy: %v", err)
		}
		admin := map[string]any{"sub": "user-1", "roles": "admin"}
		if err := p(t.Context(), admin, policyIdentity(t, admin)); err != nil {
			t.Fatalf("admin denied: %v", err)
		}
		viewer := map[string]any{"sub": "user-1", "roles": "viewer"}
		if err := p(t.Context(), viewer, policyIdentity(t, viewer)); !errors.Is(err, luaengine.ErrRejected) {
			t.Fatalf("expected lua rejection, got %v", err)
		}
	})
}
