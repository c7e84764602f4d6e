package fwdauth

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/keksclan/goFwdAuth/internal/luaengine"
	"github.com/keksclan/goFwdAuth/internal/verify"
)

// ClaimPolicy is a declarative check applied to verified claims before the
// optional Lua policy.
type ClaimPolicy struct {
	// Required claims must be present.
	Required []string
	// Denylist claims must be absent.
	Denylist []string
	// EnforcedValues restricts a claim, when present, to the listed values.
	// For array claims any element may match.
	EnforcedValues map[string][]any
	// AnyRole, when non-empty, requires at least one of the roles.
	AnyRole []string
	// RequireTenant rejects identities without a tenant.
	RequireTenant bool
}

func (p ClaimPolicy) isZero() bool {
	return len(p.Required) == 0 && len(p.Denylist) == 0 && len(p.EnforcedValues) == 0 &&
		len(p.AnyRole) == 0 && !p.RequireTenant
}

// Validate checks claims and the identity extracted from them.
func (p ClaimPolicy) Validate(claims map[string]any, sc *SecurityContext) error {
	for _, k := range p.Required {
		if _, ok := claims[k]; !ok {
			return fmt.Errorf("%w: %s", ErrClaimMissing, k)
		}
	}
	for _, k := range p.Denylist {
		if _, ok := claims[k]; ok {
			return fmt.Errorf("%w: %s", ErrClaimForbidden, k)
		}
	}
	for k, allowed := range p.EnforcedValues {
		val, ok := claims[k]
		if !ok {
			continue // only enforce if present
		}
		if !valueAllowed(val, allowed) {
			return fmt.Errorf("%w: %s", ErrClaimValueNotAllowed, k)
		}
	}
	if len(p.AnyRole) > 0 && !slices.ContainsFunc(p.AnyRole, sc.HasRole) {
		return ErrRoleRequired
	}
	if p.RequireTenant {
		if _, ok := sc.TenantID(); !ok {
			return ErrTenantRequired
		}
	}
	return nil
}

func valueAllowed(v any, allowed []any) bool {
	switch vv := v.(type) {
	case string:
		return slices.ContainsFunc(allowed, func(a any) bool {
			as, ok := a.(string)
			return ok && as == vv
		})
	case bool:
		return slices.ContainsFunc(allowed, func(a any) bool {
			ab, ok := a.(bool)
			return ok && ab == vv
		})
	case json.Number, float64, int, int64:
		vf, ok := toFloat64(vv)
		if !ok {
			return false
		}
		return slices.ContainsFunc(allowed, func(a any) bool {
			af, ok := toFloat64(a)
			return ok && af == vf
		})
	case []any:
		return slices.ContainsFunc(vv, func(e any) bool {
			_, isSlice := e.([]any)
			return !isSlice && valueAllowed(e, allowed)
		})
	}
	return false
}

func toFloat64(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	}
	return 0, false
}

// buildPolicy combines the declarative policy and the compiled Lua policy.
// It returns nil when neither is configured.
func buildPolicy(p Policies) (verify.PolicyFunc, error) {
	var lua *luaengine.CompiledPolicy
	if p.Lua.Enabled && p.Lua.Script != "" {
		cp, err := luaengine.Compile(p.Lua.Script, p.Lua.Timeout)
		if err != nil {
			return nil, fmt.Errorf("compile lua policy: %w", err)
		}
		lua = cp
	}
	if lua == nil && p.Claims.isZero() {
		return nil, nil
	}

	claimPolicy := p.Claims
	return func(ctx context.Context, claims map[string]any, sc *SecurityContext) error {
		if err := claimPolicy.Validate(claims, sc); err != nil {
			return err
		}
		if lua == nil {
			return nil
		}
		tenant, _ := sc.TenantID()
		return lua.Evaluate(ctx, luaengine.Input{
			Claims:      claims,
			UserID:      sc.UserID(),
			TenantID:    tenant,
			Roles:       sc.Roles(),
			Permissions: sc.Permissions(),
		})
	}, nil
}
