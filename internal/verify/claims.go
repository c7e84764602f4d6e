package verify

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ClaimMapping names the claims the SecurityContext is built from. Each name
// is looked up at the top level of the payload first, then in each of
// Namespaces in order.
type ClaimMapping struct {
	Subject     string
	Tenant      string
	Roles       string
	Permissions string
	Email       string
	Namespaces  []string
	// RolePermissions grants permissions by role when the token carries no
	// permissions claim. The FallbackRole entry applies to roles without an
	// entry of their own. Nil disables the derivation.
	RolePermissions map[string][]string
}

// FallbackRole keys the RolePermissions entry for roles not listed
// explicitly.
const FallbackRole = "*"

// DefaultRolePermissions is the conventional owner/admin/member/viewer
// table. Any other role is granted read.
func DefaultRolePermissions() map[string][]string {
	return map[string][]string{
		"owner":      {"read", "write", "admin", "delete"},
		"admin":      {"read", "write", "admin"},
		"member":     {"read", "write"},
		"viewer":     {"read"},
		FallbackRole: {"read"},
	}
}

// DefaultClaimMapping matches the claim layout of Supabase-style providers.
func DefaultClaimMapping() ClaimMapping {
	return ClaimMapping{
		Subject:     "sub",
		Tenant:      "tenant_id",
		Roles:       "roles",
		Permissions: "permissions",
		Email:       "email",
		Namespaces:  []string{"app_metadata", "user_metadata"},
	}
}

func (m ClaimMapping) withDefaults() ClaimMapping {
	d := DefaultClaimMapping()
	if m.Subject == "" {
		m.Subject = d.Subject
	}
	if m.Tenant == "" {
		m.Tenant = d.Tenant
	}
	if m.Roles == "" {
		m.Roles = d.Roles
	}
	if m.Permissions == "" {
		m.Permissions = d.Permissions
	}
	if m.Email == "" {
		m.Email = d.Email
	}
	if m.Namespaces == nil {
		m.Namespaces = d.Namespaces
	}
	return m
}

// extract builds the identity fields from claims. The subject is mandatory;
// everything else is optional.
func (m ClaimMapping) extract(claims map[string]any) (identity, error) {
	sub := stringClaim(m.lookup(claims, m.Subject))
	if sub == "" {
		return identity{}, reject(KindMalformed, "missing subject claim", nil)
	}
	roles := stringList(m.lookup(claims, m.Roles))
	perms := stringList(m.lookup(claims, m.Permissions))
	if len(perms) == 0 && m.RolePermissions != nil {
		perms = m.permissionsFor(roles)
	}
	return identity{
		userID:      sub,
		tenantID:    stringClaim(m.lookup(claims, m.Tenant)),
		roles:       roles,
		permissions: perms,
		email:       stringClaim(m.lookup(claims, m.Email)),
	}, nil
}

func (m ClaimMapping) permissionsFor(roles []string) []string {
	var out []string
	for _, role := range roles {
		granted, ok := m.RolePermissions[role]
		if !ok {
			granted = m.RolePermissions[FallbackRole]
		}
		out = append(out, granted...)
	}
	return out
}

// Identify builds a SecurityContext from claims that were verified
// elsewhere. Unset mapping fields fall back to the defaults.
func (m ClaimMapping) Identify(origin Origin, claims map[string]any) (*SecurityContext, error) {
	id, err := m.withDefaults().extract(claims)
	if err != nil {
		return nil, err
	}
	return newSecurityContext(origin, id), nil
}

func (m ClaimMapping) lookup(claims map[string]any, name string) any {
	if v, ok := claims[name]; ok && !isEmpty(v) {
		return v
	}
	for _, ns := range m.Namespaces {
		nested, ok := claims[ns].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := nested[name]; ok && !isEmpty(v) {
			return v
		}
	}
	return nil
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	}
	return false
}

func stringClaim(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

// stringList accepts a JSON array of strings or a single comma separated
// string. Elements are trimmed; a value may itself contain spaces.
func stringList(v any) []string {
	switch t := v.(type) {
	case string:
		var out []string
		for item := range strings.SplitSeq(t, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

var errNotNumeric = errors.New("not a numeric date")

// numericDate converts a NumericDate claim to a time, keeping fractional
// seconds. ok is false when the claim is absent.
func numericDate(claims map[string]any, name string) (t time.Time, ok bool, err error) {
	v, present := claims[name]
	if !present || v == nil {
		return time.Time{}, false, nil
	}
	switch n := v.(type) {
	case json.Number:
		t, err = parseNumericDate(n.String())
	case float64:
		t, err = floatDate(n)
	default:
		err = fmt.Errorf("%w: %T", errNotNumeric, v)
	}
	if err != nil {
		return time.Time{}, true, fmt.Errorf("claim %q: %w", name, err)
	}
	return t, true, nil
}

// parseNumericDate parses decimal seconds without going through float64, so
// that microsecond differences survive.
func parseNumericDate(s string) (time.Time, error) {
	if strings.ContainsAny(s, "eE") {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return time.Time{}, errNotNumeric
		}
		return floatDate(f)
	}
	intPart, frac, _ := strings.Cut(s, ".")
	secs, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return time.Time{}, errNotNumeric
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, err = strconv.ParseInt(frac, 10, 64)
		if err != nil || nanos < 0 {
			return time.Time{}, errNotNumeric
		}
		if strings.HasPrefix(intPart, "-") {
			nanos = -nanos
		}
	}
	return time.Unix(secs, nanos), nil
}

func floatDate(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, errNotNumeric
	}
	secs, frac := math.Modf(f)
	return time.Unix(int64(secs), int64(frac*1e9)), nil
}

// audiences normalises the aud claim, which may be a string or an array.
func audiences(v any) []string {
	switch t := v.(type) {
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	case []any:
		return stringList(t)
	}
	return nil
}
