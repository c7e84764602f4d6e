package verify

import (
	"context"
	"slices"
)

// Origin records which verification path produced a SecurityContext.
type Origin string

const (
	OriginLocalVerification Origin = "local-verification"
	OriginProviderLookup    Origin = "provider-lookup"
)

// SecurityContext is the identity established for one request.
//
// Only this package constructs non-zero values, and only after a token has
// been verified, so holding one is proof of authentication. Values are
// immutable; accessors return copies of list fields.
type SecurityContext struct {
	userID      string
	tenantID    string
	hasTenant   bool
	roles       []string
	permissions []string
	email       string
	hasEmail    bool
	origin      Origin
}

type identity struct {
	userID      string
	tenantID    string
	roles       []string
	permissions []string
	email       string
}

func newSecurityContext(origin Origin, id identity) *SecurityContext {
	return &SecurityContext{
		userID:      id.userID,
		tenantID:    id.tenantID,
		hasTenant:   id.tenantID != "",
		roles:       normalizeSet(id.roles),
		permissions: normalizeSet(id.permissions),
		email:       id.email,
		hasEmail:    id.email != "",
		origin:      origin,
	}
}

func (s *SecurityContext) UserID() string { return s.userID }

// TenantID returns the tenant and whether one applies. No tenant means a
// platform-level identity without tenant scoping.
func (s *SecurityContext) TenantID() (string, bool) { return s.tenantID, s.hasTenant }

func (s *SecurityContext) Email() (string, bool) { return s.email, s.hasEmail }

// Roles returns the sorted, deduplicated role set.
func (s *SecurityContext) Roles() []string { return slices.Clone(s.roles) }

// Permissions returns the sorted, deduplicated permission set.
func (s *SecurityContext) Permissions() []string { return slices.Clone(s.permissions) }

func (s *SecurityContext) HasRole(role string) bool {
	_, ok := slices.BinarySearch(s.roles, role)
	return ok
}

func (s *SecurityContext) HasPermission(perm string) bool {
	_, ok := slices.BinarySearch(s.permissions, perm)
	return ok
}

func (s *SecurityContext) Origin() Origin { return s.origin }

// IsZero reports whether s was not produced by verification.
func (s *SecurityContext) IsZero() bool { return s == nil || s.userID == "" }

// clone returns an independent copy for handing out from a shared cache.
func (s *SecurityContext) clone() *SecurityContext {
	cp := *s
	cp.roles = slices.Clone(s.roles)
	cp.permissions = slices.Clone(s.permissions)
	return &cp
}

func normalizeSet(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != "" {
			out = append(out, v)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

type contextKey struct{}

// WithSecurityContext returns a copy of ctx carrying sc.
func WithSecurityContext(ctx context.Context, sc *SecurityContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext returns the SecurityContext stored in ctx, if any.
func FromContext(ctx context.Context) (*SecurityContext, bool) {
	sc, ok := ctx.Value(contextKey{}).(*SecurityContext)
	return sc, ok && !sc.IsZero()
}
