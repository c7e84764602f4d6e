package fwdauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/keksclan/goFwdAuth/internal/keyset"
	"github.com/keksclan/goFwdAuth/internal/verify"
)

// SecurityContext is the verified identity of a request. Only token
// verification produces non-zero values.
type SecurityContext = verify.SecurityContext

type Origin = verify.Origin

const (
	OriginLocalVerification = verify.OriginLocalVerification
	OriginProviderLookup    = verify.OriginProviderLookup
)

// ClaimMapping names the claims a SecurityContext is built from.
type ClaimMapping = verify.ClaimMapping

// DefaultClaimMapping returns sub, tenant_id, roles, permissions and email,
// falling back to app_metadata and user_metadata.
func DefaultClaimMapping() ClaimMapping { return verify.DefaultClaimMapping() }

// FallbackRole keys the ClaimMapping.RolePermissions entry used for roles
// without an entry of their own.
const FallbackRole = verify.FallbackRole

// DefaultRolePermissions returns the owner/admin/member/viewer permission
// table for ClaimMapping.RolePermissions.
func DefaultRolePermissions() map[string][]string { return verify.DefaultRolePermissions() }

// SigningKey is one verification key from the identity provider.
type SigningKey = keyset.SigningKey

// KeySource fetches the identity provider's current signing keys.
type KeySource = keyset.Source

// WithSecurityContext returns a copy of ctx carrying sc.
func WithSecurityContext(ctx context.Context, sc *SecurityContext) context.Context {
	return verify.WithSecurityContext(ctx, sc)
}

// FromContext returns the SecurityContext stored in ctx by a middleware.
func FromContext(ctx context.Context) (*SecurityContext, bool) {
	return verify.FromContext(ctx)
}

// Identity header contract v1. On an allowed check every header is always
// present; an empty value means the field is absent. A proxy copying these
// onto the upstream request therefore always overwrites client-supplied
// copies.
const (
	HeaderUserID      = "X-User-Id"
	HeaderTenantID    = "X-Tenant-Id"
	HeaderRoles       = "X-User-Roles"
	HeaderPermissions = "X-User-Permissions"
	HeaderEmail       = "X-User-Email"
	HeaderOrigin      = "X-Auth-Origin"
	HeaderContract    = "X-Auth-Contract"

	ContractVersion = "v1"
)

// IdentityHeaders lists the contract headers in a stable order.
var IdentityHeaders = []string{
	HeaderUserID,
	HeaderTenantID,
	HeaderRoles,
	HeaderPermissions,
	HeaderEmail,
	HeaderOrigin,
	HeaderContract,
}

// EncodeIdentity encodes sc per contract v1. Roles and permissions are
// already sorted and deduplicated.
func EncodeIdentity(sc *SecurityContext) http.Header {
	tenant, _ := sc.TenantID()
	email, _ := sc.Email()
	h := make(http.Header, len(IdentityHeaders))
	h.Set(HeaderUserID, sc.UserID())
	h.Set(HeaderTenantID, tenant)
	h.Set(HeaderRoles, strings.Join(sc.Roles(), ","))
	h.Set(HeaderPermissions, strings.Join(sc.Permissions(), ","))
	h.Set(HeaderEmail, email)
	h.Set(HeaderOrigin, string(sc.Origin()))
	h.Set(HeaderContract, ContractVersion)
	return h
}
