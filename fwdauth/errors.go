package fwdauth

import (
	"errors"

	"github.com/keksclan/goFwdAuth/internal/keyset"
	"github.com/keksclan/goFwdAuth/internal/locator"
	"github.com/keksclan/goFwdAuth/internal/verify"
)

var (
	ErrInvalidConfig        = errors.New("invalid config")
	ErrClaimMissing         = errors.New("required claim missing")
	ErrClaimForbidden       = errors.New("claim is forbidden")
	ErrClaimValueNotAllowed = errors.New("claim value not allowed")
	ErrRoleRequired         = errors.New("required role missing")
	ErrTenantRequired       = errors.New("tenant required")
)

// Infrastructure failures. A check failing with one of these is answered
// with 503, never 401.
var (
	ErrKeySourceUnavailable = keyset.ErrKeySourceUnavailable
	ErrServiceUnavailable   = locator.ErrUnavailable
	// ErrServiceNotRegistered is what a Registry returns on a miss.
	ErrServiceNotRegistered = locator.ErrNotFound
)

// ValidationError is a client-attributable token rejection. Match kinds
// with errors.Is against the sentinels below.
type ValidationError = verify.ValidationError

type Kind = verify.Kind

var (
	ErrMalformed         = verify.ErrMalformed
	ErrUnknownKey        = verify.ErrUnknownKey
	ErrAlgorithmMismatch = verify.ErrAlgorithmMismatch
	ErrBadSignature      = verify.ErrBadSignature
	ErrExpired           = verify.ErrExpired
	ErrNotYetValid       = verify.ErrNotYetValid
	ErrIssuerMismatch    = verify.ErrIssuerMismatch
	ErrAudienceMismatch  = verify.ErrAudienceMismatch
	ErrPolicyDenied      = verify.ErrPolicyDenied
	ErrProviderRejected  = verify.ErrProviderRejected
)
