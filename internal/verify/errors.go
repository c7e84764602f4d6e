package verify

import "fmt"

// Kind classifies a client-attributable validation failure.
type Kind string

const (
	KindMalformed         Kind = "malformed"
	KindUnknownKey        Kind = "unknown_key"
	KindAlgorithmMismatch Kind = "algorithm_mismatch"
	KindBadSignature      Kind = "bad_signature"
	KindExpired           Kind = "expired"
	KindNotYetValid       Kind = "not_yet_valid"
	KindIssuerMismatch    Kind = "issuer_mismatch"
	KindAudienceMismatch  Kind = "audience_mismatch"
	KindPolicyDenied      Kind = "policy_denied"
	KindProviderRejected  Kind = "provider_rejected"
)

// ValidationError reports why a token was rejected. Every ValidationError is
// the caller's fault; infrastructure failures are returned as other errors.
type ValidationError struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Detail == "":
		return "token rejected: " + string(e.Kind)
	case e.cause != nil:
		return fmt.Sprintf("token rejected: %s: %s: %v", e.Kind, e.Detail, e.cause)
	default:
		return fmt.Sprintf("token rejected: %s: %s", e.Kind, e.Detail)
	}
}

func (e *ValidationError) Unwrap() error { return e.cause }

// Is matches any *ValidationError of the same kind, so that
// errors.Is(err, ErrExpired) works regardless of detail.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Kind == e.Kind
}

func reject(kind Kind, detail string, cause error) *ValidationError {
	return &ValidationError{Kind: kind, Detail: detail, cause: cause}
}

// Sentinels for errors.Is matching.
var (
	ErrMalformed         = &ValidationError{Kind: KindMalformed}
	ErrUnknownKey        = &ValidationError{Kind: KindUnknownKey}
	ErrAlgorithmMismatch = &ValidationError{Kind: KindAlgorithmMismatch}
	ErrBadSignature      = &ValidationError{Kind: KindBadSignature}
	ErrExpired           = &ValidationError{Kind: KindExpired}
	ErrNotYetValid       = &ValidationError{Kind: KindNotYetValid}
	ErrIssuerMismatch    = &ValidationError{Kind: KindIssuerMismatch}
	ErrAudienceMismatch  = &ValidationError{Kind: KindAudienceMismatch}
	ErrPolicyDenied      = &ValidationError{Kind: KindPolicyDenied}
	ErrProviderRejected  = &ValidationError{Kind: KindProviderRejected}
)
