// Package verify validates bearer tokens locally against the cached signing
// keys and turns verified claims into a SecurityContext.
package verify

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/keksclan/goFwdAuth/internal/keyset"
	"github.com/rs/zerolog"
)

// KeyProvider resolves a signing key by key id.
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (keyset.SigningKey, error)
}

// ProviderLookup asks the identity provider about a token when the key set
// cannot be obtained. It returns the provider's user document. A positive
// answer must not be reused for longer than maxTTL.
type ProviderLookup interface {
	Lookup(ctx context.Context, token string, maxTTL time.Duration) (map[string]any, error)
}

// PolicyFunc is consulted after a token has been verified and the identity
// extracted. A non-nil error denies the request.
type PolicyFunc func(ctx context.Context, claims map[string]any, sc *SecurityContext) error

// MetricsCollector receives validation outcomes.
// All methods must be safe for concurrent use.
// Implementations must never log or store tokens or claims.
type MetricsCollector interface {
	ValidationSucceeded(origin Origin)
	ValidationFailed(reason string)
}

// FailReasonUnavailable is reported for failures that are not the token's fault.
const FailReasonUnavailable = "unavailable"

type nopMetrics struct{}

func (nopMetrics) ValidationSucceeded(Origin) {}
func (nopMetrics) ValidationFailed(string)    {}

type Config struct {
	// Issuer, when set, must equal the iss claim.
	Issuer string
	// Audience, when non-empty, must share at least one value with aud.
	Audience []string
	Claims   ClaimMapping
	// Policy is optional.
	Policy PolicyFunc
	// Lookup enables the provider fallback when the key set is unavailable.
	Lookup  ProviderLookup
	Metrics MetricsCollector
	Logger  *zerolog.Logger
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

// Validator verifies bearer tokens. It is safe for concurrent use.
type Validator struct {
	cfg     Config
	keys    KeyProvider
	parser  *jwt.Parser
	audSet  map[string]struct{}
	metrics MetricsCollector
	log     zerolog.Logger
	now     func() time.Time
}

func New(cfg Config, keys KeyProvider) (*Validator, error) {
	if keys == nil {
		return nil, errors.New("verify: key provider is required")
	}
	cfg.Claims = cfg.Claims.withDefaults()
	v := &Validator{
		cfg:     cfg,
		keys:    keys,
		parser:  jwt.NewParser(jwt.WithJSONNumber(), jwt.WithStrictDecoding()),
		metrics: cfg.Metrics,
		log:     zerolog.Nop(),
		now:     cfg.Now,
	}
	if v.metrics == nil {
		v.metrics = nopMetrics{}
	}
	if cfg.Logger != nil {
		v.log = *cfg.Logger
	}
	if v.now == nil {
		v.now = time.Now
	}
	if len(cfg.Audience) > 0 {
		v.audSet = make(map[string]struct{}, len(cfg.Audience))
		for _, a := range cfg.Audience {
			v.audSet[a] = struct{}{}
		}
	}
	return v, nil
}

// Validate verifies token and returns the identity it carries.
//
// Rejections are *ValidationError. keyset.ErrKeySourceUnavailable (possibly
// joined with a provider lookup failure) means the token could not be judged.
func (v *Validator) Validate(ctx context.Context, token string) (*SecurityContext, error) {
	sc, err := v.validate(ctx, token)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			v.metrics.ValidationFailed(string(ve.Kind))
			v.log.Debug().Str("kind", string(ve.Kind)).Str("detail", ve.Detail).Msg("token rejected")
		} else {
			v.metrics.ValidationFailed(FailReasonUnavailable)
			v.log.Warn().Err(err).Msg("token could not be verified")
		}
		return nil, err
	}
	v.metrics.ValidationSucceeded(sc.Origin())
	return sc, nil
}

type parsedToken struct {
	kid          string
	alg          string
	method       jwt.SigningMethod
	claims       jwt.MapClaims
	signingInput string
	signature    []byte
}

func (v *Validator) validate(ctx context.Context, raw string) (*SecurityContext, error) {
	tok, err := v.parse(raw)
	if err != nil {
		return nil, err
	}

	key, err := v.keys.GetKey(ctx, tok.kid)
	switch {
	case err == nil:
	case errors.Is(err, keyset.ErrKeyNotFound):
		return nil, reject(KindUnknownKey, "no signing key for kid "+tok.kid, nil)
	case errors.Is(err, keyset.ErrKeySourceUnavailable):
		return v.fallback(ctx, tok, raw, err)
	default:
		return nil, err
	}

	// The key decides the algorithm, never the token.
	if tok.alg != string(key.Algorithm) {
		return nil, reject(KindAlgorithmMismatch, fmt.Sprintf("token alg %s, key registered for %s", tok.alg, key.Algorithm), nil)
	}
	if err := tok.method.Verify(tok.signingInput, tok.signature, key.Key); err != nil {
		return nil, reject(KindBadSignature, "signature verification failed", err)
	}

	if err := v.checkClaims(tok.claims); err != nil {
		return nil, err
	}

	id, err := v.cfg.Claims.extract(tok.claims)
	if err != nil {
		return nil, err
	}
	return v.admit(ctx, OriginLocalVerification, id, tok.claims)
}

// parse decodes the token structure without trusting it.
func (v *Validator) parse(raw string) (*parsedToken, error) {
	claims := jwt.MapClaims{}
	t, parts, err := v.parser.ParseUnverified(raw, claims)
	if err != nil {
		return nil, reject(KindMalformed, "undecodable token", err)
	}
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, reject(KindMalformed, "missing kid header", nil)
	}
	alg, _ := t.Header["alg"].(string)
	if alg == "" || t.Method == nil {
		return nil, reject(KindMalformed, "missing alg header", nil)
	}
	sig, err := v.parser.DecodeSegment(parts[2])
	if err != nil {
		return nil, reject(KindMalformed, "undecodable signature", err)
	}
	return &parsedToken{
		kid:          kid,
		alg:          alg,
		method:       t.Method,
		claims:       claims,
		signingInput: parts[0] + "." + parts[1],
		signature:    sig,
	}, nil
}

func (v *Validator) checkClaims(claims jwt.MapClaims) error {
	now := v.now()

	exp, ok, err := numericDate(claims, "exp")
	if err != nil {
		return reject(KindMalformed, "invalid exp claim", err)
	}
	if !ok {
		return reject(KindMalformed, "missing exp claim", nil)
	}
	if !now.Before(exp) {
		return reject(KindExpired, "token expired", nil)
	}

	nbf, ok, err := numericDate(claims, "nbf")
	if err != nil {
		return reject(KindMalformed, "invalid nbf claim", err)
	}
	if ok && now.Before(nbf) {
		return reject(KindNotYetValid, "token not valid yet", nil)
	}

	if v.cfg.Issuer != "" {
		if iss, _ := claims["iss"].(string); iss != v.cfg.Issuer {
			return reject(KindIssuerMismatch, "unexpected issuer", nil)
		}
	}

	if v.audSet != nil {
		matched := slices.ContainsFunc(audiences(claims["aud"]), func(a string) bool {
			_, ok := v.audSet[a]
			return ok
		})
		if !matched {
			return reject(KindAudienceMismatch, "no accepted audience", nil)
		}
	}
	return nil
}

// fallback consults the provider when the key set is unavailable. cause is
// returned unchanged when there is no fallback or the caller has given up.
// The token's exp is enforced on this path too and bounds how long the
// provider's answer may be reused.
func (v *Validator) fallback(ctx context.Context, tok *parsedToken, raw string, cause error) (*SecurityContext, error) {
	if v.cfg.Lookup == nil || ctx.Err() != nil {
		return nil, cause
	}
	exp, ok, err := numericDate(tok.claims, "exp")
	if err != nil {
		return nil, reject(KindMalformed, "invalid exp claim", err)
	}
	if !ok {
		return nil, reject(KindMalformed, "missing exp claim", nil)
	}
	remaining := exp.Sub(v.now())
	if remaining <= 0 {
		return nil, reject(KindExpired, "token expired", nil)
	}

	doc, err := v.cfg.Lookup.Lookup(ctx, raw, remaining)
	if err != nil {
		if errors.Is(err, ErrProviderRejected) {
			return nil, err
		}
		return nil, errors.Join(cause, err)
	}
	id, err := v.cfg.Claims.extract(doc)
	if err != nil {
		return nil, err
	}
	v.log.Info().Msg("token accepted by provider lookup")
	return v.admit(ctx, OriginProviderLookup, id, doc)
}

func (v *Validator) admit(ctx context.Context, origin Origin, id identity, claims map[string]any) (*SecurityContext, error) {
	sc := newSecurityContext(origin, id)
	if v.cfg.Policy != nil {
		if err := v.cfg.Policy(ctx, claims, sc); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("claims policy interrupted: %w", ctxErr)
			}
			return nil, reject(KindPolicyDenied, "claims policy denied the request", err)
		}
	}
	return sc, nil
}
