package keyset

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/rs/zerolog"
)

// maxKeySetResponseSize limits the size of key set responses to prevent memory bombs.
const maxKeySetResponseSize = 1 << 20 // 1 MB

// Source fetches the identity provider's current signing keys.
type Source interface {
	Fetch(ctx context.Context) ([]SigningKey, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context) ([]SigningKey, error)

func (f SourceFunc) Fetch(ctx context.Context) ([]SigningKey, error) { return f(ctx) }

// AuthKind selects the authentication method for key set requests.
type AuthKind string

const (
	AuthKindNone   AuthKind = "none"
	AuthKindBasic  AuthKind = "basic"
	AuthKindBearer AuthKind = "bearer"
	AuthKindHeader AuthKind = "header"
)

// AuthConfig holds authentication settings for key set requests. Some
// providers (Supabase among them) want an API key header on the JWKS route.
type AuthConfig struct {
	Kind        AuthKind
	Username    string
	Password    string
	BearerToken string
	HeaderName  string
	HeaderValue string
}

// HTTPSource reads a JWKS document from an HTTP endpoint.
type HTTPSource struct {
	url          string
	httpc        *http.Client
	auth         AuthConfig
	extraHeaders map[string]string
	log          zerolog.Logger
}

type SourceOption func(*HTTPSource)

func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *HTTPSource) {
		if c != nil {
			s.httpc = c
		}
	}
}

func WithAuth(auth AuthConfig) SourceOption {
	return func(s *HTTPSource) { s.auth = auth }
}

func WithExtraHeaders(headers map[string]string) SourceOption {
	return func(s *HTTPSource) { s.extraHeaders = headers }
}

func WithSourceLogger(l zerolog.Logger) SourceOption {
	return func(s *HTTPSource) { s.log = l }
}

func NewHTTPSource(url string, opts ...SourceOption) *HTTPSource {
	s := &HTTPSource{
		url:   url,
		httpc: &http.Client{Timeout: 5 * time.Second},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the key set endpoint.
func (s *HTTPSource) URL() string { return s.url }

func (s *HTTPSource) Fetch(ctx context.Context) ([]SigningKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	s.applyAuth(req)
	for k, v := range s.extraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned status %d", resp.StatusCode)
	}

	set, err := jwk.ParseReader(io.LimitReader(resp.Body, maxKeySetResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeySet, err)
	}
	keys := SigningKeys(set, s.log)
	if len(keys) == 0 {
		return nil, ErrEmptyKeySet
	}
	return keys, nil
}

func (s *HTTPSource) applyAuth(req *http.Request) {
	switch s.auth.Kind {
	case AuthKindBasic:
		req.SetBasicAuth(s.auth.Username, s.auth.Password)
	case AuthKindBearer:
		req.Header.Set("Authorization", "Bearer "+s.auth.BearerToken)
	case AuthKindHeader:
		if s.auth.HeaderName != "" {
			req.Header.Set(s.auth.HeaderName, s.auth.HeaderValue)
		}
	}
}

// SigningKeys converts a parsed JWK set into signing keys. Keys that cannot
// be used for RS256/ES256 signature verification are skipped.
func SigningKeys(set jwk.Set, log zerolog.Logger) []SigningKey {
	keys := make([]SigningKey, 0, set.Len())
	for i := 0; i < set.Len(); i++ {
		k, ok := set.Key(i)
		if !ok {
			continue
		}
		sk, err := signingKey(k)
		if err != nil {
			log.Debug().Str("kid", k.KeyID()).Err(err).Msg("skipping key set entry")
			continue
		}
		keys = append(keys, sk)
	}
	return keys
}

func signingKey(k jwk.Key) (SigningKey, error) {
	kid := k.KeyID()
	if kid == "" {
		return SigningKey{}, fmt.Errorf("%w: missing kid", ErrUnsupportedKeyType)
	}
	if use := k.KeyUsage(); use != "" && use != "sig" {
		return SigningKey{}, fmt.Errorf("%w: use %q", ErrUnsupportedKeyType, use)
	}

	var raw any
	if err := k.Raw(&raw); err != nil {
		return SigningKey{}, fmt.Errorf("raw key: %w", err)
	}

	var derived Algorithm
	switch pub := raw.(type) {
	case *rsa.PublicKey:
		derived = AlgRS256
	case *ecdsa.PublicKey:
		if pub.Curve != elliptic.P256() {
			return SigningKey{}, fmt.Errorf("%w: curve %s", ErrUnsupportedKeyType, pub.Curve.Params().Name)
		}
		derived = AlgES256
	default:
		return SigningKey{}, fmt.Errorf("%w: %T", ErrUnsupportedKeyType, raw)
	}

	// A declared alg must agree with the key material; it never widens it.
	if declared := Algorithm(k.Algorithm().String()); declared != "" && declared != derived {
		return SigningKey{}, fmt.Errorf("%w: alg %q on %s key", ErrUnsupportedKeyType, declared, derived)
	}
	return SigningKey{KeyID: kid, Algorithm: derived, Key: raw}, nil
}
