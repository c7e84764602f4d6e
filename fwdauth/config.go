package fwdauth

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/keksclan/goFwdAuth/internal/keyset"
	"github.com/keksclan/goFwdAuth/internal/verify"
)

const (
	DefaultCheckDeadline = 3 * time.Second
	DefaultRetryAfter    = time.Second
	DefaultServiceName   = "fwdauth"
)

type Config struct {
	JWKS JWKSConfig

	// Issuer, when set, must match the iss claim. It is also the discovery
	// base when JWKS.DiscoverFromIssuer is set.
	Issuer string
	// Audience, when non-empty, must share at least one value with aud.
	Audience []string
	Claims   ClaimMapping

	// CheckDeadline bounds one gateway check end to end.
	CheckDeadline time.Duration
	// RetryAfter is advertised on 503 responses and is the back-off before a
	// failed service bootstrap is retried.
	RetryAfter time.Duration
	// WarmOnBootstrap fetches the key set while the service is being built.
	WarmOnBootstrap bool
	// ServiceName is the registry key for the resolved service.
	ServiceName string

	ProviderLookup ProviderLookupConfig
	Policies       Policies
}

type JWKSConfig struct {
	URL                string
	DiscoverFromIssuer bool
	CacheTTL           time.Duration
	FetchTimeout       time.Duration
	MinRefreshInterval time.Duration
	Auth               JWKSAuthConfig
	ExtraHeaders       map[string]string
}

// JWKSAuthConfig authenticates key set requests. Kind is one of "none",
// "basic", "bearer" or "header".
type JWKSAuthConfig struct {
	Kind        string
	Username    string
	Password    string
	BearerToken string
	HeaderName  string
	HeaderValue string
}

// ProviderLookupConfig enables asking the identity provider's user endpoint
// when the key set cannot be obtained.
type ProviderLookupConfig struct {
	Enabled      bool
	Endpoint     string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	CacheTTL     time.Duration
}

type Policies struct {
	Claims ClaimPolicy
	Lua    LuaPolicyConfig
}

type LuaPolicyConfig struct {
	Enabled bool
	Script  string
	Timeout time.Duration
}

func (c *Config) setDefaults() {
	if c.JWKS.CacheTTL <= 0 {
		c.JWKS.CacheTTL = keyset.DefaultTTL
	}
	if c.JWKS.FetchTimeout <= 0 {
		c.JWKS.FetchTimeout = keyset.DefaultFetchTimeout
	}
	if c.CheckDeadline <= 0 {
		c.CheckDeadline = DefaultCheckDeadline
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = DefaultRetryAfter
	}
	if c.ServiceName == "" {
		c.ServiceName = DefaultServiceName
	}
}

// Validate reports configuration errors. All errors wrap ErrInvalidConfig.
func (c Config) Validate() error {
	return c.validate(false)
}

func (c Config) validate(customSource bool) error {
	var errs []error
	if !customSource {
		switch {
		case c.JWKS.URL != "":
			if err := validateURL(c.JWKS.URL); err != nil {
				errs = append(errs, fmt.Errorf("jwks.url: %w", err))
			}
		case c.JWKS.DiscoverFromIssuer:
			if c.Issuer == "" {
				errs = append(errs, errors.New("jwks.discover_from_issuer requires issuer"))
			}
		default:
			errs = append(errs, errors.New("jwks.url is required"))
		}
	}
	switch keyset.AuthKind(c.JWKS.Auth.Kind) {
	case "", keyset.AuthKindNone, keyset.AuthKindBasic, keyset.AuthKindBearer, keyset.AuthKindHeader:
	default:
		errs = append(errs, fmt.Errorf("jwks.auth.kind %q is not supported", c.JWKS.Auth.Kind))
	}
	if c.ProviderLookup.Enabled {
		if c.ProviderLookup.Endpoint == "" {
			errs = append(errs, errors.New("provider_lookup.endpoint is required when enabled"))
		} else if err := validateURL(c.ProviderLookup.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("provider_lookup.endpoint: %w", err))
		}
	}
	if c.Policies.Lua.Enabled && c.Policies.Lua.Script == "" {
		errs = append(errs, errors.New("policies.lua.script is required when enabled"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c Config) keySetConfig() keyset.Config {
	return keyset.Config{
		TTL:                c.JWKS.CacheTTL,
		FetchTimeout:       c.JWKS.FetchTimeout,
		MinRefreshInterval: c.JWKS.MinRefreshInterval,
	}
}

func (c Config) lookupConfig() verify.LookupConfig {
	return verify.LookupConfig{
		Endpoint:     c.ProviderLookup.Endpoint,
		APIKey:       c.ProviderLookup.APIKey,
		APIKeyHeader: c.ProviderLookup.APIKeyHeader,
		Timeout:      c.ProviderLookup.Timeout,
		CacheTTL:     c.ProviderLookup.CacheTTL,
	}
}
