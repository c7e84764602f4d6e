// Package fwdauthconfig loads a fwdauth.Config from Go values, JSON, Lua,
// or YAML/TOML/JSON files with environment overrides.
package fwdauthconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/keksclan/goFwdAuth/fwdauth"
)

// Loader loads a fwdauth.Config from a source.
type Loader interface {
	Load(ctx context.Context) (*fwdauth.Config, error)
}

// goLoader returns a static config.
type goLoader struct {
	cfg fwdauth.Config
}

// FromGo creates a Loader that returns the provided config directly.
func FromGo(cfg fwdauth.Config) Loader {
	return &goLoader{cfg: cfg}
}

func (l *goLoader) Load(_ context.Context) (*fwdauth.Config, error) {
	cfg := l.cfg
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

// FileConfig is the serialized form of fwdauth.Config shared by the JSON,
// Lua and file loaders. Durations are whole seconds or milliseconds as
// the field names say.
type FileConfig struct {
	Issuer          string   `json:"issuer" mapstructure:"issuer"`
	Audience        []string `json:"audience" mapstructure:"audience"`
	CheckDeadlineMs int      `json:"check_deadline_ms" mapstructure:"check_deadline_ms"`
	RetryAfterSec   int      `json:"retry_after_sec" mapstructure:"retry_after_sec"`
	WarmOnBootstrap bool     `json:"warm_on_bootstrap" mapstructure:"warm_on_bootstrap"`
	ServiceName     string   `json:"service_name" mapstructure:"service_name"`

	JWKS           JWKSFile     `json:"jwks" mapstructure:"jwks"`
	Claims         ClaimsFile   `json:"claims" mapstructure:"claims"`
	ProviderLookup LookupFile   `json:"provider_lookup" mapstructure:"provider_lookup"`
	Policies       PoliciesFile `json:"policies" mapstructure:"policies"`
}

type JWKSFile struct {
	URL                   string            `json:"url" mapstructure:"url"`
	DiscoverFromIssuer    bool              `json:"discover_from_issuer" mapstructure:"discover_from_issuer"`
	CacheTTLSec           int               `json:"cache_ttl_sec" mapstructure:"cache_ttl_sec"`
	FetchTimeoutMs        int               `json:"fetch_timeout_ms" mapstructure:"fetch_timeout_ms"`
	MinRefreshIntervalSec int               `json:"min_refresh_interval_sec" mapstructure:"min_refresh_interval_sec"`
	Auth                  JWKSAuthFile      `json:"auth" mapstructure:"auth"`
	ExtraHeaders          map[string]string `json:"extra_headers" mapstructure:"extra_headers"`
}

type JWKSAuthFile struct {
	Kind        string `json:"kind" mapstructure:"kind"`
	Username    string `json:"username" mapstructure:"username"`
	Password    string `json:"password" mapstructure:"password"`
	BearerToken string `json:"bearer_token" mapstructure:"bearer_token"`
	HeaderName  string `json:"header_name" mapstructure:"header_name"`
	HeaderValue string `json:"header_value" mapstructure:"header_value"`
}

// ClaimsFile overrides claim names. Empty fields keep the defaults.
type ClaimsFile struct {
	Subject     string   `json:"subject" mapstructure:"subject"`
	Tenant      string   `json:"tenant" mapstructure:"tenant"`
	Roles       string   `json:"roles" mapstructure:"roles"`
	Permissions string   `json:"permissions" mapstructure:"permissions"`
	Email       string   `json:"email" mapstructure:"email"`
	Namespaces  []string `json:"namespaces" mapstructure:"namespaces"`
	// RolePermissions derives permissions from roles when a token has none.
	// DefaultRolePermissions selects the built-in owner/admin/member/viewer
	// table instead.
	RolePermissions        map[string][]string `json:"role_permissions" mapstructure:"role_permissions"`
	DefaultRolePermissions bool                `json:"default_role_permissions" mapstructure:"default_role_permissions"`
}

type LookupFile struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
	APIKey       string `json:"api_key" mapstructure:"api_key"`
	APIKeyHeader string `json:"api_key_header" mapstructure:"api_key_header"`
	TimeoutMs    int    `json:"timeout_ms" mapstructure:"timeout_ms"`
	CacheTTLSec  int    `json:"cache_ttl_sec" mapstructure:"cache_ttl_sec"`
}

type PoliciesFile struct {
	Claims ClaimPolicyFile `json:"claims" mapstructure:"claims"`
	Lua    LuaPolicyFile   `json:"lua" mapstructure:"lua"`
}

type ClaimPolicyFile struct {
	Required       []string         `json:"required" mapstructure:"required"`
	Denylist       []string         `json:"denylist" mapstructure:"denylist"`
	EnforcedValues map[string][]any `json:"enforced_values" mapstructure:"enforced_values"`
	AnyRole        []string         `json:"any_role" mapstructure:"any_role"`
	RequireTenant  bool             `json:"require_tenant" mapstructure:"require_tenant"`
}

// LuaPolicyFile takes the script inline or from ScriptFile.
type LuaPolicyFile struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Script     string `json:"script" mapstructure:"script"`
	ScriptFile string `json:"script_file" mapstructure:"script_file"`
	TimeoutMs  int    `json:"timeout_ms" mapstructure:"timeout_ms"`
}

// Config converts fc and validates the result.
func (fc FileConfig) Config() (*fwdauth.Config, error) {
	script := fc.Policies.Lua.Script
	if script == "" && fc.Policies.Lua.ScriptFile != "" {
		data, err := os.ReadFile(fc.Policies.Lua.ScriptFile)
		if err != nil {
			return nil, fmt.Errorf("read lua policy script: %w", err)
		}
		script = string(data)
	}

	def := fwdauth.DefaultClaimMapping()
	mapping := fwdauth.ClaimMapping{
		Subject:     or(fc.Claims.Subject, def.Subject),
		Tenant:      or(fc.Claims.Tenant, def.Tenant),
		Roles:       or(fc.Claims.Roles, def.Roles),
		Permissions: or(fc.Claims.Permissions, def.Permissions),
		Email:       or(fc.Claims.Email, def.Email),
		Namespaces:  def.Namespaces,
	}
	if fc.Claims.Namespaces != nil {
		mapping.Namespaces = fc.Claims.Namespaces
	}
	switch {
	case fc.Claims.RolePermissions != nil:
		mapping.RolePermissions = fc.Claims.RolePermissions
	case fc.Claims.DefaultRolePermissions:
		mapping.RolePermissions = fwdauth.DefaultRolePermissions()
	}

	cfg := fwdauth.Config{
		Issuer:          fc.Issuer,
		Audience:        fc.Audience,
		Claims:          mapping,
		CheckDeadline:   millis(fc.CheckDeadlineMs),
		RetryAfter:      seconds(fc.RetryAfterSec),
		WarmOnBootstrap: fc.WarmOnBootstrap,
		ServiceName:     fc.ServiceName,
		JWKS: fwdauth.JWKSConfig{
			URL:                fc.JWKS.URL,
			DiscoverFromIssuer: fc.JWKS.DiscoverFromIssuer,
			CacheTTL:           seconds(fc.JWKS.CacheTTLSec),
			FetchTimeout:       millis(fc.JWKS.FetchTimeoutMs),
			MinRefreshInterval: seconds(fc.JWKS.MinRefreshIntervalSec),
			Auth: fwdauth.JWKSAuthConfig{
				Kind:        fc.JWKS.Auth.Kind,
				Username:    fc.JWKS.Auth.Username,
				Password:    fc.JWKS.Auth.Password,
				BearerToken: fc.JWKS.Auth.BearerToken,
				HeaderName:  fc.JWKS.Auth.HeaderName,
				HeaderValue: fc.JWKS.Auth.HeaderValue,
			},
			ExtraHeaders: fc.JWKS.ExtraHeaders,
		},
		ProviderLookup: fwdauth.ProviderLookupConfig{
			Enabled:      fc.ProviderLookup.Enabled,
			Endpoint:     fc.ProviderLookup.Endpoint,
			APIKey:       fc.ProviderLookup.APIKey,
			APIKeyHeader: fc.ProviderLookup.APIKeyHeader,
			Timeout:      millis(fc.ProviderLookup.TimeoutMs),
			CacheTTL:     seconds(fc.ProviderLookup.CacheTTLSec),
		},
		Policies: fwdauth.Policies{
			Claims: fwdauth.ClaimPolicy{
				Required:       fc.Policies.Claims.Required,
				Denylist:       fc.Policies.Claims.Denylist,
				EnforcedValues: fc.Policies.Claims.EnforcedValues,
				AnyRole:        fc.Policies.Claims.AnyRole,
				RequireTenant:  fc.Policies.Claims.RequireTenant,
			},
			Lua: fwdauth.LuaPolicyConfig{
				Enabled: fc.Policies.Lua.Enabled,
				Script:  script,
				Timeout: millis(fc.Policies.Lua.TimeoutMs),
			},
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return &cfg, nil
}

func or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
func millis(n int) time.Duration  { return time.Duration(n) * time.Millisecond }

// jsonLoader loads config from a JSON file.
type jsonLoader struct {
	path string
}

// FromJSONFile creates a Loader that reads config from a JSON file.
func FromJSONFile(path string) Loader {
	return &jsonLoader{path: path}
}

func (l *jsonLoader) Load(_ context.Context) (*fwdauth.Config, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read json config: %w", err)
	}
	var fc FileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse json config: %w", err)
	}
	return fc.Config()
}
