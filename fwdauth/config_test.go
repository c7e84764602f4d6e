package fwdauth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/keksclan/goFwdAuth/internal/keyset"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"jwks url", Config{JWKS: JWKSConfig{URL: "https://idp.example.com/.well-known/jwks.json"}}, ""},
		{"discovery", Config{Issuer: "https://idp.example.com", JWKS: JWKSConfig{DiscoverFromIssuer: true}}, ""},
		{"no key source", Config{}, "jwks.url is required"},
		{"discovery without issuer", Config{JWKS: JWKSConfig{DiscoverFromIssuer: true}}, "requires issuer"},
		{"bad scheme", Config{JWKS: JWKSConfig{URL: "ftp://idp.example.com/jwks"}}, "unsupported scheme"},
		{"missing host", Config{JWKS: JWKSConfig{URL: "https:///jwks"}}, "missing host"},
		{"unknown auth kind", Config{JWKS: JWKSConfig{URL: "https://idp.example.com/jwks", Auth: JWKSAuthConfig{Kind: "mtls"}}}, "not supported"},
		{
			"lookup without endpoint",
			Config{JWKS: JWKSConfig{URL: "https://idp.example.com/jwks"}, ProviderLookup: ProviderLookupConfig{Enabled: true}},
			"provider_lookup.endpoint is required",
		},
		{
			"lua without script",
			Config{JWKS: JWKSConfig{URL: "https://idp.example.com/jwks"}, Policies: Policies{Lua: LuaPolicyConfig{Enabled: true}}},
			"policies.lua.script is required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidateReportsAllErrors(t *testing.T) {
	err := Config{
		ProviderLookup: ProviderLookupConfig{Enabled: true},
		Policies:       Policies{Lua: LuaPolicyConfig{Enabled: true}},
	}.Validate()
	for _, want := range []string{"jwks.url", "provider_lookup.endpoint", "policies.lua.script"} {
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("error %v does not mention %s", err, want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var cfg Config
	cfg.setDefaults()
	if cfg.CheckDeadline != DefaultCheckDeadline {
		t.Errorf("CheckDeadline = %v", cfg.CheckDeadline)
	}
	if cfg.RetryAfter != DefaultRetryAfter {
		t.Errorf("RetryAfter = %v", cfg.RetryAfter)
	}
	if cfg.ServiceName != DefaultServiceName {
		t.Errorf("ServiceName = %q", cfg.ServiceName)
	}
	if cfg.JWKS.CacheTTL != keyset.DefaultTTL || cfg.JWKS.FetchTimeout != keyset.DefaultFetchTimeout {
		t.Errorf("JWKS = %+v", cfg.JWKS)
	}
	if cfg.JWKS.MinRefreshInterval != 0 {
		t.Errorf("MinRefreshInterval = %v", cfg.JWKS.MinRefreshInterval)
	}
}

func TestNewGatewayRejectsInvalidConfig(t *testing.T) {
	if _, err := NewGateway(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if _, err := NewGateway(Config{}, WithKeySource(&fakeSource{})); err != nil {
		t.Fatalf("custom key source should not need a URL: %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer abc", "abc", true},
		{"BEARER   abc  ", "abc", true},
		{"  Bearer abc", "abc", true},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearerabc", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		token, ok := BearerToken(tt.header)
		if token != tt.token || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, ok, tt.token, tt.ok)
		}
	}
}

func TestUnavailableRetryAfterRounding(t *testing.T) {
	for d, want := range map[time.Duration]string{
		0:                       "1",
		200 * time.Millisecond:  "1",
		time.Second:             "1",
		1500 * time.Millisecond: "2",
		30 * time.Second:        "30",
	} {
		if got := unavailable(d).Header.Get("Retry-After"); got != want {
			t.Errorf("Retry-After for %v = %q, want %q", d, got, want)
		}
	}
}
