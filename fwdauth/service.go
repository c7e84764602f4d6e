package fwdauth

import (
	"context"
	"fmt"
	"time"

	"github.com/keksclan/goFwdAuth/internal/cache"
	"github.com/keksclan/goFwdAuth/internal/keyset"
	"github.com/keksclan/goFwdAuth/internal/verify"
	"github.com/rs/zerolog"
)

// Service validates bearer tokens against the identity provider's cached
// signing keys. It is the handle the Gateway resolves once per process.
//
// Concurrency: Service is safe for concurrent use.
type Service struct {
	keys      *keyset.Cache
	validator *verify.Validator
	jwksURL   string
	closers   []func()
	log       zerolog.Logger
}

// KeySetInfo describes the key set snapshot currently in use.
type KeySetInfo struct {
	KeyIDs    []string  `json:"kids"`
	FetchedAt time.Time `json:"fetched_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Ready     bool      `json:"ready"`
}

// NewService builds a Service from cfg. ctx bounds discovery and, when
// cfg.WarmOnBootstrap is set, the initial key set fetch.
func NewService(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	cfg.setDefaults()
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.validate(o.keySource != nil); err != nil {
		return nil, err
	}
	return newService(ctx, cfg, o)
}

func newService(ctx context.Context, cfg Config, o options) (*Service, error) {
	s := &Service{log: o.log.With().Str("component", "fwdauth").Logger()}

	src := o.keySource
	if src == nil {
		url := cfg.JWKS.URL
		if url == "" {
			discovered, err := keyset.DiscoverURL(ctx, cfg.Issuer, o.httpc)
			if err != nil {
				return nil, fmt.Errorf("discover jwks url: %w", err)
			}
			s.log.Info().Str("jwks_url", discovered).Msg("discovered key set endpoint")
			url = discovered
		}
		s.jwksURL = url
		src = keyset.NewHTTPSource(url,
			keyset.WithHTTPClient(o.httpc),
			keyset.WithAuth(keyset.AuthConfig{
				Kind:        keyset.AuthKind(cfg.JWKS.Auth.Kind),
				Username:    cfg.JWKS.Auth.Username,
				Password:    cfg.JWKS.Auth.Password,
				BearerToken: cfg.JWKS.Auth.BearerToken,
				HeaderName:  cfg.JWKS.Auth.HeaderName,
				HeaderValue: cfg.JWKS.Auth.HeaderValue,
			}),
			keyset.WithExtraHeaders(cfg.JWKS.ExtraHeaders),
			keyset.WithSourceLogger(s.log),
		)
	}

	s.keys = keyset.New(src, cfg.keySetConfig(),
		keyset.WithLogger(s.log),
		keyset.WithMetrics(o.metrics),
		keyset.WithClock(o.now),
	)

	policy, err := buildPolicy(cfg.Policies)
	if err != nil {
		return nil, err
	}

	vcfg := verify.Config{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Claims:   cfg.Claims,
		Policy:   policy,
		Metrics:  o.metrics,
		Logger:   &s.log,
		Now:      o.now,
	}
	if cfg.ProviderLookup.Enabled {
		lookup, err := s.newLookup(cfg, o)
		if err != nil {
			s.Close()
			return nil, err
		}
		vcfg.Lookup = lookup
	}
	s.validator, err = verify.New(vcfg, s.keys)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("init validator: %w", err)
	}

	if cfg.WarmOnBootstrap {
		s.keys.Warm(ctx)
	}
	return s, nil
}

func (s *Service) newLookup(cfg Config, o options) (*verify.LookupClient, error) {
	c := o.cache
	if c == nil {
		rc, err := cache.NewRistrettoCache(cache.Config{})
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, rc.Close)
		c = rc
	}
	lookup, err := verify.NewLookupClient(cfg.lookupConfig(),
		verify.WithLookupHTTPClient(o.httpc),
		verify.WithLookupCache(c),
		verify.WithLookupLogger(s.log),
	)
	if err != nil {
		return nil, fmt.Errorf("init provider lookup: %w", err)
	}
	return lookup, nil
}

// Validate verifies token and returns its identity. Rejections match the
// Err* kind sentinels; ErrKeySourceUnavailable means the token could not be
// judged.
func (s *Service) Validate(ctx context.Context, token string) (*SecurityContext, error) {
	return s.validator.Validate(ctx, token)
}

// RefreshKeys forces a key set fetch, joining one already in flight.
func (s *Service) RefreshKeys(ctx context.Context) (KeySetInfo, error) {
	if _, err := s.keys.Refresh(ctx); err != nil {
		return s.KeySet(), err
	}
	return s.KeySet(), nil
}

// KeySet describes the current snapshot.
func (s *Service) KeySet() KeySetInfo {
	snap := s.keys.Snapshot()
	if snap == nil {
		return KeySetInfo{}
	}
	return KeySetInfo{
		KeyIDs:    snap.KeyIDs(),
		FetchedAt: snap.FetchedAt(),
		ExpiresAt: snap.ExpiresAt(),
		Ready:     s.keys.Ready(),
	}
}

// Ready reports whether an unexpired key set is installed.
func (s *Service) Ready() bool { return s.keys.Ready() }

// JWKSURL returns the key set endpoint, empty when a custom KeySource is used.
func (s *Service) JWKSURL() string { return s.jwksURL }

// Close releases background resources.
func (s *Service) Close() {
	for _, c := range s.closers {
		c()
	}
	s.closers = nil
}
