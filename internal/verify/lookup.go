package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keksclan/goFwdAuth/internal/cache"
	"github.com/rs/zerolog"
)

// maxLookupResponseSize limits the size of user endpoint responses to prevent memory bombs.
const maxLookupResponseSize = 1 << 20 // 1 MB

const (
	defaultLookupTimeout  = 2 * time.Second
	defaultLookupCacheTTL = 30 * time.Second
	defaultAPIKeyHeader   = "apikey"
	lookupCachePrefix     = "lookup"
)

// LookupConfig configures the provider user endpoint used as a fallback.
type LookupConfig struct {
	// Endpoint is the provider's user endpoint, for example
	// https://<project>.supabase.co/auth/v1/user.
	Endpoint     string
	APIKey       string
	APIKeyHeader string
	Timeout      time.Duration
	// CacheTTL bounds how long a positive answer is reused. Zero uses the
	// default; negative disables caching.
	CacheTTL     time.Duration
	ExtraHeaders map[string]string
}

// LookupClient asks the provider's user endpoint whether a token is valid.
// Positive answers are cached by token digest.
type LookupClient struct {
	cfg   LookupConfig
	httpc *http.Client
	cache cache.Cache
	log   zerolog.Logger
}

type LookupOption func(*LookupClient)

func WithLookupHTTPClient(c *http.Client) LookupOption {
	return func(l *LookupClient) {
		if c != nil {
			l.httpc = c
		}
	}
}

func WithLookupCache(c cache.Cache) LookupOption {
	return func(l *LookupClient) { l.cache = c }
}

func WithLookupLogger(log zerolog.Logger) LookupOption {
	return func(l *LookupClient) { l.log = log }
}

func NewLookupClient(cfg LookupConfig, opts ...LookupOption) (*LookupClient, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("lookup endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultLookupTimeout
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = defaultLookupCacheTTL
	}
	if cfg.APIKeyHeader == "" {
		cfg.APIKeyHeader = defaultAPIKeyHeader
	}
	l := &LookupClient{
		cfg:   cfg,
		httpc: &http.Client{Timeout: cfg.Timeout},
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Lookup returns the provider's user document for token. A 401 or 403 from
// the provider is ErrProviderRejected; any other failure is an ordinary
// error meaning the provider could not be asked. A positive answer is cached
// for CacheTTL or maxTTL, whichever is shorter; maxTTL <= 0 disables caching.
func (l *LookupClient) Lookup(ctx context.Context, token string, maxTTL time.Duration) (map[string]any, error) {
	key := cache.TokenKey(lookupCachePrefix, token)
	if l.cache != nil {
		if v, ok := l.cache.Get(key); ok {
			if doc, ok := v.(map[string]any); ok {
				return doc, nil
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.Endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if l.cfg.APIKey != "" {
		req.Header.Set(l.cfg.APIKeyHeader, l.cfg.APIKey)
	}
	for k, v := range l.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := l.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, reject(KindProviderRejected, fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("provider lookup failed with status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxLookupResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse user document: %w", err)
	}
	if doc == nil {
		return nil, errors.New("user document is not a JSON object")
	}
	// User endpoints report the subject as "id".
	if _, ok := doc["sub"]; !ok {
		if id, ok := doc["id"]; ok {
			doc["sub"] = id
		}
	}

	if ttl := min(l.cfg.CacheTTL, maxTTL); l.cache != nil && ttl > 0 {
		l.cache.Set(key, doc, ttl)
	}
	l.log.Debug().Int("status", resp.StatusCode).Msg("provider lookup succeeded")
	return doc, nil
}
