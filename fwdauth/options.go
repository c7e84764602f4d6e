package fwdauth

import (
	"context"
	"net/http"
	"time"

	"github.com/keksclan/goFwdAuth/internal/cache"
	"github.com/rs/zerolog"
)

// MetricsCollector receives gateway, validation and key set outcomes.
// All methods must be safe for concurrent use.
// Implementations must never log or store tokens or claims.
type MetricsCollector interface {
	CheckCompleted(status int, elapsed time.Duration)
	ValidationSucceeded(origin Origin)
	ValidationFailed(reason string)
	KeySetFetched(elapsed time.Duration, keys int, err error)
}

// Registry is a directory of resolved services shared beyond one Gateway.
// Get returns ErrServiceNotRegistered on a miss.
type Registry interface {
	Get(ctx context.Context, name string) (*Service, error)
	Register(ctx context.Context, name string, svc *Service) error
}

// Cache stores provider lookup results.
type Cache = cache.Cache

type Option func(*options)

type options struct {
	httpc     *http.Client
	log       zerolog.Logger
	metrics   MetricsCollector
	registry  Registry
	keySource KeySource
	cache     Cache
	now       func() time.Time
}

func defaultOptions() options {
	return options{
		httpc:   &http.Client{Timeout: 10 * time.Second},
		log:     zerolog.Nop(),
		metrics: nopMetrics{},
		now:     time.Now,
	}
}

// WithHTTPClient sets the client used for key set, discovery and provider
// lookup requests.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpc = c
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithRegistry makes the gateway look up its service in r before
// bootstrapping a new one, and publish a bootstrapped service there.
func WithRegistry(r Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithKeySource replaces the HTTP key set endpoint.
func WithKeySource(src KeySource) Option {
	return func(o *options) { o.keySource = src }
}

// WithCache replaces the provider lookup cache.
func WithCache(c Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithClock replaces time.Now for token and key set expiry, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

type nopMetrics struct{}

func (nopMetrics) CheckCompleted(int, time.Duration)       {}
func (nopMetrics) ValidationSucceeded(Origin)              {}
func (nopMetrics) ValidationFailed(string)                 {}
func (nopMetrics) KeySetFetched(time.Duration, int, error) {}
