// Package keyset caches the identity provider's public signing keys.
//
// The current key set is an immutable Snapshot swapped atomically on every
// successful fetch. Lookups against an unexpired snapshot never block. Stale
// snapshots and unknown key ids trigger a refresh that is coalesced across all
// concurrent callers, so a key rotation costs one request to the provider.
//
// Concurrency: Cache is safe for concurrent use.
package keyset

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL          = 10 * time.Minute
	DefaultFetchTimeout = 3 * time.Second

	flightKey = "keyset"
)

// Config controls snapshot lifetime and fetch behaviour.
type Config struct {
	// TTL is the wall-clock lifetime of a snapshot.
	TTL time.Duration
	// FetchTimeout bounds a single fetch, independent of any caller's deadline.
	FetchTimeout time.Duration
	// MinRefreshInterval suppresses refreshes on a kid miss while the current
	// snapshot is younger than this. Zero disables the limit.
	MinRefreshInterval time.Duration
}

func (c *Config) setDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
}

// Metrics receives key set fetch outcomes. Implementations must be safe for
// concurrent use.
type Metrics interface {
	KeySetFetched(elapsed time.Duration, keys int, err error)
}

type nopMetrics struct{}

func (nopMetrics) KeySetFetched(time.Duration, int, error) {}

type Option func(*Cache)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

func WithMetrics(m Metrics) Option {
	return func(c *Cache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

type Cache struct {
	src     Source
	cfg     Config
	now     func() time.Time
	log     zerolog.Logger
	metrics Metrics

	current atomic.Pointer[Snapshot]
	sfGroup singleflight.Group
}

func New(src Source, cfg Config, opts ...Option) *Cache {
	cfg.setDefaults()
	c := &Cache{
		src:     src,
		cfg:     cfg,
		now:     time.Now,
		log:     zerolog.Nop(),
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetKey returns the signing key for kid.
//
// It returns ErrKeyNotFound when kid is not in an up-to-date key set and
// ErrKeySourceUnavailable when no unexpired key set can be obtained before
// ctx is done.
func (c *Cache) GetKey(ctx context.Context, kid string) (SigningKey, error) {
	snap := c.current.Load()
	now := c.now()
	if snap.ValidAt(now) {
		if k, ok := snap.Lookup(kid); ok {
			return k, nil
		}
		if c.cfg.MinRefreshInterval > 0 && now.Sub(snap.FetchedAt()) < c.cfg.MinRefreshInterval {
			return SigningKey{}, ErrKeyNotFound
		}
	}

	fresh, err := c.refresh(ctx, snap)
	if err != nil {
		if ctx.Err() != nil {
			return SigningKey{}, err
		}
		// A failed fetch does not invalidate a snapshot that is still within its TTL.
		if prev := c.current.Load(); prev.ValidAt(c.now()) {
			if k, ok := prev.Lookup(kid); ok {
				return k, nil
			}
			return SigningKey{}, ErrKeyNotFound
		}
		return SigningKey{}, err
	}
	if k, ok := fresh.Lookup(kid); ok {
		return k, nil
	}
	return SigningKey{}, ErrKeyNotFound
}

// Refresh forces a fetch (joining one already in flight) and returns the
// resulting snapshot.
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	return c.refresh(ctx, c.current.Load())
}

// Warm performs a best-effort initial fetch.
func (c *Cache) Warm(ctx context.Context) {
	if _, err := c.Refresh(ctx); err != nil {
		c.log.Warn().Err(err).Msg("initial key set fetch failed")
	}
}

// Snapshot returns the current snapshot, which may be nil or expired.
func (c *Cache) Snapshot() *Snapshot { return c.current.Load() }

// Ready reports whether an unexpired snapshot is installed.
func (c *Cache) Ready() bool { return c.current.Load().ValidAt(c.now()) }

// refresh joins the in-flight fetch or starts one. observed is the snapshot
// the caller judged stale; if another flight has already replaced it, the
// replacement is returned without fetching again.
func (c *Cache) refresh(ctx context.Context, observed *Snapshot) (*Snapshot, error) {
	ch := c.sfGroup.DoChan(flightKey, func() (any, error) {
		if cur := c.current.Load(); cur != observed && cur.ValidAt(c.now()) {
			return cur, nil
		}
		return c.fetch()
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		snap, ok := res.Val.(*Snapshot)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected singleflight result type %T", ErrKeySourceUnavailable, res.Val)
		}
		return snap, nil
	case <-ctx.Done():
		// Stop waiting; the fetch keeps running for everyone else.
		return nil, fmt.Errorf("%w: %w", ErrKeySourceUnavailable, ctx.Err())
	}
}

// fetch runs detached from any caller context so that a caller hitting its
// deadline does not abort the shared request.
func (c *Cache) fetch() (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	keys, err := c.fetchKeys(ctx)
	if err == nil && len(keys) == 0 {
		err = ErrEmptyKeySet
	}
	elapsed := time.Since(start)
	if err != nil {
		c.metrics.KeySetFetched(elapsed, 0, err)
		c.log.Warn().Err(err).Dur("elapsed", elapsed).Msg("key set fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrKeySourceUnavailable, err)
	}

	snap := NewSnapshot(keys, c.now(), c.cfg.TTL)
	c.current.Store(snap)
	c.metrics.KeySetFetched(elapsed, snap.Len(), nil)
	c.log.Info().
		Int("keys", snap.Len()).
		Strs("kids", snap.KeyIDs()).
		Dur("elapsed", elapsed).
		Time("expires_at", snap.ExpiresAt()).
		Msg("key set refreshed")
	return snap, nil
}

// fetchKeys calls the source. singleflight re-panics on a fresh goroutine
// where no caller can recover, so a panicking source is turned into an error
// here.
func (c *Cache) fetchKeys(ctx context.Context) (keys []SigningKey, err error) {
	defer func() {
		if r := recover(); r != nil {
			keys, err = nil, fmt.Errorf("source panicked: %v", r)
		}
	}()
	return c.src.Fetch(ctx)
}
