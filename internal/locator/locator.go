// Package locator resolves a long-lived service handle once per process.
//
// Resolution consults a Registry first and bootstraps a new instance on a
// miss. Concurrent callers share one resolution; the first caller's context
// never cancels it. Once resolved, Locate is a single atomic load.
package locator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable means neither the registry nor bootstrap produced a handle.
	ErrUnavailable = errors.New("locator: service unavailable")
	// ErrNotFound is returned by registries on a miss.
	ErrNotFound = errors.New("locator: service not registered")
)

const (
	DefaultRetryAfter     = time.Second
	DefaultResolveTimeout = 10 * time.Second
)

// State is the resolution state of a Locator.
type State int

const (
	StateUnresolved State = iota
	StateResolving
	StateResolved
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateUnavailable:
		return "unavailable"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// BootstrapFunc constructs a new service instance.
type BootstrapFunc[T any] func(ctx context.Context) (T, error)

type Config[T any] struct {
	// Name is the registry key.
	Name string
	// Registry is optional; without one every resolution bootstraps.
	Registry  Registry[T]
	Bootstrap BootstrapFunc[T]
	// RetryAfter is how long an Unavailable outcome is reported before a new
	// resolution is attempted.
	RetryAfter time.Duration
	// ResolveTimeout bounds one resolution.
	ResolveTimeout time.Duration
	Logger         *zerolog.Logger
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

type resolution[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Locator is safe for concurrent use.
type Locator[T any] struct {
	cfg Config[T]
	log zerolog.Logger

	resolved atomic.Pointer[T]

	mu       sync.Mutex
	inflight *resolution[T]
	failedAt time.Time
	lastErr  error
}

func New[T any](cfg Config[T]) (*Locator[T], error) {
	if cfg.Bootstrap == nil {
		return nil, errors.New("locator: bootstrap is required")
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = DefaultRetryAfter
	}
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = DefaultResolveTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	l := &Locator[T]{cfg: cfg, log: zerolog.Nop()}
	if cfg.Logger != nil {
		l.log = *cfg.Logger
	}
	return l, nil
}

// Locate returns the service handle, resolving it on first use. Errors wrap
// ErrUnavailable.
func (l *Locator[T]) Locate(ctx context.Context) (T, error) {
	if p := l.resolved.Load(); p != nil {
		return *p, nil
	}

	var zero T
	l.mu.Lock()
	if p := l.resolved.Load(); p != nil {
		l.mu.Unlock()
		return *p, nil
	}
	r := l.inflight
	if r == nil {
		if !l.failedAt.IsZero() && l.cfg.Now().Sub(l.failedAt) < l.cfg.RetryAfter {
			err := l.lastErr
			l.mu.Unlock()
			return zero, err
		}
		r = &resolution[T]{done: make(chan struct{})}
		l.inflight = r
		go l.resolve(r)
	}
	l.mu.Unlock()

	select {
	case <-r.done:
		return r.val, r.err
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	}
}

// State reports the current resolution state.
func (l *Locator[T]) State() State {
	if l.resolved.Load() != nil {
		return StateResolved
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.inflight != nil:
		return StateResolving
	case !l.failedAt.IsZero():
		return StateUnavailable
	}
	return StateUnresolved
}

func (l *Locator[T]) resolve(r *resolution[T]) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.ResolveTimeout)
	defer cancel()

	start := time.Now()
	val, err := l.find(ctx)

	l.mu.Lock()
	if err == nil {
		l.resolved.Store(&val)
		l.failedAt, l.lastErr = time.Time{}, nil
	} else {
		l.failedAt, l.lastErr = l.cfg.Now(), err
	}
	r.val, r.err = val, err
	l.inflight = nil
	l.mu.Unlock()
	close(r.done)

	if err != nil {
		l.log.Error().Err(err).Str("service", l.cfg.Name).Msg("service resolution failed")
		return
	}
	l.log.Info().Str("service", l.cfg.Name).Dur("elapsed", time.Since(start)).Msg("service resolved")
}

func (l *Locator[T]) find(ctx context.Context) (svc T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			svc, err = zero, fmt.Errorf("%w: bootstrap panicked: %v", ErrUnavailable, r)
		}
	}()

	var regErr error
	if l.cfg.Registry != nil {
		svc, err := l.cfg.Registry.Get(ctx, l.cfg.Name)
		if err == nil {
			return svc, nil
		}
		if !errors.Is(err, ErrNotFound) {
			regErr = fmt.Errorf("registry lookup: %w", err)
			l.log.Warn().Err(err).Str("service", l.cfg.Name).Msg("registry lookup failed, bootstrapping")
		}
	}

	svc, err = l.cfg.Bootstrap(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(regErr, fmt.Errorf("bootstrap: %w", err)))
	}

	if l.cfg.Registry != nil {
		// The handle is usable in-process even if publishing it fails.
		if err := l.cfg.Registry.Register(ctx, l.cfg.Name, svc); err != nil {
			l.log.Warn().Err(err).Str("service", l.cfg.Name).Msg("registering service failed")
		}
	}
	return svc, nil
}
