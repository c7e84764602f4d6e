package locator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type handle struct{ id int }

type failingRegistry struct{ err error }

func (r failingRegistry) Get(context.Context, string) (*handle, error) { return nil, r.err }
func (r failingRegistry) Register(context.Context, string, *handle) error {
	return r.err
}

func TestLocateBootstrapsOnceUnderConcurrency(t *testing.T) {
	var boots atomic.Int32
	reg := NewMemoryRegistry[*handle]()
	l, err := New(Config[*handle]{
		Name:     "auth",
		Registry: reg,
		Bootstrap: func(ctx context.Context) (*handle, error) {
			n := boots.Add(1)
			time.Sleep(30 * time.Millisecond)
			return &handle{id: int(n)}, nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	got := make(chan *handle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := l.Locate(context.Background())
			if err != nil {
				t.Errorf("Locate: %v", err)
				return
			}
			got <- h
		}()
	}
	wg.Wait()
	close(got)

	var first *handle
	for h := range got {
		if first == nil {
			first = h
		}
		if h != first {
			t.Fatal("callers received different handles")
		}
	}
	if b := boots.Load(); b != 1 {
		t.Fatalf("expected 1 bootstrap, got %d", b)
	}
	if reg.Len() != 1 {
		t.Fatal("bootstrapped handle was not registered")
	}
	if l.State() != StateResolved {
		t.Fatalf("State = %v", l.State())
	}
}

func TestLocateUsesRegistryHit(t *testing.T) {
	reg := NewMemoryRegistry[*handle]()
	existing := &handle{id: 42}
	_ = reg.Register(t.Context(), "auth", existing)

	l, _ := New(Config[*handle]{
		Name:     "auth",
		Registry: reg,
		Bootstrap: func(context.Context) (*handle, error) {
			t.Error("bootstrap called despite registry hit")
			return nil, errors.New("unexpected")
		},
	})
	h, err := l.Locate(t.Context())
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if h != existing {
		t.Fatalf("got %+v, want registered handle", h)
	}
}

func TestLocateRegistryErrorFallsBackToBootstrap(t *testing.T) {
	l, _ := New(Config[*handle]{
		Registry:  failingRegistry{err: errors.New("registry down")},
		Bootstrap: func(context.Context) (*handle, error) { return &handle{id: 1}, nil },
	})
	if _, err := l.Locate(t.Context()); err != nil {
		t.Fatalf("Locate: %v", err)
	}
}

func TestLocateUnavailableAndRetry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(d)
	}

	var boots atomic.Int32
	var healthy atomic.Bool
	l, _ := New(Config[*handle]{
		Registry:   failingRegistry{err: errors.New("registry down")},
		RetryAfter: time.Second,
		Now:        clock,
		Bootstrap: func(context.Context) (*handle, error) {
			boots.Add(1)
			if !healthy.Load() {
				return nil, errors.New("provider unreachable")
			}
			return &handle{id: 7}, nil
		},
	})

	if _, err := l.Locate(t.Context()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if l.State() != StateUnavailable {
		t.Fatalf("State = %v", l.State())
	}

	// Inside the retry window no new attempt is made.
	healthy.Store(true)
	if _, err := l.Locate(t.Context()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected cached ErrUnavailable, got %v", err)
	}
	if b := boots.Load(); b != 1 {
		t.Fatalf("expected 1 bootstrap inside retry window, got %d", b)
	}

	advance(2 * time.Second)
	h, err := l.Locate(t.Context())
	if err != nil {
		t.Fatalf("Locate after retry window: %v", err)
	}
	if h.id != 7 || boots.Load() != 2 {
		t.Fatalf("unexpected handle %+v after %d bootstraps", h, boots.Load())
	}
}

func TestLocateCallerCancellationDoesNotAbortResolution(t *testing.T) {
	release := make(chan struct{})
	var boots atomic.Int32
	l, _ := New(Config[*handle]{
		Bootstrap: func(ctx context.Context) (*handle, error) {
			boots.Add(1)
			select {
			case <-release:
				return &handle{id: 3}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Locate(ctx); !errors.Is(err, ErrUnavailable) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected unavailable wrapping deadline, got %v", err)
	}
	if l.State() != StateResolving {
		t.Fatalf("State = %v, want resolving", l.State())
	}

	close(release)
	h, err := l.Locate(t.Context())
	if err != nil || h.id != 3 {
		t.Fatalf("Locate = %+v, %v", h, err)
	}
	if boots.Load() != 1 {
		t.Fatalf("expected resolution to be shared, got %d bootstraps", boots.Load())
	}
}

func TestLocateBootstrapPanic(t *testing.T) {
	l, _ := New(Config[*handle]{
		Bootstrap: func(context.Context) (*handle, error) { panic("boom") },
	})
	if _, err := l.Locate(t.Context()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestNewRequiresBootstrap(t *testing.T) {
	if _, err := New(Config[int]{}); err == nil {
		t.Fatal("expected error without bootstrap")
	}
}
