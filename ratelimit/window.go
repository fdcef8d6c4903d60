/*
Package ratelimit admits at most N events per key within a trailing window W.

ALGORITHM (sliding window log):
  Each Allow(key):
  1. Evict recorded timestamps older than now - W (prefix trim, oldest first)
  2. Fewer than N left -> record now, admit
  3. Otherwise         -> deny, record nothing

  Denied attempts do not count against the window; admitted ones do.

CONCURRENCY:
  State is a sync.Map from key to a per-key window with its own mutex.
  Evict-check-record is atomic for one key; different keys never share a
  lock, so a hot card cannot slow down any other card.

MEMORY:
  No background process is required for correctness. Sweep() drops windows
  that are empty after eviction. A swept window is marked retired under its
  lock, and Allow re-resolves the key if it raced with the sweep.

IMPLEMENTATIONS:
  - SlidingWindow: in-process (default)
  - RedisWindow:   shared across instances (redis.go)
*/
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	DefaultLimit  = 5
	DefaultWindow = 60 * time.Second
)

// Limiter is a consult-and-record admission check.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config sets the admit count and window length.
type Config struct {
	Limit  int
	Window time.Duration
}

func DefaultConfig() Config {
	return Config{Limit: DefaultLimit, Window: DefaultWindow}
}

func (c Config) Validate() error {
	if c.Limit <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d", c.Limit)
	}
	if c.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.Window)
	}
	return nil
}

// =============================================================================
// SLIDING WINDOW - In-process, per-key locking
// =============================================================================

type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	windows sync.Map // string -> *keyWindow
}

type keyWindow struct {
	mu      sync.Mutex
	stamps  []time.Time // oldest first
	retired bool
}

type Option func(*SlidingWindow)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

func NewSlidingWindow(cfg Config, opts ...Option) (*SlidingWindow, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &SlidingWindow{
		limit:  cfg.Limit,
		window: cfg.Window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Allow never returns an error; the signature matches Limiter.
func (s *SlidingWindow) Allow(_ context.Context, key string) (bool, error) {
	return s.allow(key), nil
}

func (s *SlidingWindow) allow(key string) bool {
	for {
		v, _ := s.windows.LoadOrStore(key, &keyWindow{})
		w := v.(*keyWindow)

		w.mu.Lock()
		if w.retired {
			// Lost a race with Sweep; the key now maps to a fresh window.
			w.mu.Unlock()
			continue
		}
		now := s.now()
		w.evict(now.Add(-s.window))
		admitted := len(w.stamps) < s.limit
		if admitted {
			w.stamps = append(w.stamps, now)
		}
		w.mu.Unlock()
		return admitted
	}
}

// evict drops timestamps strictly before cutoff.
func (w *keyWindow) evict(cutoff time.Time) {
	i := 0
	for i < len(w.stamps) && w.stamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// Remaining reports how many more attempts key would be admitted right now.
// It evicts but never records.
func (s *SlidingWindow) Remaining(key string) int {
	v, ok := s.windows.Load(key)
	if !ok {
		return s.limit
	}
	w := v.(*keyWindow)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retired {
		return s.limit
	}
	w.evict(s.now().Add(-s.window))
	return s.limit - len(w.stamps)
}

// Sweep removes windows with no timestamps left inside the window and
// returns how many were removed.
func (s *SlidingWindow) Sweep() int {
	cutoff := s.now().Add(-s.window)
	removed := 0
	s.windows.Range(func(k, v any) bool {
		w := v.(*keyWindow)
		w.mu.Lock()
		w.evict(cutoff)
		if len(w.stamps) == 0 && !w.retired {
			w.retired = true
			s.windows.CompareAndDelete(k, w)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of keys currently tracked.
func (s *SlidingWindow) Len() int {
	n := 0
	s.windows.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
