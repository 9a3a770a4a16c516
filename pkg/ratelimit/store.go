// Package ratelimit keeps one token bucket per key, evicting keys that have
// been idle for longer than a TTL.
package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"boarcore.com/pkg/safe"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen int64 // unix nano
}

type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	rate    rate.Limit
	burst   int
	ttl     time.Duration
}

// NewStore allows r events per second per key with the given burst. Keys idle
// longer than ttl (default 10m) are dropped by the janitor.
func NewStore(r rate.Limit, burst int, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if burst <= 0 {
		burst = 1
	}
	return &Store{
		entries: make(map[string]*entry, 1024),
		rate:    r,
		burst:   burst,
		ttl:     ttl,
	}
}

func (s *Store) get(key string) *entry {
	now := time.Now().UnixNano()
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(s.rate, s.burst), lastSeen: now}
		s.entries[key] = e
		return e
	}
	atomic.StoreInt64(&e.lastSeen, now)
	return e
}

// Allow takes a token for key if one is available.
func (s *Store) Allow(key string) bool {
	return s.get(key).limiter.Allow()
}

// Wait blocks until key has a token or ctx ends.
func (s *Store) Wait(ctx context.Context, key string) error {
	return s.get(key).limiter.Wait(ctx)
}

// Len is the number of tracked keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartJanitor evicts idle keys every interval until ctx is done.
func (s *Store) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.cleanup(time.Now())
			}
		}
	})
}

func (s *Store) cleanup(now time.Time) {
	cut := now.Add(-s.ttl).UnixNano()
	s.mu.Lock()
	for k, e := range s.entries {
		if atomic.LoadInt64(&e.lastSeen) < cut {
			delete(s.entries, k)
		}
	}
	s.mu.Unlock()
}
