// Package ratelimit implements a per-key sliding window request limiter.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// SlidingWindow allows at most limit events per key within any window-long
// interval. Rejected events are not recorded, so a client that keeps
// retrying regains capacity as its oldest accepted requests age out.
type SlidingWindow struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	hits map[string][]time.Time
}

// New creates a limiter. A non-positive limit allows everything.
func New(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// WithClock replaces the time source, used by tests.
func (s *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	s.now = now
	return s
}

// Limit returns the per-window cap
func (s *SlidingWindow) Limit() int { return s.limit }

// Window returns the window length
func (s *SlidingWindow) Window() time.Duration { return s.window }

// Allow records one event for key and reports whether it is within the limit
func (s *SlidingWindow) Allow(key string) bool {
	if s.limit <= 0 {
		return true
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := prune(s.hits[key], now.Add(-s.window))
	if len(hits) >= s.limit {
		s.hits[key] = hits
		return false
	}
	s.hits[key] = append(hits, now)
	return true
}

// Remaining returns how many events key may still make in the current window
func (s *SlidingWindow) Remaining(key string) int {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := prune(s.hits[key], now.Add(-s.window))
	s.hits[key] = hits
	if left := s.limit - len(hits); left > 0 {
		return left
	}
	return 0
}

// RetryAfter returns how long key must wait until one slot frees up
func (s *SlidingWindow) RetryAfter(key string) time.Duration {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	hits := prune(s.hits[key], now.Add(-s.window))
	if len(hits) < s.limit || len(hits) == 0 {
		return 0
	}
	return hits[0].Add(s.window).Sub(now)
}

// Sweep drops keys with no events inside the window and returns the number removed
func (s *SlidingWindow) Sweep() int {
	cutoff := s.now().Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, hits := range s.hits {
		if hits = prune(hits, cutoff); len(hits) == 0 {
			delete(s.hits, key)
			removed++
			continue
		}
		s.hits[key] = hits
	}
	return removed
}

// Run sweeps idle keys on every tick until ctx is cancelled
func (s *SlidingWindow) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// prune drops timestamps at or before cutoff; hits is kept in ascending order
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
