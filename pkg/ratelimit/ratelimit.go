// Package ratelimit holds the client-side request budget checked before any
// generative call leaves the process.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow admits at most Limit calls in any Window-long interval.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewSlidingWindow returns a limiter. A limit below one disables limiting.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		stamps: make([]time.Time, 0, max(limit, 0)),
		now:    time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (s *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

// Check records a call and reports whether it is admitted. When it is not,
// retryAfter is the time until the oldest recorded call leaves the window.
func (s *SlidingWindow) Check() (ok bool, retryAfter time.Duration) {
	if s == nil || s.limit < 1 {
		return true, 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.prune(now)

	if len(s.stamps) < s.limit {
		s.stamps = append(s.stamps, now)
		return true, 0
	}

	retryAfter = s.window - now.Sub(s.stamps[0])
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}

// Remaining returns how many calls would currently be admitted.
func (s *SlidingWindow) Remaining() int {
	if s == nil || s.limit < 1 {
		return -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune(s.now())
	return s.limit - len(s.stamps)
}

// stamps are kept in ascending order, so expired ones form a prefix
func (s *SlidingWindow) prune(now time.Time) {
	cut := 0
	for cut < len(s.stamps) && now.Sub(s.stamps[cut]) >= s.window {
		cut++
	}
	if cut > 0 {
		s.stamps = append(s.stamps[:0], s.stamps[cut:]...)
	}
}
