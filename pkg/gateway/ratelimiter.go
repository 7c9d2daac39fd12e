package gateway

import (
	"sync"
	"time"
)

// Rejection reasons.
const (
	ReasonTooManyConcurrent = "too many concurrent requests"
	ReasonRateLimited       = "rate limit exceeded"
)

// ClientRateLimiter implements sliding window rate limiting per client
type ClientRateLimiter struct {
	mu                 sync.Mutex
	requestsPerWindow  int
	window             time.Duration
	maxConcurrent      int
	requests           []time.Time
	concurrentRequests int
	now                func() time.Time
}

// NewClientRateLimiterWithLimits creates a rate limiter with custom limits.
// A non-positive maxConcurrent disables the concurrency bound.
func NewClientRateLimiterWithLimits(requestsPerWindow int, window time.Duration, maxConcurrent int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerWindow: requestsPerWindow,
		window:            window,
		maxConcurrent:     maxConcurrent,
		requests:          make([]time.Time, 0),
		now:               time.Now,
	}
}

// Acquire checks the limits and, when allowed, records the request start in
// one step. Every successful Acquire must be paired with RecordRequestEnd.
func (r *ClientRateLimiter) Acquire() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ok, reason := r.checkLocked(); !ok {
		return false, reason
	}
	r.requests = append(r.requests, r.now())
	r.concurrentRequests++
	return true, ""
}

// RecordRequestEnd records the end of a request
func (r *ClientRateLimiter) RecordRequestEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.concurrentRequests > 0 {
		r.concurrentRequests--
	}
}

// GetStats returns current rate limiter statistics
func (r *ClientRateLimiter) GetStats() (requestCount, concurrentCount int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()
	return len(r.requests), r.concurrentRequests
}

func (r *ClientRateLimiter) checkLocked() (bool, string) {
	if r.maxConcurrent > 0 && r.concurrentRequests >= r.maxConcurrent {
		return false, ReasonTooManyConcurrent
	}

	r.pruneLocked()
	if len(r.requests) >= r.requestsPerWindow {
		return false, ReasonRateLimited
	}
	return true, ""
}

func (r *ClientRateLimiter) pruneLocked() {
	cutoff := r.now().Add(-r.window)
	valid := r.requests[:0]
	for _, reqTime := range r.requests {
		if reqTime.After(cutoff) {
			valid = append(valid, reqTime)
		}
	}
	r.requests = valid
}

// RateLimiterSet hands out one ClientRateLimiter per client address.
type RateLimiterSet struct {
	mu                sync.Mutex
	limiters          map[string]*ClientRateLimiter
	requestsPerWindow int
	window            time.Duration
	maxConcurrent     int
	maxTracked        int
}

// NewRateLimiterSet creates a set whose limiters share the given limits.
func NewRateLimiterSet(requestsPerWindow int, window time.Duration, maxConcurrent int) *RateLimiterSet {
	return &RateLimiterSet{
		limiters:          make(map[string]*ClientRateLimiter),
		requestsPerWindow: requestsPerWindow,
		window:            window,
		maxConcurrent:     maxConcurrent,
		maxTracked:        4096,
	}
}

// Get returns the limiter for key, creating it on first use.
func (s *RateLimiterSet) Get(key string) *ClientRateLimiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.limiters[key]; ok {
		return l
	}
	if len(s.limiters) >= s.maxTracked {
		s.pruneIdleLocked()
	}
	l := NewClientRateLimiterWithLimits(s.requestsPerWindow, s.window, s.maxConcurrent)
	s.limiters[key] = l
	return l
}

// Len returns the number of tracked clients.
func (s *RateLimiterSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.limiters)
}

// pruneIdleLocked drops limiters with no requests in the window and none in flight.
func (s *RateLimiterSet) pruneIdleLocked() int {
	removed := 0
	for key, l := range s.limiters {
		if count, concurrent := l.GetStats(); count == 0 && concurrent == 0 {
			delete(s.limiters, key)
			removed++
		}
	}
	return removed
}
