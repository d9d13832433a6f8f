// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit provides per-source request limiting over a fixed window.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrRateLimitExceeded is returned when a source exceeds its budget.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

const (
	// DefaultWindow is the measurement window for request counting.
	DefaultWindow = time.Minute

	// DefaultKeyExpiry is how long an idle source's state is retained.
	DefaultKeyExpiry = 15 * time.Minute

	// DefaultSweepInterval is the cadence of the background state sweep.
	DefaultSweepInterval = 5 * time.Minute

	// evictionInterval bounds how often per-key eviction runs, so a busy
	// source does not pay the eviction scan on every request.
	evictionInterval = time.Second
)

// window tracks acceptance timestamps for one source key.
type window struct {
	mu        sync.Mutex
	stamps    []time.Time
	lastEvict time.Time
	lastSeen  time.Time
}

// allow evicts expired timestamps lazily and records the request if the
// live count is below max.
func (w *window) allow(now time.Time, size time.Duration, max int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastSeen = now

	if now.Sub(w.lastEvict) >= evictionInterval {
		cutoff := now.Add(-size)
		live := w.stamps[:0]
		for _, ts := range w.stamps {
			if ts.After(cutoff) {
				live = append(live, ts)
			}
		}
		w.stamps = live
		w.lastEvict = now
	}

	if len(w.stamps) >= max {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

func (w *window) idleSince(now time.Time) time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return now.Sub(w.lastSeen)
}

// Limiter tracks request windows per source key. Unrelated keys contend
// only on the map lock during lookup; counting is per-key.
type Limiter struct {
	mu        sync.RWMutex
	windows   map[string]*window
	max       int
	window    time.Duration
	keyExpiry time.Duration
	clock     clock.Clock
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides the measurement window.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) { l.window = d }
}

// WithKeyExpiry overrides the idle expiry for per-key state.
func WithKeyExpiry(d time.Duration) Option {
	return func(l *Limiter) { l.keyExpiry = d }
}

// WithClock substitutes the clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = c }
}

// New creates a limiter allowing max requests per key per window.
func New(max int, opts ...Option) *Limiter {
	l := &Limiter{
		windows:   make(map[string]*window),
		max:       max,
		window:    DefaultWindow,
		keyExpiry: DefaultKeyExpiry,
		clock:     clock.New(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether a request from the given source key should be
// accepted, recording it if so. State for a new key is created lazily.
func (l *Limiter) Allow(key string) bool {
	l.mu.RLock()
	w, exists := l.windows[key]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		// Double-check after acquiring write lock
		w, exists = l.windows[key]
		if !exists {
			w = &window{}
			l.windows[key] = w
		}
		l.mu.Unlock()
	}

	return w.allow(l.clock.Now(), l.window, l.max)
}

// Remove drops all state for a source key.
func (l *Limiter) Remove(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// Keys returns the number of tracked source keys.
func (l *Limiter) Keys() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Run sweeps expired per-key state on a fixed cadence until the context is
// cancelled. Should be called in a background goroutine.
func (l *Limiter) Run(ctx context.Context) {
	ticker := l.clock.Ticker(DefaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

// sweep removes state for keys idle longer than the expiry.
func (l *Limiter) sweep() {
	now := l.clock.Now()
	var toRemove []string

	l.mu.RLock()
	for key, w := range l.windows {
		if w.idleSince(now) > l.keyExpiry {
			toRemove = append(toRemove, key)
		}
	}
	l.mu.RUnlock()

	if len(toRemove) == 0 {
		return
	}

	l.mu.Lock()
	for _, key := range toRemove {
		delete(l.windows, key)
	}
	l.mu.Unlock()
}
