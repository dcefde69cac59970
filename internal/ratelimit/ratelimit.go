// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

// Package ratelimit throttles configuration mutations with a per-identifier
// sliding window. It is a coarse per-process throttle, not a lock: separate
// processes each hold their own windows.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
)

const (
	DefaultMaxOperations = 5
	DefaultWindow        = 60 * time.Second
)

// Config configures a Limiter.
type Config struct {
	// MaxOperations is the number of admissions allowed per Window.
	MaxOperations int `mapstructure:"max_operations"`
	// Window is the length of the sliding window.
	Window time.Duration `mapstructure:"window"`
}

// Validate checks the Config and applies defaults to zero fields.
func (c *Config) Validate() error {
	if c.MaxOperations < 0 {
		return devkiterr.Errorf(devkiterr.CodeRateLimitConfigInvalid,
			"rate limit max operations must not be negative (got %d)", c.MaxOperations)
	}
	if c.Window < 0 {
		return devkiterr.Errorf(devkiterr.CodeRateLimitConfigInvalid,
			"rate limit window must not be negative (got %s)", c.Window)
	}
	if c.MaxOperations == 0 {
		c.MaxOperations = DefaultMaxOperations
	}
	if c.Window == 0 {
		c.Window = DefaultWindow
	}
	return nil
}

// Stats describes the window of one identifier.
type Stats struct {
	Identifier    string
	Operations    int
	MaxOperations int
	Window        time.Duration
	// NextReset is when the oldest admission leaves the window; zero when the
	// window is empty.
	NextReset time.Time
}

// Limiter admits at most MaxOperations per identifier within any rolling
// Window.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	windows map[string][]time.Time
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// New creates a Limiter. Zero fields in cfg take their defaults.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Limiter{
		cfg:     cfg,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Allow records an admission for identifier when the window has room. The
// message reports the remaining quota, or on denial the exact wait until the
// oldest admission leaves the window. Callers are never blocked.
func (l *Limiter) Allow(identifier string) (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	events := l.evict(identifier, now)

	if len(events) < l.cfg.MaxOperations {
		l.windows[identifier] = append(events, now)
		remaining := l.cfg.MaxOperations - len(events) - 1
		return true, fmt.Sprintf("operation allowed (%d remaining)", remaining)
	}

	wait := events[0].Add(l.cfg.Window).Sub(now)
	return false, fmt.Sprintf(
		"rate limit exceeded: %d/%d operations in %s window, please wait %.1f seconds",
		len(events), l.cfg.MaxOperations, l.cfg.Window, wait.Seconds(),
	)
}

// Stats returns the current window for identifier without recording an
// admission.
func (l *Limiter) Stats(identifier string) Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := l.evict(identifier, l.now())
	st := Stats{
		Identifier:    identifier,
		Operations:    len(events),
		MaxOperations: l.cfg.MaxOperations,
		Window:        l.cfg.Window,
	}
	if len(events) > 0 {
		st.NextReset = events[0].Add(l.cfg.Window)
	}
	return st
}

// Reset clears the window of identifier, or every window when identifier is
// empty.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if identifier == "" {
		clear(l.windows)
		return
	}
	delete(l.windows, identifier)
}

// evict drops admissions that are at least Window old. Events are stored in
// chronological order. Caller must hold l.mu.
func (l *Limiter) evict(identifier string, now time.Time) []time.Time {
	events := l.windows[identifier]
	cutoff := now.Add(-l.cfg.Window)
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	if i > 0 {
		events = events[i:]
		if len(events) == 0 {
			delete(l.windows, identifier)
			return nil
		}
		l.windows[identifier] = events
	}
	return events
}
