// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devkit Contributors

package ratelimit_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/devkit-dev/devkit/internal/ratelimit"
	devkiterr "github.com/devkit-dev/devkit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newLimiter(t *testing.T, max int, window time.Duration) (*ratelimit.Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l, err := ratelimit.New(ratelimit.Config{MaxOperations: max, Window: window}, ratelimit.WithClock(clock.Now))
	require.NoError(t, err)
	return l, clock
}

func TestLimiter_AllowsExactlyMax(t *testing.T) {
	l, _ := newLimiter(t, 5, time.Minute)

	for i := 0; i < 5; i++ {
		ok, msg := l.Allow("alice")
		require.True(t, ok, "admission %d", i+1)
		assert.Equal(t, fmt.Sprintf("operation allowed (%d remaining)", 4-i), msg)
	}

	ok, msg := l.Allow("alice")
	assert.False(t, ok)
	assert.Contains(t, msg, "rate limit exceeded: 5/5 operations in 1m0s window")
	assert.Contains(t, msg, "please wait 60.0 seconds")
}

func TestLimiter_WaitTimeTracksOldestEntry(t *testing.T) {
	l, clock := newLimiter(t, 2, time.Minute)

	ok, _ := l.Allow("bob")
	require.True(t, ok)
	clock.Advance(20 * time.Second)
	ok, _ = l.Allow("bob")
	require.True(t, ok)

	clock.Advance(15 * time.Second)
	ok, msg := l.Allow("bob")
	assert.False(t, ok)
	assert.Contains(t, msg, "please wait 25.0 seconds")

	clock.Advance(25 * time.Second)
	ok, msg = l.Allow("bob")
	assert.True(t, ok, "oldest entry aged out: %s", msg)

	ok, _ = l.Allow("bob")
	assert.False(t, ok)
}

func TestLimiter_DeniedCallsAreNotRecorded(t *testing.T) {
	l, clock := newLimiter(t, 1, 10*time.Second)

	ok, _ := l.Allow("carol")
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		clock.Advance(time.Second)
		ok, _ = l.Allow("carol")
		assert.False(t, ok)
	}

	clock.Advance(5 * time.Second)
	ok, _ = l.Allow("carol")
	assert.True(t, ok)
}

func TestLimiter_IdentifiersAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, 1, time.Minute)

	ok, _ := l.Allow("alice")
	assert.True(t, ok)
	ok, _ = l.Allow("bob")
	assert.True(t, ok)
	ok, _ = l.Allow("alice")
	assert.False(t, ok)
}

func TestLimiter_StatsAndReset(t *testing.T) {
	l, clock := newLimiter(t, 3, time.Minute)
	start := clock.Now()

	st := l.Stats("dave")
	assert.Equal(t, 0, st.Operations)
	assert.True(t, st.NextReset.IsZero())

	l.Allow("dave")
	clock.Advance(time.Second)
	l.Allow("dave")

	st = l.Stats("dave")
	assert.Equal(t, 2, st.Operations)
	assert.Equal(t, 3, st.MaxOperations)
	assert.Equal(t, time.Minute, st.Window)
	assert.Equal(t, start.Add(time.Minute), st.NextReset)

	l.Reset("dave")
	assert.Equal(t, 0, l.Stats("dave").Operations)

	l.Allow("dave")
	l.Allow("erin")
	l.Reset("")
	assert.Equal(t, 0, l.Stats("dave").Operations)
	assert.Equal(t, 0, l.Stats("erin").Operations)
}

func TestConfig_Validate(t *testing.T) {
	cfg := ratelimit.Config{}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ratelimit.DefaultMaxOperations, cfg.MaxOperations)
	assert.Equal(t, ratelimit.DefaultWindow, cfg.Window)

	_, err := ratelimit.New(ratelimit.Config{MaxOperations: -1})
	require.Error(t, err)
	assert.True(t, devkiterr.HasCode(err, devkiterr.CodeRateLimitConfigInvalid))

	_, err = ratelimit.New(ratelimit.Config{Window: -time.Second})
	assert.Error(t, err)
}
