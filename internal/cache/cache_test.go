package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestGetMissingKey(t *testing.T) {
	c := New[string, int](time.Minute, nil)

	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestSetAndGet(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New[string, int](time.Minute, clock.Now)

	c.Set("k", 42)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, 42, got)
}

func TestExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New[string, string](time.Minute, clock.Now)

	c.Set("k", "v")

	clock.Advance(59 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok, "still inside TTL")

	clock.Advance(2 * time.Second)
	_, ok = c.Get("k")
	require.False(t, ok, "expired")
}

func TestSetResetsTTL(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	c := New[string, string](time.Minute, clock.Now)

	c.Set("k", "v1")
	clock.Advance(45 * time.Second)
	c.Set("k", "v2")
	clock.Advance(45 * time.Second)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", got)
}

func TestDeleteAndClear(t *testing.T) {
	c := New[string, int](time.Minute, nil)

	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Clear()
	_, ok = c.Get("b")
	require.False(t, ok)
}
