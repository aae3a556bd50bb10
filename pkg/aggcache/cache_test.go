package aggcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetSetInvalidate(t *testing.T) {
	c := New[int](time.Minute)

	_, ok := c.Get(1)
	assert.False(t, ok)

	assert.True(t, c.Set(1, c.Generation(1), 42))
	assert.True(t, c.Set(2, c.Generation(2), 7))

	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	c.Invalidate(1)
	_, ok = c.Get(1)
	assert.False(t, ok, "invalidated entry must not be served")

	// other owners are untouched
	v, ok = c.Get(2)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
}

// A value computed before a concurrent invalidation describes the
// pre-write state and must not land in the cache.
func TestSetAfterInvalidateIsDropped(t *testing.T) {
	c := New[int](time.Minute)

	gen := c.Generation(1)
	c.Invalidate(1) // concurrent write wins the race
	assert.False(t, c.Set(1, gen, 42))

	_, ok := c.Get(1)
	assert.False(t, ok, "stale computation must not be cached")

	// the post-invalidation generation stores fine
	assert.True(t, c.Set(1, c.Generation(1), 43))
	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, 43, v)
}

func TestExpiry(t *testing.T) {
	c := New[string](10 * time.Millisecond)
	c.Set(1, c.Generation(1), "stale")

	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(1)
	assert.False(t, ok, "expired entry must not be served")
	assert.Equal(t, 0, c.Len())
}

func TestCleanExpired(t *testing.T) {
	c := New[string](10 * time.Millisecond)
	c.Set(1, c.Generation(1), "a")
	c.Set(2, c.Generation(2), "b")

	time.Sleep(20 * time.Millisecond)
	c.Set(3, c.Generation(3), "c")

	assert.Equal(t, 2, c.CleanExpired())
	assert.Equal(t, 1, c.Len())
}
