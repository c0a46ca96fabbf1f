package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetBumpsTTL(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("k", "v", Options{TTL: 10 * time.Second})

	now = now.Add(8 * time.Second)
	_, ok := c.Get("k")
	require.True(t, ok)

	// Without the bump this access would miss (16s > 10s from Set).
	now = now.Add(8 * time.Second)
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	now = now.Add(11 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)
}

func TestOnDeleteCalledExactlyOnce(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	c.SetClock(func() time.Time { return now })

	deletes := 0
	c.Set("k", 1, Options{TTL: time.Second, OnDelete: func(any) { deletes++ }})

	now = now.Add(2 * time.Second)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 1, deletes)

	c.Delete("k") // already gone
	c.Purge()
	assert.Equal(t, 1, deletes)
}

func TestSetReplacesAndReleasesPrevious(t *testing.T) {
	c := New()
	released := []int{}
	c.Set("k", 1, Options{OnDelete: func(v any) { released = append(released, v.(int)) }})
	c.Set("k", 2, Options{OnDelete: func(v any) { released = append(released, v.(int)) }})

	assert.Equal(t, []int{1}, released)

	c.Clear()
	assert.Equal(t, []int{1, 2}, released)
	assert.Equal(t, 0, c.Len())
}

func TestPurgeOnlyExpired(t *testing.T) {
	c := New()
	now := time.Unix(0, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("old", 1, Options{TTL: time.Second})
	c.Set("new", 2, Options{TTL: time.Hour})

	now = now.Add(2 * time.Second)
	c.Purge()

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new")
	assert.True(t, ok)
}
