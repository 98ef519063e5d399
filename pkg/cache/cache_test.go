package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_SetGet(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("a", 1)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestCache_Expiry(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.SetWithTTL("a", 1, 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_DeleteAndLen(t *testing.T) {
	c := New(time.Minute)
	defer c.Stop()

	c.Set("a", 1)
	c.Set("b", 2)
	assert.Equal(t, 2, c.Len())

	c.Delete("a")
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCache_StopIdempotent(t *testing.T) {
	c := New(time.Minute)
	c.Stop()
	c.Stop()
}
