package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCycle_GetAbsent(t *testing.T) {
	c := New()

	val, ok := c.Get("now", "calls")
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestCycle_SetGet(t *testing.T) {
	c := New()

	c.Set("now", "calls", "2026-08-29T00:00:00Z")
	c.Set("now", "iso", "2026-08-29")
	c.Set("uuid", "calls", "abc-123")

	val, ok := c.Get("now", "calls")
	assert.True(t, ok)
	assert.Equal(t, "2026-08-29T00:00:00Z", val)

	val, ok = c.Get("now", "iso")
	assert.True(t, ok)
	assert.Equal(t, "2026-08-29", val)

	assert.Equal(t, 3, c.Len())
}

func TestCycle_SetOverwrites(t *testing.T) {
	c := New()

	c.Set("k", "g", 1)
	c.Set("k", "g", 2)

	val, ok := c.Get("k", "g")
	assert.True(t, ok)
	assert.Equal(t, 2, val)
	assert.Equal(t, 1, c.Len())
}

func TestCycle_StoredNilIsPresent(t *testing.T) {
	c := New()

	c.Set("k", "g", nil)

	val, ok := c.Get("k", "g")
	assert.True(t, ok)
	assert.Nil(t, val)
}

func TestCycle_Reset(t *testing.T) {
	c := New()

	c.Set("k", "g", "v")
	c.Reset()

	_, ok := c.Get("k", "g")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestCycle_ConcurrentAccess(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", n%4)
			c.Set(key, "g", n)
			c.Get(key, "g")
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, c.Len())
}
