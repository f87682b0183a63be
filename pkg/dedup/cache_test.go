package dedup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPutContains(t *testing.T) {
	c := New(10, time.Hour)

	assert.False(t, c.Contains("r1"))
	c.Put("r1")
	assert.True(t, c.Contains("r1"))
	assert.False(t, c.Contains("r2"))
	assert.Equal(t, 1, c.Len())

	c.Put("r1")
	assert.Equal(t, 1, c.Len())

	c.Remove("r1")
	assert.False(t, c.Contains("r1"))
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := New(2, time.Hour)

	c.Put("r1")
	c.Put("r2")
	// lookups must not refresh recency
	assert.True(t, c.Contains("r1"))
	c.Put("r3")

	assert.False(t, c.Contains("r1"))
	assert.True(t, c.Contains("r2"))
	assert.True(t, c.Contains("r3"))
	assert.Equal(t, 2, c.Len())
}

func TestExpiry(t *testing.T) {
	c := New(10, 50*time.Millisecond)

	c.Put("r1")
	assert.True(t, c.Contains("r1"))

	assert.Eventually(t, func() bool {
		return !c.Contains("r1")
	}, time.Second, 10*time.Millisecond)
}

func TestPurge(t *testing.T) {
	c := New(10, time.Hour)
	c.Put("r1")
	c.Put("r2")
	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.Contains("r2"))
}
