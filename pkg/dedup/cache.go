package dedup

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cuemby/compactor/pkg/types"
)

// Cache remembers regions admitted recently on one node. Entries leave the
// cache when it is full (oldest first) or when they are older than the TTL,
// whichever happens first.
type Cache struct {
	lru *expirable.LRU[types.RegionID, time.Time]
}

// New creates a cache holding at most size regions for ttl each
func New(size int, ttl time.Duration) *Cache {
	return &Cache{
		lru: expirable.NewLRU[types.RegionID, time.Time](size, nil, ttl),
	}
}

// Put records a region as admitted now. Re-adding a region restarts its TTL.
func (c *Cache) Put(region types.RegionID) {
	c.lru.Add(region, time.Now())
}

// Contains reports whether region was admitted within the TTL. It does not
// change the eviction order.
func (c *Cache) Contains(region types.RegionID) bool {
	_, ok := c.lru.Peek(region)
	return ok
}

// Remove forgets a region
func (c *Cache) Remove(region types.RegionID) {
	c.lru.Remove(region)
}

// Len returns the number of entries, possibly including expired ones not yet
// swept.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache
func (c *Cache) Purge() {
	c.lru.Purge()
}
