// Package dedup provides the per-node cache of recently admitted regions.
//
// A region present in the cache is not planned again by a continuous node
// worker until its entry expires, which gives a freshly compacted region
// time to settle. Bounded and forced runs ignore the cache.
package dedup
