// Package cache provides a byte-budgeted frame cache keyed by frame index.
//
// # Eviction
//
// When an insert pushes the held bytes over the budget, entries are evicted
// farthest from the playhead first. Scrubbing and sequential playback both
// revisit frames close to the playhead, so distance predicts reuse better
// than recency; recency only breaks ties. A buffer that alone exceeds the
// budget is still stored, and every other evictable entry makes room for it.
//
// # Pinning
//
// Acquire returns a buffer together with a release function. Until release
// is called the entry cannot be evicted:
//
//	frame, release, ok := c.Acquire(idx)
//	if ok {
//	    defer release()
//	    draw(frame)
//	}
//
// # Generations
//
// InvalidateAll drops every entry and increments the generation. Producers
// that decode in the background read Generation before they start and insert
// with InsertAt; a result that belongs to an older generation is rejected
// instead of resurrecting a frame decoded for a format that no longer applies.
//
// # Thread Safety
//
// A Cache is safe for concurrent use. All operations take one mutex; none of
// them block on I/O.
package cache
