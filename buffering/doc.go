// Package buffering fills a frame cache in the background.
//
// A Scheduler owns a queue of frame indices and a pool of worker goroutines.
// RequestBuffering enqueues the indices of a range that are neither cached,
// queued, in flight, nor permanently failed, and returns the fraction of the
// range already cached; calling it repeatedly while playback advances is the
// intended use. Workers take the queued index closest to the cache playhead
// first.
//
// BufferOne is the synchronous primitive shared by workers and callers that
// need one frame now. Concurrent calls for the same index share one load
// (golang.org/x/sync/singleflight), so a renderer asking for a frame that a
// worker is already decoding waits for that decode instead of starting a
// second one.
//
// # Failures
//
// A failed load is recorded and the index is skipped; the rest of the range
// keeps buffering. An index may be retried once. A second failure marks it
// permanently failed: it is never queued again and BufferOne returns
// ErrPermanentlyFailed without touching the source.
//
// # Lifecycle
//
//	s := buffering.New(c, load, buffering.DefaultOptions())
//	if err := s.Start(ctx); err != nil {
//	    return err
//	}
//	defer s.Stop()
//
//	progress := s.RequestBuffering(0, 99)
package buffering
