package buffering

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/opd-ai/yuvcache/cache"
)

var (
	// ErrPermanentlyFailed indicates an index whose load failed after its
	// retry.
	ErrPermanentlyFailed = errors.New("frame permanently failed")

	// ErrAlreadyStarted is returned by Start on a running scheduler.
	ErrAlreadyStarted = errors.New("scheduler already started")

	// ErrStaleResult indicates a frame loaded for a cache generation that was
	// invalidated while loading.
	ErrStaleResult = errors.New("frame loaded for an invalidated generation")
)

// LoadFunc reads and decodes exactly one frame.
type LoadFunc[B cache.Buffer] func(ctx context.Context, index int) (B, error)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// Options configures a Scheduler.
type Options struct {
	// Workers is the number of background goroutines. Minimum 1.
	Workers int
	// MaxAttempts is the number of loads before an index is permanently
	// failed. Minimum 1.
	MaxAttempts int
	TimeProvider TimeProvider
}

// DefaultOptions returns two workers and one retry.
func DefaultOptions() Options {
	return Options{
		Workers:      2,
		MaxAttempts:  2,
		TimeProvider: DefaultTimeProvider{},
	}
}

// Failure records the load failures of one index.
type Failure struct {
	Index       int
	Attempts    int
	Err         error
	LastAttempt time.Time
	Permanent   bool
}

// Scheduler loads frames into a cache in the background.
type Scheduler[B cache.Buffer] struct {
	cache        *cache.Cache[B]
	load         LoadFunc[B]
	flight       singleflight.Group
	workers      int
	maxAttempts  int
	timeProvider TimeProvider

	mu       sync.Mutex
	queue    []int
	queued   map[int]struct{}
	failures map[int]*Failure
	wake     chan struct{}
	inFlight atomic.Int64
	loads    atomic.Uint64

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
}

// New creates a scheduler that fills c using load.
func New[B cache.Buffer](c *cache.Cache[B], load LoadFunc[B], opts Options) *Scheduler[B] {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.TimeProvider == nil {
		opts.TimeProvider = DefaultTimeProvider{}
	}
	return &Scheduler[B]{
		cache:        c,
		load:         load,
		workers:      opts.Workers,
		maxAttempts:  opts.MaxAttempts,
		timeProvider: opts.TimeProvider,
		queued:       make(map[int]struct{}),
		failures:     make(map[int]*Failure),
		wake:         make(chan struct{}, opts.Workers),
	}
}

// Start launches the worker goroutines. They run until Stop is called or
// ctx is cancelled.
func (s *Scheduler[B]) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.workers; i++ {
		group.Go(func() error {
			return s.worker(ctx)
		})
	}
	s.running = true
	s.cancel = cancel
	s.group = group

	logrus.WithFields(logrus.Fields{
		"function": "Scheduler.Start",
		"workers":  s.workers,
	}).Debug("Buffering workers started")

	// Work requested before Start is waiting in the queue.
	s.signal(s.Pending())
	return nil
}

// Stop cancels the workers and waits for them to return. Loads in progress
// finish first. Stop is idempotent.
func (s *Scheduler[B]) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	_ = s.group.Wait()
	s.running = false

	logrus.WithFields(logrus.Fields{
		"function": "Scheduler.Stop",
	}).Debug("Buffering workers stopped")
}

// Running reports whether workers are active.
func (s *Scheduler[B]) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.running
}

func (s *Scheduler[B]) worker(ctx context.Context) error {
	for {
		idx, ok := s.next()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
				continue
			}
		}
		if ctx.Err() != nil {
			s.done(idx)
			return nil
		}
		_, err := s.BufferOne(ctx, idx)
		s.done(idx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.WithFields(logrus.Fields{
				"function": "Scheduler.worker",
				"index":    idx,
				"error":    err.Error(),
			}).Debug("Background load failed")
		}
	}
}

// next removes and returns the queued index closest to the playhead.
func (s *Scheduler[B]) next() (int, bool) {
	playhead := s.cache.Playhead()

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return 0, false
	}
	best := 0
	for i, idx := range s.queue[1:] {
		if closer(idx, s.queue[best], playhead) {
			best = i + 1
		}
	}
	idx := s.queue[best]
	s.queue = append(s.queue[:best], s.queue[best+1:]...)
	return idx, true
}

func closer(a, b, playhead int) bool {
	da, db := abs(a-playhead), abs(b-playhead)
	if da != db {
		return da < db
	}
	return a < b
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// done releases an index taken by a worker.
func (s *Scheduler[B]) done(idx int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.queued, idx)
}

// signal wakes up to n idle workers.
func (s *Scheduler[B]) signal(n int) {
	for i := 0; i < n && i < s.workers; i++ {
		select {
		case s.wake <- struct{}{}:
		default:
			return
		}
	}
}

// RequestBuffering makes sure every index in [start, end] is cached, queued
// or being loaded, and returns the fraction of the range already cached.
// Permanently failed indices are not queued and never count as cached.
func (s *Scheduler[B]) RequestBuffering(start, end int) float64 {
	if end < start {
		return 1
	}
	total := end - start + 1
	cached, added := 0, 0

	s.mu.Lock()
	for idx := start; idx <= end; idx++ {
		if s.cache.Contains(idx) {
			cached++
			continue
		}
		if _, ok := s.queued[idx]; ok {
			continue
		}
		if f := s.failures[idx]; f != nil && f.Permanent {
			continue
		}
		s.queued[idx] = struct{}{}
		s.queue = append(s.queue, idx)
		added++
	}
	s.mu.Unlock()

	if added > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Scheduler.RequestBuffering",
			"start":    start,
			"end":      end,
			"enqueued": added,
			"cached":   cached,
		}).Debug("Buffering requested")
		s.signal(added)
	}
	return float64(cached) / float64(total)
}

// Progress returns the fraction of [start, end] that is cached without
// queueing anything.
func (s *Scheduler[B]) Progress(start, end int) float64 {
	if end < start {
		return 1
	}
	return float64(s.cache.CountRange(start, end)) / float64(end-start+1)
}

// BufferOne loads index into the cache unless it is already there, and
// returns the buffer. Concurrent calls for the same index share one load.
func (s *Scheduler[B]) BufferOne(ctx context.Context, index int) (B, error) {
	var zero B

	if f, ok := s.Failure(index); ok && f.Permanent {
		return zero, fmt.Errorf("%w: frame %d: %w", ErrPermanentlyFailed, index, f.Err)
	}
	if b, ok := s.cache.Get(index); ok {
		return b, nil
	}

	gen := s.cache.Generation()
	key := strconv.Itoa(index) + "@" + strconv.FormatUint(gen, 10)
	v, err, _ := s.flight.Do(key, func() (interface{}, error) {
		return s.loadOne(ctx, index, gen)
	})
	if err != nil {
		return zero, err
	}
	return v.(B), nil
}

func (s *Scheduler[B]) loadOne(ctx context.Context, index int, gen uint64) (B, error) {
	var zero B
	if b, ok := s.cache.Get(index); ok {
		return b, nil
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.loads.Add(1)

	b, err := s.load(ctx, index)
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, s.recordFailure(index, gen, err)
	}

	if !s.cache.InsertAt(index, b, gen) {
		return zero, fmt.Errorf("frame %d: %w", index, ErrStaleResult)
	}
	s.clearFailure(index)
	return b, nil
}

// recordFailure counts a failed load and returns the error to report.
func (s *Scheduler[B]) recordFailure(index int, gen uint64, err error) error {
	if gen != s.cache.Generation() {
		return fmt.Errorf("frame %d: %w", index, ErrStaleResult)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.failures[index]
	if f == nil {
		f = &Failure{Index: index}
		s.failures[index] = f
	}
	previous := f.LastAttempt
	f.Attempts++
	f.Err = err
	f.LastAttempt = s.timeProvider.Now()
	f.Permanent = f.Attempts >= s.maxAttempts

	fields := logrus.Fields{
		"function": "Scheduler.recordFailure",
		"index":    index,
		"attempts": f.Attempts,
		"error":    err.Error(),
	}
	if !previous.IsZero() {
		fields["since_previous"] = s.timeProvider.Since(previous)
	}
	if f.Permanent {
		logrus.WithFields(fields).Warn("Frame permanently failed")
		return fmt.Errorf("%w: frame %d: %w", ErrPermanentlyFailed, index, err)
	}
	logrus.WithFields(fields).Warn("Frame load failed, one retry left")
	return fmt.Errorf("frame %d: %w", index, err)
}

func (s *Scheduler[B]) clearFailure(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, index)
}

// Failure returns the failure record of index.
func (s *Scheduler[B]) Failure(index int) (Failure, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.failures[index]
	if !ok {
		return Failure{}, false
	}
	return *f, true
}

// FailedIndices returns the sorted permanently failed indices.
func (s *Scheduler[B]) FailedIndices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var indices []int
	for idx, f := range s.failures {
		if f.Permanent {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices
}

// CancelOutside drops queued indices outside [start, end]. Loads already in
// progress complete; their results are kept only if the cache generation is
// unchanged.
func (s *Scheduler[B]) CancelOutside(start, end int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.queue[:0]
	dropped := 0
	for _, idx := range s.queue {
		if idx >= start && idx <= end {
			kept = append(kept, idx)
			continue
		}
		delete(s.queued, idx)
		dropped++
	}
	s.queue = kept
	return dropped
}

// Reset drops all queued work and every failure record. It is used when the
// meaning of frame indices changes, e.g. after a format change.
func (s *Scheduler[B]) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, idx := range s.queue {
		delete(s.queued, idx)
	}
	s.queue = nil
	s.failures = make(map[int]*Failure)
}

// Pending returns the number of queued indices.
func (s *Scheduler[B]) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// InFlight returns the number of loads in progress.
func (s *Scheduler[B]) InFlight() int {
	return int(s.inFlight.Load())
}

// Loads returns the number of loads started since creation.
func (s *Scheduler[B]) Loads() uint64 {
	return s.loads.Load()
}
