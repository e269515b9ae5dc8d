package yuvcache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/yuvcache/buffering"
	"github.com/opd-ai/yuvcache/cache"
	"github.com/opd-ai/yuvcache/decode"
	"github.com/opd-ai/yuvcache/pixfmt"
	"github.com/opd-ai/yuvcache/source"
)

// Source is the capability shared by everything that yields decoded frames
// by index.
type Source interface {
	FrameIndexRange() Range
	FrameSize() (width, height int)
	GetFrame(index int) (*decode.Frame, error)
	CacheFrame(index int)
	CachedFrames() []int
	CachingFrameByteSize() uint64
}

var (
	_ Source = (*Handle)(nil)
	_ Source = (*Difference)(nil)
)

// Handle is a raw YUV file together with its frame cache and buffering
// workers.
type Handle struct {
	name    string
	src     source.Source
	opts    Options
	decoder *decode.Decoder
	cache   *cache.Cache[*decode.Frame]
	sched   *buffering.Scheduler[*decode.Frame]

	ctx      context.Context
	cancel   context.CancelFunc
	pollDone chan struct{}

	mu         sync.RWMutex
	state      State
	format     pixfmt.Format
	width      int
	height     int
	frameBytes uint64
	frameCount int
	fileSize   uint64
	rng        Range
	trackEnd   bool
	resolved   bool
	frameRate  float64
	sampling   int

	obsMu     sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// Open opens the raw file at path. Geometry, frame rate and format are
// guessed from the file name; when the name carries no size the handle stays
// in StateFormatPending until SetFormat is called.
//
// Open fails with ErrFormat when the name carries a size that does not fit
// the file size.
func Open(path string, opts *Options) (*Handle, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	return OpenSource(src, path, opts)
}

// OpenWithFormat opens the raw file at path with a known geometry and format.
func OpenWithFormat(path string, width, height int, f pixfmt.Format, opts *Options) (*Handle, error) {
	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	h := newHandle(src, path, normalize(opts))

	h.mu.Lock()
	h.state = StateFormatPending
	if hint := pixfmt.GuessFromFileName(path); hint.FrameRate > 0 {
		h.frameRate = hint.FrameRate
	}
	_, err = h.resolveLocked(f, width, height)
	h.mu.Unlock()
	if err != nil {
		h.Close()
		return nil, err
	}
	if err := h.start(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// OpenSource wraps an already open source. name is used for format hints
// and reporting. The handle owns src and closes it, also when OpenSource
// fails.
func OpenSource(src source.Source, name string, opts *Options) (*Handle, error) {
	h := newHandle(src, name, normalize(opts))

	h.mu.Lock()
	h.state = StateFormatPending
	err := h.probeLocked(pixfmt.GuessFromFileName(name))
	h.mu.Unlock()
	if err != nil {
		h.Close()
		return nil, err
	}
	if err := h.start(); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

func newHandle(src source.Source, name string, opts Options) *Handle {
	h := &Handle{
		name:      name,
		src:       src,
		opts:      opts,
		decoder:   &decode.Decoder{Matrix: opts.Matrix, Interpolation: opts.Interpolation},
		cache:     cache.New[*decode.Frame](opts.CacheBudget),
		state:     StateUninitialized,
		sampling:  1,
		observers: make(map[int]Observer),
	}
	h.ctx, h.cancel = context.WithCancel(context.Background())
	h.sched = buffering.New(h.cache, h.load, opts.schedulerOptions())
	return h
}

func (h *Handle) start() error {
	if err := h.sched.Start(h.ctx); err != nil {
		return err
	}
	if h.opts.GrowthPollInterval > 0 {
		h.pollDone = make(chan struct{})
		go h.poll(h.opts.GrowthPollInterval)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Handle.start",
		"name":     h.name,
		"state":    h.State().String(),
		"budget":   h.cache.Budget(),
		"workers":  h.opts.Workers,
	}).Info("Video source opened")
	return nil
}

// probeLocked resolves the format from a file name hint, falling back to
// common resolutions when enabled.
func (h *Handle) probeLocked(hint pixfmt.Hint) error {
	if hint.FrameRate > 0 {
		h.frameRate = hint.FrameRate
	}
	if hint.HasFormat {
		h.format = hint.Format
	}
	if hint.HasSize() && hint.HasFormat {
		_, err := h.resolveLocked(hint.Format, hint.Width, hint.Height)
		return err
	}

	if h.opts.GuessFromFileSize {
		size, err := h.src.CurrentSize()
		if err != nil {
			return err
		}
		f := pixfmt.Default
		if hint.HasFormat {
			f = hint.Format
		}
		if w, ht, ok := pixfmt.GuessFromFileSize(size, f); ok {
			_, err := h.resolveLocked(f, w, ht)
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Handle.probeLocked",
		"name":     h.name,
	}).Info("Format not found in file name, waiting for SetFormat")
	return nil
}

// resolveLocked validates f at width x height against the file size and makes
// it the current format. On failure the handle keeps its state.
func (h *Handle) resolveLocked(f pixfmt.Format, width, height int) ([]Event, error) {
	if err := f.Check(width, height); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}
	frameBytes := f.FrameByteSize(width, height)

	size, err := h.src.CurrentSize()
	if err != nil {
		return nil, err
	}
	count, err := h.countFrames(size, frameBytes)
	if err != nil {
		return nil, err
	}

	prevState, prevRange := h.state, h.rng
	h.format = f
	h.width, h.height = width, height
	h.frameBytes = frameBytes
	h.fileSize = size
	h.frameCount = count
	h.rng = h.fitRange(count)
	h.resolved = true

	h.cache.InvalidateAll()
	h.sched.Reset()
	h.state = StateReady

	logrus.WithFields(logrus.Fields{
		"function":    "Handle.resolveLocked",
		"name":        h.name,
		"format":      f.Name(),
		"width":       width,
		"height":      height,
		"frame_bytes": frameBytes,
		"frames":      count,
	}).Info("Format resolved")

	events := []Event{h.eventLocked(EventFormatChanged)}
	if h.rng != prevRange {
		events = append(events, h.eventLocked(EventRangeChanged))
	}
	if prevState != StateReady {
		events = append(events, h.eventLocked(EventStateChanged))
	}
	return events, nil
}

func (h *Handle) countFrames(size, frameBytes uint64) (int, error) {
	count := size / frameBytes
	if count == 0 {
		return 0, fmt.Errorf("%w: %d bytes, one frame needs %d", ErrSizeMismatch, size, frameBytes)
	}
	if rem := size % frameBytes; rem != 0 && !h.opts.AllowPartialFrame {
		return 0, fmt.Errorf("%w: %d bytes is %d frames of %d plus %d bytes",
			ErrSizeMismatch, size, count, frameBytes, rem)
	}
	if count > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d frames", ErrSizeMismatch, count)
	}
	return int(count), nil
}

// fitRange returns the frame index range adjusted to count frames.
func (h *Handle) fitRange(count int) Range {
	if !h.resolved {
		h.trackEnd = true
		return Range{Start: 0, End: count - 1}
	}
	r := h.rng
	if h.trackEnd || r.End >= count {
		r.End = count - 1
	}
	if r.Start > r.End {
		r.Start = 0
	}
	return r
}

func (h *Handle) eventLocked(kind EventKind) Event {
	return Event{Kind: kind, State: h.state, Range: h.rng, FrameCount: h.frameCount}
}

// load reads and decodes one frame for the scheduler.
func (h *Handle) load(_ context.Context, index int) (*decode.Frame, error) {
	h.mu.RLock()
	state := h.state
	f, width, height := h.format, h.width, h.height
	frameBytes, count := h.frameBytes, h.frameCount
	h.mu.RUnlock()

	switch state {
	case StateReady:
	case StateClosed:
		return nil, errFetchClosed
	default:
		return nil, ErrNotReady
	}
	if index < 0 || index >= count {
		return nil, fmt.Errorf("%w: %d of %d frames", ErrOutOfRange, index, count)
	}

	raw, err := h.src.ReadRange(uint64(index)*frameBytes, frameBytes)
	if err != nil {
		return nil, err
	}
	frame, err := h.decoder.Decode(raw, f, width, height)
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Handle.load",
		"name":     h.name,
		"index":    index,
	}).Debug("Frame decoded")
	return frame, nil
}

// checkIndex reports whether index can be fetched.
func (h *Handle) checkIndex(index int) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch h.state {
	case StateReady:
	case StateClosed:
		return errFetchClosed
	default:
		return fmt.Errorf("%w: state %s", ErrNotReady, h.state)
	}
	if !h.rng.Contains(index) {
		return fmt.Errorf("%w: %d not in %s", ErrOutOfRange, index, h.rng)
	}
	return nil
}

// GetFrame returns frame index, reading and decoding it when it is not
// cached. Only that one frame is waited for.
func (h *Handle) GetFrame(index int) (*decode.Frame, error) {
	if err := h.checkIndex(index); err != nil {
		return nil, err
	}
	if frame, ok := h.cache.Get(index); ok {
		return frame, nil
	}

	frame, err := h.sched.BufferOne(h.ctx, index)
	if errors.Is(err, buffering.ErrStaleResult) {
		// The cache was invalidated while loading. Fetch again under the
		// current state.
		if err := h.checkIndex(index); err != nil {
			return nil, err
		}
		frame, err = h.sched.BufferOne(h.ctx, index)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Handle.GetFrame",
			"name":     h.name,
			"index":    index,
			"error":    err.Error(),
		}).Error("Frame fetch failed")
		return nil, fmt.Errorf("%w: frame %d: %w", ErrFetch, index, err)
	}
	return frame, nil
}

// AcquireFrame returns frame index pinned in the cache. The frame is not
// evicted until release is called. Release is idempotent.
func (h *Handle) AcquireFrame(index int) (*decode.Frame, func(), error) {
	if err := h.checkIndex(index); err != nil {
		return nil, nil, err
	}
	if frame, release, ok := h.cache.Acquire(index); ok {
		return frame, release, nil
	}

	frame, err := h.GetFrame(index)
	if err != nil {
		return nil, nil, err
	}
	if pinned, release, ok := h.cache.Acquire(index); ok {
		return pinned, release, nil
	}
	// Evicted right away, e.g. a frame larger than the budget next to a
	// pinned one. The caller still holds a valid frame.
	return frame, func() {}, nil
}

// CacheFrame asks for frame index to be buffered in the background. It is
// the single frame form of RequestBuffering and never blocks.
func (h *Handle) CacheFrame(index int) {
	if h.checkIndex(index) != nil {
		return
	}
	h.sched.RequestBuffering(index, index)
}

// RequestBuffering queues the frames of [start, end] that are not cached and
// returns the fraction of them already cached. The range is clipped to the
// frame index range. Calling it again with an overlapping range does not
// duplicate queued or running work.
func (h *Handle) RequestBuffering(start, end int) (float64, error) {
	h.mu.RLock()
	state, rng := h.state, h.rng
	h.mu.RUnlock()

	switch state {
	case StateReady:
	case StateClosed:
		return 0, ErrClosed
	default:
		return 0, fmt.Errorf("%w: state %s", ErrNotReady, state)
	}

	requested := Range{Start: start, End: end}
	r := requested.Intersect(rng)
	if r.Len() == 0 {
		return 0, fmt.Errorf("%w: %s outside %s", ErrOutOfRange, requested, rng)
	}
	return h.sched.RequestBuffering(r.Start, r.End), nil
}

// CachedFrames returns the sorted indices of cached frames.
func (h *Handle) CachedFrames() []int {
	return h.cache.CachedIndices()
}

// FailedFrames returns the sorted indices that failed permanently. They are
// never buffered again for the current format.
func (h *Handle) FailedFrames() []int {
	return h.sched.FailedIndices()
}

// CachingFrameByteSize returns the memory one cached frame needs, or 0 while
// the format is unresolved.
func (h *Handle) CachingFrameByteSize() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.resolved {
		return 0
	}
	return decode.FrameByteSize(h.width, h.height)
}

// SetPlayhead sets the frame currently shown. Eviction removes frames far
// from it first and workers buffer frames near it first.
func (h *Handle) SetPlayhead(index int) {
	h.cache.SetPlayhead(index)
}

// Playhead returns the frame set by SetPlayhead.
func (h *Handle) Playhead() int {
	return h.cache.Playhead()
}

// SetFormat changes the pixel format and frame size. All cached frames and
// queued work are dropped before the new format becomes visible. On failure
// a ready handle is left in StateInvalidated.
func (h *Handle) SetFormat(f pixfmt.Format, width, height int) error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return ErrClosed
	}

	var events []Event
	if h.state == StateReady {
		h.state = StateInvalidated
		h.cache.InvalidateAll()
		h.sched.Reset()
		events = append(events, h.eventLocked(EventStateChanged))
	}
	resolved, err := h.resolveLocked(f, width, height)
	events = append(events, resolved...)
	state := h.state
	h.mu.Unlock()

	h.notify(events)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Handle.SetFormat",
			"name":     h.name,
			"format":   f.String(),
			"width":    width,
			"height":   height,
			"state":    state.String(),
			"error":    err.Error(),
		}).Error("Format change failed")
		return err
	}
	return nil
}

// SetFrameIndexRange restricts playback and buffering to [start, end]. Queued
// work outside the new range is cancelled and the cache is cleared.
func (h *Handle) SetFrameIndexRange(start, end int) error {
	h.mu.Lock()
	switch h.state {
	case StateReady:
	case StateClosed:
		h.mu.Unlock()
		return ErrClosed
	default:
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotReady, state)
	}

	r := Range{Start: start, End: end}
	if start < 0 || end < start || end >= h.frameCount {
		count := h.frameCount
		h.mu.Unlock()
		return fmt.Errorf("%w: %s with %d frames", ErrInvalidRange, r, count)
	}
	if r == h.rng {
		h.mu.Unlock()
		return nil
	}

	h.rng = r
	h.trackEnd = end == h.frameCount-1
	h.cache.InvalidateAll()
	dropped := h.sched.CancelOutside(start, end)
	ev := h.eventLocked(EventRangeChanged)
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Handle.SetFrameIndexRange",
		"name":     h.name,
		"range":    r.String(),
		"dropped":  dropped,
	}).Debug("Frame index range changed")

	h.notify([]Event{ev})
	return nil
}

// SetFrameRate sets the playback rate in frames per second.
func (h *Handle) SetFrameRate(fps float64) error {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return fmt.Errorf("%w: frame rate %v", ErrInvalidArgument, fps)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateClosed {
		return ErrClosed
	}
	h.frameRate = fps
	return nil
}

// SetSamplingFactor sets the playback step: every n-th frame is shown.
func (h *Handle) SetSamplingFactor(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: sampling factor %d", ErrInvalidArgument, n)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == StateClosed {
		return ErrClosed
	}
	h.sampling = n
	return nil
}

// Refresh re-reads the file size and adjusts the frame count. A range that
// ended at the last frame follows growth. When the file shrinks, frames past
// the new end are dropped; when it vanishes or holds no complete frame the
// handle becomes StateInvalidated.
func (h *Handle) Refresh() error {
	h.mu.Lock()
	switch h.state {
	case StateReady:
	case StateClosed:
		h.mu.Unlock()
		return ErrClosed
	default:
		h.mu.Unlock()
		return nil
	}

	size, err := h.src.CurrentSize()
	if err != nil {
		ev := h.invalidateLocked()
		h.mu.Unlock()
		h.notify([]Event{ev})
		return err
	}
	if size == h.fileSize {
		h.mu.Unlock()
		return nil
	}
	h.fileSize = size

	count := int(size / h.frameBytes)
	old := h.frameCount
	if count == old {
		h.mu.Unlock()
		return nil
	}
	if count == 0 {
		ev := h.invalidateLocked()
		h.mu.Unlock()
		h.notify([]Event{ev})
		return fmt.Errorf("%w: %d bytes", ErrSizeMismatch, size)
	}

	h.frameCount = count
	if count < old {
		for _, idx := range h.cache.CachedIndices() {
			if idx >= count {
				h.cache.Remove(idx)
			}
		}
		h.sched.CancelOutside(0, count-1)
	}
	prevRange := h.rng
	h.rng = h.fitRange(count)

	events := []Event{h.eventLocked(EventFrameCountChanged)}
	if h.rng != prevRange {
		events = append(events, h.eventLocked(EventRangeChanged))
	}
	h.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Handle.Refresh",
		"name":     h.name,
		"frames":   count,
		"previous": old,
	}).Info("Frame count changed")

	h.notify(events)
	return nil
}

func (h *Handle) invalidateLocked() Event {
	h.state = StateInvalidated
	h.cache.InvalidateAll()
	h.sched.Reset()

	logrus.WithFields(logrus.Fields{
		"function": "Handle.invalidateLocked",
		"name":     h.name,
	}).Warn("Source no longer matches its format")
	return h.eventLocked(EventStateChanged)
}

func (h *Handle) poll(interval time.Duration) {
	defer close(h.pollDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			if err := h.Refresh(); err != nil && !errors.Is(err, ErrClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "Handle.poll",
					"name":     h.name,
					"error":    err.Error(),
				}).Debug("Growth check failed")
			}
		}
	}
}

// Close stops buffering, drops the cache and closes the source. Close is
// idempotent.
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.state == StateClosed {
		h.mu.Unlock()
		return nil
	}
	h.state = StateClosed
	ev := h.eventLocked(EventStateChanged)
	h.mu.Unlock()

	h.cancel()
	if h.pollDone != nil {
		<-h.pollDone
	}
	h.sched.Stop()
	h.cache.InvalidateAll()
	err := h.src.Close()

	logrus.WithFields(logrus.Fields{
		"function": "Handle.Close",
		"name":     h.name,
		"stats":    fmt.Sprintf("%+v", h.cache.Stats()),
	}).Info("Video source closed")

	h.notify([]Event{ev})
	return err
}

// AddObserver registers o for change events and returns a function that
// removes it.
func (h *Handle) AddObserver(o Observer) (remove func()) {
	h.obsMu.Lock()
	defer h.obsMu.Unlock()

	id := h.nextObs
	h.nextObs++
	h.observers[id] = o

	var once sync.Once
	return func() {
		once.Do(func() {
			h.obsMu.Lock()
			defer h.obsMu.Unlock()
			delete(h.observers, id)
		})
	}
}

// notify calls the observers in registration order. The handle lock must
// not be held.
func (h *Handle) notify(events []Event) {
	if len(events) == 0 {
		return
	}

	h.obsMu.Lock()
	ids := make([]int, 0, len(h.observers))
	for id := range h.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]Observer, 0, len(ids))
	for _, id := range ids {
		observers = append(observers, h.observers[id])
	}
	h.obsMu.Unlock()

	for _, ev := range events {
		for _, o := range observers {
			o(ev)
		}
	}
}

// State returns the lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Name returns the name the handle was opened with.
func (h *Handle) Name() string {
	return h.name
}

// FrameCount returns the number of whole frames in the file, or 0 while the
// format is unresolved.
func (h *Handle) FrameCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frameCount
}

// FrameSize returns the luma dimensions.
func (h *Handle) FrameSize() (width, height int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.width, h.height
}

// FrameRate returns the playback rate, 0 when unknown.
func (h *Handle) FrameRate() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.frameRate
}

// SamplingFactor returns the playback step.
func (h *Handle) SamplingFactor() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sampling
}

// FrameIndexRange returns the inclusive range of playable frames. It is
// empty while the format is unresolved.
func (h *Handle) FrameIndexRange() Range {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.resolved {
		return Range{Start: 0, End: -1}
	}
	return h.rng
}

// Format returns the pixel format. While the handle is pending it is the
// format guessed from the name, if any.
func (h *Handle) Format() pixfmt.Format {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.format
}

// CacheStats returns the frame cache counters.
func (h *Handle) CacheStats() cache.Stats {
	return h.cache.Stats()
}

// PixelValues returns the stored Y, U and V values of pixel (x, y) of frame
// index, read straight from the file.
func (h *Handle) PixelValues(index, x, y int) (decode.Sample, error) {
	if err := h.checkIndex(index); err != nil {
		return decode.Sample{}, err
	}

	h.mu.RLock()
	f, width, height, frameBytes := h.format, h.width, h.height, h.frameBytes
	h.mu.RUnlock()

	raw, err := h.src.ReadRange(uint64(index)*frameBytes, frameBytes)
	if err != nil {
		return decode.Sample{}, fmt.Errorf("%w: frame %d: %w", ErrFetch, index, err)
	}
	return decode.SampleAt(raw, f, width, height, x, y)
}
