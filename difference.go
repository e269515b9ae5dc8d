package yuvcache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/yuvcache/buffering"
	"github.com/opd-ai/yuvcache/cache"
	"github.com/opd-ai/yuvcache/decode"
)

// Difference is a source whose frames are the amplified per-channel
// difference of two sources of equal size: 128 + (A - B) * Amplification,
// clamped to [0, 255]. Its frame index range is the intersection of the
// inputs' ranges.
type Difference struct {
	a, b          Source
	amplification int
	width, height int

	cache  *cache.Cache[*decode.Frame]
	sched  *buffering.Scheduler[*decode.Frame]
	cancel context.CancelFunc
	ctx    context.Context

	mu      sync.Mutex
	closed  bool
	removes []func()
}

// observable is implemented by sources that report changes.
type observable interface {
	AddObserver(o Observer) (remove func())
}

// NewDifference creates the difference of a and b. Both must have the same
// frame size and overlapping frame index ranges. The inputs stay owned by the
// caller.
func NewDifference(a, b Source, opts *Options) (*Difference, error) {
	o := normalize(opts)

	aw, ah := a.FrameSize()
	bw, bh := b.FrameSize()
	if aw != bw || ah != bh || aw <= 0 || ah <= 0 {
		return nil, fmt.Errorf("%w: difference of %dx%d and %dx%d", ErrFormat, aw, ah, bw, bh)
	}
	if r := a.FrameIndexRange().Intersect(b.FrameIndexRange()); r.Len() == 0 {
		return nil, fmt.Errorf("%w: %s and %s do not overlap",
			ErrInvalidRange, a.FrameIndexRange(), b.FrameIndexRange())
	}

	d := &Difference{
		a:             a,
		b:             b,
		amplification: o.Amplification,
		width:         aw,
		height:        ah,
		cache:         cache.New[*decode.Frame](o.CacheBudget),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.sched = buffering.New(d.cache, d.load, o.schedulerOptions())
	if err := d.sched.Start(d.ctx); err != nil {
		d.cancel()
		return nil, err
	}

	// Frames of an input that changes format or range are no longer valid.
	for _, src := range []Source{a, b} {
		if obs, ok := src.(observable); ok {
			d.removes = append(d.removes, obs.AddObserver(d.inputChanged))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":      "NewDifference",
		"width":         aw,
		"height":        ah,
		"range":         d.FrameIndexRange().String(),
		"amplification": o.Amplification,
	}).Info("Difference source created")
	return d, nil
}

func (d *Difference) inputChanged(ev Event) {
	switch ev.Kind {
	case EventFormatChanged, EventRangeChanged, EventStateChanged:
		d.cache.InvalidateAll()
		d.sched.Reset()
	}
}

func (d *Difference) load(_ context.Context, index int) (*decode.Frame, error) {
	fa, err := d.a.GetFrame(index)
	if err != nil {
		return nil, fmt.Errorf("first input: %w", err)
	}
	fb, err := d.b.GetFrame(index)
	if err != nil {
		return nil, fmt.Errorf("second input: %w", err)
	}
	if fa.Width() != d.width || fa.Height() != d.height ||
		fb.Width() != d.width || fb.Height() != d.height {
		return nil, fmt.Errorf("%w: input frame size changed", ErrFormat)
	}
	return subtract(fa, fb, d.amplification), nil
}

// subtract computes 128 + (a - b) * amp per color channel.
func subtract(a, b *decode.Frame, amp int) *decode.Frame {
	out := decode.NewFrame(a.Width(), a.Height())
	pa, pb, po := a.Image.Pix, b.Image.Pix, out.Image.Pix
	for i := 0; i < len(po); i += decode.BytesPerPixel {
		for c := 0; c < 3; c++ {
			v := 128 + (int(pa[i+c])-int(pb[i+c]))*amp
			po[i+c] = uint8(max(0, min(255, v)))
		}
	}
	return out
}

func (d *Difference) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// FrameIndexRange returns the intersection of the inputs' ranges.
func (d *Difference) FrameIndexRange() Range {
	return d.a.FrameIndexRange().Intersect(d.b.FrameIndexRange())
}

// FrameSize returns the common frame size of the inputs.
func (d *Difference) FrameSize() (width, height int) {
	return d.width, d.height
}

// GetFrame returns difference frame index, computing it when it is not
// cached.
func (d *Difference) GetFrame(index int) (*decode.Frame, error) {
	if d.isClosed() {
		return nil, errFetchClosed
	}
	if r := d.FrameIndexRange(); !r.Contains(index) {
		return nil, fmt.Errorf("%w: %d not in %s", ErrOutOfRange, index, r)
	}
	if frame, ok := d.cache.Get(index); ok {
		return frame, nil
	}

	frame, err := d.sched.BufferOne(d.ctx, index)
	if errors.Is(err, buffering.ErrStaleResult) {
		frame, err = d.sched.BufferOne(d.ctx, index)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: difference frame %d: %w", ErrFetch, index, err)
	}
	return frame, nil
}

// CacheFrame asks for difference frame index to be computed in the
// background.
func (d *Difference) CacheFrame(index int) {
	if d.isClosed() || !d.FrameIndexRange().Contains(index) {
		return
	}
	d.sched.RequestBuffering(index, index)
}

// RequestBuffering queues the difference frames of [start, end] clipped to
// the frame index range and returns the fraction already cached.
func (d *Difference) RequestBuffering(start, end int) (float64, error) {
	if d.isClosed() {
		return 0, ErrClosed
	}
	requested := Range{Start: start, End: end}
	r := requested.Intersect(d.FrameIndexRange())
	if r.Len() == 0 {
		return 0, fmt.Errorf("%w: %s outside %s", ErrOutOfRange, requested, d.FrameIndexRange())
	}
	return d.sched.RequestBuffering(r.Start, r.End), nil
}

// SetPlayhead sets the frame currently shown.
func (d *Difference) SetPlayhead(index int) {
	d.cache.SetPlayhead(index)
}

// CachedFrames returns the sorted indices of cached difference frames.
func (d *Difference) CachedFrames() []int {
	return d.cache.CachedIndices()
}

// FailedFrames returns the sorted indices that failed permanently.
func (d *Difference) FailedFrames() []int {
	return d.sched.FailedIndices()
}

// CachingFrameByteSize returns the memory one difference frame needs.
func (d *Difference) CachingFrameByteSize() uint64 {
	return decode.FrameByteSize(d.width, d.height)
}

// Close stops buffering and detaches from the inputs, which stay open.
func (d *Difference) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	removes := d.removes
	d.removes = nil
	d.mu.Unlock()

	for _, remove := range removes {
		remove()
	}
	d.cancel()
	d.sched.Stop()
	d.cache.InvalidateAll()
	return nil
}
