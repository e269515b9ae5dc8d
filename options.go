package yuvcache

import (
	"time"

	"github.com/opd-ai/yuvcache/buffering"
	"github.com/opd-ai/yuvcache/decode"
	"github.com/opd-ai/yuvcache/limits"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider = buffering.TimeProvider

// Options configures a Handle or a Difference.
type Options struct {
	// CacheBudget is the byte budget of decoded frames. Zero selects
	// limits.DefaultCacheBudget.
	CacheBudget uint64
	// Workers is the number of background buffering goroutines.
	Workers int
	// Matrix and Interpolation configure YUV to RGB conversion.
	Matrix        decode.Matrix
	Interpolation decode.Interpolation
	// AllowPartialFrame accepts files whose size is not a whole number of
	// frames, e.g. a capture still being written. The trailing bytes are
	// ignored.
	AllowPartialFrame bool
	// GrowthPollInterval enables periodic Refresh calls. Zero disables them.
	GrowthPollInterval time.Duration
	// GuessFromFileSize tries common resolutions when the file name carries
	// no size.
	GuessFromFileSize bool
	// BaseDir resolves Snapshot.RelativePath when Snapshot.Path is missing,
	// and is the base of the relative path Snapshot records.
	BaseDir string
	// Amplification scales pixel differences of a Difference.
	Amplification int
	TimeProvider  TimeProvider
}

// NewOptions returns the default options.
func NewOptions() *Options {
	return &Options{
		Workers:       2,
		Matrix:        decode.MatrixBT709Limited,
		Interpolation: decode.InterpolationNearest,
		Amplification: 1,
		TimeProvider:  buffering.DefaultTimeProvider{},
	}
}

// normalize returns a copy of opts with defaults filled in.
func normalize(opts *Options) Options {
	if opts == nil {
		opts = NewOptions()
	}
	o := *opts
	if o.CacheBudget == 0 {
		o.CacheBudget = limits.DefaultCacheBudget()
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.Amplification == 0 {
		o.Amplification = 1
	}
	if o.TimeProvider == nil {
		o.TimeProvider = buffering.DefaultTimeProvider{}
	}
	return o
}

func (o Options) schedulerOptions() buffering.Options {
	opts := buffering.DefaultOptions()
	opts.Workers = o.Workers
	opts.TimeProvider = o.TimeProvider
	return opts
}
