package yuvcache

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat indicates a pixel format that cannot be resolved or does not
	// fit the file.
	ErrFormat = errors.New("pixel format error")

	// ErrSizeMismatch indicates a file size that is not a whole, non-zero
	// number of frames.
	ErrSizeMismatch = fmt.Errorf("%w: file size is not a whole number of frames", ErrFormat)

	// ErrFetch indicates a frame that cannot be returned.
	ErrFetch = errors.New("frame fetch error")

	// ErrOutOfRange indicates a frame index outside the frame index range.
	ErrOutOfRange = fmt.Errorf("%w: frame index out of range", ErrFetch)

	// ErrNotReady indicates a source whose format is not resolved.
	ErrNotReady = fmt.Errorf("%w: format not resolved", ErrFetch)

	// ErrClosed indicates use of a closed source.
	ErrClosed = errors.New("video source closed")

	// ErrInvalidRange indicates a frame index range that does not fit the
	// file.
	ErrInvalidRange = errors.New("invalid frame index range")

	// ErrInvalidSnapshot indicates a snapshot missing required fields.
	ErrInvalidSnapshot = errors.New("invalid snapshot")
)

// ErrInvalidArgument indicates a frame rate or sampling factor out of range.
var ErrInvalidArgument = errors.New("invalid argument")

// errFetchClosed is returned by frame fetches on a closed source. It matches
// both ErrFetch and ErrClosed.
var errFetchClosed = fmt.Errorf("%w: %w", ErrFetch, ErrClosed)
