// Package source provides random-access byte stores that raw frames are read
// from.
//
// A Source answers ReadRange(offset, length) for absolute byte ranges and
// reports its current size so callers can notice a file that is still being
// appended to. File is backed by an *os.File and uses positional reads, so any
// number of goroutines may read concurrently without sharing a file offset.
// Memory is an in-memory Source used for synthetic sequences and tests.
//
// Errors are classified with errors.Is:
//
//	data, err := src.ReadRange(offset, length)
//	if errors.Is(err, source.ErrOutOfBounds) {
//	    // the file is shorter than the frame index implies
//	}
//	if errors.Is(err, source.ErrIO) {
//	    // any I/O failure, including the two above and ErrClosed
//	}
package source
