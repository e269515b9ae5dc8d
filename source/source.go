package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrIO is the category of every error returned by a Source.
	ErrIO = errors.New("frame source i/o error")

	// ErrOutOfBounds indicates a read past the current end of the source.
	ErrOutOfBounds = fmt.Errorf("%w: read beyond end of source", ErrIO)

	// ErrClosed indicates use of a source after Close.
	ErrClosed = fmt.Errorf("%w: source closed", ErrIO)

	// ErrInvalidPath indicates an empty or unresolvable path.
	ErrInvalidPath = fmt.Errorf("%w: invalid path", ErrIO)
)

// Source is a random-access byte store. Implementations must allow
// concurrent calls to ReadRange.
type Source interface {
	// ReadRange returns length bytes starting at offset.
	ReadRange(offset, length uint64) ([]byte, error)
	// CurrentSize returns the current size of the store in bytes.
	CurrentSize() (uint64, error)
	// Close releases the store. Further reads fail with ErrClosed.
	Close() error
}

// ResolvePath returns the absolute, cleaned form of a local path. Relative
// paths, including ones that climb out with "..", resolve against the
// working directory.
func ResolvePath(path string) (string, error) {
	if path == "" || strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrInvalidPath, path, err)
	}
	return abs, nil
}

// File is a Source backed by a file on disk.
type File struct {
	path string

	mu     sync.RWMutex
	file   *os.File
	closed bool
}

// Open opens path for reading.
func Open(path string) (*File, error) {
	cleaned, err := ResolvePath(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Open",
			"path":     path,
			"error":    err.Error(),
		}).Error("Path resolution failed")
		return nil, err
	}

	fh, err := os.Open(cleaned)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Open",
			"path":     cleaned,
			"error":    err.Error(),
		}).Error("Failed to open frame source")
		return nil, fmt.Errorf("%w: open %s: %w", ErrIO, cleaned, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Open",
		"path":     cleaned,
	}).Debug("Frame source opened")

	return &File{path: cleaned, file: fh}, nil
}

// Path returns the absolute path the file was opened with.
func (f *File) Path() string {
	return f.path
}

// CurrentSize stats the path, not the open descriptor, so a file that was
// removed or replaced since Open is reported as an error.
func (f *File) CurrentSize() (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return 0, ErrClosed
	}
	return f.statSize()
}

func (f *File) statSize() (uint64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %w", ErrIO, f.path, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%w: %s is a directory", ErrIO, f.path)
	}
	return uint64(info.Size()), nil
}

// ReadRange reads length bytes at offset with a positional read.
func (f *File) ReadRange(offset, length uint64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, ErrClosed
	}

	size, err := f.statSize()
	if err != nil {
		return nil, err
	}
	if err := checkBounds(offset, length, size); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	n, err := f.file.ReadAt(buf, int64(offset))
	if uint64(n) < length {
		if err == nil || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short read %d of %d at %d", ErrOutOfBounds, n, length, offset)
		}
		logrus.WithFields(logrus.Fields{
			"function": "File.ReadRange",
			"path":     f.path,
			"offset":   offset,
			"length":   length,
			"error":    err.Error(),
		}).Warn("Positional read failed")
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, f.path, err)
	}
	return buf, nil
}

// Close closes the underlying file. It waits for reads in progress.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	if err := f.file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, f.path, err)
	}
	return nil
}

func checkBounds(offset, length, size uint64) error {
	end := offset + length
	if end < offset || end > size {
		return fmt.Errorf("%w: range [%d, %d) exceeds size %d", ErrOutOfBounds, offset, end, size)
	}
	return nil
}
