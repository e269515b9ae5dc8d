package yuvcache

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"

	"github.com/opd-ai/yuvcache/pixfmt"
	"github.com/opd-ai/yuvcache/source"
)

// fingerprintBytes is how much of the file head enters the fingerprint.
const fingerprintBytes = 64 << 10

// Snapshot is the state needed to reopen a handle without probing the file.
type Snapshot struct {
	Path         string  `yaml:"path"`
	RelativePath string  `yaml:"relative_path,omitempty"`
	Width        int     `yaml:"width"`
	Height       int     `yaml:"height"`
	Start        int     `yaml:"start"`
	End          int     `yaml:"end"`
	Sampling     int     `yaml:"sampling"`
	FrameRate    float64 `yaml:"frame_rate"`
	Format       string  `yaml:"format"`
	FileSize     uint64  `yaml:"file_size,omitempty"`
	// Fingerprint is a BLAKE2b-256 digest of the file head and size.
	Fingerprint string `yaml:"fingerprint,omitempty"`
}

// Validate checks that the fields Restore needs are present.
func (s Snapshot) Validate() error {
	switch {
	case s.Path == "" && s.RelativePath == "":
		return fmt.Errorf("%w: missing path", ErrInvalidSnapshot)
	case s.Format == "":
		return fmt.Errorf("%w: missing format", ErrInvalidSnapshot)
	case s.Width <= 0 || s.Height <= 0:
		return fmt.Errorf("%w: frame size %dx%d", ErrInvalidSnapshot, s.Width, s.Height)
	case s.End < s.Start:
		return fmt.Errorf("%w: range [%d, %d]", ErrInvalidSnapshot, s.Start, s.End)
	}
	return nil
}

// Snapshot captures the handle's path, geometry, range, sampling factor,
// frame rate and format.
func (h *Handle) Snapshot() (Snapshot, error) {
	h.mu.RLock()
	if h.state == StateClosed {
		h.mu.RUnlock()
		return Snapshot{}, ErrClosed
	}
	if !h.resolved {
		state := h.state
		h.mu.RUnlock()
		return Snapshot{}, fmt.Errorf("%w: state %s", ErrNotReady, state)
	}
	s := Snapshot{
		Path:      h.name,
		Width:     h.width,
		Height:    h.height,
		Start:     h.rng.Start,
		End:       h.rng.End,
		Sampling:  h.sampling,
		FrameRate: h.frameRate,
		Format:    h.format.Name(),
		FileSize:  h.fileSize,
	}
	h.mu.RUnlock()

	if abs, err := filepath.Abs(s.Path); err == nil {
		s.Path = abs
	}
	if h.opts.BaseDir != "" {
		if base, err := filepath.Abs(h.opts.BaseDir); err == nil {
			if rel, err := filepath.Rel(base, s.Path); err == nil {
				s.RelativePath = filepath.ToSlash(rel)
			}
		}
	}

	fp, err := fingerprint(h.src, s.FileSize)
	if err != nil {
		return Snapshot{}, err
	}
	s.Fingerprint = fp
	return s, nil
}

// fingerprint digests the first bytes of src and its size.
func fingerprint(src source.Source, size uint64) (string, error) {
	head, err := src.ReadRange(0, min(size, fingerprintBytes))
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	hash, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	hash.Write(head)
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], size)
	hash.Write(sizeBuf[:])
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Restore reopens the file described by s. When s.Path does not exist and
// opts.BaseDir is set, s.RelativePath is resolved against it. A range that no
// longer fits the file is clamped, and a changed fingerprint is logged.
func Restore(s Snapshot, opts *Options) (*Handle, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	f, err := pixfmt.Parse(s.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFormat, err)
	}

	o := normalize(opts)
	path := s.resolvePath(o.BaseDir)
	h, err := OpenWithFormat(path, s.Width, s.Height, f, &o)
	if err != nil {
		return nil, err
	}
	h.applySnapshot(s)

	if s.Fingerprint != "" {
		h.mu.RLock()
		size := h.fileSize
		h.mu.RUnlock()
		if fp, err := fingerprint(h.src, size); err == nil && fp != s.Fingerprint {
			logrus.WithFields(logrus.Fields{
				"function":  "Restore",
				"path":      path,
				"file_size": size,
				"saved":     s.FileSize,
			}).Warn("File content changed since the snapshot was taken")
		}
	}
	return h, nil
}

func (s Snapshot) resolvePath(baseDir string) string {
	if s.Path != "" {
		if _, err := os.Stat(s.Path); err == nil {
			return s.Path
		}
	}
	if s.RelativePath == "" || baseDir == "" {
		return s.Path
	}

	candidate := filepath.Join(baseDir, filepath.FromSlash(s.RelativePath))
	if _, err := os.Stat(candidate); err != nil && s.Path != "" {
		return s.Path
	}
	logrus.WithFields(logrus.Fields{
		"function": "Snapshot.resolvePath",
		"path":     s.Path,
		"resolved": candidate,
	}).Info("Snapshot path resolved relative to base directory")
	return candidate
}

// applySnapshot restores the playback properties of s on a freshly opened
// handle.
func (h *Handle) applySnapshot(s Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s.FrameRate > 0 {
		h.frameRate = s.FrameRate
	}
	if s.Sampling >= 1 {
		h.sampling = s.Sampling
	}

	r := Range{Start: s.Start, End: s.End}
	if r.Start < 0 || r.Start >= h.frameCount {
		logrus.WithFields(logrus.Fields{
			"function": "Handle.applySnapshot",
			"name":     h.name,
			"range":    r.String(),
			"frames":   h.frameCount,
		}).Warn("Saved range outside the file, using all frames")
		return
	}
	if r.End >= h.frameCount {
		r.End = h.frameCount - 1
	}
	h.rng = r
	h.trackEnd = r.End == h.frameCount-1
}

// WriteSnapshot encodes s as YAML.
func WriteSnapshot(w io.Writer, s Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return enc.Close()
}

// ReadSnapshot decodes and validates a YAML snapshot.
func ReadSnapshot(r io.Reader) (Snapshot, error) {
	var s Snapshot
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if err := s.Validate(); err != nil {
		return Snapshot{}, err
	}
	return s, nil
}
