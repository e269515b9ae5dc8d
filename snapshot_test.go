package yuvcache

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/yuvcache/source"
)

const clipName = "clip_16x16_yuv420p.yuv"

func clipFile(t *testing.T, frames int) (dir, path string) {
	t.Helper()
	dir = t.TempDir()
	raw := make([][]byte, frames)
	for i := range raw {
		raw[i] = frame420(16, 16, flat(byte(20+i*30)), 128, 128)
	}
	return dir, writeFrames(t, dir, clipName, raw...)
}

func TestSnapshot_RoundTrip(t *testing.T) {
	dir, path := clipFile(t, 3)
	opts := testOptions()
	opts.BaseDir = dir

	h, err := Open(path, opts)
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.SetFrameIndexRange(1, 2))
	require.NoError(t, h.SetFrameRate(30))
	require.NoError(t, h.SetSamplingFactor(2))

	s, err := h.Snapshot()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(s.Path))
	assert.Equal(t, clipName, s.RelativePath)
	assert.Equal(t, 16, s.Width)
	assert.Equal(t, 16, s.Height)
	assert.Equal(t, 1, s.Start)
	assert.Equal(t, 2, s.End)
	assert.Equal(t, 2, s.Sampling)
	assert.Equal(t, 30.0, s.FrameRate)
	assert.Equal(t, "yuv420p", s.Format)
	assert.Equal(t, uint64(3*384), s.FileSize)
	assert.Len(t, s.Fingerprint, 64)

	var buf bytes.Buffer
	require.NoError(t, WriteSnapshot(&buf, s))
	assert.Contains(t, buf.String(), "format: yuv420p")

	read, err := ReadSnapshot(&buf)
	require.NoError(t, err)
	assert.Equal(t, s, read)

	restored, err := Restore(read, opts)
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, StateReady, restored.State())
	assert.Equal(t, Range{Start: 1, End: 2}, restored.FrameIndexRange())
	assert.Equal(t, 30.0, restored.FrameRate())
	assert.Equal(t, 2, restored.SamplingFactor())
	assert.Equal(t, "yuv420p", restored.Format().Name())
	w, ht := restored.FrameSize()
	assert.Equal(t, 16, w)
	assert.Equal(t, 16, ht)

	f, err := restored.GetFrame(2)
	require.NoError(t, err)
	assert.Equal(t, byte(80), f.Image.Pix[0])
}

func TestRestore_RelativePathFallback(t *testing.T) {
	dir, _ := clipFile(t, 2)
	opts := testOptions()
	opts.BaseDir = dir

	s := Snapshot{
		Path:         filepath.Join(t.TempDir(), "moved", clipName),
		RelativePath: clipName,
		Width:        16,
		Height:       16,
		Start:        0,
		End:          1,
		Format:       "yuv420p",
	}
	h, err := Restore(s, opts)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, filepath.Join(dir, clipName), h.Name())

	// Without a base directory the missing path is an I/O error.
	_, err = Restore(s, testOptions())
	assert.ErrorIs(t, err, source.ErrIO)
}

func TestRestore_FileOutsideBaseDir(t *testing.T) {
	dir, path := clipFile(t, 2)
	snaps := filepath.Join(dir, "snapshots")
	require.NoError(t, os.Mkdir(snaps, 0o755))

	opts := testOptions()
	opts.BaseDir = snaps
	h, err := Open(path, opts)
	require.NoError(t, err)
	s, err := h.Snapshot()
	require.NoError(t, err)
	require.NoError(t, h.Close())
	assert.Equal(t, "../"+clipName, s.RelativePath)

	testChdir(t, snaps)
	s.Path = filepath.Join(t.TempDir(), clipName)
	opts.BaseDir = "."

	restored, err := Restore(s, opts)
	require.NoError(t, err)
	defer restored.Close()

	assert.Equal(t, StateReady, restored.State())
	assert.Equal(t, filepath.Join("..", clipName), restored.Name())
	assert.Equal(t, 2, restored.FrameCount())
}

func TestRestore_ClampsRange(t *testing.T) {
	_, path := clipFile(t, 3)
	s := Snapshot{Path: path, Width: 16, Height: 16, Start: 1, End: 10, Format: "yuv420p"}

	h, err := Restore(s, testOptions())
	require.NoError(t, err)
	assert.Equal(t, Range{Start: 1, End: 2}, h.FrameIndexRange())
	require.NoError(t, h.Close())

	s.Start, s.End = 5, 10
	h, err = Restore(s, testOptions())
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, Range{Start: 0, End: 2}, h.FrameIndexRange())
}

func TestRestore_Errors(t *testing.T) {
	_, path := clipFile(t, 2)

	_, err := Restore(Snapshot{Path: path, Width: 16, Height: 16, End: 1, Format: "yuv411p"}, testOptions())
	assert.ErrorIs(t, err, ErrFormat)

	_, err = Restore(Snapshot{Path: path, Width: 16, Height: 16, End: 1}, testOptions())
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	// The saved geometry must still fit the file.
	_, err = Restore(Snapshot{Path: path, Width: 8, Height: 64, End: 1, Format: "yuv444p"}, testOptions())
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestRestore_ChangedFileStillOpens(t *testing.T) {
	_, path := clipFile(t, 2)
	s := Snapshot{
		Path: path, Width: 16, Height: 16, End: 1, Format: "yuv420p",
		Fingerprint: strings.Repeat("0", 64),
	}
	h, err := Restore(s, testOptions())
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 2, h.FrameCount())
}

func TestSnapshot_Validate(t *testing.T) {
	valid := Snapshot{Path: "a.yuv", Width: 4, Height: 4, Start: 0, End: 1, Format: "gray"}
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Snapshot)
	}{
		{"no path", func(s *Snapshot) { s.Path = "" }},
		{"no format", func(s *Snapshot) { s.Format = "" }},
		{"zero width", func(s *Snapshot) { s.Width = 0 }},
		{"inverted range", func(s *Snapshot) { s.Start = 2 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSnapshot)
		})
	}

	relOnly := valid
	relOnly.Path, relOnly.RelativePath = "", "a.yuv"
	assert.NoError(t, relOnly.Validate())
}

func TestReadSnapshot_Rejects(t *testing.T) {
	_, err := ReadSnapshot(strings.NewReader("path: [unterminated"))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = ReadSnapshot(strings.NewReader("path: a.yuv\nwidth: 4\nheight: 4\nformat: gray\ncolour: red\n"))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = ReadSnapshot(strings.NewReader("path: a.yuv\nwidth: 4\nheight: 4\n"))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	s, err := ReadSnapshot(strings.NewReader("path: a.yuv\nwidth: 4\nheight: 4\nend: 3\nformat: gray\n"))
	require.NoError(t, err)
	assert.Equal(t, 3, s.End)
}

func TestFingerprint(t *testing.T) {
	data := bytes.Repeat([]byte{1, 2, 3}, 100)

	a, err := fingerprint(source.NewMemory(data), uint64(len(data)))
	require.NoError(t, err)
	b, err := fingerprint(source.NewMemory(data), uint64(len(data)))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	changed := append([]byte{9}, data[1:]...)
	c, err := fingerprint(source.NewMemory(changed), uint64(len(changed)))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// Size is part of the digest.
	d, err := fingerprint(source.NewMemory(data[:len(data)-1]), uint64(len(data)-1))
	require.NoError(t, err)
	assert.NotEqual(t, a, d)
}
