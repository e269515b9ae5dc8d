package main

import (
	"bytes"
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/yuvcache"
	"github.com/opd-ai/yuvcache/decode"
)

func validConfig() *CLIConfig {
	return &CLIConfig{
		input:    "clip_352x288.yuv",
		workers:  2,
		matrix:   "bt709",
		timeout:  time.Minute,
		logLevel: "WARN",
	}
}

func TestValidateCLIConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*CLIConfig)
		errContains string
	}{
		{"valid defaults", func(*CLIConfig) {}, ""},
		{"no input", func(c *CLIConfig) { c.input = "" }, "one of -input or -restore"},
		{"input and restore", func(c *CLIConfig) { c.restorePath = "s.yaml" }, "mutually exclusive"},
		{"restore only", func(c *CLIConfig) { c.input, c.restorePath = "", "s.yaml" }, ""},
		{"bad size", func(c *CLIConfig) { c.size = "352by288" }, "invalid size"},
		{"zero width", func(c *CLIConfig) { c.size = "0x288" }, "bad width"},
		{"good size", func(c *CLIConfig) { c.size = "352X288" }, ""},
		{"bad format", func(c *CLIConfig) { c.format = "rgb24" }, "invalid format"},
		{"negative fps", func(c *CLIConfig) { c.fps = -1 }, "frame rate"},
		{"bad range", func(c *CLIConfig) { c.frameRange = "5" }, "invalid range"},
		{"inverted range", func(c *CLIConfig) { c.frameRange = "5:2" }, "START <= END"},
		{"no workers", func(c *CLIConfig) { c.workers = 0 }, "workers"},
		{"bad matrix", func(c *CLIConfig) { c.matrix = "bt2020" }, "bt2020"},
		{"zero timeout", func(c *CLIConfig) { c.timeout = 0 }, "timeout"},
		{"negative frame", func(c *CLIConfig) { c.frame = -1 }, "frame"},
		{"bad log level", func(c *CLIConfig) { c.logLevel = "LOUD" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(config)
			err := validateCLIConfig(config)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestParseCLIFlags(t *testing.T) {
	config, err := parseCLIFlags([]string{
		"-input", "a.yuv", "-size", "64x32", "-range", "0:9",
		"-budget", "16", "-workers", "3", "-matrix", "bt601-full", "-bilinear",
	})
	require.NoError(t, err)
	assert.Equal(t, "a.yuv", config.input)
	assert.Equal(t, "64x32", config.size)
	assert.Equal(t, "0:9", config.frameRange)
	assert.Equal(t, uint64(16), config.budgetMiB)
	assert.Equal(t, 3, config.workers)
	assert.True(t, config.bilinear)
	assert.Equal(t, time.Minute, config.timeout)
	assert.Equal(t, "WARN", config.logLevel)

	opts := createOptions(config)
	assert.Equal(t, uint64(16<<20), opts.CacheBudget)
	assert.Equal(t, 3, opts.Workers)
	assert.Equal(t, decode.MatrixBT601Full, opts.Matrix)
	assert.Equal(t, decode.InterpolationBilinear, opts.Interpolation)

	_, err = parseCLIFlags([]string{"-no-such-flag"})
	assert.Error(t, err)
}

func TestPrintUsage(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)
	assert.Contains(t, buf.String(), "-input")
	assert.Contains(t, buf.String(), "-snapshot")
}

func TestParseRange(t *testing.T) {
	r, err := parseRange("3:7")
	require.NoError(t, err)
	assert.Equal(t, yuvcache.Range{Start: 3, End: 7}, r)

	for _, bad := range []string{"", "3", "a:7", "3:b", "-1:2", "7:3"} {
		_, err := parseRange(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatIndices(t *testing.T) {
	assert.Equal(t, "none", formatIndices(nil))
	assert.Equal(t, "4", formatIndices([]int{4}))
	assert.Equal(t, "0-4, 7, 9-10", formatIndices([]int{0, 1, 2, 3, 4, 7, 9, 10}))
}

func TestFitBudget(t *testing.T) {
	r := yuvcache.Range{Start: 10, End: 29}
	assert.Equal(t, r, fitBudget(r, 1000, 0))
	assert.Equal(t, r, fitBudget(r, 1000, 50))
	assert.Equal(t, yuvcache.Range{Start: 10, End: 14}, fitBudget(r, 250, 50))
	assert.Equal(t, yuvcache.Range{Start: 10, End: 10}, fitBudget(r, 10, 50))
}

// writeClip writes n 16x16 yuv420p frames with flat luma and returns the path.
func writeClip(t *testing.T, dir, name string, lumas ...byte) string {
	t.Helper()
	var data []byte
	for _, y := range lumas {
		frame := bytes.Repeat([]byte{y}, 256)
		data = append(data, frame...)
		data = append(data, bytes.Repeat([]byte{128}, 128)...)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRun_ProbeWritesPNGAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	config := validConfig()
	config.input = writeClip(t, dir, "clip_16x16_30fps.yuv", 40, 80, 120)
	config.matrix = "bt601-full"
	config.budgetMiB = 1
	config.frame = 2
	config.pngPath = filepath.Join(dir, "frame.png")
	config.snapshotPath = filepath.Join(dir, "clip.yaml")
	require.NoError(t, validateCLIConfig(config))

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), config, &out))

	report := out.String()
	assert.Contains(t, report, "Frames:")
	assert.Contains(t, report, "Cached:        0-2")
	assert.Contains(t, report, "Frame rate:    30")

	f, err := os.Open(config.pngPath)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(120), r>>8)
	assert.Equal(t, uint32(120), g>>8)
	assert.Equal(t, uint32(120), b>>8)

	// Reopen from the snapshot.
	restore := validConfig()
	restore.input = ""
	restore.restorePath = config.snapshotPath
	restore.frameRange = "1:2"
	require.NoError(t, validateCLIConfig(restore))

	out.Reset()
	require.NoError(t, run(context.Background(), restore, &out))
	assert.Contains(t, out.String(), "Cached:        1-2")
}

func TestRun_ExplicitSize(t *testing.T) {
	dir := t.TempDir()
	config := validConfig()
	config.input = writeClip(t, dir, "capture.bin", 10, 20)
	config.size = "16x16"
	config.format = "yuv420p"
	config.budgetMiB = 1

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), config, &out))
	assert.Contains(t, out.String(), "Resolution:    16x16")
}

func TestRun_FormatWithoutSize(t *testing.T) {
	config := validConfig()
	config.input = writeClip(t, t.TempDir(), "capture.bin", 10)
	config.budgetMiB = 1

	err := run(context.Background(), config, &bytes.Buffer{})
	assert.ErrorIs(t, err, yuvcache.ErrFormat)
}

func TestRun_Difference(t *testing.T) {
	dir := t.TempDir()
	config := validConfig()
	config.input = writeClip(t, dir, "a_16x16.yuv", 100, 100)
	config.diffPath = writeClip(t, dir, "b_16x16.yuv", 90, 90)
	config.matrix = "bt601-full"
	config.budgetMiB = 1
	config.pngPath = filepath.Join(dir, "diff.png")

	var out bytes.Buffer
	require.NoError(t, run(context.Background(), config, &out))

	f, err := os.Open(config.pngPath)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	r, _, _, _ := img.At(3, 3).RGBA()
	assert.Equal(t, uint32(138), r>>8)
}

func TestRun_MissingInput(t *testing.T) {
	config := validConfig()
	config.input = filepath.Join(t.TempDir(), "missing_16x16.yuv")
	err := run(context.Background(), config, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open")
}

func TestSetupLogging(t *testing.T) {
	defer logrus.SetOutput(os.Stderr)
	defer logrus.SetLevel(logrus.InfoLevel)

	config := validConfig()
	config.logLevel = "DEBUG"
	config.logFile = filepath.Join(t.TempDir(), "probe.log")

	closeLog, err := setupLogging(config)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())

	logrus.Debug("probe log line")
	closeLog()

	data, err := os.ReadFile(config.logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "probe log line")
}
