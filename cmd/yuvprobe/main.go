package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image/png"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/yuvcache"
	"github.com/opd-ai/yuvcache/decode"
	"github.com/opd-ai/yuvcache/limits"
	"github.com/opd-ai/yuvcache/pixfmt"
)

// errFramesFailed reports frames that could not be loaded.
var errFramesFailed = errors.New("frames failed to load")

// CLIConfig holds the parsed command-line flags.
type CLIConfig struct {
	input        string
	size         string
	format       string
	fps          float64
	frameRange   string
	budgetMiB    uint64
	workers      int
	matrix       string
	bilinear     bool
	pngPath      string
	frame        int
	snapshotPath string
	restorePath  string
	diffPath     string
	logLevel     string
	logFile      string
	timeout      time.Duration
	help         bool
}

// defineFlags registers the command-line flags on fs.
func defineFlags(fs *flag.FlagSet, config *CLIConfig) {
	// Input
	fs.StringVar(&config.input, "input", "", "Raw YUV file to open")
	fs.StringVar(&config.size, "size", "", "Frame size WIDTHxHEIGHT (default: from file name)")
	fs.StringVar(&config.format, "format", "", "Pixel format, e.g. yuv420p, yuv422p10le, gray (default: from file name)")
	fs.Float64Var(&config.fps, "fps", 0, "Frame rate (default: from file name)")
	fs.StringVar(&config.restorePath, "restore", "", "Reopen from a snapshot file instead of -input")
	fs.StringVar(&config.diffPath, "diff", "", "Second file of the same geometry to difference against")

	// Buffering
	fs.StringVar(&config.frameRange, "range", "", "Frame range START:END to buffer (default: all)")
	fs.Uint64Var(&config.budgetMiB, "budget", 0, "Cache budget in MiB (default: a quarter of RAM)")
	fs.IntVar(&config.workers, "workers", 2, "Number of buffering workers")
	fs.StringVar(&config.matrix, "matrix", "bt709", "Color matrix (bt709, bt601, bt601-full)")
	fs.BoolVar(&config.bilinear, "bilinear", false, "Bilinear chroma upsampling")
	fs.DurationVar(&config.timeout, "timeout", time.Minute, "Maximum buffering time")

	// Output
	fs.StringVar(&config.pngPath, "png", "", "Write one frame as PNG")
	fs.IntVar(&config.frame, "frame", 0, "Frame written by -png")
	fs.StringVar(&config.snapshotPath, "snapshot", "", "Write the handle state as YAML")

	// Logging
	fs.StringVar(&config.logLevel, "log-level", "WARN", "Log level (DEBUG, INFO, WARN, ERROR)")
	fs.StringVar(&config.logFile, "log-file", "", "Log file path (default: stderr)")

	fs.BoolVar(&config.help, "help", false, "Show help message")
}

// parseCLIFlags parses args into a configuration.
func parseCLIFlags(args []string) (*CLIConfig, error) {
	config := &CLIConfig{}
	fs := flag.NewFlagSet("yuvprobe", flag.ContinueOnError)
	defineFlags(fs, config)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config, nil
}

// printUsage prints the usage information.
func printUsage(w io.Writer) {
	fmt.Fprintln(w, "yuvprobe - buffer and inspect raw YUV files")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s -input FILE [options]\n", os.Args[0])
	fmt.Fprintf(w, "  %s -restore SNAPSHOT [options]\n", os.Args[0])
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	fs := flag.NewFlagSet("yuvprobe", flag.ContinueOnError)
	defineFlags(fs, &CLIConfig{})
	fs.SetOutput(w)
	fs.PrintDefaults()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s -input clip_1920x1080_50fps_yuv420p.yuv\n", os.Args[0])
	fmt.Fprintf(w, "  %s -input capture.bin -size 1280x720 -format yuv422p10le -range 0:49\n", os.Args[0])
	fmt.Fprintf(w, "  %s -input a_352x288.yuv -diff b_352x288.yuv -frame 3 -png diff.png\n", os.Args[0])
}

// parseSize parses "WIDTHxHEIGHT".
func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q: want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q: bad width", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q: bad height", s)
	}
	return width, height, nil
}

// parseRange parses "START:END".
func parseRange(s string) (yuvcache.Range, error) {
	start, end, ok := strings.Cut(s, ":")
	if !ok {
		return yuvcache.Range{}, fmt.Errorf("invalid range %q: want START:END", s)
	}
	var r yuvcache.Range
	var err error
	if r.Start, err = strconv.Atoi(start); err != nil {
		return yuvcache.Range{}, fmt.Errorf("invalid range %q: bad start", s)
	}
	if r.End, err = strconv.Atoi(end); err != nil {
		return yuvcache.Range{}, fmt.Errorf("invalid range %q: bad end", s)
	}
	if r.Start < 0 || r.End < r.Start {
		return yuvcache.Range{}, fmt.Errorf("invalid range %q: want 0 <= START <= END", s)
	}
	return r, nil
}

// validateCLIConfig validates the CLI configuration.
func validateCLIConfig(config *CLIConfig) error {
	if config.input == "" && config.restorePath == "" {
		return fmt.Errorf("one of -input or -restore is required")
	}
	if config.input != "" && config.restorePath != "" {
		return fmt.Errorf("-input and -restore are mutually exclusive")
	}
	if config.size != "" {
		if _, _, err := parseSize(config.size); err != nil {
			return err
		}
	}
	if config.format != "" {
		if _, err := pixfmt.Parse(config.format); err != nil {
			return fmt.Errorf("invalid format: %w", err)
		}
	}
	if config.fps < 0 {
		return fmt.Errorf("frame rate cannot be negative")
	}
	if config.frameRange != "" {
		if _, err := parseRange(config.frameRange); err != nil {
			return err
		}
	}
	if config.workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if _, err := decode.ParseMatrix(config.matrix); err != nil {
		return err
	}
	if config.timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if config.frame < 0 {
		return fmt.Errorf("frame cannot be negative")
	}
	if _, err := logrus.ParseLevel(config.logLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	return nil
}

// createOptions converts the CLI configuration to handle options.
func createOptions(config *CLIConfig) *yuvcache.Options {
	opts := yuvcache.NewOptions()
	opts.CacheBudget = config.budgetMiB << 20
	opts.Workers = config.workers
	opts.Matrix, _ = decode.ParseMatrix(config.matrix)
	if config.bilinear {
		opts.Interpolation = decode.InterpolationBilinear
	}
	if config.restorePath != "" {
		opts.BaseDir = filepath.Dir(config.restorePath)
	}
	return opts
}

// setupLogging configures the package logger. The returned function closes
// the log file, if any.
func setupLogging(config *CLIConfig) (func(), error) {
	level, err := logrus.ParseLevel(config.logLevel)
	if err != nil {
		return nil, err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if config.logFile == "" {
		logrus.SetOutput(os.Stderr)
		return func() {}, nil
	}
	f, err := os.OpenFile(config.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	logrus.SetOutput(f)
	return func() { f.Close() }, nil
}

// openHandle opens the input described by config.
func openHandle(config *CLIConfig, opts *yuvcache.Options) (*yuvcache.Handle, error) {
	if config.restorePath != "" {
		f, err := os.Open(config.restorePath)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		s, err := yuvcache.ReadSnapshot(f)
		if err != nil {
			return nil, err
		}
		return yuvcache.Restore(s, opts)
	}
	return openInput(config.input, config, opts)
}

func openInput(path string, config *CLIConfig, opts *yuvcache.Options) (*yuvcache.Handle, error) {
	if config.size == "" {
		h, err := yuvcache.Open(path, opts)
		if err != nil {
			return nil, err
		}
		if config.format == "" || h.State() == yuvcache.StateReady {
			return h, nil
		}
		// Only the format was given; combine it with the guessed size.
		h.Close()
		hint := pixfmt.GuessFromFileName(path)
		if !hint.HasSize() {
			return nil, fmt.Errorf("%w: no frame size in %q, use -size", yuvcache.ErrFormat, path)
		}
		return yuvcache.OpenWithFormat(path, hint.Width, hint.Height, pixfmt.MustParse(config.format), opts)
	}

	width, height, _ := parseSize(config.size)
	f := pixfmt.Default
	if config.format != "" {
		f = pixfmt.MustParse(config.format)
	} else if hint := pixfmt.GuessFromFileName(path); hint.FormatToken {
		f = hint.Format
	}
	return yuvcache.OpenWithFormat(path, width, height, f, opts)
}

// bufferedSource is what the probe needs from a handle or a difference.
type bufferedSource interface {
	yuvcache.Source
	RequestBuffering(start, end int) (float64, error)
	FailedFrames() []int
	SetPlayhead(index int)
}

// bufferRange polls RequestBuffering until every frame of r is cached or
// failed, or ctx is done.
func bufferRange(ctx context.Context, src bufferedSource, r yuvcache.Range) (float64, error) {
	src.SetPlayhead(r.Start)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		progress, err := src.RequestBuffering(r.Start, r.End)
		if err != nil {
			return 0, err
		}
		if progress >= 1 || countIn(src.CachedFrames(), r)+countIn(src.FailedFrames(), r) >= r.Len() {
			return progress, nil
		}

		select {
		case <-ctx.Done():
			return progress, ctx.Err()
		case <-ticker.C:
		}
	}
}

func countIn(indices []int, r yuvcache.Range) int {
	n := 0
	for _, idx := range indices {
		if r.Contains(idx) {
			n++
		}
	}
	return n
}

// fitBudget shortens r to the frames that fit the cache budget at once.
func fitBudget(r yuvcache.Range, budget, frameBytes uint64) yuvcache.Range {
	if frameBytes == 0 {
		return r
	}
	fit := budget / frameBytes
	if fit == 0 {
		fit = 1
	}
	if uint64(r.Len()) > fit {
		r.End = r.Start + int(fit) - 1
	}
	return r
}

// run executes the probe and writes the report to w.
func run(ctx context.Context, config *CLIConfig, w io.Writer) error {
	opts := createOptions(config)

	h, err := openHandle(config, opts)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer h.Close()

	if h.State() != yuvcache.StateReady {
		return fmt.Errorf("%w: no frame size in file name, use -size", yuvcache.ErrFormat)
	}
	if config.fps > 0 {
		if err := h.SetFrameRate(config.fps); err != nil {
			return err
		}
	}
	if config.frameRange != "" {
		r, _ := parseRange(config.frameRange)
		if err := h.SetFrameIndexRange(r.Start, r.End); err != nil {
			return err
		}
	}

	var src bufferedSource = h
	if config.diffPath != "" {
		other, err := openInput(config.diffPath, config, opts)
		if err != nil {
			return fmt.Errorf("open diff input: %w", err)
		}
		defer other.Close()
		d, err := yuvcache.NewDifference(h, other, opts)
		if err != nil {
			return err
		}
		defer d.Close()
		src = d
	}

	budget := opts.CacheBudget
	if budget == 0 {
		budget = limits.DefaultCacheBudget()
	}
	full := src.FrameIndexRange()
	r := fitBudget(full, budget, src.CachingFrameByteSize())
	if r != full {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"range":    full.String(),
			"buffered": r.String(),
			"budget":   budget,
		}).Warn("Range does not fit the cache budget, buffering its start")
	}

	start := time.Now()
	progress, bufErr := bufferRange(ctx, src, r)
	elapsed := time.Since(start)

	for _, item := range h.Info() {
		fmt.Fprintf(w, "%-14s %s\n", item.Name+":", item.Value)
	}
	fmt.Fprintf(w, "%-14s %s\n", "Buffered:", fmt.Sprintf("%.1f%% of %s in %v",
		progress*100, r, elapsed.Round(time.Millisecond)))
	fmt.Fprintf(w, "%-14s %s\n", "Cached:", formatIndices(src.CachedFrames()))
	if bufErr != nil {
		fmt.Fprintf(w, "%-14s %v\n", "Stopped:", bufErr)
	}

	if config.pngPath != "" {
		if err := writePNG(src, config.frame, config.pngPath); err != nil {
			return err
		}
		fmt.Fprintf(w, "%-14s frame %d to %s\n", "Wrote:", config.frame, config.pngPath)
	}
	if config.snapshotPath != "" {
		if err := writeSnapshot(h, config.snapshotPath); err != nil {
			return err
		}
		fmt.Fprintf(w, "%-14s %s\n", "Snapshot:", config.snapshotPath)
	}

	if failed := src.FailedFrames(); len(failed) > 0 {
		return fmt.Errorf("%w: %s", errFramesFailed, formatIndices(failed))
	}
	return nil
}

// formatIndices renders sorted indices as runs, e.g. "0-4, 7, 9-10".
func formatIndices(indices []int) string {
	if len(indices) == 0 {
		return "none"
	}
	var b strings.Builder
	for i := 0; i < len(indices); {
		j := i
		for j+1 < len(indices) && indices[j+1] == indices[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteString(", ")
		}
		if i == j {
			fmt.Fprintf(&b, "%d", indices[i])
		} else {
			fmt.Fprintf(&b, "%d-%d", indices[i], indices[j])
		}
		i = j + 1
	}
	return b.String()
}

func writePNG(src yuvcache.Source, index int, path string) error {
	frame, err := src.GetFrame(index)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, frame.Image); err != nil {
		f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	return f.Close()
}

func writeSnapshot(h *yuvcache.Handle, path string) error {
	s, err := h.Snapshot()
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := yuvcache.WriteSnapshot(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// setupSignalHandling cancels ctx on interrupt.
func setupSignalHandling(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)

	go func() {
		sig := <-sigChan
		logrus.WithField("signal", sig.String()).Warn("Interrupted, stopping")
		cancel()
	}()
}

func main() {
	cliConfig, err := parseCLIFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		printUsage(os.Stdout)
		os.Exit(0)
	}
	if err != nil {
		os.Exit(1)
	}

	if cliConfig.help {
		printUsage(os.Stdout)
		os.Exit(0)
	}

	if err := validateCLIConfig(cliConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		fmt.Fprintf(os.Stderr, "Use -help for usage information.\n")
		os.Exit(1)
	}

	closeLog, err := setupLogging(cliConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Logging setup failed: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cliConfig.timeout)
	setupSignalHandling(cancel)

	err = run(ctx, cliConfig, os.Stdout)
	cancel()
	closeLog()

	switch {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, errFramesFailed):
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
