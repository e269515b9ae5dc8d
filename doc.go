// Package yuvcache provides random-access playback of raw planar YUV files.
//
// A raw YUV file has no header: it is a sequence of frames, each holding its
// planes in a fixed order. This package combines a random-access byte source,
// a frame decoder, a byte-budgeted frame cache and a background buffering
// scheduler behind a single [Handle], so that a viewer can scrub through a
// multi-gigabyte file while frames near the playhead are decoded ahead of
// time.
//
// # Getting Started
//
// Open a file whose name carries its geometry and format:
//
//	opts := yuvcache.NewOptions()
//	opts.CacheBudget = 512 << 20
//
//	h, err := yuvcache.Open("BasketballDrive_1920x1080_50fps_yuv420p.yuv", opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Close()
//
//	h.SetPlayhead(0)
//	progress, _ := h.RequestBuffering(0, 49)
//	frame, err := h.GetFrame(0)
//
// When the name reveals nothing the handle stays in [StateFormatPending]
// until [Handle.SetFormat] supplies the geometry:
//
//	h, _ := yuvcache.Open("capture.bin", nil)
//	err := h.SetFormat(pixfmt.MustParse("yuv422p10le"), 1280, 720)
//
// # Core Types
//
//   - [Handle]: a raw file with its cache and buffering workers
//   - [Difference]: the amplified pixel difference of two sources
//   - [Source]: the capability shared by Handle and Difference
//   - [Options]: configuration for both
//   - [Snapshot]: the state needed to reopen a handle without probing
//
// # State Machine
//
// A handle moves through these states:
//
//	Uninitialized -> FormatPending -> Ready <-> Invalidated -> Closed
//
// FormatPending means the file is open but its format is unknown. Ready means
// the format is resolved against the file size. A format change passes
// through Invalidated: the cache is cleared and queued work is dropped before
// readers can observe the new format. Closed is terminal.
//
// # Errors
//
// Errors are classified with errors.Is:
//
//   - source.ErrIO: the file is missing, shrank or cannot be read
//   - ErrFormat: the format cannot be resolved or does not fit the file size
//   - decode.ErrDecode: a raw frame does not match its format
//   - ErrFetch: a frame cannot be returned (ErrOutOfRange, ErrNotReady or
//     buffering.ErrPermanentlyFailed)
//   - ErrClosed: the handle was closed; frame fetches on a closed handle
//     match ErrFetch as well
//
// Failures during background buffering never propagate; they are reported by
// [Handle.FailedFrames] once an index has failed twice.
//
// # Observers
//
// [Handle.AddObserver] registers a callback that runs synchronously on the
// goroutine performing a format, range, frame count or state change, after
// the handle's lock has been released.
//
// # Persistence
//
// [Handle.Snapshot] captures path, geometry, range, sampling factor, frame
// rate and format name. [WriteSnapshot] and [ReadSnapshot] store it as YAML
// and [Restore] reopens the file from it without guessing anything.
//
// # Thread Safety
//
// All methods of Handle and Difference are safe for concurrent use. GetFrame
// blocks only while one uncached frame is read and decoded; concurrent
// requests for the same frame share that work.
package yuvcache
