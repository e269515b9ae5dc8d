// Package pixfmt describes raw planar YUV pixel formats.
//
// A raw YUV file has no header: every frame is the concatenation of its planes
// in a fixed order (Y, then U and V, or Y, V, U for the swapped variants), each
// plane stored row by row without padding. The Format type captures everything
// needed to compute where a frame starts and how many bytes it spans:
//
//	f, err := pixfmt.Parse("yuv420p10le")
//	if err != nil {
//	    return err
//	}
//	size := f.FrameByteSize(1920, 1080) // 6220800
//
// # Supported Layouts
//
//   - Chroma subsampling 4:2:0, 4:2:2, 4:4:4 and 4:0:0 (luma only)
//   - 8, 10, 12 and 16 bits per sample; depths above 8 are stored in two
//     bytes, little or big endian
//   - U/V plane order or the swapped V/U order (yv12 style)
//
// # File Name Hints
//
// Raw sequences conventionally encode their geometry in the file name, for
// example "BasketballDrive_1920x1080_50Hz_10bit_yuv420p10le.yuv".
// GuessFromFileName extracts whatever it can find; a Hint without a size
// leaves the caller to resolve the format by other means.
package pixfmt
