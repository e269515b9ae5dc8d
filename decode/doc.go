// Package decode converts raw planar YUV frames into interleaved RGBA images.
//
// # Pipeline
//
//	raw bytes → planes (8 bit) → chroma upsampling → YCbCr to RGB → *image.RGBA
//
// Samples deeper than 8 bits are shifted down to 8 bits before conversion.
// Chroma planes are brought to luma resolution either by sample repetition
// (InterpolationNearest) or by bilinear interpolation (InterpolationBilinear).
//
// # Usage
//
//	dec := decode.NewDecoder()
//	frame, err := dec.Decode(raw, format, 1920, 1080)
//	if errors.Is(err, decode.ErrLengthMismatch) {
//	    // raw does not hold exactly one frame of format: wrong format or a
//	    // corrupt frame index
//	}
//
// Decode has no hidden state: identical inputs produce identical frames, and
// a Decoder may be shared by any number of goroutines.
//
// # Sample Inspection
//
// SampleAt reads the untouched Y, U and V values of one pixel from a raw
// frame, which is what a pixel-value inspector shows next to the picture.
package decode
