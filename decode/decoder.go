package decode

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/yuvcache/pixfmt"
)

var (
	// ErrDecode is the category of every error returned by Decode.
	ErrDecode = errors.New("frame decode error")

	// ErrLengthMismatch indicates raw data whose length is not exactly one
	// frame of the declared format.
	ErrLengthMismatch = fmt.Errorf("%w: raw length does not match format", ErrDecode)

	// ErrOutOfFrame indicates a pixel position outside the frame.
	ErrOutOfFrame = fmt.Errorf("%w: position outside frame", ErrDecode)
)

// Matrix selects the YCbCr to RGB conversion.
type Matrix uint8

const (
	// MatrixBT709Limited is ITU-R BT.709 with studio swing (Y 16-235).
	MatrixBT709Limited Matrix = iota
	// MatrixBT601Limited is ITU-R BT.601 with studio swing.
	MatrixBT601Limited
	// MatrixBT601Full is the JFIF conversion of image/color.
	MatrixBT601Full
)

// String returns a short name of the matrix.
func (m Matrix) String() string {
	switch m {
	case MatrixBT709Limited:
		return "bt709"
	case MatrixBT601Limited:
		return "bt601"
	case MatrixBT601Full:
		return "bt601-full"
	default:
		return fmt.Sprintf("Matrix(%d)", uint8(m))
	}
}

// ParseMatrix returns the Matrix named by String.
func ParseMatrix(name string) (Matrix, error) {
	for _, m := range []Matrix{MatrixBT709Limited, MatrixBT601Limited, MatrixBT601Full} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown matrix %q", name)
}

// Interpolation selects how chroma is brought to luma resolution.
type Interpolation uint8

const (
	// InterpolationNearest repeats chroma samples.
	InterpolationNearest Interpolation = iota
	// InterpolationBilinear interpolates between chroma samples.
	InterpolationBilinear
)

// Decoder converts raw frames to RGBA. The zero value decodes with BT.709
// limited range and nearest neighbour chroma.
type Decoder struct {
	Matrix        Matrix
	Interpolation Interpolation
}

// NewDecoder returns a decoder with the default settings.
func NewDecoder() *Decoder {
	return &Decoder{Matrix: MatrixBT709Limited, Interpolation: InterpolationNearest}
}

// Decode converts one raw frame of format f and size width x height.
//
// Parameters:
//   - raw: exactly f.FrameByteSize(width, height) bytes
//   - f: pixel format of raw
//   - width, height: luma dimensions
//
// Returns:
//   - *Frame: the decoded RGBA frame
//   - error: ErrLengthMismatch for a wrong length, ErrDecode otherwise
func (d *Decoder) Decode(raw []byte, f pixfmt.Format, width, height int) (*Frame, error) {
	p, err := splitPlanes(raw, f, width, height)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Decoder.Decode",
			"format":   f.Name(),
			"width":    width,
			"height":   height,
			"raw_size": len(raw),
			"error":    err.Error(),
		}).Debug("Raw frame rejected")
		return nil, err
	}

	frame := NewFrame(width, height)
	pix := frame.Image.Pix

	if f.Planes == 1 {
		for i, y := range p.y {
			v := d.luma(y)
			pix[i*4], pix[i*4+1], pix[i*4+2] = v, v, v
		}
		return frame, nil
	}

	u, v, err := d.upsample(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	for i := range p.y {
		r, g, b := d.convert(p.y[i], u[i], v[i])
		pix[i*4], pix[i*4+1], pix[i*4+2] = r, g, b
	}
	return frame, nil
}

func (d *Decoder) upsample(p *planes) ([]byte, []byte, error) {
	up := upsampleNearest
	if d.Interpolation == InterpolationBilinear {
		up = upsampleBilinear
	}
	u, err := up(p.u, p.cWidth, p.cHeight, p.width, p.height)
	if err != nil {
		return nil, nil, fmt.Errorf("u plane: %w", err)
	}
	v, err := up(p.v, p.cWidth, p.cHeight, p.width, p.height)
	if err != nil {
		return nil, nil, fmt.Errorf("v plane: %w", err)
	}
	return u, v, nil
}

// Fixed point (16.16) coefficients for the studio swing matrices.
const (
	lumaScale = 76309 // 255/219

	bt709Rv = 117489
	bt709Gu = 13975
	bt709Gv = 34925
	bt709Bu = 138438

	bt601Rv = 104597
	bt601Gu = 25675
	bt601Gv = 53279
	bt601Bu = 132201
)

func (d *Decoder) luma(y byte) byte {
	if d.Matrix == MatrixBT601Full {
		return y
	}
	return clamp((int32(y) - 16) * lumaScale)
}

func (d *Decoder) convert(y, cb, cr byte) (byte, byte, byte) {
	var rv, gu, gv, bu int32
	switch d.Matrix {
	case MatrixBT601Full:
		return color.YCbCrToRGB(y, cb, cr)
	case MatrixBT601Limited:
		rv, gu, gv, bu = bt601Rv, bt601Gu, bt601Gv, bt601Bu
	default:
		rv, gu, gv, bu = bt709Rv, bt709Gu, bt709Gv, bt709Bu
	}

	yy := (int32(y) - 16) * lumaScale
	u := int32(cb) - 128
	v := int32(cr) - 128
	return clamp(yy + rv*v), clamp(yy - gu*u - gv*v), clamp(yy + bu*u)
}

// clamp rounds a 16.16 value to a byte.
func clamp(v int32) byte {
	v = (v + 1<<15) >> 16
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// splitPlanes validates raw against the format and returns 8 bit planes.
func splitPlanes(raw []byte, f pixfmt.Format, width, height int) (*planes, error) {
	if err := f.Check(width, height); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	expected := f.FrameByteSize(width, height)
	if uint64(len(raw)) != expected {
		return nil, fmt.Errorf("%w: got %d bytes, want %d for %s %dx%d",
			ErrLengthMismatch, len(raw), expected, f.Name(), width, height)
	}

	p := &planes{width: width, height: height}
	p.cWidth, p.cHeight = f.ChromaSize(width, height)
	p.y = planeBytes(raw, f, pixfmt.PlaneY, width, height)
	if f.Planes == 3 {
		p.u = planeBytes(raw, f, pixfmt.PlaneU, width, height)
		p.v = planeBytes(raw, f, pixfmt.PlaneV, width, height)
	}
	return p, nil
}

// planeBytes returns plane p reduced to 8 bits per sample. For 8 bit
// formats the result aliases raw.
func planeBytes(raw []byte, f pixfmt.Format, p pixfmt.Plane, width, height int) []byte {
	offset := f.PlaneOffset(p, width, height)
	size := f.PlaneBytes(p, width, height)
	data := raw[offset : offset+size]
	if f.BitDepth == 8 {
		return data
	}

	shift := uint(f.BitDepth - 8)
	out := make([]byte, len(data)/2)
	for i := range out {
		out[i] = reduceSample(readSample(data[i*2:], f.Order), shift)
	}
	return out
}

// reduceSample scales a high bit depth sample to 8 bits. Values above the
// nominal range saturate at 255.
func reduceSample(v uint16, shift uint) byte {
	v >>= shift
	if v > 255 {
		return 255
	}
	return byte(v)
}

func readSample(b []byte, order pixfmt.ByteOrder) uint16 {
	if order == pixfmt.BigEndian {
		return uint16(b[0])<<8 | uint16(b[1])
	}
	return uint16(b[1])<<8 | uint16(b[0])
}

// Sample holds the stored component values of one pixel.
type Sample struct {
	Y uint16
	U uint16
	V uint16
}

// SampleAt returns the stored Y, U and V values of pixel (x, y) of a raw
// frame. U and V are zero for luma-only formats.
func SampleAt(raw []byte, f pixfmt.Format, width, height, x, y int) (Sample, error) {
	if err := f.Check(width, height); err != nil {
		return Sample{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if uint64(len(raw)) != f.FrameByteSize(width, height) {
		return Sample{}, fmt.Errorf("%w: got %d bytes", ErrLengthMismatch, len(raw))
	}
	if x < 0 || y < 0 || x >= width || y >= height {
		return Sample{}, fmt.Errorf("%w: (%d, %d) in %dx%d", ErrOutOfFrame, x, y, width, height)
	}

	var s Sample
	s.Y = sampleAt(raw, f, pixfmt.PlaneY, width, height, x, y)
	if f.Planes == 3 {
		sx, sy := f.Subsampling.Factors()
		s.U = sampleAt(raw, f, pixfmt.PlaneU, width, height, x/sx, y/sy)
		s.V = sampleAt(raw, f, pixfmt.PlaneV, width, height, x/sx, y/sy)
	}
	return s, nil
}

func sampleAt(raw []byte, f pixfmt.Format, p pixfmt.Plane, width, height, x, y int) uint16 {
	pw, _ := f.PlaneSize(p, width, height)
	bps := f.BytesPerSample()
	i := f.PlaneOffset(p, width, height) + uint64((y*pw+x)*bps)
	if bps == 1 {
		return uint16(raw[i])
	}
	return readSample(raw[i:], f.Order)
}
