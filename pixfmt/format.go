package pixfmt

import (
	"errors"
	"fmt"
	"math/bits"
	"regexp"
	"strconv"
	"strings"

	"github.com/opd-ai/yuvcache/limits"
)

var (
	// ErrUnknownFormat indicates a format name that cannot be parsed.
	ErrUnknownFormat = errors.New("unknown pixel format")

	// ErrUnsupported indicates a subsampling, bit depth or plane combination
	// that this package cannot describe.
	ErrUnsupported = errors.New("unsupported pixel format")

	// ErrInvalidDimensions indicates a frame geometry that cannot hold a frame
	// of the given format.
	ErrInvalidDimensions = errors.New("invalid frame dimensions for format")
)

// Subsampling is the chroma subsampling ratio of a planar format.
type Subsampling uint8

const (
	// Subsampling420 halves chroma horizontally and vertically.
	Subsampling420 Subsampling = iota
	// Subsampling422 halves chroma horizontally.
	Subsampling422
	// Subsampling444 keeps chroma at full resolution.
	Subsampling444
	// Subsampling400 has no chroma planes.
	Subsampling400
)

// String returns the ratio without separators, e.g. "420".
func (s Subsampling) String() string {
	switch s {
	case Subsampling420:
		return "420"
	case Subsampling422:
		return "422"
	case Subsampling444:
		return "444"
	case Subsampling400:
		return "400"
	default:
		return fmt.Sprintf("Subsampling(%d)", uint8(s))
	}
}

// Factors returns the horizontal and vertical chroma decimation factors.
// Both are zero for Subsampling400.
func (s Subsampling) Factors() (x, y int) {
	switch s {
	case Subsampling420:
		return 2, 2
	case Subsampling422:
		return 2, 1
	case Subsampling444:
		return 1, 1
	default:
		return 0, 0
	}
}

// ByteOrder is the endianness of samples stored in two bytes.
type ByteOrder uint8

const (
	// LittleEndian stores the least significant byte first.
	LittleEndian ByteOrder = iota
	// BigEndian stores the most significant byte first.
	BigEndian
)

// String returns "le" or "be".
func (o ByteOrder) String() string {
	if o == BigEndian {
		return "be"
	}
	return "le"
}

// Plane identifies a logical plane of a frame.
type Plane int

const (
	// PlaneY is the luma plane.
	PlaneY Plane = iota
	// PlaneU is the Cb plane.
	PlaneU
	// PlaneV is the Cr plane.
	PlaneV
)

// Format describes a raw planar pixel format.
type Format struct {
	Subsampling Subsampling
	BitDepth    int
	Planes      int
	Order       ByteOrder
	// SwapUV stores the V plane before the U plane.
	SwapUV bool
}

// Default is the format assumed when a file name carries a size but no format.
var Default = Format{Subsampling: Subsampling420, BitDepth: 8, Planes: 3}

// IsValid reports whether the format combination is supported.
func (f Format) IsValid() bool {
	return f.validate() == nil
}

func (f Format) validate() error {
	switch f.BitDepth {
	case 8, 10, 12, 16:
	default:
		return fmt.Errorf("%w: bit depth %d", ErrUnsupported, f.BitDepth)
	}
	switch f.Subsampling {
	case Subsampling400:
		if f.Planes != 1 {
			return fmt.Errorf("%w: 4:0:0 with %d planes", ErrUnsupported, f.Planes)
		}
		if f.SwapUV {
			return fmt.Errorf("%w: 4:0:0 has no chroma to swap", ErrUnsupported)
		}
	case Subsampling420, Subsampling422, Subsampling444:
		if f.Planes != 3 {
			return fmt.Errorf("%w: %s with %d planes", ErrUnsupported, f.Subsampling, f.Planes)
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, f.Subsampling)
	}
	if f.Order != LittleEndian && f.Order != BigEndian {
		return fmt.Errorf("%w: byte order %d", ErrUnsupported, f.Order)
	}
	return nil
}

// BytesPerSample returns 1 for 8 bit formats and 2 otherwise.
func (f Format) BytesPerSample() int {
	if f.BitDepth > 8 {
		return 2
	}
	return 1
}

// ChromaSize returns the dimensions of each chroma plane for a frame of the
// given luma size. Odd luma sizes round up.
func (f Format) ChromaSize(width, height int) (int, int) {
	sx, sy := f.Subsampling.Factors()
	if sx == 0 {
		return 0, 0
	}
	return (width + sx - 1) / sx, (height + sy - 1) / sy
}

// PlaneSize returns the dimensions of plane p.
func (f Format) PlaneSize(p Plane, width, height int) (int, int) {
	if p == PlaneY {
		return width, height
	}
	if int(p) >= f.Planes {
		return 0, 0
	}
	return f.ChromaSize(width, height)
}

// PlaneBytes returns the byte size of plane p.
func (f Format) PlaneBytes(p Plane, width, height int) uint64 {
	pw, ph := f.PlaneSize(p, width, height)
	return uint64(pw) * uint64(ph) * uint64(f.BytesPerSample())
}

// PlaneOffset returns the byte offset of plane p within a frame, taking the
// stored plane order into account.
func (f Format) PlaneOffset(p Plane, width, height int) uint64 {
	switch p {
	case PlaneY:
		return 0
	case PlaneU, PlaneV:
		offset := f.PlaneBytes(PlaneY, width, height)
		first := PlaneU
		if f.SwapUV {
			first = PlaneV
		}
		if p != first {
			offset += f.PlaneBytes(first, width, height)
		}
		return offset
	default:
		return 0
	}
}

// Check validates the format together with a frame geometry. It reports
// non-positive sizes, unsupported combinations and frame sizes that overflow
// limits.MaxFrameBytes.
func (f Format) Check(width, height int) error {
	if err := f.validate(); err != nil {
		return err
	}
	if err := limits.ValidateDimensions(width, height); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDimensions, err)
	}
	size, ok := f.frameByteSize(width, height)
	if !ok {
		return fmt.Errorf("%w: %dx%d overflows", ErrInvalidDimensions, width, height)
	}
	if err := limits.ValidateFrameBytes(size); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDimensions, err)
	}
	return nil
}

// FrameByteSize returns the number of bytes one frame occupies on disk, or 0
// when Check(width, height) fails.
func (f Format) FrameByteSize(width, height int) uint64 {
	if f.Check(width, height) != nil {
		return 0
	}
	size, _ := f.frameByteSize(width, height)
	return size
}

// frameByteSize sums the plane sizes with overflow detection.
func (f Format) frameByteSize(width, height int) (uint64, bool) {
	var total uint64
	for p := PlaneY; int(p) < f.Planes; p++ {
		pw, ph := f.PlaneSize(p, width, height)
		hi, lo := bits.Mul64(uint64(pw), uint64(ph))
		if hi != 0 {
			return 0, false
		}
		hi, lo = bits.Mul64(lo, uint64(f.BytesPerSample()))
		if hi != 0 {
			return 0, false
		}
		var carry uint64
		total, carry = bits.Add64(total, lo, 0)
		if carry != 0 {
			return 0, false
		}
	}
	return total, true
}

// Name returns the canonical name of the format, which Parse accepts.
func (f Format) Name() string {
	var b strings.Builder
	if f.Subsampling == Subsampling400 {
		b.WriteString("gray")
		if f.BitDepth > 8 {
			b.WriteString(strconv.Itoa(f.BitDepth))
			b.WriteString(f.Order.String())
		}
		return b.String()
	}
	if f.SwapUV {
		b.WriteString("yvu")
	} else {
		b.WriteString("yuv")
	}
	b.WriteString(f.Subsampling.String())
	b.WriteString("p")
	if f.BitDepth > 8 {
		b.WriteString(strconv.Itoa(f.BitDepth))
		b.WriteString(f.Order.String())
	}
	return b.String()
}

// String implements fmt.Stringer.
func (f Format) String() string {
	return f.Name()
}

var (
	planarPattern = regexp.MustCompile(`^(yuv|yvu)(420|422|444|400)p?(8|10|12|16)?(le|be)?$`)
	grayPattern   = regexp.MustCompile(`^(?:gray|grey)(8|10|12|16)?(le|be)?$`)
)

var aliases = map[string]string{
	"i420":  "yuv420p",
	"iyuv":  "yuv420p",
	"yv12":  "yvu420p",
	"yv16":  "yvu422p",
	"yv24":  "yvu444p",
	"i422":  "yuv422p",
	"i444":  "yuv444p",
	"y800":  "gray",
	"420":   "yuv420p",
	"422":   "yuv422p",
	"444":   "yuv444p",
	"400":   "gray",
	"p420":  "yuv420p",
	"p422":  "yuv422p",
	"p444":  "yuv444p",
	"p400":  "gray",
	"gray8": "gray",
}

// Parse returns the Format for a name such as "yuv420p", "yuv422p10be",
// "gray16le" or "yv12". Names are case insensitive. Depths above 8 without an
// explicit byte order are little endian.
func Parse(name string) (Format, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[key]; ok {
		key = alias
	}

	if m := planarPattern.FindStringSubmatch(key); m != nil {
		f := Format{Planes: 3, BitDepth: 8, SwapUV: m[1] == "yvu"}
		switch m[2] {
		case "420":
			f.Subsampling = Subsampling420
		case "422":
			f.Subsampling = Subsampling422
		case "444":
			f.Subsampling = Subsampling444
		case "400":
			f.Subsampling = Subsampling400
			f.Planes = 1
			f.SwapUV = false
		}
		applyDepth(&f, m[3], m[4])
		return f, nil
	}

	if m := grayPattern.FindStringSubmatch(key); m != nil {
		f := Format{Subsampling: Subsampling400, Planes: 1, BitDepth: 8}
		applyDepth(&f, m[1], m[2])
		return f, nil
	}

	return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, name)
}

func applyDepth(f *Format, depth, order string) {
	if depth != "" {
		f.BitDepth, _ = strconv.Atoi(depth)
	}
	if order == "be" {
		f.Order = BigEndian
	}
}

// MustParse is like Parse but panics on error. It is intended for constants
// in tests and tables.
func MustParse(name string) Format {
	f, err := Parse(name)
	if err != nil {
		panic(err)
	}
	return f
}
