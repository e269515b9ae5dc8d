package decode

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/yuvcache/pixfmt"
)

// makeRaw builds an 8 bit frame of format f with constant planes.
func makeRaw(f pixfmt.Format, width, height int, y, u, v byte) []byte {
	raw := make([]byte, f.FrameByteSize(width, height))
	ySize := f.PlaneBytes(pixfmt.PlaneY, width, height)
	for i := uint64(0); i < ySize; i++ {
		raw[i] = y
	}
	if f.Planes == 3 {
		uOff := f.PlaneOffset(pixfmt.PlaneU, width, height)
		vOff := f.PlaneOffset(pixfmt.PlaneV, width, height)
		cSize := f.PlaneBytes(pixfmt.PlaneU, width, height)
		for i := uint64(0); i < cSize; i++ {
			raw[uOff+i] = u
			raw[vOff+i] = v
		}
	}
	return raw
}

func pixel(f *Frame, x, y int) [4]byte {
	i := f.Image.PixOffset(x, y)
	return [4]byte{f.Image.Pix[i], f.Image.Pix[i+1], f.Image.Pix[i+2], f.Image.Pix[i+3]}
}

func TestDecode_GrayPatternFullRange(t *testing.T) {
	f := pixfmt.MustParse("yuv420p")
	raw := makeRaw(f, 4, 4, 0, 128, 128)
	for i := 0; i < 16; i++ {
		raw[i] = byte(i * 16)
	}

	dec := &Decoder{Matrix: MatrixBT601Full}
	frame, err := dec.Decode(raw, f, 4, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, frame.Width())
	assert.Equal(t, 4, frame.Height())
	assert.Equal(t, uint64(64), frame.ByteSize())
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			v := byte((y*4 + x) * 16)
			assert.Equal(t, [4]byte{v, v, v, 0xff}, pixel(frame, x, y), "pixel (%d,%d)", x, y)
		}
	}
}

func TestDecode_LimitedRangeLevels(t *testing.T) {
	f := pixfmt.MustParse("yuv444p")
	dec := NewDecoder()

	black, err := dec.Decode(makeRaw(f, 2, 2, 16, 128, 128), f, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{0, 0, 0, 0xff}, pixel(black, 0, 0))

	white, err := dec.Decode(makeRaw(f, 2, 2, 235, 128, 128), f, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{255, 255, 255, 0xff}, pixel(white, 1, 1))
}

func TestDecode_Red(t *testing.T) {
	f := pixfmt.MustParse("yuv420p")
	dec := &Decoder{Matrix: MatrixBT601Limited}

	frame, err := dec.Decode(makeRaw(f, 4, 4, 81, 90, 240), f, 4, 4)
	require.NoError(t, err)

	p := pixel(frame, 3, 3)
	assert.InDelta(t, 255, int(p[0]), 2)
	assert.InDelta(t, 0, int(p[1]), 2)
	assert.InDelta(t, 0, int(p[2]), 2)
}

func TestDecode_LengthMismatch(t *testing.T) {
	f := pixfmt.MustParse("yuv420p")
	dec := NewDecoder()

	_, err := dec.Decode(make([]byte, 23), f, 4, 4)
	assert.ErrorIs(t, err, ErrLengthMismatch)
	assert.ErrorIs(t, err, ErrDecode)

	_, err = dec.Decode(make([]byte, 25), f, 4, 4)
	assert.ErrorIs(t, err, ErrLengthMismatch)

	_, err = dec.Decode(make([]byte, 24), pixfmt.Format{}, 4, 4)
	assert.ErrorIs(t, err, ErrDecode)
	assert.NotErrorIs(t, err, ErrLengthMismatch)
}

func TestDecode_HighBitDepthByteOrder(t *testing.T) {
	const w, h = 2, 2
	le := pixfmt.MustParse("yuv444p10le")
	be := pixfmt.MustParse("yuv444p10be")

	// Y = 400 (100 after shifting to 8 bits), U = V = 512 (128).
	build := func(f pixfmt.Format) []byte {
		raw := make([]byte, f.FrameByteSize(w, h))
		put := func(i int, v uint16) {
			if f.Order == pixfmt.BigEndian {
				raw[i], raw[i+1] = byte(v>>8), byte(v)
			} else {
				raw[i], raw[i+1] = byte(v), byte(v>>8)
			}
		}
		for i := 0; i < w*h; i++ {
			put(i*2, 400)
			put(w*h*2+i*2, 512)
			put(2*w*h*2+i*2, 512)
		}
		return raw
	}

	dec := &Decoder{Matrix: MatrixBT601Full}
	a, err := dec.Decode(build(le), le, w, h)
	require.NoError(t, err)
	b, err := dec.Decode(build(be), be, w, h)
	require.NoError(t, err)

	assert.Equal(t, a.Image.Pix, b.Image.Pix)
	assert.Equal(t, [4]byte{100, 100, 100, 0xff}, pixel(a, 0, 0))
}

func TestDecode_HighBitDepthSaturates(t *testing.T) {
	f := pixfmt.MustParse("gray10le")
	// 1023 is the 10 bit maximum; larger values are out of range.
	raw := []byte{0xff, 0x03, 0x00, 0x04, 0xa0, 0x0f, 0xff, 0xff}

	frame, err := (&Decoder{Matrix: MatrixBT601Full}).Decode(raw, f, 2, 2)
	require.NoError(t, err)
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			assert.Equal(t, [4]byte{255, 255, 255, 0xff}, pixel(frame, x, y), "pixel (%d,%d)", x, y)
		}
	}
	assert.Equal(t, byte(0), reduceSample(3, 2))
	assert.Equal(t, byte(100), reduceSample(400, 2))
}

func TestDecode_LumaOnly(t *testing.T) {
	f := pixfmt.MustParse("gray")
	raw := []byte{0, 50, 100, 150}

	frame, err := (&Decoder{Matrix: MatrixBT601Full}).Decode(raw, f, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, [4]byte{150, 150, 150, 0xff}, pixel(frame, 1, 1))
}

func TestDecode_Deterministic(t *testing.T) {
	f := pixfmt.MustParse("yuv420p")
	raw := make([]byte, f.FrameByteSize(8, 8))
	for i := range raw {
		raw[i] = byte(i * 7)
	}

	for _, dec := range []*Decoder{NewDecoder(), {Interpolation: InterpolationBilinear}} {
		first, err := dec.Decode(raw, f, 8, 8)
		require.NoError(t, err)
		second, err := dec.Decode(raw, f, 8, 8)
		require.NoError(t, err)
		assert.Equal(t, first.Image.Pix, second.Image.Pix)
	}
}

func TestDecode_ChromaInterpolation(t *testing.T) {
	f := pixfmt.MustParse("yuv420p")
	const w, h = 4, 2
	raw := makeRaw(f, w, h, 128, 128, 128)
	// U plane is 2x1: a strong step between the two chroma samples.
	uOff := f.PlaneOffset(pixfmt.PlaneU, w, h)
	raw[uOff] = 0
	raw[uOff+1] = 255

	nearest, err := (&Decoder{Matrix: MatrixBT601Full}).Decode(raw, f, w, h)
	require.NoError(t, err)
	bilinear, err := (&Decoder{Matrix: MatrixBT601Full, Interpolation: InterpolationBilinear}).Decode(raw, f, w, h)
	require.NoError(t, err)

	// Nearest repeats the first sample over pixels 0 and 1.
	assert.Equal(t, pixel(nearest, 0, 0), pixel(nearest, 1, 0))
	// Bilinear blends pixel 1 halfway towards the second sample.
	assert.NotEqual(t, pixel(nearest, 1, 0), pixel(bilinear, 1, 0))
	assert.Equal(t, pixel(nearest, 0, 0), pixel(bilinear, 0, 0))
}

func TestUpsampleNearest_OddSizes(t *testing.T) {
	// 5x3 luma with 4:2:0 chroma of 3x2.
	src := []byte{1, 2, 3, 4, 5, 6}
	dst, err := upsampleNearest(src, 3, 2, 5, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{
		1, 1, 2, 2, 3,
		1, 1, 2, 2, 3,
		4, 4, 5, 5, 6,
	}, dst)

	_, err = upsampleNearest(src[:2], 3, 2, 5, 3)
	assert.Error(t, err)
}

func TestUpsampleBilinear(t *testing.T) {
	dst, err := upsampleBilinear([]byte{0, 255}, 2, 1, 4, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 128, 255, 255}, dst)

	// 2x2 to 4x4: the first row and column keep the source samples.
	dst, err = upsampleBilinear([]byte{0, 100, 200, 100}, 2, 2, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 50, 100, 100}, dst[:4])
	assert.Equal(t, byte(100), dst[4])
	assert.Equal(t, byte(200), dst[8])
	assert.Equal(t, byte(100), dst[2*4+2])

	same := []byte{1, 2, 3, 4}
	dst, err = upsampleBilinear(same, 2, 2, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, same, dst)

	_, err = upsampleBilinear(make([]byte, 3), 2, 2, 4, 4)
	assert.Error(t, err)
}

func TestSampleAt(t *testing.T) {
	f := pixfmt.MustParse("yuv420p")
	raw := makeRaw(f, 4, 4, 0, 0, 0)
	for i := 0; i < 16; i++ {
		raw[i] = byte(i)
	}
	uOff := f.PlaneOffset(pixfmt.PlaneU, 4, 4)
	vOff := f.PlaneOffset(pixfmt.PlaneV, 4, 4)
	for i := uint64(0); i < 4; i++ {
		raw[uOff+i] = byte(100 + i)
		raw[vOff+i] = byte(200 + i)
	}

	s, err := SampleAt(raw, f, 4, 4, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, Sample{Y: 11, U: 103, V: 203}, s)

	_, err = SampleAt(raw, f, 4, 4, 4, 0)
	assert.ErrorIs(t, err, ErrOutOfFrame)

	_, err = SampleAt(raw[:10], f, 4, 4, 0, 0)
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestSampleAt_HighBitDepth(t *testing.T) {
	f := pixfmt.MustParse("gray16be")
	raw := []byte{0x01, 0x02, 0xff, 0xfe}

	s, err := SampleAt(raw, f, 2, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xfffe), s.Y)
	assert.Zero(t, s.U)
}

func TestParseMatrix(t *testing.T) {
	for _, m := range []Matrix{MatrixBT709Limited, MatrixBT601Limited, MatrixBT601Full} {
		parsed, err := ParseMatrix(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}
	_, err := ParseMatrix("bt2020")
	assert.Error(t, err)
}

func TestFrameByteSize(t *testing.T) {
	assert.Equal(t, uint64(1920*1080*4), FrameByteSize(1920, 1080))
	assert.Zero(t, FrameByteSize(0, 10))
	assert.Equal(t, FrameByteSize(3, 5), NewFrame(3, 5).ByteSize())
}
