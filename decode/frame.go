package decode

import "image"

// BytesPerPixel is the size of one decoded pixel.
const BytesPerPixel = 4

// Frame is a decoded frame ready for display.
type Frame struct {
	Image *image.RGBA
}

// NewFrame allocates a black, opaque frame.
func NewFrame(width, height int) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return &Frame{Image: img}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int {
	return f.Image.Rect.Dx()
}

// Height returns the frame height in pixels.
func (f *Frame) Height() int {
	return f.Image.Rect.Dy()
}

// ByteSize returns the memory held by the pixel buffer.
func (f *Frame) ByteSize() uint64 {
	return uint64(len(f.Image.Pix))
}

// FrameByteSize is the decoded size of a frame of the given dimensions.
func FrameByteSize(width, height int) uint64 {
	if width <= 0 || height <= 0 {
		return 0
	}
	return uint64(width) * uint64(height) * BytesPerPixel
}

// planes is a frame split into 8 bit planes with chroma at its stored
// resolution.
type planes struct {
	width   int
	height  int
	y       []byte
	u       []byte
	v       []byte
	cWidth  int
	cHeight int
}
