package pixfmt

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Hint is what a raw file name reveals about its content. Zero fields were
// not found.
type Hint struct {
	Width     int
	Height    int
	FrameRate float64
	BitDepth  int
	// Format is set when the name carries a format token, or when it carries
	// a size, in which case Default (with BitDepth applied) is assumed.
	Format    Format
	HasFormat bool
	// FormatToken is true when Format came from an explicit token.
	FormatToken bool
}

// HasSize reports whether the name carried a frame size.
func (h Hint) HasSize() bool {
	return h.Width > 0 && h.Height > 0
}

var (
	sizePattern      = regexp.MustCompile(`(?:^|[^0-9])([0-9]{2,5})x([0-9]{2,5})(?:[^0-9]|$)`)
	rateTokenPattern = regexp.MustCompile(`(?:^|[^0-9.])([0-9]{1,3}(?:\.[0-9]+)?)\s*(?:fps|hz)`)
	rateAfterSize    = regexp.MustCompile(`[0-9]{2,5}x[0-9]{2,5}_([0-9]{1,3})(?:[^0-9a-z]|$)`)
	depthPattern     = regexp.MustCompile(`(?:^|[^0-9])(8|10|12|16)\s*(?:bit|b)(?:[^a-z]|$)`)
	tokenSplit       = regexp.MustCompile(`[^a-z0-9]+`)
)

// namedSizes maps common resolution names to their dimensions.
var namedSizes = map[string][2]int{
	"qcif":  {176, 144},
	"cif":   {352, 288},
	"4cif":  {704, 576},
	"vga":   {640, 480},
	"720p":  {1280, 720},
	"1080p": {1920, 1080},
	"2160p": {3840, 2160},
	"4k":    {3840, 2160},
}

// GuessFromFileName extracts frame size, frame rate, bit depth and format
// from a raw file name such as "Kimono_1920x1080_24fps_10bit_yuv420p10le.yuv".
func GuessFromFileName(path string) Hint {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, filepath.Ext(name))

	var h Hint
	if m := sizePattern.FindStringSubmatch(name); m != nil {
		h.Width, _ = strconv.Atoi(m[1])
		h.Height, _ = strconv.Atoi(m[2])
	}

	if m := rateTokenPattern.FindStringSubmatch(name); m != nil {
		h.FrameRate, _ = strconv.ParseFloat(m[1], 64)
	} else if m := rateAfterSize.FindStringSubmatch(name); m != nil {
		if rate, err := strconv.Atoi(m[1]); err == nil && rate > 0 && rate <= 300 {
			h.FrameRate = float64(rate)
		}
	}

	if m := depthPattern.FindStringSubmatch(name); m != nil {
		h.BitDepth, _ = strconv.Atoi(m[1])
	}

	for _, token := range tokenSplit.Split(name, -1) {
		if token == "" {
			continue
		}
		if !h.HasSize() {
			if size, ok := namedSizes[token]; ok {
				h.Width, h.Height = size[0], size[1]
				continue
			}
		}
		if h.FormatToken {
			continue
		}
		if f, err := Parse(token); err == nil {
			h.Format = f
			h.HasFormat = true
			h.FormatToken = true
		}
	}

	if !h.HasFormat && h.HasSize() {
		h.Format = Default
		h.HasFormat = true
	}
	if h.HasFormat && h.BitDepth > 0 && h.Format.BitDepth == 8 && h.BitDepth != 8 {
		h.Format.BitDepth = h.BitDepth
	}
	return h
}

// commonSizes are tried in order by GuessFromFileSize.
var commonSizes = [][2]int{
	{1920, 1080},
	{1280, 720},
	{3840, 2160},
	{416, 240},
	{832, 480},
	{352, 288},
	{176, 144},
	{640, 480},
	{1024, 768},
	{2560, 1600},
}

// GuessFromFileSize returns the first common resolution for which fileSize is
// a whole, non-zero number of frames of format f.
func GuessFromFileSize(fileSize uint64, f Format) (width, height int, ok bool) {
	for _, size := range commonSizes {
		frame := f.FrameByteSize(size[0], size[1])
		if frame == 0 || fileSize < frame {
			continue
		}
		if fileSize%frame == 0 {
			return size[0], size[1], true
		}
	}
	return 0, 0, false
}
