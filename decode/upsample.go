package decode

import "fmt"

// upsampleNearest repeats each chroma sample over the luma pixels it covers.
func upsampleNearest(src []byte, srcWidth, srcHeight, dstWidth, dstHeight int) ([]byte, error) {
	if len(src) < srcWidth*srcHeight {
		return nil, fmt.Errorf("source plane too small: %d < %d", len(src), srcWidth*srcHeight)
	}
	if srcWidth == dstWidth && srcHeight == dstHeight {
		return src, nil
	}

	sx := (dstWidth + srcWidth - 1) / srcWidth
	sy := (dstHeight + srcHeight - 1) / srcHeight
	dst := make([]byte, dstWidth*dstHeight)
	for y := 0; y < dstHeight; y++ {
		row := src[(y/sy)*srcWidth:]
		out := dst[y*dstWidth : (y+1)*dstWidth]
		for x := range out {
			out[x] = row[x/sx]
		}
	}
	return dst, nil
}

// bilinearTap names the two source samples one destination position blends
// and the weight of hi in 1/256 steps.
type bilinearTap struct {
	lo, hi int
	w      int
}

func bilinearTaps(srcLen, dstLen int) []bilinearTap {
	taps := make([]bilinearTap, dstLen)
	for i := range taps {
		pos := i * srcLen * 256 / dstLen
		lo := pos >> 8
		taps[i] = bilinearTap{lo: lo, hi: min(lo+1, srcLen-1), w: pos & 0xff}
	}
	return taps
}

// upsampleBilinear resizes a chroma plane to luma resolution, blending the
// four nearest source samples in 8.8 fixed point.
func upsampleBilinear(src []byte, srcWidth, srcHeight, dstWidth, dstHeight int) ([]byte, error) {
	if len(src) < srcWidth*srcHeight {
		return nil, fmt.Errorf("source plane too small: %d < %d", len(src), srcWidth*srcHeight)
	}
	if srcWidth == dstWidth && srcHeight == dstHeight {
		return src, nil
	}

	cols := bilinearTaps(srcWidth, dstWidth)
	rows := bilinearTaps(srcHeight, dstHeight)
	dst := make([]byte, dstWidth*dstHeight)
	for y, r := range rows {
		top := src[r.lo*srcWidth : (r.lo+1)*srcWidth]
		bottom := src[r.hi*srcWidth : (r.hi+1)*srcWidth]
		out := dst[y*dstWidth : (y+1)*dstWidth]
		for x, c := range cols {
			t := int(top[c.lo])*(256-c.w) + int(top[c.hi])*c.w
			b := int(bottom[c.lo])*(256-c.w) + int(bottom[c.hi])*c.w
			out[x] = byte((t*(256-r.w) + b*r.w + 1<<15) >> 16)
		}
	}
	return dst, nil
}
