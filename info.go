package yuvcache

import (
	"fmt"
	"strconv"
)

// InfoItem is one line of a source description.
type InfoItem struct {
	Name  string
	Value string
}

// Info describes the handle as name/value pairs for display.
func (h *Handle) Info() []InfoItem {
	h.mu.RLock()
	items := []InfoItem{
		{Name: "File", Value: h.name},
		{Name: "State", Value: h.state.String()},
	}
	if h.resolved {
		items = append(items,
			InfoItem{Name: "Resolution", Value: fmt.Sprintf("%dx%d", h.width, h.height)},
			InfoItem{Name: "Format", Value: h.format.Name()},
			InfoItem{Name: "Frame bytes", Value: strconv.FormatUint(h.frameBytes, 10)},
			InfoItem{Name: "Frames", Value: strconv.Itoa(h.frameCount)},
			InfoItem{Name: "Range", Value: h.rng.String()},
		)
	}
	rate := "unknown"
	if h.frameRate > 0 {
		rate = strconv.FormatFloat(h.frameRate, 'f', -1, 64)
	}
	items = append(items,
		InfoItem{Name: "Frame rate", Value: rate},
		InfoItem{Name: "Sampling", Value: strconv.Itoa(h.sampling)},
	)
	h.mu.RUnlock()

	failed := "none"
	if f := h.FailedFrames(); len(f) > 0 {
		failed = fmt.Sprint(f)
	}
	items = append(items,
		InfoItem{Name: "Cached frames", Value: fmt.Sprintf("%d (%d of %d bytes)",
			h.cache.Len(), h.cache.BytesUsed(), h.cache.Budget())},
		InfoItem{Name: "Failed frames", Value: failed},
	)
	return items
}
