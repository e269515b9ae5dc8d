package yuvcache

import "fmt"

// State is the lifecycle state of a Handle.
type State int

const (
	// StateUninitialized is the state before the source is open.
	StateUninitialized State = iota
	// StateFormatPending means the source is open but its format is unknown.
	StateFormatPending
	// StateReady means the format is resolved and frames can be fetched.
	StateReady
	// StateInvalidated means the format or size changed and has not been
	// resolved again.
	StateInvalidated
	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFormatPending:
		return "format-pending"
	case StateReady:
		return "ready"
	case StateInvalidated:
		return "invalidated"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Range is an inclusive range of frame indices.
type Range struct {
	Start int `yaml:"start"`
	End   int `yaml:"end"`
}

// Len returns the number of indices in r.
func (r Range) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start + 1
}

// Contains reports whether index lies in r.
func (r Range) Contains(index int) bool {
	return index >= r.Start && index <= r.End
}

// Intersect returns the indices in both r and o. The result is empty when
// Len() == 0.
func (r Range) Intersect(o Range) Range {
	return Range{Start: max(r.Start, o.Start), End: min(r.End, o.End)}
}

// String formats r as "[start, end]".
func (r Range) String() string {
	return fmt.Sprintf("[%d, %d]", r.Start, r.End)
}

// EventKind identifies what changed on a Handle.
type EventKind int

const (
	// EventFormatChanged follows a successful format resolution.
	EventFormatChanged EventKind = iota
	// EventRangeChanged follows a change of the frame index range.
	EventRangeChanged
	// EventFrameCountChanged follows growth or shrinking of the file.
	EventFrameCountChanged
	// EventStateChanged follows any state transition.
	EventStateChanged
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventFormatChanged:
		return "format-changed"
	case EventRangeChanged:
		return "range-changed"
	case EventFrameCountChanged:
		return "frame-count-changed"
	case EventStateChanged:
		return "state-changed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event describes a change on a Handle. Fields hold the values after the
// change.
type Event struct {
	Kind       EventKind
	State      State
	Range      Range
	FrameCount int
}

// Observer receives events. It runs on the goroutine that made the change
// and must not block for long.
type Observer func(Event)
