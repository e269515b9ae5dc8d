package source

import "sync"

// Memory is a Source over an in-memory byte slice that can grow, which makes
// it usable as a stand-in for a file still being written.
type Memory struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
}

// NewMemory returns a Memory source holding a copy of data.
func NewMemory(data []byte) *Memory {
	return &Memory{data: append([]byte(nil), data...)}
}

// Append adds bytes at the end of the source.
func (m *Memory) Append(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, p...)
}

// Truncate shrinks the source to size bytes.
func (m *Memory) Truncate(size uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size < uint64(len(m.data)) {
		m.data = m.data[:size]
	}
}

// ReadRange returns a copy of the requested range.
func (m *Memory) ReadRange(offset, length uint64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	if err := checkBounds(offset, length, uint64(len(m.data))); err != nil {
		return nil, err
	}
	return append([]byte(nil), m.data[offset:offset+length]...), nil
}

// CurrentSize returns the number of bytes held.
func (m *Memory) CurrentSize() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.data)), nil
}

// Close releases the data.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
