package yuvcache

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opd-ai/yuvcache/decode"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// frame420 builds one yuv420p frame with flat chroma.
func frame420(width, height int, luma func(i int) byte, u, v byte) []byte {
	cw, ch := (width+1)/2, (height+1)/2
	raw := make([]byte, 0, width*height+2*cw*ch)
	for i := 0; i < width*height; i++ {
		raw = append(raw, luma(i))
	}
	for i := 0; i < cw*ch; i++ {
		raw = append(raw, u)
	}
	for i := 0; i < cw*ch; i++ {
		raw = append(raw, v)
	}
	return raw
}

// ramp is a luma pattern that differs per frame.
func ramp(frame int) func(int) byte {
	return func(i int) byte { return byte(frame*100 + i*8) }
}

func flat(y byte) func(int) byte {
	return func(int) byte { return y }
}

// writeFrames writes frames back to back into a new file named name.
func writeFrames(t *testing.T, dir, name string, frames ...[]byte) string {
	t.Helper()
	var data []byte
	for _, f := range frames {
		data = append(data, f...)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// rampFile writes n 4x4 yuv420p frames with ramp luma.
func rampFile(t *testing.T, n int) string {
	t.Helper()
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = frame420(4, 4, ramp(i), 128, 128)
	}
	return writeFrames(t, t.TempDir(), "synthetic.yuv", frames...)
}

func appendBytes(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func testOptions() *Options {
	opts := NewOptions()
	opts.CacheBudget = 1 << 20
	opts.Matrix = decode.MatrixBT601Full
	return opts
}

// eventLog records observed events.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) observe(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	kinds := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func (l *eventLog) last() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events[len(l.events)-1]
}

func (l *eventLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

// testChdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent to testing.T.Chdir on Go 1.24+).
func testChdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
