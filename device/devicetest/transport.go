// Package devicetest provides a scripted Transport for tests.
package devicetest

import (
	"bytes"
	"sync"
	"time"

	"github.com/mastercactapus/pendant/device"
)

// Transport is an in-memory device.Transport. Lines queued with Respond
// are returned by ReadLine in order; everything written is recorded.
type Transport struct {
	mx      sync.Mutex
	lines   []string
	written bytes.Buffer
	writes  [][]byte
	closed  bool

	// OnWrite, if set, is called with every write (after recording it).
	OnWrite func(t *Transport, p []byte)
}

var _ device.Transport = &Transport{}

// New returns a Transport that will deliver lines in order.
func New(lines ...string) *Transport {
	return &Transport{lines: lines}
}

// Respond queues lines to be read.
func (t *Transport) Respond(lines ...string) {
	t.mx.Lock()
	t.lines = append(t.lines, lines...)
	t.mx.Unlock()
}

func (t *Transport) ReadLine(timeout time.Duration) (string, error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if t.closed {
		return "", device.ErrClosed
	}
	if len(t.lines) == 0 {
		return "", device.ErrTimeout
	}
	line := t.lines[0]
	t.lines = t.lines[1:]
	return line, nil
}

func (t *Transport) Write(p []byte) (int, error) {
	t.mx.Lock()
	if t.closed {
		t.mx.Unlock()
		return 0, device.ErrClosed
	}
	t.written.Write(p)
	t.writes = append(t.writes, append([]byte(nil), p...))
	fn := t.OnWrite
	t.mx.Unlock()

	if fn != nil {
		fn(t, p)
	}
	return len(p), nil
}

func (t *Transport) Close() error {
	t.mx.Lock()
	t.closed = true
	t.mx.Unlock()
	return nil
}

// Written returns everything written so far.
func (t *Transport) Written() string {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.written.String()
}

// Writes returns each individual write.
func (t *Transport) Writes() []string {
	t.mx.Lock()
	defer t.mx.Unlock()
	res := make([]string, len(t.writes))
	for i, w := range t.writes {
		res[i] = string(w)
	}
	return res
}

// Closed reports whether Close was called.
func (t *Transport) Closed() bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.closed
}
