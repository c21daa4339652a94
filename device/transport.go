package device

import (
	"bufio"
	"errors"
	"io"
	"sync"
	"time"
)

// MaxLineLength is the longest line a stream transport will deliver.
// Longer lines are dropped.
const MaxLineLength = 256

var (
	// ErrTimeout is returned by ReadLine when no line arrived in time.
	ErrTimeout = errors.New("read timeout")

	// ErrClosed is returned after a transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// A Transport is a line oriented link to a controller.
type Transport interface {
	// ReadLine waits up to timeout for the next line, without its terminator.
	// It returns ErrTimeout if nothing arrived.
	ReadLine(timeout time.Duration) (string, error)

	Write(p []byte) (int, error)
	Close() error
}

type streamTransport struct {
	rwc io.ReadWriteCloser

	lines  chan string
	done   chan struct{}
	closed chan struct{}
	err    error

	wMx       sync.Mutex
	closeOnce sync.Once
}

// NewStreamTransport creates a Transport reading lines from rwc in a
// background goroutine.
func NewStreamTransport(rwc io.ReadWriteCloser) Transport {
	t := &streamTransport{
		rwc:    rwc,
		lines:  make(chan string, 64),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go t.readLoop()
	return t
}

func (t *streamTransport) readLoop() {
	br := bufio.NewReaderSize(t.rwc, MaxLineLength)
	var skip bool
	for {
		data, isPrefix, err := br.ReadLine()
		if err != nil {
			t.err = err
			close(t.done)
			return
		}
		if isPrefix {
			// too long, drop it along with the rest of the line
			skip = true
			continue
		}
		if skip {
			skip = false
			continue
		}
		if len(data) == 0 {
			continue
		}
		select {
		case t.lines <- string(data):
		case <-t.closed:
			return
		}
	}
}

func (t *streamTransport) ReadLine(timeout time.Duration) (string, error) {
	select {
	case line := <-t.lines:
		return line, nil
	case <-t.closed:
		return "", ErrClosed
	default:
	}

	tm := time.NewTimer(timeout)
	defer tm.Stop()
	select {
	case line := <-t.lines:
		return line, nil
	case <-t.done:
		select {
		case line := <-t.lines:
			return line, nil
		case <-t.closed:
			return "", ErrClosed
		default:
		}
		return "", t.err
	case <-t.closed:
		return "", ErrClosed
	case <-tm.C:
		return "", ErrTimeout
	}
}

func (t *streamTransport) Write(p []byte) (int, error) {
	select {
	case <-t.closed:
		return 0, ErrClosed
	default:
	}
	t.wMx.Lock()
	defer t.wMx.Unlock()
	return t.rwc.Write(p)
}

func (t *streamTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.rwc.Close()
	})
	return err
}
