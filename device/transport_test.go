package device

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipeRWC struct {
	*io.PipeReader
	w io.Writer
}

func (p pipeRWC) Write(b []byte) (int, error) { return p.w.Write(b) }

func newPipeTransport(t *testing.T) (Transport, *io.PipeWriter, *strings.Builder) {
	t.Helper()
	pr, pw := io.Pipe()
	var out strings.Builder
	tr := NewStreamTransport(pipeRWC{PipeReader: pr, w: &out})
	t.Cleanup(func() { tr.Close() })
	return tr, pw, &out
}

func TestStreamTransport_ReadLine(t *testing.T) {
	tr, pw, out := newPipeTransport(t)

	go func() {
		io.WriteString(pw, "ok\r\n\n<Idle|MPos:0,0,0>\n")
		io.WriteString(pw, strings.Repeat("x", MaxLineLength+10)+"\n")
		io.WriteString(pw, "error:20\n")
	}()

	line, err := tr.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", line)

	line, err = tr.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "<Idle|MPos:0,0,0>", line)

	line, err = tr.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "error:20", line, "over-long line is dropped")

	_, err = tr.ReadLine(10 * time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)

	_, err = tr.Write([]byte("?"))
	require.NoError(t, err)
	assert.Equal(t, "?", out.String())
}

func TestStreamTransport_EOF(t *testing.T) {
	tr, pw, _ := newPipeTransport(t)
	go func() {
		io.WriteString(pw, "ok\n")
		pw.Close()
	}()

	line, err := tr.ReadLine(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", line)

	_, err = tr.ReadLine(time.Second)
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamTransport_Close(t *testing.T) {
	tr, _, _ := newPipeTransport(t)
	require.NoError(t, tr.Close())

	_, err := tr.ReadLine(time.Second)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tr.Write([]byte("?"))
	assert.ErrorIs(t, err, ErrClosed)
}
