package device_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/device/devicetest"
	"github.com/mastercactapus/pendant/device/grbl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConnected(t *testing.T) (*device.Device, *devicetest.Transport) {
	t.Helper()
	tr := devicetest.New()
	dev := device.New(tr, grbl.New(), device.Options{})
	require.NoError(t, dev.Begin())
	require.NoError(t, dev.Loop())
	tr.Respond("ok")
	require.NoError(t, dev.Loop())
	require.Equal(t, 0, dev.SentQueueLength())
	require.Equal(t, 0, dev.QueueLength())
	return dev, tr
}

func TestDevice_New(t *testing.T) {
	dev := device.New(devicetest.New(), grbl.New(), device.Options{Baud: 115200})
	assert.False(t, dev.IsConnected())
	assert.False(t, dev.IsInPanic())
	assert.Equal(t, "grbl", dev.Dialect())
	assert.Equal(t, 115200, dev.Baud())
	assert.Equal(t, device.Disconnected, dev.State().Conn)
}

func TestDevice_ScheduleCommand(t *testing.T) {
	dev, tr := newConnected(t)

	assert.True(t, dev.ScheduleCommand("G0 X1"))
	assert.False(t, dev.ScheduleCommand("G0 X2"), "normal slot occupied")
	assert.Equal(t, 1, dev.QueueLength())

	assert.True(t, dev.SchedulePriorityCommand("$X"))
	assert.False(t, dev.SchedulePriorityCommand("$H"))
	assert.Equal(t, 2, dev.QueueLength())

	require.NoError(t, dev.Loop())
	assert.Equal(t, "$X\n", last(tr), "priority goes first")
	require.NoError(t, dev.Loop())
	assert.Equal(t, "G0 X1\n", last(tr))
	assert.Equal(t, 2, dev.SentQueueLength())
	assert.Equal(t, 0, dev.QueueLength())

	assert.True(t, dev.ScheduleCommand("G0 X2"))
}

func TestDevice_ScheduleRejects(t *testing.T) {
	dev, _ := newConnected(t)

	assert.False(t, dev.ScheduleCommand(""))
	assert.False(t, dev.ScheduleCommand("G0 X1\nG0 X2"))
	assert.False(t, dev.ScheduleCommand(strings.Repeat("G", 128)))
	assert.True(t, dev.ScheduleCommand(strings.Repeat("G", 127)))
	assert.Equal(t, 1, dev.QueueLength())
}

func TestDevice_Realtime(t *testing.T) {
	dev, tr := newConnected(t)

	// fill the controller
	for i := 0; i < 15; i++ {
		require.True(t, dev.ScheduleCommand("G4 P0"))
		require.NoError(t, dev.Loop())
	}
	require.Equal(t, 15, dev.SentQueueLength())

	require.True(t, dev.ScheduleCommand("G0 X1"))
	require.NoError(t, dev.Loop())
	assert.Equal(t, 1, dev.QueueLength(), "held back")

	require.True(t, dev.SchedulePriorityCommand("!"))
	require.NoError(t, dev.Loop())
	assert.Equal(t, "!", last(tr))
	assert.Equal(t, 15, dev.SentQueueLength())
	assert.Equal(t, 1, dev.QueueLength())

	tr.Respond("ok")
	require.NoError(t, dev.Loop())
	assert.Equal(t, "G0 X1\n", last(tr))
	assert.Equal(t, 15, dev.SentQueueLength())
	assert.Equal(t, 0, dev.QueueLength())
}

func TestDevice_Backpressure(t *testing.T) {
	dev, tr := newConnected(t)

	cmd := strings.Repeat("G", 62) // 63 bytes with terminator
	require.True(t, dev.ScheduleCommand(cmd))
	require.NoError(t, dev.Loop())
	require.True(t, dev.ScheduleCommand(cmd))
	require.NoError(t, dev.Loop())
	require.Equal(t, 2, dev.SentQueueLength())

	require.True(t, dev.ScheduleCommand("G0 X10"))
	require.NoError(t, dev.Loop())
	n := len(tr.Writes())
	assert.Equal(t, 1, dev.QueueLength(), "128 byte buffer is full")

	tr.Respond("ok")
	require.NoError(t, dev.Loop())
	assert.Len(t, tr.Writes(), n+1)
	assert.Equal(t, "G0 X10\n", last(tr))
}

func TestDevice_Observers(t *testing.T) {
	dev, tr := newConnected(t)

	var order []string
	var lines []string
	dev.AddReceivedLineHandler(func(line string) { lines = append(lines, line) })
	dev.AddObserver(device.ObserverFunc(func(e device.Event) { order = append(order, "a:"+e.Kind.String()) }))
	dev.AddObserver(device.ObserverFunc(func(e device.Event) { order = append(order, "b:"+e.Kind.String()) }))

	tr.Respond("<Idle|MPos:0,0,0>", "ok", "error:2")
	for i := 0; i < 3; i++ {
		require.NoError(t, dev.Loop())
	}

	assert.Equal(t, []string{"a:updated", "b:updated", "a:error", "b:error"}, order)
	assert.Equal(t, []string{"<Idle|MPos:0,0,0>", "ok", "error:2"}, lines)
}

func TestDevice_ObserverReentrant(t *testing.T) {
	dev, tr := newConnected(t)

	var st device.State
	dev.AddObserver(device.ObserverFunc(func(e device.Event) {
		st = dev.State()
		dev.ScheduleCommand("G0 X1")
	}))

	tr.Respond("<Idle|MPos:1,2,3>")
	require.NoError(t, dev.Loop())
	assert.Equal(t, 1.0, st.MPos.X)
	assert.Equal(t, "G0 X1\n", last(tr))
}

func TestDevice_PanicAndOK(t *testing.T) {
	dev, tr := newConnected(t)

	require.True(t, dev.ScheduleCommand("G0 X1"))
	require.False(t, dev.ScheduleCommand("G0 X1"))
	require.NoError(t, dev.Loop())
	require.True(t, dev.ScheduleCommand("G0 X2"))
	require.NoError(t, dev.Loop())

	tr.Respond("error:9")
	require.NoError(t, dev.Loop())
	assert.True(t, dev.IsInPanic())
	assert.True(t, dev.IsConnected())
	assert.Equal(t, "error:9", dev.State().LastResponse)
	assert.Equal(t, 1, dev.SentQueueLength())

	tr.Respond("ok")
	require.NoError(t, dev.Loop())
	assert.False(t, dev.IsInPanic())
	assert.Equal(t, 0, dev.SentQueueLength())

	// spurious ok is harmless
	tr.Respond("ok")
	require.NoError(t, dev.Loop())
	assert.Equal(t, 0, dev.SentQueueLength())
}

func TestDevice_Reset(t *testing.T) {
	dev, tr := newConnected(t)

	require.True(t, dev.ScheduleCommand("G0 X1"))
	require.NoError(t, dev.Loop())
	require.True(t, dev.ScheduleCommand("G0 X2"))
	tr.Respond("ALARM:3")
	require.NoError(t, dev.Loop())
	require.True(t, dev.IsInPanic())

	dev.Reset()
	assert.False(t, dev.IsInPanic())
	assert.Equal(t, 0, dev.SentQueueLength())
	assert.Equal(t, 1, dev.QueueLength())

	require.NoError(t, dev.Loop())
	assert.Equal(t, "\x18", last(tr))
	assert.Equal(t, 0, dev.QueueLength())
}

func TestDevice_LoopError(t *testing.T) {
	dev, tr := newConnected(t)
	tr.Close()
	err := dev.Loop()
	assert.ErrorIs(t, err, device.ErrClosed)
}

func TestDevice_Run(t *testing.T) {
	dev, tr := newConnected(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := dev.Run(ctx, 10*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, tr.Writes()[2:], "?", "status polled")

	tr.Close()
	err = dev.Run(context.Background(), 0)
	assert.ErrorIs(t, err, device.ErrClosed)
}

func TestDevice_StateSnapshot(t *testing.T) {
	dev, tr := newConnected(t)
	tr.Respond("<Idle|MPos:1,2,3|WCO:1,1,1>")
	require.NoError(t, dev.Loop())

	st := dev.State()
	st.MPos.X = 100
	assert.Equal(t, 1.0, dev.State().MPos.X)
	assert.Equal(t, 2.0, dev.State().WPos().Z)
}

func last(tr *devicetest.Transport) string {
	w := tr.Writes()
	if len(w) == 0 {
		return ""
	}
	return w[len(w)-1]
}
