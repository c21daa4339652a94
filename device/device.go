package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultPollTimeout is how long Loop waits for a line by default.
const DefaultPollTimeout = 10 * time.Millisecond

// Options configure a Device.
type Options struct {
	// PollTimeout bounds how long a single Loop call waits for input.
	PollTimeout time.Duration

	// Baud is informational; it is the rate the transport was opened at.
	Baud int

	// Logger receives protocol traces. The zero value discards them.
	Logger zerolog.Logger
}

// Device drives a single controller over a Transport.
//
// Commands are staged into one of two slots (priority and normal) and
// transmitted by Loop once the controller has room for them. Loop is meant
// to be called repeatedly from a single goroutine; every other method is
// safe to call concurrently with it.
type Device struct {
	t       Transport
	dialect Dialect
	log     zerolog.Logger
	poll    time.Duration
	baud    int

	mx       sync.Mutex
	st       State
	sent     *Counter
	priority []byte
	normal   []byte

	obsMx     sync.Mutex
	observers []Observer
	handlers  []LineHandler
}

// New creates a Device for the given dialect bound to t.
// The device is Disconnected until Begin is called.
func New(t Transport, dialect Dialect, opts Options) *Device {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = DefaultPollTimeout
	}
	maxLines, maxBytes := dialect.Limits()
	return &Device{
		t:       t,
		dialect: dialect,
		log:     opts.Logger.With().Str("dialect", dialect.Name()).Logger(),
		poll:    opts.PollTimeout,
		baud:    opts.Baud,
		st:      State{Dialect: dialect.Name()},
		sent:    NewCounter(maxLines, maxBytes),
	}
}

// Dialect returns the dialect name, e.g. "grbl".
func (d *Device) Dialect() string { return d.dialect.Name() }

// Baud returns the rate the transport was opened at, if known.
func (d *Device) Baud() int { return d.baud }

// Begin marks the device connected and stages the dialect handshake.
func (d *Device) Begin() error {
	d.mx.Lock()
	if d.st.Conn == Disconnected {
		d.st.Conn = Connected
	}
	d.mx.Unlock()

	for _, cmd := range d.dialect.Handshake() {
		if d.SchedulePriorityCommand(cmd) {
			continue
		}
		// slot still holds the previous handshake command
		err := d.trySend()
		if err != nil {
			return err
		}
		if !d.SchedulePriorityCommand(cmd) {
			return fmt.Errorf("stage handshake command %q: slot busy", cmd)
		}
	}
	return nil
}

// Close releases the transport.
func (d *Device) Close() error { return d.t.Close() }

func (d *Device) admissible(cmd string) bool {
	if cmd == "" || strings.ContainsAny(cmd, "\r\n") {
		return false
	}
	if d.dialect.IsRealtime([]byte(cmd)) {
		return true
	}
	_, maxBytes := d.dialect.Limits()
	return len(cmd)+1 <= maxBytes
}

func (d *Device) schedule(slot *[]byte, cmd string) bool {
	if !d.admissible(cmd) {
		return false
	}
	d.mx.Lock()
	defer d.mx.Unlock()
	if *slot != nil {
		return false
	}
	*slot = []byte(cmd)
	return true
}

// ScheduleCommand stages cmd for transmission. It returns false, without
// side effects, if a normal command is already waiting or cmd can never be
// sent (empty, multi-line, or larger than the controller's buffer).
func (d *Device) ScheduleCommand(cmd string) bool { return d.schedule(&d.normal, cmd) }

// SchedulePriorityCommand is like ScheduleCommand but uses the priority
// slot, which is transmitted before the normal one.
func (d *Device) SchedulePriorityCommand(cmd string) bool { return d.schedule(&d.priority, cmd) }

// RequestStatusUpdate schedules a status query.
func (d *Device) RequestStatusUpdate() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	if d.priority != nil {
		return false
	}
	cmd := d.dialect.StatusQuery()
	if !d.admissible(cmd) {
		return false
	}
	d.priority = []byte(cmd)
	return true
}

// Reset clears the panic state, forgets all staged and outstanding
// commands and stages the dialect's reset command.
func (d *Device) Reset() {
	d.mx.Lock()
	if d.st.Conn == Panicked {
		d.st.Conn = Connected
	}
	d.sent.Reset()
	d.normal = nil
	d.priority = []byte(d.dialect.ResetCommand())
	d.mx.Unlock()
	d.log.Info().Msg("reset")
}

// Loop performs one step: it handles at most one inbound line and then
// tries to transmit one staged command.
func (d *Device) Loop() error {
	line, err := d.t.ReadLine(d.poll)
	switch {
	case err == nil:
		d.handleLine(line)
	case errors.Is(err, ErrTimeout):
	default:
		return fmt.Errorf("read: %w", err)
	}

	return d.trySend()
}

// Run calls Loop until ctx is done or the transport fails, requesting a
// status report every statusInterval (if > 0).
func (d *Device) Run(ctx context.Context, statusInterval time.Duration) error {
	var tick <-chan time.Time
	if statusInterval > 0 {
		t := time.NewTicker(statusInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			d.RequestStatusUpdate()
		default:
		}

		err := d.Loop()
		if err != nil {
			d.log.Error().Err(err).Msg("device loop")
			return err
		}
	}
}

func (d *Device) handleLine(line string) {
	for _, h := range d.lineHandlers() {
		h(line)
	}

	var events []Event
	d.mx.Lock()
	res := d.dialect.HandleLine(&d.st, line)
	if res&(Ack|Alarm|Pop) != 0 {
		if _, err := d.sent.Pop(); err != nil {
			d.log.Debug().Str("line", line).Msg("response without outstanding command")
		}
	}
	if res&Restarted != 0 {
		d.sent.Reset()
		d.log.Info().Str("banner", line).Msg("controller restarted")
	}
	if res&Ack != 0 {
		d.st.Conn = Connected
	}
	if res&(Alarm|Fault) != 0 {
		d.st.Conn = Panicked
		d.st.LastResponse = line
		d.log.Warn().Str("response", line).Msg("controller alarm")
		events = append(events, Event{Kind: EventError, State: d.snapshot()})
	}
	if res&Updated != 0 {
		events = append(events, Event{Kind: EventUpdated, State: d.snapshot()})
	}
	d.log.Trace().
		Int("freeLines", d.sent.FreeLines()).
		Int("freeBytes", d.sent.FreeBytes()).
		Str("line", line).
		Msg("received")
	d.mx.Unlock()

	d.notify(events)
}

func (d *Device) trySend() error {
	d.mx.Lock()
	defer d.mx.Unlock()

	if d.priority != nil && d.dialect.IsRealtime(d.priority) {
		_, err := d.t.Write(d.priority)
		if err != nil {
			return fmt.Errorf("write realtime command: %w", err)
		}
		d.log.Debug().
			Int("freeLines", d.sent.FreeLines()).
			Int("freeBytes", d.sent.FreeBytes()).
			Hex("cmd", d.priority).
			Msg("sent realtime")
		d.priority = nil
		return nil
	}

	slot := &d.priority
	if d.priority == nil {
		slot = &d.normal
	}
	cmd := *slot
	if cmd == nil || !d.sent.CanPush(len(cmd)) {
		return nil
	}

	buf := make([]byte, len(cmd)+1)
	copy(buf, cmd)
	buf[len(cmd)] = '\n'
	_, err := d.t.Write(buf)
	if err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	err = d.sent.Push(cmd)
	if err != nil {
		return err
	}
	*slot = nil

	d.log.Debug().
		Int("freeLines", d.sent.FreeLines()).
		Int("freeBytes", d.sent.FreeBytes()).
		Bytes("cmd", cmd).
		Msg("sent")
	return nil
}

// AddObserver registers o to receive device events.
func (d *Device) AddObserver(o Observer) {
	d.obsMx.Lock()
	d.observers = append(d.observers, o)
	d.obsMx.Unlock()
}

// AddReceivedLineHandler registers h to receive every inbound line.
func (d *Device) AddReceivedLineHandler(h LineHandler) {
	d.obsMx.Lock()
	d.handlers = append(d.handlers, h)
	d.obsMx.Unlock()
}

func (d *Device) lineHandlers() []LineHandler {
	d.obsMx.Lock()
	defer d.obsMx.Unlock()
	return d.handlers
}

func (d *Device) notify(events []Event) {
	if len(events) == 0 {
		return
	}
	d.obsMx.Lock()
	observers := d.observers
	d.obsMx.Unlock()

	for _, e := range events {
		for _, o := range observers {
			o.DeviceEvent(e)
		}
	}
}

func (d *Device) queueLength() int {
	var n int
	if d.priority != nil {
		n++
	}
	if d.normal != nil {
		n++
	}
	return n
}

// snapshot must be called with d.mx held.
func (d *Device) snapshot() State {
	st := d.st.clone()
	st.SentQueueLength = d.sent.Lines()
	st.QueueLength = d.queueLength()
	return st
}

// State returns a copy of the current device state.
func (d *Device) State() State {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.snapshot()
}

func (d *Device) IsConnected() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.st.Conn != Disconnected
}

func (d *Device) IsInPanic() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.st.Conn == Panicked
}

// SentQueueLength returns the number of commands awaiting acknowledgement.
func (d *Device) SentQueueLength() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.sent.Lines()
}

// QueueLength returns the number of staged, untransmitted commands.
func (d *Device) QueueLength() int {
	d.mx.Lock()
	defer d.mx.Unlock()
	return d.queueLength()
}

// CanJog returns true if the controller currently accepts jog commands.
func (d *Device) CanJog() bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	st := d.snapshot()
	return d.dialect.CanJog(&st)
}

// Jog schedules a relative move of distance along axis at feedRate.
// It returns false without side effects if jogging is not possible right
// now or the normal slot is occupied.
func (d *Device) Jog(axis Axis, distance, feedRate float64) bool {
	d.mx.Lock()
	defer d.mx.Unlock()
	st := d.snapshot()
	if !d.dialect.CanJog(&st) {
		return false
	}
	cmd, ok := d.dialect.JogCommand(&st, axis, distance, feedRate)
	if !ok || d.normal != nil || !d.admissible(cmd) {
		return false
	}
	d.normal = []byte(cmd)
	return true
}
