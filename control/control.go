// Package control builds operator commands (homing, offsets, spindle) and
// schedules them on a device.
package control

import (
	"errors"
	"fmt"

	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/gcode"
)

var (
	// ErrBusy means the slot the command needs is occupied.
	ErrBusy = errors.New("device busy")

	// ErrPanicked means the device must be reset first.
	ErrPanicked = errors.New("device in panic, reset required")

	// ErrUnsupported means the dialect has no such command.
	ErrUnsupported = errors.New("not supported by dialect")
)

// OffsetCommand selects how work offsets are written.
type OffsetCommand string

const (
	// OffsetG10 writes the offset into the G54 coordinate system.
	OffsetG10 OffsetCommand = "G10"
	// OffsetG92 applies a temporary offset.
	OffsetG92 OffsetCommand = "G92"
)

// Device is the part of *device.Device used by a Controller.
type Device interface {
	Dialect() string
	IsInPanic() bool
	ScheduleCommand(cmd string) bool
	SchedulePriorityCommand(cmd string) bool
}

var _ Device = &device.Device{}

// Controller issues operator commands.
type Controller struct {
	dev    Device
	offset OffsetCommand
}

// New returns a Controller for dev. An empty offset defaults to G10.
func New(dev Device, offset OffsetCommand) *Controller {
	if offset != OffsetG92 {
		offset = OffsetG10
	}
	return &Controller{dev: dev, offset: offset}
}

func (c *Controller) isGrbl() bool { return c.dev.Dialect() == "grbl" }

func (c *Controller) schedule(cmd string) error {
	if c.dev.IsInPanic() {
		return ErrPanicked
	}
	if !c.dev.ScheduleCommand(cmd) {
		return ErrBusy
	}
	return nil
}

func (c *Controller) schedulePriority(cmd string) error {
	if !c.dev.SchedulePriorityCommand(cmd) {
		return ErrBusy
	}
	return nil
}

// Home runs the homing cycle.
func (c *Controller) Home() error {
	if c.dev.IsInPanic() {
		return ErrPanicked
	}
	if c.isGrbl() {
		return c.schedulePriority("$H")
	}
	return c.schedulePriority("G28")
}

// FeedHold pauses motion. It is allowed while panicked.
func (c *Controller) FeedHold() error {
	if !c.isGrbl() {
		return ErrUnsupported
	}
	return c.schedulePriority("!")
}

// CycleStart resumes after a feed hold.
func (c *Controller) CycleStart() error {
	if !c.isGrbl() {
		return ErrUnsupported
	}
	return c.schedulePriority("~")
}

func axisWords(axes []device.Axis, vals []float64) (gcode.Block, error) {
	if len(axes) == 0 {
		axes = []device.Axis{device.AxisX, device.AxisY, device.AxisZ}
	}
	var b gcode.Block
	for i, a := range axes {
		w := gcode.Word{W: a.Letter()}
		if !w.IsAxis() {
			return nil, fmt.Errorf("invalid axis %d", a)
		}
		if i < len(vals) {
			w.Arg = vals[i]
		}
		b = append(b, w)
	}
	return b, nil
}

func (c *Controller) setWork(axes []device.Axis, vals []float64) error {
	words, err := axisWords(axes, vals)
	if err != nil {
		return err
	}

	var b gcode.Block
	if c.offset == OffsetG92 || !c.isGrbl() {
		b = gcode.Block{{W: 'G', Arg: 92}}
	} else {
		b = gcode.Block{{W: 'G', Arg: 10}, {W: 'L', Arg: 20}, {W: 'P', Arg: 1}}
	}
	return c.schedule(append(b, words...).Text())
}

// ZeroWork makes the current position the work origin for axes, or for
// every axis if none are given.
func (c *Controller) ZeroWork(axes ...device.Axis) error { return c.setWork(axes, nil) }

// SetWork sets the work position of a single axis to val.
func (c *Controller) SetWork(axis device.Axis, val float64) error {
	return c.setWork([]device.Axis{axis}, []float64{val})
}

// ClearOffsets removes temporary G92 offsets.
func (c *Controller) ClearOffsets() error {
	if !c.isGrbl() {
		return ErrUnsupported
	}
	return c.schedule("G92.1")
}

// SelectWorkspace activates work coordinate system n (1 = G54 ... 6 = G59).
func (c *Controller) SelectWorkspace(n int) error {
	if n < 1 || n > 6 {
		return fmt.Errorf("invalid workspace %d", n)
	}
	return c.schedule(gcode.Word{W: 'G', Arg: float64(53 + n)}.String())
}

// SpindleOn starts the spindle clockwise at rpm.
func (c *Controller) SpindleOn(rpm float64) error {
	return c.schedule(gcode.Block{{W: 'M', Arg: 3}, {W: 'S', Arg: rpm}}.Text())
}

// SpindleReverse starts the spindle counter-clockwise at rpm.
func (c *Controller) SpindleReverse(rpm float64) error {
	return c.schedule(gcode.Block{{W: 'M', Arg: 4}, {W: 'S', Arg: rpm}}.Text())
}

func (c *Controller) SpindleOff() error { return c.schedule("M5") }
