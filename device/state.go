package device

import (
	"strings"

	"github.com/mastercactapus/pendant/coord"
)

// ConnState is the connection state of a Device.
type ConnState int

const (
	Disconnected ConnState = iota
	Connected
	Panicked
)

func (s ConnState) String() string {
	switch s {
	case Connected:
		return "Connected"
	case Panicked:
		return "Panicked"
	}
	return "Disconnected"
}

func (s ConnState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Axis identifies a linear machine axis.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// Letter returns the G-code letter for the axis, or 0 if it is not valid.
func (a Axis) Letter() byte {
	switch a {
	case AxisX:
		return 'X'
	case AxisY:
		return 'Y'
	case AxisZ:
		return 'Z'
	}
	return 0
}

// ParseAxis returns the Axis for a letter like "x" or "Z".
func ParseAxis(s string) (Axis, bool) {
	switch strings.ToUpper(s) {
	case "X":
		return AxisX, true
	case "Y":
		return AxisY, true
	case "Z":
		return AxisZ, true
	}
	return 0, false
}

// Temperature is a heater reading.
type Temperature struct {
	Actual float64 `json:"actual"`
	Target float64 `json:"target"`
}

// State is the last known state of the controller.
//
// Values returned from a Device are copies and safe to keep.
type State struct {
	Dialect string    `json:"dialect"`
	Conn    ConnState `json:"conn"`

	// Status is the controller's own state name (e.g. Idle, Run, Jog, Alarm).
	Status string `json:"status"`

	MPos coord.Point `json:"mpos"`
	// WPos = MPos - WCO
	WCO coord.Point `json:"wco"`

	Feed    float64 `json:"feed"`
	Spindle float64 `json:"spindle"`

	// InputPins holds the identifiers of asserted input pins (e.g. "PXZ").
	InputPins string `json:"pins"`

	LastResponse string `json:"lastResponse"`

	Tools []Temperature `json:"tools,omitempty"`
	Bed   *Temperature  `json:"bed,omitempty"`

	SentQueueLength int `json:"sentQueueLength"`
	QueueLength     int `json:"queueLength"`
}

// WPos returns the work position.
func (s State) WPos() coord.Point { return s.MPos.Sub(s.WCO) }

// HasPin returns true if the input pin identified by c is asserted.
func (s State) HasPin(c byte) bool { return strings.IndexByte(s.InputPins, c) >= 0 }

func (s State) IsConnected() bool { return s.Conn != Disconnected }
func (s State) IsInPanic() bool   { return s.Conn == Panicked }

func (s State) clone() State {
	if s.Tools != nil {
		s.Tools = append([]Temperature(nil), s.Tools...)
	}
	if s.Bed != nil {
		bed := *s.Bed
		s.Bed = &bed
	}
	return s
}
