// Package grbl implements the Grbl 1.1 dialect.
package grbl

import (
	"strings"

	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/gcode"
)

const (
	// Grbl's serial receive buffer and planner block counts.
	maxLines = 15
	maxBytes = 128

	StatusIdle = "Idle"
	StatusJog  = "Jog"
)

// Realtime commands.
const (
	CmdStatus      = '?'
	CmdCycleStart  = '~'
	CmdFeedHold    = '!'
	CmdReset       = 0x18
	CmdSafetyDoor  = 0x84
	CmdJogCancel   = 0x85
	CmdSpindleStop = 0x9E
	CmdFloodToggle = 0xA0
	CmdMistToggle  = 0xA1

	// Feed, rapid and spindle overrides occupy 0x90-0x9D.
	cmdOverrideFirst = 0x90
	cmdOverrideLast  = 0x9D
)

// Dialect speaks to Grbl controllers.
type Dialect struct{}

var _ device.Dialect = Dialect{}

// New returns the Grbl dialect.
func New() device.Dialect { return Dialect{} }

func (Dialect) Name() string                 { return "grbl" }
func (Dialect) Limits() (lines, bytes int)   { return maxLines, maxBytes }
func (Dialect) Handshake() []string          { return []string{"$I", string(rune(CmdStatus))} }
func (Dialect) StatusQuery() string          { return string(rune(CmdStatus)) }
func (Dialect) ResetCommand() string         { return string([]byte{CmdReset}) }
func (Dialect) Probe() []byte                { return []byte{CmdReset} }
func (Dialect) CanJog(st *device.State) bool { return st.Status == StatusIdle || st.Status == StatusJog }
func (Dialect) IsBanner(line string) bool    { return isBanner(line) }
func (Dialect) IsRealtime(cmd []byte) bool   { return IsRealtime(cmd) }

func isBanner(line string) bool { return strings.HasPrefix(line, "Grbl ") }

// IsRealtime returns true if cmd is a single realtime command byte.
func IsRealtime(cmd []byte) bool {
	if len(cmd) != 1 {
		return false
	}
	switch c := cmd[0]; c {
	case CmdStatus, CmdCycleStart, CmdFeedHold, CmdReset,
		CmdSafetyDoor, CmdJogCancel, CmdSpindleStop, CmdFloodToggle, CmdMistToggle:
		return true
	default:
		return c >= cmdOverrideFirst && c <= cmdOverrideLast
	}
}

func (Dialect) HandleLine(st *device.State, line string) device.Result {
	switch {
	case strings.HasPrefix(line, "ok"):
		return device.Ack
	case strings.HasPrefix(line, "error"), strings.HasPrefix(line, "ALARM:"):
		return device.Alarm
	case strings.HasPrefix(line, "<"):
		if parseStatus(st, line) {
			return device.Updated
		}
	case strings.HasPrefix(line, "[MSG:"):
		st.LastResponse = strings.TrimSuffix(line[len("[MSG:"):], "]")
	case isBanner(line):
		return device.Restarted
	}
	return device.Ignored
}

// JogCommand returns `$J=G91 F<feed> <axis><distance>`.
func (Dialect) JogCommand(_ *device.State, axis device.Axis, distance, feedRate float64) (string, bool) {
	w := axis.Letter()
	if w == 0 || feedRate <= 0 {
		return "", false
	}
	b := gcode.Block{
		{W: 'G', Arg: 91},
		{W: 'F', Arg: feedRate},
		{W: w, Arg: distance},
	}
	return "$J=" + b.Text(), true
}
