// Package marlin implements the Marlin dialect.
//
// Marlin has no realtime commands and does not report machine state on
// its own, so status is assembled from temperature (M105) and position
// (M114) reports requested in turn.
package marlin

import (
	"strings"

	"github.com/mastercactapus/pendant/device"
	"github.com/mastercactapus/pendant/gcode"
)

const (
	// Marlin's default BUFSIZE and MAX_CMD_SIZE.
	maxLines = 4
	maxBytes = 128

	StatusIdle = "Idle"
	StatusBusy = "Busy"

	cmdFirmwareInfo = "M115"
	cmdPosition     = "M114"
	cmdTemperature  = "M105"
	cmdReset        = "M999"
)

// Dialect speaks to Marlin firmware. Each Device needs its own Dialect.
type Dialect struct {
	queries int
}

var _ device.Dialect = &Dialect{}

// New returns a fresh Marlin dialect.
func New() device.Dialect { return &Dialect{} }

func (*Dialect) Name() string               { return "marlin" }
func (*Dialect) Limits() (lines, bytes int) { return maxLines, maxBytes }
func (*Dialect) Handshake() []string        { return []string{cmdFirmwareInfo, cmdPosition} }
func (*Dialect) ResetCommand() string       { return cmdReset }
func (*Dialect) IsRealtime([]byte) bool     { return false }
func (*Dialect) Probe() []byte              { return []byte(cmdFirmwareInfo + "\n") }

// StatusQuery alternates between temperature and position reports.
func (d *Dialect) StatusQuery() string {
	d.queries++
	if d.queries%2 == 0 {
		return cmdPosition
	}
	return cmdTemperature
}

func (*Dialect) IsBanner(line string) bool {
	return line == "start" || strings.Contains(line, "FIRMWARE_NAME:Marlin")
}

func (*Dialect) HandleLine(st *device.State, line string) device.Result {
	switch {
	case strings.HasPrefix(line, "ok"):
		res := device.Ack
		if st.Conn == device.Panicked {
			// acknowledges the faulted command, the panic stays until M999
			res = device.Pop
		}
		if st.Status != StatusIdle {
			st.Status = StatusIdle
			res |= device.Updated
		}
		if strings.Contains(line, "T:") && parseTemps(st, line[len("ok"):]) {
			res |= device.Updated
		}
		return res
	case strings.HasPrefix(line, "Error:"), strings.HasPrefix(line, "!!"):
		// the failed command is still followed by "ok"
		return device.Fault
	case strings.HasPrefix(line, "echo:busy:"):
		if st.Status == StatusBusy {
			return device.Ignored
		}
		st.Status = StatusBusy
		return device.Updated
	case line == "start":
		st.Status = ""
		return device.Restarted
	case strings.HasPrefix(line, "FIRMWARE_NAME:"):
		st.LastResponse = line
	case strings.HasPrefix(strings.TrimSpace(line), "T:"):
		if parseTemps(st, line) {
			return device.Updated
		}
	case strings.HasPrefix(line, "X:"):
		if parsePosition(st, line) {
			return device.Updated
		}
	}
	return device.Ignored
}

// CanJog requires an idle machine with nothing in flight, since the jog
// target is computed from the last reported position.
func (*Dialect) CanJog(st *device.State) bool {
	return st.Status == StatusIdle && st.SentQueueLength == 0 && st.QueueLength == 0
}

// JogCommand returns an absolute `G90 G0 F<feed> <axis><target>` move.
func (*Dialect) JogCommand(st *device.State, axis device.Axis, distance, feedRate float64) (string, bool) {
	w := axis.Letter()
	if w == 0 || feedRate <= 0 {
		return "", false
	}
	b := gcode.Block{
		{W: 'G', Arg: 90},
		{W: 'G', Arg: 0},
		{W: 'F', Arg: feedRate},
		{W: w, Arg: st.MPos.Get(w) + distance},
	}
	return b.Text(), true
}
