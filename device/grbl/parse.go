package grbl

import (
	"strconv"
	"strings"

	"github.com/mastercactapus/pendant/coord"
	"github.com/mastercactapus/pendant/device"
)

// parseFloat returns 0 for anything that isn't a number.
func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseCoords parses an `x,y,z` triplet. Missing or malformed
// elements are 0 and extra axes are ignored.
func parseCoords(data string) (p coord.Point) {
	x, rest, _ := strings.Cut(data, ",")
	y, rest, _ := strings.Cut(rest, ",")
	z, _, _ := strings.Cut(rest, ",")
	p.X = parseFloat(x)
	p.Y = parseFloat(y)
	p.Z = parseFloat(z)
	return p
}

const (
	seenFeed = 1 << iota
	seenWCO
	seenPins
)

// parseStatus applies a status report like
//
//	<Idle|MPos:9.800,0.000,0.000|FS:0,0|WCO:0.000,0.000,0.000>
//
// to st. It returns false if the report is incomplete; the state text
// is still applied if present.
func parseStatus(st *device.State, data string) bool {
	data = strings.TrimSpace(data)
	data = strings.TrimPrefix(data, "<")
	data = strings.TrimSuffix(data, ">")

	status, data, ok := strings.Cut(data, "|")
	if !ok {
		return false
	}
	st.Status = status

	field, data, _ := strings.Cut(data, "|")
	mpos, ok := strings.CutPrefix(field, "MPos:")
	if !ok {
		return false
	}
	st.MPos = parseCoords(mpos)

	// Pn is only reported while a pin is asserted
	st.InputPins = ""

	var seen int
	for data != "" {
		field, data, _ = strings.Cut(data, "|")
		switch {
		case seen&seenFeed == 0 && strings.HasPrefix(field, "FS:"):
			feed, spindle, _ := strings.Cut(field[len("FS:"):], ",")
			st.Feed = parseFloat(feed)
			st.Spindle = parseFloat(spindle)
			seen |= seenFeed
		case seen&seenFeed == 0 && strings.HasPrefix(field, "F:"):
			st.Feed = parseFloat(field[len("F:"):])
			seen |= seenFeed
		case seen&seenWCO == 0 && strings.HasPrefix(field, "WCO:"):
			st.WCO = parseCoords(field[len("WCO:"):])
			seen |= seenWCO
		case seen&seenPins == 0 && strings.HasPrefix(field, "Pn:"):
			st.InputPins = field[len("Pn:"):]
			seen |= seenPins
		}
	}

	return true
}
