package grbl

import (
	"testing"

	"github.com/mastercactapus/pendant/coord"
	"github.com/mastercactapus/pendant/device"
	"github.com/stretchr/testify/assert"
)

func TestParseStatus(t *testing.T) {
	var st device.State
	ok := parseStatus(&st, "<Idle|MPos:1.000,2.000,3.000|FS:500,1000|WCO:0.000,0.000,0.000>")
	assert.True(t, ok)
	assert.Equal(t, "Idle", st.Status)
	assert.Equal(t, coord.Point{X: 1, Y: 2, Z: 3}, st.MPos)
	assert.Equal(t, coord.Point{}, st.WCO)
	assert.Equal(t, 500.0, st.Feed)
	assert.Equal(t, 1000.0, st.Spindle)
	assert.True(t, Dialect{}.CanJog(&st))
}

func TestParseStatus_Fields(t *testing.T) {
	st := device.State{InputPins: "XYZ"}
	ok := parseStatus(&st, "<Run|MPos:10.5,-2,0.25|WCO:1,2,3|Pn:PZ|F:750|FS:1,2|WCO:9,9,9>\r\n")
	assert.True(t, ok)
	assert.Equal(t, "Run", st.Status)
	assert.Equal(t, coord.Point{X: 10.5, Y: -2, Z: 0.25}, st.MPos)
	assert.Equal(t, coord.Point{X: 1, Y: 2, Z: 3}, st.WCO, "first WCO wins")
	assert.Equal(t, 750.0, st.Feed, "first feed field wins")
	assert.Equal(t, 0.0, st.Spindle)
	assert.Equal(t, "PZ", st.InputPins)
	assert.Equal(t, coord.Point{X: 9.5, Y: -4, Z: -2.75}, st.WPos())
	assert.False(t, Dialect{}.CanJog(&st))

	ok = parseStatus(&st, "<Idle|MPos:10.5,-2,0.25|Ov:100,100,100>")
	assert.True(t, ok)
	assert.Empty(t, st.InputPins, "pins clear when Pn is absent")
	assert.Equal(t, coord.Point{X: 1, Y: 2, Z: 3}, st.WCO, "WCO kept when not reported")
}

func TestParseStatus_MissingMPos(t *testing.T) {
	st := device.State{MPos: coord.Point{X: 4, Y: 5, Z: 6}}
	ok := parseStatus(&st, "<Jog|WPos:1.000,2.000,3.000|FS:0,0>")
	assert.False(t, ok)
	assert.Equal(t, "Jog", st.Status)
	assert.Equal(t, coord.Point{X: 4, Y: 5, Z: 6}, st.MPos)

	ok = parseStatus(&st, "<Idle>")
	assert.False(t, ok)
	assert.Equal(t, coord.Point{X: 4, Y: 5, Z: 6}, st.MPos)

	ok = parseStatus(&st, "<")
	assert.False(t, ok)
}

func TestParseStatus_Malformed(t *testing.T) {
	var st device.State
	ok := parseStatus(&st, "<Hold:0|MPos:abc,2|FS:x,|WCO:>")
	assert.True(t, ok)
	assert.Equal(t, "Hold:0", st.Status)
	assert.Equal(t, coord.Point{Y: 2}, st.MPos)
	assert.Equal(t, 0.0, st.Feed)
	assert.Equal(t, coord.Point{}, st.WCO)
}
