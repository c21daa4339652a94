package marlin

import (
	"strconv"
	"strings"

	"github.com/mastercactapus/pendant/device"
)

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

// parseTemps applies a temperature report like
//
//	T:21.30 /0.00 B:22.10 /60.00 T0:21.30 /0.00 T1:20.90 /0.00 @:0 B@:0
//
// to st. Numbered tools take precedence over the bare T field, which
// Marlin repeats for the active tool.
func parseTemps(st *device.State, data string) bool {
	fields := strings.Fields(data)

	var active, bed *device.Temperature
	var tools []device.Temperature
	for i, f := range fields {
		name, val, ok := strings.Cut(f, ":")
		if !ok || name == "" {
			continue
		}
		actual, target, hasTarget := strings.Cut(val, "/")
		t := device.Temperature{Actual: parseFloat(actual)}
		if hasTarget {
			t.Target = parseFloat(target)
		} else if i+1 < len(fields) && strings.HasPrefix(fields[i+1], "/") {
			t.Target = parseFloat(fields[i+1][1:])
		}

		switch {
		case name == "T":
			active = &t
		case name == "B":
			bed = &t
		case name[0] == 'T':
			idx, err := strconv.Atoi(name[1:])
			if err != nil || idx < 0 || idx > 15 {
				continue
			}
			for len(tools) <= idx {
				tools = append(tools, device.Temperature{})
			}
			tools[idx] = t
		}
	}
	if tools == nil && active != nil {
		tools = []device.Temperature{*active}
	}
	if tools == nil && bed == nil {
		return false
	}
	if tools != nil {
		st.Tools = tools
	}
	if bed != nil {
		st.Bed = bed
	}
	return true
}

// parsePosition applies an M114 report like
//
//	X:10.00 Y:0.00 Z:5.00 E:0.00 Count X:800 Y:0 Z:2000
//
// to st. The stepper counts after "Count" are ignored.
func parsePosition(st *device.State, data string) bool {
	var seen bool
	pos := st.MPos
	for _, f := range strings.Fields(data) {
		if f == "Count" {
			break
		}
		name, val, ok := strings.Cut(f, ":")
		if !ok || len(name) != 1 {
			continue
		}
		switch name[0] {
		case 'X', 'Y', 'Z':
			pos = pos.With(name[0], parseFloat(val))
			seen = true
		}
	}
	if !seen {
		return false
	}
	st.MPos = pos
	return true
}
