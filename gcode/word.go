package gcode

import (
	"strconv"
	"strings"
)

// Word is a single letter/value pair, e.g. `G1` or `X-3.5`.
type Word struct {
	W   byte
	Arg float64
}

// IsAxis returns true for the linear axis words X, Y and Z.
func (w Word) IsAxis() bool {
	switch w.W {
	case 'X', 'Y', 'Z':
		return true
	}
	return false
}

func formatFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.ContainsRune(s, '.') {
		s = strings.TrimRight(s, "0")
	}
	s = strings.TrimRight(s, ".")
	if s == "-0" {
		return "0"
	}
	return s
}

func (w Word) String() string {
	return string(w.W) + formatFloat(w.Arg, 3)
}
