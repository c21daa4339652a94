package gcode

import (
	"strings"
)

// Block is one line of G-code.
type Block []Word

// String returns the compact form of the block, e.g. `G91G0X1`.
func (b Block) String() string {
	var sb strings.Builder
	for _, w := range b {
		sb.WriteString(w.String())
	}
	return sb.String()
}

// Text returns the block with words separated by spaces, e.g. `G91 G0 X1`.
func (b Block) Text() string {
	parts := make([]string, len(b))
	for i, w := range b {
		parts[i] = w.String()
	}
	return strings.Join(parts, " ")
}
