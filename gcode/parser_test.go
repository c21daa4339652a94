package gcode

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParser_Read(t *testing.T) {
	p := NewParser(strings.NewReader(`
%
G21 (metric) G90
g0 x1.5 y-2 ; rapid
M3 S1000
`))

	b, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, Block{{W: 'G', Arg: 21}, {W: 'G', Arg: 90}}, b)

	b, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, "G0 X1.5 Y-2", b.Text())

	b, err = p.Read()
	require.NoError(t, err)
	assert.Equal(t, "M3S1000", b.String())
	assert.Equal(t, 5, p.Line())
	assert.Equal(t, int64(49), p.Offset())

	_, err = p.Read()
	assert.Equal(t, io.EOF, err)
}

func TestParser_Invalid(t *testing.T) {
	p := NewParser(strings.NewReader("G0 X1\n$H\n"))
	_, err := p.Read()
	assert.NoError(t, err)
	_, err = p.Read()
	assert.EqualError(t, err, "line 2: invalid or unhandled line: $H")
}

func TestBlock_Text(t *testing.T) {
	b := Block{{W: 'G', Arg: 10}, {W: 'L', Arg: 20}, {W: 'P', Arg: 1}, {W: 'X', Arg: 0.1234}, {W: 'Z', Arg: -0.0001}}
	assert.Equal(t, "G10 L20 P1 X0.123 Z0", b.Text())
	assert.Equal(t, "G10L20P1X0.123Z0", b.String())
}

func TestWord_IsAxis(t *testing.T) {
	assert.True(t, Word{W: 'X'}.IsAxis())
	assert.True(t, Word{W: 'Z', Arg: -1}.IsAxis())
	assert.False(t, Word{W: 'G', Arg: 0}.IsAxis())
	assert.False(t, Word{}.IsAxis())
}
