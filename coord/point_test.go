package coord

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint_Add(t *testing.T) {
	a := Point{X: 1, Y: 2, Z: 3}
	b := Point{X: 4, Y: 5, Z: 6}

	assert.Equal(t, Point{X: 5, Y: 7, Z: 9}, a.Add(b))
}

func TestPoint_Sub(t *testing.T) {
	mpos := Point{X: 10, Y: 5, Z: -1}
	wco := Point{X: 2, Y: 5, Z: -3}

	assert.Equal(t, Point{X: 8, Y: 0, Z: 2}, mpos.Sub(wco))
}

func TestPoint_Get(t *testing.T) {
	p := Point{X: 1, Y: 2, Z: 3}
	assert.Equal(t, 2.0, p.Get('Y'))
	assert.True(t, math.IsNaN(p.Get('A')))

	assert.Equal(t, Point{X: 1, Y: 2, Z: 7}, p.With('Z', 7))
	assert.Equal(t, p, p.With('E', 7))
}
