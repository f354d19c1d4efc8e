package l1frames

import (
	"fmt"
	"math"
)

// Shape is the (channels, height, width) extent of an output tensor.
type Shape struct {
	C int `json:"c"`
	H int `json:"h"`
	W int `json:"w"`
}

// Len returns C*H*W.
func (s Shape) Len() int { return s.C * s.H * s.W }

func (s Shape) String() string { return fmt.Sprintf("(%d,%d,%d)", s.C, s.H, s.W) }

// OutputGrid is one dense network output: a shape plus an owned,
// row-major float32 buffer. Element (c, i, j) lives at c*H*W + i*W + j.
type OutputGrid struct {
	Name  string
	Shape Shape
	Data  []float32
}

// NewOutputGrid copies data into a new grid after checking that its length
// matches the shape.
func NewOutputGrid(name string, c, h, w int, data []float32) (*OutputGrid, error) {
	g := &OutputGrid{Name: name, Shape: Shape{C: c, H: h, W: w}}
	if err := g.checkShape(len(data)); err != nil {
		return nil, err
	}
	g.Data = make([]float32, len(data))
	copy(g.Data, data)
	return g, nil
}

// Validate checks the buffer against the declared shape.
func (g *OutputGrid) Validate() error {
	if g == nil {
		return shapeErrorf("", "nil grid")
	}
	return g.checkShape(len(g.Data))
}

func (g *OutputGrid) checkShape(n int) error {
	s := g.Shape
	if s.C <= 0 || s.H <= 0 || s.W <= 0 {
		return shapeErrorf(g.Name, "non-positive shape %s", s)
	}
	if n != s.Len() {
		return shapeErrorf(g.Name, "buffer length %d does not match shape %s", n, s)
	}
	return nil
}

// Index returns the flat buffer offset of (c, i, j).
func (g *OutputGrid) Index(c, i, j int) int {
	return (c*g.Shape.H+i)*g.Shape.W + j
}

// At returns element (c, i, j).
func (g *OutputGrid) At(c, i, j int) float32 {
	return g.Data[g.Index(c, i, j)]
}

// Channel returns the H*W plane of channel c. The slice aliases Data.
func (g *OutputGrid) Channel(c int) []float32 {
	plane := g.Shape.H * g.Shape.W
	return g.Data[c*plane : (c+1)*plane]
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
