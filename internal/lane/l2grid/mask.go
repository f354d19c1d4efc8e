package l2grid

import (
	"strings"

	"github.com/huyhung411991/PINetTensorRT/internal/lane/l1frames"
)

// ActivationMask marks the cells whose confidence exceeds the point
// threshold. It is built once per inference and never modified.
type ActivationMask struct {
	h, w   int
	cells  []bool
	active int
}

// NewActivationMask thresholds a single-channel confidence grid:
// mask[i][j] = confidence[i][j] > threshold. NaN confidences never pass.
func NewActivationMask(conf *l1frames.OutputGrid, threshold float64) *ActivationMask {
	h, w := conf.Shape.H, conf.Shape.W
	m := &ActivationMask{h: h, w: w, cells: make([]bool, h*w)}
	t := float32(threshold)
	for k, v := range conf.Channel(0) {
		if v > t {
			m.cells[k] = true
			m.active++
		}
	}
	return m
}

// Height returns the number of rows.
func (m *ActivationMask) Height() int { return m.h }

// Width returns the number of columns.
func (m *ActivationMask) Width() int { return m.w }

// Active reports whether cell (i, j) passed the threshold.
func (m *ActivationMask) Active(i, j int) bool { return m.cells[i*m.w+j] }

// Count returns the number of active cells.
func (m *ActivationMask) Count() int { return m.active }

// Empty reports whether no cell passed the threshold.
func (m *ActivationMask) Empty() bool { return m.active == 0 }

// String renders the mask as rows of 0/1 characters.
func (m *ActivationMask) String() string {
	var b strings.Builder
	b.Grow(m.h * (m.w + 1))
	for i := 0; i < m.h; i++ {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j := 0; j < m.w; j++ {
			if m.cells[i*m.w+j] {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String()
}
