package main

import (
	"fmt"
	"math/rand"
	"path/filepath"

	"github.com/huyhung411991/PINetTensorRT/internal/lane/l1frames"
	"github.com/huyhung411991/PINetTensorRT/internal/security"
)

type synthParams struct {
	Height, Width int
	Dims          int
	Lanes         int
	Stacks        int
	Noise         float32
	LaneLen       int // active rows per lane, counted from the bottom
}

func (p synthParams) validate() error {
	switch {
	case p.Height < 1 || p.Width < 1:
		return fmt.Errorf("grid must be at least 1x1, got %dx%d", p.Height, p.Width)
	case p.Dims < l1frames.MinEmbeddingDims:
		return fmt.Errorf("need at least %d embedding dims, got %d", l1frames.MinEmbeddingDims, p.Dims)
	case p.Lanes < 0 || 2*p.Lanes > p.Width:
		return fmt.Errorf("%d lanes do not fit in width %d", p.Lanes, p.Width)
	case p.Stacks < 1:
		return fmt.Errorf("need at least one stack, got %d", p.Stacks)
	case p.LaneLen > p.Height:
		return fmt.Errorf("lane length %d exceeds height %d", p.LaneLen, p.Height)
	}
	return nil
}

// laneColumn returns the column lane k occupies at row i. Lanes are
// spread evenly and lean towards the centre as they approach the top.
func (p synthParams) laneColumn(k, i int) int {
	spacing := p.Width / (p.Lanes + 1)
	base := spacing * (k + 1)
	lean := (p.Width/2 - base) * (p.Height - 1 - i) / (4 * p.Height)
	return base + lean
}

// synthesize builds one frame. Every stack carries the same lanes; earlier
// stacks get weaker confidence, as a less refined hourglass would.
func synthesize(name string, p synthParams, rng *rand.Rand) (*l1frames.Frame, error) {
	h, w := p.Height, p.Width
	plane := h * w
	f := &l1frames.Frame{Name: name}

	for s := 0; s < p.Stacks; s++ {
		conf := make([]float32, plane)
		off := make([]float32, 2*plane)
		emb := make([]float32, p.Dims*plane)
		peak := float32(0.95) - 0.1*float32(p.Stacks-1-s)

		for k := range conf {
			conf[k] = rng.Float32() * 0.5
			off[k] = rng.Float32()
			off[plane+k] = rng.Float32()
		}
		for l := 0; l < p.Lanes; l++ {
			for i := h - p.LaneLen; i < h; i++ {
				j := p.laneColumn(l, i)
				k := i*w + j
				conf[k] = peak
				off[k] = 0.5
				off[plane+k] = 0.5
				for c := 0; c < p.Dims; c++ {
					var v float32
					if c == 0 {
						v = float32(l)
					}
					emb[c*plane+k] = v + (rng.Float32()*2-1)*p.Noise
				}
			}
		}

		for _, g := range []struct {
			suffix string
			c      int
			data   []float32
		}{
			{"confidence", l1frames.ConfidenceChannels, conf},
			{"offset", l1frames.OffsetChannels, off},
			{"instance", p.Dims, emb},
		} {
			grid, err := l1frames.NewOutputGrid(fmt.Sprintf("stack%d/%s", s, g.suffix), g.c, h, w, g.data)
			if err != nil {
				return nil, err
			}
			f.Grids = append(f.Grids, grid)
		}
	}
	return f, nil
}

// writeFrame stores f as dir/name.lgd, refusing paths that resolve
// outside dir.
func writeFrame(dir, name string, f *l1frames.Frame) error {
	path := filepath.Join(dir, name+l1frames.FileExtension)
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		return err
	}
	return l1frames.WriteFrameFile(path, f)
}
