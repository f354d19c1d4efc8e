package l2grid

import (
	"fmt"
	"math"

	"github.com/huyhung411991/PINetTensorRT/internal/config"
	"github.com/huyhung411991/PINetTensorRT/internal/lane"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/l1frames"
)

// Params controls thresholding and coordinate reconstruction.
type Params struct {
	ThresholdPoint float64 // confidence must be strictly greater
	ResizeRatio    int     // output-grid to image scale factor
	// BoundsWidth and BoundsHeight override the valid point extent. Zero
	// means the output grid's own W and H.
	BoundsWidth  int
	BoundsHeight int
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return ParamsFromTuning(config.EmptyTuningConfig())
}

// ParamsFromTuning builds Params from a loaded TuningConfig.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		ThresholdPoint: cfg.GetThresholdPoint(),
		ResizeRatio:    cfg.GetResizeRatio(),
		BoundsWidth:    cfg.GetBoundsWidth(),
		BoundsHeight:   cfg.GetBoundsHeight(),
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if math.IsNaN(p.ThresholdPoint) {
		return fmt.Errorf("ThresholdPoint must be a number")
	}
	if p.ResizeRatio <= 0 {
		return fmt.Errorf("ResizeRatio must be positive, got %d", p.ResizeRatio)
	}
	if p.BoundsWidth < 0 || p.BoundsHeight < 0 {
		return fmt.Errorf("bounds must be non-negative, got %dx%d", p.BoundsWidth, p.BoundsHeight)
	}
	return nil
}

// Candidate is an active, in-bounds cell ready for clustering. Embedding
// aliases a scratch buffer owned by the Reconstructor and is only valid
// until the next call to Next.
type Candidate struct {
	Row, Col  int
	Point     lane.Point
	Embedding []float64
}

// Reconstructor walks the active cells of one inference in row-major
// order and yields a Candidate for each cell that survives the bound and
// finiteness checks. It is single-use and not safe for concurrent use.
type Reconstructor struct {
	out    l1frames.Outputs
	mask   *ActivationMask
	params Params
	maxX   int
	maxY   int

	next int // flat index of the next cell to inspect
	emb  []float64

	outOfBounds int
	nonFinite   int
}

// NewReconstructor prepares a scan over outs. outs must already have
// passed Outputs.Validate and mask must have been built from
// outs.Confidence.
func NewReconstructor(outs l1frames.Outputs, mask *ActivationMask, p Params) *Reconstructor {
	maxX, maxY := p.BoundsWidth, p.BoundsHeight
	if maxX == 0 {
		maxX = outs.Width()
	}
	if maxY == 0 {
		maxY = outs.Height()
	}
	return &Reconstructor{
		out:    outs,
		mask:   mask,
		params: p,
		maxX:   maxX,
		maxY:   maxY,
		emb:    make([]float64, outs.EmbeddingDim()),
	}
}

// Next advances to the next usable cell. It returns false once every cell
// has been visited.
func (r *Reconstructor) Next() (Candidate, bool) {
	h, w := r.mask.h, r.mask.w
	plane := h * w
	for r.next < plane {
		k := r.next
		r.next++
		if !r.mask.cells[k] {
			continue
		}
		i, j := k/w, k%w

		dx := r.out.Offset.Data[k]
		dy := r.out.Offset.Data[plane+k]
		pt, ok := r.reconstruct(i, j, dx, dy)
		if !ok {
			continue
		}
		if !r.loadEmbedding(k, plane) {
			r.nonFinite++
			continue
		}
		return Candidate{Row: i, Col: j, Point: pt, Embedding: r.emb}, true
	}
	return Candidate{}, false
}

// reconstruct maps cell (i, j) with offset (dx, dy) to image space and
// applies the bound check. Non-finite offsets count as non-finite,
// anything else that lands outside the extent counts as out of bounds.
func (r *Reconstructor) reconstruct(i, j int, dx, dy float32) (lane.Point, bool) {
	if !l1frames.Finite(dx) || !l1frames.Finite(dy) {
		r.nonFinite++
		return lane.Point{}, false
	}
	x, y := imagePosition(i, j, float64(dx), float64(dy), r.params.ResizeRatio)
	if x < 0 || x >= float64(r.maxX) || y < 0 || y >= float64(r.maxY) {
		r.outOfBounds++
		return lane.Point{}, false
	}
	return lane.Point{X: int(x), Y: int(y)}, true
}

func (r *Reconstructor) loadEmbedding(k, plane int) bool {
	data := r.out.Embedding.Data
	for c := range r.emb {
		v := data[c*plane+k]
		if !l1frames.Finite(v) {
			return false
		}
		r.emb[c] = float64(v)
	}
	return true
}

// OutOfBounds returns how many active cells were dropped by the bound check.
func (r *Reconstructor) OutOfBounds() int { return r.outOfBounds }

// NonFinite returns how many active cells carried NaN or Inf offsets or
// embeddings.
func (r *Reconstructor) NonFinite() int { return r.nonFinite }

// imagePosition returns the rounded image-space coordinates of cell (i, j)
// with sub-cell offset (dx, dy). Values stay float64 so the caller can
// bound-check before converting.
func imagePosition(i, j int, dx, dy float64, ratio int) (x, y float64) {
	r := float64(ratio)
	return math.Round((dx + float64(j)) * r), math.Round((dy + float64(i)) * r)
}
