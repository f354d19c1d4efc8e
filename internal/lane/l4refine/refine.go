package l4refine

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/huyhung411991/PINetTensorRT/internal/config"
	"github.com/huyhung411991/PINetTensorRT/internal/lane"
)

// Params holds configuration for lane refinement.
type Params struct {
	MinLanePoints int // lanes with fewer points are dropped
	// OutlierTolerance is the maximum perpendicular distance in pixels
	// between a point and the line through its neighbours. Zero disables
	// outlier elimination.
	OutlierTolerance float64
	OutlierNeighbors int // neighbours taken on each side for the line fit
}

// DefaultParams returns production-default refinement parameters.
func DefaultParams() Params {
	return ParamsFromTuning(config.EmptyTuningConfig())
}

// ParamsFromTuning builds Params from a loaded TuningConfig.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		MinLanePoints:    cfg.GetMinLanePoints(),
		OutlierTolerance: cfg.GetOutlierTolerance(),
		OutlierNeighbors: cfg.GetOutlierNeighbors(),
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if p.MinLanePoints < 1 {
		return fmt.Errorf("MinLanePoints must be at least 1, got %d", p.MinLanePoints)
	}
	if p.OutlierTolerance < 0 || math.IsNaN(p.OutlierTolerance) || math.IsInf(p.OutlierTolerance, 0) {
		return fmt.Errorf("OutlierTolerance must be finite and non-negative, got %f", p.OutlierTolerance)
	}
	if p.OutlierNeighbors < 1 {
		return fmt.Errorf("OutlierNeighbors must be at least 1, got %d", p.OutlierNeighbors)
	}
	return nil
}

// Result is the outcome of refining one frame's lanes.
type Result struct {
	Lanes           []lane.Lane
	LanesDropped    int
	OutliersRemoved int
}

// Refiner applies filter, sort and outlier elimination to clustered lanes.
type Refiner struct {
	params Params
}

// NewRefiner creates a Refiner.
func NewRefiner(p Params) *Refiner {
	return &Refiner{params: p}
}

// Params returns the refiner's configuration.
func (r *Refiner) Params() Params { return r.params }

// Refine filters, sorts and, when enabled, removes outliers. The input
// slice is not modified; returned lanes are independent copies.
func (r *Refiner) Refine(in []lane.Lane) Result {
	kept := Filter(in, r.params.MinLanePoints)
	res := Result{LanesDropped: len(in) - len(kept)}
	out := make([]lane.Lane, len(kept))
	for k, l := range kept {
		out[k] = l.Clone()
		SortByY(out[k].Points)
	}

	if r.params.OutlierTolerance > 0 {
		for k := range out {
			var removed int
			out[k].Points, removed = EliminateOutliers(out[k].Points, r.params.OutlierNeighbors, r.params.OutlierTolerance)
			SortByY(out[k].Points)
			res.OutliersRemoved += removed
		}
		before := len(out)
		out = Filter(out, r.params.MinLanePoints)
		res.LanesDropped += before - len(out)
	}

	res.Lanes = out
	return res
}

// Filter returns the lanes with at least minPoints points, preserving
// order. The returned slice shares lane storage with in.
func Filter(in []lane.Lane, minPoints int) []lane.Lane {
	out := make([]lane.Lane, 0, len(in))
	for _, l := range in {
		if len(l.Points) >= minPoints {
			out = append(out, l)
		}
	}
	return out
}

// SortByY orders points by ascending Y in place. Points with equal Y keep
// their clustering order.
func SortByY(pts []lane.Point) {
	sort.SliceStable(pts, func(a, b int) bool { return pts[a].Y < pts[b].Y })
}

// EliminateOutliers removes interior points that lie further than tol
// pixels from the line x = a + b*y fitted through up to k neighbours on
// each side. pts must already be sorted by Y. Every flag is computed
// against the unmodified lane before anything is removed. The first and
// last points are never removed.
func EliminateOutliers(pts []lane.Point, k int, tol float64) ([]lane.Point, int) {
	if len(pts) < 3 || k < 1 || tol <= 0 {
		return pts, 0
	}

	flagged := make([]bool, len(pts))
	xs := make([]float64, 0, 2*k)
	ys := make([]float64, 0, 2*k)
	var n int
	for idx := 1; idx < len(pts)-1; idx++ {
		xs, ys = xs[:0], ys[:0]
		for off := 1; off <= k; off++ {
			if lo := idx - off; lo >= 0 {
				xs = append(xs, float64(pts[lo].X))
				ys = append(ys, float64(pts[lo].Y))
			}
			if hi := idx + off; hi < len(pts) {
				xs = append(xs, float64(pts[hi].X))
				ys = append(ys, float64(pts[hi].Y))
			}
		}
		if lineDistance(xs, ys, float64(pts[idx].X), float64(pts[idx].Y)) > tol {
			flagged[idx] = true
			n++
		}
	}
	if n == 0 {
		return pts, 0
	}

	out := make([]lane.Point, 0, len(pts)-n)
	for idx, p := range pts {
		if !flagged[idx] {
			out = append(out, p)
		}
	}
	return out, n
}

// lineDistance is the perpendicular distance from (x, y) to the
// least-squares line x = a + b*y through the neighbours. Neighbours that
// share one row define the horizontal line through that row.
func lineDistance(xs, ys []float64, x, y float64) float64 {
	if stat.Variance(ys, nil) == 0 {
		return math.Abs(y - ys[0])
	}
	a, b := stat.LinearRegression(ys, xs, nil, false)
	return math.Abs(x-(a+b*y)) / math.Sqrt(1+b*b)
}
