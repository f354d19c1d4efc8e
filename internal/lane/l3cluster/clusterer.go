package l3cluster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/huyhung411991/PINetTensorRT/internal/config"
	"github.com/huyhung411991/PINetTensorRT/internal/lane"
)

// Params holds configuration for embedding clustering.
type Params struct {
	// ThresholdInstance is the acceptance threshold. Under the euclidean
	// metric a lane accepts a cell when ||e - mean|| <= ThresholdInstance;
	// under the squared metric when ||e - mean||^2 <= ThresholdInstance.
	ThresholdInstance float64
	Metric            string
	MaxLanes          int // arena capacity
	LookbackWindow    int // only the newest LookbackWindow lanes are candidates
}

// DefaultParams returns production-default clustering parameters.
func DefaultParams() Params {
	return ParamsFromTuning(config.EmptyTuningConfig())
}

// ParamsFromTuning builds Params from a loaded TuningConfig.
func ParamsFromTuning(cfg *config.TuningConfig) Params {
	return Params{
		ThresholdInstance: cfg.GetThresholdInstance(),
		Metric:            cfg.GetDistanceMetric(),
		MaxLanes:          cfg.GetMaxLanes(),
		LookbackWindow:    cfg.GetLookbackWindow(),
	}
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if !(p.ThresholdInstance > 0) || math.IsInf(p.ThresholdInstance, 0) {
		return fmt.Errorf("ThresholdInstance must be positive and finite, got %f", p.ThresholdInstance)
	}
	switch p.Metric {
	case config.DistanceEuclidean, config.DistanceSquared:
	default:
		return fmt.Errorf("unknown distance metric %q", p.Metric)
	}
	if p.MaxLanes < 1 {
		return fmt.Errorf("MaxLanes must be at least 1, got %d", p.MaxLanes)
	}
	if p.LookbackWindow < 1 {
		return fmt.Errorf("LookbackWindow must be at least 1, got %d", p.LookbackWindow)
	}
	return nil
}

// squaredRadius is the bound on the squared embedding distance.
func (p Params) squaredRadius() float64 {
	if p.Metric == config.DistanceSquared {
		return p.ThresholdInstance
	}
	return p.ThresholdInstance * p.ThresholdInstance
}

// Clusterer assigns points with embeddings to lanes.
type Clusterer interface {
	// Add offers one cell. It returns the index of the lane the point
	// joined, or false when the cell was discarded.
	Add(p lane.Point, embedding []float64) (int, bool)
	// Lanes returns the lanes in creation order.
	Lanes() []lane.Lane
	// CapacityDiscards counts cells dropped because the arena was full.
	CapacityDiscards() int
}

type laneSlot struct {
	points []lane.Point
	mean   []float64
}

// EmbeddingClusterer is the greedy nearest-running-mean clusterer. It
// owns its lanes exclusively and is not safe for concurrent use; create
// one per inference.
type EmbeddingClusterer struct {
	params Params
	dim    int
	radius float64

	slots []laneSlot // len <= params.MaxLanes
	diff  []float64

	capacityDiscards int
}

// NewEmbeddingClusterer creates a clusterer for embeddings of length dim.
func NewEmbeddingClusterer(p Params, dim int) *EmbeddingClusterer {
	return &EmbeddingClusterer{
		params: p,
		dim:    dim,
		radius: p.squaredRadius(),
		slots:  make([]laneSlot, 0, p.MaxLanes),
		diff:   make([]float64, dim),
	}
}

// Add assigns p to the first lane, in creation order among the newest
// LookbackWindow lanes, whose running-mean embedding is within the
// threshold. Otherwise it opens a new lane if the arena has room. The
// embedding is copied; callers may reuse it. len(embedding) must equal
// the clusterer's dimension.
func (c *EmbeddingClusterer) Add(p lane.Point, embedding []float64) (int, bool) {
	start := len(c.slots) - c.params.LookbackWindow
	if start < 0 {
		start = 0
	}
	for idx := start; idx < len(c.slots); idx++ {
		s := &c.slots[idx]
		floats.SubTo(c.diff, embedding, s.mean)
		if floats.Dot(c.diff, c.diff) <= c.radius {
			// mean = (mean*n + e) / (n+1)
			n := float64(len(s.points))
			floats.Scale(n, s.mean)
			floats.Add(s.mean, embedding)
			floats.Scale(1/(n+1), s.mean)
			s.points = append(s.points, p)
			return idx, true
		}
	}

	if len(c.slots) >= c.params.MaxLanes {
		c.capacityDiscards++
		return 0, false
	}
	mean := make([]float64, c.dim)
	copy(mean, embedding)
	c.slots = append(c.slots, laneSlot{points: []lane.Point{p}, mean: mean})
	return len(c.slots) - 1, true
}

// Len returns the number of open lanes.
func (c *EmbeddingClusterer) Len() int { return len(c.slots) }

// CapacityDiscards returns how many cells were dropped because the arena
// was full.
func (c *EmbeddingClusterer) CapacityDiscards() int { return c.capacityDiscards }

// Mean returns a copy of lane idx's running-mean embedding.
func (c *EmbeddingClusterer) Mean(idx int) []float64 {
	out := make([]float64, c.dim)
	copy(out, c.slots[idx].mean)
	return out
}

// Lanes returns deep copies of the lanes in creation order. Lane IDs are
// the creation indices.
func (c *EmbeddingClusterer) Lanes() []lane.Lane {
	if len(c.slots) == 0 {
		return nil
	}
	out := make([]lane.Lane, len(c.slots))
	for idx, s := range c.slots {
		l := lane.Lane{
			ID:        idx,
			Points:    make([]lane.Point, len(s.points)),
			Embedding: make([]float64, len(s.mean)),
		}
		copy(l.Points, s.points)
		copy(l.Embedding, s.mean)
		out[idx] = l
	}
	return out
}

// Reset empties the arena so the clusterer can be reused for another
// inference with the same parameters.
func (c *EmbeddingClusterer) Reset() {
	c.slots = c.slots[:0]
	c.capacityDiscards = 0
}

// Verify at compile time that *EmbeddingClusterer implements Clusterer.
var _ Clusterer = (*EmbeddingClusterer)(nil)
