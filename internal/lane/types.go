package lane

import (
	"encoding/json"
	"fmt"
	"time"
)

// Point is a reconstructed image-space coordinate in pixels.
// It encodes to JSON as a two element array [x, y].
type Point struct {
	X int
	Y int
}

// MarshalJSON encodes the point as [x, y].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.X, p.Y})
}

// UnmarshalJSON decodes a point from [x, y].
func (p *Point) UnmarshalJSON(data []byte) error {
	var xy [2]int
	if err := json.Unmarshal(data, &xy); err != nil {
		return fmt.Errorf("decode point: %w", err)
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Lane is one decoded lane marking.
type Lane struct {
	// ID is the creation index assigned by the clusterer. IDs survive
	// filtering, so a LaneSet may have gaps.
	ID int `json:"id"`
	// Points are in image space. After refinement they are ordered by
	// ascending Y.
	Points []Point `json:"points"`
	// Embedding is the running-mean instance embedding at the end of
	// clustering.
	Embedding []float64 `json:"embedding,omitempty"`
}

// Len returns the number of points in the lane.
func (l Lane) Len() int { return len(l.Points) }

// Clone returns a deep copy of the lane.
func (l Lane) Clone() Lane {
	out := Lane{ID: l.ID}
	if l.Points != nil {
		out.Points = make([]Point, len(l.Points))
		copy(out.Points, l.Points)
	}
	if l.Embedding != nil {
		out.Embedding = make([]float64, len(l.Embedding))
		copy(out.Embedding, l.Embedding)
	}
	return out
}

// SortedByY reports whether the points are in non-decreasing Y order.
func (l Lane) SortedByY() bool {
	for k := 1; k < len(l.Points); k++ {
		if l.Points[k-1].Y > l.Points[k].Y {
			return false
		}
	}
	return true
}

// Stats captures per-frame decode counters.
//
// For every frame ActiveCells == OutOfBounds + NonFinite +
// CapacityDiscards + ClusteredCells.
type Stats struct {
	GridHeight       int           `json:"grid_height"`
	GridWidth        int           `json:"grid_width"`
	ActiveCells      int           `json:"active_cells"`
	OutOfBounds      int           `json:"out_of_bounds"`
	NonFinite        int           `json:"non_finite"`
	CapacityDiscards int           `json:"capacity_discards"`
	ClusteredCells   int           `json:"clustered_cells"`
	LanesFormed      int           `json:"lanes_formed"`
	LanesDropped     int           `json:"lanes_dropped"`
	OutliersRemoved  int           `json:"outliers_removed"`
	DecodeDuration   time.Duration `json:"decode_duration_ns"`
}

// Discarded returns the number of active cells that never reached a lane.
func (s Stats) Discarded() int {
	return s.OutOfBounds + s.NonFinite + s.CapacityDiscards
}
