package lane

import (
	"encoding/json"
	"fmt"
	"strings"
)

// LaneSet is the final, read-only decode result. The zero value is an
// empty set.
type LaneSet struct {
	lanes []Lane
}

// NewLaneSet builds a LaneSet from deep copies of lanes.
func NewLaneSet(lanes []Lane) LaneSet {
	if len(lanes) == 0 {
		return LaneSet{}
	}
	out := make([]Lane, len(lanes))
	for i, l := range lanes {
		out[i] = l.Clone()
	}
	return LaneSet{lanes: out}
}

// Len returns the number of lanes.
func (s LaneSet) Len() int { return len(s.lanes) }

// Empty reports whether the set holds no lanes.
func (s LaneSet) Empty() bool { return len(s.lanes) == 0 }

// Lane returns a copy of lane i.
func (s LaneSet) Lane(i int) Lane { return s.lanes[i].Clone() }

// Lanes returns copies of all lanes.
func (s LaneSet) Lanes() []Lane {
	if len(s.lanes) == 0 {
		return nil
	}
	out := make([]Lane, len(s.lanes))
	for i, l := range s.lanes {
		out[i] = l.Clone()
	}
	return out
}

// TotalPoints returns the number of points across all lanes.
func (s LaneSet) TotalPoints() int {
	n := 0
	for _, l := range s.lanes {
		n += len(l.Points)
	}
	return n
}

// XY splits every lane into parallel x and y coordinate slices.
func (s LaneSet) XY() (xs, ys [][]int) {
	xs = make([][]int, len(s.lanes))
	ys = make([][]int, len(s.lanes))
	for i, l := range s.lanes {
		xs[i] = make([]int, len(l.Points))
		ys[i] = make([]int, len(l.Points))
		for k, p := range l.Points {
			xs[i][k] = p.X
			ys[i][k] = p.Y
		}
	}
	return xs, ys
}

type laneSetJSON struct {
	Lanes []Lane `json:"lanes"`
}

// MarshalJSON encodes the set as {"lanes":[...]}. An empty set encodes
// its lanes as [] rather than null.
func (s LaneSet) MarshalJSON() ([]byte, error) {
	lanes := s.lanes
	if lanes == nil {
		lanes = []Lane{}
	}
	return json.Marshal(laneSetJSON{Lanes: lanes})
}

// UnmarshalJSON decodes a set produced by MarshalJSON.
func (s *LaneSet) UnmarshalJSON(data []byte) error {
	var v laneSetJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("decode lane set: %w", err)
	}
	*s = NewLaneSet(v.Lanes)
	return nil
}

// String renders one line per lane with its x and y coordinate lists.
func (s LaneSet) String() string {
	if len(s.lanes) == 0 {
		return "no lanes"
	}
	xs, ys := s.XY()
	var b strings.Builder
	for i, l := range s.lanes {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "lane %d (%d points): x=%v y=%v", l.ID, len(l.Points), xs[i], ys[i])
	}
	return b.String()
}
