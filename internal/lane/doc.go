// Package lane holds the shared data model of the lane decoder.
//
// Responsibilities: image-space points, decoded lanes, the immutable
// LaneSet handed to callers, and per-frame decode statistics.
// Key types: Point, Lane, LaneSet, Stats.
//
// Dependency rule: the layer packages (l1frames .. l4refine) and the
// pipeline depend on this package, never the other way round.
// No SQL/database code is allowed in this package.
package lane
