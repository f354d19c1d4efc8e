// Package l4refine owns Layer 4 (Refinement) of the lane decoder.
//
// Responsibilities: dropping lanes with too few points, ordering every
// lane's points by ascending image row, and optional local-line outlier
// elimination. The output of Refine is ready for LaneSet assembly.
// Key types: Params, Refiner, Result.
//
// Dependency rule: l4refine may depend on lane and config only.
package l4refine
