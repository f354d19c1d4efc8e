// Package pipeline wires the lane decoder layers into a single decode
// call and a bounded worker pool for batches of frames.
//
// Data flow for one inference:
//
//	l1frames.Outputs -> l2grid.ActivationMask -> l2grid.Reconstructor
//	  -> l3cluster.EmbeddingClusterer -> l4refine.Refiner -> lane.LaneSet
//
// The pipeline does not own domain logic; it delegates to the layer
// packages and records lane.Stats for every frame. Decoding holds no
// shared mutable state, so one Decoder may serve many goroutines.
package pipeline
