// Package l1frames owns Layer 1 (Frames) of the lane decoder.
//
// Responsibilities: the OutputGrid container for a single network output
// tensor, the Frame holding every named output of one inference, shape
// validation across the confidence/offset/embedding triple, and the .lgd
// dump codec used to hand frames between processes.
// Key types: Shape, OutputGrid, Outputs, Frame.
//
// Dependency rule: L1 depends on nothing above it.
package l1frames
