// Package l2grid owns Layer 2 (Grid) of the lane decoder.
//
// Responsibilities: thresholding the confidence grid into an
// ActivationMask and reconstructing an image-space point for every
// active cell from its grid index, predicted sub-cell offset and the
// resize ratio. Cells whose reconstruction is non-finite or falls outside
// the valid extent are dropped here, before clustering.
// Key types: ActivationMask, Reconstructor, Candidate.
package l2grid
