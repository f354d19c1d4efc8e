// Package l3cluster owns Layer 3 (Clustering) of the lane decoder.
//
// Responsibilities: online, single-pass, greedy assignment of
// reconstructed points to lanes by comparing each cell's instance
// embedding with the running-mean embedding of recently created lanes.
// Lanes live in a bounded arena of at most MaxLanes slots; cells that
// match no lane once the arena is full are discarded and counted.
// Key types: Params, EmbeddingClusterer.
//
// The algorithm is order-sensitive. Callers must feed cells in row-major
// grid order for results to be reproducible.
package l3cluster
