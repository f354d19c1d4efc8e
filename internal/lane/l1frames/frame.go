package l1frames

import "fmt"

// Frame holds every output grid the inference engine produced for one
// input image, in engine order. PINet emits two stacks of
// (confidence, offset, embedding); the decoder usually reads the last.
type Frame struct {
	Name  string
	Grids []*OutputGrid
}

// Select returns the output triple starting at base. A negative base
// selects the last three grids.
func (f *Frame) Select(base int) (Outputs, error) {
	if base < 0 {
		base = len(f.Grids) - OutputsPerStack
	}
	if base < 0 || base+OutputsPerStack > len(f.Grids) {
		return Outputs{}, fmt.Errorf("%w: frame %q has %d grids, need %d from index %d",
			ErrMissingOutput, f.Name, len(f.Grids), OutputsPerStack, base)
	}
	return Outputs{
		Confidence: f.Grids[base],
		Offset:     f.Grids[base+1],
		Embedding:  f.Grids[base+2],
	}, nil
}
