package l1frames

// Channel counts of the PINet output heads.
const (
	ConfidenceChannels  = 1
	OffsetChannels      = 2
	MinEmbeddingDims    = 2
	DefaultEmbeddingDim = 4
)

// OutputsPerStack is the number of grids one hourglass stack emits
// (confidence, offset, embedding).
const OutputsPerStack = 3

// Outputs is the confidence/offset/embedding triple decoded for a single
// inference.
type Outputs struct {
	Confidence *OutputGrid
	Offset     *OutputGrid
	Embedding  *OutputGrid
}

// Validate enforces the channel layout of each head and that all three
// grids share H and W. Every failure wraps ErrShapeMismatch.
func (o Outputs) Validate() error {
	named := []struct {
		label string
		grid  *OutputGrid
	}{
		{"confidence", o.Confidence},
		{"offset", o.Offset},
		{"embedding", o.Embedding},
	}
	for _, n := range named {
		if n.grid == nil {
			return shapeErrorf(n.label, "missing")
		}
		if err := n.grid.Validate(); err != nil {
			return err
		}
	}

	if c := o.Confidence.Shape.C; c != ConfidenceChannels {
		return shapeErrorf("confidence", "want %d channel, got %d", ConfidenceChannels, c)
	}
	if c := o.Offset.Shape.C; c != OffsetChannels {
		return shapeErrorf("offset", "want %d channels, got %d", OffsetChannels, c)
	}
	if c := o.Embedding.Shape.C; c < MinEmbeddingDims {
		return shapeErrorf("embedding", "want at least %d channels, got %d", MinEmbeddingDims, c)
	}

	h, w := o.Confidence.Shape.H, o.Confidence.Shape.W
	for _, n := range named[1:] {
		if n.grid.Shape.H != h || n.grid.Shape.W != w {
			return shapeErrorf(n.label, "extent %dx%d differs from confidence %dx%d",
				n.grid.Shape.H, n.grid.Shape.W, h, w)
		}
	}
	return nil
}

// Height returns the shared grid height. Only meaningful after Validate.
func (o Outputs) Height() int { return o.Confidence.Shape.H }

// Width returns the shared grid width. Only meaningful after Validate.
func (o Outputs) Width() int { return o.Confidence.Shape.W }

// EmbeddingDim returns the number of embedding channels.
func (o Outputs) EmbeddingDim() int { return o.Embedding.Shape.C }
