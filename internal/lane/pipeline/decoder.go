package pipeline

import (
	"fmt"

	"github.com/huyhung411991/PINetTensorRT/internal/config"
	"github.com/huyhung411991/PINetTensorRT/internal/lane"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/l1frames"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/l2grid"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/l3cluster"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/l4refine"
	"github.com/huyhung411991/PINetTensorRT/internal/timeutil"
)

// Config groups the per-layer parameters of one Decoder.
type Config struct {
	Grid    l2grid.Params
	Cluster l3cluster.Params
	Refine  l4refine.Params
	// OutputBaseIndex selects which output triple of a Frame is decoded.
	// Negative selects the last three grids.
	OutputBaseIndex int
}

// DefaultConfig returns production defaults for every layer.
func DefaultConfig() Config {
	return ConfigFromTuning(config.EmptyTuningConfig())
}

// ConfigFromTuning builds a Config from a loaded TuningConfig.
func ConfigFromTuning(cfg *config.TuningConfig) Config {
	return Config{
		Grid:            l2grid.ParamsFromTuning(cfg),
		Cluster:         l3cluster.ParamsFromTuning(cfg),
		Refine:          l4refine.ParamsFromTuning(cfg),
		OutputBaseIndex: cfg.GetOutputBaseIndex(),
	}
}

// Validate checks every layer's parameters.
func (c Config) Validate() error {
	if err := c.Grid.Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	if err := c.Cluster.Validate(); err != nil {
		return fmt.Errorf("cluster: %w", err)
	}
	if err := c.Refine.Validate(); err != nil {
		return fmt.Errorf("refine: %w", err)
	}
	return nil
}

// Observer receives the outcome of every decode. err is non-nil when the
// frame was rejected. Implementations must be safe for concurrent use.
type Observer interface {
	ObserveDecode(stats lane.Stats, err error)
}

// Decoder turns network outputs into lanes. It is immutable after
// construction and safe for concurrent use.
type Decoder struct {
	cfg      Config
	refiner  *l4refine.Refiner
	observer Observer
	clock    timeutil.Clock
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithObserver attaches an Observer, typically monitoring.Metrics.
func WithObserver(o Observer) Option {
	return func(d *Decoder) { d.observer = o }
}

// WithClock replaces the clock used to time decodes.
func WithClock(c timeutil.Clock) Option {
	return func(d *Decoder) { d.clock = c }
}

// NewDecoder validates cfg and returns a Decoder.
func NewDecoder(cfg Config, opts ...Option) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decoder config: %w", err)
	}
	d := &Decoder{
		cfg:     cfg,
		refiner: l4refine.NewRefiner(cfg.Refine),
		clock:   timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Config returns the decoder's configuration.
func (d *Decoder) Config() Config { return d.cfg }

// DecodeFrame selects the configured output triple of f and decodes it.
func (d *Decoder) DecodeFrame(f *l1frames.Frame) (lane.LaneSet, lane.Stats, error) {
	outs, err := f.Select(d.cfg.OutputBaseIndex)
	if err != nil {
		opsf("frame %q rejected: %v", f.Name, err)
		d.observe(lane.Stats{}, err)
		return lane.LaneSet{}, lane.Stats{}, err
	}
	ls, stats, err := d.Decode(outs)
	if err != nil {
		return ls, stats, fmt.Errorf("frame %q: %w", f.Name, err)
	}
	return ls, stats, nil
}

// Decode runs the full pipeline on one inference. Shape errors are fatal
// for the frame and wrap l1frames.ErrShapeMismatch. A frame with no
// active cell yields an empty LaneSet and a nil error.
func (d *Decoder) Decode(outs l1frames.Outputs) (lane.LaneSet, lane.Stats, error) {
	start := d.clock.Now()
	if err := outs.Validate(); err != nil {
		opsf("outputs rejected: %v", err)
		d.observe(lane.Stats{}, err)
		return lane.LaneSet{}, lane.Stats{}, err
	}

	stats := lane.Stats{GridHeight: outs.Height(), GridWidth: outs.Width()}

	mask := l2grid.NewActivationMask(outs.Confidence, d.cfg.Grid.ThresholdPoint)
	stats.ActiveCells = mask.Count()
	if traceEnabled() {
		tracef("activation mask %dx%d, %d active:\n%s", mask.Height(), mask.Width(), mask.Count(), mask)
	}
	if mask.Empty() {
		stats.DecodeDuration = d.clock.Since(start)
		diagf("no active cells in %dx%d grid", stats.GridHeight, stats.GridWidth)
		d.observe(stats, nil)
		return lane.LaneSet{}, stats, nil
	}

	recon := l2grid.NewReconstructor(outs, mask, d.cfg.Grid)
	clusterer := l3cluster.NewEmbeddingClusterer(d.cfg.Cluster, outs.EmbeddingDim())
	for {
		cand, ok := recon.Next()
		if !ok {
			break
		}
		if _, ok := clusterer.Add(cand.Point, cand.Embedding); ok {
			stats.ClusteredCells++
		}
	}
	stats.OutOfBounds = recon.OutOfBounds()
	stats.NonFinite = recon.NonFinite()
	stats.CapacityDiscards = clusterer.CapacityDiscards()
	stats.LanesFormed = clusterer.Len()

	res := d.refiner.Refine(clusterer.Lanes())
	stats.LanesDropped = res.LanesDropped
	stats.OutliersRemoved = res.OutliersRemoved

	ls := lane.NewLaneSet(res.Lanes)
	stats.DecodeDuration = d.clock.Since(start)

	if stats.CapacityDiscards > 0 {
		opsf("lane capacity %d reached: %d cells discarded", d.cfg.Cluster.MaxLanes, stats.CapacityDiscards)
	}
	diagf("decoded %d lanes from %d active cells (formed=%d dropped=%d oob=%d nonfinite=%d capacity=%d) in %v",
		ls.Len(), stats.ActiveCells, stats.LanesFormed, stats.LanesDropped,
		stats.OutOfBounds, stats.NonFinite, stats.CapacityDiscards, stats.DecodeDuration)
	if traceEnabled() {
		tracef("%s", ls)
	}

	d.observe(stats, nil)
	return ls, stats, nil
}

func (d *Decoder) observe(stats lane.Stats, err error) {
	if d.observer != nil {
		d.observer.ObserveDecode(stats, err)
	}
}
