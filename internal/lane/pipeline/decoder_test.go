package pipeline

import (
	"bytes"
	"errors"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huyhung411991/PINetTensorRT/internal/config"
	"github.com/huyhung411991/PINetTensorRT/internal/lane"
	"github.com/huyhung411991/PINetTensorRT/internal/lane/l1frames"
	"github.com/huyhung411991/PINetTensorRT/internal/testutil"
	"github.com/huyhung411991/PINetTensorRT/internal/timeutil"
)

func outputsFrom(t *testing.T, f *testutil.GridFixture) l1frames.Outputs {
	t.Helper()
	conf, err := l1frames.NewOutputGrid("confidence", 1, f.H, f.W, f.Confidence)
	require.NoError(t, err)
	off, err := l1frames.NewOutputGrid("offset", 2, f.H, f.W, f.Offset)
	require.NoError(t, err)
	emb, err := l1frames.NewOutputGrid("instance", f.E, f.H, f.W, f.Embedding)
	require.NoError(t, err)
	return l1frames.Outputs{Confidence: conf, Offset: off, Embedding: emb}
}

func frameFrom(t *testing.T, name string, f *testutil.GridFixture) *l1frames.Frame {
	t.Helper()
	o := outputsFrom(t, f)
	return &l1frames.Frame{Name: name, Grids: []*l1frames.OutputGrid{o.Confidence, o.Offset, o.Embedding}}
}

func newDecoder(t *testing.T, mutate func(*Config), opts ...Option) *Decoder {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDecoder(cfg, opts...)
	require.NoError(t, err)
	return d
}

// imageBounds validates points against the network input extent
// (grid * resize ratio) instead of the grid extent.
func imageBounds(c *Config) {
	c.Grid.BoundsWidth = 512
	c.Grid.BoundsHeight = 256
}

// threeLanes builds a 32x64 fixture with three vertical lanes of 20 cells
// at columns 8, 24 and 40, each with its own embedding.
func threeLanes() *testutil.GridFixture {
	f := testutil.NewGridFixture(32, 64, 4)
	for i := 4; i < 24; i++ {
		f.Activate(i, 8, 0.25, 0.5, 1, 0, 0, 0)
		f.Activate(i, 24, 0.5, 0.5, 0, 1, 0, 0)
		f.Activate(i, 40, 0.75, 0.5, 0, 0, 1, 0)
	}
	return f
}

func TestNewDecoder_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Cluster.MaxLanes = 0
	_, err := NewDecoder(cfg)
	assert.Error(t, err)
}

func TestConfigFromTuning_LoadedConfigBuildsDecoder(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(body), 0644))
		return p
	}

	_, err := config.LoadTuningConfig(write("zero.json", `{"min_lane_points": 0}`))
	require.Error(t, err, "a config the decoder rejects must not load")

	for _, body := range []string{
		`{"min_lane_points": 1}`,
		`{"distance_metric": ""}`,
		`{"output_base_index": -1, "outlier_tolerance": 0}`,
	} {
		cfg, err := config.LoadTuningConfig(write("tuning.json", body))
		require.NoError(t, err, body)
		_, err = NewDecoder(ConfigFromTuning(cfg))
		assert.NoError(t, err, body)
	}

	cfg, err := config.LoadTuningConfig(filepath.Join("..", "..", "..", "config", "tuning.example.yaml"))
	require.NoError(t, err)
	_, err = NewDecoder(ConfigFromTuning(cfg))
	assert.NoError(t, err)
}

func TestDecode_NoActivation(t *testing.T) {
	f := testutil.NewGridFixture(16, 32, 4).FillConfidence(0.8)
	d := newDecoder(t, nil)

	ls, stats, err := d.Decode(outputsFrom(t, f))
	require.NoError(t, err)
	assert.True(t, ls.Empty())
	assert.Equal(t, 0, stats.ActiveCells)
	assert.Equal(t, 16, stats.GridHeight)
	assert.Equal(t, 32, stats.GridWidth)
}

func TestDecode_SingleCell(t *testing.T) {
	f := testutil.NewGridFixture(64, 128, 4).Activate(5, 10, 0.3, 0.4, 1, 1, 1, 1)

	d := newDecoder(t, func(c *Config) { c.Refine.MinLanePoints = 1 })
	ls, stats, err := d.Decode(outputsFrom(t, f))
	require.NoError(t, err)
	require.Equal(t, 1, ls.Len())
	assert.Equal(t, []lane.Point{{X: 82, Y: 43}}, ls.Lane(0).Points)
	assert.Equal(t, 1, stats.ClusteredCells)

	// Default minimum drops it.
	ls, stats, err = newDecoder(t, nil).Decode(outputsFrom(t, f))
	require.NoError(t, err)
	assert.True(t, ls.Empty())
	assert.Equal(t, 1, stats.LanesFormed)
	assert.Equal(t, 1, stats.LanesDropped)
}

func TestDecode_EmbeddingSimilarity(t *testing.T) {
	d := newDecoder(t, func(c *Config) { c.Refine.MinLanePoints = 1 })

	near := testutil.NewGridFixture(32, 32, 4).
		Activate(1, 1, 0, 0, 1, 0, 0, 0).
		Activate(2, 1, 0, 0, 1.05, 0, 0, 0)
	ls, _, err := d.Decode(outputsFrom(t, near))
	require.NoError(t, err)
	require.Equal(t, 1, ls.Len())
	assert.InDelta(t, 1.025, ls.Lane(0).Embedding[0], 1e-6)
	assert.Len(t, ls.Lane(0).Points, 2)

	far := testutil.NewGridFixture(32, 32, 4).
		Activate(1, 1, 0, 0, 1, 0, 0, 0).
		Activate(2, 1, 0, 0, 2, 0, 0, 0)
	ls, _, err = d.Decode(outputsFrom(t, far))
	require.NoError(t, err)
	assert.Equal(t, 2, ls.Len())
}

func TestDecode_LaneCapacity(t *testing.T) {
	f := testutil.NewGridFixture(4, 128, 4)
	for k := 0; k < 13; k++ {
		f.Activate(0, k, 0, 0, testutil.OrthogonalEmbedding(k, 4, 1)...)
	}
	d := newDecoder(t, func(c *Config) { c.Refine.MinLanePoints = 1 })

	ls, stats, err := d.Decode(outputsFrom(t, f))
	require.NoError(t, err)
	assert.Equal(t, 12, ls.Len())
	assert.Equal(t, 1, stats.CapacityDiscards)
	for _, l := range ls.Lanes() {
		for _, p := range l.Points {
			assert.NotEqual(t, 12*8, p.X, "13th cell leaked into lane %d", l.ID)
		}
	}
}

func TestDecode_ThreeLanes(t *testing.T) {
	d := newDecoder(t, imageBounds)
	ls, stats, err := d.Decode(outputsFrom(t, threeLanes()))
	require.NoError(t, err)

	require.Equal(t, 3, ls.Len())
	assert.Equal(t, 60, stats.ActiveCells)
	assert.Equal(t, 60, ls.TotalPoints())
	for k, wantX := range []int{66, 196, 326} {
		l := ls.Lane(k)
		assert.Equal(t, k, l.ID)
		assert.True(t, l.SortedByY())
		require.Len(t, l.Points, 20)
		assert.Equal(t, lane.Point{X: wantX, Y: 36}, l.Points[0])
		assert.Equal(t, lane.Point{X: wantX, Y: 188}, l.Points[19])
	}
}

func TestDecode_Conservation(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	f := testutil.NewGridFixture(24, 48, 4)
	for i := 0; i < f.H; i++ {
		for j := 0; j < f.W; j++ {
			if rng.Float64() < 0.4 {
				f.Set(i, j, 0.9, float32(rng.Float64()*4-2), float32(rng.Float64()*4-2),
					float32(rng.Intn(20)), float32(rng.Intn(3)), 0, 0)
			}
		}
	}
	f.Activate(0, 0, testutil.NaN, 0, 0, 0, 0, 0)
	f.Activate(0, 1, 0, 0, testutil.Inf, 0, 0, 0)

	d := newDecoder(t, func(c *Config) {
		c.Grid.BoundsWidth = f.W * 8
		c.Grid.BoundsHeight = f.H * 8
		c.Cluster.MaxLanes = 6
	})
	ls, stats, err := d.Decode(outputsFrom(t, f))
	require.NoError(t, err)

	assert.Equal(t, stats.ActiveCells, stats.Discarded()+stats.ClusteredCells)
	assert.Positive(t, stats.NonFinite)
	assert.Positive(t, stats.OutOfBounds)
	assert.Positive(t, stats.CapacityDiscards)
	assert.LessOrEqual(t, ls.Len(), 6)
	for _, l := range ls.Lanes() {
		assert.True(t, l.SortedByY())
		assert.GreaterOrEqual(t, l.Len(), 3)
	}
}

func TestDecode_Deterministic(t *testing.T) {
	d := newDecoder(t, imageBounds)
	o := outputsFrom(t, threeLanes())
	a, _, err := d.Decode(o)
	require.NoError(t, err)
	b, _, err := d.Decode(o)
	require.NoError(t, err)
	if diff := cmp.Diff(a.Lanes(), b.Lanes()); diff != "" {
		t.Errorf("decode not deterministic (-a +b):\n%s", diff)
	}
}

func TestDecode_ShapeMismatch(t *testing.T) {
	o := outputsFrom(t, testutil.NewGridFixture(8, 16, 4))
	bad, err := l1frames.NewOutputGrid("offset", 2, 8, 15, make([]float32, 2*8*15))
	require.NoError(t, err)
	o.Offset = bad

	_, _, err = newDecoder(t, nil).Decode(o)
	require.Error(t, err)
	assert.True(t, errors.Is(err, l1frames.ErrShapeMismatch))
	var se *l1frames.ShapeError
	assert.True(t, errors.As(err, &se))
}

func TestDecodeFrame_SelectsLastStack(t *testing.T) {
	first := outputsFrom(t, testutil.NewGridFixture(32, 64, 4))
	last := outputsFrom(t, threeLanes())
	f := &l1frames.Frame{Name: "two-stacks", Grids: []*l1frames.OutputGrid{
		first.Confidence, first.Offset, first.Embedding,
		last.Confidence, last.Offset, last.Embedding,
	}}

	ls, _, err := newDecoder(t, imageBounds).DecodeFrame(f)
	require.NoError(t, err)
	assert.Equal(t, 3, ls.Len())

	ls, _, err = newDecoder(t, func(c *Config) {
		imageBounds(c)
		c.OutputBaseIndex = 0
	}).DecodeFrame(f)
	require.NoError(t, err)
	assert.True(t, ls.Empty())
}

func TestDecodeFrame_MissingOutputs(t *testing.T) {
	f := &l1frames.Frame{Name: "short"}
	_, _, err := newDecoder(t, nil).DecodeFrame(f)
	assert.ErrorIs(t, err, l1frames.ErrMissingOutput)
}

type recordingObserver struct {
	mu    sync.Mutex
	stats []lane.Stats
	errs  []error
}

func (r *recordingObserver) ObserveDecode(s lane.Stats, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats = append(r.stats, s)
	r.errs = append(r.errs, err)
}

func TestDecode_NotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	d := newDecoder(t, nil, WithObserver(obs))

	_, _, err := d.Decode(outputsFrom(t, threeLanes()))
	require.NoError(t, err)
	_, _, err = d.DecodeFrame(&l1frames.Frame{Name: "empty"})
	require.Error(t, err)

	require.Len(t, obs.stats, 2)
	assert.Equal(t, 60, obs.stats[0].ActiveCells)
	assert.NoError(t, obs.errs[0])
	assert.Error(t, obs.errs[1])
}

func TestDecode_LogStreams(t *testing.T) {
	var ops, diag, trace bytes.Buffer
	SetLogWriters(&ops, &diag, &trace)
	t.Cleanup(func() { SetLogWriters(nil, nil, nil) })

	f := testutil.NewGridFixture(2, 4, 4).Activate(0, 0, 0, 0, 1, 0, 0, 0)
	_, _, err := newDecoder(t, func(c *Config) { c.Refine.MinLanePoints = 1 }).Decode(outputsFrom(t, f))
	require.NoError(t, err)

	assert.Empty(t, ops.String())
	assert.Contains(t, diag.String(), "decoded 1 lanes from 1 active cells")
	assert.True(t, strings.Contains(trace.String(), "1000\n0000"), "mask not traced: %q", trace.String())
}

func TestDecode_DurationFromClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	clock.SetStep(250 * time.Microsecond)
	d := newDecoder(t, imageBounds, WithClock(clock))

	_, stats, err := d.Decode(outputsFrom(t, threeLanes()))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Microsecond, stats.DecodeDuration)
}
