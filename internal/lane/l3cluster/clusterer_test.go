package l3cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huyhung411991/PINetTensorRT/internal/config"
	"github.com/huyhung411991/PINetTensorRT/internal/lane"
	"github.com/huyhung411991/PINetTensorRT/internal/testutil"
)

func f64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func TestDefaultParams(t *testing.T) {
	p := DefaultParams()
	assert.Equal(t, 0.22, p.ThresholdInstance)
	assert.Equal(t, config.DistanceEuclidean, p.Metric)
	assert.Equal(t, 12, p.MaxLanes)
	assert.Equal(t, 12, p.LookbackWindow)
	require.NoError(t, p.Validate())
}

func TestParams_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Params)
	}{
		{"zero threshold", func(p *Params) { p.ThresholdInstance = 0 }},
		{"unknown metric", func(p *Params) { p.Metric = "manhattan" }},
		{"zero lanes", func(p *Params) { p.MaxLanes = 0 }},
		{"zero window", func(p *Params) { p.LookbackWindow = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestAdd_FirstCellOpensLaneZero(t *testing.T) {
	c := NewEmbeddingClusterer(DefaultParams(), 4)

	idx, ok := c.Add(lane.Point{X: 82, Y: 43}, []float64{1, 2, 3, 4})

	require.True(t, ok)
	assert.Equal(t, 0, idx)
	lanes := c.Lanes()
	require.Len(t, lanes, 1)
	assert.Equal(t, []lane.Point{{X: 82, Y: 43}}, lanes[0].Points)
	assert.Equal(t, []float64{1, 2, 3, 4}, lanes[0].Embedding)
}

func TestAdd_CloseEmbeddingsMerge(t *testing.T) {
	c := NewEmbeddingClusterer(DefaultParams(), 4)
	c.Add(lane.Point{X: 10, Y: 10}, []float64{1, 0, 0, 0})
	idx, ok := c.Add(lane.Point{X: 12, Y: 18}, []float64{1.05, 0, 0, 0})

	require.True(t, ok)
	assert.Equal(t, 0, idx)
	require.Equal(t, 1, c.Len())
	mean := c.Mean(0)
	assert.InDelta(t, 1.025, mean[0], 1e-12)
	assert.InDelta(t, 0, mean[1], 1e-12)
}

func TestAdd_DistantEmbeddingsSplit(t *testing.T) {
	c := NewEmbeddingClusterer(DefaultParams(), 4)
	c.Add(lane.Point{X: 10, Y: 10}, []float64{1, 0, 0, 0})
	idx, ok := c.Add(lane.Point{X: 90, Y: 10}, []float64{2, 0, 0, 0})

	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, c.Len())
}

func TestAdd_FullArenaDiscardsUnmatched(t *testing.T) {
	c := NewEmbeddingClusterer(DefaultParams(), 4)
	for k := 0; k < 13; k++ {
		_, ok := c.Add(lane.Point{X: k, Y: 0}, f64(testutil.OrthogonalEmbedding(k, 4, 1)))
		if k < 12 {
			require.True(t, ok, "cell %d should open a lane", k)
		} else {
			require.False(t, ok, "13th cell must be discarded")
		}
	}

	assert.Equal(t, 12, c.Len())
	assert.Equal(t, 1, c.CapacityDiscards())
	for _, l := range c.Lanes() {
		for _, p := range l.Points {
			assert.NotEqual(t, 12, p.X, "13th point must not appear in any lane")
		}
	}
}

func TestAdd_FullArenaStillAcceptsMatches(t *testing.T) {
	p := DefaultParams()
	p.MaxLanes = 2
	c := NewEmbeddingClusterer(p, 2)
	c.Add(lane.Point{X: 0, Y: 0}, []float64{0, 0})
	c.Add(lane.Point{X: 1, Y: 0}, []float64{5, 5})

	idx, ok := c.Add(lane.Point{X: 2, Y: 1}, []float64{5.1, 5})
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = c.Add(lane.Point{X: 3, Y: 1}, []float64{-5, -5})
	assert.False(t, ok)
	assert.Equal(t, 1, c.CapacityDiscards())
}

func TestAdd_FirstMatchWinsOverNearest(t *testing.T) {
	c := NewEmbeddingClusterer(DefaultParams(), 1)
	c.Add(lane.Point{X: 0, Y: 0}, []float64{0})
	c.Add(lane.Point{X: 1, Y: 0}, []float64{0.3})

	// 0.2 is within 0.22 of lane 0 and within 0.1 of lane 1; lane 0 is
	// scanned first and wins.
	idx, ok := c.Add(lane.Point{X: 2, Y: 0}, []float64{0.2})
	require.True(t, ok)
	assert.Equal(t, 0, idx)
}

func TestAdd_LookbackWindowSkipsOldLanes(t *testing.T) {
	p := DefaultParams()
	p.MaxLanes = 5
	p.LookbackWindow = 2
	c := NewEmbeddingClusterer(p, 3)
	c.Add(lane.Point{X: 0}, []float64{1, 0, 0})
	c.Add(lane.Point{X: 1}, []float64{0, 1, 0})
	c.Add(lane.Point{X: 2}, []float64{0, 0, 1})

	// Matches lane 0, but only lanes 1 and 2 are in the window.
	idx, ok := c.Add(lane.Point{X: 3}, []float64{1, 0, 0})
	require.True(t, ok)
	assert.Equal(t, 3, idx)

	// Lane 2 is still in the window.
	idx, ok = c.Add(lane.Point{X: 4}, []float64{0, 0, 1})
	require.True(t, ok)
	assert.Equal(t, 2, idx)
}

func TestAdd_SquaredMetric(t *testing.T) {
	// Distance 0.3: euclidean rejects (0.3 > 0.22), squared accepts
	// (0.09 <= 0.22).
	eu := NewEmbeddingClusterer(DefaultParams(), 2)
	eu.Add(lane.Point{}, []float64{0, 0})
	eu.Add(lane.Point{}, []float64{0.3, 0})
	assert.Equal(t, 2, eu.Len())

	p := DefaultParams()
	p.Metric = config.DistanceSquared
	sq := NewEmbeddingClusterer(p, 2)
	sq.Add(lane.Point{}, []float64{0, 0})
	sq.Add(lane.Point{}, []float64{0.3, 0})
	assert.Equal(t, 1, sq.Len())
}

func TestAdd_ThresholdIsInclusive(t *testing.T) {
	p := DefaultParams()
	p.ThresholdInstance = 0.5
	c := NewEmbeddingClusterer(p, 1)
	c.Add(lane.Point{}, []float64{0})
	_, ok := c.Add(lane.Point{}, []float64{0.5})
	require.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestRunningMeanInvariant(t *testing.T) {
	p := DefaultParams()
	p.ThresholdInstance = 10 // everything joins lane 0
	c := NewEmbeddingClusterer(p, 4)
	rng := rand.New(rand.NewSource(7))

	sum := make([]float64, 4)
	const n = 200
	for k := 0; k < n; k++ {
		e := []float64{rng.Float64(), rng.Float64(), rng.Float64(), rng.Float64()}
		for d := range sum {
			sum[d] += e[d]
		}
		_, ok := c.Add(lane.Point{X: k, Y: k}, e)
		require.True(t, ok)
	}

	require.Equal(t, 1, c.Len())
	mean := c.Mean(0)
	for d := range sum {
		assert.InDelta(t, sum[d]/n, mean[d], 1e-9)
	}
	assert.Len(t, c.Lanes()[0].Points, n)
}

func TestAdd_CopiesEmbedding(t *testing.T) {
	c := NewEmbeddingClusterer(DefaultParams(), 2)
	e := []float64{1, 1}
	c.Add(lane.Point{}, e)
	e[0] = 100
	assert.Equal(t, []float64{1, 1}, c.Mean(0))
}

func TestDeterminism(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	type cell struct {
		p lane.Point
		e []float64
	}
	cells := make([]cell, 500)
	for k := range cells {
		cells[k] = cell{
			p: lane.Point{X: rng.Intn(512), Y: rng.Intn(256)},
			e: []float64{float64(rng.Intn(6)) + rng.Float64()*0.1, rng.Float64() * 0.1},
		}
	}

	run := func() []lane.Lane {
		c := NewEmbeddingClusterer(DefaultParams(), 2)
		for _, cl := range cells {
			c.Add(cl.p, cl.e)
		}
		return c.Lanes()
	}
	assert.Equal(t, run(), run())
}

func TestReset(t *testing.T) {
	p := DefaultParams()
	p.MaxLanes = 1
	c := NewEmbeddingClusterer(p, 1)
	c.Add(lane.Point{}, []float64{0})
	c.Add(lane.Point{}, []float64{9})
	require.Equal(t, 1, c.CapacityDiscards())

	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.CapacityDiscards())
	assert.Nil(t, c.Lanes())

	idx, ok := c.Add(lane.Point{X: 1}, []float64{9})
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, []float64{9}, c.Mean(0))
}
