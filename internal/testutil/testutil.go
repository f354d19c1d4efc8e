// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability. It deliberately
// imports no lane packages so every layer's in-package tests can use it.
package testutil

import (
	"math"
	"testing"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// GridFixture builds the three raw output buffers of one inference.
// Buffers are row-major: element (c, i, j) is at c*H*W + i*W + j.
type GridFixture struct {
	H, W, E    int
	Confidence []float32 // 1*H*W
	Offset     []float32 // 2*H*W
	Embedding  []float32 // E*H*W
}

// NewGridFixture returns an all-zero fixture.
func NewGridFixture(h, w, e int) *GridFixture {
	return &GridFixture{
		H:          h,
		W:          w,
		E:          e,
		Confidence: make([]float32, h*w),
		Offset:     make([]float32, 2*h*w),
		Embedding:  make([]float32, e*h*w),
	}
}

// Set writes confidence, offset and embedding for cell (i, j). Missing
// embedding components stay zero.
func (f *GridFixture) Set(i, j int, conf, dx, dy float32, emb ...float32) *GridFixture {
	plane := f.H * f.W
	cell := i*f.W + j
	f.Confidence[cell] = conf
	f.Offset[cell] = dx
	f.Offset[plane+cell] = dy
	for c := 0; c < f.E && c < len(emb); c++ {
		f.Embedding[c*plane+cell] = emb[c]
	}
	return f
}

// Activate marks (i, j) with confidence 1.
func (f *GridFixture) Activate(i, j int, dx, dy float32, emb ...float32) *GridFixture {
	return f.Set(i, j, 1, dx, dy, emb...)
}

// FillConfidence sets every cell's confidence to v.
func (f *GridFixture) FillConfidence(v float32) *GridFixture {
	for k := range f.Confidence {
		f.Confidence[k] = v
	}
	return f
}

// NaN is a float32 NaN for poisoning fixture cells.
var NaN = float32(math.NaN())

// Inf is float32 +Inf.
var Inf = float32(math.Inf(1))

// OrthogonalEmbedding returns a dim-length vector with scale at index k
// modulo dim and, for k >= dim, a second non-zero component so that
// every k yields a distinct vector at least scale apart from the others.
func OrthogonalEmbedding(k, dim int, scale float32) []float32 {
	v := make([]float32, dim)
	v[k%dim] = scale
	if round := k / dim; round > 0 {
		v[(k+1)%dim] = scale * float32(round+1)
	}
	return v
}
