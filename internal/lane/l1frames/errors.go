package l1frames

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is the sentinel wrapped by every ShapeError. An
// inference whose outputs fail validation must be rejected as a whole.
var ErrShapeMismatch = errors.New("input shape mismatch")

// ErrMissingOutput is returned when a frame does not hold enough grids
// for the requested output triple.
var ErrMissingOutput = errors.New("missing output grid")

// ShapeError describes why a grid, or a set of grids, was rejected.
type ShapeError struct {
	Grid   string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Grid == "" {
		return fmt.Sprintf("%s: %s", ErrShapeMismatch, e.Reason)
	}
	return fmt.Sprintf("%s: %s grid: %s", ErrShapeMismatch, e.Grid, e.Reason)
}

// Unwrap exposes ErrShapeMismatch to errors.Is.
func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }

func shapeErrorf(grid, format string, args ...any) *ShapeError {
	return &ShapeError{Grid: grid, Reason: fmt.Sprintf(format, args...)}
}
