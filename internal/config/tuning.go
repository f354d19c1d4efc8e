package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// Distance metrics accepted by distance_metric.
const (
	// DistanceEuclidean accepts a lane when ||e - mean|| <= threshold_instance.
	DistanceEuclidean = "euclidean"
	// DistanceSquared accepts a lane when ||e - mean||^2 <= threshold_instance.
	DistanceSquared = "squared"
)

// TuningConfig represents the root configuration for decoder tuning
// parameters. Every field is optional; the Get* accessors supply defaults
// for anything the file leaves out.
type TuningConfig struct {
	// Mask and reconstruction
	ThresholdPoint  *float64 `json:"threshold_point,omitempty" yaml:"threshold_point,omitempty"`
	ResizeRatio     *int     `json:"resize_ratio,omitempty" yaml:"resize_ratio,omitempty"`
	BoundsWidth     *int     `json:"bounds_width,omitempty" yaml:"bounds_width,omitempty"`   // 0 = grid width
	BoundsHeight    *int     `json:"bounds_height,omitempty" yaml:"bounds_height,omitempty"` // 0 = grid height
	OutputBaseIndex *int     `json:"output_base_index,omitempty" yaml:"output_base_index,omitempty"`

	// Clustering
	ThresholdInstance *float64 `json:"threshold_instance,omitempty" yaml:"threshold_instance,omitempty"`
	DistanceMetric    *string  `json:"distance_metric,omitempty" yaml:"distance_metric,omitempty"`
	MaxLanes          *int     `json:"max_lanes,omitempty" yaml:"max_lanes,omitempty"`
	LookbackWindow    *int     `json:"lookback_window,omitempty" yaml:"lookback_window,omitempty"`

	// Refinement
	MinLanePoints    *int     `json:"min_lane_points,omitempty" yaml:"min_lane_points,omitempty"`
	OutlierTolerance *float64 `json:"outlier_tolerance,omitempty" yaml:"outlier_tolerance,omitempty"` // pixels, 0 disables
	OutlierNeighbors *int     `json:"outlier_neighbors,omitempty" yaml:"outlier_neighbors,omitempty"`

	// Batch processing
	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"` // 0 = GOMAXPROCS
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated
// from the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	return EmptyTuningConfig().Resolved()
}

// Resolved returns a copy with every nil field replaced by its default, so
// the result records exactly which parameters a decode ran with.
func (c *TuningConfig) Resolved() *TuningConfig {
	return &TuningConfig{
		ThresholdPoint:    ptrFloat64(c.GetThresholdPoint()),
		ResizeRatio:       ptrInt(c.GetResizeRatio()),
		BoundsWidth:       ptrInt(c.GetBoundsWidth()),
		BoundsHeight:      ptrInt(c.GetBoundsHeight()),
		OutputBaseIndex:   ptrInt(c.GetOutputBaseIndex()),
		ThresholdInstance: ptrFloat64(c.GetThresholdInstance()),
		DistanceMetric:    ptrString(c.GetDistanceMetric()),
		MaxLanes:          ptrInt(c.GetMaxLanes()),
		LookbackWindow:    ptrInt(c.GetLookbackWindow()),
		MinLanePoints:     ptrInt(c.GetMinLanePoints()),
		OutlierTolerance:  ptrFloat64(c.GetOutlierTolerance()),
		OutlierNeighbors:  ptrInt(c.GetOutlierNeighbors()),
		Workers:           ptrInt(c.GetWorkersSetting()),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON or YAML file.
// The file is validated to ensure it has a supported extension and is
// under the max file size. Fields omitted from the file retain their
// default values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	switch ext {
	case ".json", ".yaml", ".yml":
	default:
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/ or cmd/lanedecode/
		"../../../" + DefaultConfigPath,    // from internal/lane/pipeline/
		"../../../../" + DefaultConfigPath, // from internal/lane/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.ThresholdPoint != nil {
		if !(*c.ThresholdPoint >= 0 && *c.ThresholdPoint <= 1) {
			return fmt.Errorf("threshold_point must be between 0 and 1, got %f", *c.ThresholdPoint)
		}
	}
	if c.ThresholdInstance != nil && (!(*c.ThresholdInstance > 0) || math.IsInf(*c.ThresholdInstance, 0)) {
		return fmt.Errorf("threshold_instance must be positive and finite, got %f", *c.ThresholdInstance)
	}
	if c.DistanceMetric != nil {
		// An empty metric falls back to euclidean in GetDistanceMetric.
		switch *c.DistanceMetric {
		case "", DistanceEuclidean, DistanceSquared:
		default:
			return fmt.Errorf("distance_metric must be %q or %q, got %q", DistanceEuclidean, DistanceSquared, *c.DistanceMetric)
		}
	}
	if c.ResizeRatio != nil && *c.ResizeRatio <= 0 {
		return fmt.Errorf("resize_ratio must be positive, got %d", *c.ResizeRatio)
	}
	if c.BoundsWidth != nil && *c.BoundsWidth < 0 {
		return fmt.Errorf("bounds_width must be non-negative, got %d", *c.BoundsWidth)
	}
	if c.BoundsHeight != nil && *c.BoundsHeight < 0 {
		return fmt.Errorf("bounds_height must be non-negative, got %d", *c.BoundsHeight)
	}
	if c.OutputBaseIndex != nil && *c.OutputBaseIndex < -1 {
		return fmt.Errorf("output_base_index must be -1 or a grid index, got %d", *c.OutputBaseIndex)
	}
	if c.MaxLanes != nil && *c.MaxLanes < 1 {
		return fmt.Errorf("max_lanes must be at least 1, got %d", *c.MaxLanes)
	}
	if c.LookbackWindow != nil && *c.LookbackWindow < 1 {
		return fmt.Errorf("lookback_window must be at least 1, got %d", *c.LookbackWindow)
	}
	if c.MinLanePoints != nil && *c.MinLanePoints < 1 {
		return fmt.Errorf("min_lane_points must be at least 1, got %d", *c.MinLanePoints)
	}
	if c.OutlierTolerance != nil && (!(*c.OutlierTolerance >= 0) || math.IsInf(*c.OutlierTolerance, 0)) {
		return fmt.Errorf("outlier_tolerance must be finite and non-negative, got %f", *c.OutlierTolerance)
	}
	if c.OutlierNeighbors != nil && *c.OutlierNeighbors < 1 {
		return fmt.Errorf("outlier_neighbors must be at least 1, got %d", *c.OutlierNeighbors)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}
	return nil
}

// GetThresholdPoint returns the threshold_point value or the default.
func (c *TuningConfig) GetThresholdPoint() float64 {
	if c.ThresholdPoint == nil {
		return 0.81
	}
	return *c.ThresholdPoint
}

// GetResizeRatio returns the resize_ratio value or the default.
func (c *TuningConfig) GetResizeRatio() int {
	if c.ResizeRatio == nil {
		return 8
	}
	return *c.ResizeRatio
}

// GetBoundsWidth returns the bounds_width value or the default (0, use the
// grid width).
func (c *TuningConfig) GetBoundsWidth() int {
	if c.BoundsWidth == nil {
		return 0
	}
	return *c.BoundsWidth
}

// GetBoundsHeight returns the bounds_height value or the default (0, use
// the grid height).
func (c *TuningConfig) GetBoundsHeight() int {
	if c.BoundsHeight == nil {
		return 0
	}
	return *c.BoundsHeight
}

// GetOutputBaseIndex returns the output_base_index value or the default
// (-1, the last three grids of the frame).
func (c *TuningConfig) GetOutputBaseIndex() int {
	if c.OutputBaseIndex == nil {
		return -1
	}
	return *c.OutputBaseIndex
}

// GetThresholdInstance returns the threshold_instance value or the default.
func (c *TuningConfig) GetThresholdInstance() float64 {
	if c.ThresholdInstance == nil {
		return 0.22
	}
	return *c.ThresholdInstance
}

// GetDistanceMetric returns the distance_metric value or the default.
func (c *TuningConfig) GetDistanceMetric() string {
	if c.DistanceMetric == nil || *c.DistanceMetric == "" {
		return DistanceEuclidean
	}
	return *c.DistanceMetric
}

// GetMaxLanes returns the max_lanes value or the default.
func (c *TuningConfig) GetMaxLanes() int {
	if c.MaxLanes == nil {
		return 12
	}
	return *c.MaxLanes
}

// GetLookbackWindow returns the lookback_window value or the default.
func (c *TuningConfig) GetLookbackWindow() int {
	if c.LookbackWindow == nil {
		return 12
	}
	return *c.LookbackWindow
}

// GetMinLanePoints returns the min_lane_points value or the default.
func (c *TuningConfig) GetMinLanePoints() int {
	if c.MinLanePoints == nil {
		return 3
	}
	return *c.MinLanePoints
}

// GetOutlierTolerance returns the outlier_tolerance value or the default
// (0, outlier elimination disabled).
func (c *TuningConfig) GetOutlierTolerance() float64 {
	if c.OutlierTolerance == nil {
		return 0
	}
	return *c.OutlierTolerance
}

// GetOutlierNeighbors returns the outlier_neighbors value or the default.
func (c *TuningConfig) GetOutlierNeighbors() int {
	if c.OutlierNeighbors == nil {
		return 1
	}
	return *c.OutlierNeighbors
}

// GetWorkersSetting returns the raw workers value (0 when unset).
func (c *TuningConfig) GetWorkersSetting() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// GetWorkers returns the effective worker count: the configured value, or
// GOMAXPROCS when unset or zero.
func (c *TuningConfig) GetWorkers() int {
	if n := c.GetWorkersSetting(); n > 0 {
		return n
	}
	return runtime.GOMAXPROCS(0)
}
