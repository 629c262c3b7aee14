package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/amombay/Hexcitations/internal/units"
)

// DefaultConfigPath is the path to the canonical tracking defaults file.
const DefaultConfigPath = "config/tracking.defaults.json"

// Frame validation policies.
const (
	// PolicyRejectFrame drops the whole frame without touching any track.
	PolicyRejectFrame = "reject_frame"
	// PolicySkipDetection drops only the offending malformed detection.
	PolicySkipDetection = "skip_detection"
	// PolicyLastWins keeps the last detection for a duplicated marker id.
	PolicyLastWins = "last_wins"
)

// TrackingConfig is the root configuration for a tracking run. Every field is
// optional; the Get* accessors supply defaults for anything left unset.
type TrackingConfig struct {
	FramesPerSecond     *float64 `json:"frames_per_second,omitempty"`
	MinMarkersPerSample *int     `json:"min_markers_per_sample,omitempty"`

	// Frame validation
	MalformedPolicy *string `json:"malformed_policy,omitempty"`
	DuplicatePolicy *string `json:"duplicate_policy,omitempty"`

	// Presentation
	PlotEveryFrames *int    `json:"plot_every_frames,omitempty"`
	DisplayUnits    *string `json:"display_units,omitempty"`

	// Replay pacing: sleep 1/fps between frames when true.
	Realtime *bool `json:"realtime,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTrackingConfig returns a TrackingConfig with all fields set to nil.
func EmptyTrackingConfig() *TrackingConfig {
	return &TrackingConfig{}
}

// DefaultTrackingConfig returns a config with every field populated with the
// values the accessors would fall back to.
func DefaultTrackingConfig() *TrackingConfig {
	return &TrackingConfig{
		FramesPerSecond:     ptrFloat64(30),
		MinMarkersPerSample: ptrInt(2),
		MalformedPolicy:     ptrString(PolicyRejectFrame),
		DuplicatePolicy:     ptrString(PolicyRejectFrame),
		PlotEveryFrames:     ptrInt(0),
		DisplayUnits:        ptrString(units.Degrees),
		Realtime:            ptrBool(false),
	}
}

// LoadTrackingConfig loads a TrackingConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted
// from the file keep their defaults, so partial configs are safe.
func LoadTrackingConfig(path string) (*TrackingConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

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

	cfg := EmptyTrackingConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded.
func MustLoadDefaultConfig() *TrackingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/gen-detections/
	}
	for _, path := range candidates {
		if cfg, err := LoadTrackingConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks that any set values are usable.
func (c *TrackingConfig) Validate() error {
	if c.FramesPerSecond != nil {
		fps := *c.FramesPerSecond
		if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
			return fmt.Errorf("frames_per_second must be a positive finite number, got %v", fps)
		}
	}

	if c.MinMarkersPerSample != nil && *c.MinMarkersPerSample < 1 {
		return fmt.Errorf("min_markers_per_sample must be at least 1, got %d", *c.MinMarkersPerSample)
	}

	if c.MalformedPolicy != nil {
		switch *c.MalformedPolicy {
		case PolicyRejectFrame, PolicySkipDetection:
		default:
			return fmt.Errorf("malformed_policy must be %q or %q, got %q", PolicyRejectFrame, PolicySkipDetection, *c.MalformedPolicy)
		}
	}

	if c.DuplicatePolicy != nil {
		switch *c.DuplicatePolicy {
		case PolicyRejectFrame, PolicyLastWins:
		default:
			return fmt.Errorf("duplicate_policy must be %q or %q, got %q", PolicyRejectFrame, PolicyLastWins, *c.DuplicatePolicy)
		}
	}

	if c.PlotEveryFrames != nil && *c.PlotEveryFrames < 0 {
		return fmt.Errorf("plot_every_frames must be non-negative, got %d", *c.PlotEveryFrames)
	}

	if c.DisplayUnits != nil && !units.IsValidAngle(*c.DisplayUnits) {
		return fmt.Errorf("display_units must be one of %s, got %q", units.GetValidAngleUnitsString(), *c.DisplayUnits)
	}

	return nil
}

// GetFramesPerSecond returns the frames_per_second value or the default.
func (c *TrackingConfig) GetFramesPerSecond() float64 {
	if c.FramesPerSecond == nil {
		return 30
	}
	return *c.FramesPerSecond
}

// GetMinMarkersPerSample returns the min_markers_per_sample value or the default.
func (c *TrackingConfig) GetMinMarkersPerSample() int {
	if c.MinMarkersPerSample == nil {
		return 2
	}
	return *c.MinMarkersPerSample
}

// GetMalformedPolicy returns the malformed_policy value or the default.
func (c *TrackingConfig) GetMalformedPolicy() string {
	if c.MalformedPolicy == nil || *c.MalformedPolicy == "" {
		return PolicyRejectFrame
	}
	return *c.MalformedPolicy
}

// GetDuplicatePolicy returns the duplicate_policy value or the default.
func (c *TrackingConfig) GetDuplicatePolicy() string {
	if c.DuplicatePolicy == nil || *c.DuplicatePolicy == "" {
		return PolicyRejectFrame
	}
	return *c.DuplicatePolicy
}

// GetPlotEveryFrames returns the plot_every_frames value or the default
// (0: plots are only rendered at the end of a run).
func (c *TrackingConfig) GetPlotEveryFrames() int {
	if c.PlotEveryFrames == nil {
		return 0
	}
	return *c.PlotEveryFrames
}

// GetDisplayUnits returns the display_units value or the default.
func (c *TrackingConfig) GetDisplayUnits() string {
	if c.DisplayUnits == nil || *c.DisplayUnits == "" {
		return units.Degrees
	}
	return *c.DisplayUnits
}

// GetRealtime returns the realtime value or the default.
func (c *TrackingConfig) GetRealtime() bool {
	if c.Realtime == nil {
		return false
	}
	return *c.Realtime
}
