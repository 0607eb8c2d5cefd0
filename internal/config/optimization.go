package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

const bytesPerMB = 1024 * 1024

// Optimization holds the per-batch thresholds and transform preferences.
// The JSON tags match the plugin's saved optimization_settings parameter.
type Optimization struct {
	// LargeAssetThreshold is the candidate cutoff in megabytes.
	LargeAssetThreshold float64 `toml:"large_asset_threshold" json:"largeAssetThreshold"`
	// VeryLargeAssetThreshold selects the stronger parameter set; 0 disables it.
	VeryLargeAssetThreshold float64 `toml:"very_large_asset_threshold" json:"veryLargeAssetThreshold"`
	QualityLarge            int     `toml:"quality_large" json:"qualityLarge"`
	QualityVeryLarge        int     `toml:"quality_very_large" json:"qualityVeryLarge"`
	ResizeLargeImages       bool    `toml:"resize_large_images" json:"resizeLargeImages"`
	LargeImageMaxWidth      int     `toml:"large_image_max_width" json:"largeImageMaxWidth"`
	VeryLargeImageMaxWidth  int     `toml:"very_large_image_max_width" json:"veryLargeImageMaxWidth"`
	// TargetFormat is avif, webp, jpg, png, or "original" to keep each asset's format.
	TargetFormat string `toml:"target_format" json:"targetFormat"`
	// MinimumReduction is the smallest accepted size decrease, in percent.
	MinimumReduction float64 `toml:"minimum_reduction" json:"minimumReduction"`
}

var supportedTargetFormats = map[string]struct{}{
	"avif":     {},
	"webp":     {},
	"jpg":      {},
	"png":      {},
	"original": {},
}

// LargeThresholdBytes converts the candidate cutoff to bytes.
func (o Optimization) LargeThresholdBytes() int64 {
	return megabytesToBytes(o.LargeAssetThreshold)
}

// VeryLargeThresholdBytes converts the very-large cutoff to bytes (0 when disabled).
func (o Optimization) VeryLargeThresholdBytes() int64 {
	if o.VeryLargeAssetThreshold <= 0 {
		return 0
	}
	return megabytesToBytes(o.VeryLargeAssetThreshold)
}

func megabytesToBytes(mb float64) int64 {
	if mb <= 0 {
		return 0
	}
	return int64(mb * bytesPerMB)
}

// DecodeOptimizationJSON overlays a JSON settings document onto the defaults.
// Unknown keys are ignored and absent keys keep their default values.
func DecodeOptimizationJSON(data []byte) (Optimization, error) {
	settings := DefaultOptimization()
	if len(strings.TrimSpace(string(data))) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		return Optimization{}, fmt.Errorf("parse optimization settings: %w", err)
	}
	settings.normalize()
	if err := settings.Validate(); err != nil {
		return Optimization{}, err
	}
	return settings, nil
}

// LoadOptimizationFile reads a JSON settings document from disk.
func LoadOptimizationFile(path string) (Optimization, error) {
	expanded, err := expandPath(path)
	if err != nil {
		return Optimization{}, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return Optimization{}, fmt.Errorf("read optimization settings: %w", err)
	}
	return DecodeOptimizationJSON(data)
}

func (o *Optimization) normalize() {
	o.TargetFormat = strings.ToLower(strings.TrimSpace(o.TargetFormat))
	switch o.TargetFormat {
	case "":
		o.TargetFormat = defaultTargetFormat
	case "jpeg":
		o.TargetFormat = "jpg"
	}
}

// Validate ensures the optimization settings are usable.
func (o Optimization) Validate() error {
	if o.LargeAssetThreshold <= 0 {
		return errors.New("optimization.large_asset_threshold must be positive")
	}
	if o.VeryLargeAssetThreshold < 0 {
		return errors.New("optimization.very_large_asset_threshold must be >= 0")
	}
	if o.VeryLargeAssetThreshold > 0 && o.VeryLargeAssetThreshold <= o.LargeAssetThreshold {
		return errors.New("optimization.very_large_asset_threshold must be greater than optimization.large_asset_threshold (or 0 to disable)")
	}
	if o.QualityLarge < 1 || o.QualityLarge > 100 {
		return errors.New("optimization.quality_large must be between 1 and 100")
	}
	if o.QualityVeryLarge < 1 || o.QualityVeryLarge > 100 {
		return errors.New("optimization.quality_very_large must be between 1 and 100")
	}
	if o.ResizeLargeImages {
		if o.LargeImageMaxWidth <= 0 {
			return errors.New("optimization.large_image_max_width must be positive when resizing is enabled")
		}
		if o.VeryLargeImageMaxWidth <= 0 {
			return errors.New("optimization.very_large_image_max_width must be positive when resizing is enabled")
		}
	}
	if _, ok := supportedTargetFormats[o.TargetFormat]; !ok {
		return fmt.Errorf("optimization.target_format %q is not supported (avif, webp, jpg, png, original)", o.TargetFormat)
	}
	if o.MinimumReduction < 0 || o.MinimumReduction >= 100 {
		return errors.New("optimization.minimum_reduction must be between 0 and 100")
	}
	return nil
}
