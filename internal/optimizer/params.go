package optimizer

import (
	"net/url"
	"strconv"
	"strings"

	"assetopt/internal/config"
	"assetopt/internal/datocms"
)

// SizeClass groups candidates by how far they exceed the thresholds.
type SizeClass string

const (
	ClassLarge     SizeClass = "large"
	ClassVeryLarge SizeClass = "very_large"
)

// TransformSpec is the set of imgix parameters requested for a rendition.
type TransformSpec struct {
	// Format is the output format; empty when the asset keeps its own format.
	Format   string    `json:"format,omitempty"`
	Quality  int       `json:"quality"`
	MaxWidth int       `json:"max_width,omitempty"`
	Class    SizeClass `json:"class"`
}

// Formats that lose animation or vector data when re-encoded.
var untransformableFormats = map[string]struct{}{
	"svg": {},
	"gif": {},
}

// SelectParams decides how to transform asset, or returns nil when the asset
// should be left alone. The result depends only on its arguments.
func SelectParams(asset datocms.Asset, settings config.Optimization) *TransformSpec {
	if !asset.IsImage {
		return nil
	}
	largeBytes := settings.LargeThresholdBytes()
	if largeBytes <= 0 || asset.Size < largeBytes {
		return nil
	}
	assetFormat := normalizeFormat(asset.Format)
	if _, ok := untransformableFormats[assetFormat]; ok {
		return nil
	}

	spec := &TransformSpec{Class: ClassLarge, Quality: settings.QualityLarge}
	maxWidth := settings.LargeImageMaxWidth
	if veryLarge := settings.VeryLargeThresholdBytes(); veryLarge > 0 && asset.Size >= veryLarge {
		spec.Class = ClassVeryLarge
		spec.Quality = settings.QualityVeryLarge
		maxWidth = settings.VeryLargeImageMaxWidth
	}
	if settings.ResizeLargeImages && maxWidth > 0 && asset.Width > maxWidth {
		spec.MaxWidth = maxWidth
	}

	target := normalizeFormat(settings.TargetFormat)
	if target != "original" {
		spec.Format = target
	}

	sameFormat := spec.Format == "" || spec.Format == assetFormat
	if sameFormat && spec.MaxWidth == 0 && spec.Class == ClassLarge {
		return nil
	}
	return spec
}

// Query encodes the transform as imgix query parameters.
func (s TransformSpec) Query() url.Values {
	values := url.Values{}
	if s.Format != "" {
		values.Set("fm", s.Format)
	} else {
		values.Set("auto", "compress")
	}
	if s.Quality > 0 {
		values.Set("q", strconv.Itoa(s.Quality))
	}
	if s.MaxWidth > 0 {
		values.Set("w", strconv.Itoa(s.MaxWidth))
		values.Set("fit", "max")
	}
	return values
}

// String returns the encoded query, as shown in the activity log.
func (s TransformSpec) String() string {
	return "?" + s.Query().Encode()
}

// URL merges the transform parameters into assetURL, replacing any that clash.
func (s TransformSpec) URL(assetURL string) string {
	parsed, err := url.Parse(assetURL)
	if err != nil {
		return assetURL + s.String()
	}
	merged := parsed.Query()
	for key, values := range s.Query() {
		merged[key] = values
	}
	parsed.RawQuery = merged.Encode()
	return parsed.String()
}

func normalizeFormat(format string) string {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "jpeg" {
		return "jpg"
	}
	return format
}
