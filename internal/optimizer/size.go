package optimizer

import "fmt"

// FormatFileSize renders a byte count the way the activity log shows it.
func FormatFileSize(bytes int64) string {
	switch {
	case bytes < 1024:
		return fmt.Sprintf("%d bytes", bytes)
	case bytes < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(bytes)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(bytes)/(1024*1024))
	}
}

// savingsPercent is the size decrease from original to optimized, or 0 when
// the original size is unknown.
func savingsPercent(original, optimized int64) float64 {
	if original <= 0 {
		return 0
	}
	return float64(original-optimized) / float64(original) * 100
}
