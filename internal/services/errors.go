package services

import (
	"errors"
	"fmt"
	"strings"
)

// Batch-fatal markers.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrCatalogFetch  = errors.New("catalog fetch failed")
	ErrRunInProgress = errors.New("optimization run already in progress")
)

// Per-asset markers. The orchestrator records the asset as failed and moves on.
var (
	ErrTransformFetch = errors.New("transform fetch failed")
	ErrUploadSlot     = errors.New("upload slot request failed")
	ErrSourceFetch    = errors.New("source fetch failed")
	ErrStorageWrite   = errors.New("storage write failed")
	ErrMetadataCommit = errors.New("metadata commit failed")
	ErrJobTimeout     = errors.New("job timed out")
	ErrJobFailed      = errors.New("job failed")
)

// HTTPStatusError records a non-2xx response from a remote endpoint.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 256 {
		body = body[:256] + "…"
	}
	if body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, body)
}

// StatusCode extracts the HTTP status from err when it wraps an HTTPStatusError.
func StatusCode(err error) (int, bool) {
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

// Wrap builds an error message that includes component context while tagging it
// with the provided marker for later classification. The marker should be one of
// the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		if err == nil {
			return errors.New(detail)
		}
		return fmt.Errorf("%s: %w", detail, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatal reports whether err must abort the whole batch rather than a single asset.
func IsFatal(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrCatalogFetch) || errors.Is(err, ErrRunInProgress)
}

// FailureReason maps an error to a short, stable reason code used for run
// history and metric labels.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransformFetch):
		return "transform_fetch"
	case errors.Is(err, ErrUploadSlot):
		return "upload_slot"
	case errors.Is(err, ErrSourceFetch):
		return "source_fetch"
	case errors.Is(err, ErrStorageWrite):
		return "storage_write"
	case errors.Is(err, ErrMetadataCommit):
		return "metadata_commit"
	case errors.Is(err, ErrJobTimeout):
		return "job_timeout"
	case errors.Is(err, ErrJobFailed):
		return "job_failed"
	case errors.Is(err, ErrCatalogFetch):
		return "catalog_fetch"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	case errors.Is(err, ErrRunInProgress):
		return "run_in_progress"
	default:
		return "unknown"
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
