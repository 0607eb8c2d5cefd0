package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"assetopt/internal/config"
)

const datoCheckTimeout = 10 * time.Second

// CheckDatoCMS verifies the CMA is reachable and accepts the token. It sends
// one GET /site request and never retries.
func CheckDatoCMS(ctx context.Context, cfg config.DatoCMS) Result {
	const name = "DatoCMS API"

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing base url"}
	}
	token := strings.TrimSpace(cfg.APIToken)
	if token == "" {
		return Result{Name: name, Detail: "missing api token"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, datoCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/site", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%v)", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if cfg.APIVersion != "" {
		req.Header.Set("X-Api-Version", cfg.APIVersion)
	}
	if cfg.Environment != "" {
		req.Header.Set("X-Environment", cfg.Environment)
	}

	client := &http.Client{Timeout: datoCheckTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeError(err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		detail := "Reachable"
		if cfg.Environment != "" {
			detail += " (environment " + cfg.Environment + ")"
		}
		return Result{Name: name, Passed: true, Detail: detail}
	case http.StatusUnauthorized, http.StatusForbidden:
		return Result{Name: name, Detail: "auth failed (invalid api token)"}
	case http.StatusNotFound:
		return Result{Name: name, Detail: "site not found (check datocms.environment)"}
	default:
		return Result{Name: name, Detail: fmt.Sprintf("auth check failed (%d)", resp.StatusCode)}
	}
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

func summarizeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "check timed out (DatoCMS API unresponsive)"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "check timed out (DatoCMS API unreachable)"
	}
	return err.Error()
}
