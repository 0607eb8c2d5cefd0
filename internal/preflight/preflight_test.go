package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"assetopt/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func newSiteServer(t *testing.T, wantEnv string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/site" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Header.Get("X-Api-Version") != "3" {
			t.Errorf("expected api version header, got %q", r.Header.Get("X-Api-Version"))
		}
		if r.Header.Get("X-Environment") != wantEnv {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func datoSettings(baseURL, token, environment string) config.DatoCMS {
	settings := config.Default().DatoCMS
	settings.BaseURL = baseURL
	settings.APIToken = token
	settings.Environment = environment
	return settings
}

func TestCheckDatoCMS_OK(t *testing.T) {
	srv := newSiteServer(t, "staging")
	result := CheckDatoCMS(context.Background(), datoSettings(srv.URL, "good-token", "staging"))
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result.Detail != "Reachable (environment staging)" {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckDatoCMS_BadToken(t *testing.T) {
	srv := newSiteServer(t, "")
	result := CheckDatoCMS(context.Background(), datoSettings(srv.URL, "bad-token", ""))
	if result.Passed || result.Detail != "auth failed (invalid api token)" {
		t.Fatalf("expected auth failure, got %+v", result)
	}
}

func TestCheckDatoCMS_UnknownEnvironment(t *testing.T) {
	srv := newSiteServer(t, "")
	result := CheckDatoCMS(context.Background(), datoSettings(srv.URL, "good-token", "missing"))
	if result.Passed || result.Detail != "site not found (check datocms.environment)" {
		t.Fatalf("expected environment failure, got %+v", result)
	}
}

func TestCheckDatoCMS_MissingSettings(t *testing.T) {
	if result := CheckDatoCMS(context.Background(), datoSettings("", "token", "")); result.Passed {
		t.Fatal("expected failure for missing URL")
	}
	if result := CheckDatoCMS(context.Background(), datoSettings("http://localhost", "", "")); result.Passed {
		t.Fatal("expected failure for missing token")
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ChecksDirectoriesAndAPI(t *testing.T) {
	srv := newSiteServer(t, "")
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Paths.LogDir = t.TempDir()
	cfg.DatoCMS = datoSettings(srv.URL, "good-token", "")

	results := RunAll(context.Background(), &cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %+v", failed)
	}

	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "missing", "assetopt.prom")
	results = RunAll(context.Background(), &cfg)
	if len(results) != 4 {
		t.Fatalf("expected metrics directory check, got %d results", len(results))
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].Name != "Metrics directory" {
		t.Fatalf("expected metrics directory failure, got %+v", failed)
	}
}
