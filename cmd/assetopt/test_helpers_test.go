package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/pelletier/go-toml/v2"

	"assetopt/internal/config"
	"assetopt/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	dato       *fakeDato
}

func setupCLITestEnv(t *testing.T, opts ...testsupport.ConfigOption) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	t.Setenv("DATOCMS_API_TOKEN", "")
	t.Setenv("DATOCMS_ENVIRONMENT", "")

	dato := newFakeDato(t)
	cfg := testsupport.NewConfig(t, append([]testsupport.ConfigOption{testsupport.WithDatoBaseURL(dato.server.URL)}, opts...)...)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, dato: dato}
}

func runCLI(t *testing.T, args []string, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func decodeJSON(t *testing.T, output string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("decode json output: %v\n%s", err, output)
	}
}

// fakeDato serves the uploads catalog, the imgix renditions, the upload slot,
// the storage bucket and the metadata commit from a single test server.
type fakeDato struct {
	server *httptest.Server
	png    []byte

	mu         sync.Mutex
	listStatus int
	slots      []string
	puts       int
	commits    []string
	renditions []string
}

func newFakeDato(t *testing.T) *fakeDato {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(64, 32, color.NRGBA{R: 200, G: 80, B: 20, A: 255}), imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	f := &fakeDato{png: buf.Bytes()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /site", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"id":"1","type":"site","attributes":{"name":"Test"}}}`)
	})
	mux.HandleFunc("GET /uploads", f.handleList)
	mux.HandleFunc("GET /img/{name}", f.handleRendition)
	mux.HandleFunc("POST /upload-requests", f.handleSlot)
	mux.HandleFunc("PUT /storage/{path...}", f.handlePut)
	mux.HandleFunc("PUT /uploads/{id}", f.handleCommit)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeDato) handleList(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	status := f.listStatus
	f.mu.Unlock()
	if status != 0 {
		http.Error(w, `{"data":[{"id":"INTERNAL"}]}`, status)
		return
	}
	if r.URL.Query().Get("page[offset]") != "0" {
		_, _ = io.WriteString(w, `{"data":[],"meta":{"total_count":2}}`)
		return
	}
	fmt.Fprintf(w, `{"data":[
		{"id":"101","type":"upload","attributes":{"size":6291456,"is_image":true,"url":"%[1]s/img/photo.jpg","path":"/1/photo.jpg","basename":"photo","format":"jpg","width":4000,"height":3000}},
		{"id":"102","type":"upload","attributes":{"size":7340032,"is_image":true,"url":"%[1]s/img/logo.svg","path":"/1/logo.svg","basename":"logo","format":"svg","width":800,"height":600}}
	],"meta":{"total_count":2}}`, f.server.URL)
}

func (f *fakeDato) handleRendition(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.renditions = append(f.renditions, r.URL.RequestURI())
	f.mu.Unlock()
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(f.png)
}

func (f *fakeDato) handleSlot(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data struct {
			Attributes struct {
				Filename string `json:"filename"`
			} `json:"attributes"`
		} `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	name := body.Data.Attributes.Filename
	f.mu.Lock()
	f.slots = append(f.slots, name)
	f.mu.Unlock()
	w.WriteHeader(http.StatusCreated)
	fmt.Fprintf(w, `{"data":{"id":"/999/%[2]s","type":"upload_request","attributes":{"url":"%[1]s/storage/999/%[2]s","request_headers":{"Content-Type":"image/png"}}}}`,
		f.server.URL, name)
}

func (f *fakeDato) handlePut(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	f.mu.Lock()
	f.puts++
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeDato) handleCommit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data struct {
			Attributes struct {
				Path string `json:"path"`
			} `json:"attributes"`
		} `json:"data"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	id := r.PathValue("id")
	f.mu.Lock()
	f.commits = append(f.commits, id)
	f.mu.Unlock()
	fmt.Fprintf(w, `{"data":{"id":%q,"type":"upload","attributes":{"size":%d,"is_image":true,"path":%q,"format":"png"}}}`,
		id, len(f.png), body.Data.Attributes.Path)
}

func (f *fakeDato) snapshot() (slots []string, puts int, commits []string, renditions []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.slots...), f.puts, append([]string(nil), f.commits...), append([]string(nil), f.renditions...)
}
