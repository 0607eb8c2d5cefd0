package testsupport

import (
	"path/filepath"
	"testing"

	"assetopt/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.DatoCMS.APIToken = "test-token"
	cfgVal.DatoCMS.BaseURL = "http://127.0.0.1:0"
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Jobs.PollIntervalMS = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	return builder.cfg
}

// WithDatoBaseURL points the CMA client at a test server.
func WithDatoBaseURL(url string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.DatoCMS.BaseURL = url
	}
}

// WithAPIToken overrides the CMA token; an empty token simulates a missing one.
func WithAPIToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.DatoCMS.APIToken = token
	}
}

// WithNtfyTopic enables notifications against a test server.
func WithNtfyTopic(topic string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Notifications.NtfyTopic = topic
	}
}

// WithOptimization replaces the optimization settings.
func WithOptimization(settings config.Optimization) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Optimization = settings
	}
}

// WithMetricsTextfile enables the node_exporter textfile under the temp dir.
func WithMetricsTextfile(name string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.Textfile = filepath.Join(b.baseDir, name)
	}
}

// WithProcessCollectors enables Go runtime and process metrics.
func WithProcessCollectors() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Metrics.ProcessCollectors = true
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StateDir)
}
