package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"assetopt/internal/config"
	"assetopt/internal/datocms"
	"assetopt/internal/logging"
	"assetopt/internal/runstore"
)

type commandContext struct {
	configFlag *string
	verbose    *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, verbose *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		verbose:    verbose,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) isVerbose() bool {
	return c.verbose != nil && *c.verbose
}

// logger writes to assetopt.log in the log directory. Console output is
// reserved for the activity log unless --verbose is set.
func (c *commandContext) logger(cfg *config.Config) (*slog.Logger, error) {
	outputs := []string{filepath.Join(cfg.Paths.LogDir, "assetopt.log")}
	level := cfg.Logging.Level
	if c.isVerbose() {
		outputs = append(outputs, "stderr")
		level = "debug"
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func (c *commandContext) datoClient(cfg *config.Config) (*datocms.Client, error) {
	if err := cfg.RequireAPIToken(); err != nil {
		return nil, err
	}
	return datocms.NewFromConfig(cfg)
}

func (c *commandContext) openStore(cfg *config.Config) (*runstore.Store, error) {
	store, err := runstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return store, nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
