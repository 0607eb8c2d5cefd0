package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable. The API token is checked
// separately by RequireAPIToken so offline commands work without credentials.
func (c *Config) Validate() error {
	if err := c.validateDatoCMS(); err != nil {
		return err
	}
	if err := c.validateJobs(); err != nil {
		return err
	}
	if err := c.Optimization.Validate(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

// RequireAPIToken reports a descriptive error when no DatoCMS token is configured.
func (c *Config) RequireAPIToken() error {
	if strings.TrimSpace(c.DatoCMS.APIToken) != "" {
		return nil
	}
	defaultPath, err := DefaultConfigPath()
	if err != nil {
		defaultPath = defaultConfigPath
	}
	return fmt.Errorf("datocms.api_token is required. Set DATOCMS_API_TOKEN env var or edit %s (create with 'assetopt config init')", defaultPath)
}

func (c *Config) validateDatoCMS() error {
	parsed, err := url.Parse(c.DatoCMS.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("datocms.base_url %q must be an absolute URL", c.DatoCMS.BaseURL)
	}
	if err := ensurePositiveMap(map[string]int{
		"datocms.page_size":       c.DatoCMS.PageSize,
		"datocms.request_timeout": c.DatoCMS.RequestTimeout,
	}); err != nil {
		return err
	}
	if c.DatoCMS.RequestsPerSecond <= 0 {
		return errors.New("datocms.requests_per_second must be positive")
	}
	return nil
}

func (c *Config) validateJobs() error {
	return ensurePositiveMap(map[string]int{
		"jobs.poll_interval_ms": c.Jobs.PollIntervalMS,
		"jobs.max_attempts":     c.Jobs.MaxAttempts,
	})
}

func (c *Config) validateNotifications() error {
	if c.Notifications.NtfyTopic == "" {
		return nil
	}
	parsed, err := url.Parse(c.Notifications.NtfyTopic)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic %q must be a full topic URL", c.Notifications.NtfyTopic)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
