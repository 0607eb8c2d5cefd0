package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeDatoCMS(); err != nil {
		return err
	}
	c.normalizeJobs()
	c.Optimization.normalize()
	if err := c.normalizeNotifications(); err != nil {
		return err
	}
	if err := c.normalizeMetrics(); err != nil {
		return err
	}
	c.normalizeLogging()
	if c.History.RetentionDays < 0 {
		c.History.RetentionDays = 0
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatoCMS() error {
	c.DatoCMS.APIToken = strings.TrimSpace(c.DatoCMS.APIToken)
	if c.DatoCMS.APIToken == "" {
		if value, ok := os.LookupEnv("DATOCMS_API_TOKEN"); ok {
			c.DatoCMS.APIToken = strings.TrimSpace(value)
		}
	}
	c.DatoCMS.BaseURL = strings.TrimRight(strings.TrimSpace(c.DatoCMS.BaseURL), "/")
	if c.DatoCMS.BaseURL == "" {
		c.DatoCMS.BaseURL = defaultDatoBaseURL
	}
	c.DatoCMS.APIVersion = strings.TrimSpace(c.DatoCMS.APIVersion)
	if c.DatoCMS.APIVersion == "" {
		c.DatoCMS.APIVersion = defaultDatoAPIVersion
	}
	c.DatoCMS.Environment = strings.TrimSpace(c.DatoCMS.Environment)
	if c.DatoCMS.Environment == "" {
		if value, ok := os.LookupEnv("DATOCMS_ENVIRONMENT"); ok {
			c.DatoCMS.Environment = strings.TrimSpace(value)
		}
	}

	locale, err := normalizeLocale(c.DatoCMS.Locale)
	if err != nil {
		return fmt.Errorf("datocms.locale: %w", err)
	}
	c.DatoCMS.Locale = locale

	if c.DatoCMS.PageSize <= 0 {
		c.DatoCMS.PageSize = defaultPageSize
	}
	if c.DatoCMS.PageSize > maxPageSize {
		c.DatoCMS.PageSize = maxPageSize
	}
	if c.DatoCMS.RequestsPerSecond <= 0 {
		c.DatoCMS.RequestsPerSecond = defaultRequestsPerSecond
	}
	if c.DatoCMS.RequestTimeout <= 0 {
		c.DatoCMS.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// normalizeLocale canonicalizes a BCP 47 tag so "EN", "en" and "en-us" map to
// the keys DatoCMS uses in default_field_metadata.
func normalizeLocale(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultLocale, nil
	}
	tag, err := language.Parse(strings.ReplaceAll(value, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("invalid locale %q: %w", value, err)
	}
	return tag.String(), nil
}

func (c *Config) normalizeJobs() {
	if c.Jobs.PollIntervalMS <= 0 {
		c.Jobs.PollIntervalMS = defaultJobPollIntervalMS
	}
	if c.Jobs.MaxAttempts <= 0 {
		c.Jobs.MaxAttempts = defaultJobMaxAttempts
	}
}

func (c *Config) normalizeNotifications() error {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.NtfyTopic == "" {
		if value, ok := os.LookupEnv("ASSETOPT_NTFY_TOPIC"); ok {
			c.Notifications.NtfyTopic = strings.TrimSpace(value)
		}
	}
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
	return nil
}

func (c *Config) normalizeMetrics() error {
	var err error
	c.Metrics.Textfile = strings.TrimSpace(c.Metrics.Textfile)
	if c.Metrics.Textfile == "" {
		return nil
	}
	if c.Metrics.Textfile, err = expandPath(c.Metrics.Textfile); err != nil {
		return fmt.Errorf("metrics.textfile: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
