package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := c.validateOptimize(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateRemote() error {
	if c.Remote.BaseURL == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/optibatch/config.toml"
		}
		return fmt.Errorf("remote.base_url is required. Set OPTIBATCH_REMOTE_URL or edit %s (create with 'optibatch config init')", defaultPath)
	}
	parsed, err := url.Parse(c.Remote.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("remote.base_url %q must be an absolute http(s) url", c.Remote.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("remote.base_url scheme %q is not supported", parsed.Scheme)
	}
	return nil
}

func (c *Config) validateOptimize() error {
	if c.Optimize.Quality < 0 || c.Optimize.Quality > 100 {
		return errors.New("optimize.quality must be between 0 and 100")
	}
	if c.Optimize.Resize && c.Optimize.MaxWidth <= 0 {
		return errors.New("optimize.max_width must be positive when optimize.resize is enabled")
	}
	if c.Optimize.SkipSmall && c.Optimize.MinSizeKB <= 0 {
		return errors.New("optimize.min_size_kb must be positive when optimize.skip_small is enabled")
	}
	switch c.Optimize.Format {
	case "jpeg":
	default:
		return fmt.Errorf("optimize.format %q is not supported (supported: jpeg)", c.Optimize.Format)
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout < 0 {
		return errors.New("notifications.request_timeout must be non-negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q is not supported (console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not supported", c.Logging.Level)
	}
	return nil
}
