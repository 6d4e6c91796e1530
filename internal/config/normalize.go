package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeRemote()
	c.normalizeOptimize()
	c.normalizeWorkflow()
	c.normalizeLogging()
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
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		c.Paths.APIToken = strings.TrimSpace(os.Getenv("OPTIBATCH_API_TOKEN"))
	}
	return nil
}

func (c *Config) normalizeRemote() {
	c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(c.Remote.BaseURL), "/")
	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("OPTIBATCH_REMOTE_URL")), "/")
	}
	c.Remote.Token = strings.TrimSpace(c.Remote.Token)
	if c.Remote.Token == "" {
		c.Remote.Token = strings.TrimSpace(os.Getenv("OPTIBATCH_REMOTE_TOKEN"))
	}
	if c.Remote.TimeoutSeconds <= 0 {
		c.Remote.TimeoutSeconds = defaultRemoteTimeoutSeconds
	}
	if strings.TrimSpace(c.Remote.UserAgent) == "" {
		c.Remote.UserAgent = defaultRemoteUserAgent
	}
	c.Remote.PendingFilter = strings.ToLower(strings.TrimSpace(c.Remote.PendingFilter))
	if c.Remote.PendingFilter == "" {
		c.Remote.PendingFilter = defaultPendingFilter
	}
}

func (c *Config) normalizeOptimize() {
	c.Optimize.Format = strings.ToLower(strings.TrimSpace(c.Optimize.Format))
	if c.Optimize.Format == "" || c.Optimize.Format == "jpg" {
		c.Optimize.Format = defaultFormat
	}
}

func (c *Config) normalizeWorkflow() {
	if c.Workflow.YieldIntervalMS < 0 {
		c.Workflow.YieldIntervalMS = 0
	}
	if c.Workflow.BackgroundYieldIntervalMS < c.Workflow.YieldIntervalMS {
		c.Workflow.BackgroundYieldIntervalMS = c.Workflow.YieldIntervalMS
	}
	if c.Workflow.SyncBatchSize <= 0 {
		c.Workflow.SyncBatchSize = defaultSyncBatchSize
	}
	if c.Workflow.EventBuffer <= 0 {
		c.Workflow.EventBuffer = defaultEventBuffer
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
