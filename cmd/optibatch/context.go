package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"optibatch/internal/config"
	"optibatch/internal/daemon"
	"optibatch/internal/daemonctl"
	"optibatch/internal/job"
	"optibatch/internal/ledger"
	"optibatch/internal/logging"
	"optibatch/internal/remote"
)

type remoteFactory func(*config.Config) (daemon.Remote, error)

func defaultRemote(cfg *config.Config) (daemon.Remote, error) {
	return remote.NewFromConfig(cfg)
}

type commandContext struct {
	configFlag *string
	jsonFlag   *bool
	newRemote  remoteFactory

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
		newRemote:  defaultRemote,
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

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// daemonClient returns a client for the configured API bind. Callers check
// daemonctl.IsUnavailable on the first call to fall back to local mode.
func (c *commandContext) daemonClient() (*daemonctl.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	client, err := daemonctl.NewClient(cfg.Paths.APIBind, cfg.Paths.APIToken)
	if err != nil {
		return nil, fmt.Errorf("daemon client: %w", err)
	}
	if client == nil {
		return nil, errors.New("paths.api_bind is empty; the daemon API is disabled")
	}
	return client, nil
}

// localRuntime is an in-process controller holding the single-instance lock.
type localRuntime struct {
	cfg    *config.Config
	lock   *flock.Flock
	store  *ledger.Store
	remote daemon.Remote
	ctrl   *job.Controller
	logger *slog.Logger
	logs   *os.File
}

// openLocal acquires the instance lock and builds a controller. Logs go to
// logOut and the log file.
func (c *commandContext) openLocal(logOut io.Writer) (*localRuntime, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another optibatch instance holds %s; use `optibatch job` to control a running daemon", cfg.LockPath())
	}

	rt := &localRuntime{cfg: cfg, lock: lock}
	fail := func(err error) (*localRuntime, error) {
		rt.Close()
		return nil, err
	}

	if rt.logger, rt.logs, err = newLocalLogger(cfg, logOut); err != nil {
		return fail(err)
	}
	if rt.store, err = ledger.Open(cfg); err != nil {
		return fail(fmt.Errorf("open ledger: %w", err))
	}
	if rt.remote, err = c.newRemote(cfg); err != nil {
		return fail(fmt.Errorf("create remote client: %w", err))
	}
	rt.ctrl, err = job.NewFromConfig(cfg, job.Dependencies{
		Remote: rt.remote,
		Ledger: rt.store,
		Logger: rt.logger,
	})
	if err != nil {
		return fail(err)
	}
	return rt, nil
}

func (r *localRuntime) Close() {
	if r.store != nil {
		_ = r.store.Close()
	}
	if r.logs != nil {
		_ = r.logs.Close()
	}
	if r.lock != nil {
		_ = r.lock.Unlock()
	}
}

func newLocalLogger(cfg *config.Config, logOut io.Writer) (*slog.Logger, *os.File, error) {
	path, err := logging.LogFilePath(cfg)
	if err != nil {
		return nil, nil, err
	}
	var (
		writers []io.Writer
		file    *os.File
	)
	if logOut != nil {
		writers = append(writers, logOut)
	}
	if path != "" {
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
	}
	if len(writers) == 0 {
		return logging.NewNop(), nil, nil
	}
	logger, err := logging.NewWithWriter(io.MultiWriter(writers...), cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		if file != nil {
			_ = file.Close()
		}
		return nil, nil, err
	}
	return logger, file, nil
}

// interactive reports whether w is a terminal the progress view can own.
func interactive(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
