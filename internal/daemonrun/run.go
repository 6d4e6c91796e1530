// Package daemonrun hosts the optibatch serve runtime: logger setup, the
// ledger, the remote client, and the daemon lifecycle bound to process
// signals.
package daemonrun

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"optibatch/internal/config"
	"optibatch/internal/daemon"
	"optibatch/internal/ledger"
	"optibatch/internal/logging"
	"optibatch/internal/remote"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the optibatch daemon and blocks until SIGINT or SIGTERM.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logPath, err := logging.LogFilePath(cfg)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	outputs := []string{"stdout"}
	if logPath != "" {
		outputs = append(outputs, logPath)
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: outputs,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	pidPath := filepath.Join(cfg.Paths.StateDir, "optibatch.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	store, err := ledger.Open(cfg)
	if err != nil {
		logger.Error("open ledger", logging.Error(err))
		return err
	}

	client, err := remote.NewFromConfig(cfg)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create remote client: %w", err)
	}

	d, err := daemon.New(cfg, client, store, logger)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.EventType("daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check state_dir permissions and api_bind"),
		)
		return err
	}
	logger.Info("optibatch api ready", logging.String("address", d.Addr()), logging.String("log_path", logPath))

	<-signalCtx.Done()
	logger.Info("optibatch daemon shutting down", logging.EventType("daemon_shutdown"))
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}
