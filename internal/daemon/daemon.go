package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"optibatch/internal/bulk"
	"optibatch/internal/config"
	"optibatch/internal/job"
	"optibatch/internal/ledger"
	"optibatch/internal/logging"
	"optibatch/internal/notifications"
	"optibatch/internal/preflight"
	"optibatch/internal/remote"
)

const shutdownTimeout = 30 * time.Second

// Remote is the content server surface the daemon drives.
type Remote interface {
	job.Remote
	bulk.Remote
	Stats(ctx context.Context) (remote.Stats, error)
}

// Daemon owns the job controller and bulk runners and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	ledger     *ledger.Store
	remote     Remote
	controller *job.Controller
	runners    map[bulk.Workflow]*bulk.Runner
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	viewers atomic.Int32
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                            `json:"running"`
	PID          int                             `json:"pid"`
	Job          job.Status                      `json:"job"`
	Bulk         map[bulk.Workflow]bulk.Progress `json:"bulk"`
	Viewers      int                             `json:"viewers"`
	LedgerPath   string                          `json:"ledger_path"`
	LockFilePath string                          `json:"lock_file_path"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, client Remote, store *ledger.Store, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || client == nil || store == nil {
		return nil, errors.New("daemon requires config, remote client, and ledger")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := notifications.NewService(cfg)

	controller, err := job.NewFromConfig(cfg, job.Dependencies{
		Remote:   client,
		Ledger:   store,
		Notifier: notifier,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create job controller: %w", err)
	}
	// Nobody is watching until a feed viewer connects.
	controller.SetForeground(false)

	runners := make(map[bulk.Workflow]*bulk.Runner, 2)
	for _, wf := range []bulk.Workflow{bulk.WorkflowRestore, bulk.WorkflowSync} {
		runner, err := bulk.NewRunner(wf, client, bulk.Options{
			BatchSize:     cfg.Workflow.SyncBatchSize,
			YieldInterval: time.Duration(cfg.Workflow.YieldIntervalMS) * time.Millisecond,
			Notifier:      notifier,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s runner: %w", wf, err)
		}
		runners[wf] = runner
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:        cfg,
		logger:     logging.NewComponentLogger(logger, "daemon"),
		ledger:     store,
		remote:     client,
		controller: controller,
		runners:    runners,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, restores any checkpoint, and starts the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another optibatch instance is already running")
	}

	for _, result := range preflight.Failed(preflight.RunAll(ctx, d.cfg)) {
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
			logging.String(logging.FieldImpact, "job start will fail until resolved"),
		)
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.restore(d.ctx)

	if err := d.api.start(d.ctx); err != nil {
		d.cancel()
		_ = d.lock.Unlock()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start api: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("optibatch daemon started",
		logging.EventType("daemon_started"),
		logging.String("lock", d.lockPath),
	)
	return nil
}

func (d *Daemon) restore(ctx context.Context) {
	res, err := d.controller.Load(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "checkpoint restore failed", "checkpoint_restore_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a new run must be started"),
		)
		return
	}
	switch {
	case res.Restored:
		d.logger.Info("checkpoint restored",
			logging.EventType("checkpoint_restored"),
			logging.String("state", string(res.State)),
			logging.Bool("settings_changed", res.SettingsChanged),
		)
	case res.Invalidated:
		logging.WarnWithContext(d.logger, "checkpoint discarded", "checkpoint_invalidated",
			logging.String("reason", res.Reason),
			logging.String(logging.FieldImpact, "a new run must be started"),
		)
	}
}

// Stop pauses the job at the current boundary, stops bulk runs, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	d.api.stop()
	if err := d.controller.Shutdown(ctx); err != nil {
		d.logger.Warn("job shutdown incomplete", logging.Error(err))
	}
	for wf, runner := range d.runners {
		if err := runner.Shutdown(ctx); err != nil {
			d.logger.Warn("bulk shutdown incomplete", logging.String("workflow", string(wf)), logging.Error(err))
		}
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("optibatch daemon stopped", logging.EventType("daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.ledger != nil {
		return d.ledger.Close()
	}
	return nil
}

// Controller exposes the job controller.
func (d *Daemon) Controller() *job.Controller {
	return d.controller
}

// Runner returns the runner for wf, or nil for an unknown workflow.
func (d *Daemon) Runner(wf bulk.Workflow) *bulk.Runner {
	return d.runners[wf]
}

// Addr returns the API listen address once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Stats returns the server's lifetime counters.
func (d *Daemon) Stats(ctx context.Context) (remote.Stats, error) {
	return d.remote.Stats(ctx)
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	progress := make(map[bulk.Workflow]bulk.Progress, len(d.runners))
	for wf, runner := range d.runners {
		progress[wf] = runner.Status()
	}
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Job:          d.controller.Status(),
		Bulk:         progress,
		Viewers:      int(d.viewers.Load()),
		LedgerPath:   d.ledger.Path(),
		LockFilePath: d.lockPath,
	}
}

// viewerJoined and viewerLeft switch the controller between foreground and
// background pacing as feed viewers come and go.
func (d *Daemon) viewerJoined() {
	if d.viewers.Add(1) == 1 {
		d.controller.SetForeground(true)
	}
}

func (d *Daemon) viewerLeft() {
	if d.viewers.Add(-1) == 0 {
		d.controller.SetForeground(false)
	}
}
