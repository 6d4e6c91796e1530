package job

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"optibatch/internal/checkpoint"
	"optibatch/internal/config"
	"optibatch/internal/ledger"
	"optibatch/internal/logging"
	"optibatch/internal/media"
	"optibatch/internal/notifications"
	"optibatch/internal/quota"
	"optibatch/internal/services"
	"optibatch/internal/transform"
)

const parkTimeout = 30 * time.Second

// Controller drives one job's state machine and its single worker.
type Controller struct {
	opts     Options
	remote   Remote
	engine   Transformer
	ledger   Ledger
	store    *checkpoint.Store
	notifier notifications.Service
	logger   *slog.Logger
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc

	mu           sync.Mutex
	state        State
	snap         *checkpoint.Snapshot
	guard        *quota.Guard
	quotaHalt    bool
	upgradeURL   string
	workerActive bool
	workerDone   chan struct{}
	starting     bool
	foreground   bool
	seq          uint64
	lastErr      string

	wake chan struct{}

	persistMu sync.Mutex
	persisted uint64

	events broadcaster
}

// NewController constructs an idle controller.
func NewController(opts Options, deps Dependencies) (*Controller, error) {
	if deps.Remote == nil {
		return nil, services.Wrap(services.ErrConfiguration, "job", "init", "remote client is required", nil)
	}
	if deps.Ledger == nil {
		return nil, services.Wrap(services.ErrConfiguration, "job", "init", "ledger is required", nil)
	}
	if strings.TrimSpace(opts.Job) == "" {
		opts.Job = DefaultJob
	}
	if opts.YieldInterval < 0 {
		opts.YieldInterval = 0
	}
	if opts.BackgroundYieldInterval <= 0 {
		opts.BackgroundYieldInterval = opts.YieldInterval
	}
	engine := deps.Transformer
	if engine == nil {
		engine = transform.NewEngine(nil)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "job").With(logging.String(logging.FieldJob, opts.Job))
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	ctx, cancel := context.WithCancel(services.WithJob(context.Background(), opts.Job))
	return &Controller{
		opts:       opts,
		remote:     deps.Remote,
		engine:     engine,
		ledger:     deps.Ledger,
		store:      checkpoint.NewStore(deps.Remote, opts.Job, logger),
		notifier:   notifier,
		logger:     logger,
		now:        clock,
		baseCtx:    ctx,
		cancel:     cancel,
		state:      StateIdle,
		guard:      &quota.Guard{},
		foreground: true,
		wake:       make(chan struct{}, 1),
	}, nil
}

// NewFromConfig builds a controller with options derived from cfg.
func NewFromConfig(cfg *config.Config, deps Dependencies) (*Controller, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "job", "init", "config is required", nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	if deps.Transformer == nil {
		enc, err := transform.EncoderFor(cfg.Optimize.Format)
		if err != nil {
			return nil, err
		}
		deps.Transformer = transform.NewEngine(enc)
	}
	return NewController(OptionsFromConfig(cfg), deps)
}

// Job returns the job name.
func (c *Controller) Job() string {
	return c.opts.Job
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the live snapshot, or nil when no run is loaded.
func (c *Controller) Snapshot() *checkpoint.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.Clone()
}

// Status is a point-in-time view of the controller.
type Status struct {
	Job          string       `json:"job"`
	State        State        `json:"state"`
	Progress     Progress     `json:"progress"`
	Current      string       `json:"current,omitempty"`
	Quota        *quota.State `json:"quota,omitempty"`
	UpgradeURL   string       `json:"upgrade_url,omitempty"`
	WorkerActive bool         `json:"worker_active"`
	LastError    string       `json:"last_error,omitempty"`
}

// Status returns a summary suitable for display.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		Job:          c.opts.Job,
		State:        c.state,
		Progress:     progressOf(c.snap),
		UpgradeURL:   c.upgradeURL,
		WorkerActive: c.workerActive,
		LastError:    c.lastErr,
	}
	if item, ok := c.snap.Current(); ok && (c.state == StateRunning || c.state == StateStopping) {
		st.Current = item.DisplayName()
	}
	if q, ok := c.guard.Snapshot(); ok {
		st.Quota = &q
	}
	return st
}

// Subscribe registers for controller events. The returned cancel func
// unregisters and closes the channel.
func (c *Controller) Subscribe(buffer int) (<-chan Event, func()) {
	return c.events.subscribe(buffer)
}

// Subscribers reports how many event subscriptions are open.
func (c *Controller) Subscribers() int {
	return c.events.count()
}

// SetForeground selects the short yield interval when true.
func (c *Controller) SetForeground(foreground bool) {
	c.mu.Lock()
	c.foreground = foreground
	c.mu.Unlock()
}

// Foreground reports whether a viewer is attached.
func (c *Controller) Foreground() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.foreground
}

// Wait blocks until the current worker exits or ctx ends.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.workerDone
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown cancels the worker, which records the run as paused at the
// current boundary, and waits for it to finish persisting.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.cancel()
	c.signalWake()
	return c.Wait(ctx)
}

// Processed pages through the ledger entries of the current run.
func (c *Controller) Processed(ctx context.Context, status media.ItemStatus, page ledger.Pagination) (ledger.Page[media.ResultRecord], error) {
	c.mu.Lock()
	runID := ""
	if c.snap != nil {
		runID = c.snap.RunID
	}
	c.mu.Unlock()
	if runID == "" {
		return ledger.Page[media.ResultRecord]{Items: []media.ResultRecord{}, Page: 1, PerPage: page.PerPage}, nil
	}
	return c.ledger.Processed(ctx, runID, ledger.ProcessedQuery{Status: status, Page: page})
}

// Remaining pages through the not-yet-processed queue tail.
func (c *Controller) Remaining(page ledger.Pagination) ledger.Page[ledger.RemainingEntry] {
	c.mu.Lock()
	var (
		queue []media.WorkItem
		index int
	)
	if c.snap != nil {
		queue = c.snap.Queue
		index = c.snap.CurrentIndex
	}
	running := c.state == StateRunning || c.state == StateStopping
	c.mu.Unlock()
	return ledger.Remaining(queue, index, running, page)
}

func (c *Controller) closed() bool {
	return c.baseCtx.Err() != nil
}

// setStateLocked applies a transition and notifies subscribers. c.mu must be held.
func (c *Controller) setStateLocked(to State) error {
	from := c.state
	if !from.CanTransition(to) {
		return transitionError(from, to)
	}
	c.state = to
	if c.snap != nil {
		c.snap.Status = string(to)
	}
	c.logger.Info("job state changed",
		logging.EventType("state_change"),
		logging.String("from", string(from)),
		logging.String("to", string(to)),
		logging.Int("current_index", progressOf(c.snap).CurrentIndex),
	)
	c.events.publish(Event{
		Type:     EventStateChanged,
		Job:      c.opts.Job,
		State:    to,
		Previous: from,
		Progress: progressOf(c.snap),
		At:       c.now().UTC(),
	})
	return nil
}

// nextSeqLocked orders checkpoint writes; c.mu must be held.
func (c *Controller) nextSeqLocked() uint64 {
	c.seq++
	return c.seq
}

func (c *Controller) ensureWorkerLocked() {
	if c.workerActive {
		return
	}
	c.workerActive = true
	done := make(chan struct{})
	c.workerDone = done
	go c.run(c.baseCtx, done)
}

func (c *Controller) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// persist writes snap, or clears the checkpoint, unless a newer write has
// already been issued.
func (c *Controller) persist(ctx context.Context, seq uint64, snap *checkpoint.Snapshot, clear bool) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	if seq <= c.persisted {
		return nil
	}
	c.persisted = seq
	if clear {
		if err := c.store.Clear(ctx); err != nil {
			logging.WarnWithContext(c.logger, "checkpoint clear failed", "checkpoint_clear_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "a stale checkpoint may be offered on the next start"),
			)
			return err
		}
		return nil
	}
	if snap == nil {
		return nil
	}
	return c.store.Save(ctx, snap)
}

func (c *Controller) notify(ctx context.Context, event notifications.Event, payload notifications.Payload) {
	if err := c.notifier.Publish(ctx, event, payload); err != nil {
		c.logger.Debug("notification failed", logging.String("event", string(event)), logging.Error(err))
	}
}

func detachedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), parkTimeout)
}

func canceled(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
