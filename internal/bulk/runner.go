package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"optibatch/internal/logging"
	"optibatch/internal/media"
	"optibatch/internal/notifications"
	"optibatch/internal/remote"
	"optibatch/internal/services"
)

// Workflow names a bulk workflow.
type Workflow string

const (
	WorkflowRestore Workflow = "restore"
	WorkflowSync    Workflow = "sync"
)

// Title is the human label used in notifications and CLI output.
func (w Workflow) Title() string {
	switch w {
	case WorkflowRestore:
		return "Restore"
	case WorkflowSync:
		return "Library Sync"
	default:
		return string(w)
	}
}

// State is the runner lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
)

var (
	// ErrBusy reports a start while a run is in progress.
	ErrBusy = errors.New("bulk workflow already running")
	// ErrNotRunning reports a stop with nothing to stop.
	ErrNotRunning = errors.New("bulk workflow not running")
)

// Remote is the subset of the content server API bulk workflows call.
type Remote interface {
	Restorable(ctx context.Context) ([]media.WorkItem, error)
	Restore(ctx context.Context, itemID int64) error
	Library(ctx context.Context) ([]media.WorkItem, error)
	Sync(ctx context.Context, ids []int64) (remote.SyncResult, error)
}

// Progress is the live and final state of one bulk run.
type Progress struct {
	Workflow     Workflow   `json:"workflow"`
	State        State      `json:"state"`
	CurrentIndex int        `json:"current_index"`
	TotalItems   int        `json:"total_items"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	FailedIDs    []int64    `json:"failed_ids,omitempty"`
	Stopped      bool       `json:"stopped,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	StartedAt    time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

func (p Progress) clone() Progress {
	p.FailedIDs = append([]int64(nil), p.FailedIDs...)
	if p.FinishedAt != nil {
		at := *p.FinishedAt
		p.FinishedAt = &at
	}
	return p
}

// Options configures a runner.
type Options struct {
	BatchSize     int
	YieldInterval time.Duration
	Notifier      notifications.Service
	Logger        *slog.Logger
}

// Runner executes one workflow at a time. Restore and sync each get their
// own Runner so their progress never mixes.
type Runner struct {
	workflow  Workflow
	remote    Remote
	batchSize int
	yield     time.Duration
	notifier  notifications.Service
	logger    *slog.Logger

	baseCtx context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	progress Progress
	active   bool
	done     chan struct{}

	subMu sync.Mutex
	subs  map[int]chan Progress
	next  int
}

// NewRunner builds an idle runner for workflow.
func NewRunner(workflow Workflow, client Remote, opts Options) (*Runner, error) {
	if workflow != WorkflowRestore && workflow != WorkflowSync {
		return nil, services.Wrap(services.ErrConfiguration, "bulk", "init", fmt.Sprintf("unknown workflow %q", workflow), nil)
	}
	if client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "bulk", "init", "remote client is required", nil)
	}
	batch := opts.BatchSize
	if workflow == WorkflowRestore || batch <= 0 {
		batch = 1
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NewNoop()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(services.WithJob(context.Background(), string(workflow)))
	return &Runner{
		workflow:  workflow,
		remote:    client,
		batchSize: batch,
		yield:     opts.YieldInterval,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "bulk").With(logging.String(logging.FieldJob, string(workflow))),
		baseCtx:   ctx,
		cancel:    cancel,
		progress:  Progress{Workflow: workflow, State: StateIdle},
	}, nil
}

// Workflow returns the workflow this runner executes.
func (r *Runner) Workflow() Workflow {
	return r.workflow
}

// Status returns a copy of the current progress.
func (r *Runner) Status() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progress.clone()
}

// Start lists the workflow's items and begins processing them in the
// background. A listing failure is returned and nothing starts.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.active {
		r.mu.Unlock()
		return ErrBusy
	}
	r.active = true
	r.mu.Unlock()

	items, err := r.list(ctx)
	if err != nil {
		r.mu.Lock()
		r.active = false
		r.mu.Unlock()
		r.logger.Error("bulk listing failed",
			logging.EventType("bulk_list_failed"),
			logging.String(logging.FieldErrorHint, "check remote connectivity"),
			logging.Error(err),
		)
		return fmt.Errorf("list %s items: %w", r.workflow, err)
	}

	r.mu.Lock()
	r.progress = Progress{
		Workflow:   r.workflow,
		State:      StateRunning,
		TotalItems: len(items),
		StartedAt:  time.Now().UTC(),
	}
	done := make(chan struct{})
	r.done = done
	snapshot := r.progress.clone()
	r.mu.Unlock()

	r.logger.Info("bulk workflow started",
		logging.EventType("bulk_started"),
		logging.Int("total_items", len(items)),
		logging.Int("batch_size", r.batchSize),
	)
	r.publish(snapshot)
	go r.run(items, done)
	return nil
}

// Run starts the workflow and waits for it to finish.
func (r *Runner) Run(ctx context.Context) (Progress, error) {
	if err := r.Start(ctx); err != nil {
		return r.Status(), err
	}
	if err := r.Wait(ctx); err != nil {
		return r.Status(), err
	}
	return r.Status(), nil
}

// Stop requests the loop to end at the next iteration boundary.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active || r.progress.State != StateRunning {
		return ErrNotRunning
	}
	r.progress.State = StateStopping
	return nil
}

// Wait blocks until the current run finishes or ctx ends.
func (r *Runner) Wait(ctx context.Context) error {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
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

// Shutdown cancels an in-progress run and waits for it to exit.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()
	return r.Wait(ctx)
}

// Subscribe registers for progress updates after every iteration.
func (r *Runner) Subscribe(buffer int) (<-chan Progress, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Progress, buffer)
	r.subMu.Lock()
	if r.subs == nil {
		r.subs = make(map[int]chan Progress)
	}
	id := r.next
	r.next++
	r.subs[id] = ch
	r.subMu.Unlock()
	return ch, sync.OnceFunc(func() {
		r.subMu.Lock()
		delete(r.subs, id)
		close(ch)
		r.subMu.Unlock()
	})
}

func (r *Runner) publish(p Progress) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

func (r *Runner) list(ctx context.Context) ([]media.WorkItem, error) {
	if r.workflow == WorkflowSync {
		return r.remote.Library(ctx)
	}
	return r.remote.Restorable(ctx)
}

// batchResult is the outcome of one iteration.
type batchResult struct {
	succeeded int
	failed    []int64
	err       error
}

func (r *Runner) apply(ctx context.Context, batch []media.WorkItem) batchResult {
	if r.workflow == WorkflowRestore {
		item := batch[0]
		if err := r.remote.Restore(services.WithItemID(ctx, item.ID), item.ID); err != nil {
			return batchResult{failed: []int64{item.ID}, err: err}
		}
		return batchResult{succeeded: 1}
	}

	ids := make([]int64, len(batch))
	for i, item := range batch {
		ids[i] = item.ID
	}
	res, err := r.remote.Sync(ctx, ids)
	if err != nil {
		return batchResult{failed: ids, err: err}
	}
	return reconcileSync(ids, res)
}

// reconcileSync bounds a sync response to its batch so that succeeded plus
// failed always equals the batch size. Ids outside the batch are ignored and
// any shortfall in the response is charged as failures to the trailing ids.
func reconcileSync(ids []int64, res remote.SyncResult) batchResult {
	inBatch := make(map[int64]bool, len(ids))
	for _, id := range ids {
		inBatch[id] = true
	}
	failedSet := make(map[int64]bool, len(res.Failed))
	var out batchResult
	for _, id := range res.Failed {
		if inBatch[id] && !failedSet[id] {
			failedSet[id] = true
			out.failed = append(out.failed, id)
		}
	}
	out.succeeded = min(max(res.Synced, 0), len(ids)-len(out.failed))
	missing := len(ids) - len(out.failed) - out.succeeded
	for i := len(ids) - 1; i >= 0 && missing > 0; i-- {
		if failedSet[ids[i]] {
			continue
		}
		failedSet[ids[i]] = true
		out.failed = append(out.failed, ids[i])
		missing--
	}
	return out
}

func (r *Runner) run(items []media.WorkItem, done chan struct{}) {
	defer close(done)
	ctx := r.baseCtx

	for index := 0; index < len(items); {
		r.mu.Lock()
		stopping := r.progress.State == StateStopping || ctx.Err() != nil
		r.mu.Unlock()
		if stopping {
			break
		}

		end := min(index+r.batchSize, len(items))
		res := r.apply(ctx, items[index:end])
		if res.err != nil && ctx.Err() != nil {
			break
		}
		index = end

		r.mu.Lock()
		r.progress.CurrentIndex = index
		r.progress.Succeeded += res.succeeded
		r.progress.Failed += len(res.failed)
		r.progress.FailedIDs = append(r.progress.FailedIDs, res.failed...)
		if res.err != nil {
			r.progress.LastError = res.err.Error()
		}
		snapshot := r.progress.clone()
		r.mu.Unlock()

		if res.err != nil {
			logging.WarnWithContext(r.logger, "bulk iteration failed", "bulk_item_failed",
				logging.Any("item_ids", res.failed),
				logging.Error(res.err),
				logging.String(logging.FieldImpact, "workflow continues with the next item"),
			)
		} else {
			r.logger.Debug("bulk iteration complete",
				logging.EventType("bulk_item_complete"),
				logging.Int("current_index", index),
				logging.Int("succeeded", res.succeeded),
				logging.Int("failed", len(res.failed)),
			)
		}
		r.publish(snapshot)
		r.pause(ctx)
	}

	r.finish()
}

func (r *Runner) pause(ctx context.Context) {
	if r.yield <= 0 {
		return
	}
	timer := time.NewTimer(r.yield)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (r *Runner) finish() {
	now := time.Now().UTC()
	r.mu.Lock()
	r.progress.Stopped = r.progress.CurrentIndex < r.progress.TotalItems
	r.progress.State = StateCompleted
	r.progress.FinishedAt = &now
	r.active = false
	final := r.progress.clone()
	r.mu.Unlock()

	r.logger.Info("bulk workflow finished",
		logging.EventType("bulk_finished"),
		logging.Int("succeeded", final.Succeeded),
		logging.Int("failed", final.Failed),
		logging.Bool("stopped", final.Stopped),
	)
	r.publish(final)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.baseCtx), 30*time.Second)
	defer cancel()
	if err := r.notifier.Publish(ctx, notifications.EventBulkCompleted, notifications.Payload{
		"workflow":  string(r.workflow),
		"succeeded": final.Succeeded,
		"failed":    final.Failed,
	}); err != nil {
		r.logger.Debug("bulk notification failed", logging.Error(err))
	}
}
