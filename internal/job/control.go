package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"optibatch/internal/checkpoint"
	"optibatch/internal/ledger"
	"optibatch/internal/logging"
	"optibatch/internal/media"
	"optibatch/internal/notifications"
	"optibatch/internal/quota"
)

// Start fetches the pending catalog and begins a fresh run. A catalog
// failure leaves the controller untouched.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.starting || c.workerActive {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.state != StateIdle && c.state != StateCompleted {
		from := c.state
		c.mu.Unlock()
		return transitionError(from, StateRunning)
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	items, err := c.remote.ListPending(ctx, c.opts.Filter)
	if err != nil {
		c.logger.Error("catalog fetch failed",
			logging.EventType("catalog_failed"),
			logging.String(logging.FieldErrorHint, "check remote.base_url and remote.token"),
			logging.Error(err),
		)
		c.notify(ctx, notifications.EventError, notifications.Payload{"context": "catalog", "error": err.Error()})
		return fmt.Errorf("fetch catalog: %w", err)
	}

	guard := &quota.Guard{}
	if st, err := c.remote.Quota(ctx); err == nil {
		guard.Observe(st)
	} else {
		logging.WarnWithContext(c.logger, "quota lookup failed", "quota_unknown",
			logging.Error(err),
			logging.String(logging.FieldImpact, "quota is enforced from upload responses only"),
		)
	}

	now := c.now().UTC()
	snap := &checkpoint.Snapshot{
		Version:             checkpoint.SchemaVersion,
		RunID:               uuid.NewString(),
		Job:                 c.opts.Job,
		Status:              string(StateRunning),
		TotalItems:          len(items),
		Queue:               append([]media.WorkItem(nil), items...),
		Settings:            c.opts.Settings,
		SettingsFingerprint: c.opts.Settings.Fingerprint(),
		StartedAt:           now,
	}
	if q, ok := guard.Snapshot(); ok {
		snap.Quota = &q
	}
	if err := c.ledger.BeginRun(ctx, ledger.Run{
		ID:                  snap.RunID,
		Job:                 snap.Job,
		TotalItems:          snap.TotalItems,
		SettingsFingerprint: snap.SettingsFingerprint,
		StartedAt:           now,
	}); err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	c.mu.Lock()
	c.snap = snap
	c.guard = guard
	c.quotaHalt = false
	c.upgradeURL = ""
	c.lastErr = ""
	if err := c.setStateLocked(StateRunning); err != nil {
		c.mu.Unlock()
		return err
	}
	seq := c.nextSeqLocked()
	initial := snap.Clone()
	c.mu.Unlock()

	_ = c.persist(ctx, seq, initial, false)
	c.logger.Info("job started",
		logging.EventType("job_started"),
		logging.RunID(snap.RunID),
		logging.Int("total_items", snap.TotalItems),
	)
	c.notify(ctx, notifications.EventRunStarted, notifications.Payload{"total": snap.TotalItems})

	c.mu.Lock()
	c.ensureWorkerLocked()
	c.mu.Unlock()
	return nil
}

// LoadResult describes what Load found.
type LoadResult struct {
	Restored        bool   `json:"restored"`
	State           State  `json:"state"`
	SettingsChanged bool   `json:"settings_changed,omitempty"`
	Invalidated     bool   `json:"invalidated,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Load restores a persisted checkpoint into paused (or quota_blocked)
// state. An absent checkpoint leaves the controller idle; an unusable one
// is cleared and reported as invalidated.
func (c *Controller) Load(ctx context.Context) (LoadResult, error) {
	c.mu.Lock()
	if c.starting || c.workerActive {
		c.mu.Unlock()
		return LoadResult{}, ErrBusy
	}
	if c.state != StateIdle {
		from := c.state
		c.mu.Unlock()
		return LoadResult{}, transitionError(from, StatePaused)
	}
	c.mu.Unlock()

	res, err := c.store.Load(ctx, checkpoint.LoadOptions{
		Current:                    c.opts.Settings,
		InvalidateOnSettingsChange: c.opts.InvalidateOnSettingsChange,
	})
	if errors.Is(err, checkpoint.ErrInvalidCheckpoint) {
		return LoadResult{State: StateIdle, Invalidated: true, Reason: err.Error()}, nil
	}
	if err != nil {
		return LoadResult{}, fmt.Errorf("load checkpoint: %w", err)
	}
	if res == nil {
		return LoadResult{State: StateIdle}, nil
	}
	snap := res.Snapshot

	if err := c.ledger.BeginRun(ctx, ledger.Run{
		ID:                  snap.RunID,
		Job:                 snap.Job,
		TotalItems:          snap.TotalItems,
		SettingsFingerprint: snap.SettingsFingerprint,
		StartedAt:           snap.StartedAt,
	}); err != nil {
		logging.WarnWithContext(c.logger, "ledger run restore failed", "ledger_write_failed", logging.Error(err))
	}
	// Entries past the checkpoint belong to an item that will run again.
	if removed, err := c.ledger.TruncateFrom(ctx, snap.RunID, snap.CurrentIndex); err != nil {
		logging.WarnWithContext(c.logger, "ledger reconcile failed", "ledger_write_failed", logging.Error(err))
	} else if removed > 0 {
		c.logger.Info("ledger reconciled with checkpoint",
			logging.EventType("ledger_reconciled"),
			logging.Int64("removed", removed),
		)
	}

	guard := &quota.Guard{}
	if snap.Quota != nil {
		guard.Observe(*snap.Quota)
	}
	target := StatePaused
	if State(snap.Status) == StateQuotaBlocked {
		target = StateQuotaBlocked
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return LoadResult{}, transitionError(c.state, target)
	}
	c.snap = snap
	c.guard = guard
	c.quotaHalt = target == StateQuotaBlocked
	if c.quotaHalt && snap.Quota != nil {
		c.upgradeURL = snap.Quota.UpgradeURL
	}
	if err := c.setStateLocked(target); err != nil {
		c.snap = nil
		return LoadResult{}, err
	}
	return LoadResult{Restored: true, State: target, SettingsChanged: res.SettingsChanged}, nil
}

// Resume continues a paused or quota-blocked run. A quota-blocked run
// refreshes the quota first and stays blocked while it is exhausted.
func (c *Controller) Resume(ctx context.Context) error {
	c.mu.Lock()
	if c.closed() {
		c.mu.Unlock()
		return ErrClosed
	}
	from := c.state
	c.mu.Unlock()
	if !from.Resumable() {
		return transitionError(from, StateRunning)
	}

	var refreshed *quota.State
	if from == StateQuotaBlocked {
		st, err := c.remote.Quota(ctx)
		if err != nil {
			return fmt.Errorf("refresh quota: %w", err)
		}
		if st.Exhausted() {
			c.mu.Lock()
			c.guard.Observe(st)
			if c.snap != nil {
				c.snap.Quota = &st
			}
			c.mu.Unlock()
			return ErrQuotaExhausted
		}
		refreshed = &st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return transitionError(c.state, StateRunning)
	}
	if refreshed != nil {
		c.guard.Observe(*refreshed)
		c.quotaHalt = false
		q := *refreshed
		c.snap.Quota = &q
	}
	if err := c.setStateLocked(StateRunning); err != nil {
		return err
	}
	c.ensureWorkerLocked()
	c.signalWake()
	return nil
}

// Pause requests a pause at the next item boundary.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return transitionError(c.state, StatePaused)
	}
	if err := c.setStateLocked(StatePaused); err != nil {
		return err
	}
	c.signalWake()
	return nil
}

// Stop ends the run at the next item boundary and clears its checkpoint.
// A paused or quota-blocked run is finished without processing more items.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateRunning:
	case StatePaused, StateQuotaBlocked:
		if c.closed() {
			return ErrClosed
		}
		if err := c.setStateLocked(StateRunning); err != nil {
			return err
		}
	default:
		return transitionError(c.state, StateStopping)
	}
	if err := c.setStateLocked(StateStopping); err != nil {
		return err
	}
	c.ensureWorkerLocked()
	c.signalWake()
	return nil
}

// Discard abandons a paused or quota-blocked run, removing its checkpoint
// and ledger entries. Discard on an idle controller clears any orphaned
// checkpoint.
func (c *Controller) Discard(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || c.workerActive {
		c.mu.Unlock()
		return ErrBusy
	}
	var runID string
	switch c.state {
	case StateIdle:
	case StatePaused, StateQuotaBlocked:
		runID = c.snap.RunID
		if err := c.setStateLocked(StateIdle); err != nil {
			c.mu.Unlock()
			return err
		}
		c.snap = nil
		c.quotaHalt = false
		c.upgradeURL = ""
		c.lastErr = ""
	default:
		from := c.state
		c.mu.Unlock()
		return transitionError(from, StateIdle)
	}
	seq := c.nextSeqLocked()
	c.mu.Unlock()

	if err := c.persist(ctx, seq, nil, true); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	if runID != "" {
		if err := c.ledger.DeleteRun(ctx, runID); err != nil {
			return fmt.Errorf("delete run: %w", err)
		}
		c.logger.Info("job discarded",
			logging.EventType("job_discarded"),
			logging.RunID(runID),
		)
	}
	return nil
}
