package job

import (
	"context"
	"fmt"
	"time"

	"optibatch/internal/checkpoint"
	"optibatch/internal/ledger"
	"optibatch/internal/logging"
	"optibatch/internal/media"
	"optibatch/internal/notifications"
	"optibatch/internal/quota"
	"optibatch/internal/remote"
	"optibatch/internal/services"
	"optibatch/internal/transform"
)

type stepKind int

const (
	stepProcess stepKind = iota
	stepPark
	stepBlocked
	stepFinish
)

// step is what the worker decided to do at one item boundary.
type step struct {
	kind       stepKind
	runID      string
	index      int
	item       media.WorkItem
	settings   media.Settings
	guard      *quota.Guard
	outcome    string
	seq        uint64
	snapshot   *checkpoint.Snapshot
	upgradeURL string
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		st := c.nextStep(ctx)
		switch st.kind {
		case stepProcess:
			c.processAndRecord(ctx, st)
			c.yield(ctx)
		case stepPark:
			c.park(ctx, st)
			return
		case stepBlocked:
			c.block(ctx, st)
			return
		case stepFinish:
			c.finish(ctx, st)
			return
		}
	}
}

// nextStep evaluates the loop-top rules under the controller mutex. Any
// exit step marks the worker inactive before the lock is released.
func (c *Controller) nextStep(ctx context.Context) step {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ctx.Err() != nil && c.state == StateRunning {
		_ = c.setStateLocked(StatePaused)
	}

	switch c.state {
	case StateRunning:
		pending := c.snap.Pending()
		if pending <= 0 {
			_ = c.setStateLocked(StateCompleted)
			return c.exitLocked(stepFinish, ledger.OutcomeCompleted)
		}
		if c.quotaHalt || c.guard.ShouldHalt(pending) {
			if q, ok := c.guard.Snapshot(); ok {
				c.snap.Quota = &q
				if c.upgradeURL == "" {
					c.upgradeURL = q.UpgradeURL
				}
			}
			_ = c.setStateLocked(StateQuotaBlocked)
			return c.exitLocked(stepBlocked, ledger.OutcomeQuotaBlocked)
		}
		item, _ := c.snap.Current()
		return step{
			kind:     stepProcess,
			runID:    c.snap.RunID,
			index:    c.snap.CurrentIndex,
			item:     item,
			settings: c.snap.Settings,
			guard:    c.guard,
		}
	case StateStopping:
		_ = c.setStateLocked(StateCompleted)
		return c.exitLocked(stepFinish, ledger.OutcomeStopped)
	default:
		return c.exitLocked(stepPark, "")
	}
}

func (c *Controller) exitLocked(kind stepKind, outcome string) step {
	c.workerActive = false
	st := step{
		kind:       kind,
		outcome:    outcome,
		seq:        c.nextSeqLocked(),
		snapshot:   c.snap.Clone(),
		upgradeURL: c.upgradeURL,
	}
	if c.snap != nil {
		st.runID = c.snap.RunID
	}
	return st
}

func (c *Controller) park(ctx context.Context, st step) {
	if st.snapshot == nil {
		return
	}
	saveCtx, cancel := detachedContext(ctx)
	defer cancel()
	_ = c.persist(saveCtx, st.seq, st.snapshot, false)
	c.logger.Info("job parked",
		logging.EventType("job_parked"),
		logging.RunID(st.runID),
		logging.String("state", st.snapshot.Status),
		logging.Int("current_index", st.snapshot.CurrentIndex),
		logging.Int("total_items", st.snapshot.TotalItems),
	)
}

func (c *Controller) block(ctx context.Context, st step) {
	saveCtx, cancel := detachedContext(ctx)
	defer cancel()
	_ = c.persist(saveCtx, st.seq, st.snapshot, false)
	logging.WarnWithContext(c.logger, "usage quota reached; run parked", "quota_blocked",
		logging.RunID(st.runID),
		logging.Int("current_index", st.snapshot.CurrentIndex),
		logging.Int("total_items", st.snapshot.TotalItems),
		logging.String(logging.FieldErrorHint, "upgrade the plan or wait for the quota to refresh, then resume"),
		logging.String(logging.FieldImpact, "remaining items are not processed until resumed"),
	)
	c.notify(saveCtx, notifications.EventQuotaBlocked, notifications.Payload{
		"processed":  st.snapshot.CurrentIndex,
		"total":      st.snapshot.TotalItems,
		"upgradeURL": st.upgradeURL,
	})
}

func (c *Controller) finish(ctx context.Context, st step) {
	saveCtx, cancel := detachedContext(ctx)
	defer cancel()
	_ = c.persist(saveCtx, st.seq, nil, true)
	snap := st.snapshot
	if err := c.ledger.FinishRun(saveCtx, st.runID, st.outcome, c.now().UTC()); err != nil {
		logging.WarnWithContext(c.logger, "ledger finish failed", "ledger_write_failed",
			logging.RunID(st.runID),
			logging.Error(err),
		)
	}
	c.logger.Info("job finished",
		logging.EventType("job_finished"),
		logging.RunID(st.runID),
		logging.String("outcome", st.outcome),
		logging.Int("success", snap.SuccessCount),
		logging.Int("skipped", snap.SkippedCount),
		logging.Int("failed", snap.ErrorCount),
		logging.Int64("saved_bytes", snap.TotalSavedBytes),
	)
	switch st.outcome {
	case ledger.OutcomeStopped:
		c.notify(saveCtx, notifications.EventRunStopped, notifications.Payload{
			"processed": snap.CurrentIndex,
			"total":     snap.TotalItems,
		})
	default:
		c.notify(saveCtx, notifications.EventRunCompleted, notifications.Payload{
			"success":        snap.SuccessCount,
			"skipped":        snap.SkippedCount,
			"failed":         snap.ErrorCount,
			"savedBytes":     snap.TotalSavedBytes,
			"averageSavings": snap.AverageSavingsPercent(),
		})
	}
}

func (c *Controller) yield(ctx context.Context) {
	c.mu.Lock()
	interval := c.opts.BackgroundYieldInterval
	if c.foreground {
		interval = c.opts.YieldInterval
	}
	c.mu.Unlock()
	if interval <= 0 {
		return
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	case <-c.wake:
	}
}

// itemOutcome is the resolved result of one item. A canceled item and an
// item interrupted by the quota before any rendition was saved are not
// recorded, so the same index is processed again on resume.
type itemOutcome struct {
	record     media.ResultRecord
	canceled   bool
	unrecorded bool
	exceeded   *quota.ExceededError
}

func (c *Controller) processAndRecord(ctx context.Context, st step) {
	out := c.processItem(ctx, st)
	if out.canceled {
		return
	}
	if out.unrecorded {
		c.mu.Lock()
		c.quotaHalt = true
		if out.exceeded != nil && out.exceeded.UpgradeURL != "" {
			c.upgradeURL = out.exceeded.UpgradeURL
		}
		c.mu.Unlock()
		return
	}

	rec := out.record
	rec.Position = st.index
	rec.RecordedAt = c.now().UTC()

	c.mu.Lock()
	c.snap.Record(rec)
	if q, ok := st.guard.Snapshot(); ok {
		c.snap.Quota = &q
	}
	if out.exceeded != nil {
		c.quotaHalt = true
		if out.exceeded.UpgradeURL != "" {
			c.upgradeURL = out.exceeded.UpgradeURL
		}
	}
	if rec.Status == media.StatusError {
		c.lastErr = rec.ErrorMessage
	}
	seq := c.nextSeqLocked()
	snap := c.snap.Clone()
	state := c.state
	c.mu.Unlock()

	writeCtx, cancel := detachedContext(ctx)
	defer cancel()
	if err := c.ledger.Append(writeCtx, st.runID, rec); err != nil {
		logging.WarnWithContext(c.logger, "ledger append failed", "ledger_write_failed",
			logging.RunID(st.runID),
			logging.Int("position", rec.Position),
			logging.Error(err),
			logging.String(logging.FieldImpact, "processed view may omit this item"),
		)
	}
	_ = c.persist(writeCtx, seq, snap, false)
	c.annotate(writeCtx, st, rec)

	logger := logging.WithContext(services.WithItemID(ctx, rec.ItemID), c.logger)
	logger.Info("item processed",
		logging.EventType("item_complete"),
		logging.RunID(st.runID),
		logging.Int("position", rec.Position),
		logging.String("status", string(rec.Status)),
		logging.Int64("saved_bytes", rec.SavedBytes),
		logging.Int("savings_percent", rec.SavingsPercent),
		logging.Int("progress", snap.CurrentIndex),
		logging.Int("total_items", snap.TotalItems),
	)

	c.events.publish(Event{
		Type:     EventItemProcessed,
		Job:      c.opts.Job,
		State:    state,
		Progress: progressOf(snap),
		Record:   &rec,
		At:       rec.RecordedAt,
	})
}

// annotate mirrors skipped and failed outcomes to the server. It is best
// effort; the ledger entry is authoritative.
func (c *Controller) annotate(ctx context.Context, st step, rec media.ResultRecord) {
	var err error
	switch rec.Status {
	case media.StatusSkipped:
		err = c.remote.MarkSkipped(ctx, rec.ItemID, fmt.Sprintf("all renditions below %d KB", st.settings.MinSizeKB))
	case media.StatusError:
		err = c.remote.MarkFailed(ctx, rec.ItemID, rec.ErrorMessage)
	default:
		return
	}
	if err != nil {
		logging.WarnWithContext(c.logger, "item annotation failed", "annotation_failed",
			logging.ItemID(rec.ItemID),
			logging.String("status", string(rec.Status)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "server listing may still show the item as pending"),
		)
	}
}

func (c *Controller) processItem(ctx context.Context, st step) itemOutcome {
	item := st.item
	ctx = services.WithItemID(ctx, item.ID)
	logger := logging.WithContext(ctx, c.logger)
	rec := media.ResultRecord{ItemID: item.ID, Filename: item.Filename, Title: item.Title}

	renditions, err := c.remote.Renditions(ctx, item.ID)
	if err != nil {
		if canceled(ctx, err) {
			return itemOutcome{canceled: true}
		}
		return failedOutcome(rec, fmt.Errorf("list renditions: %w", err))
	}
	if len(renditions) == 0 {
		return failedOutcome(rec, services.Wrap(services.ErrValidation, "job", "list renditions", "item has no renditions", nil))
	}

	opts := transform.OptionsFromSettings(st.settings)
	var (
		saved    int
		eligible int
		out      itemOutcome
	)
	for _, r := range renditions {
		if st.settings.ShouldSkip(r) {
			logger.Debug("rendition below size threshold",
				logging.String("rendition", r.Name),
				logging.Int64("bytes", r.Bytes),
			)
			continue
		}
		eligible++
		res, err := c.processRendition(ctx, st, item, r, opts)
		if err != nil {
			if canceled(ctx, err) {
				return itemOutcome{canceled: true}
			}
			if exceeded, ok := quota.AsExceeded(err); ok {
				q := exceeded.Quota
				if !q.Pro {
					q.Remaining = 0
				}
				st.guard.Observe(q)
				out.exceeded = exceeded
				if saved == 0 {
					out.unrecorded = true
					return out
				}
				break
			}
			failed := failedOutcome(rec, fmt.Errorf("rendition %s: %w", r.Name, err))
			failed.record.SavingsPercent = media.SavingsPercent(rec.OriginalBytes, rec.OptimizedBytes)
			return failed
		}
		saved++
		rec.OriginalBytes += res.OriginalBytes
		rec.OptimizedBytes += res.OptimizedBytes
		rec.SavedBytes += res.SavedBytes
	}

	switch {
	case saved > 0:
		rec.Status = media.StatusSuccess
	case eligible == 0:
		rec.Status = media.StatusSkipped
	}
	rec.SavingsPercent = media.SavingsPercent(rec.OriginalBytes, rec.OptimizedBytes)
	out.record = rec
	return out
}

type renditionResult struct {
	OriginalBytes  int64
	OptimizedBytes int64
	SavedBytes     int64
}

func (c *Controller) processRendition(ctx context.Context, st step, item media.WorkItem, r media.Rendition, opts transform.Options) (renditionResult, error) {
	src, err := c.remote.FetchSource(ctx, r)
	if err != nil {
		return renditionResult{}, err
	}
	res, err := c.engine.Transform(ctx, src, opts)
	if err != nil {
		return renditionResult{}, err
	}
	up, err := c.remote.Upload(ctx, remote.UploadRequest{
		ItemID:          item.ID,
		Rendition:       r.Name,
		Payload:         res.Data,
		Format:          res.Format,
		MimeType:        res.MimeType,
		OriginalBytes:   res.OriginalBytes,
		OptimizedBytes:  res.OptimizedBytes,
		AutoReplaceURLs: st.settings.AutoReplaceURLs,
	})
	if err != nil {
		return renditionResult{}, err
	}
	if up.Quota != nil {
		st.guard.Observe(*up.Quota)
	} else {
		st.guard.Consume(1)
	}
	return renditionResult{
		OriginalBytes:  res.OriginalBytes,
		OptimizedBytes: res.OptimizedBytes,
		SavedBytes:     up.SavedBytes,
	}, nil
}

func failedOutcome(rec media.ResultRecord, err error) itemOutcome {
	rec.Status = media.StatusError
	rec.ErrorMessage = err.Error()
	return itemOutcome{record: rec}
}
