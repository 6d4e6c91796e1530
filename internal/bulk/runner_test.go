package bulk_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"optibatch/internal/bulk"
	"optibatch/internal/media"
	"optibatch/internal/testsupport"
)

func runWithTimeout(t *testing.T, r *bulk.Runner) bulk.Progress {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	progress, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return progress
}

func TestRestoreAllRecordsPerItemOutcome(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	for id := int64(1); id <= 4; id++ {
		fake.AddItem(id, nil)
	}
	fake.RestoreErrs[3] = testsupport.ErrFake
	runner, err := bulk.NewRunner(bulk.WorkflowRestore, fake, bulk.Options{BatchSize: 10})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	progress := runWithTimeout(t, runner)

	if progress.State != bulk.StateCompleted || progress.Stopped {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if progress.Succeeded != 3 || progress.Failed != 1 || progress.CurrentIndex != 4 {
		t.Fatalf("unexpected counts: %+v", progress)
	}
	if len(progress.FailedIDs) != 1 || progress.FailedIDs[0] != 3 {
		t.Fatalf("failed ids = %v", progress.FailedIDs)
	}
	restored := fake.Restored()
	if len(restored) != 3 || restored[0] != 1 || restored[2] != 4 {
		t.Fatalf("restored = %v", restored)
	}
}

func TestLibrarySyncBatches(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	for id := int64(1); id <= 7; id++ {
		fake.AddItem(id, nil)
	}
	fake.RestoreErrs[6] = testsupport.ErrFake
	runner, err := bulk.NewRunner(bulk.WorkflowSync, fake, bulk.Options{BatchSize: 3})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	progress := runWithTimeout(t, runner)

	batches := fake.SyncBatches()
	if len(batches) != 3 || len(batches[0]) != 3 || len(batches[2]) != 1 {
		t.Fatalf("batches = %v", batches)
	}
	if progress.Succeeded != 6 || progress.Failed != 1 || progress.CurrentIndex != 7 {
		t.Fatalf("unexpected counts: %+v", progress)
	}
}

func TestLibrarySyncCountsUnreportedAsFailed(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	for id := int64(1); id <= 4; id++ {
		fake.AddItem(id, nil)
	}
	fake.SyncUnreported[3] = true
	runner, err := bulk.NewRunner(bulk.WorkflowSync, fake, bulk.Options{BatchSize: 4})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}

	progress := runWithTimeout(t, runner)

	if progress.Succeeded != 3 || progress.Failed != 1 || progress.CurrentIndex != 4 {
		t.Fatalf("unexpected counts: %+v", progress)
	}
	if progress.Succeeded+progress.Failed != progress.CurrentIndex {
		t.Fatalf("accounting mismatch: %+v", progress)
	}
}

func TestStopEndsAtIterationBoundary(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	for id := int64(1); id <= 50; id++ {
		fake.AddItem(id, nil)
	}
	runner, err := bulk.NewRunner(bulk.WorkflowRestore, fake, bulk.Options{YieldInterval: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	updates, cancel := runner.Subscribe(128)
	defer cancel()

	if err := runner.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := runner.Start(context.Background()); !errors.Is(err, bulk.ErrBusy) {
		t.Fatalf("second Start = %v, want ErrBusy", err)
	}
	for update := range updates {
		if update.CurrentIndex >= 1 {
			break
		}
	}
	if err := runner.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	ctx, cancelWait := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelWait()
	if err := runner.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	progress := runner.Status()
	if !progress.Stopped || progress.State != bulk.StateCompleted {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if progress.CurrentIndex >= 50 || progress.CurrentIndex != len(fake.Restored()) {
		t.Fatalf("index %d, restored %d", progress.CurrentIndex, len(fake.Restored()))
	}
	if err := runner.Stop(); !errors.Is(err, bulk.ErrNotRunning) {
		t.Fatalf("Stop after finish = %v", err)
	}
}

func TestListingFailureDoesNotStart(t *testing.T) {
	runner, err := bulk.NewRunner(bulk.WorkflowRestore, failingLister{}, bulk.Options{})
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	if err := runner.Start(context.Background()); !errors.Is(err, testsupport.ErrFake) {
		t.Fatalf("Start = %v", err)
	}
	if st := runner.Status(); st.State != bulk.StateIdle {
		t.Fatalf("state = %s", st.State)
	}
}

func TestNewRunnerRejectsUnknownWorkflow(t *testing.T) {
	if _, err := bulk.NewRunner("archive", testsupport.NewFakeRemote(), bulk.Options{}); err == nil {
		t.Fatal("expected error")
	}
}

type failingLister struct{ *testsupport.FakeRemote }

func (failingLister) Restorable(context.Context) ([]media.WorkItem, error) {
	return nil, testsupport.ErrFake
}
