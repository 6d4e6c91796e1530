package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"optibatch/internal/checkpoint"
	"optibatch/internal/testsupport"
)

func TestCancellationMidItemIsNotRecorded(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	payload := testsupport.PNG(t, 32, 32)
	fake.AddItem(1, payload, 50*1024)
	fake.AddItem(2, payload, 50*1024, 40*1024)
	fake.AddItem(3, payload, 50*1024)

	cfg := testsupport.NewConfig(t)
	opts := OptionsFromConfig(cfg)
	opts.YieldInterval = 0
	ctrl, err := NewController(opts, Dependencies{Remote: fake, Ledger: testsupport.MustOpenLedger(t, cfg)})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	fake.OnUpload = func(itemID int64, rendition string) {
		if itemID == 2 && rendition == "full" {
			ctrl.cancel()
		}
	}

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if ctrl.State() != StatePaused {
		t.Fatalf("state = %s, want paused", ctrl.State())
	}
	snap := ctrl.Snapshot()
	if snap.CurrentIndex != 1 || snap.Processed() != 1 {
		t.Fatalf("canceled item must not advance the index: %+v", snap)
	}
	var stored checkpoint.Snapshot
	if err := json.Unmarshal(fake.CheckpointData(DefaultJob), &stored); err != nil {
		t.Fatalf("decode checkpoint: %v", err)
	}
	if stored.CurrentIndex != 1 || stored.Status != string(StatePaused) {
		t.Fatalf("stored checkpoint index=%d status=%s", stored.CurrentIndex, stored.Status)
	}
	if err := ctrl.Start(context.Background()); err != ErrClosed {
		t.Fatalf("Start after shutdown = %v, want ErrClosed", err)
	}
}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateIdle, StateRunning, true},
		{StateIdle, StateStopping, false},
		{StateRunning, StateQuotaBlocked, true},
		{StatePaused, StateStopping, false},
		{StatePaused, StateRunning, true},
		{StateStopping, StatePaused, false},
		{StateQuotaBlocked, StateIdle, true},
		{StateCompleted, StateRunning, true},
		{StateCompleted, StatePaused, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.ok {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.ok)
		}
	}
	if State("bogus").Valid() {
		t.Fatal("unknown state reported valid")
	}
}

func TestYieldWakesOnSignal(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctrl, err := NewController(Options{YieldInterval: time.Hour}, Dependencies{
		Remote: testsupport.NewFakeRemote(),
		Ledger: testsupport.MustOpenLedger(t, cfg),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	ctrl.signalWake()
	done := make(chan struct{})
	go func() {
		ctrl.yield(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("yield ignored wake signal")
	}
}

func TestYieldUsesBackgroundIntervalWithoutViewer(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	ctrl, err := NewController(Options{YieldInterval: time.Millisecond, BackgroundYieldInterval: time.Hour}, Dependencies{
		Remote: testsupport.NewFakeRemote(),
		Ledger: testsupport.MustOpenLedger(t, cfg),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}

	start := time.Now()
	ctrl.yield(context.Background())
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("foreground yield took %s", elapsed)
	}

	ctrl.SetForeground(false)
	done := make(chan struct{})
	go func() {
		ctrl.yield(context.Background())
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("background yield returned before wake")
	case <-time.After(50 * time.Millisecond):
	}
	ctrl.signalWake()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("background yield ignored wake signal")
	}
}
