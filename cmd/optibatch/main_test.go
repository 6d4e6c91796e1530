package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"optibatch/internal/config"
	"optibatch/internal/daemon"
	"optibatch/internal/job"
	"optibatch/internal/ledger"
	"optibatch/internal/media"
	"optibatch/internal/quota"
	"optibatch/internal/testsupport"
)

type cliEnv struct {
	cfg        *config.Config
	remote     *testsupport.FakeRemote
	configPath string
}

// newCLIEnv writes a config with the daemon API disabled so every command
// runs against the local state directory and the fake remote.
func newCLIEnv(t *testing.T, fake *testsupport.FakeRemote) *cliEnv {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	cfg.Paths.APIBind = ""

	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "optibatch.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliEnv{cfg: cfg, remote: fake, configPath: path}
}

func (e *cliEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var configFlag string
	var jsonFlag bool
	ctx := newCommandContext(&configFlag, &jsonFlag)
	ctx.newRemote = func(*config.Config) (daemon.Remote, error) {
		return e.remote, nil
	}
	root := buildRootCommand(ctx)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func decodeJSON[T any](t *testing.T, raw string) T {
	t.Helper()
	var v T
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("decode %q: %v", raw, err)
	}
	return v
}

func TestRunCommandCompletesAndRecordsLedger(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddImageItems(t, 3)
	env := newCLIEnv(t, fake)

	out, stderr, err := env.run(t, "--json", "run", "--no-tui")
	if err != nil {
		t.Fatalf("run: %v (stderr %s)", err, stderr)
	}
	status := decodeJSON[job.Status](t, out)
	if status.State != job.StateCompleted {
		t.Fatalf("state = %s, want completed", status.State)
	}
	if status.Progress.CurrentIndex != 3 || status.Progress.TotalItems != 3 {
		t.Fatalf("progress = %+v", status.Progress)
	}
	if fake.HasCheckpoint(job.DefaultJob) {
		t.Fatal("completed run left a checkpoint behind")
	}

	out, _, err = env.run(t, "--json", "processed")
	if err != nil {
		t.Fatalf("processed: %v", err)
	}
	page := decodeJSON[ledger.Page[media.ResultRecord]](t, out)
	if page.Total != 3 || len(page.Items) != 3 {
		t.Fatalf("processed page = %+v", page)
	}
	for i, rec := range page.Items {
		if want := 2 - i; rec.Position != want {
			t.Fatalf("record %d position = %d, want %d (newest first)", i, rec.Position, want)
		}
	}

	out, _, err = env.run(t, "history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "completed") {
		t.Fatalf("history output missing outcome:\n%s", out)
	}
}

func TestRunCommandPlainOutputListsItems(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddImageItems(t, 2)
	env := newCLIEnv(t, fake)

	out, stderr, err := env.run(t, "run", "--no-tui")
	if err != nil {
		t.Fatalf("run: %v (stderr %s)", err, stderr)
	}
	for _, want := range []string{"[1/2]", "[2/2]", "Image 1", "Image 2"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestQuotaBlockedRunIsSavedForLater(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddImageItems(t, 3)
	fake.QuotaState = quota.State{Remaining: 1, Limit: 1}
	fake.TrackQuota = true
	env := newCLIEnv(t, fake)

	out, _, err := env.run(t, "run", "--no-tui")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Quota reached") || !strings.Contains(out, fake.UpgradeURL) {
		t.Fatalf("missing quota hint:\n%s", out)
	}
	if !fake.HasCheckpoint(job.DefaultJob) {
		t.Fatal("quota-blocked run should keep its checkpoint")
	}

	out, _, err = env.run(t, "--json", "remaining")
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	remaining := decodeJSON[ledger.Page[ledger.RemainingEntry]](t, out)
	if remaining.Total != 2 {
		t.Fatalf("remaining total = %d, want 2", remaining.Total)
	}
	if remaining.Items[0].Item.ID != 2 {
		t.Fatalf("first remaining item = %d, want 2", remaining.Items[0].Item.ID)
	}

	_, _, err = env.run(t, "run", "--no-tui")
	if err == nil || !strings.Contains(err.Error(), "quota still exhausted") {
		t.Fatalf("resume with exhausted quota err = %v", err)
	}

	out, _, err = env.run(t, "discard")
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if !strings.Contains(out, "Discarded saved run") {
		t.Fatalf("discard output = %q", out)
	}
	if fake.HasCheckpoint(job.DefaultJob) {
		t.Fatal("discard left the checkpoint behind")
	}
}

func TestDiscardWithoutSavedRun(t *testing.T) {
	env := newCLIEnv(t, testsupport.NewFakeRemote())
	out, _, err := env.run(t, "discard")
	if err != nil {
		t.Fatalf("discard: %v", err)
	}
	if strings.TrimSpace(out) != "No saved run" {
		t.Fatalf("discard output = %q", out)
	}
}

func TestStatsCommand(t *testing.T) {
	env := newCLIEnv(t, testsupport.NewFakeRemote())
	out, _, err := env.run(t, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	for _, want := range []string{"Optimized", "Saved", "0 B"} {
		if !strings.Contains(out, want) {
			t.Fatalf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestStatusWithoutDaemonShowsPreflight(t *testing.T) {
	env := newCLIEnv(t, testsupport.NewFakeRemote())
	out, _, err := env.run(t, "--json", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	result := decodeJSON[localStatus](t, out)
	if result.Job == nil || result.Job.State != job.StateIdle {
		t.Fatalf("job = %+v, want idle", result.Job)
	}
	if len(result.Preflight) == 0 {
		t.Fatal("expected preflight results")
	}
}

func TestRestoreAllCommandLocal(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddImageItems(t, 3)
	env := newCLIEnv(t, fake)

	if _, stderr, err := env.run(t, "restore-all"); err != nil {
		t.Fatalf("restore-all: %v (stderr %s)", err, stderr)
	}
	if got := fake.Restored(); len(got) != 3 {
		t.Fatalf("restored = %v, want 3 items", got)
	}
}

func TestJobCommandRequiresDaemonAPI(t *testing.T) {
	env := newCLIEnv(t, testsupport.NewFakeRemote())
	_, _, err := env.run(t, "job", "pause")
	if err == nil || !strings.Contains(err.Error(), "api_bind") {
		t.Fatalf("job pause err = %v", err)
	}
}

func TestLogsCommandFiltersByItem(t *testing.T) {
	fake := testsupport.NewFakeRemote()
	fake.AddImageItems(t, 2)
	env := newCLIEnv(t, fake)

	if _, _, err := env.run(t, "run", "--no-tui"); err != nil {
		t.Fatalf("run: %v", err)
	}
	out, _, err := env.run(t, "logs", "--item", "2", "--lines", "100")
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if !strings.Contains(out, "item #2]") {
		t.Fatalf("logs output missing item 2 lines:\n%s", out)
	}
	if strings.Contains(out, "item #1]") {
		t.Fatalf("logs output includes item 1 lines:\n%s", out)
	}
}
