package logs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"optibatch/internal/logs"
)

func writeLog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "optibatch.log")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	return path
}

func TestLastReturnsTrailingLines(t *testing.T) {
	path := writeLog(t, "a\nb\nc\n")

	chunk, err := logs.Last(path, 2, logs.Filter{})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(chunk.Lines) != 2 || chunk.Lines[0] != "b" || chunk.Lines[1] != "c" {
		t.Fatalf("unexpected lines: %#v", chunk.Lines)
	}
	if chunk.Offset != 6 {
		t.Fatalf("offset = %d, want 6", chunk.Offset)
	}
}

func TestLastMissingFile(t *testing.T) {
	chunk, err := logs.Last(filepath.Join(t.TempDir(), "absent.log"), 5, logs.Filter{})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}
	if len(chunk.Lines) != 0 || chunk.Offset != 0 {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}
}

func TestFilterMatchesConsoleAndJSON(t *testing.T) {
	lines := []string{
		"2026-01-02T03:04:05Z INFO [optimize · item #12] job: item processed run_id=abc status=success",
		`{"time":"2026-01-02T03:04:05Z","level":"WARN","msg":"upload failed","run_id":"abc","item_id":12}`,
		"2026-01-02T03:04:05Z INFO [optimize · item #13] job: item processed run_id=abc status=success",
		"2026-01-02T03:04:05Z INFO job: job started run_id=other",
	}
	tests := []struct {
		name   string
		filter logs.Filter
		want   []bool
	}{
		{"run", logs.Filter{RunID: "abc"}, []bool{true, true, true, false}},
		{"item", logs.Filter{ItemID: 12}, []bool{true, true, false, false}},
		{"level", logs.Filter{Level: "warn"}, []bool{false, true, false, false}},
		{"none", logs.Filter{}, []bool{true, true, true, true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i, line := range lines {
				if got := tt.filter.Match(line); got != tt.want[i] {
					t.Fatalf("line %d match = %v, want %v", i, got, tt.want[i])
				}
			}
		})
	}
}

func TestSinceSkipsPartialLine(t *testing.T) {
	path := writeLog(t, "one\ntwo")

	chunk, err := logs.Since(path, 0, logs.Filter{})
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	if len(chunk.Lines) != 1 || chunk.Lines[0] != "one" || chunk.Offset != 4 {
		t.Fatalf("unexpected chunk: %+v", chunk)
	}
}

func TestFollowDeliversAppendedLines(t *testing.T) {
	path := writeLog(t, "start\n")
	initial, err := logs.Last(path, 1, logs.Filter{})
	if err != nil {
		t.Fatalf("Last: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- logs.Follow(ctx, path, initial.Offset, 10*time.Millisecond, logs.Filter{}, func(line string) error {
			got <- line
			return errStop
		})
	}()

	time.Sleep(50 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open append: %v", err)
	}
	if _, err := f.WriteString("later\n"); err != nil {
		t.Fatalf("append log: %v", err)
	}
	_ = f.Close()

	select {
	case line := <-got:
		if line != "later" {
			t.Fatalf("followed line = %q", line)
		}
	case <-ctx.Done():
		t.Fatal("follow did not deliver the appended line")
	}
	if err := <-errCh; !errors.Is(err, errStop) {
		t.Fatalf("Follow err = %v", err)
	}
}

var errStop = errors.New("stop")
