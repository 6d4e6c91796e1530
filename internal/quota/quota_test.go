package quota

import (
	"errors"
	"fmt"
	"testing"
)

func TestGuardShouldHalt(t *testing.T) {
	tests := []struct {
		name    string
		state   *State
		pending int
		want    bool
	}{
		{name: "unknown state", state: nil, pending: 3, want: false},
		{name: "remaining", state: &State{Remaining: 2, Limit: 100}, pending: 3, want: false},
		{name: "exhausted with pending", state: &State{Remaining: 0, Limit: 100}, pending: 1, want: true},
		{name: "exhausted nothing pending", state: &State{Remaining: 0, Limit: 100}, pending: 0, want: false},
		{name: "pro never halts", state: &State{Remaining: 0, Pro: true}, pending: 5, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g Guard
			if tt.state != nil {
				g.Observe(*tt.state)
			}
			if got := g.ShouldHalt(tt.pending); got != tt.want {
				t.Fatalf("ShouldHalt(%d) = %v, want %v", tt.pending, got, tt.want)
			}
		})
	}
}

func TestGuardConsumeClampsAtZero(t *testing.T) {
	g := NewGuard(State{Remaining: 2, Limit: 10})
	g.Consume(1)
	if st, _ := g.Snapshot(); st.Remaining != 1 {
		t.Fatalf("remaining = %d, want 1", st.Remaining)
	}
	g.Consume(5)
	if st, _ := g.Snapshot(); st.Remaining != 0 {
		t.Fatalf("remaining = %d, want 0", st.Remaining)
	}
	g.Observe(State{Remaining: 50, Limit: 100})
	if st, _ := g.Snapshot(); st.Remaining != 50 {
		t.Fatalf("observe did not refresh: %+v", st)
	}
}

func TestGuardConsumeIgnoresPro(t *testing.T) {
	g := NewGuard(State{Remaining: 0, Pro: true})
	g.Consume(3)
	if st, _ := g.Snapshot(); st.Remaining != 0 {
		t.Fatalf("pro remaining changed: %+v", st)
	}
}

func TestIsExceededThroughWrapping(t *testing.T) {
	base := &ExceededError{Quota: State{Remaining: 0, Limit: 100}, UpgradeURL: "https://example.test/upgrade"}
	wrapped := fmt.Errorf("upload medium: %w", base)
	if !IsExceeded(wrapped) {
		t.Fatal("expected wrapped error to be classified as quota exceeded")
	}
	got, ok := AsExceeded(wrapped)
	if !ok || got.UpgradeURL != base.UpgradeURL {
		t.Fatalf("AsExceeded = %v, %v", got, ok)
	}
	if IsExceeded(errors.New("HTTP 500")) {
		t.Fatal("generic error classified as quota exceeded")
	}
	if IsExceeded(nil) {
		t.Fatal("nil classified as quota exceeded")
	}
}
