package quota

import (
	"errors"
	"fmt"
	"sync"
)

// ErrQuotaExceeded marks failures caused by an exhausted usage allowance.
var ErrQuotaExceeded = errors.New("quota exceeded")

// State is the last-known allowance reported by the server.
type State struct {
	Remaining  int    `json:"remaining"`
	Limit      int    `json:"limit"`
	Pro        bool   `json:"pro"`
	UpgradeURL string `json:"upgrade_url,omitempty"`
}

// Exhausted reports whether a restricted tier has no operations left.
func (s State) Exhausted() bool {
	return !s.Pro && s.Remaining <= 0
}

// ExceededError is the distinguished quota-exceeded upload failure.
type ExceededError struct {
	Message    string
	Quota      State
	UpgradeURL string
}

func (e *ExceededError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "monthly optimization quota reached"
	}
	if e.UpgradeURL != "" {
		return fmt.Sprintf("%s (upgrade: %s)", msg, e.UpgradeURL)
	}
	return msg
}

// Is lets errors.Is(err, ErrQuotaExceeded) match any ExceededError.
func (e *ExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// IsExceeded reports whether err carries the quota-exceeded signal.
func IsExceeded(err error) bool {
	return err != nil && errors.Is(err, ErrQuotaExceeded)
}

// AsExceeded extracts the ExceededError from err's chain.
func AsExceeded(err error) (*ExceededError, bool) {
	var exceeded *ExceededError
	if errors.As(err, &exceeded) {
		return exceeded, true
	}
	return nil, false
}

// Guard maintains the last-known quota state. It is safe for concurrent use.
type Guard struct {
	mu    sync.Mutex
	state State
	known bool
}

// NewGuard seeds a guard with an initial state.
func NewGuard(initial State) *Guard {
	return &Guard{state: initial, known: true}
}

// Observe replaces the state with an authoritative server response.
func (g *Guard) Observe(state State) {
	g.mu.Lock()
	g.state = state
	g.known = true
	g.mu.Unlock()
}

// Consume decrements the local remaining count by n when the server did not
// report a fresh state. Remaining never drops below zero.
func (g *Guard) Consume(n int) {
	if n <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state.Pro {
		return
	}
	g.state.Remaining -= n
	if g.state.Remaining < 0 {
		g.state.Remaining = 0
	}
}

// ShouldHalt reports whether the run must stop before the next item.
// Pro tiers never halt proactively; an unknown state never halts.
func (g *Guard) ShouldHalt(pending int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.known || pending <= 0 {
		return false
	}
	return g.state.Exhausted()
}

// Snapshot returns the current state and whether any state has been observed.
func (g *Guard) Snapshot() (State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state, g.known
}
