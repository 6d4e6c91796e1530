package job

import (
	"sync"
	"time"

	"optibatch/internal/checkpoint"
	"optibatch/internal/media"
)

// EventType classifies controller events.
type EventType string

const (
	EventStateChanged  EventType = "state"
	EventItemProcessed EventType = "progress"
)

// Progress summarizes a snapshot's counters.
type Progress struct {
	RunID           string `json:"run_id,omitempty"`
	CurrentIndex    int    `json:"current_index"`
	TotalItems      int    `json:"total_items"`
	SuccessCount    int    `json:"success_count"`
	SkippedCount    int    `json:"skipped_count"`
	ErrorCount      int    `json:"error_count"`
	TotalSavedBytes int64  `json:"total_saved_bytes"`
	AverageSavings  int    `json:"average_savings_percent"`
}

// Percent is the completed share of the queue, 0..100.
func (p Progress) Percent() float64 {
	if p.TotalItems <= 0 {
		return 0
	}
	return float64(p.CurrentIndex) / float64(p.TotalItems) * 100
}

func progressOf(snap *checkpoint.Snapshot) Progress {
	if snap == nil {
		return Progress{}
	}
	return Progress{
		RunID:           snap.RunID,
		CurrentIndex:    snap.CurrentIndex,
		TotalItems:      snap.TotalItems,
		SuccessCount:    snap.SuccessCount,
		SkippedCount:    snap.SkippedCount,
		ErrorCount:      snap.ErrorCount,
		TotalSavedBytes: snap.TotalSavedBytes,
		AverageSavings:  snap.AverageSavingsPercent(),
	}
}

// Event is published to subscribers on every state change and processed item.
type Event struct {
	Type     EventType           `json:"type"`
	Job      string              `json:"job"`
	State    State               `json:"state"`
	Previous State               `json:"previous,omitempty"`
	Progress Progress            `json:"progress"`
	Record   *media.ResultRecord `json:"record,omitempty"`
	At       time.Time           `json:"at"`
}

type broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (b *broadcaster) subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := sync.OnceFunc(func() {
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	})
	return ch, cancel
}

// publish never blocks; a subscriber that falls behind misses events.
func (b *broadcaster) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *broadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
