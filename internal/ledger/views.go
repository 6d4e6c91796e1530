package ledger

import "optibatch/internal/media"

const (
	defaultPerPage = 20
	maxPerPage     = 200
)

// Pagination selects a 1-based page.
type Pagination struct {
	Page    int
	PerPage int
}

func (p Pagination) normalize() Pagination {
	if p.PerPage <= 0 {
		p.PerPage = defaultPerPage
	}
	if p.PerPage > maxPerPage {
		p.PerPage = maxPerPage
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	return p
}

func (p Pagination) offset() int {
	return (p.Page - 1) * p.PerPage
}

// Page is one slice of a paginated view.
type Page[T any] struct {
	Items   []T `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Pages   int `json:"pages"`
}

func newPage[T any](items []T, total int, p Pagination) Page[T] {
	pages := 0
	if total > 0 {
		pages = (total + p.PerPage - 1) / p.PerPage
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, Total: total, Page: p.Page, PerPage: p.PerPage, Pages: pages}
}

// Remaining item states.
const (
	RemainingInProgress = "in_progress"
	RemainingPaused     = "paused"
	RemainingPending    = "pending"
)

// RemainingEntry is one not-yet-processed queue item.
type RemainingEntry struct {
	Position int            `json:"position"`
	Item     media.WorkItem `json:"item"`
	State    string         `json:"state"`
}

// Remaining pages through queue[index:]. The item at index is flagged
// in_progress while running and paused otherwise.
func Remaining(queue []media.WorkItem, index int, running bool, p Pagination) Page[RemainingEntry] {
	pg := p.normalize()
	if index < 0 {
		index = 0
	}
	if index > len(queue) {
		index = len(queue)
	}
	tail := queue[index:]
	total := len(tail)

	start := pg.offset()
	if start > total {
		start = total
	}
	end := start + pg.PerPage
	if end > total {
		end = total
	}

	entries := make([]RemainingEntry, 0, end-start)
	for i := start; i < end; i++ {
		state := RemainingPending
		if i == 0 {
			state = RemainingPaused
			if running {
				state = RemainingInProgress
			}
		}
		entries = append(entries, RemainingEntry{Position: index + i, Item: tail[i], State: state})
	}
	return newPage(entries, total, pg)
}
