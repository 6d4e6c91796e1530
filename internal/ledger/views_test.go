package ledger

import (
	"testing"

	"optibatch/internal/media"
)

func queueOf(n int) []media.WorkItem {
	items := make([]media.WorkItem, n)
	for i := range items {
		items[i] = media.WorkItem{ID: int64(i + 1)}
	}
	return items
}

func TestRemainingFlagsCurrentItem(t *testing.T) {
	queue := queueOf(5)

	page := Remaining(queue, 2, true, Pagination{})
	if page.Total != 3 || len(page.Items) != 3 {
		t.Fatalf("unexpected page %+v", page)
	}
	if page.Items[0].State != RemainingInProgress || page.Items[0].Position != 2 || page.Items[0].Item.ID != 3 {
		t.Fatalf("unexpected head %+v", page.Items[0])
	}
	if page.Items[1].State != RemainingPending {
		t.Fatalf("second entry state = %s", page.Items[1].State)
	}

	paused := Remaining(queue, 2, false, Pagination{})
	if paused.Items[0].State != RemainingPaused {
		t.Fatalf("paused head state = %s", paused.Items[0].State)
	}
}

func TestRemainingPaginatesIndependently(t *testing.T) {
	queue := queueOf(45)
	page := Remaining(queue, 5, false, Pagination{Page: 2, PerPage: 15})
	if page.Total != 40 || page.Pages != 3 || len(page.Items) != 15 {
		t.Fatalf("unexpected meta %+v", page)
	}
	if page.Items[0].Position != 20 || page.Items[0].State != RemainingPending {
		t.Fatalf("page 2 head = %+v", page.Items[0])
	}

	done := Remaining(queue, 45, false, Pagination{})
	if done.Total != 0 || len(done.Items) != 0 || done.Pages != 0 {
		t.Fatalf("expected empty view, got %+v", done)
	}
	clamped := Remaining(queue, 99, true, Pagination{PerPage: 1000})
	if clamped.Total != 0 || clamped.PerPage != maxPerPage {
		t.Fatalf("expected clamped view, got %+v", clamped)
	}
}
