package testsupport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"optibatch/internal/media"
	"optibatch/internal/quota"
	"optibatch/internal/remote"
	"optibatch/internal/services"
)

// FakeRemote is an in-memory content server. It records every call in
// order so tests can assert single-flight processing from the call log.
type FakeRemote struct {
	mu sync.Mutex

	Items       []media.WorkItem
	renditions  map[int64][]media.Rendition
	sources     map[string][]byte
	checkpoints map[string][]byte

	QuotaState quota.State
	// TrackQuota decrements QuotaState per upload and refuses uploads once a
	// restricted tier reaches zero.
	TrackQuota  bool
	UpgradeURL  string
	ListErr     error
	UploadErrs  map[int64]error
	RestoreErrs map[int64]error
	SaveErr     error
	// SyncUnreported ids are left out of both the synced count and the
	// failed list of a sync response.
	SyncUnreported map[int64]bool

	// OnUpload runs after a successful upload, outside the lock.
	OnUpload func(itemID int64, rendition string)

	calls    []string
	uploads  []remote.UploadRequest
	skipped  map[int64]string
	failed   map[int64]string
	restored []int64
	synced   [][]int64
	stats    remote.Stats
}

// NewFakeRemote builds an empty fake with an unlimited pro quota.
func NewFakeRemote() *FakeRemote {
	return &FakeRemote{
		renditions:     map[int64][]media.Rendition{},
		sources:        map[string][]byte{},
		checkpoints:    map[string][]byte{},
		UploadErrs:     map[int64]error{},
		RestoreErrs:    map[int64]error{},
		SyncUnreported: map[int64]bool{},
		skipped:        map[int64]string{},
		failed:         map[int64]string{},
		QuotaState:     quota.State{Remaining: 1000, Limit: 1000, Pro: true},
		UpgradeURL:     "https://example.test/upgrade",
	}
}

// AddItem queues an item whose renditions all serve payload. Each entry of
// sizes declares one rendition's server-reported byte size.
func (f *FakeRemote) AddItem(id int64, payload []byte, sizes ...int64) media.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := media.WorkItem{ID: id, Filename: fmt.Sprintf("image-%d.png", id), Title: fmt.Sprintf("Image %d", id)}
	f.Items = append(f.Items, item)
	names := []string{"full", "large", "medium", "thumbnail"}
	for i, size := range sizes {
		name := fmt.Sprintf("size-%d", i)
		if i < len(names) {
			name = names[i]
		}
		url := fmt.Sprintf("/uploads/%d/%s.png", id, name)
		f.renditions[id] = append(f.renditions[id], media.Rendition{Name: name, SourceURL: url, Bytes: size, Width: 64, Height: 32, MimeType: "image/png"})
		f.sources[url] = payload
	}
	return item
}

// AddImageItems queues n items with ids 1..n, each with one large PNG rendition.
func (f *FakeRemote) AddImageItems(t testing.TB, n int) {
	t.Helper()
	payload := PNG(t, 64, 32)
	for i := 1; i <= n; i++ {
		f.AddItem(int64(i), payload, 50*1024)
	}
}

func (f *FakeRemote) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *FakeRemote) ListPending(_ context.Context, filter string) ([]media.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("list:" + filter)
	if f.ListErr != nil {
		return nil, f.ListErr
	}
	var pending []media.WorkItem
	for _, item := range f.Items {
		if _, ok := f.skipped[item.ID]; ok {
			continue
		}
		if _, ok := f.failed[item.ID]; ok {
			continue
		}
		pending = append(pending, item)
	}
	return pending, nil
}

func (f *FakeRemote) Renditions(ctx context.Context, itemID int64) ([]media.Rendition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("renditions:%d", itemID))
	return append([]media.Rendition(nil), f.renditions[itemID]...), nil
}

func (f *FakeRemote) FetchSource(ctx context.Context, r media.Rendition) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("fetch:" + r.SourceURL)
	data, ok := f.sources[r.SourceURL]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "fake", "fetch source", r.SourceURL, nil)
	}
	return data, nil
}

func (f *FakeRemote) Upload(ctx context.Context, up remote.UploadRequest) (*remote.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.record(fmt.Sprintf("upload:%d/%s", up.ItemID, up.Rendition))
	if err := f.UploadErrs[up.ItemID]; err != nil {
		f.mu.Unlock()
		return nil, err
	}
	if f.TrackQuota && !f.QuotaState.Pro {
		if f.QuotaState.Remaining <= 0 {
			state := f.QuotaState
			f.mu.Unlock()
			return nil, &quota.ExceededError{Message: "quota reached", Quota: state, UpgradeURL: f.UpgradeURL}
		}
		f.QuotaState.Remaining--
	}
	f.uploads = append(f.uploads, up)
	saved := up.OriginalBytes - up.OptimizedBytes
	if saved < 0 {
		saved = 0
	}
	f.stats.TotalSavedBytes += saved
	state := f.quotaLocked()
	hook := f.OnUpload
	f.mu.Unlock()

	if hook != nil {
		hook(up.ItemID, up.Rendition)
	}
	return &remote.UploadResult{SavedBytes: saved, Quota: &state}, nil
}

func (f *FakeRemote) MarkSkipped(_ context.Context, itemID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("skip:%d", itemID))
	f.skipped[itemID] = reason
	f.stats.SkippedCount++
	return nil
}

func (f *FakeRemote) MarkFailed(_ context.Context, itemID int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("fail:%d", itemID))
	f.failed[itemID] = reason
	f.stats.FailedCount++
	return nil
}

func (f *FakeRemote) SaveCheckpoint(_ context.Context, job string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("checkpoint:save")
	if f.SaveErr != nil {
		return f.SaveErr
	}
	f.checkpoints[job] = append([]byte(nil), data...)
	return nil
}

func (f *FakeRemote) LoadCheckpoint(_ context.Context, job string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.checkpoints[job]
	return data, ok, nil
}

func (f *FakeRemote) ClearCheckpoint(_ context.Context, job string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("checkpoint:clear")
	delete(f.checkpoints, job)
	return nil
}

func (f *FakeRemote) Quota(context.Context) (quota.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quotaLocked(), nil
}

func (f *FakeRemote) quotaLocked() quota.State {
	state := f.QuotaState
	if !state.Pro && state.UpgradeURL == "" {
		state.UpgradeURL = f.UpgradeURL
	}
	return state
}

func (f *FakeRemote) Stats(context.Context) (remote.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := f.stats
	stats.OptimizedCount = len(f.uploads)
	return stats, nil
}

func (f *FakeRemote) Restorable(context.Context) ([]media.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.WorkItem(nil), f.Items...), nil
}

func (f *FakeRemote) Restore(ctx context.Context, itemID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("restore:%d", itemID))
	if err := f.RestoreErrs[itemID]; err != nil {
		return err
	}
	f.restored = append(f.restored, itemID)
	return nil
}

func (f *FakeRemote) Library(context.Context) ([]media.WorkItem, error) {
	return f.Restorable(context.Background())
}

func (f *FakeRemote) Sync(ctx context.Context, ids []int64) (remote.SyncResult, error) {
	if err := ctx.Err(); err != nil {
		return remote.SyncResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("sync:%v", ids))
	batch := append([]int64(nil), ids...)
	f.synced = append(f.synced, batch)
	var result remote.SyncResult
	for _, id := range batch {
		if f.SyncUnreported[id] {
			continue
		}
		if err := f.RestoreErrs[id]; err != nil {
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Synced++
	}
	return result, nil
}

// Calls returns the ordered call log.
func (f *FakeRemote) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Uploads returns every accepted upload.
func (f *FakeRemote) Uploads() []remote.UploadRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.UploadRequest(nil), f.uploads...)
}

// UploadCount counts accepted uploads for one item.
func (f *FakeRemote) UploadCount(itemID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, up := range f.uploads {
		if up.ItemID == itemID {
			n++
		}
	}
	return n
}

// Skipped returns the skip annotation for an item.
func (f *FakeRemote) Skipped(itemID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.skipped[itemID]
	return reason, ok
}

// Failed returns the failure annotation for an item.
func (f *FakeRemote) Failed(itemID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	reason, ok := f.failed[itemID]
	return reason, ok
}

// Restored returns restored item ids in call order.
func (f *FakeRemote) Restored() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.restored...)
}

// SyncBatches returns each library-sync batch in call order.
func (f *FakeRemote) SyncBatches() [][]int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]int64(nil), f.synced...)
}

// HasCheckpoint reports whether a checkpoint is stored for job.
func (f *FakeRemote) HasCheckpoint(job string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.checkpoints[job]
	return ok
}

// CheckpointData returns the raw stored checkpoint for job.
func (f *FakeRemote) CheckpointData(job string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.checkpoints[job]...)
}

// ErrFake is a generic injected failure.
var ErrFake = errors.New("injected failure")
