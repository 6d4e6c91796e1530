package checkpoint

import (
	"fmt"
	"time"

	"optibatch/internal/media"
	"optibatch/internal/quota"
)

// SchemaVersion is the snapshot layout written by this build.
const SchemaVersion = 1

// Snapshot is the live and persisted state of one job run.
type Snapshot struct {
	Version             int              `json:"version"`
	RunID               string           `json:"run_id"`
	Job                 string           `json:"job"`
	Status              string           `json:"status"`
	CurrentIndex        int              `json:"current_index"`
	TotalItems          int              `json:"total_items"`
	SuccessCount        int              `json:"success_count"`
	SkippedCount        int              `json:"skipped_count"`
	ErrorCount          int              `json:"error_count"`
	TotalSavedBytes     int64            `json:"total_saved_bytes"`
	TotalOriginalBytes  int64            `json:"total_original_bytes"`
	Queue               []media.WorkItem `json:"queue"`
	Settings            media.Settings   `json:"settings"`
	SettingsFingerprint string           `json:"settings_fingerprint"`
	StartedAt           time.Time        `json:"started_at"`
	SavedAt             time.Time        `json:"saved_at,omitempty"`
	Quota               *quota.State     `json:"quota,omitempty"`
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Queue = append([]media.WorkItem(nil), s.Queue...)
	if s.Quota != nil {
		q := *s.Quota
		clone.Quota = &q
	}
	return &clone
}

// Remaining returns the queue tail from CurrentIndex.
func (s *Snapshot) Remaining() []media.WorkItem {
	if s == nil || s.CurrentIndex >= len(s.Queue) {
		return nil
	}
	return s.Queue[s.CurrentIndex:]
}

// Pending is the number of items not yet processed.
func (s *Snapshot) Pending() int {
	if s == nil {
		return 0
	}
	return s.TotalItems - s.CurrentIndex
}

// Current returns the item at CurrentIndex.
func (s *Snapshot) Current() (media.WorkItem, bool) {
	if s == nil || s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Queue) {
		return media.WorkItem{}, false
	}
	return s.Queue[s.CurrentIndex], true
}

// Processed is the sum of all outcome counters.
func (s *Snapshot) Processed() int {
	return s.SuccessCount + s.SkippedCount + s.ErrorCount
}

// AverageSavingsPercent approximates savings across all optimized
// renditions of the run.
func (s *Snapshot) AverageSavingsPercent() int {
	if s == nil || s.TotalOriginalBytes <= 0 {
		return 0
	}
	return media.SavingsPercent(s.TotalOriginalBytes, s.TotalOriginalBytes-s.TotalSavedBytes)
}

// Record applies one item outcome and advances the index.
func (s *Snapshot) Record(rec media.ResultRecord) {
	switch rec.Status {
	case media.StatusSuccess:
		s.SuccessCount++
		s.TotalSavedBytes += rec.SavedBytes
		s.TotalOriginalBytes += rec.OriginalBytes
	case media.StatusSkipped:
		s.SkippedCount++
	default:
		s.ErrorCount++
	}
	s.CurrentIndex++
}

// Validate checks the structural invariants of a snapshot.
func (s *Snapshot) Validate() error {
	switch {
	case s == nil:
		return fmt.Errorf("snapshot is nil")
	case s.Version != SchemaVersion:
		return fmt.Errorf("unsupported schema version %d", s.Version)
	case s.TotalItems != len(s.Queue):
		return fmt.Errorf("total items %d does not match queue length %d", s.TotalItems, len(s.Queue))
	case s.CurrentIndex < 0 || s.CurrentIndex > s.TotalItems:
		return fmt.Errorf("current index %d out of range [0,%d]", s.CurrentIndex, s.TotalItems)
	case s.Processed() != s.CurrentIndex:
		return fmt.Errorf("outcome counts %d do not match current index %d", s.Processed(), s.CurrentIndex)
	case s.SettingsFingerprint != s.Settings.Fingerprint():
		return fmt.Errorf("settings fingerprint mismatch")
	}
	return nil
}
