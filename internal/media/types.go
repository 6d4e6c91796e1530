package media

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"time"
)

// WorkItem is one media library entry awaiting optimization.
type WorkItem struct {
	ID        int64  `json:"id"`
	Filename  string `json:"filename"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// DisplayName returns the title, falling back to the filename.
func (w WorkItem) DisplayName() string {
	if title := strings.TrimSpace(w.Title); title != "" {
		return title
	}
	return strings.TrimSpace(w.Filename)
}

// Rendition is one size variant of a WorkItem. Each rendition is
// transformed and uploaded independently.
type Rendition struct {
	Name      string `json:"name"`
	SourceURL string `json:"source_url"`
	Bytes     int64  `json:"bytes"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	MimeType  string `json:"mime_type"`
}

// Settings are the optimization knobs captured when a run starts. A resumed
// run always uses the copy stored in its checkpoint.
type Settings struct {
	Quality         int    `json:"quality"`
	Resize          bool   `json:"resize"`
	MaxWidth        int    `json:"max_width"`
	SkipSmall       bool   `json:"skip_small"`
	MinSizeKB       int    `json:"min_size_kb"`
	AutoReplaceURLs bool   `json:"auto_replace_urls"`
	Format          string `json:"format"`
}

// MinSizeBytes converts the skip threshold to bytes.
func (s Settings) MinSizeBytes() int64 {
	if s.MinSizeKB <= 0 {
		return 0
	}
	return int64(s.MinSizeKB) * 1024
}

// ShouldSkip reports whether a rendition falls under the skip-small rule.
func (s Settings) ShouldSkip(r Rendition) bool {
	return s.SkipSmall && r.Bytes < s.MinSizeBytes()
}

// Fingerprint returns a stable digest of the settings, used to detect a
// checkpoint saved under a different configuration.
func (s Settings) Fingerprint() string {
	s.Format = strings.ToLower(strings.TrimSpace(s.Format))
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}

// ItemStatus is the resolved outcome of one processed item.
type ItemStatus string

const (
	StatusSuccess ItemStatus = "success"
	StatusSkipped ItemStatus = "skipped"
	StatusError   ItemStatus = "error"
)

// Valid reports whether the status is one of the known outcomes.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusSuccess, StatusSkipped, StatusError:
		return true
	default:
		return false
	}
}

// ResultRecord is one ledger entry.
type ResultRecord struct {
	Position       int        `json:"position"`
	ItemID         int64      `json:"item_id"`
	Filename       string     `json:"filename"`
	Title          string     `json:"title,omitempty"`
	Status         ItemStatus `json:"status"`
	OriginalBytes  int64      `json:"original_bytes"`
	OptimizedBytes int64      `json:"optimized_bytes"`
	SavedBytes     int64      `json:"saved_bytes"`
	SavingsPercent int        `json:"savings_percent"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	RecordedAt     time.Time  `json:"recorded_at"`
}

// SavingsPercent computes round((original-optimized)/original*100), returning
// 0 for a zero-byte original.
func SavingsPercent(original, optimized int64) int {
	if original <= 0 {
		return 0
	}
	return int(math.Round(float64(original-optimized) / float64(original) * 100))
}
