package job

import (
	"context"
	"log/slog"
	"time"

	"optibatch/internal/checkpoint"
	"optibatch/internal/config"
	"optibatch/internal/ledger"
	"optibatch/internal/media"
	"optibatch/internal/notifications"
	"optibatch/internal/quota"
	"optibatch/internal/remote"
	"optibatch/internal/transform"
)

// Remote is the subset of the content server API the controller drives.
type Remote interface {
	ListPending(ctx context.Context, filter string) ([]media.WorkItem, error)
	Renditions(ctx context.Context, itemID int64) ([]media.Rendition, error)
	FetchSource(ctx context.Context, rendition media.Rendition) ([]byte, error)
	Upload(ctx context.Context, req remote.UploadRequest) (*remote.UploadResult, error)
	MarkSkipped(ctx context.Context, itemID int64, reason string) error
	MarkFailed(ctx context.Context, itemID int64, reason string) error
	Quota(ctx context.Context) (quota.State, error)
	checkpoint.Backend
}

// Transformer re-encodes one rendition.
type Transformer interface {
	Transform(ctx context.Context, src []byte, opts transform.Options) (*transform.Result, error)
}

// Ledger records per-item outcomes.
type Ledger interface {
	BeginRun(ctx context.Context, run ledger.Run) error
	FinishRun(ctx context.Context, runID, outcome string, at time.Time) error
	Append(ctx context.Context, runID string, rec media.ResultRecord) error
	TruncateFrom(ctx context.Context, runID string, position int) (int64, error)
	DeleteRun(ctx context.Context, runID string) error
	Processed(ctx context.Context, runID string, q ledger.ProcessedQuery) (ledger.Page[media.ResultRecord], error)
}

// DefaultJob names the optimization job's checkpoint.
const DefaultJob = "optimize"

// Options configures one controller instance.
type Options struct {
	Job                        string
	Filter                     string
	Settings                   media.Settings
	YieldInterval              time.Duration
	BackgroundYieldInterval    time.Duration
	InvalidateOnSettingsChange bool
}

// OptionsFromConfig derives controller options from application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Job:                        DefaultJob,
		Filter:                     cfg.Remote.PendingFilter,
		Settings:                   cfg.Settings(),
		YieldInterval:              time.Duration(cfg.Workflow.YieldIntervalMS) * time.Millisecond,
		BackgroundYieldInterval:    time.Duration(cfg.Workflow.BackgroundYieldIntervalMS) * time.Millisecond,
		InvalidateOnSettingsChange: cfg.Workflow.InvalidateOnSettingsChange,
	}
}

// Dependencies are the collaborators a controller drives.
type Dependencies struct {
	Remote      Remote
	Transformer Transformer
	Ledger      Ledger
	Notifier    notifications.Service
	Logger      *slog.Logger
	Clock       func() time.Time
}
