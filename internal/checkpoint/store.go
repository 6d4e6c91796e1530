package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"optibatch/internal/logging"
	"optibatch/internal/media"
)

// ErrInvalidCheckpoint reports a persisted snapshot that cannot be resumed.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// Backend persists encoded snapshots per job name.
type Backend interface {
	SaveCheckpoint(ctx context.Context, job string, data []byte) error
	LoadCheckpoint(ctx context.Context, job string) ([]byte, bool, error)
	ClearCheckpoint(ctx context.Context, job string) error
}

// LoadOptions controls settings-drift handling on Load.
type LoadOptions struct {
	Current                    media.Settings
	InvalidateOnSettingsChange bool
}

// LoadResult is a validated snapshot ready for resume.
type LoadResult struct {
	Snapshot        *Snapshot
	SettingsChanged bool
}

// Store saves, loads and clears one job's checkpoint.
type Store struct {
	backend Backend
	job     string
	logger  *slog.Logger
	now     func() time.Time
}

// NewStore binds a backend to a job name.
func NewStore(backend Backend, job string, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		job:     job,
		logger:  logging.NewComponentLogger(logger, "checkpoint"),
		now:     time.Now,
	}
}

// Job returns the job name the store is bound to.
func (s *Store) Job() string {
	return s.job
}

// Save persists snap. The version, job, fingerprint and saved-at fields are
// stamped on snap before encoding. Failures are logged at WARN and returned
// for callers that care; the job controller ignores them.
func (s *Store) Save(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("save checkpoint: snapshot is nil")
	}
	snap.Version = SchemaVersion
	snap.Job = s.job
	snap.SettingsFingerprint = snap.Settings.Fingerprint()
	snap.SavedAt = s.now().UTC()

	data, err := json.Marshal(snap)
	if err == nil {
		err = s.backend.SaveCheckpoint(ctx, s.job, data)
	}
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "checkpoint save failed", "checkpoint_save_failed",
			logging.Int("current_index", snap.CurrentIndex),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check connectivity to the content server"),
			logging.String(logging.FieldImpact, "run continues; a reload before the next save repeats this item"),
		)
		return fmt.Errorf("save checkpoint: %w", err)
	}
	s.logger.Debug("checkpoint saved",
		logging.EventType("checkpoint_saved"),
		logging.Int("current_index", snap.CurrentIndex),
		logging.Int("total_items", snap.TotalItems),
	)
	return nil
}

// Load fetches and validates the stored snapshot. It returns (nil, nil)
// when no checkpoint exists. A snapshot that fails validation is cleared
// and ErrInvalidCheckpoint is returned.
func (s *Store) Load(ctx context.Context, opts LoadOptions) (*LoadResult, error) {
	data, ok, err := s.backend.LoadCheckpoint(ctx, s.job)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, s.invalidate(ctx, fmt.Sprintf("decode: %v", err))
	}
	if err := snap.Validate(); err != nil {
		return nil, s.invalidate(ctx, err.Error())
	}

	changed := snap.SettingsFingerprint != opts.Current.Fingerprint()
	if changed && opts.InvalidateOnSettingsChange {
		return nil, s.invalidate(ctx, "settings changed since the run started")
	}
	if changed {
		s.logger.Info("checkpoint settings differ from configuration; resume keeps the run's settings",
			logging.EventType("checkpoint_settings_changed"),
			logging.String("checkpoint_fingerprint", snap.SettingsFingerprint),
			logging.String("current_fingerprint", opts.Current.Fingerprint()),
		)
	}
	return &LoadResult{Snapshot: &snap, SettingsChanged: changed}, nil
}

// Clear removes the stored snapshot.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.ClearCheckpoint(ctx, s.job); err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

func (s *Store) invalidate(ctx context.Context, reason string) error {
	logging.WarnWithContext(s.logger, "discarding invalid checkpoint", "checkpoint_invalid",
		logging.String("reason", reason),
		logging.String(logging.FieldErrorHint, "start a new run"),
		logging.String(logging.FieldImpact, "previous progress cannot be resumed"),
	)
	if err := s.backend.ClearCheckpoint(ctx, s.job); err != nil {
		s.logger.Warn("clear invalid checkpoint failed", logging.Error(err))
	}
	return fmt.Errorf("%w: %s", ErrInvalidCheckpoint, reason)
}
