package ledger

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// ledgerVersion is stored in the database header through PRAGMA user_version.
// A file written by a different layout is refused rather than migrated.
const ledgerVersion = 1

// ErrLedgerVersion reports a ledger file created by an incompatible layout.
var ErrLedgerVersion = errors.New("incompatible ledger version")

func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read ledger version: %w", err)
	}
	switch version {
	case ledgerVersion:
		return nil
	case 0:
		var tables int
		if err := s.db.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type='table'",
		).Scan(&tables); err != nil {
			return fmt.Errorf("inspect ledger tables: %w", err)
		}
		if tables > 0 {
			return fmt.Errorf("%w: %s holds unversioned tables", ErrLedgerVersion, s.path)
		}
		return s.createLedger(ctx)
	default:
		return fmt.Errorf("%w: %s is version %d, this build writes %d (discard the ledger to start over)",
			ErrLedgerVersion, s.path, version, ledgerVersion)
	}
}

// createLedger lays down the runs and results tables and stamps the version
// in one transaction so a crash leaves either an empty file or a usable one.
func (s *Store) createLedger(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger setup: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create ledger tables: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", ledgerVersion)); err != nil {
		return fmt.Errorf("stamp ledger version: %w", err)
	}
	return tx.Commit()
}
