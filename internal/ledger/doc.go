// Package ledger stores per-item outcomes of optimization runs in SQLite.
//
// Results are keyed by (run id, position). Re-appending a position replaces
// the earlier row, so a resume that repeats an item after a lost checkpoint
// save never double-counts it. The runs table records each run's job name,
// timing and outcome.
//
// The layout version lives in PRAGMA user_version. Opening a file stamped
// with any other version fails with ErrLedgerVersion.
package ledger
