// Package daemon coordinates the long-running optibatch process.
//
// It wires configuration, the ledger, the job controller, and the restore
// and library-sync runners into a single lifecycle with flock-based locking
// to prevent multiple instances. A persisted checkpoint is restored into
// paused state on start so a run interrupted by a crash or restart can be
// resumed from the HTTP API.
//
// The API exposes job control, paginated processed/remaining views, bulk
// workflow control, and a websocket event feed. While at least one feed
// viewer is connected the controller runs in foreground mode with the short
// yield interval.
package daemon
