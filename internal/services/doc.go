// Package services defines shared utilities consumed by the batch engine and
// its remote integrations.
//
// Key responsibilities:
//   - Context helpers that stamp item IDs, run IDs, job names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures carry a
//     consistent classification (validation, not found, transient, ...)
//     from the remote client and transform engine up to the ledger.
//
// Use these helpers when wiring new workflow logic so operational behaviour
// (error handling, observability) stays uniform across the pipeline.
package services
