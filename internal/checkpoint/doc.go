// Package checkpoint defines the versioned job snapshot and persists it
// through the remote checkpoint endpoints.
//
// Saves are best-effort: a failed save is logged and the run continues.
// Loads validate the schema version and the settings fingerprint before a
// snapshot is offered for resume; anything that fails validation is cleared
// and reported as ErrInvalidCheckpoint.
package checkpoint
