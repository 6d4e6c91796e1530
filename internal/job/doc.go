// Package job implements the batch optimization controller: a closed state
// machine that walks a server-enumerated queue one item at a time,
// transforming and uploading every rendition, appending each outcome to the
// ledger and checkpointing after every item so a run can be paused, resumed
// after a restart, stopped, or parked when the usage quota runs out.
//
// A Controller owns exactly one snapshot and at most one worker goroutine.
// Control entry points (Start, Pause, Resume, Stop, Discard) mutate state
// under the controller mutex; the worker observes pause and stop only at
// item boundaries and never holds the mutex across a network call.
package job
