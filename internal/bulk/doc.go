// Package bulk runs the sibling library workflows, restore-all and
// library-sync, with the same sequential single-flight loop discipline as
// the optimization job but without a transform phase and without pause.
// Each iteration issues one remote call (one item for restore, one batch
// for sync), records success or failure, and advances an index. Stop is
// observed at iteration boundaries.
package bulk
