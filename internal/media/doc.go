// Package media holds the data model shared by the batch engine: the items
// the server enumerates, the renditions each item expands into, the settings
// a run is executed with, and the per-item outcome records the ledger keeps.
//
// The package has no dependencies on the rest of the module so the remote
// client, checkpoint store, ledger and controller can all speak the same
// types without import cycles.
package media
