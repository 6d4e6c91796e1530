// Package config loads, normalizes, and validates optibatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPTIBATCH_REMOTE_URL and OPTIBATCH_REMOTE_TOKEN. The Config type centralizes
// every knob the daemon and CLI need, including the optimization settings a
// new run snapshots into its checkpoint.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
