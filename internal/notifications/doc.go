// Package notifications delivers run and bulk-workflow events via ntfy.
//
// The ntfy implementation publishes to the topic configured in config.toml
// and degrades to a no-op when no topic is set. Each event kind can be
// toggled in the [notifications] section; callers depend only on the
// Publish interface.
package notifications
