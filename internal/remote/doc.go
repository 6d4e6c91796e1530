// Package remote is the HTTP client for the content server's optimization
// API: pending-item enumeration, rendition listing and fetch, result upload,
// best-effort annotations, checkpoint persistence, quota and aggregate
// statistics, plus the restore and library-sync endpoints used by the bulk
// workflows.
//
// HTTP failures map onto services markers; a quota_exceeded body surfaces as
// *quota.ExceededError so callers can branch with quota.IsExceeded.
package remote
