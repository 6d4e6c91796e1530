package remote

import (
	"context"
	"net/http"

	"optibatch/internal/quota"
)

// Stats are the server's lifetime aggregate counters.
type Stats struct {
	OptimizedCount  int   `json:"optimized_count"`
	SkippedCount    int   `json:"skipped_count"`
	FailedCount     int   `json:"failed_count"`
	TotalSavedBytes int64 `json:"total_saved_bytes"`
}

// Quota fetches the authoritative quota state.
func (c *Client) Quota(ctx context.Context) (quota.State, error) {
	var state quota.State
	if err := c.doJSON(ctx, "get quota", http.MethodGet, "/quota", nil, nil, &state); err != nil {
		return quota.State{}, err
	}
	return state, nil
}

// Stats fetches aggregate optimization statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.doJSON(ctx, "get stats", http.MethodGet, "/stats", nil, nil, &stats); err != nil {
		return Stats{}, err
	}
	return stats, nil
}
