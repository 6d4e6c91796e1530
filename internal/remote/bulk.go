package remote

import (
	"context"
	"fmt"
	"net/http"

	"optibatch/internal/media"
)

// SyncResult reports one library-sync batch.
type SyncResult struct {
	Synced int     `json:"synced"`
	Failed []int64 `json:"failed,omitempty"`
}

// Restorable lists items whose originals can be restored.
func (c *Client) Restorable(ctx context.Context) ([]media.WorkItem, error) {
	var resp itemsResponse
	if err := c.doJSON(ctx, "list restorable", http.MethodGet, "/items/restorable", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Restore reverts one item to its original renditions.
func (c *Client) Restore(ctx context.Context, itemID int64) error {
	path := fmt.Sprintf("/items/%d/restore", itemID)
	return c.doJSON(ctx, "restore", http.MethodPost, path, nil, nil, nil)
}

// Library lists every item eligible for library sync.
func (c *Client) Library(ctx context.Context) ([]media.WorkItem, error) {
	var resp itemsResponse
	if err := c.doJSON(ctx, "list library", http.MethodGet, "/items/library", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Sync pushes one batch of item ids through library sync.
func (c *Client) Sync(ctx context.Context, ids []int64) (SyncResult, error) {
	var resp SyncResult
	body := map[string][]int64{"ids": ids}
	if err := c.doJSON(ctx, "sync", http.MethodPost, "/items/sync", nil, body, &resp); err != nil {
		return SyncResult{}, err
	}
	return resp, nil
}
