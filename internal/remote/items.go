package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"optibatch/internal/media"
	"optibatch/internal/services"
)

type itemsResponse struct {
	Items []media.WorkItem `json:"items"`
}

type renditionsResponse struct {
	Renditions []media.Rendition `json:"renditions"`
}

// ListPending returns the items the server considers unoptimized.
func (c *Client) ListPending(ctx context.Context, filter string) ([]media.WorkItem, error) {
	query := url.Values{}
	if f := strings.TrimSpace(filter); f != "" {
		query.Set("filter", f)
	}
	var resp itemsResponse
	if err := c.doJSON(ctx, "list pending", http.MethodGet, "/items/pending", query, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Renditions lists the size variants of one item.
func (c *Client) Renditions(ctx context.Context, itemID int64) ([]media.Rendition, error) {
	var resp renditionsResponse
	path := fmt.Sprintf("/items/%d/renditions", itemID)
	if err := c.doJSON(ctx, "list renditions", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Renditions, nil
}

// FetchSource downloads a rendition's original bytes.
func (c *Client) FetchSource(ctx context.Context, rendition media.Rendition) ([]byte, error) {
	target, err := c.resolve(rendition.SourceURL)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.do("fetch source", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceSize+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "remote", "fetch source", rendition.Name, err)
	}
	if len(data) > maxSourceSize {
		return nil, services.Wrap(services.ErrValidation, "remote", "fetch source", fmt.Sprintf("%s exceeds %d bytes", rendition.Name, maxSourceSize), nil)
	}
	if len(data) == 0 {
		return nil, services.Wrap(services.ErrValidation, "remote", "fetch source", fmt.Sprintf("%s is empty", rendition.Name), nil)
	}
	return data, nil
}

type annotation struct {
	Reason string `json:"reason"`
}

// MarkSkipped annotates an item so it is no longer offered as pending.
func (c *Client) MarkSkipped(ctx context.Context, itemID int64, reason string) error {
	path := fmt.Sprintf("/items/%d/skip", itemID)
	return c.doJSON(ctx, "mark skipped", http.MethodPost, path, nil, annotation{Reason: reason}, nil)
}

// MarkFailed annotates an item with its failure reason.
func (c *Client) MarkFailed(ctx context.Context, itemID int64, reason string) error {
	path := fmt.Sprintf("/items/%d/fail", itemID)
	return c.doJSON(ctx, "mark failed", http.MethodPost, path, nil, annotation{Reason: reason}, nil)
}
