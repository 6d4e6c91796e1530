package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"optibatch/internal/services"
)

func checkpointPath(job string) string {
	return "/checkpoints/" + url.PathEscape(job)
}

// SaveCheckpoint stores an encoded snapshot for job.
func (c *Client) SaveCheckpoint(ctx context.Context, job string, data []byte) error {
	if !json.Valid(data) {
		return services.Wrap(services.ErrValidation, "remote", "save checkpoint", "payload is not valid json", nil)
	}
	req, err := c.newRequest(ctx, http.MethodPut, c.endpoint(checkpointPath(job), nil), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do("save checkpoint", req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// LoadCheckpoint returns the stored snapshot for job. ok is false when the
// server has none (204 or 404).
func (c *Client) LoadCheckpoint(ctx context.Context, job string) ([]byte, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint(checkpointPath(job), nil), nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "remote", "load checkpoint", job, err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, false, nil
	case resp.StatusCode >= 400:
		return nil, false, errorFromResponse("load checkpoint", req, resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, services.Wrap(services.ErrTransient, "remote", "load checkpoint", "read body", err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, false, nil
	}
	return trimmed, true, nil
}

// ClearCheckpoint deletes the stored snapshot for job. Clearing a missing
// checkpoint is not an error.
func (c *Client) ClearCheckpoint(ctx context.Context, job string) error {
	err := c.doJSON(ctx, "clear checkpoint", http.MethodDelete, checkpointPath(job), nil, nil, nil)
	if errors.Is(err, services.ErrNotFound) {
		return nil
	}
	return err
}
