// Package daemonctl is the HTTP client the CLI uses to control a running
// optibatch daemon.
package daemonctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"optibatch/internal/bulk"
	"optibatch/internal/daemon"
	"optibatch/internal/job"
	"optibatch/internal/ledger"
	"optibatch/internal/media"
	"optibatch/internal/remote"
)

// ErrUnavailable reports that no daemon answered at the configured bind.
var ErrUnavailable = errors.New("daemon API unavailable")

// APIError is a non-2xx reply from the daemon.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("daemon returned %d (%s): %s", e.Status, e.Kind, e.Message)
	}
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client talks to the daemon API.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for bind ("host:port" or a full URL). An empty
// bind yields a nil client.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Status fetches the daemon summary.
func (c *Client) Status(ctx context.Context) (daemon.Status, error) {
	var out daemon.Status
	err := c.call(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Stats fetches the server's lifetime counters through the daemon.
func (c *Client) Stats(ctx context.Context) (remote.Stats, error) {
	var out remote.Stats
	err := c.call(ctx, http.MethodGet, "/api/stats", nil, &out)
	return out, err
}

// Job fetches the controller status.
func (c *Client) Job(ctx context.Context) (job.Status, error) {
	var out job.Status
	err := c.call(ctx, http.MethodGet, "/api/job", nil, &out)
	return out, err
}

// JobAction invokes start, pause, resume, stop, or discard.
func (c *Client) JobAction(ctx context.Context, action string) (job.Status, error) {
	var out job.Status
	err := c.call(ctx, http.MethodPost, "/api/job/"+url.PathEscape(action), nil, &out)
	return out, err
}

// Processed pages through the current run's ledger entries.
func (c *Client) Processed(ctx context.Context, status media.ItemStatus, page ledger.Pagination) (ledger.Page[media.ResultRecord], error) {
	query := pageQuery(page)
	if status != "" {
		query.Set("status", string(status))
	}
	var out ledger.Page[media.ResultRecord]
	err := c.call(ctx, http.MethodGet, "/api/job/processed", query, &out)
	return out, err
}

// Remaining pages through the unprocessed queue tail.
func (c *Client) Remaining(ctx context.Context, page ledger.Pagination) (ledger.Page[ledger.RemainingEntry], error) {
	var out ledger.Page[ledger.RemainingEntry]
	err := c.call(ctx, http.MethodGet, "/api/job/remaining", pageQuery(page), &out)
	return out, err
}

// Bulk fetches a bulk workflow's progress.
func (c *Client) Bulk(ctx context.Context, wf bulk.Workflow) (bulk.Progress, error) {
	var out bulk.Progress
	err := c.call(ctx, http.MethodGet, "/api/bulk/"+url.PathEscape(string(wf)), nil, &out)
	return out, err
}

// BulkAction starts or stops a bulk workflow.
func (c *Client) BulkAction(ctx context.Context, wf bulk.Workflow, action string) (bulk.Progress, error) {
	var out bulk.Progress
	err := c.call(ctx, http.MethodPost, "/api/bulk/"+url.PathEscape(string(wf))+"/"+url.PathEscape(action), nil, &out)
	return out, err
}

// Events streams feed frames to fn until ctx ends, the daemon closes the
// feed, or fn returns an error.
func (c *Client) Events(ctx context.Context, fn func(daemon.FeedMessage) error) error {
	if c == nil {
		return ErrUnavailable
	}
	u := *c.base
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/api/events"

	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			return &APIError{Status: resp.StatusCode, Message: "event feed refused"}
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var msg daemon.FeedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ctx.Err()
			}
			return fmt.Errorf("read event feed: %w", err)
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, out any) error {
	if c == nil {
		return ErrUnavailable
	}
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var body daemon.ErrorResponse
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &body) != nil || body.Error == "" {
			body.Error = strings.TrimSpace(string(raw))
		}
		return &APIError{Status: resp.StatusCode, Message: body.Error, Kind: body.Kind}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func pageQuery(page ledger.Pagination) url.Values {
	values := url.Values{}
	if page.Page > 0 {
		values.Set("page", strconv.Itoa(page.Page))
	}
	if page.PerPage > 0 {
		values.Set("per_page", strconv.Itoa(page.PerPage))
	}
	return values
}

// IsUnavailable reports whether err means no daemon is listening.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
