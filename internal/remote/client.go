package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"optibatch/internal/config"
	"optibatch/internal/quota"
	"optibatch/internal/services"
)

const (
	maxErrorBody  = 4096
	maxSourceSize = 64 << 20
)

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	Token     string
	UserAgent string
	Timeout   time.Duration
	HTTP      HTTPDoer
}

// Client talks to the content server's REST API.
type Client struct {
	base      *url.URL
	token     string
	userAgent string
	http      HTTPDoer
}

// New constructs a Client.
func New(opts Options) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if raw == "" {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init", "base url is required", nil)
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init", fmt.Sprintf("invalid base url %q", raw), err)
	}
	doer := opts.HTTP
	if doer == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		doer = &http.Client{Timeout: timeout}
	}
	return &Client{base: base, token: strings.TrimSpace(opts.Token), userAgent: opts.UserAgent, http: doer}, nil
}

// NewFromConfig builds a Client from the [remote] section.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "remote", "init", "config is required", nil)
	}
	return New(Options{
		BaseURL:   cfg.Remote.BaseURL,
		Token:     cfg.Remote.Token,
		UserAgent: cfg.Remote.UserAgent,
		Timeout:   time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
	})
}

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// endpoint joins an already escaped path onto the base URL.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.RawPath = strings.TrimRight(c.base.EscapedPath(), "/") + path
	if unescaped, err := url.PathUnescape(u.RawPath); err == nil {
		u.Path = unescaped
	} else {
		u.Path = u.RawPath
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// resolve turns a rendition source reference into an absolute URL.
func (c *Client) resolve(ref string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "remote", "resolve source", fmt.Sprintf("invalid source url %q", ref), err)
	}
	if parsed.IsAbs() {
		return parsed.String(), nil
	}
	return c.base.ResolveReference(parsed).String(), nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	requestID, ok := services.RequestIDFromContext(ctx)
	if !ok {
		requestID = uuid.NewString()
	}
	req.Header.Set("X-Request-ID", requestID)
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.do(op, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeInto(op, resp, out)
}

func (c *Client) do(op string, req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		marker := services.ErrTransient
		if errors.Is(err, context.DeadlineExceeded) {
			marker = services.ErrTimeout
		}
		return nil, services.Wrap(marker, "remote", op, fmt.Sprintf("%s %s", req.Method, req.URL.Path), err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, errorFromResponse(op, req, resp)
	}
	return resp, nil
}

func decodeInto(op string, resp *http.Response, out any) error {
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return services.Wrap(services.ErrExternal, "remote", op, "decode response", err)
	}
	return nil
}

// apiError is the server's error body.
type apiError struct {
	Code       string       `json:"code"`
	Message    string       `json:"message"`
	Quota      *quota.State `json:"quota"`
	UpgradeURL string       `json:"upgrade_url"`
}

func errorFromResponse(op string, req *http.Request, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body apiError
	_ = json.Unmarshal(raw, &body)

	if body.Code == "quota_exceeded" {
		exceeded := &quota.ExceededError{Message: body.Message, UpgradeURL: body.UpgradeURL}
		if body.Quota != nil {
			exceeded.Quota = *body.Quota
			if exceeded.UpgradeURL == "" {
				exceeded.UpgradeURL = body.Quota.UpgradeURL
			}
		}
		return exceeded
	}

	message := strings.TrimSpace(body.Message)
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	detail := fmt.Sprintf("%s %s returned %d", req.Method, req.URL.Path, resp.StatusCode)
	if body.Code != "" {
		detail += " (" + body.Code + ")"
	}
	if message != "" {
		detail += ": " + message
	}
	return services.Wrap(markerForStatus(resp.StatusCode), "remote", op, detail, nil)
}

func markerForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.ErrUnauthorized
	case status == http.StatusNotFound || status == http.StatusGone:
		return services.ErrNotFound
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return services.ErrTimeout
	case status == http.StatusTooManyRequests || status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return services.ErrTransient
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		return services.ErrValidation
	default:
		return services.ErrExternal
	}
}
