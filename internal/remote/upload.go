package remote

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"

	"optibatch/internal/quota"
)

// UploadMethod names the local transform that produced a payload.
const UploadMethod = "local"

// UploadRequest carries one rendition's transform output.
type UploadRequest struct {
	ItemID          int64
	Rendition       string
	Payload         []byte
	Format          string
	MimeType        string
	OriginalBytes   int64
	OptimizedBytes  int64
	AutoReplaceURLs bool
}

// UploadResult is the server's acknowledgement. Quota is nil when the
// server did not report a fresh state.
type UploadResult struct {
	SavedBytes int64        `json:"saved_bytes"`
	Quota      *quota.State `json:"quota"`
}

// Upload submits a transformed rendition. A quota refusal returns
// *quota.ExceededError.
func (c *Client) Upload(ctx context.Context, up UploadRequest) (*UploadResult, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fields := [][2]string{
		{"item_id", strconv.FormatInt(up.ItemID, 10)},
		{"rendition", up.Rendition},
		{"format", up.Format},
		{"method", UploadMethod},
		{"original_bytes", strconv.FormatInt(up.OriginalBytes, 10)},
		{"optimized_bytes", strconv.FormatInt(up.OptimizedBytes, 10)},
		{"auto_replace_urls", strconv.FormatBool(up.AutoReplaceURLs)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("write field %s: %w", f[0], err)
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s.%s"`, up.Rendition, up.Format))
	mimeType := up.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(up.Payload); err != nil {
		return nil, fmt.Errorf("write payload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	path := fmt.Sprintf("/items/%d/renditions/%s", up.ItemID, url.PathEscape(up.Rendition))
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint(path, nil), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := c.do("upload", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result UploadResult
	if err := decodeInto("upload", resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
