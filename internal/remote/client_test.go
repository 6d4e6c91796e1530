package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"optibatch/internal/media"
	"optibatch/internal/quota"
	"optibatch/internal/services"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New(Options{BaseURL: server.URL + "/api/", Token: "secret", UserAgent: "optibatch-test"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "/relative"} {
		if _, err := New(Options{BaseURL: raw}); !errors.Is(err, services.ErrConfiguration) {
			t.Fatalf("New(%q) err = %v, want configuration marker", raw, err)
		}
	}
}

func TestListPendingSendsAuthAndFilter(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/items/pending" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "optibatch-test" {
			t.Errorf("user agent = %q", got)
		}
		if r.Header.Get("X-Request-ID") == "" {
			t.Error("expected request id header")
		}
		if got := r.URL.Query().Get("filter"); got != "unoptimized" {
			t.Errorf("filter = %q", got)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"items": []media.WorkItem{{ID: 7, Filename: "a.jpg", Title: "A"}, {ID: 9, Filename: "b.png"}}})
	}))

	items, err := client.ListPending(context.Background(), "unoptimized")
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(items) != 2 || items[0].ID != 7 || items[1].Filename != "b.png" {
		t.Fatalf("unexpected items: %+v", items)
	}
}

func TestRequestIDFromContext(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Request-ID"); got != "req-123" {
			t.Errorf("request id = %q", got)
		}
		writeJSON(t, w, http.StatusOK, quota.State{Remaining: 3, Limit: 10})
	}))
	ctx := services.WithRequestID(context.Background(), "req-123")
	state, err := client.Quota(ctx)
	if err != nil {
		t.Fatalf("Quota: %v", err)
	}
	if state.Remaining != 3 || state.Limit != 10 {
		t.Fatalf("unexpected quota %+v", state)
	}
}

func TestRenditionsAndFetchSource(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/items/7/renditions":
			writeJSON(t, w, http.StatusOK, map[string]any{"renditions": []media.Rendition{
				{Name: "full", SourceURL: "/uploads/a.jpg", Bytes: 2048, Width: 100, Height: 50, MimeType: "image/jpeg"},
			}})
		case "/uploads/a.jpg":
			if r.Header.Get("Authorization") != "Bearer secret" {
				t.Error("source fetch missing auth")
			}
			_, _ = w.Write([]byte("raw-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))

	renditions, err := client.Renditions(context.Background(), 7)
	if err != nil {
		t.Fatalf("Renditions: %v", err)
	}
	if len(renditions) != 1 || renditions[0].Name != "full" {
		t.Fatalf("unexpected renditions %+v", renditions)
	}
	data, err := client.FetchSource(context.Background(), renditions[0])
	if err != nil {
		t.Fatalf("FetchSource: %v", err)
	}
	if string(data) != "raw-bytes" {
		t.Fatalf("data = %q", data)
	}

	_, err = client.FetchSource(context.Background(), media.Rendition{Name: "gone", SourceURL: "/uploads/missing.jpg"})
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found marker, got %v", err)
	}
}

func TestUploadSendsMultipart(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/items/7/renditions/medium" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		want := map[string]string{
			"item_id":           "7",
			"rendition":         "medium",
			"format":            "jpeg",
			"method":            UploadMethod,
			"original_bytes":    "1000",
			"optimized_bytes":   "400",
			"auto_replace_urls": "true",
		}
		for key, value := range want {
			if got := r.FormValue(key); got != value {
				t.Errorf("field %s = %q, want %q", key, got, value)
			}
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			return
		}
		defer file.Close()
		payload, _ := io.ReadAll(file)
		if string(payload) != "encoded" || header.Filename != "medium.jpeg" {
			t.Errorf("payload %q filename %q", payload, header.Filename)
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"saved_bytes": 600, "quota": quota.State{Remaining: 41, Limit: 50}})
	}))

	result, err := client.Upload(context.Background(), UploadRequest{
		ItemID:          7,
		Rendition:       "medium",
		Payload:         []byte("encoded"),
		Format:          "jpeg",
		MimeType:        "image/jpeg",
		OriginalBytes:   1000,
		OptimizedBytes:  400,
		AutoReplaceURLs: true,
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if result.SavedBytes != 600 || result.Quota == nil || result.Quota.Remaining != 41 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestUploadEscapesRenditionName(t *testing.T) {
	var gotPath, gotEscaped string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotEscaped = r.URL.Path, r.URL.EscapedPath()
		writeJSON(t, w, http.StatusOK, map[string]any{"saved_bytes": 1})
	}))

	_, err := client.Upload(context.Background(), UploadRequest{
		ItemID:    7,
		Rendition: "post thumb/2x?",
		Payload:   []byte("encoded"),
		Format:    "jpeg",
		MimeType:  "image/jpeg",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotPath != "/api/items/7/renditions/post thumb/2x?" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotEscaped != "/api/items/7/renditions/post%20thumb%2F2x%3F" {
		t.Fatalf("escaped path = %q", gotEscaped)
	}
}

func TestCheckpointPathEscapesJobName(t *testing.T) {
	var gotEscaped string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEscaped = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	}))

	if err := client.SaveCheckpoint(context.Background(), "nightly run", []byte("{}")); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	if gotEscaped != "/api/checkpoints/nightly%20run" {
		t.Fatalf("escaped path = %q", gotEscaped)
	}
}

func TestUploadQuotaExceeded(t *testing.T) {
	for _, status := range []int{http.StatusPaymentRequired, http.StatusForbidden, http.StatusTooManyRequests} {
		client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(t, w, status, map[string]any{
				"code":        "quota_exceeded",
				"message":     "limit reached",
				"quota":       quota.State{Remaining: 0, Limit: 100},
				"upgrade_url": "https://example.test/upgrade",
			})
		}))
		_, err := client.Upload(context.Background(), UploadRequest{ItemID: 1, Rendition: "full", Payload: []byte("x"), Format: "jpeg"})
		if !quota.IsExceeded(err) {
			t.Fatalf("status %d: expected quota exceeded, got %v", status, err)
		}
		exceeded, _ := quota.AsExceeded(err)
		if exceeded.UpgradeURL != "https://example.test/upgrade" || exceeded.Quota.Limit != 100 {
			t.Fatalf("status %d: unexpected error %+v", status, exceeded)
		}
	}
}

func TestUploadGenericFailureIsNotQuota(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, map[string]any{"code": "write_failed", "message": "disk full"})
	}))
	_, err := client.Upload(context.Background(), UploadRequest{ItemID: 1, Rendition: "full", Payload: []byte("x"), Format: "jpeg"})
	if err == nil || quota.IsExceeded(err) {
		t.Fatalf("expected generic error, got %v", err)
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected external marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected server message in %q", err.Error())
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	var (
		mu     sync.Mutex
		stored []byte
	)
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/checkpoints/optimize" {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			stored, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			if stored == nil {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			_, _ = w.Write(stored)
		case http.MethodDelete:
			if stored == nil {
				http.NotFound(w, r)
				return
			}
			stored = nil
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	ctx := context.Background()

	if _, ok, err := client.LoadCheckpoint(ctx, "optimize"); err != nil || ok {
		t.Fatalf("expected empty checkpoint, ok=%v err=%v", ok, err)
	}
	if err := client.SaveCheckpoint(ctx, "optimize", []byte(`{"version":1}`)); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	data, ok, err := client.LoadCheckpoint(ctx, "optimize")
	if err != nil || !ok || string(data) != `{"version":1}` {
		t.Fatalf("LoadCheckpoint = %q, %v, %v", data, ok, err)
	}
	if err := client.ClearCheckpoint(ctx, "optimize"); err != nil {
		t.Fatalf("ClearCheckpoint: %v", err)
	}
	if err := client.ClearCheckpoint(ctx, "optimize"); err != nil {
		t.Fatalf("clearing a missing checkpoint should succeed: %v", err)
	}
	if err := client.SaveCheckpoint(ctx, "optimize", []byte("{broken")); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for invalid json, got %v", err)
	}
}

func TestStatsAndBulkEndpoints(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/stats":
			writeJSON(t, w, http.StatusOK, Stats{OptimizedCount: 10, SkippedCount: 2, FailedCount: 1, TotalSavedBytes: 4096})
		case r.URL.Path == "/api/items/restorable":
			writeJSON(t, w, http.StatusOK, map[string]any{"items": []media.WorkItem{{ID: 3}}})
		case r.URL.Path == "/api/items/3/restore" && r.Method == http.MethodPost:
			w.WriteHeader(http.StatusNoContent)
		case r.URL.Path == "/api/items/library":
			writeJSON(t, w, http.StatusOK, map[string]any{"items": []media.WorkItem{{ID: 1}, {ID: 2}}})
		case r.URL.Path == "/api/items/sync":
			var body struct {
				IDs []int64 `json:"ids"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			writeJSON(t, w, http.StatusOK, SyncResult{Synced: len(body.IDs) - 1, Failed: body.IDs[:1]})
		default:
			http.NotFound(w, r)
		}
	}))
	ctx := context.Background()

	stats, err := client.Stats(ctx)
	if err != nil || stats.OptimizedCount != 10 || stats.TotalSavedBytes != 4096 {
		t.Fatalf("Stats = %+v, %v", stats, err)
	}
	restorable, err := client.Restorable(ctx)
	if err != nil || len(restorable) != 1 {
		t.Fatalf("Restorable = %+v, %v", restorable, err)
	}
	if err := client.Restore(ctx, 3); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := client.Restore(ctx, 4); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found for missing item, got %v", err)
	}
	library, err := client.Library(ctx)
	if err != nil || len(library) != 2 {
		t.Fatalf("Library = %+v, %v", library, err)
	}
	result, err := client.Sync(ctx, []int64{1, 2})
	if err != nil || result.Synced != 1 || len(result.Failed) != 1 || result.Failed[0] != 1 {
		t.Fatalf("Sync = %+v, %v", result, err)
	}
}

func TestMarkersForStatus(t *testing.T) {
	tests := map[int]error{
		http.StatusUnauthorized:        services.ErrUnauthorized,
		http.StatusNotFound:            services.ErrNotFound,
		http.StatusGatewayTimeout:      services.ErrTimeout,
		http.StatusServiceUnavailable:  services.ErrTransient,
		http.StatusUnprocessableEntity: services.ErrValidation,
		http.StatusInternalServerError: services.ErrExternal,
	}
	for status, want := range tests {
		if got := markerForStatus(status); got != want {
			t.Fatalf("markerForStatus(%d) = %v, want %v", status, got, want)
		}
	}
}
