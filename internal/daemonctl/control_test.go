package daemonctl_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"optibatch/internal/daemon"
	"optibatch/internal/daemonctl"
	"optibatch/internal/job"
	"optibatch/internal/ledger"
	"optibatch/internal/media"
)

func TestNewClientEmptyBind(t *testing.T) {
	client, err := daemonctl.NewClient("", "")
	if err != nil {
		t.Fatalf("NewClient error: %v", err)
	}
	if client != nil {
		t.Fatal("expected nil client for empty bind")
	}
}

func TestProcessedBuildsQueryAndDecodes(t *testing.T) {
	var (
		gotQuery url.Values
		gotAuth  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ledger.Page[media.ResultRecord]{
			Items:   []media.ResultRecord{{ItemID: 7, Status: media.StatusError}},
			Total:   1,
			Page:    2,
			PerPage: 5,
			Pages:   1,
		})
	}))
	defer srv.Close()

	client, err := daemonctl.NewClient(srv.URL, "secret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	page, err := client.Processed(context.Background(), media.StatusError, ledger.Pagination{Page: 2, PerPage: 5})
	if err != nil {
		t.Fatalf("Processed: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].ItemID != 7 {
		t.Fatalf("unexpected page: %+v", page)
	}
	for key, want := range map[string]string{"status": "error", "page": "2", "per_page": "5"} {
		if got := gotQuery.Get(key); got != want {
			t.Fatalf("query[%s]: expected %q, got %q", key, want, got)
		}
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("authorization = %q", gotAuth)
	}
}

func TestJobActionSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/job/pause" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(daemon.ErrorResponse{Error: "invalid state transition: idle -> paused"})
	}))
	defer srv.Close()

	client, _ := daemonctl.NewClient(srv.URL, "")
	_, err := client.JobAction(context.Background(), "pause")
	var apiErr *daemonctl.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		t.Fatalf("expected 409 APIError, got %v", err)
	}
	if daemonctl.IsUnavailable(err) {
		t.Fatal("API error should not read as unavailable")
	}
}

func TestStatusDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(daemon.Status{Running: true, Job: job.Status{Job: "optimize", State: job.StatePaused}})
	}))
	defer srv.Close()

	client, _ := daemonctl.NewClient(srv.URL, "")
	status, err := client.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Running || status.Job.State != job.StatePaused {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestIsUnavailable(t *testing.T) {
	client, _ := daemonctl.NewClient("127.0.0.1:1", "")
	_, err := client.Status(context.Background())
	if !daemonctl.IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if daemonctl.IsUnavailable(errors.New("other")) {
		t.Fatal("did not expect generic error to be unavailable")
	}
}
