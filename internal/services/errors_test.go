package services_test

import (
	"errors"
	"strings"
	"testing"

	"optibatch/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternal, "remote", "upload", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternal) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"remote", "upload", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected placeholder detail, got %q", err.Error())
	}
}

func TestKindAndRetryable(t *testing.T) {
	cases := []struct {
		marker    error
		kind      string
		retryable bool
	}{
		{services.ErrValidation, "validation", false},
		{services.ErrNotFound, "not_found", false},
		{services.ErrConfiguration, "configuration", false},
		{services.ErrTimeout, "timeout", true},
		{services.ErrExternal, "external", true},
		{services.ErrUnauthorized, "unauthorized", true},
	}
	for _, tc := range cases {
		err := services.Wrap(tc.marker, "transform", "decode", "x", nil)
		if got := services.Kind(err); got != tc.kind {
			t.Fatalf("Kind(%v) = %q, want %q", tc.marker, got, tc.kind)
		}
		if got := services.Retryable(err); got != tc.retryable {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.marker, got, tc.retryable)
		}
	}
	if services.Kind(nil) != "" || services.Retryable(nil) {
		t.Fatal("nil error should have no kind and not be retryable")
	}
	if services.Kind(errors.New("plain")) != "transient" {
		t.Fatal("unmarked errors classify as transient")
	}
}
