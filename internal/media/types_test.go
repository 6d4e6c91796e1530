package media_test

import (
	"testing"

	"optibatch/internal/media"
)

func TestSavingsPercent(t *testing.T) {
	cases := []struct {
		original, optimized int64
		want                int
	}{
		{1000, 400, 60},
		{1000, 1000, 0},
		{0, 0, 0},
		{0, 100, 0},
		{3, 2, 33},
		{200, 199, 1},
		{1000, 1200, -20},
	}
	for _, tc := range cases {
		if got := media.SavingsPercent(tc.original, tc.optimized); got != tc.want {
			t.Fatalf("SavingsPercent(%d, %d) = %d, want %d", tc.original, tc.optimized, got, tc.want)
		}
	}
}

func TestShouldSkip(t *testing.T) {
	s := media.Settings{SkipSmall: true, MinSizeKB: 10}
	if !s.ShouldSkip(media.Rendition{Bytes: 5 * 1024}) {
		t.Fatal("expected 5KB rendition to be skipped")
	}
	if s.ShouldSkip(media.Rendition{Bytes: 10 * 1024}) {
		t.Fatal("threshold is exclusive")
	}
	s.SkipSmall = false
	if s.ShouldSkip(media.Rendition{Bytes: 1}) {
		t.Fatal("skip-small disabled must never skip")
	}
}

func TestFingerprintStable(t *testing.T) {
	a := media.Settings{Quality: 80, Resize: true, MaxWidth: 1920, Format: "JPEG"}
	b := media.Settings{Quality: 80, Resize: true, MaxWidth: 1920, Format: "jpeg "}
	if a.Fingerprint() != b.Fingerprint() {
		t.Fatal("format casing should not change fingerprint")
	}
	b.Quality = 81
	if a.Fingerprint() == b.Fingerprint() {
		t.Fatal("quality change should change fingerprint")
	}
	if len(a.Fingerprint()) != 16 {
		t.Fatalf("unexpected fingerprint length: %q", a.Fingerprint())
	}
}

func TestDisplayName(t *testing.T) {
	if got := (media.WorkItem{Filename: "a.jpg"}).DisplayName(); got != "a.jpg" {
		t.Fatalf("got %q", got)
	}
	if got := (media.WorkItem{Filename: "a.jpg", Title: "Sunset"}).DisplayName(); got != "Sunset" {
		t.Fatalf("got %q", got)
	}
}
