package domain

import (
	"testing"
	"time"
)

func TestKindForExtension(t *testing.T) {
	tests := []struct {
		ext  string
		want MediaKind
	}{
		{".jpg", KindImage},
		{".JPEG", KindImage},
		{".png", KindImage},
		{".heic", KindImage},
		{".gif", KindImage},
		{".mp4", KindVideo},
		{".mov", KindVideo},
		{".mkv", KindVideo},
		{".dat", KindVideo}, // unknown extensions fall through to video
	}
	for _, tt := range tests {
		if got := KindForExtension(tt.ext); got != tt.want {
			t.Errorf("KindForExtension(%q) = %q, want %q", tt.ext, got, tt.want)
		}
	}
}

func TestAllowedExtension(t *testing.T) {
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".heic", ".gif", ".mp4", ".mov", ".avi", ".mkv"} {
		if !AllowedExtension(ext) {
			t.Errorf("AllowedExtension(%q) = false, want true", ext)
		}
	}
	for _, ext := range []string{".exe", ".pdf", "", ".txt"} {
		if AllowedExtension(ext) {
			t.Errorf("AllowedExtension(%q) = true, want false", ext)
		}
	}
}

func TestGrantExpired(t *testing.T) {
	now := time.Now()
	g := &DownloadGrant{Token: "t", ExpiresAt: now.Add(time.Hour)}
	if g.Expired(now) {
		t.Error("grant with future expiry reported expired")
	}
	if !g.Expired(now.Add(2 * time.Hour)) {
		t.Error("grant with past expiry reported live")
	}
}

func TestJobDownloadable(t *testing.T) {
	now := time.Now()
	job := &Job{}
	if job.Downloadable(now) {
		t.Error("job without result reported downloadable")
	}
	job.ResultPath = "/tmp/result.jpg"
	if job.Downloadable(now) {
		t.Error("job without grant reported downloadable")
	}
	job.Grant = &DownloadGrant{Token: "t", ExpiresAt: now.Add(time.Hour)}
	if !job.Downloadable(now) {
		t.Error("job with result and live grant reported not downloadable")
	}
	job.Grant.ExpiresAt = now.Add(-time.Hour)
	if job.Downloadable(now) {
		t.Error("job with expired grant reported downloadable")
	}
}

func TestJobResultName(t *testing.T) {
	job := &Job{ID: "abc", Extension: ".png", OriginalName: "holiday.png"}
	if got := job.ResultName(); got != "holiday.png" {
		t.Errorf("ResultName() = %q, want %q", got, "holiday.png")
	}
	job.OriginalName = ""
	if got := job.ResultName(); got != "abc.png" {
		t.Errorf("ResultName() = %q, want %q", got, "abc.png")
	}
}
