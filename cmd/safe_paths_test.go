package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/khanhnv2901/tlsinspect/internal/engine"
)

func TestVerdictFileName(t *testing.T) {
	tests := []struct {
		target engine.Target
		want   string
	}{
		{engine.Target{Hostname: "example.com", Port: 443}, "example.com_443.json"},
		{engine.Target{Hostname: "api-1.example.com", Port: 8443}, "api-1.example.com_8443.json"},
		{engine.Target{Hostname: "2001:db8::1", Port: 443}, "2001_db8__1_443.json"},
		{engine.Target{Hostname: "..", Port: 443}, "__443.json"},
		{engine.Target{Hostname: "../etc/passwd", Port: 1}, "_etc_passwd_1.json"},
	}
	for _, tt := range tests {
		if got := verdictFileName(tt.target); got != tt.want {
			t.Errorf("verdictFileName(%v) = %q, want %q", tt.target, got, tt.want)
		}
	}
}

func TestResolveVerdictPathStaysInside(t *testing.T) {
	dir := t.TempDir()
	path, err := resolveVerdictPath(dir, engine.Target{Hostname: "../../escape", Port: 443})
	if err != nil {
		t.Fatalf("resolveVerdictPath: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("path %q is outside %q", path, dir)
	}
}

func TestEnsureResultsDir(t *testing.T) {
	if err := ensureResultsDir(""); err == nil {
		t.Error("empty directory should be rejected")
	}
	dir := filepath.Join(t.TempDir(), "a", "b")
	if err := ensureResultsDir(dir); err != nil {
		t.Fatalf("ensureResultsDir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("directory not created: %v", err)
	}
}
