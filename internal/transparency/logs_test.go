package transparency

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"github.com/khanhnv2901/tlsinspect/internal/testutil"
)

func TestLoadLogDirectory(t *testing.T) {
	a := testutil.NewCTLog(t, "argon", "Google")
	b := testutil.NewCTLog(t, "nimbus", "Cloudflare")
	c := testutil.NewCTLog(t, "oak", "Google")

	path := filepath.Join(t.TempDir(), "log_list.json")
	if err := os.WriteFile(path, testutil.LogListJSON(t, a, b, c), 0o600); err != nil {
		t.Fatal(err)
	}

	dir, err := LoadLogDirectory(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if dir.Len() != 3 {
		t.Errorf("expected 3 logs, got %d", dir.Len())
	}
	if ops := dir.Operators(); len(ops) != 2 || ops[0] != "Cloudflare" || ops[1] != "Google" {
		t.Errorf("unexpected operators %v", ops)
	}

	log, ok := dir.Lookup(c.ID)
	if !ok {
		t.Fatal("lookup by ID failed")
	}
	if log.Operator != "Google" || log.Description != "oak" {
		t.Errorf("unexpected log %+v", log)
	}

	logs := dir.Logs()
	if logs[0].Operator != "Cloudflare" || logs[1].Description != "argon" || logs[2].Description != "oak" {
		t.Errorf("logs not ordered by operator then description")
	}
}

func TestParseLogDirectoryErrors(t *testing.T) {
	if _, err := ParseLogDirectory([]byte("{not json")); !errors.Is(err, apperrors.ErrInvalidLogDirectory) {
		t.Errorf("expected invalid directory for bad JSON, got %v", err)
	}
	if _, err := ParseLogDirectory([]byte(`{"version":"1","operators":[]}`)); !errors.Is(err, apperrors.ErrInvalidLogDirectory) {
		t.Errorf("expected invalid directory for empty list, got %v", err)
	}
	bad := `{"version":"1","operators":[{"name":"x","email":[],"logs":[{"description":"d","log_id":"AAAA","key":"AAAA","url":"u","mmd":1}]}]}`
	if _, err := ParseLogDirectory([]byte(bad)); !errors.Is(err, apperrors.ErrInvalidLogDirectory) {
		t.Errorf("expected invalid directory for short log ID, got %v", err)
	}
	if _, err := LoadLogDirectory(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := NewVerifier(nil, DefaultPolicy()); !errors.Is(err, apperrors.ErrMissingLogDirectory) {
		t.Errorf("expected missing directory error, got %v", err)
	}
}
