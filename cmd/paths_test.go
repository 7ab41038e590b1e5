package cmd

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestDataDirOverride(t *testing.T) {
	want := filepath.Join(t.TempDir(), "custom")
	t.Setenv(dataDirEnvVar, want)

	got, err := dataDir()
	if err != nil {
		t.Fatalf("dataDir: %v", err)
	}
	if got != want {
		t.Errorf("dataDir = %q, want %q", got, want)
	}
	if _, err := os.Stat(want); !os.IsNotExist(err) {
		t.Error("dataDir must not create the directory")
	}

	created, err := getDataDir()
	if err != nil {
		t.Fatalf("getDataDir: %v", err)
	}
	if info, err := os.Stat(created); err != nil || !info.IsDir() {
		t.Errorf("getDataDir did not create %q: %v", created, err)
	}

	logList, err := defaultLogListPath()
	if err != nil {
		t.Fatalf("defaultLogListPath: %v", err)
	}
	if logList != filepath.Join(want, logListFile) {
		t.Errorf("defaultLogListPath = %q", logList)
	}
}

func TestDataDirXDG(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG layout applies to Linux and other Unix systems")
	}
	xdg := t.TempDir()
	t.Setenv(dataDirEnvVar, "")
	t.Setenv("XDG_DATA_HOME", xdg)

	got, err := dataDir()
	if err != nil {
		t.Fatalf("dataDir: %v", err)
	}
	if got != filepath.Join(xdg, appDirName) {
		t.Errorf("dataDir = %q", got)
	}
}
