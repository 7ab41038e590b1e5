package cmd

import (
	"bytes"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func runVersion(t *testing.T, args ...string) string {
	t.Helper()
	c := &cobra.Command{Use: "version", Run: versionCmd.Run}
	c.Flags().BoolP("verbose", "v", false, "")
	var out bytes.Buffer
	c.SetOut(&out)
	c.SetArgs(append([]string{}, args...))
	if err := c.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	return out.String()
}

func TestVersionCommand(t *testing.T) {
	original := Version
	Version = "1.4.0"
	t.Cleanup(func() { Version = original })

	if got := runVersion(t); got != "tlsinspect version 1.4.0\n" {
		t.Errorf("short output = %q", got)
	}

	verbose := runVersion(t, "--verbose")
	for _, want := range []string{"Version:    1.4.0", "Go Version: " + runtime.Version()} {
		if !strings.Contains(verbose, want) {
			t.Errorf("verbose output missing %q:\n%s", want, verbose)
		}
	}
}
