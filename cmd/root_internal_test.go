package cmd

import (
	"context"
	"testing"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Error("debug level not enabled")
	}

	logger, err = newLogger("error")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be filtered at error level")
	}

	if _, err := newLogger("chatty"); err == nil {
		t.Error("unknown level should be rejected")
	}
}

func TestAppContextRoundTrip(t *testing.T) {
	original := globalAppContext
	t.Cleanup(func() { globalAppContext = original })

	appCtx := &AppContext{Logger: zaptest.NewLogger(t), Config: &CLIConfig{}}
	c := &cobra.Command{Use: "x"}
	storeAppContext(c, appCtx)

	if got := getAppContext(c); got != appCtx {
		t.Error("context lookup did not return the stored AppContext")
	}

	other := &cobra.Command{Use: "y"}
	other.SetContext(context.Background())
	if got := getAppContext(other); got != appCtx {
		t.Error("commands without their own context should fall back to the global one")
	}
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	want := map[string]bool{"inspect": false, "serve": false, "logs": false, "version": false, "info": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}
