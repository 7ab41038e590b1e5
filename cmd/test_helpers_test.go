package cmd

import (
	"bytes"
	"context"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/khanhnv2901/tlsinspect/internal/engine"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/scoring"
	"github.com/khanhnv2901/tlsinspect/internal/testutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// testConfig loads the built-in defaults with the data directory pointed at
// a temp dir.
func testConfig(t *testing.T) *CLIConfig {
	t.Helper()
	t.Setenv(dataDirEnvVar, t.TempDir())
	v := viper.New()
	setConfigDefaults(v)
	cfg, err := loadCLIConfig(v)
	if err != nil {
		t.Fatalf("loadCLIConfig: %v", err)
	}
	return cfg
}

// writeTrustMaterial writes a root bundle and a two-operator CT log list
// and points cfg at them.
func writeTrustMaterial(t *testing.T, cfg *CLIConfig) {
	t.Helper()
	dir := t.TempDir()

	root := testutil.NewRoot(t, "CLI Test Root")
	anchors := filepath.Join(dir, "roots.pem")
	if err := os.WriteFile(anchors, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: root.Cert.Raw}), 0o600); err != nil {
		t.Fatalf("write anchors: %v", err)
	}

	logList := filepath.Join(dir, "log_list.json")
	data := testutil.LogListJSON(t,
		testutil.NewCTLog(t, "Test Log Argon", "Operator A"),
		testutil.NewCTLog(t, "Test Log Xenon", "Operator B"),
	)
	if err := os.WriteFile(logList, data, 0o600); err != nil {
		t.Fatalf("write log list: %v", err)
	}

	cfg.TrustAnchors = []string{anchors}
	cfg.CTLogList = logList
}

// runCommand executes a fresh command with the given flags and RunE, with
// appCtx stored in its context.
func runCommand(t *testing.T, cfg *CLIConfig, addFlags func(*pflag.FlagSet), run func(*cobra.Command, []string) error, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	original := globalAppContext
	t.Cleanup(func() { globalAppContext = original })

	c := &cobra.Command{Use: "test", RunE: run, SilenceUsage: true, SilenceErrors: true}
	if addFlags != nil {
		addFlags(c.Flags())
	}
	var out, errOut bytes.Buffer
	c.SetOut(&out)
	c.SetErr(&errOut)
	if args == nil {
		args = []string{}
	}
	c.SetArgs(args)
	c.SetContext(context.Background())
	storeAppContext(c, &AppContext{Logger: zaptest.NewLogger(t), Config: cfg})

	err = c.Execute()
	return out.String(), errOut.String(), err
}

// fakeInspector grades every host A unless failures names it.
type fakeInspector struct {
	mu       sync.Mutex
	failures map[string]error
	requests []engine.Request
}

func (f *fakeInspector) Inspect(_ context.Context, req engine.Request) (*scoring.Verdict, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err, ok := f.failures[req.Hostname]; ok {
		return nil, err
	}
	return &scoring.Verdict{
		Host:  req.Hostname,
		Port:  req.Port,
		Score: 97,
		Grade: "A",
		Findings: []finding.Finding{
			finding.New(finding.SeverityLow, finding.CategoryHSTS, "HSTS max-age 300 is below 31536000", "Raise max-age to at least one year."),
		},
	}, nil
}

// useInspector swaps newInspector for the duration of the test. The
// returned func reports the config the command built the engine from.
func useInspector(t *testing.T, inspector engine.Inspector) func() *CLIConfig {
	t.Helper()
	var captured *CLIConfig
	original := newInspector
	newInspector = func(cfg *CLIConfig, _ *zap.Logger) (engine.Inspector, error) {
		captured = cfg
		return inspector, nil
	}
	t.Cleanup(func() { newInspector = original })
	return func() *CLIConfig { return captured }
}
