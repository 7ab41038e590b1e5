package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/khanhnv2901/tlsinspect/internal/engine"
	"github.com/khanhnv2901/tlsinspect/internal/probe"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"gopkg.in/yaml.v3"
)

func disableColor(t *testing.T) {
	t.Helper()
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = original })
}

func TestInspectJSONKeepsInputOrder(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeInspector{}
	useInspector(t, fake)

	stdout, _, err := runCommand(t, cfg, addInspectFlags, runInspect,
		"c.example", "a.example:8443", "https://b.example/login", "--format", "json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	var results []engine.Result
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("decode output: %v\n%s", err, stdout)
	}
	var got []string
	for _, r := range results {
		got = append(got, r.Target.String())
		if r.Verdict == nil || r.Verdict.Grade != "A" {
			t.Errorf("%s: verdict = %+v", r.Target, r.Verdict)
		}
	}
	want := []string{"c.example:443", "a.example:8443", "b.example:443"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("targets = %v, want %v", got, want)
	}
}

func TestInspectSingleTargetJSONIsList(t *testing.T) {
	cfg := testConfig(t)
	useInspector(t, &fakeInspector{})

	stdout, _, err := runCommand(t, cfg, addInspectFlags, runInspect, "a.example", "-f", "json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(stdout), "[") {
		t.Errorf("json output should be a list, got %q", stdout)
	}
}

func TestInspectTransportFailureExitCode(t *testing.T) {
	disableColor(t)
	cfg := testConfig(t)
	fake := &fakeInspector{failures: map[string]error{
		"down.example": &probe.Error{Kind: probe.KindConnectTimeout, Host: "down.example", Port: 443, Err: context.DeadlineExceeded},
	}}
	useInspector(t, fake)

	stdout, _, err := runCommand(t, cfg, addInspectFlags, runInspect, "up.example", "down.example")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want *ExitError", err)
	}
	if exitErr.Code != exitTransportFailure {
		t.Errorf("exit code = %d, want %d", exitErr.Code, exitTransportFailure)
	}
	var failure *TargetFailureError
	if !errors.As(err, &failure) {
		t.Fatalf("error = %v, want *TargetFailureError", err)
	}
	if failure.Failed != 1 || failure.Total != 2 || !reflect.DeepEqual(failure.Kinds, []string{"ConnectTimeout"}) {
		t.Errorf("failure = %+v", failure)
	}

	if !strings.Contains(stdout, "up.example:443  grade A  score 97/100") {
		t.Errorf("graded target missing from output:\n%s", stdout)
	}
	if !strings.Contains(stdout, "down.example:443  ConnectTimeout") {
		t.Errorf("failed target missing from output:\n%s", stdout)
	}
}

func TestInspectInternalFailureExitCode(t *testing.T) {
	cfg := testConfig(t)
	useInspector(t, &fakeInspector{failures: map[string]error{
		"broken.example": errors.New("detector exploded"),
	}})

	_, _, err := runCommand(t, cfg, addInspectFlags, runInspect, "broken.example", "-f", "json")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v, want *ExitError", err)
	}
	if exitErr.Code != 1 {
		t.Errorf("exit code = %d, want 1", exitErr.Code)
	}
	if !strings.Contains(err.Error(), "InternalError") {
		t.Errorf("error %q should name the failure kind", err)
	}
}

func TestInspectFlagsReachRunner(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeInspector{}
	captured := useInspector(t, fake)

	_, _, err := runCommand(t, cfg, addInspectFlags, runInspect,
		"a.example", "--concurrency", "3", "--timeout", "2s", "--sweep", "-f", "json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}

	got := captured()
	if got == nil {
		t.Fatal("inspector was never built")
	}
	if got.Runner.Concurrency != 3 || !got.Probe.VersionSweep {
		t.Errorf("config = %+v %+v", got.Runner, got.Probe)
	}
	if len(fake.requests) != 1 || fake.requests[0].Timeout != 2*time.Second {
		t.Errorf("requests = %+v, want one with a 2s timeout", fake.requests)
	}
}

func TestInspectTargetsFile(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeInspector{}
	useInspector(t, fake)

	file := filepath.Join(t.TempDir(), "targets.txt")
	content := "# production\na.example\n\nb.example:8443  # api\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write targets: %v", err)
	}

	stdout, _, err := runCommand(t, cfg, addInspectFlags, runInspect, "c.example", "--file", file, "-f", "json")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	var results []engine.Result
	if err := json.Unmarshal([]byte(stdout), &results); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].Target.Hostname != "c.example" || results[2].Target.Port != 8443 {
		t.Errorf("results = %+v", results)
	}
}

func TestInspectWritesReportAndVerdicts(t *testing.T) {
	cfg := testConfig(t)
	useInspector(t, &fakeInspector{failures: map[string]error{
		"down.example": &probe.Error{Kind: probe.KindConnectFailure, Host: "down.example", Port: 443},
	}})

	dir := t.TempDir()
	report := filepath.Join(dir, "report.yaml")
	resultsDir := filepath.Join(dir, "verdicts")

	stdout, stderr, err := runCommand(t, cfg, addInspectFlags, runInspect,
		"a.example", "down.example", "[2001:db8::1]:8443",
		"--format", "yaml", "--output", report, "--results-dir", resultsDir)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitTransportFailure {
		t.Fatalf("error = %v, want exit code %d", err, exitTransportFailure)
	}
	if stdout != "" {
		t.Errorf("report should go to the file, stdout = %q", stdout)
	}
	if !strings.Contains(stderr, report) {
		t.Errorf("stderr should name the report file: %q", stderr)
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded []map[string]any
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("report holds %d results, want 3", len(decoded))
	}
	if decoded[1]["kind"] != "ConnectFailure" {
		t.Errorf("second result kind = %v", decoded[1]["kind"])
	}

	for _, name := range []string{"a.example_443.json", "2001_db8__1_8443.json"} {
		if _, err := os.Stat(filepath.Join(resultsDir, name)); err != nil {
			t.Errorf("verdict file %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(resultsDir, "down.example_443.json")); !os.IsNotExist(err) {
		t.Errorf("failed targets should not get a verdict file, stat err = %v", err)
	}
}

func TestInspectRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, err error)
	}{
		{
			name: "no targets",
			args: nil,
			check: func(t *testing.T, err error) {
				if err == nil || !strings.Contains(err.Error(), "at least one target") {
					t.Errorf("error = %v", err)
				}
			},
		},
		{
			name: "unknown format",
			args: []string{"a.example", "--format", "xml"},
			check: func(t *testing.T, err error) {
				var fe *UnsupportedFormatError
				if !errors.As(err, &fe) || fe.Format != "xml" {
					t.Errorf("error = %v, want *UnsupportedFormatError", err)
				}
			},
		},
		{
			name: "invalid hostname",
			args: []string{"a.example", "bad host!"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, apperrors.ErrInvalidTarget) {
					t.Errorf("error = %v, want ErrInvalidTarget", err)
				}
			},
		},
		{
			name: "port out of range",
			args: []string{"a.example:70000"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, apperrors.ErrInvalidPort) {
					t.Errorf("error = %v, want ErrInvalidPort", err)
				}
			},
		},
		{
			name: "zero concurrency",
			args: []string{"a.example", "--concurrency", "0"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, apperrors.ErrInvalidRunnerConfig) {
					t.Errorf("error = %v, want ErrInvalidRunnerConfig", err)
				}
			},
		},
		{
			name: "missing targets file",
			args: []string{"--file", "/nonexistent/targets.txt"},
			check: func(t *testing.T, err error) {
				if !errors.Is(err, os.ErrNotExist) {
					t.Errorf("error = %v, want os.ErrNotExist", err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			fake := &fakeInspector{}
			useInspector(t, fake)

			_, _, err := runCommand(t, cfg, addInspectFlags, runInspect, tt.args...)
			tt.check(t, err)
			if len(fake.requests) != 0 {
				t.Errorf("no inspection should run, got %d", len(fake.requests))
			}
		})
	}
}

func TestParseTargetLines(t *testing.T) {
	input := `
# comment line
a.example
   b.example:8443
c.example # trailing comment
#
`
	got, err := parseTargetLines(strings.NewReader(input))
	if err != nil {
		t.Fatalf("parseTargetLines: %v", err)
	}
	want := []string{"a.example", "b.example:8443", "c.example"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFailureStatus(t *testing.T) {
	ok := engine.Result{Target: engine.Target{Hostname: "a.example", Port: 443}}
	dns := engine.Result{
		Err:  &probe.Error{Kind: probe.KindDNSResolution, Host: "nx.example", Port: 443},
		Kind: string(probe.KindDNSResolution),
	}
	internal := engine.Result{Err: errors.New("boom"), Kind: "InternalError"}

	if err := failureStatus([]engine.Result{ok, ok}); err != nil {
		t.Errorf("all graded: err = %v, want nil", err)
	}

	err := failureStatus([]engine.Result{ok, internal, dns})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) || exitErr.Code != exitTransportFailure {
		t.Fatalf("mixed failures: err = %v, want exit code %d", err, exitTransportFailure)
	}
	if got := err.Error(); got != "2 of 3 targets failed (DNSResolutionError, InternalError)" {
		t.Errorf("message = %q", got)
	}

	err = failureStatus([]engine.Result{internal})
	if !errors.As(err, &exitErr) || exitErr.Code != 1 {
		t.Errorf("internal failure: err = %v, want exit code 1", err)
	}
}
