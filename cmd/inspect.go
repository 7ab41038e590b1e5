package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/engine"
	consts "github.com/khanhnv2901/tlsinspect/internal/shared/constants"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// newInspector builds the engine from configuration. Tests replace it.
var newInspector = func(cfg *CLIConfig, logger *zap.Logger) (engine.Inspector, error) {
	engineCfg, err := cfg.engineConfig(logger)
	if err != nil {
		return nil, err
	}
	return engine.New(engineCfg)
}

var inspectCmd = &cobra.Command{
	Use:   "inspect [target...]",
	Short: "Inspect TLS endpoints and print a graded verdict for each",
	Long: `Connect to each target once, validate the served certificate chain, judge
the negotiated protocol and cipher, verify Certificate Transparency SCTs and
combine everything into a 0-100 score and an A-F grade.

Targets may be given as host, host:port, [ipv6]:port or an https:// URL.
The port defaults to 443. The command exits with status 2 when any target
could not be reached or failed the handshake.`,
	Example: `  tlsinspect inspect example.com
  tlsinspect inspect example.com:8443 https://example.org/login --format json
  tlsinspect inspect --file targets.txt --concurrency 8 --output report.yaml --format yaml`,
	RunE: runInspect,
}

func init() {
	addInspectFlags(inspectCmd.Flags())
}

func addInspectFlags(flags *pflag.FlagSet) {
	flags.StringP("format", "f", formatText, "output format: text, json or yaml")
	flags.StringP("output", "O", "", "write the report to this file instead of stdout")
	flags.String("file", "", "read additional targets from this file, one per line")
	flags.String("results-dir", "", "also save each verdict as JSON in this directory")
	flags.Int("concurrency", defaultConcurrency, "maximum concurrent inspections")
	flags.Int("rate-limit", 0, "inspections started per second (0 = unlimited)")
	flags.Duration("timeout", consts.DefaultProbeTimeout, "per-target connect and handshake timeout")
	flags.Bool("sweep", false, "probe every TLS version the server accepts")
	flags.Bool("web", false, "fetch the landing page and check HSTS and mixed content")
	flags.Bool("progress", false, "show a progress line on stderr")
}

// applyInspectFlags lets explicit flags win over config and environment.
func applyInspectFlags(flags *pflag.FlagSet, cfg *CLIConfig) {
	applyIntFlag(flags, "concurrency", func(v int) { cfg.Runner.Concurrency = v })
	applyIntFlag(flags, "rate-limit", func(v int) { cfg.Runner.RateLimit = v })
	applyDurationFlag(flags, "timeout", func(v time.Duration) { cfg.Probe.Timeout = v })
	applyBoolFlag(flags, "sweep", func(v bool) { cfg.Probe.VersionSweep = v })
	applyBoolFlag(flags, "web", func(v bool) { cfg.Web.Enabled = v })
}

func runInspect(cmd *cobra.Command, args []string) error {
	appCtx := getAppContext(cmd)
	if appCtx == nil {
		return errors.New("application context not initialised")
	}
	cfg := appCtx.Config
	flags := cmd.Flags()
	applyInspectFlags(flags, cfg)

	format, _ := flags.GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	raw := append([]string(nil), args...)
	if file, _ := flags.GetString("file"); file != "" {
		fromFile, err := readTargetsFile(file)
		if err != nil {
			return err
		}
		raw = append(raw, fromFile...)
	}
	if len(raw) == 0 {
		return errors.New("at least one target is required")
	}
	targets, err := engine.ParseTargets(raw)
	if err != nil {
		return err
	}

	runner := cfg.runner(appCtx.Logger)
	if err := runner.Validate(); err != nil {
		return err
	}
	inspector, err := newInspector(cfg, appCtx.Logger)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var onResult engine.ResultFunc
	var progress *progressPrinter
	if show, _ := flags.GetBool("progress"); show {
		progress = newProgressPrinter(cmd.ErrOrStderr(), len(targets))
		progress.Start()
		onResult = progress.Observe
	}
	appCtx.Logger.Info("inspection started", zap.Int("targets", len(targets)),
		zap.Int("concurrency", runner.Concurrency), zap.Duration("timeout", runner.Timeout))
	results := runner.Run(ctx, inspector, targets, onResult)
	if progress != nil {
		progress.Stop()
	}

	if err := emitResults(cmd, format, results); err != nil {
		return err
	}
	if dir, _ := flags.GetString("results-dir"); dir != "" {
		if err := saveVerdicts(dir, results); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s verdicts saved to %s\n", colorInfo("→"), dir)
	}
	return failureStatus(results)
}

func emitResults(cmd *cobra.Command, format string, results []engine.Result) error {
	path, _ := cmd.Flags().GetString("output")
	if path == "" {
		return writeResults(cmd.OutOrStdout(), format, results)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, consts.DefaultFilePerm)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	if err := writeResults(f, format, results); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%s report written to %s\n", colorInfo("→"), path)
	return nil
}

// saveVerdicts writes one JSON file per successfully inspected target.
func saveVerdicts(dir string, results []engine.Result) error {
	if err := ensureResultsDir(dir); err != nil {
		return err
	}
	for _, res := range results {
		if res.Verdict == nil {
			continue
		}
		path, err := resolveVerdictPath(dir, res.Target)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(res.Verdict, "", "  ")
		if err != nil {
			return fmt.Errorf("encode verdict for %s: %w", res.Target, err)
		}
		if err := os.WriteFile(path, data, consts.DefaultFilePerm); err != nil {
			return fmt.Errorf("save verdict for %s: %w", res.Target, err)
		}
	}
	return nil
}

// failureStatus maps failed targets to an exit code: 2 when any failure was
// a transport failure, 1 for anything else.
func failureStatus(results []engine.Result) error {
	failed := 0
	transport := false
	kinds := map[string]struct{}{}
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		failed++
		kinds[res.Kind] = struct{}{}
		if engine.IsTransportError(res.Err) {
			transport = true
		}
	}
	if failed == 0 {
		return nil
	}

	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	err := &TargetFailureError{Failed: failed, Total: len(results), Kinds: names}
	if transport {
		return &ExitError{Code: exitTransportFailure, Err: err}
	}
	return &ExitError{Code: 1, Err: err}
}

func readTargetsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer f.Close()
	return parseTargetLines(f)
}

// parseTargetLines skips blank lines and # comments.
func parseTargetLines(r io.Reader) ([]string, error) {
	var targets []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = strings.TrimSpace(line[:i])
		}
		if line != "" {
			targets = append(targets, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return targets, nil
}
