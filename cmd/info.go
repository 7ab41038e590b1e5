package cmd

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/checks"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show configuration, trust anchors and data locations",
	Long: `Display the effective tlsinspect configuration:
  - config file and data directory
  - trust anchor bundles and how many anchors they hold
  - the CT log list and how many logs it names
  - the registered certificate detectors`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appCtx := getAppContext(cmd)
		if appCtx == nil {
			return errors.New("application context not initialised")
		}
		cfg := appCtx.Config
		out := cmd.OutOrStdout()

		dir, err := getDataDir()
		if err != nil {
			return fmt.Errorf("failed to get data directory: %w", err)
		}

		configFile := viper.ConfigFileUsed()
		configStatus := "✓ (loaded)"
		if configFile == "" {
			configFile = "~/.tlsinspect.yaml"
			configStatus = "✗ (using defaults)"
		}

		anchorStatus := colorError("✗ (none configured)")
		if len(cfg.TrustAnchors) > 0 {
			if store, err := chain.LoadTrustStore(cfg.TrustAnchors...); err != nil {
				anchorStatus = colorError("✗ " + err.Error())
			} else {
				anchorStatus = colorSuccess(fmt.Sprintf("✓ (%d anchors)", store.Len()))
			}
		}

		logStatus := colorError("✗ (run `tlsinspect logs update`)")
		if logs, err := cfg.logDirectory(); err == nil {
			logStatus = colorSuccess(fmt.Sprintf("✓ (%d logs, %d operators)", logs.Len(), len(logs.Operators())))
		} else if _, statErr := os.Stat(cfg.CTLogList); statErr == nil {
			logStatus = colorError("✗ " + err.Error())
		}

		detectors := checks.Default(checks.Config{
			ExpiryWarning: time.Duration(cfg.Checks.ExpiryWarningDays) * 24 * time.Hour,
		}).Names()

		fmt.Fprintln(out, "tlsinspect System Information")
		fmt.Fprintln(out, "=============================")
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Platform:            %s/%s\n", runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Configuration File:  %s %s\n", configFile, configStatus)
		fmt.Fprintf(out, "Data Directory:      %s\n", dir)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Trust:")
		fmt.Fprintf(out, "  Trust Anchors:     %s %s\n", strings.Join(cfg.TrustAnchors, ", "), anchorStatus)
		fmt.Fprintf(out, "  CT Log List:       %s %s\n", cfg.CTLogList, logStatus)
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Policy:")
		fmt.Fprintf(out, "  Protocol:          min %s, preferred %s, forward secrecy required=%t\n",
			cfg.Protocol.MinVersion, cfg.Protocol.PreferredVersion, cfg.Protocol.RequireForwardSecrecy)
		fmt.Fprintf(out, "  Transparency:      %d valid SCTs from %d operators\n",
			cfg.Transparency.MinValidSCTs, cfg.Transparency.MinOperators)
		fmt.Fprintf(out, "  Detectors:         %s\n", strings.Join(detectors, ", "))
		fmt.Fprintln(out)
		fmt.Fprintln(out, "To pin your own anchors, create ~/.tlsinspect.yaml with:")
		fmt.Fprintln(out, "  trust_anchors: [/path/to/roots.pem]")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
