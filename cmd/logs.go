package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	consts "github.com/khanhnv2901/tlsinspect/internal/shared/constants"
	"github.com/khanhnv2901/tlsinspect/internal/transparency"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultLogListURL = "https://www.gstatic.com/ct/log_list/v3/log_list.json"
	maxLogListBytes   = 16 << 20
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "List the Certificate Transparency logs SCTs are verified against",
	RunE:  runLogs,
}

var logsUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Download the current CT log list into the data directory",
	RunE:  runLogsUpdate,
}

func init() {
	logsCmd.Flags().StringP("format", "f", formatText, "output format: text, json or yaml")
	logsUpdateCmd.Flags().String("url", defaultLogListURL, "v3 log list to download")
	logsUpdateCmd.Flags().Duration("timeout", 30*time.Second, "download timeout")
	logsCmd.AddCommand(logsUpdateCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	appCtx := getAppContext(cmd)
	if appCtx == nil {
		return errors.New("application context not initialised")
	}
	format, _ := cmd.Flags().GetString("format")
	if err := validateFormat(format); err != nil {
		return err
	}

	dir, err := appCtx.Config.logDirectory()
	if err != nil {
		return err
	}
	return writeLogs(cmd.OutOrStdout(), format, appCtx.Config.CTLogList, dir)
}

func writeLogs(w io.Writer, format, source string, dir *transparency.LogDirectory) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(dir.Logs())
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(dir.Logs()); err != nil {
			return err
		}
		return enc.Close()
	}

	fmt.Fprintf(w, "%s %d logs from %d operators (%s)\n\n", colorInfo("→"), dir.Len(), len(dir.Operators()), source)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATOR\tDESCRIPTION\tLOG ID\tMMD")
	for _, l := range dir.Logs() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%ds\n", l.Operator, l.Description, l.IDBase64, l.MMD)
	}
	return tw.Flush()
}

func runLogsUpdate(cmd *cobra.Command, args []string) error {
	appCtx := getAppContext(cmd)
	if appCtx == nil {
		return errors.New("application context not initialised")
	}
	url, _ := cmd.Flags().GetString("url")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	dest := appCtx.Config.CTLogList

	ctx, cancel := context.WithTimeout(contextOrBackground(cmd), timeout)
	defer cancel()

	dir, err := downloadLogList(ctx, http.DefaultClient, url, dest)
	if err != nil {
		return err
	}
	appCtx.Logger.Info("CT log list updated", zap.String("url", url), zap.String("path", dest), zap.Int("logs", dir.Len()))
	fmt.Fprintf(cmd.OutOrStdout(), "%s saved %d logs from %d operators to %s\n",
		colorSuccess("✓"), dir.Len(), len(dir.Operators()), dest)
	return nil
}

// downloadLogList fetches url, refuses anything that does not parse as a
// usable log list, and replaces dest atomically.
func downloadLogList(ctx context.Context, client *http.Client, url, dest string) (*transparency.LogDirectory, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download log list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download log list: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxLogListBytes))
	if err != nil {
		return nil, fmt.Errorf("read log list: %w", err)
	}
	dir, err := transparency.ParseLogDirectory(data)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(dest), consts.DefaultDirPerm); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".log_list-*.json")
	if err != nil {
		return nil, fmt.Errorf("save log list: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return nil, fmt.Errorf("save log list: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("save log list: %w", err)
	}
	if err := os.Chmod(tmp.Name(), consts.DefaultFilePerm); err != nil {
		return nil, fmt.Errorf("save log list: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return nil, fmt.Errorf("save log list: %w", err)
	}
	return dir, nil
}

func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
