package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/api"
	"github.com/khanhnv2901/tlsinspect/internal/engine"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the inspection engine as a REST API service",
	Long: `Serve the engine over HTTP:

  GET  /api/v1/health         liveness
  GET  /api/v1/ready          readiness
  POST /api/v1/inspect        inspect one target synchronously
  POST /api/v1/jobs           inspect many targets in the background
  GET  /api/v1/jobs[/{id}]    job status and results
  GET  /api/v1/jobs-stream    job updates as server-sent events

Jobs are kept in memory and are lost when the server stops.`,
	RunE: runServe,
}

func init() {
	addServeFlags(serveCmd.Flags())
}

func addServeFlags(flags *pflag.FlagSet) {
	flags.String("addr", defaultServeAddr, "address for the API server")
	flags.String("auth-token", "", "shared secret required in X-Auth-Token (empty = no auth)")
	flags.StringSlice("cors-origins", []string{}, "allowed CORS origins (empty = allow all)")
	flags.Int("rate-limit", defaultServeRateLimit, "requests per second per client IP (0 = disabled)")
	flags.Int("rate-burst", defaultServeRateBurst, "rate limit burst size")
	flags.Duration("max-timeout", 30*time.Second, "upper bound on a request's timeout_ms")
	flags.Duration("shutdown-timeout", defaultShutdownTimeout, "graceful shutdown timeout")
	flags.Int("concurrency", defaultConcurrency, "maximum concurrent inspections per job")
}

func applyServeFlags(flags *pflag.FlagSet, cfg *CLIConfig) {
	applyStringFlag(flags, "addr", func(v string) { cfg.Serve.Addr = v })
	applyStringFlag(flags, "auth-token", func(v string) { cfg.Serve.AuthToken = v })
	applyStringSliceFlag(flags, "cors-origins", func(v []string) { cfg.Serve.CORSOrigins = v })
	applyIntFlag(flags, "rate-limit", func(v int) { cfg.Serve.RateLimit = v })
	applyIntFlag(flags, "rate-burst", func(v int) { cfg.Serve.RateBurst = v })
	applyDurationFlag(flags, "max-timeout", func(v time.Duration) { cfg.Serve.MaxTimeout = v })
	applyDurationFlag(flags, "shutdown-timeout", func(v time.Duration) { cfg.Serve.ShutdownTimeout = v })
	applyIntFlag(flags, "concurrency", func(v int) { cfg.Runner.Concurrency = v })
}

// serviceHealth reports ready once the engine is built and the job manager
// accepts work.
type serviceHealth struct {
	inspector engine.Inspector
	jobs      *api.JobManager
}

func (h *serviceHealth) Check(context.Context) error {
	return nil
}

func (h *serviceHealth) Ready(ctx context.Context) error {
	if h.inspector == nil {
		return errors.New("inspection engine not initialised")
	}
	return h.jobs.Ready(ctx)
}

// newAPIServer wires the engine, the job manager and the HTTP handler.
func newAPIServer(cfg *CLIConfig, inspector engine.Inspector, logger *zap.Logger) (*api.Server, *api.JobManager, error) {
	runner := cfg.runner(logger.Named("runner"))
	if err := runner.Validate(); err != nil {
		return nil, nil, err
	}
	jobs := api.NewJobManager(inspector, runner, logger.Named("jobs"))
	if cfg.Serve.MaxJobs > 0 {
		jobs.SetMaxJobs(cfg.Serve.MaxJobs)
	}
	jobs.SetMaxTimeout(cfg.Serve.MaxTimeout)

	server := api.NewServer(api.Config{
		Inspector:   inspector,
		Jobs:        jobs,
		Health:      &serviceHealth{inspector: inspector, jobs: jobs},
		AuthToken:   cfg.Serve.AuthToken,
		Logger:      logger.Named("api"),
		CORSOrigins: cfg.Serve.CORSOrigins,
		RateLimit:   cfg.Serve.RateLimit,
		RateBurst:   cfg.Serve.RateBurst,
		MaxTimeout:  cfg.Serve.MaxTimeout,
	})
	return server, jobs, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	appCtx := getAppContext(cmd)
	if appCtx == nil {
		return errors.New("application context not initialised")
	}
	cfg := appCtx.Config
	applyServeFlags(cmd.Flags(), cfg)
	logger := appCtx.Logger

	inspector, err := newInspector(cfg, logger)
	if err != nil {
		return err
	}
	server, jobs, err := newAPIServer(cfg, inspector, logger)
	if err != nil {
		return err
	}
	defer jobs.Close()
	defer server.Close()

	httpServer := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           server,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Serve.MaxTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s API server listening on %s\n", colorInfo("→"), cfg.Serve.Addr)
		fmt.Fprintf(cmd.OutOrStdout(), "%s Press Ctrl+C to gracefully shutdown\n", colorInfo("→"))
		serverErrors <- httpServer.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-shutdown:
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s Received signal %v, initiating graceful shutdown...\n", colorInfo("→"), sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Serve.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			if closeErr := httpServer.Close(); closeErr != nil {
				return fmt.Errorf("failed to gracefully shutdown server: %w (close error: %v)", err, closeErr)
			}
			return fmt.Errorf("failed to gracefully shutdown server: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Server shutdown complete\n", colorSuccess("✓"))
	}
	return nil
}
