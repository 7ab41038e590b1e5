// Package engine runs the whole inspection pipeline for one target and
// fans it out over many targets with a bounded worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/checks"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/probe"
	"github.com/khanhnv2901/tlsinspect/internal/protocol"
	"github.com/khanhnv2901/tlsinspect/internal/scoring"
	"github.com/khanhnv2901/tlsinspect/internal/shared/constants"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"github.com/khanhnv2901/tlsinspect/internal/transparency"
	"github.com/khanhnv2901/tlsinspect/internal/webcheck"
	"go.uber.org/zap"
)

// Config is everything an Engine needs. Trust anchors and the CT log
// directory are loaded once by the caller and shared read-only.
type Config struct {
	TrustStore     *chain.TrustStore
	LogDirectory   *transparency.LogDirectory
	ProtocolPolicy protocol.Policy
	CTPolicy       transparency.Policy
	Scoring        scoring.Config
	Checks         checks.Config
	// VersionSweep adds one handshake per TLS version after the main probe.
	VersionSweep bool
	// WebChecks enables the HSTS and mixed-content collaborator.
	WebChecks   bool
	WebConfig   webcheck.Config
	Nameservers []string
	Logger      *zap.Logger
}

// ExternalCheck contributes findings from outside the TLS pipeline. Its
// failures must be reported as findings, not errors.
type ExternalCheck interface {
	Name() string
	Check(ctx context.Context, hostname string, port int) []finding.Finding
}

// Request names one inspection target.
type Request struct {
	Hostname string
	Port     int
	Timeout  time.Duration
}

// Validate applies defaults and checks the request.
func (r *Request) Validate() error {
	if r.Port == 0 {
		r.Port = constants.DefaultPort
	}
	if r.Timeout == 0 {
		r.Timeout = constants.DefaultProbeTimeout
	}
	if err := probe.ValidateTarget(r.Hostname, r.Port, r.Timeout); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrInvalidTarget, err)
	}
	return nil
}

// Engine is safe for concurrent use; it holds no per-inspection state.
type Engine struct {
	prober     *probe.Prober
	builder    *chain.Builder
	policy     protocol.Policy
	verifier   *transparency.Verifier
	detectors  *checks.Registry
	external   []ExternalCheck
	aggregator *scoring.Aggregator
	sweep      bool
	now        func() time.Time
	logger     *zap.Logger
}

// Option customises an Engine after its configuration has been validated.
type Option func(*Engine)

// WithProber replaces the network prober.
func WithProber(p *probe.Prober) Option {
	return func(e *Engine) { e.prober = p }
}

// WithClock fixes the time used for validity checks and timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
		e.builder.Now = now
		e.verifier.Now = now
	}
}

// WithDetectors registers extra detectors after the built-in ones.
func WithDetectors(ds ...checks.Detector) Option {
	return func(e *Engine) {
		for _, d := range ds {
			e.detectors.Register(d)
		}
	}
}

// WithExternalChecks adds collaborators whose findings are folded into the
// score.
func WithExternalChecks(cs ...ExternalCheck) Option {
	return func(e *Engine) { e.external = append(e.external, cs...) }
}

// New validates cfg and builds an Engine. Misconfiguration fails here, never
// during an inspection.
func New(cfg Config, opts ...Option) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	builder, err := chain.NewBuilder(cfg.TrustStore)
	if err != nil {
		return nil, fmt.Errorf("trust anchors: %w", err)
	}
	if err := cfg.ProtocolPolicy.Validate(); err != nil {
		return nil, fmt.Errorf("protocol policy: %w", err)
	}
	verifier, err := transparency.NewVerifier(cfg.LogDirectory, cfg.CTPolicy)
	if err != nil {
		return nil, fmt.Errorf("transparency: %w", err)
	}
	aggregator, err := scoring.NewAggregator(cfg.Scoring)
	if err != nil {
		return nil, fmt.Errorf("scoring: %w", err)
	}

	e := &Engine{
		prober:     probe.NewProber(logger.Named("probe"), cfg.Nameservers...),
		builder:    builder,
		policy:     cfg.ProtocolPolicy,
		verifier:   verifier,
		detectors:  checks.Default(cfg.Checks),
		aggregator: aggregator,
		sweep:      cfg.VersionSweep,
		now:        time.Now,
		logger:     logger,
	}
	if cfg.WebChecks {
		e.external = append(e.external, webcheck.New(cfg.WebConfig, logger.Named("webcheck")))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Detectors returns the names of the registered detectors.
func (e *Engine) Detectors() []string {
	return e.detectors.Names()
}

// Inspect probes req once and evaluates what the server presented. The only
// errors returned are request validation errors and transport errors
// (*probe.Error); every other problem is a finding on the verdict.
func (e *Engine) Inspect(ctx context.Context, req Request) (*scoring.Verdict, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger := e.logger.With(zap.String("host", req.Hostname), zap.Int("port", req.Port))

	session, err := e.prober.Probe(ctx, req.Hostname, req.Port, req.Timeout)
	if err != nil {
		logger.Info("probe failed", zap.String("kind", string(probe.KindOf(err))), zap.Error(err))
		return nil, err
	}

	c := e.builder.BuildAndValidate(session.PeerChain)
	pv := protocol.Evaluate(session, e.policy)
	if e.sweep {
		pv = e.withSweep(ctx, req, pv, logger)
	}
	tv := e.verifier.Verify(c, session.SCTs)

	external := e.detectors.Run(&checks.Input{
		Hostname: session.Hostname,
		Session:  session,
		Chain:    c,
		Now:      e.now(),
	})
	for _, x := range e.external {
		external = append(external, x.Check(ctx, session.Hostname, req.Port)...)
	}

	verdict := e.aggregator.Aggregate(scoring.Inputs{
		Host:         session.Hostname,
		Port:         req.Port,
		Chain:        c,
		Protocol:     &pv,
		Transparency: &tv,
		External:     external,
		InspectedAt:  e.now().UTC(),
	})

	logger.Info("inspection complete",
		zap.Int("score", verdict.Score),
		zap.String("grade", verdict.Grade),
		zap.Int("findings", len(verdict.Findings)),
		zap.Duration("handshake", session.HandshakeTime),
	)
	return &verdict, nil
}

func (e *Engine) withSweep(ctx context.Context, req Request, pv protocol.Verdict, logger *zap.Logger) protocol.Verdict {
	accepted, err := e.prober.SupportedVersions(ctx, req.Hostname, req.Port, req.Timeout)
	if err != nil {
		// Sweep failures never fail an inspection whose main probe succeeded.
		logger.Warn("version sweep incomplete", zap.Error(err))
		if len(accepted) == 0 {
			return pv
		}
	}
	return pv.WithSweep(accepted, e.policy)
}

// IsTransportError reports whether err came from the network rather than
// from the request or configuration.
func IsTransportError(err error) bool {
	var perr *probe.Error
	return errors.As(err, &perr)
}
