// Package checks holds independent certificate detectors. Each detector is a
// pure function of one inspection's data, keyed by the finding category it
// reports under, and contributes findings to the aggregator.
package checks

import (
	"fmt"
	"sort"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/probe"
	"github.com/khanhnv2901/tlsinspect/internal/shared/constants"
)

// Input is everything a detector may look at. Detectors must not modify it.
type Input struct {
	Hostname string
	Session  *probe.Session
	Chain    *chain.Chain
	Now      time.Time
}

// Detector is one pluggable check.
type Detector interface {
	Name() string
	Category() string
	Check(in *Input) []finding.Finding
}

// Func adapts a plain function into a Detector.
type Func struct {
	DetectorName     string
	DetectorCategory string
	Fn               func(in *Input) []finding.Finding
}

func (f Func) Name() string                      { return f.DetectorName }
func (f Func) Category() string                  { return f.DetectorCategory }
func (f Func) Check(in *Input) []finding.Finding { return f.Fn(in) }

// Registry runs detectors in registration order. Register every detector
// before the first Run; Run itself is safe for concurrent use.
type Registry struct {
	detectors []Detector
}

// NewRegistry returns a registry holding ds.
func NewRegistry(ds ...Detector) *Registry {
	r := &Registry{}
	for _, d := range ds {
		r.Register(d)
	}
	return r
}

// Register appends d.
func (r *Registry) Register(d Detector) {
	r.detectors = append(r.detectors, d)
}

// Names lists the registered detectors, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.detectors))
	for _, d := range r.detectors {
		names = append(names, d.Name())
	}
	sort.Strings(names)
	return names
}

// ByCategory returns the detectors reporting under category.
func (r *Registry) ByCategory(category string) []Detector {
	var out []Detector
	for _, d := range r.detectors {
		if d.Category() == category {
			out = append(out, d)
		}
	}
	return out
}

// Run executes every detector. A panicking detector contributes a low
// finding instead of its results; the others still run.
func (r *Registry) Run(in *Input) []finding.Finding {
	var out []finding.Finding
	for _, d := range r.detectors {
		out = append(out, runDetector(d, in)...)
	}
	return out
}

func runDetector(d Detector, in *Input) (findings []finding.Finding) {
	defer func() {
		if rec := recover(); rec != nil {
			findings = []finding.Finding{finding.New(finding.SeverityLow, d.Category(),
				fmt.Sprintf("detector %s failed: %v", d.Name(), rec),
				"Report this as a bug; the check did not complete.")}
		}
	}()
	return d.Check(in)
}

// Config tunes the default detectors.
type Config struct {
	ExpiryWarning time.Duration
	MinRSABits    int
	MinECBits     int
}

// DefaultConfig returns the thresholds used when none are configured.
func DefaultConfig() Config {
	return Config{
		ExpiryWarning: constants.ExpiryWarningWindow,
		MinRSABits:    2048,
		MinECBits:     256,
	}
}

// Default returns a registry with the built-in detectors.
func Default(cfg Config) *Registry {
	def := DefaultConfig()
	if cfg.ExpiryWarning <= 0 {
		cfg.ExpiryWarning = def.ExpiryWarning
	}
	if cfg.MinRSABits <= 0 {
		cfg.MinRSABits = def.MinRSABits
	}
	if cfg.MinECBits <= 0 {
		cfg.MinECBits = def.MinECBits
	}

	return NewRegistry(
		Func{"hostname", finding.CategoryCertificate, HostnameMatch},
		Func{"key-strength", finding.CategoryCertificate, KeyStrength(cfg.MinRSABits, cfg.MinECBits)},
		Func{"signature-algorithm", finding.CategoryCertificate, WeakSignatures},
		Func{"expiry-window", finding.CategoryValidity, ExpiryWindow(cfg.ExpiryWarning)},
		Func{"ocsp-staple", finding.CategoryRevocation, OCSPStaple},
	)
}
