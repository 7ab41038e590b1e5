// Package scoring folds the findings of every inspection stage into one
// deterministic score and letter grade.
package scoring

import (
	"fmt"
	"math"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/protocol"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"github.com/khanhnv2901/tlsinspect/internal/transparency"
)

// Grade thresholds. A score at or above a threshold earns that grade.
const (
	GradeAThreshold = 90
	GradeBThreshold = 80
	GradeCThreshold = 70
	GradeDThreshold = 60
)

// Config holds the operator-tunable weights. Categories without a weight use
// DefaultWeight (1.0 when zero). Severities without a penalty use
// DefaultPenalties.
type Config struct {
	Weights       map[string]float64
	Penalties     map[finding.Severity]float64
	DefaultWeight float64
}

// DefaultPenalties returns the points one finding of each severity costs at
// weight 1.0.
func DefaultPenalties() map[finding.Severity]float64 {
	return map[finding.Severity]float64{
		finding.SeverityCritical: 50,
		finding.SeverityHigh:     25,
		finding.SeverityMedium:   10,
		finding.SeverityLow:      3,
		finding.SeverityInfo:     0,
	}
}

// Inputs are the stage results for one inspection.
type Inputs struct {
	Host         string
	Port         int
	Chain        *chain.Chain
	Protocol     *protocol.Verdict
	Transparency *transparency.Verdict
	External     []finding.Finding
	InspectedAt  time.Time
}

// Verdict is the aggregate result of one inspection.
type Verdict struct {
	Host         string                `json:"host" yaml:"host"`
	Port         int                   `json:"port" yaml:"port"`
	InspectedAt  time.Time             `json:"inspected_at" yaml:"inspected_at"`
	Score        int                   `json:"score" yaml:"score"`
	Grade        string                `json:"grade" yaml:"grade"`
	Findings     []finding.Finding     `json:"findings" yaml:"findings"`
	Chain        *chain.Chain          `json:"chain" yaml:"chain"`
	Protocol     *protocol.Verdict     `json:"protocol" yaml:"protocol"`
	Transparency *transparency.Verdict `json:"transparency" yaml:"transparency"`
}

// Aggregator is immutable after NewAggregator and safe for concurrent use.
type Aggregator struct {
	weights       map[string]float64
	penalties     map[finding.Severity]float64
	defaultWeight float64
}

// NewAggregator validates cfg. Negative, NaN or infinite values are
// rejected, as is a weight table whose entries are all zero.
func NewAggregator(cfg Config) (*Aggregator, error) {
	a := &Aggregator{
		weights:       make(map[string]float64, len(cfg.Weights)),
		penalties:     DefaultPenalties(),
		defaultWeight: cfg.DefaultWeight,
	}
	if a.defaultWeight == 0 {
		a.defaultWeight = 1
	}
	if !validNumber(a.defaultWeight) {
		return nil, fmt.Errorf("%w: default weight %v", apperrors.ErrInvalidWeights, cfg.DefaultWeight)
	}

	nonZero := false
	for category, w := range cfg.Weights {
		if !validNumber(w) {
			return nil, fmt.Errorf("%w: %q has weight %v", apperrors.ErrInvalidWeights, category, w)
		}
		if w > 0 {
			nonZero = true
		}
		a.weights[category] = w
	}
	if len(cfg.Weights) > 0 && !nonZero {
		return nil, fmt.Errorf("%w: every category weight is zero", apperrors.ErrInvalidWeights)
	}

	for sev, p := range cfg.Penalties {
		if !sev.Valid() {
			return nil, fmt.Errorf("%w: unknown severity %q", apperrors.ErrInvalidPenalties, sev)
		}
		if !validNumber(p) {
			return nil, fmt.Errorf("%w: %s has penalty %v", apperrors.ErrInvalidPenalties, sev, p)
		}
		a.penalties[sev] = p
	}
	return a, nil
}

func validNumber(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

// Weight returns the weight applied to category.
func (a *Aggregator) Weight(category string) float64 {
	if w, ok := a.weights[category]; ok {
		return w
	}
	return a.defaultWeight
}

// Penalty returns the base penalty for sev.
func (a *Aggregator) Penalty(sev finding.Severity) float64 {
	return a.penalties[sev]
}

// Aggregate combines the stage results. Every finding is kept, including
// those that cost nothing; identical inputs always give identical output.
func (a *Aggregator) Aggregate(in Inputs) Verdict {
	var findings []finding.Finding
	if in.Chain != nil {
		findings = append(findings, in.Chain.Findings...)
	}
	if in.Protocol != nil {
		findings = append(findings, in.Protocol.Findings...)
	}
	if in.Transparency != nil {
		findings = append(findings, in.Transparency.Findings...)
	}
	findings = append(findings, in.External...)
	finding.Sort(findings)
	if findings == nil {
		findings = []finding.Finding{}
	}

	score := a.Score(findings)
	return Verdict{
		Host:         in.Host,
		Port:         in.Port,
		InspectedAt:  in.InspectedAt,
		Score:        score,
		Grade:        Grade(score),
		Findings:     findings,
		Chain:        in.Chain,
		Protocol:     in.Protocol,
		Transparency: in.Transparency,
	}
}

// Score returns 100 minus the weighted penalties of findings, clamped to
// [0,100] and rounded to the nearest integer.
func (a *Aggregator) Score(findings []finding.Finding) int {
	total := 0.0
	for _, f := range findings {
		total += a.Penalty(f.Severity) * a.Weight(f.Category)
	}
	score := math.Round(100 - total)
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return int(score)
}

// Grade maps a score to a letter. The mapping is a fixed step function.
func Grade(score int) string {
	switch {
	case score >= GradeAThreshold:
		return "A"
	case score >= GradeBThreshold:
		return "B"
	case score >= GradeCThreshold:
		return "C"
	case score >= GradeDThreshold:
		return "D"
	default:
		return "F"
	}
}
