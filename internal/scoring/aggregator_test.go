package scoring

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/protocol"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"github.com/khanhnv2901/tlsinspect/internal/transparency"
)

func mustAggregator(t *testing.T, cfg Config) *Aggregator {
	t.Helper()
	a, err := NewAggregator(cfg)
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}
	return a
}

func randomFindings(r *rand.Rand, n int) []finding.Finding {
	categories := []string{finding.CategoryChain, finding.CategoryProtocol, finding.CategoryTransparency, "HSTS"}
	out := make([]finding.Finding, n)
	for i := range out {
		out[i] = finding.New(
			finding.Severities[r.Intn(len(finding.Severities))],
			categories[r.Intn(len(categories))],
			"finding",
			"",
		)
	}
	return out
}

func TestAggregateClean(t *testing.T) {
	a := mustAggregator(t, Config{})
	v := a.Aggregate(Inputs{Host: "example.com", Port: 443})

	if v.Score != 100 || v.Grade != "A" {
		t.Errorf("expected 100/A, got %d/%s", v.Score, v.Grade)
	}
	if v.Findings == nil {
		t.Error("findings should serialise as an empty list")
	}
}

func TestAggregateCollectsEveryStage(t *testing.T) {
	a := mustAggregator(t, Config{})
	in := Inputs{
		Chain: &chain.Chain{Findings: []finding.Finding{
			finding.New(finding.SeverityCritical, finding.CategoryChain, "signature mismatch", ""),
		}},
		Protocol: &protocol.Verdict{Findings: []finding.Finding{
			finding.New(finding.SeverityLow, finding.CategoryProtocol, "preferred protocol not negotiated", ""),
		}},
		Transparency: &transparency.Verdict{Findings: []finding.Finding{
			finding.New(finding.SeverityInfo, finding.CategoryTransparency, "SCT from unrecognized log", ""),
		}},
		External: []finding.Finding{
			finding.New(finding.SeverityMedium, finding.CategoryHSTS, "HSTS header missing", ""),
		},
	}

	v := a.Aggregate(in)

	if len(v.Findings) != 4 {
		t.Fatalf("every finding must be kept, got %d", len(v.Findings))
	}
	if v.Score != 100-50-3-10 {
		t.Errorf("expected score 37, got %d", v.Score)
	}
	if v.Grade != "F" {
		t.Errorf("expected grade F, got %s", v.Grade)
	}
	wantOrder := []finding.Severity{finding.SeverityCritical, finding.SeverityMedium, finding.SeverityLow, finding.SeverityInfo}
	for i, sev := range wantOrder {
		if v.Findings[i].Severity != sev {
			t.Errorf("position %d: %s, want %s", i, v.Findings[i].Severity, sev)
		}
	}
}

func TestScoreBounds(t *testing.T) {
	a := mustAggregator(t, Config{})
	r := rand.New(rand.NewSource(1))

	for i := 0; i < 200; i++ {
		v := a.Aggregate(Inputs{External: randomFindings(r, r.Intn(12))})
		if v.Score < 0 || v.Score > 100 {
			t.Fatalf("score %d out of bounds", v.Score)
		}
	}
}

func TestAggregateIdempotent(t *testing.T) {
	a := mustAggregator(t, Config{Weights: map[string]float64{finding.CategoryChain: 1.5}})
	r := rand.New(rand.NewSource(7))
	in := Inputs{Host: "example.com", Port: 443, InspectedAt: time.Unix(1700000000, 0), External: randomFindings(r, 8)}

	first := a.Aggregate(in)
	second := a.Aggregate(in)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("aggregation is not idempotent:\n%+v\n%+v", first, second)
	}
}

func TestAggregateIsOrderIndependent(t *testing.T) {
	a := mustAggregator(t, Config{})
	r := rand.New(rand.NewSource(3))
	findings := randomFindings(r, 10)

	reversed := make([]finding.Finding, len(findings))
	for i, f := range findings {
		reversed[len(findings)-1-i] = f
	}

	x := a.Aggregate(Inputs{External: findings})
	y := a.Aggregate(Inputs{External: reversed})
	if !reflect.DeepEqual(x, y) {
		t.Error("input order must not change the verdict")
	}
}

func TestRemovingCriticalNeverLowersScore(t *testing.T) {
	a := mustAggregator(t, Config{})
	r := rand.New(rand.NewSource(11))

	for i := 0; i < 100; i++ {
		findings := randomFindings(r, 1+r.Intn(10))
		findings = append(findings, finding.New(finding.SeverityCritical, finding.CategoryChain, "critical", ""))
		with := a.Aggregate(Inputs{External: findings})

		var without []finding.Finding
		removed := false
		for _, f := range findings {
			if !removed && f.Severity == finding.SeverityCritical {
				removed = true
				continue
			}
			without = append(without, f)
		}
		if got := a.Aggregate(Inputs{External: without}); got.Score < with.Score {
			t.Fatalf("removing a critical finding lowered the score: %d -> %d", with.Score, got.Score)
		}
	}
}

func TestWeightsAndPenalties(t *testing.T) {
	a := mustAggregator(t, Config{
		Weights:   map[string]float64{finding.CategoryTransparency: 0.5, finding.CategoryHSTS: 0},
		Penalties: map[finding.Severity]float64{finding.SeverityMedium: 20},
	})

	v := a.Aggregate(Inputs{External: []finding.Finding{
		finding.New(finding.SeverityMedium, finding.CategoryTransparency, "no certificate transparency", ""),
		finding.New(finding.SeverityMedium, finding.CategoryHSTS, "HSTS header missing", ""),
	}})
	if v.Score != 90 {
		t.Errorf("expected 100 - 20*0.5 - 20*0 = 90, got %d", v.Score)
	}
	if len(v.Findings) != 2 {
		t.Error("zero-weight findings must still be reported")
	}
	if a.Penalty(finding.SeverityCritical) != 50 {
		t.Error("unset penalties keep their defaults")
	}
}

func TestNewAggregatorRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want error
	}{
		{"negative weight", Config{Weights: map[string]float64{"x": -1}}, apperrors.ErrInvalidWeights},
		{"nan weight", Config{Weights: map[string]float64{"x": math.NaN()}}, apperrors.ErrInvalidWeights},
		{"all zero", Config{Weights: map[string]float64{"x": 0, "y": 0}}, apperrors.ErrInvalidWeights},
		{"negative default", Config{DefaultWeight: -2}, apperrors.ErrInvalidWeights},
		{"negative penalty", Config{Penalties: map[finding.Severity]float64{finding.SeverityHigh: -5}}, apperrors.ErrInvalidPenalties},
		{"unknown severity", Config{Penalties: map[finding.Severity]float64{"urgent": 5}}, apperrors.ErrInvalidPenalties},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewAggregator(tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestGrade(t *testing.T) {
	tests := map[int]string{100: "A", 90: "A", 89: "B", 80: "B", 79: "C", 70: "C", 69: "D", 60: "D", 59: "F", 0: "F"}
	for score, want := range tests {
		if got := Grade(score); got != want {
			t.Errorf("Grade(%d) = %s, want %s", score, got, want)
		}
	}
}
