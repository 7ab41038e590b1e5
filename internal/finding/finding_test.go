package finding

import "testing"

func TestSeverityRank(t *testing.T) {
	tests := []struct {
		sev  Severity
		rank int
	}{
		{SeverityCritical, 0},
		{SeverityHigh, 1},
		{SeverityMedium, 2},
		{SeverityLow, 3},
		{SeverityInfo, 4},
		{Severity("bogus"), 5},
	}

	for _, tt := range tests {
		if got := tt.sev.Rank(); got != tt.rank {
			t.Errorf("%s.Rank() = %d, want %d", tt.sev, got, tt.rank)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	sev, err := ParseSeverity(" HIGH ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sev != SeverityHigh {
		t.Errorf("expected high, got %s", sev)
	}

	if _, err := ParseSeverity("urgent"); err == nil {
		t.Error("expected error for unknown severity")
	}
}

func TestSortIsDeterministic(t *testing.T) {
	findings := []Finding{
		New(SeverityInfo, CategoryTransparency, "b", ""),
		New(SeverityCritical, CategoryProtocol, "deprecated protocol", ""),
		New(SeverityMedium, CategoryTransparency, "no certificate transparency", ""),
		New(SeverityCritical, CategoryChain, "signature mismatch", ""),
	}

	Sort(findings)

	want := []string{"signature mismatch", "deprecated protocol", "no certificate transparency", "b"}
	for i, msg := range want {
		if findings[i].Message != msg {
			t.Errorf("position %d: got %q, want %q", i, findings[i].Message, msg)
		}
	}
}

func TestCountAndFilter(t *testing.T) {
	findings := []Finding{
		New(SeverityCritical, CategoryChain, "a", ""),
		New(SeverityCritical, CategoryProtocol, "b", ""),
		New(SeverityLow, CategoryChain, "c", ""),
	}

	if got := Count(findings, SeverityCritical); got != 2 {
		t.Errorf("expected 2 critical findings, got %d", got)
	}
	if got := len(Filter(findings, CategoryChain)); got != 2 {
		t.Errorf("expected 2 chain findings, got %d", got)
	}
}
