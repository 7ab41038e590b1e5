package checks

import (
	"crypto/x509"
	"strings"
	"testing"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/probe"
	"github.com/khanhnv2901/tlsinspect/internal/testutil"
	"golang.org/x/crypto/ocsp"
)

type fixture struct {
	root  *testutil.Authority
	inter *testutil.Authority
	b     *chain.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := testutil.NewRoot(t, "Checks Root")
	store, err := chain.NewTrustStore([]*x509.Certificate{root.Cert})
	if err != nil {
		t.Fatalf("trust store: %v", err)
	}
	b, err := chain.NewBuilder(store)
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
	return &fixture{root: root, inter: root.NewIntermediate(t, "Checks CA"), b: b}
}

func (f *fixture) input(leaf *testutil.Leaf, host string) *Input {
	return &Input{
		Hostname: host,
		Session:  &probe.Session{Hostname: host, Port: 443},
		Chain:    f.b.BuildAndValidate(testutil.RawChain(leaf.Cert, f.inter.Cert)),
		Now:      time.Now(),
	}
}

func contains(findings []finding.Finding, sev finding.Severity, substr string) bool {
	for _, f := range findings {
		if f.Severity == sev && strings.Contains(f.Message, substr) {
			return true
		}
	}
	return false
}

func TestHostnameMatch(t *testing.T) {
	f := newFixture(t)
	leaf := f.inter.IssueLeaf(t, testutil.LeafOptions{DNSNames: []string{"www.example.com", "example.com"}})

	tests := []struct {
		host string
		ok   bool
	}{
		{"example.com", true},
		{"www.example.com", true},
		{"127.0.0.1", true},
		{"other.example.com", false},
	}
	for _, tt := range tests {
		got := HostnameMatch(f.input(leaf, tt.host))
		if tt.ok && len(got) != 0 {
			t.Errorf("%s: unexpected findings %v", tt.host, got)
		}
		if !tt.ok && !contains(got, finding.SeverityHigh, "not valid for") {
			t.Errorf("%s: expected mismatch finding, got %v", tt.host, got)
		}
	}
}

func TestKeyStrength(t *testing.T) {
	f := newFixture(t)
	leaf := f.inter.IssueLeaf(t, testutil.LeafOptions{})
	in := f.input(leaf, "localhost")

	if got := KeyStrength(2048, 256)(in); len(got) != 0 {
		t.Errorf("P-256 keys meet a 256-bit minimum, got %v", got)
	}
	got := KeyStrength(2048, 384)(in)
	// leaf, intermediate and the appended root all use P-256.
	if len(got) != 3 {
		t.Fatalf("expected 3 weak-key findings, got %v", got)
	}
	if !contains(got, finding.SeverityHigh, "weak ECDSA key (256 bits) on leaf") {
		t.Errorf("unexpected findings %v", got)
	}
}

func TestWeakSignaturesIgnoresModernChains(t *testing.T) {
	f := newFixture(t)
	leaf := f.inter.IssueLeaf(t, testutil.LeafOptions{})
	if got := WeakSignatures(f.input(leaf, "localhost")); len(got) != 0 {
		t.Errorf("ECDSA-SHA256 chain should pass, got %v", got)
	}
}

func TestExpiryWindow(t *testing.T) {
	f := newFixture(t)
	soon := f.inter.IssueLeaf(t, testutil.LeafOptions{NotAfter: time.Now().Add(5 * 24 * time.Hour)})
	later := f.inter.IssueLeaf(t, testutil.LeafOptions{})
	imminent := f.inter.IssueLeaf(t, testutil.LeafOptions{NotAfter: time.Now().Add(36 * time.Hour)})

	detector := ExpiryWindow(14 * 24 * time.Hour)

	if got := detector(f.input(soon, "localhost")); !contains(got, finding.SeverityMedium, "expires in 4 days") {
		t.Errorf("expected medium expiry warning, got %v", got)
	}
	if got := detector(f.input(imminent, "localhost")); !contains(got, finding.SeverityHigh, "expires in 1 days") {
		t.Errorf("expected high expiry warning, got %v", got)
	}
	if got := detector(f.input(later, "localhost")); len(got) != 0 {
		t.Errorf("90-day certificate should not warn, got %v", got)
	}
}

func TestOCSPStaple(t *testing.T) {
	f := newFixture(t)
	leaf := f.inter.IssueLeaf(t, testutil.LeafOptions{})

	staple := func(status int, nextUpdate time.Time) []byte {
		t.Helper()
		resp, err := ocsp.CreateResponse(f.inter.Cert, f.inter.Cert, ocsp.Response{
			Status:       status,
			SerialNumber: leaf.Cert.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Hour),
			NextUpdate:   nextUpdate,
			RevokedAt:    time.Now().Add(-30 * time.Minute),
		}, f.inter.Key)
		if err != nil {
			t.Fatalf("create OCSP response: %v", err)
		}
		return resp
	}

	tests := []struct {
		name     string
		response []byte
		severity finding.Severity
		substr   string
	}{
		{"missing", nil, finding.SeverityInfo, "no stapled OCSP"},
		{"garbage", []byte{0x30, 0x03, 0x01, 0x01, 0x00}, finding.SeverityMedium, "invalid"},
		{"revoked", staple(ocsp.Revoked, time.Now().Add(time.Hour)), finding.SeverityCritical, "revoked"},
		{"unknown", staple(ocsp.Unknown, time.Now().Add(time.Hour)), finding.SeverityLow, "unknown status"},
		{"stale", staple(ocsp.Good, time.Now().Add(-time.Minute)), finding.SeverityMedium, "stale"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := f.input(leaf, "localhost")
			in.Session.OCSPResponse = tt.response
			if got := OCSPStaple(in); !contains(got, tt.severity, tt.substr) {
				t.Errorf("expected %s finding containing %q, got %v", tt.severity, tt.substr, got)
			}
		})
	}

	in := f.input(leaf, "localhost")
	in.Session.OCSPResponse = staple(ocsp.Good, time.Now().Add(time.Hour))
	if got := OCSPStaple(in); len(got) != 0 {
		t.Errorf("fresh good staple should pass, got %v", got)
	}
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	leaf := f.inter.IssueLeaf(t, testutil.LeafOptions{})

	reg := Default(Config{})
	if got := strings.Join(reg.Names(), ","); got != "expiry-window,hostname,key-strength,ocsp-staple,signature-algorithm" {
		t.Errorf("unexpected detectors %s", got)
	}
	if n := len(reg.ByCategory(finding.CategoryCertificate)); n != 3 {
		t.Errorf("expected 3 certificate detectors, got %d", n)
	}

	got := reg.Run(f.input(leaf, "localhost"))
	if len(got) != 1 || got[0].Severity != finding.SeverityInfo {
		t.Errorf("clean certificate should only lack an OCSP staple, got %v", got)
	}
}

func TestRegistryRecoversPanics(t *testing.T) {
	reg := NewRegistry(
		Func{"boom", "Test", func(*Input) []finding.Finding { panic("kaboom") }},
		Func{"ok", "Test", func(*Input) []finding.Finding {
			return []finding.Finding{finding.New(finding.SeverityInfo, "Test", "ran", "")}
		}},
	)

	got := reg.Run(&Input{})
	if len(got) != 2 {
		t.Fatalf("expected 2 findings, got %v", got)
	}
	if !contains(got, finding.SeverityLow, "detector boom failed: kaboom") {
		t.Errorf("expected panic finding, got %v", got)
	}
	if got[1].Message != "ran" {
		t.Error("later detectors should still run")
	}
}
