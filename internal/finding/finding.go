// Package finding defines the shared vocabulary every inspection stage uses
// to report problems: a severity, a category, a message and a remediation.
package finding

import (
	"fmt"
	"sort"
	"strings"
)

// Severity ranks how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every severity from most to least serious.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank returns 0 for critical up to 4 for info; unknown severities sort last.
func (s Severity) Rank() int {
	for i, sev := range Severities {
		if sev == s {
			return i
		}
	}
	return len(Severities)
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s.Rank() < len(Severities)
}

// ParseSeverity converts a case-insensitive name into a Severity.
func ParseSeverity(name string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(name)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", name)
	}
	return sev, nil
}

// Categories used by the built-in stages. External collaborators may use
// their own category names.
const (
	CategoryParsing      = "Certificate Parsing"
	CategoryChain        = "Chain Integrity"
	CategoryValidity     = "Certificate Validity"
	CategoryTrust        = "Trust"
	CategoryCertificate  = "Certificate"
	CategoryProtocol     = "Protocol"
	CategoryCipher       = "Cipher Suite"
	CategoryTransparency = "Certificate Transparency"
	CategoryRevocation   = "Revocation"
	CategoryHSTS         = "HSTS"
	CategoryMixedContent = "Mixed Content"
)

// Categories lists the built-in categories.
var Categories = []string{
	CategoryParsing, CategoryChain, CategoryValidity, CategoryTrust, CategoryCertificate,
	CategoryProtocol, CategoryCipher, CategoryTransparency, CategoryRevocation,
	CategoryHSTS, CategoryMixedContent,
}

// Finding is one scoreable observation produced by an inspection stage.
type Finding struct {
	Severity    Severity `json:"severity" yaml:"severity"`
	Category    string   `json:"category" yaml:"category"`
	Message     string   `json:"message" yaml:"message"`
	Remediation string   `json:"remediation" yaml:"remediation"`
}

// New is a small constructor that keeps call sites on one line.
func New(sev Severity, category, message, remediation string) Finding {
	return Finding{Severity: sev, Category: category, Message: message, Remediation: remediation}
}

// Sort orders findings by severity, then category, then message. The sort is
// stable so identical findings keep their relative order.
func Sort(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() < b.Severity.Rank()
		}
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.Message != b.Message {
			return a.Message < b.Message
		}
		return a.Remediation < b.Remediation
	})
}

// Count returns how many findings carry the given severity.
func Count(findings []Finding, sev Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity == sev {
			n++
		}
	}
	return n
}

// Filter returns the findings in the given category.
func Filter(findings []Finding, category string) []Finding {
	var out []Finding
	for _, f := range findings {
		if f.Category == category {
			out = append(out, f)
		}
	}
	return out
}
