package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/khanhnv2901/tlsinspect/internal/engine"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/scoring"
	"gopkg.in/yaml.v3"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

var outputFormats = []string{formatText, formatJSON, formatYAML}

func validateFormat(format string) error {
	for _, f := range outputFormats {
		if f == format {
			return nil
		}
	}
	return &UnsupportedFormatError{Format: format}
}

// writeResults renders results in the requested format. JSON and YAML always
// produce a list so that scripts see one shape regardless of target count.
func writeResults(w io.Writer, format string, results []engine.Result) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return err
		}
		return enc.Close()
	case formatText:
		for i, res := range results {
			if i > 0 {
				fmt.Fprintln(w)
			}
			writeResultText(w, res)
		}
		return nil
	default:
		return &UnsupportedFormatError{Format: format}
	}
}

func writeResultText(w io.Writer, res engine.Result) {
	if res.Verdict == nil {
		fmt.Fprintf(w, "%s  %s  %s\n", colorBold(res.Target.String()), colorError(res.Kind), res.Error)
		return
	}
	writeVerdictText(w, res.Verdict)
}

func writeVerdictText(w io.Writer, v *scoring.Verdict) {
	target := engine.Target{Hostname: v.Host, Port: v.Port}
	fmt.Fprintf(w, "%s  grade %s  score %d/100\n", colorBold(target.String()), formatGradeWithColor(v.Grade), v.Score)

	if c := v.Chain; c != nil {
		status := formatStatusWithColor(c.Valid, "valid")
		if !c.Valid {
			status = formatStatusWithColor(false, fmt.Sprintf("invalid (broken at %d)", c.BrokenAt))
		}
		fmt.Fprintf(w, "  chain:         %s, %d certificate(s), trusted=%t\n", status, len(c.Links), c.Trusted)
		if leaf := c.Leaf(); leaf != nil {
			fmt.Fprintf(w, "  leaf:          %s (expires %s)\n", leaf.Subject, leaf.NotAfter.Format("2006-01-02"))
		}
	}
	if p := v.Protocol; p != nil {
		fmt.Fprintf(w, "  protocol:      %s %s [%s]\n", p.Version, p.CipherSuite, p.Rating)
		if len(p.AcceptedVersions) > 0 {
			fmt.Fprintf(w, "  accepts:       %s\n", strings.Join(p.AcceptedVersions, ", "))
		}
	}
	if t := v.Transparency; t != nil {
		fmt.Fprintf(w, "  transparency:  %d valid SCT(s) from %d operator(s), %s\n",
			t.ValidSCTs, t.LogDiversity, formatStatusWithColor(t.Compliant, compliance(t.Compliant)))
	}

	if len(v.Findings) == 0 {
		fmt.Fprintf(w, "  findings:      %s\n", colorSuccess("none"))
		return
	}
	fmt.Fprintf(w, "  findings:      %s\n", findingSummary(v.Findings))
	for _, f := range v.Findings {
		fmt.Fprintf(w, "    %-8s %s: %s\n", formatSeverityWithColor(f.Severity), f.Category, f.Message)
		if f.Remediation != "" {
			fmt.Fprintf(w, "             %s\n", f.Remediation)
		}
	}
}

func compliance(ok bool) string {
	if ok {
		return "compliant"
	}
	return "non-compliant"
}

// findingSummary counts findings per severity, most severe first.
func findingSummary(findings []finding.Finding) string {
	var parts []string
	for _, sev := range finding.Severities {
		if n := finding.Count(findings, sev); n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	return strings.Join(parts, ", ")
}
