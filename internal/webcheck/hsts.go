package webcheck

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/khanhnv2901/tlsinspect/internal/finding"
)

// OneYear is the max-age HSTS preload lists require, in seconds.
const OneYear = 31536000

// HSTSPolicy is a parsed Strict-Transport-Security header.
type HSTSPolicy struct {
	Present           bool  `json:"present" yaml:"present"`
	MaxAge            int64 `json:"max_age" yaml:"max_age"`
	ValidMaxAge       bool  `json:"valid_max_age" yaml:"valid_max_age"`
	IncludeSubDomains bool  `json:"include_subdomains" yaml:"include_subdomains"`
	Preload           bool  `json:"preload" yaml:"preload"`
}

// ParseHSTS parses a header value. Directive names are case-insensitive and
// max-age may be quoted.
func ParseHSTS(value string) HSTSPolicy {
	p := HSTSPolicy{Present: strings.TrimSpace(value) != ""}
	for _, directive := range strings.Split(value, ";") {
		name, arg, _ := strings.Cut(strings.TrimSpace(directive), "=")
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "max-age":
			n, err := strconv.ParseInt(strings.Trim(strings.TrimSpace(arg), `"`), 10, 64)
			if err == nil && n >= 0 {
				p.MaxAge = n
				p.ValidMaxAge = true
			}
		case "includesubdomains":
			p.IncludeSubDomains = true
		case "preload":
			p.Preload = true
		}
	}
	return p
}

// EvaluateHSTS turns a header value into findings. minMaxAge is in seconds.
func EvaluateHSTS(value string, minMaxAge int64) []finding.Finding {
	p := ParseHSTS(value)
	if !p.Present {
		return []finding.Finding{finding.New(finding.SeverityMedium, finding.CategoryHSTS,
			"HSTS header missing",
			fmt.Sprintf("Send Strict-Transport-Security: max-age=%d; includeSubDomains.", OneYear))}
	}
	if !p.ValidMaxAge {
		return []finding.Finding{finding.New(finding.SeverityMedium, finding.CategoryHSTS,
			"HSTS header has no valid max-age directive",
			"Browsers ignore an HSTS header without max-age.")}
	}
	if p.MaxAge == 0 {
		return []finding.Finding{finding.New(finding.SeverityMedium, finding.CategoryHSTS,
			"HSTS disabled (max-age=0)",
			fmt.Sprintf("Set max-age to at least %d.", minMaxAge))}
	}

	var out []finding.Finding
	if p.MaxAge < minMaxAge {
		out = append(out, finding.New(finding.SeverityLow, finding.CategoryHSTS,
			fmt.Sprintf("HSTS max-age %d is below %d", p.MaxAge, minMaxAge),
			fmt.Sprintf("Increase max-age to at least %d.", minMaxAge)))
	}
	if !p.IncludeSubDomains {
		out = append(out, finding.New(finding.SeverityLow, finding.CategoryHSTS,
			"HSTS header lacks includeSubDomains",
			"Add includeSubDomains to protect every subdomain."))
	}
	if !p.Preload {
		out = append(out, finding.New(finding.SeverityInfo, finding.CategoryHSTS,
			"HSTS header lacks preload",
			"Add preload and submit the domain to the HSTS preload list."))
	}
	return out
}
