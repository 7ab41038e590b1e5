package webcheck

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"golang.org/x/net/html"
)

// MixedContent lists plain-HTTP resources referenced by an HTTPS page,
// grouped by how much damage a network attacker could do with them.
type MixedContent struct {
	Scripts []string `json:"scripts,omitempty" yaml:"scripts,omitempty"`
	Frames  []string `json:"frames,omitempty" yaml:"frames,omitempty"`
	Styles  []string `json:"styles,omitempty" yaml:"styles,omitempty"`
	Media   []string `json:"media,omitempty" yaml:"media,omitempty"`
	Images  []string `json:"images,omitempty" yaml:"images,omitempty"`
}

// Empty reports whether no insecure resource was found.
func (m MixedContent) Empty() bool {
	return len(m.Scripts)+len(m.Frames)+len(m.Styles)+len(m.Media)+len(m.Images) == 0
}

var cssImport = regexp.MustCompile(`(?i)@import\s+(?:url\()?\s*['"]?(http://[^'"\s)]+)`)

// FindMixedContent tokenises an HTML document and collects http:// resource
// references. Links (<a href>) are navigation, not subresources, and are
// ignored.
func FindMixedContent(r io.Reader) MixedContent {
	var m MixedContent
	seen := map[string]bool{}
	add := func(list *[]string, ref string) {
		ref = strings.TrimSpace(ref)
		if !strings.HasPrefix(strings.ToLower(ref), "http://") || seen[ref] {
			return
		}
		seen[ref] = true
		*list = append(*list, ref)
	}

	z := html.NewTokenizer(r)
	inStyle := false
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return m
		case html.EndTagToken:
			if tok := z.Token(); tok.Data == "style" {
				inStyle = false
			}
		case html.TextToken:
			if inStyle {
				for _, match := range cssImport.FindAllStringSubmatch(string(z.Text()), -1) {
					add(&m.Styles, match[1])
				}
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			attrs := make(map[string]string, len(tok.Attr))
			for _, a := range tok.Attr {
				attrs[strings.ToLower(a.Key)] = a.Val
			}
			switch tok.Data {
			case "script":
				add(&m.Scripts, attrs["src"])
			case "iframe", "frame":
				add(&m.Frames, attrs["src"])
			case "object":
				add(&m.Frames, attrs["data"])
			case "embed":
				add(&m.Frames, attrs["src"])
			case "link":
				if strings.Contains(strings.ToLower(attrs["rel"]), "stylesheet") {
					add(&m.Styles, attrs["href"])
				}
			case "style":
				inStyle = tt == html.StartTagToken
			case "img":
				add(&m.Images, attrs["src"])
			case "video", "audio", "source", "track":
				add(&m.Media, attrs["src"])
			}
		}
	}
}

// Findings reports one finding per resource class. Active content (scripts
// and frames) is critical, stylesheets high, media and images medium.
func (m MixedContent) Findings(page string) []finding.Finding {
	var out []finding.Finding
	report := func(sev finding.Severity, kind string, refs []string, remediation string) {
		if len(refs) == 0 {
			return
		}
		out = append(out, finding.New(sev, finding.CategoryMixedContent,
			fmt.Sprintf("%s loads %d insecure %s (e.g. %s)", page, len(refs), kind, refs[0]),
			remediation))
	}
	report(finding.SeverityCritical, "scripts", m.Scripts,
		"Serve scripts over HTTPS; an attacker on the path can rewrite them.")
	report(finding.SeverityCritical, "frames", m.Frames,
		"Serve embedded frames and objects over HTTPS.")
	report(finding.SeverityHigh, "stylesheets", m.Styles,
		"Serve stylesheets over HTTPS.")
	report(finding.SeverityMedium, "media resources", m.Media,
		"Serve audio and video over HTTPS.")
	report(finding.SeverityMedium, "images", m.Images,
		"Serve images over HTTPS or from a CDN with TLS.")
	return out
}
