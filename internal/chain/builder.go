// Package chain rebuilds the certificate chain a server presented and
// validates it link by link against a configured set of trust anchors.
package chain

import (
	"bytes"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/finding"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
)

// Position is where a certificate sits in the chain.
type Position string

const (
	PositionLeaf         Position = "leaf"
	PositionIntermediate Position = "intermediate"
	PositionRoot         Position = "root"
	// PositionExtraneous marks served certificates beyond the trusted path.
	PositionExtraneous Position = "extraneous"
)

// Link is one chain entry with its per-link validation results. Linkage and
// signature results describe the relationship to the next link.
type Link struct {
	Index          int          `json:"index" yaml:"index"`
	Position       Position     `json:"position" yaml:"position"`
	Certificate    *Certificate `json:"certificate,omitempty" yaml:"certificate,omitempty"`
	SignatureValid bool         `json:"signature_valid" yaml:"signature_valid"`
	LinkageIntact  bool         `json:"linkage_intact" yaml:"linkage_intact"`
	TimeValid      bool         `json:"time_valid" yaml:"time_valid"`
	Expired        bool         `json:"expired" yaml:"expired"`
	NotYetValid    bool         `json:"not_yet_valid" yaml:"not_yet_valid"`
	TrustAnchor    bool         `json:"trust_anchor" yaml:"trust_anchor"`
	FromTrustStore bool         `json:"from_trust_store" yaml:"from_trust_store"`
	Errors         []string     `json:"errors,omitempty" yaml:"errors,omitempty"`
}

// Chain is the ordered leaf-to-root result of BuildAndValidate. Served
// certificates beyond the trusted path are kept apart in Extraneous so that
// Links always ends at the root.
type Chain struct {
	Links      []Link            `json:"links" yaml:"links"`
	Extraneous []Link            `json:"extraneous,omitempty" yaml:"extraneous,omitempty"`
	Valid      bool              `json:"valid" yaml:"valid"`
	Complete   bool              `json:"complete" yaml:"complete"`
	Trusted    bool              `json:"trusted" yaml:"trusted"`
	BrokenAt   int               `json:"broken_at" yaml:"broken_at"`
	Errors     []string          `json:"errors,omitempty" yaml:"errors,omitempty"`
	Findings   []finding.Finding `json:"-" yaml:"-"`
	CheckedAt  time.Time         `json:"checked_at" yaml:"checked_at"`
}

// Leaf returns the parsed leaf certificate, or nil when it was malformed or
// the chain is empty.
func (c *Chain) Leaf() *Certificate {
	if c == nil || len(c.Links) == 0 {
		return nil
	}
	return c.Links[0].Certificate
}

// Issuer returns the parsed certificate that issued the leaf on the trusted
// path, or nil.
func (c *Chain) Issuer() *Certificate {
	if c == nil || len(c.Links) < 2 {
		return nil
	}
	return c.Links[1].Certificate
}

// Builder validates chains against a trust store. The clock defaults to
// time.Now; validity is judged at validation time, not probe time.
type Builder struct {
	Anchors *TrustStore
	Now     func() time.Time
}

// NewBuilder returns a Builder using anchors.
func NewBuilder(anchors *TrustStore) (*Builder, error) {
	if anchors == nil || anchors.Len() == 0 {
		return nil, apperrors.ErrEmptyTrustStore
	}
	return &Builder{Anchors: anchors, Now: time.Now}, nil
}

// BuildAndValidate parses raw (leaf first, as served) and validates every
// link. It never fails: malformed input and validation problems are reported
// as link errors and findings on the returned Chain.
func (b *Builder) BuildAndValidate(raw [][]byte) *Chain {
	now := time.Now()
	if b.Now != nil {
		now = b.Now()
	}
	v := &validation{
		chain:   &Chain{BrokenAt: -1, CheckedAt: now.UTC()},
		anchors: b.Anchors,
		now:     now,
	}
	v.run(raw)
	return v.chain
}

type validation struct {
	chain   *Chain
	anchors *TrustStore
	now     time.Time
	certs   []*x509.Certificate
}

func (v *validation) run(raw [][]byte) {
	if len(raw) == 0 {
		v.fail(-1, finding.New(finding.SeverityCritical, finding.CategoryChain,
			"server presented no certificates",
			"Configure the server to send its certificate and intermediate chain."))
		return
	}

	malformed := v.parse(raw)

	terminus, anchor := v.findTerminus()
	forged := -1
	var named *x509.Certificate
	if terminus < 0 {
		forged, named = v.findForgedLink()
	}
	end := terminus
	if end < 0 {
		end = forged
	}
	last := len(v.certs) - 1
	if end >= 0 {
		last = end
	}

	for i := 0; i < last; i++ {
		v.checkPair(i)
	}
	for i := 0; i <= last; i++ {
		v.checkValidity(i)
	}

	v.assignPositions(end)
	v.splitExtraneous(last)

	switch {
	case forged >= 0:
		v.anchorMismatch(forged, named)
	case terminus < 0:
		v.untrusted()
	case anchor != nil:
		// The served chain stops short of the root; close it with the anchor.
		v.markSignedBy(terminus)
		v.appendAnchor(anchor)
		v.chain.Trusted = true
		v.chain.Complete = true
	default:
		v.markAnchor(terminus)
		v.chain.Trusted = true
		v.chain.Complete = true
	}

	for _, link := range v.chain.Extraneous {
		v.chain.Findings = append(v.chain.Findings, finding.New(finding.SeverityInfo, finding.CategoryChain,
			fmt.Sprintf("served certificate at index %d is not part of the trusted path", link.Index),
			"Remove unnecessary certificates from the served chain."))
	}

	v.chain.Valid = !malformed && v.chain.BrokenAt < 0 && v.chain.Trusted && v.allTimeValid()
}

func (v *validation) parse(raw [][]byte) bool {
	malformed := false
	v.certs = make([]*x509.Certificate, len(raw))
	v.chain.Links = make([]Link, len(raw))
	for i, der := range raw {
		link := Link{Index: i}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			msg := fmt.Sprintf("malformed certificate at index %d", i)
			link.Errors = append(link.Errors, msg)
			v.chain.Errors = append(v.chain.Errors, msg)
			v.chain.Findings = append(v.chain.Findings, finding.New(finding.SeverityCritical, finding.CategoryParsing,
				msg, "Serve well-formed DER-encoded X.509 certificates."))
			malformed = true
		} else {
			v.certs[i] = cert
			link.Certificate = NewCertificate(cert)
		}
		v.chain.Links[i] = link
	}
	return malformed
}

// findTerminus returns the index where the served chain reaches a trust
// anchor, and the anchor to append when the certificate at that index is
// issued by (rather than being) an anchor. Paths ending at an anchor win
// over any longer cross-signed path the server also offered.
func (v *validation) findTerminus() (int, *x509.Certificate) {
	for i, cert := range v.certs {
		if cert == nil {
			continue
		}
		if v.anchors.Contains(cert) {
			return i, nil
		}
		anchor, ok := v.anchors.IssuerOf(cert)
		if !ok {
			continue
		}
		if i+1 < len(v.certs) && v.certs[i+1] != nil && v.anchors.Contains(v.certs[i+1]) {
			continue
		}
		return i, anchor
	}
	return -1, nil
}

// findForgedLink returns the first served certificate whose issuer names a
// trust anchor that does not verify its signature, when the server offers no
// other certificate under that name to continue the path.
func (v *validation) findForgedLink() (int, *x509.Certificate) {
	for i, cert := range v.certs {
		if cert == nil {
			continue
		}
		named := v.anchors.Named(cert.RawIssuer)
		if len(named) == 0 {
			continue
		}
		if i+1 < len(v.certs) && v.certs[i+1] != nil && bytes.Equal(cert.RawIssuer, v.certs[i+1].RawSubject) {
			continue
		}
		return i, named[0]
	}
	return -1, nil
}

func (v *validation) checkPair(i int) {
	child, parent := v.certs[i], v.certs[i+1]
	link := &v.chain.Links[i]
	if child == nil || parent == nil {
		msg := fmt.Sprintf("cannot verify link %d: malformed certificate", i)
		link.Errors = append(link.Errors, msg)
		v.broken(i)
		return
	}

	link.LinkageIntact = bytes.Equal(child.RawIssuer, parent.RawSubject)
	if !link.LinkageIntact {
		msg := fmt.Sprintf("issuer of certificate %d does not match subject of certificate %d", i, i+1)
		link.Errors = append(link.Errors, msg)
		v.fail(i, finding.New(finding.SeverityCritical, finding.CategoryChain,
			fmt.Sprintf("%s (%q != %q)", msg, child.Issuer.String(), parent.Subject.String()),
			"Serve the chain in order, leaf first, each certificate followed by its issuer."))
	}

	if err := signedBy(child, parent); err != nil {
		msg := fmt.Sprintf("signature of certificate %d does not verify against certificate %d", i, i+1)
		link.Errors = append(link.Errors, msg)
		v.fail(i, finding.New(finding.SeverityCritical, finding.CategoryChain, msg,
			"Replace the certificate with one issued by the intermediate the server presents."))
	} else {
		link.SignatureValid = true
	}

	if !(parent.BasicConstraintsValid && parent.IsCA) {
		v.chain.Findings = append(v.chain.Findings, finding.New(finding.SeverityHigh, finding.CategoryChain,
			fmt.Sprintf("issuer certificate at index %d is not a CA", i+1),
			"Issuing certificates must carry basic constraints with CA:TRUE."))
	}
}

func (v *validation) checkValidity(i int) {
	cert := v.certs[i]
	if cert == nil {
		return
	}
	v.setValidity(&v.chain.Links[i], cert)
}

func (v *validation) setValidity(link *Link, cert *x509.Certificate) {
	link.NotYetValid = v.now.Before(cert.NotBefore)
	link.Expired = v.now.After(cert.NotAfter)
	link.TimeValid = !link.NotYetValid && !link.Expired

	subject := "certificate"
	if link.Index == 0 {
		subject = "leaf certificate"
	}
	switch {
	case link.Expired:
		msg := fmt.Sprintf("%s at index %d expired on %s", subject, link.Index, cert.NotAfter.UTC().Format(time.RFC3339))
		link.Errors = append(link.Errors, msg)
		v.chain.Findings = append(v.chain.Findings, finding.New(finding.SeverityCritical, finding.CategoryValidity,
			msg, "Renew the certificate and deploy the replacement."))
	case link.NotYetValid:
		msg := fmt.Sprintf("%s at index %d is not valid before %s", subject, link.Index, cert.NotBefore.UTC().Format(time.RFC3339))
		link.Errors = append(link.Errors, msg)
		v.chain.Findings = append(v.chain.Findings, finding.New(finding.SeverityHigh, finding.CategoryValidity,
			msg, "Check the issuing CA's clock or wait until the certificate becomes valid."))
	}
}

func (v *validation) markSignedBy(i int) {
	link := &v.chain.Links[i]
	link.LinkageIntact = true
	link.SignatureValid = true
}

func (v *validation) markAnchor(i int) {
	link := &v.chain.Links[i]
	link.TrustAnchor = true
	link.LinkageIntact = true
	link.SignatureValid = true
}

// appendAnchor closes the trusted path with an anchor from the store.
func (v *validation) appendAnchor(anchor *x509.Certificate) {
	link := Link{
		Index:          len(v.chain.Links),
		Position:       PositionRoot,
		Certificate:    NewCertificate(anchor),
		LinkageIntact:  true,
		SignatureValid: true,
		TrustAnchor:    true,
		FromTrustStore: true,
	}
	v.setValidity(&link, anchor)
	v.chain.Links = append(v.chain.Links, link)
}

// splitExtraneous moves served certificates after last out of Links.
func (v *validation) splitExtraneous(last int) {
	if last+1 >= len(v.chain.Links) {
		return
	}
	v.chain.Extraneous = append([]Link(nil), v.chain.Links[last+1:]...)
	v.chain.Links = v.chain.Links[: last+1 : last+1]
}

// anchorMismatch reports link i, whose issuer names anchor, as broken: the
// names line up but the anchor's key does not verify the signature.
func (v *validation) anchorMismatch(i int, anchor *x509.Certificate) {
	link := &v.chain.Links[i]
	link.LinkageIntact = true
	msg := fmt.Sprintf("signature of certificate %d does not verify against trust anchor %q", i, anchor.Subject.String())
	link.Errors = append(link.Errors, msg)
	v.fail(i, finding.New(finding.SeverityCritical, finding.CategoryChain, msg,
		"Replace the certificate with one actually issued by the CA it names."))
}

func (v *validation) assignPositions(end int) {
	last := len(v.certs) - 1
	for i := range v.chain.Links {
		link := &v.chain.Links[i]
		switch {
		case i == 0:
			link.Position = PositionLeaf
		case end >= 0 && i > end:
			link.Position = PositionExtraneous
		case i == end && v.certs[i] != nil && v.anchors.Contains(v.certs[i]):
			link.Position = PositionRoot
		case end < 0 && i == last && v.certs[i] != nil && selfSigned(v.certs[i]):
			link.Position = PositionRoot
		default:
			link.Position = PositionIntermediate
		}
	}
}

func (v *validation) untrusted() {
	last := v.certs[len(v.certs)-1]
	msg := "untrusted: chain does not terminate at a configured trust anchor"
	remediation := "Serve the full intermediate chain up to a publicly trusted root."
	if last != nil && selfSigned(last) {
		msg = "untrusted: self-signed root is not a configured trust anchor"
		remediation = "Replace the self-signed certificate with one issued by a trusted CA."
	}
	v.chain.Errors = append(v.chain.Errors, msg)
	v.chain.Findings = append(v.chain.Findings, finding.New(finding.SeverityCritical, finding.CategoryTrust, msg, remediation))
}

func (v *validation) allTimeValid() bool {
	for _, link := range v.chain.Links {
		if link.Certificate == nil {
			continue
		}
		if !link.TimeValid {
			return false
		}
	}
	return true
}

func (v *validation) broken(i int) {
	if v.chain.BrokenAt < 0 || i < v.chain.BrokenAt {
		v.chain.BrokenAt = i
	}
}

func (v *validation) fail(i int, f finding.Finding) {
	if i >= 0 {
		v.broken(i)
	}
	v.chain.Errors = append(v.chain.Errors, f.Message)
	v.chain.Findings = append(v.chain.Findings, f)
}
