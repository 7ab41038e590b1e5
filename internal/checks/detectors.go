package checks

import (
	"crypto/x509"
	"fmt"
	"time"

	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"golang.org/x/crypto/ocsp"
)

// pathLinks returns parsed links on the served path.
func pathLinks(c *chain.Chain) []chain.Link {
	if c == nil {
		return nil
	}
	var out []chain.Link
	for _, l := range c.Links {
		if l.Certificate == nil || l.Position == chain.PositionExtraneous {
			continue
		}
		out = append(out, l)
	}
	return out
}

// HostnameMatch reports a leaf that is not valid for the inspected name.
func HostnameMatch(in *Input) []finding.Finding {
	leaf := in.Chain.Leaf()
	if leaf == nil || in.Hostname == "" {
		return nil
	}
	if err := leaf.X509().VerifyHostname(in.Hostname); err != nil {
		return []finding.Finding{finding.New(finding.SeverityHigh, finding.CategoryCertificate,
			fmt.Sprintf("certificate is not valid for %s", in.Hostname),
			"Issue a certificate whose subject alternative names cover the hostname.")}
	}
	return nil
}

// KeyStrength flags RSA and EC keys below the given sizes on any path
// certificate.
func KeyStrength(minRSA, minEC int) func(*Input) []finding.Finding {
	return func(in *Input) []finding.Finding {
		var out []finding.Finding
		for _, l := range pathLinks(in.Chain) {
			cert := l.Certificate.X509()
			var min int
			switch cert.PublicKeyAlgorithm {
			case x509.RSA:
				min = minRSA
			case x509.ECDSA:
				min = minEC
			default:
				continue
			}
			if l.Certificate.KeySize < min {
				out = append(out, finding.New(finding.SeverityHigh, finding.CategoryCertificate,
					fmt.Sprintf("weak %s key (%d bits) on %s certificate at index %d",
						cert.PublicKeyAlgorithm, l.Certificate.KeySize, l.Position, l.Index),
					fmt.Sprintf("Use at least %d-bit RSA or %d-bit EC keys.", minRSA, minEC)))
			}
		}
		return out
	}
}

var weakSignatureAlgorithms = map[x509.SignatureAlgorithm]bool{
	x509.MD2WithRSA:    true,
	x509.MD5WithRSA:    true,
	x509.SHA1WithRSA:   true,
	x509.DSAWithSHA1:   true,
	x509.ECDSAWithSHA1: true,
}

// WeakSignatures flags MD5 and SHA-1 signatures. A trust anchor's own
// signature is never checked by clients and is skipped.
func WeakSignatures(in *Input) []finding.Finding {
	var out []finding.Finding
	for _, l := range pathLinks(in.Chain) {
		if l.TrustAnchor {
			continue
		}
		alg := l.Certificate.X509().SignatureAlgorithm
		if weakSignatureAlgorithms[alg] {
			out = append(out, finding.New(finding.SeverityHigh, finding.CategoryCertificate,
				fmt.Sprintf("weak signature algorithm %s on certificate at index %d", alg, l.Index),
				"Reissue the certificate with a SHA-256 or stronger signature."))
		}
	}
	return out
}

// ExpiryWindow warns about a leaf that is still valid but expires within
// window. Expired certificates are reported by chain validation.
func ExpiryWindow(window time.Duration) func(*Input) []finding.Finding {
	return func(in *Input) []finding.Finding {
		leaf := in.Chain.Leaf()
		if leaf == nil {
			return nil
		}
		remaining := leaf.NotAfter.Sub(in.Now)
		if remaining <= 0 || remaining > window {
			return nil
		}
		days := int(remaining.Hours() / 24)
		sev := finding.SeverityMedium
		if days < 3 {
			sev = finding.SeverityHigh
		}
		return []finding.Finding{finding.New(sev, finding.CategoryValidity,
			fmt.Sprintf("leaf certificate expires in %d days (%s)", days, leaf.NotAfter.UTC().Format(time.RFC3339)),
			"Renew the certificate before it expires.")}
	}
}

// OCSPStaple evaluates the stapled OCSP response against the leaf and its
// issuer.
func OCSPStaple(in *Input) []finding.Finding {
	if in.Session == nil {
		return nil
	}
	leaf := in.Chain.Leaf()
	if leaf == nil {
		return nil
	}
	if len(in.Session.OCSPResponse) == 0 {
		return []finding.Finding{finding.New(finding.SeverityInfo, finding.CategoryRevocation,
			"no stapled OCSP response",
			"Enable OCSP stapling so clients need not contact the CA.")}
	}

	issuer := in.Chain.Issuer()
	if issuer == nil {
		return []finding.Finding{finding.New(finding.SeverityLow, finding.CategoryRevocation,
			"stapled OCSP response cannot be checked without the issuer certificate",
			"Serve the intermediate certificate alongside the leaf.")}
	}

	resp, err := ocsp.ParseResponseForCert(in.Session.OCSPResponse, leaf.X509(), issuer.X509())
	if err != nil {
		return []finding.Finding{finding.New(finding.SeverityMedium, finding.CategoryRevocation,
			fmt.Sprintf("stapled OCSP response is invalid: %v", err),
			"Fix the server's OCSP stapling configuration.")}
	}

	switch resp.Status {
	case ocsp.Revoked:
		return []finding.Finding{finding.New(finding.SeverityCritical, finding.CategoryRevocation,
			fmt.Sprintf("certificate revoked at %s", resp.RevokedAt.UTC().Format(time.RFC3339)),
			"Replace the revoked certificate immediately.")}
	case ocsp.Unknown:
		return []finding.Finding{finding.New(finding.SeverityLow, finding.CategoryRevocation,
			"stapled OCSP response reports unknown status",
			"Check that the responder recognises the certificate.")}
	}

	if !resp.NextUpdate.IsZero() && in.Now.After(resp.NextUpdate) {
		return []finding.Finding{finding.New(finding.SeverityMedium, finding.CategoryRevocation,
			fmt.Sprintf("stapled OCSP response is stale (next update was %s)", resp.NextUpdate.UTC().Format(time.RFC3339)),
			"Make sure the server refreshes its OCSP staple.")}
	}
	return nil
}
