// Package protocol judges a negotiated TLS session against an explicit
// version and cipher-suite policy. Everything here is pure.
package protocol

import (
	"crypto/tls"
	"fmt"

	"github.com/khanhnv2901/tlsinspect/internal/finding"
	"github.com/khanhnv2901/tlsinspect/internal/probe"
)

// Rating summarises a protocol verdict.
type Rating string

const (
	RatingExcellent Rating = "excellent"
	RatingGood      Rating = "good"
	RatingWeak      Rating = "weak"
	RatingCritical  Rating = "critical"
)

// Verdict is the protocol/cipher evaluation of one session.
type Verdict struct {
	Version           string            `json:"version" yaml:"version"`
	CipherSuite       string            `json:"cipher_suite" yaml:"cipher_suite"`
	KeyExchange       string            `json:"key_exchange" yaml:"key_exchange"`
	Group             string            `json:"group,omitempty" yaml:"group,omitempty"`
	ForwardSecrecy    bool              `json:"forward_secrecy" yaml:"forward_secrecy"`
	AEAD              bool              `json:"aead" yaml:"aead"`
	ForbiddenCipher   bool              `json:"forbidden_cipher" yaml:"forbidden_cipher"`
	BelowMinimum      bool              `json:"below_minimum" yaml:"below_minimum"`
	DowngradeExposure bool              `json:"downgrade_exposure" yaml:"downgrade_exposure"`
	AcceptedVersions  []string          `json:"accepted_versions,omitempty" yaml:"accepted_versions,omitempty"`
	Rating            Rating            `json:"rating" yaml:"rating"`
	Findings          []finding.Finding `json:"-" yaml:"-"`
}

// aeadSuites lists the suites whose record protection is an AEAD.
var aeadSuites = map[uint16]bool{
	tls.TLS_AES_128_GCM_SHA256:                        true,
	tls.TLS_AES_256_GCM_SHA384:                        true,
	tls.TLS_CHACHA20_POLY1305_SHA256:                  true,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:       true,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384:       true,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:         true,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:         true,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:   true,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256: true,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256:               true,
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384:               true,
	0x009E:                                            true, // DHE_RSA_WITH_AES_128_GCM_SHA256
	0x009F:                                            true, // DHE_RSA_WITH_AES_256_GCM_SHA384
	0xCCAA:                                            true, // DHE_RSA_WITH_CHACHA20_POLY1305_SHA256
}

// Evaluate classifies session against policy. The same inputs always yield
// the same verdict.
func Evaluate(session *probe.Session, policy Policy) Verdict {
	version := Version(session.Version)
	v := Verdict{
		Version:         version.String(),
		CipherSuite:     CipherSuiteName(session.CipherSuite),
		KeyExchange:     string(session.KeyExchange),
		Group:           session.Group,
		ForwardSecrecy:  session.Ephemeral,
		AEAD:            aeadSuites[session.CipherSuite],
		ForbiddenCipher: policy.Forbids(session.CipherSuite),
		BelowMinimum:    version.Less(policy.MinVersion),
	}

	if v.BelowMinimum {
		v.Findings = append(v.Findings, finding.New(finding.SeverityCritical, finding.CategoryProtocol,
			fmt.Sprintf("deprecated protocol: %s negotiated, minimum is %s", version, policy.MinVersion),
			fmt.Sprintf("Disable every protocol below %s and enable %s.", policy.MinVersion, policy.PreferredVersion)))
	} else if version.Less(policy.PreferredVersion) {
		v.DowngradeExposure = true
		v.Findings = append(v.Findings, finding.New(finding.SeverityLow, finding.CategoryProtocol,
			fmt.Sprintf("preferred protocol %s not negotiated (got %s)", policy.PreferredVersion, version),
			fmt.Sprintf("Enable %s on the server.", policy.PreferredVersion)))
	}

	if v.ForbiddenCipher {
		v.Findings = append(v.Findings, finding.New(finding.SeverityHigh, finding.CategoryCipher,
			fmt.Sprintf("forbidden cipher suite negotiated: %s", v.CipherSuite),
			"Remove the suite from the server configuration; prefer AEAD suites with ECDHE."))
	} else if !v.AEAD && !v.BelowMinimum {
		v.Findings = append(v.Findings, finding.New(finding.SeverityLow, finding.CategoryCipher,
			fmt.Sprintf("cipher suite %s does not use authenticated encryption", v.CipherSuite),
			"Prefer AES-GCM or ChaCha20-Poly1305 suites."))
	}

	if !v.ForwardSecrecy {
		sev := finding.SeverityLow
		if policy.RequireForwardSecrecy {
			sev = finding.SeverityHigh
		}
		v.Findings = append(v.Findings, finding.New(sev, finding.CategoryCipher,
			fmt.Sprintf("no forward secrecy: %s key exchange is not ephemeral", session.KeyExchange),
			"Prefer ECDHE key exchange so past sessions stay private if the server key leaks."))
	}

	v.Rating = rate(v, version, policy)
	return v
}

func rate(v Verdict, version Version, policy Policy) Rating {
	switch {
	case v.BelowMinimum:
		return RatingCritical
	case !version.Less(policy.PreferredVersion) && !v.ForbiddenCipher:
		return RatingExcellent
	case v.ForbiddenCipher, policy.RequireForwardSecrecy && !v.ForwardSecrecy:
		return RatingWeak
	default:
		return RatingGood
	}
}

// WithSweep returns a copy of v that also accounts for the versions a
// version sweep found the server willing to accept. A server that accepts
// a version below the minimum while also supporting an acceptable one is
// exposed to downgrade.
func (v Verdict) WithSweep(accepted []uint16, policy Policy) Verdict {
	out := v
	out.Findings = append([]finding.Finding(nil), v.Findings...)
	out.AcceptedVersions = nil

	var weak []Version
	acceptable := false
	for _, id := range accepted {
		ver := Version(id)
		out.AcceptedVersions = append(out.AcceptedVersions, ver.String())
		if ver.Less(policy.MinVersion) {
			weak = append(weak, ver)
		} else {
			acceptable = true
		}
	}
	if !acceptable || len(weak) == 0 {
		return out
	}

	out.DowngradeExposure = true
	for _, ver := range weak {
		out.Findings = append(out.Findings, finding.New(finding.SeverityHigh, finding.CategoryProtocol,
			fmt.Sprintf("downgrade exposure: server still accepts %s", ver),
			fmt.Sprintf("Disable %s; clients that support %s can be forced down to it.", ver, policy.MinVersion)))
	}
	if out.Rating == RatingExcellent {
		out.Rating = RatingGood
	}
	return out
}
