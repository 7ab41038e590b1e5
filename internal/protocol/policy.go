package protocol

import (
	"crypto/tls"
	"fmt"
	"sort"
	"strconv"
	"strings"

	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
)

// Policy is the explicit protocol/cipher policy an inspection is judged by.
type Policy struct {
	MinVersion            Version
	PreferredVersion      Version
	ForbiddenCiphers      map[uint16]struct{}
	RequireForwardSecrecy bool
}

// defaultForbidden is the pinned set of suites the default policy rejects:
// NULL, EXPORT, single DES, RC4, 3DES and the CBC-SHA256 suites. Suites
// crypto/tls has no constant for are listed by IANA identifier.
var defaultForbidden = []uint16{
	0x0001, // TLS_RSA_WITH_NULL_MD5
	0x0002, // TLS_RSA_WITH_NULL_SHA
	0x003B, // TLS_RSA_WITH_NULL_SHA256
	0xC006, // TLS_ECDHE_ECDSA_WITH_NULL_SHA
	0xC010, // TLS_ECDHE_RSA_WITH_NULL_SHA
	0x0003, // TLS_RSA_EXPORT_WITH_RC4_40_MD5
	0x0006, // TLS_RSA_EXPORT_WITH_RC2_CBC_40_MD5
	0x0008, // TLS_RSA_EXPORT_WITH_DES40_CBC_SHA
	0x0009, // TLS_RSA_WITH_DES_CBC_SHA
	0x0004, // TLS_RSA_WITH_RC4_128_MD5
	tls.TLS_RSA_WITH_RC4_128_SHA,
	tls.TLS_ECDHE_ECDSA_WITH_RC4_128_SHA,
	tls.TLS_ECDHE_RSA_WITH_RC4_128_SHA,
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA,
	tls.TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256,
}

// DefaultPolicy requires TLS 1.2, prefers TLS 1.3, forbids the pinned weak
// suites and requires forward secrecy. The forbidden set does not follow the
// Go toolchain's notion of insecure suites.
func DefaultPolicy() Policy {
	forbidden := make(map[uint16]struct{}, len(defaultForbidden))
	for _, id := range defaultForbidden {
		forbidden[id] = struct{}{}
	}
	return Policy{
		MinVersion:            VersionTLS12,
		PreferredVersion:      VersionTLS13,
		ForbiddenCiphers:      forbidden,
		RequireForwardSecrecy: true,
	}
}

// NewPolicy builds a policy from configuration names. An empty forbidden
// list keeps DefaultPolicy's forbidden set.
func NewPolicy(minVersion, preferredVersion string, forbidden []string, requireForwardSecrecy bool) (Policy, error) {
	p := DefaultPolicy()
	p.RequireForwardSecrecy = requireForwardSecrecy

	var err error
	if minVersion != "" {
		if p.MinVersion, err = ParseVersion(minVersion); err != nil {
			return Policy{}, fmt.Errorf("%w: min_version: %v", apperrors.ErrInvalidProtocolPolicy, err)
		}
	}
	if preferredVersion != "" {
		if p.PreferredVersion, err = ParseVersion(preferredVersion); err != nil {
			return Policy{}, fmt.Errorf("%w: preferred_version: %v", apperrors.ErrInvalidProtocolPolicy, err)
		}
	}
	if len(forbidden) > 0 {
		p.ForbiddenCiphers = make(map[uint16]struct{}, len(forbidden))
		for _, name := range forbidden {
			id, err := CipherSuiteID(name)
			if err != nil {
				return Policy{}, fmt.Errorf("%w: forbidden_ciphers: %v", apperrors.ErrInvalidProtocolPolicy, err)
			}
			p.ForbiddenCiphers[id] = struct{}{}
		}
	}
	return p, p.Validate()
}

// Validate checks that both versions are known and ordered.
func (p Policy) Validate() error {
	if !p.MinVersion.Known() {
		return fmt.Errorf("%w: unknown minimum version %s", apperrors.ErrInvalidProtocolPolicy, p.MinVersion)
	}
	if !p.PreferredVersion.Known() {
		return fmt.Errorf("%w: unknown preferred version %s", apperrors.ErrInvalidProtocolPolicy, p.PreferredVersion)
	}
	if p.PreferredVersion.Less(p.MinVersion) {
		return fmt.Errorf("%w: preferred version %s is below minimum %s",
			apperrors.ErrInvalidProtocolPolicy, p.PreferredVersion, p.MinVersion)
	}
	return nil
}

// Forbids reports whether suite is on the forbidden list.
func (p Policy) Forbids(suite uint16) bool {
	_, ok := p.ForbiddenCiphers[suite]
	return ok
}

// ForbiddenNames returns the forbidden suites by name, sorted.
func (p Policy) ForbiddenNames() []string {
	names := make([]string, 0, len(p.ForbiddenCiphers))
	for id := range p.ForbiddenCiphers {
		names = append(names, CipherSuiteName(id))
	}
	sort.Strings(names)
	return names
}

// CipherSuiteID resolves an IANA suite name known to crypto/tls, or a hex
// identifier such as "0x000A".
func CipherSuiteID(name string) (uint16, error) {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(strings.ToLower(name), "0x") {
		id, err := strconv.ParseUint(name[2:], 16, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid cipher suite id %q", name)
		}
		return uint16(id), nil
	}
	for _, cs := range append(tls.CipherSuites(), tls.InsecureCipherSuites()...) {
		if strings.EqualFold(cs.Name, name) {
			return cs.ID, nil
		}
	}
	return 0, fmt.Errorf("unknown cipher suite %q", name)
}

// CipherSuiteName names a suite, falling back to its hex identifier.
func CipherSuiteName(id uint16) string {
	return tls.CipherSuiteName(id)
}
