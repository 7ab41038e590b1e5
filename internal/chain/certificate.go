package chain

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"time"
)

// oidSCTList identifies the embedded SCT list extension (RFC 6962 §3.3).
var oidSCTList = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}

// Certificate is the parsed, read-only view of one X.509 certificate.
type Certificate struct {
	Subject            string    `json:"subject" yaml:"subject"`
	Issuer             string    `json:"issuer" yaml:"issuer"`
	SerialNumber       string    `json:"serial_number" yaml:"serial_number"`
	NotBefore          time.Time `json:"not_before" yaml:"not_before"`
	NotAfter           time.Time `json:"not_after" yaml:"not_after"`
	PublicKeyAlgorithm string    `json:"public_key_algorithm" yaml:"public_key_algorithm"`
	KeySize            int       `json:"key_size" yaml:"key_size"`
	SignatureAlgorithm string    `json:"signature_algorithm" yaml:"signature_algorithm"`
	IsCA               bool      `json:"is_ca" yaml:"is_ca"`
	MaxPathLen         int       `json:"max_path_len" yaml:"max_path_len"`
	KeyUsage           []string  `json:"key_usage,omitempty" yaml:"key_usage,omitempty"`
	ExtKeyUsage        []string  `json:"ext_key_usage,omitempty" yaml:"ext_key_usage,omitempty"`
	DNSNames           []string  `json:"dns_names,omitempty" yaml:"dns_names,omitempty"`
	HasSCTList         bool      `json:"has_sct_list" yaml:"has_sct_list"`
	AuthorityKeyID     string    `json:"authority_key_id,omitempty" yaml:"authority_key_id,omitempty"`
	SubjectKeyID       string    `json:"subject_key_id,omitempty" yaml:"subject_key_id,omitempty"`
	SelfSigned         bool      `json:"self_signed" yaml:"self_signed"`
	Fingerprint        string    `json:"fingerprint_sha256" yaml:"fingerprint_sha256"`
	Raw                []byte    `json:"-" yaml:"-"`

	cert *x509.Certificate
}

// NewCertificate extracts the record for c.
func NewCertificate(c *x509.Certificate) *Certificate {
	sum := sha256.Sum256(c.Raw)
	out := &Certificate{
		Subject:            c.Subject.String(),
		Issuer:             c.Issuer.String(),
		SerialNumber:       serialHex(c),
		NotBefore:          c.NotBefore,
		NotAfter:           c.NotAfter,
		PublicKeyAlgorithm: c.PublicKeyAlgorithm.String(),
		KeySize:            KeySize(c),
		SignatureAlgorithm: c.SignatureAlgorithm.String(),
		IsCA:               c.BasicConstraintsValid && c.IsCA,
		MaxPathLen:         c.MaxPathLen,
		KeyUsage:           keyUsageNames(c.KeyUsage),
		ExtKeyUsage:        extKeyUsageNames(c.ExtKeyUsage),
		DNSNames:           c.DNSNames,
		HasSCTList:         hasExtension(c, oidSCTList),
		AuthorityKeyID:     hex.EncodeToString(c.AuthorityKeyId),
		SubjectKeyID:       hex.EncodeToString(c.SubjectKeyId),
		SelfSigned:         selfSigned(c),
		Fingerprint:        hex.EncodeToString(sum[:]),
		Raw:                c.Raw,
		cert:               c,
	}
	if !c.BasicConstraintsValid {
		out.MaxPathLen = -1
	}
	return out
}

// X509 returns the underlying parsed certificate.
func (c *Certificate) X509() *x509.Certificate {
	return c.cert
}

// KeySize returns the public key size in bits, or 0 for unknown key types.
func KeySize(c *x509.Certificate) int {
	switch key := c.PublicKey.(type) {
	case *rsa.PublicKey:
		return key.N.BitLen()
	case *ecdsa.PublicKey:
		return key.Curve.Params().BitSize
	case ed25519.PublicKey:
		return 256
	}
	return 0
}

func serialHex(c *x509.Certificate) string {
	if c.SerialNumber == nil {
		return ""
	}
	return hex.EncodeToString(c.SerialNumber.Bytes())
}

func selfSigned(c *x509.Certificate) bool {
	if !bytes.Equal(c.RawIssuer, c.RawSubject) {
		return false
	}
	return signedBy(c, c) == nil
}

// signedBy checks child's signature with parent's key. Unlike
// CheckSignatureFrom it does not enforce CA constraints, which are reported
// as separate findings.
func signedBy(child, parent *x509.Certificate) error {
	return parent.CheckSignature(child.SignatureAlgorithm, child.RawTBSCertificate, child.Signature)
}

func hasExtension(c *x509.Certificate, oid asn1.ObjectIdentifier) bool {
	for _, ext := range c.Extensions {
		if ext.Id.Equal(oid) {
			return true
		}
	}
	return false
}

var keyUsages = []struct {
	bit  x509.KeyUsage
	name string
}{
	{x509.KeyUsageDigitalSignature, "digital_signature"},
	{x509.KeyUsageContentCommitment, "content_commitment"},
	{x509.KeyUsageKeyEncipherment, "key_encipherment"},
	{x509.KeyUsageDataEncipherment, "data_encipherment"},
	{x509.KeyUsageKeyAgreement, "key_agreement"},
	{x509.KeyUsageCertSign, "cert_sign"},
	{x509.KeyUsageCRLSign, "crl_sign"},
	{x509.KeyUsageEncipherOnly, "encipher_only"},
	{x509.KeyUsageDecipherOnly, "decipher_only"},
}

func keyUsageNames(ku x509.KeyUsage) []string {
	var names []string
	for _, u := range keyUsages {
		if ku&u.bit != 0 {
			names = append(names, u.name)
		}
	}
	return names
}

var extKeyUsages = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageAny:             "any",
	x509.ExtKeyUsageServerAuth:      "server_auth",
	x509.ExtKeyUsageClientAuth:      "client_auth",
	x509.ExtKeyUsageCodeSigning:     "code_signing",
	x509.ExtKeyUsageEmailProtection: "email_protection",
	x509.ExtKeyUsageTimeStamping:    "time_stamping",
	x509.ExtKeyUsageOCSPSigning:     "ocsp_signing",
}

func extKeyUsageNames(usages []x509.ExtKeyUsage) []string {
	var names []string
	for _, u := range usages {
		if name, ok := extKeyUsages[u]; ok {
			names = append(names, name)
		} else {
			names = append(names, "other")
		}
	}
	return names
}
