// Package testutil mints throwaway PKI material for tests: roots,
// intermediates, leaves, CT logs and signed SCTs, plus local TLS servers.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

var serial atomic.Int64

func nextSerial() *big.Int {
	return big.NewInt(1000 + serial.Add(1))
}

// Authority is a CA certificate with its signing key.
type Authority struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// Leaf is an issued end-entity certificate.
type Leaf struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

// LeafOptions tunes IssueLeaf. Zero values give a certificate for
// "localhost" and 127.0.0.1 valid from an hour ago for 90 days.
type LeafOptions struct {
	DNSNames  []string
	NotBefore time.Time
	NotAfter  time.Time
	// SCTs are embedded in the certificate, each signed by its log.
	SCTs []SCTSpec
	// KeyBits selects a P-384 key when 384; P-256 otherwise.
	KeyBits int
}

// NewKey returns a fresh P-256 key.
func NewKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key
}

// NewRoot creates a self-signed root CA.
func NewRoot(t testing.TB, cn string) *Authority {
	t.Helper()
	key := NewKey(t)
	template := caTemplate(cn)
	return &Authority{Cert: create(t, template, template, key, key), Key: key}
}

// NewRootWithKey creates a self-signed root reusing key, for cross-signing
// and re-issue scenarios.
func NewRootWithKey(t testing.TB, cn string, key *ecdsa.PrivateKey) *Authority {
	t.Helper()
	template := caTemplate(cn)
	return &Authority{Cert: create(t, template, template, key, key), Key: key}
}

// NewIntermediate issues a subordinate CA.
func (a *Authority) NewIntermediate(t testing.TB, cn string) *Authority {
	t.Helper()
	key := NewKey(t)
	return &Authority{Cert: create(t, caTemplate(cn), a.Cert, key, a.Key), Key: key}
}

// CrossSign issues a certificate for other's subject and key, signed by a.
func (a *Authority) CrossSign(t testing.TB, other *Authority) *x509.Certificate {
	t.Helper()
	template := caTemplate(other.Cert.Subject.CommonName)
	return create(t, template, a.Cert, other.Key, a.Key)
}

// IssueLeaf issues a server certificate.
func (a *Authority) IssueLeaf(t testing.TB, opts LeafOptions) *Leaf {
	t.Helper()

	var key *ecdsa.PrivateKey
	var err error
	if opts.KeyBits == 384 {
		key, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}
	} else {
		key = NewKey(t)
	}

	template := leafTemplate(opts)
	if len(opts.SCTs) == 0 {
		return &Leaf{Cert: create(t, template, a.Cert, key, a.Key), Key: key}
	}
	return &Leaf{Cert: a.issueWithSCTs(t, template, key, opts.SCTs), Key: key}
}

// IssueLeafWithKey issues a server certificate for an existing key.
func (a *Authority) IssueLeafWithKey(t testing.TB, opts LeafOptions, key *ecdsa.PrivateKey) *Leaf {
	t.Helper()
	return &Leaf{Cert: create(t, leafTemplate(opts), a.Cert, key, a.Key), Key: key}
}

// TLSCertificate assembles a served chain: the leaf followed by chain.
func (l *Leaf) TLSCertificate(chain ...*x509.Certificate) tls.Certificate {
	out := tls.Certificate{Certificate: [][]byte{l.Cert.Raw}, PrivateKey: l.Key, Leaf: l.Cert}
	for _, c := range chain {
		out.Certificate = append(out.Certificate, c.Raw)
	}
	return out
}

// RawChain returns the DER of each certificate, in order.
func RawChain(certs ...*x509.Certificate) [][]byte {
	raw := make([][]byte, len(certs))
	for i, c := range certs {
		raw[i] = c.Raw
	}
	return raw
}

// WritePEM writes certs to dir/name as a PEM bundle and returns the path.
func WritePEM(t testing.TB, dir, name string, certs ...*x509.Certificate) string {
	t.Helper()
	var data []byte
	for _, c := range certs {
		data = append(data, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})...)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

// StartTLSServer serves handshakes with cfg on a loopback port until the
// test ends and returns the port.
func StartTLSServer(t testing.TB, cfg *tls.Config) int {
	t.Helper()

	ln, err := tls.Listen("tcp", "127.0.0.1:0", cfg)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				_ = c.SetDeadline(time.Now().Add(5 * time.Second))
				_ = c.(*tls.Conn).Handshake()
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func caTemplate(cn string) *x509.Certificate {
	return &x509.Certificate{
		SerialNumber:          nextSerial(),
		Subject:               pkix.Name{CommonName: cn, Organization: []string{"tlsinspect test"}},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
}

func leafTemplate(opts LeafOptions) *x509.Certificate {
	notBefore, notAfter := opts.NotBefore, opts.NotAfter
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	if notAfter.IsZero() {
		notAfter = notBefore.Add(90 * 24 * time.Hour)
	}
	names := opts.DNSNames
	if len(names) == 0 {
		names = []string{"localhost"}
	}
	return &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: names[0]},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		DNSNames:     names,
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
}

func create(t testing.TB, template, parent *x509.Certificate, key *ecdsa.PrivateKey, signer *ecdsa.PrivateKey) *x509.Certificate {
	t.Helper()
	der, err := x509.CreateCertificate(rand.Reader, template, parent, &key.PublicKey, signer)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}
