package chain

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
)

// TrustStore is the configured set of trust anchors. An anchor is identified
// by its subject name together with its public key, so a re-issued or
// cross-signed copy of an anchor certificate still matches. A TrustStore is
// immutable after construction and safe for concurrent use.
type TrustStore struct {
	anchors   []*x509.Certificate
	bySubject map[string][]*x509.Certificate
	identity  map[string]struct{}
}

// NewTrustStore builds a store from already-parsed anchors.
func NewTrustStore(anchors []*x509.Certificate) (*TrustStore, error) {
	if len(anchors) == 0 {
		return nil, apperrors.ErrEmptyTrustStore
	}

	store := &TrustStore{
		bySubject: make(map[string][]*x509.Certificate),
		identity:  make(map[string]struct{}),
	}
	for i, cert := range anchors {
		if cert == nil {
			return nil, fmt.Errorf("%w: nil certificate at index %d", apperrors.ErrInvalidTrustAnchor, i)
		}
		id := anchorIdentity(cert)
		if _, dup := store.identity[id]; dup {
			continue
		}
		store.identity[id] = struct{}{}
		store.anchors = append(store.anchors, cert)
		store.bySubject[string(cert.RawSubject)] = append(store.bySubject[string(cert.RawSubject)], cert)
	}
	return store, nil
}

// LoadTrustStore reads PEM bundles from the given files or directories.
// Directories contribute every *.pem, *.crt and *.cer file they contain.
func LoadTrustStore(paths ...string) (*TrustStore, error) {
	var anchors []*x509.Certificate
	for _, path := range paths {
		files, err := expandAnchorPath(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			data, err := os.ReadFile(file)
			if err != nil {
				return nil, fmt.Errorf("read trust anchors %s: %w", file, err)
			}
			certs, err := ParsePEM(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", file, err)
			}
			anchors = append(anchors, certs...)
		}
	}
	return NewTrustStore(anchors)
}

func expandAnchorPath(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("trust anchors: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("trust anchors: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".pem", ".crt", ".cer":
			files = append(files, filepath.Join(path, entry.Name()))
		}
	}
	return files, nil
}

// ParsePEM decodes every CERTIFICATE block in data. Other block types are
// skipped.
func ParsePEM(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidTrustAnchor, err)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// Contains reports whether cert is one of the anchors.
func (s *TrustStore) Contains(cert *x509.Certificate) bool {
	_, ok := s.identity[anchorIdentity(cert)]
	return ok
}

// IssuerOf returns the first anchor whose subject matches cert's issuer and
// whose key verifies cert's signature.
func (s *TrustStore) IssuerOf(cert *x509.Certificate) (*x509.Certificate, bool) {
	for _, anchor := range s.bySubject[string(cert.RawIssuer)] {
		if signedBy(cert, anchor) == nil {
			return anchor, true
		}
	}
	return nil, false
}

// Named returns the anchors whose subject is rawName, whatever their keys.
func (s *TrustStore) Named(rawName []byte) []*x509.Certificate {
	return s.bySubject[string(rawName)]
}

// Len returns the number of distinct anchors.
func (s *TrustStore) Len() int {
	return len(s.anchors)
}

// Certificates returns a copy of the anchor list.
func (s *TrustStore) Certificates() []*x509.Certificate {
	out := make([]*x509.Certificate, len(s.anchors))
	copy(out, s.anchors)
	return out
}

func anchorIdentity(cert *x509.Certificate) string {
	return string(cert.RawSubject) + "\x00" + string(cert.RawSubjectPublicKeyInfo)
}
