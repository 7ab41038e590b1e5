package testutil

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"testing"
	"time"

	ct "github.com/google/certificate-transparency-go"
	cttls "github.com/google/certificate-transparency-go/tls"
	ctx509 "github.com/google/certificate-transparency-go/x509"
)

var oidSCTList = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 4, 2}

// CTLog is a fake Certificate Transparency log with a real signing key.
type CTLog struct {
	Description string
	Operator    string
	Key         *ecdsa.PrivateKey
	SPKI        []byte
	ID          [sha256.Size]byte
}

// SCTSpec describes one SCT to embed or serve.
type SCTSpec struct {
	Log *CTLog
	// Timestamp defaults to 30 minutes ago.
	Timestamp time.Time
	// Corrupt makes the signature cover the wrong bytes.
	Corrupt bool
}

// NewCTLog creates a log run by operator.
func NewCTLog(t testing.TB, description, operator string) *CTLog {
	t.Helper()
	key := NewKey(t)
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal log key: %v", err)
	}
	return &CTLog{
		Description: description,
		Operator:    operator,
		Key:         key,
		SPKI:        spki,
		ID:          sha256.Sum256(spki),
	}
}

// LogListJSON renders logs as a v3 log list document.
func LogListJSON(t testing.TB, logs ...*CTLog) []byte {
	t.Helper()

	type jsonLog struct {
		Description string `json:"description"`
		LogID       []byte `json:"log_id"`
		Key         []byte `json:"key"`
		URL         string `json:"url"`
		MMD         int    `json:"mmd"`
	}
	type jsonOperator struct {
		Name  string    `json:"name"`
		Email []string  `json:"email"`
		Logs  []jsonLog `json:"logs"`
	}

	var operators []*jsonOperator
	byName := map[string]*jsonOperator{}
	for _, l := range logs {
		op, ok := byName[l.Operator]
		if !ok {
			op = &jsonOperator{Name: l.Operator, Email: []string{"ct@example.com"}}
			byName[l.Operator] = op
			operators = append(operators, op)
		}
		op.Logs = append(op.Logs, jsonLog{
			Description: l.Description,
			LogID:       l.ID[:],
			Key:         l.SPKI,
			URL:         "https://ct.example.com/" + l.Description + "/",
			MMD:         86400,
		})
	}

	data, err := json.Marshal(map[string]any{
		"version":            "1.0",
		"log_list_timestamp": "2026-01-01T00:00:00Z",
		"operators":          operators,
	})
	if err != nil {
		t.Fatalf("marshal log list: %v", err)
	}
	return data
}

// TLSExtensionSCT returns a serialized SCT over the leaf as an X.509 entry,
// as a server would staple it in the TLS extension.
func TLSExtensionSCT(t testing.TB, leaf *x509.Certificate, spec SCTSpec) []byte {
	t.Helper()
	parsed := ctParse(t, leaf.Raw)
	ts := sctTimestamp(spec)
	mtl, err := ct.MerkleTreeLeafFromChain([]*ctx509.Certificate{parsed}, ct.X509LogEntryType, ts)
	if err != nil {
		t.Fatalf("merkle leaf: %v", err)
	}
	return signSCT(t, spec, mtl, ts)
}

func (a *Authority) issueWithSCTs(t testing.TB, template *x509.Certificate, key *ecdsa.PrivateKey, specs []SCTSpec) *x509.Certificate {
	t.Helper()

	// The SCT signs the TBS without the SCT list, so a placeholder list
	// stands in while computing what each log signs.
	placeholder := sctListExtension(t, [][]byte{signSCT(t, SCTSpec{Log: specs[0].Log}, nil, 0)})
	template.ExtraExtensions = []pkix.Extension{placeholder}
	draft := create(t, template, a.Cert, key, a.Key)

	chain := []*ctx509.Certificate{ctParse(t, draft.Raw), ctParse(t, a.Cert.Raw)}
	var scts [][]byte
	for _, spec := range specs {
		ts := sctTimestamp(spec)
		mtl, err := ct.MerkleTreeLeafForEmbeddedSCT(chain, ts)
		if err != nil {
			t.Fatalf("merkle leaf for embedded sct: %v", err)
		}
		scts = append(scts, signSCT(t, spec, mtl, ts))
	}

	template.ExtraExtensions = []pkix.Extension{sctListExtension(t, scts)}
	return create(t, template, a.Cert, key, a.Key)
}

// signSCT signs an SCT for mtl. A nil mtl yields a structurally valid SCT
// with a dummy signature.
func signSCT(t testing.TB, spec SCTSpec, mtl *ct.MerkleTreeLeaf, ts uint64) []byte {
	t.Helper()

	sct := ct.SignedCertificateTimestamp{
		SCTVersion: ct.V1,
		LogID:      ct.LogID{KeyID: spec.Log.ID},
		Timestamp:  ts,
		Signature: ct.DigitallySigned{
			Algorithm: cttls.SignatureAndHashAlgorithm{Hash: cttls.SHA256, Signature: cttls.ECDSA},
			Signature: []byte{0x30, 0x00},
		},
	}

	if mtl != nil {
		input, err := ct.SerializeSCTSignatureInput(sct, ct.LogEntry{Leaf: *mtl})
		if err != nil {
			t.Fatalf("serialize sct input: %v", err)
		}
		if spec.Corrupt {
			input = append(input, 'x')
		}
		digest := sha256.Sum256(input)
		sig, err := ecdsa.SignASN1(rand.Reader, spec.Log.Key, digest[:])
		if err != nil {
			t.Fatalf("sign sct: %v", err)
		}
		sct.Signature.Signature = sig
	}

	data, err := cttls.Marshal(sct)
	if err != nil {
		t.Fatalf("marshal sct: %v", err)
	}
	return data
}

func sctListExtension(t testing.TB, scts [][]byte) pkix.Extension {
	t.Helper()
	var list ctx509.SignedCertificateTimestampList
	for _, s := range scts {
		list.SCTList = append(list.SCTList, ctx509.SerializedSCT{Val: s})
	}
	data, err := cttls.Marshal(list)
	if err != nil {
		t.Fatalf("marshal sct list: %v", err)
	}
	value, err := asn1.Marshal(data)
	if err != nil {
		t.Fatalf("wrap sct list: %v", err)
	}
	return pkix.Extension{Id: oidSCTList, Value: value}
}

func ctParse(t testing.TB, der []byte) *ctx509.Certificate {
	t.Helper()
	cert, err := ctx509.ParseCertificate(der)
	if err != nil && ctx509.IsFatal(err) {
		t.Fatalf("ct parse certificate: %v", err)
	}
	return cert
}

func sctTimestamp(spec SCTSpec) uint64 {
	ts := spec.Timestamp
	if ts.IsZero() {
		ts = time.Now().Add(-30 * time.Minute)
	}
	return uint64(ts.UnixMilli())
}
