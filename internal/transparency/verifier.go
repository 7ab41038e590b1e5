// Package transparency verifies Signed Certificate Timestamps against a
// pinned directory of Certificate Transparency logs.
package transparency

import (
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	ct "github.com/google/certificate-transparency-go"
	cttls "github.com/google/certificate-transparency-go/tls"
	ctx509 "github.com/google/certificate-transparency-go/x509"
	"github.com/khanhnv2901/tlsinspect/internal/chain"
	"github.com/khanhnv2901/tlsinspect/internal/finding"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
)

// Source is where an SCT was delivered.
type Source string

const (
	SourceEmbedded     Source = "embedded"
	SourceTLSExtension Source = "tls_extension"
)

// SCTRecord is one SCT and the outcome of every check run on it. Invalid
// SCTs are kept, never discarded.
type SCTRecord struct {
	LogID          string    `json:"log_id" yaml:"log_id"`
	LogDescription string    `json:"log_description,omitempty" yaml:"log_description,omitempty"`
	Operator       string    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	Source         Source    `json:"source" yaml:"source"`
	Signature      []byte    `json:"signature,omitempty" yaml:"signature,omitempty"`
	RecognizedLog  bool      `json:"recognized_log" yaml:"recognized_log"`
	TimestampValid bool      `json:"timestamp_valid" yaml:"timestamp_valid"`
	SignatureValid bool      `json:"signature_valid" yaml:"signature_valid"`
	Valid          bool      `json:"valid" yaml:"valid"`
	Error          string    `json:"error,omitempty" yaml:"error,omitempty"`
}

// Policy is the compliance threshold: at least MinValidSCTs valid SCTs from
// at least MinOperators distinct operators.
type Policy struct {
	MinValidSCTs int `json:"min_valid_scts" yaml:"min_valid_scts"`
	MinOperators int `json:"min_operators" yaml:"min_operators"`
}

// DefaultPolicy asks for two valid SCTs from two operators.
func DefaultPolicy() Policy {
	return Policy{MinValidSCTs: 2, MinOperators: 2}
}

// Validate rejects negative thresholds and an operator requirement that
// exceeds the SCT requirement.
func (p Policy) Validate() error {
	if p.MinValidSCTs < 0 || p.MinOperators < 0 {
		return fmt.Errorf("%w: thresholds must not be negative", apperrors.ErrInvalidCTPolicy)
	}
	if p.MinOperators > p.MinValidSCTs {
		return fmt.Errorf("%w: min_operators (%d) exceeds min_valid_scts (%d)",
			apperrors.ErrInvalidCTPolicy, p.MinOperators, p.MinValidSCTs)
	}
	return nil
}

// Verdict is the transparency evaluation of a chain's leaf.
type Verdict struct {
	SCTs         []SCTRecord       `json:"scts" yaml:"scts"`
	ValidSCTs    int               `json:"valid_scts" yaml:"valid_scts"`
	LogDiversity int               `json:"log_diversity" yaml:"log_diversity"`
	Operators    []string          `json:"operators,omitempty" yaml:"operators,omitempty"`
	Compliant    bool              `json:"compliant" yaml:"compliant"`
	Findings     []finding.Finding `json:"-" yaml:"-"`
}

// Verifier checks SCTs. It holds only immutable state.
type Verifier struct {
	Logs   *LogDirectory
	Policy Policy
	Now    func() time.Time
}

// NewVerifier validates its inputs.
func NewVerifier(logs *LogDirectory, policy Policy) (*Verifier, error) {
	if logs == nil {
		return nil, apperrors.ErrMissingLogDirectory
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{Logs: logs, Policy: policy, Now: time.Now}, nil
}

// Verify checks the SCTs embedded in the chain's leaf plus any delivered in
// the TLS extension. A leaf without SCTs is a finding, not an error.
func (v *Verifier) Verify(c *chain.Chain, tlsSCTs [][]byte) Verdict {
	leaf := c.Leaf()
	if leaf == nil {
		return Verdict{}
	}

	run := &verification{verifier: v, leaf: leaf}
	run.parseCertificates(c)

	var embedded [][]byte
	if run.ctLeaf != nil {
		for _, s := range run.ctLeaf.SCTList.SCTList {
			embedded = append(embedded, s.Val)
		}
	}
	if leaf.HasSCTList && len(embedded) == 0 {
		run.add(finding.New(finding.SeverityCritical, finding.CategoryTransparency,
			"malformed SCT list extension in leaf certificate",
			"Reissue the certificate through a CA that embeds well-formed SCTs."))
	}

	if len(embedded) == 0 && len(tlsSCTs) == 0 {
		run.add(finding.New(finding.SeverityMedium, finding.CategoryTransparency,
			"no certificate transparency: leaf carries no SCTs",
			"Use a CA that embeds SCTs, or serve them via the TLS extension."))
		return run.verdict
	}

	for i, raw := range embedded {
		run.check(i, raw, SourceEmbedded)
	}
	for i, raw := range tlsSCTs {
		run.check(i, raw, SourceTLSExtension)
	}
	run.summarize()
	return run.verdict
}

type verification struct {
	verifier *Verifier
	leaf     *chain.Certificate
	ctLeaf   *ctx509.Certificate
	ctIssuer *ctx509.Certificate
	verdict  Verdict
}

func (r *verification) parseCertificates(c *chain.Chain) {
	r.ctLeaf = parseCT(r.leaf.Raw)
	if issuer := c.Issuer(); issuer != nil {
		r.ctIssuer = parseCT(issuer.Raw)
	}
}

// parseCT tolerates the non-fatal errors ct's parser reports for
// certificates crypto/x509 already accepted.
func parseCT(der []byte) *ctx509.Certificate {
	cert, err := ctx509.ParseCertificate(der)
	if err != nil && ctx509.IsFatal(err) {
		return nil
	}
	return cert
}

func (r *verification) check(i int, raw []byte, source Source) {
	rec := SCTRecord{Source: source}

	var sct ct.SignedCertificateTimestamp
	rest, err := cttls.Unmarshal(raw, &sct)
	if err != nil || len(rest) > 0 {
		rec.Error = "malformed SCT"
		r.verdict.SCTs = append(r.verdict.SCTs, rec)
		r.add(finding.New(finding.SeverityCritical, finding.CategoryTransparency,
			fmt.Sprintf("malformed SCT #%d (%s)", i, source),
			"Reissue the certificate or fix the server's SCT configuration."))
		return
	}

	rec.LogID = base64.StdEncoding.EncodeToString(sct.LogID.KeyID[:])
	rec.Timestamp = time.UnixMilli(int64(sct.Timestamp)).UTC()
	rec.Signature = sct.Signature.Signature

	log, ok := r.verifier.Logs.Lookup(sct.LogID.KeyID)
	if !ok {
		rec.Error = "unrecognized log"
		r.verdict.SCTs = append(r.verdict.SCTs, rec)
		r.add(finding.New(finding.SeverityInfo, finding.CategoryTransparency,
			fmt.Sprintf("SCT from unrecognized log %s", rec.LogID),
			"Update the CT log list, or obtain SCTs from recognised logs."))
		return
	}
	rec.RecognizedLog = true
	rec.LogDescription = log.Description
	rec.Operator = log.Operator

	now := time.Now()
	if r.verifier.Now != nil {
		now = r.verifier.Now()
	}
	rec.TimestampValid = !rec.Timestamp.Before(r.leaf.NotBefore) &&
		!rec.Timestamp.After(r.leaf.NotAfter) &&
		!rec.Timestamp.After(now)
	if !rec.TimestampValid {
		rec.Error = "timestamp outside certificate validity"
		r.add(finding.New(finding.SeverityMedium, finding.CategoryTransparency,
			fmt.Sprintf("SCT from %s has a timestamp outside the certificate validity window", log.Description),
			"Reissue the certificate so its SCTs fall inside its validity period."))
	}

	if err := r.verifySignature(log, sct, source); err != nil {
		if rec.Error == "" {
			rec.Error = err.Error()
		}
		r.add(finding.New(finding.SeverityHigh, finding.CategoryTransparency,
			fmt.Sprintf("SCT signature from %s does not verify", log.Description),
			"The SCT was not issued for this certificate; reissue through a compliant CA."))
	} else {
		rec.SignatureValid = true
	}

	rec.Valid = rec.RecognizedLog && rec.TimestampValid && rec.SignatureValid
	r.verdict.SCTs = append(r.verdict.SCTs, rec)
}

func (r *verification) verifySignature(log *Log, sct ct.SignedCertificateTimestamp, source Source) error {
	if r.ctLeaf == nil {
		return fmt.Errorf("leaf certificate cannot be parsed for SCT verification")
	}

	var (
		leaf *ct.MerkleTreeLeaf
		err  error
	)
	switch source {
	case SourceEmbedded:
		if r.ctIssuer == nil {
			return fmt.Errorf("issuer certificate unavailable")
		}
		leaf, err = ct.MerkleTreeLeafForEmbeddedSCT([]*ctx509.Certificate{r.ctLeaf, r.ctIssuer}, sct.Timestamp)
	default:
		leaf, err = ct.MerkleTreeLeafFromChain([]*ctx509.Certificate{r.ctLeaf}, ct.X509LogEntryType, sct.Timestamp)
	}
	if err != nil {
		return fmt.Errorf("build signed entry: %w", err)
	}
	if err := log.verifier.VerifySCTSignature(sct, ct.LogEntry{Leaf: *leaf}); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	return nil
}

func (r *verification) summarize() {
	validLogs := make(map[string]struct{})
	operators := make(map[string]struct{})
	for _, rec := range r.verdict.SCTs {
		if !rec.Valid {
			continue
		}
		validLogs[rec.LogID] = struct{}{}
		operators[rec.Operator] = struct{}{}
	}

	r.verdict.ValidSCTs = len(validLogs)
	r.verdict.LogDiversity = len(operators)
	for op := range operators {
		r.verdict.Operators = append(r.verdict.Operators, op)
	}
	sort.Strings(r.verdict.Operators)

	policy := r.verifier.Policy
	r.verdict.Compliant = r.verdict.ValidSCTs >= policy.MinValidSCTs && r.verdict.LogDiversity >= policy.MinOperators
	if r.verdict.Compliant {
		return
	}
	r.add(finding.New(finding.SeverityMedium, finding.CategoryTransparency,
		fmt.Sprintf("insufficient certificate transparency: %d valid SCTs from %d operators (policy requires %d from %d)",
			r.verdict.ValidSCTs, r.verdict.LogDiversity, policy.MinValidSCTs, policy.MinOperators),
		"Obtain SCTs from additional logs run by different operators."))
}

func (r *verification) add(f finding.Finding) {
	r.verdict.Findings = append(r.verdict.Findings, f)
}
