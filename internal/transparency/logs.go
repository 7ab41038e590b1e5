package transparency

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"os"
	"sort"

	ct "github.com/google/certificate-transparency-go"
	"github.com/google/certificate-transparency-go/loglist3"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
)

// Log is one Certificate Transparency log with its pinned public key.
type Log struct {
	ID          [sha256.Size]byte `json:"-" yaml:"-"`
	IDBase64    string            `json:"log_id" yaml:"log_id"`
	Description string            `json:"description" yaml:"description"`
	Operator    string            `json:"operator" yaml:"operator"`
	URL         string            `json:"url" yaml:"url"`
	MMD         int32             `json:"mmd" yaml:"mmd"`

	verifier *ct.SignatureVerifier
}

// LogDirectory maps log IDs to logs. It is built once from a v3 log list
// and never modified, so it is safe to share between inspections.
type LogDirectory struct {
	logs      map[[sha256.Size]byte]*Log
	ordered   []*Log
	operators []string
}

// LoadLogDirectory reads a v3 log_list.json from path.
func LoadLogDirectory(path string) (*LogDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CT log list: %w", err)
	}
	return ParseLogDirectory(data)
}

// ParseLogDirectory parses a v3 log list document.
func ParseLogDirectory(data []byte) (*LogDirectory, error) {
	list, err := loglist3.NewFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidLogDirectory, err)
	}
	return NewLogDirectory(list)
}

// NewLogDirectory builds a directory from a parsed log list. Every log must
// carry a 32-byte ID and a public key ct can verify with.
func NewLogDirectory(list *loglist3.LogList) (*LogDirectory, error) {
	if list == nil {
		return nil, apperrors.ErrMissingLogDirectory
	}

	dir := &LogDirectory{logs: make(map[[sha256.Size]byte]*Log)}
	for _, op := range list.Operators {
		if op == nil {
			continue
		}
		added := false
		for _, l := range op.Logs {
			if l == nil {
				continue
			}
			log, err := newLog(op.Name, l)
			if err != nil {
				return nil, err
			}
			if _, dup := dir.logs[log.ID]; dup {
				continue
			}
			dir.logs[log.ID] = log
			dir.ordered = append(dir.ordered, log)
			added = true
		}
		if added {
			dir.operators = append(dir.operators, op.Name)
		}
	}
	if len(dir.logs) == 0 {
		return nil, fmt.Errorf("%w: log list contains no logs", apperrors.ErrInvalidLogDirectory)
	}

	sort.SliceStable(dir.ordered, func(i, j int) bool {
		if dir.ordered[i].Operator != dir.ordered[j].Operator {
			return dir.ordered[i].Operator < dir.ordered[j].Operator
		}
		return dir.ordered[i].Description < dir.ordered[j].Description
	})
	sort.Strings(dir.operators)
	return dir, nil
}

func newLog(operator string, l *loglist3.Log) (*Log, error) {
	if len(l.LogID) != sha256.Size {
		return nil, fmt.Errorf("%w: log %q has a %d-byte ID", apperrors.ErrInvalidLogDirectory, l.Description, len(l.LogID))
	}
	pub, err := x509.ParsePKIXPublicKey(l.Key)
	if err != nil {
		return nil, fmt.Errorf("%w: log %q key: %v", apperrors.ErrInvalidLogDirectory, l.Description, err)
	}
	verifier, err := ct.NewSignatureVerifier(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: log %q key: %v", apperrors.ErrInvalidLogDirectory, l.Description, err)
	}

	log := &Log{
		IDBase64:    base64.StdEncoding.EncodeToString(l.LogID),
		Description: l.Description,
		Operator:    operator,
		URL:         l.URL,
		MMD:         int32(l.MMD),
		verifier:    verifier,
	}
	copy(log.ID[:], l.LogID)
	return log, nil
}

// Lookup finds a log by its ID.
func (d *LogDirectory) Lookup(id [sha256.Size]byte) (*Log, bool) {
	log, ok := d.logs[id]
	return log, ok
}

// Logs returns every log, ordered by operator then description.
func (d *LogDirectory) Logs() []*Log {
	out := make([]*Log, len(d.ordered))
	copy(out, d.ordered)
	return out
}

// Operators returns the distinct operator names, sorted.
func (d *LogDirectory) Operators() []string {
	out := make([]string, len(d.operators))
	copy(out, d.operators)
	return out
}

// Len returns the number of logs.
func (d *LogDirectory) Len() int {
	return len(d.logs)
}
