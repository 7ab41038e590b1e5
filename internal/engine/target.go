package engine

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/khanhnv2901/tlsinspect/internal/probe"
	"github.com/khanhnv2901/tlsinspect/internal/shared/constants"
	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
)

// Target is a host and port to inspect.
type Target struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	Port     int    `json:"port" yaml:"port"`
}

func (t Target) String() string {
	return net.JoinHostPort(t.Hostname, strconv.Itoa(t.Port))
}

// ParseTarget accepts the forms people paste:
//   - example.com
//   - example.com:8443
//   - https://example.com/path
//   - [2001:db8::1]:443
//
// The port defaults to 443.
func ParseTarget(raw string) (Target, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Target{}, fmt.Errorf("%w: empty target", apperrors.ErrInvalidTarget)
	}

	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q: %v", apperrors.ErrInvalidTarget, raw, err)
		}
		s = u.Host
	} else if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}

	t := Target{Hostname: s, Port: constants.DefaultPort}
	if host, port, err := net.SplitHostPort(s); err == nil {
		n, err := strconv.Atoi(port)
		if err != nil {
			return Target{}, fmt.Errorf("%w: %q: %w", apperrors.ErrInvalidTarget, raw, apperrors.ErrInvalidPort)
		}
		t.Hostname, t.Port = host, n
	} else if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		t.Hostname = s[1 : len(s)-1]
	}

	if !probe.ValidHostname(t.Hostname) {
		return Target{}, fmt.Errorf("%w: %q: %w", apperrors.ErrInvalidTarget, raw, apperrors.ErrInvalidHostname)
	}
	if t.Port < 1 || t.Port > 65535 {
		return Target{}, fmt.Errorf("%w: %q: %w", apperrors.ErrInvalidTarget, raw, apperrors.ErrInvalidPort)
	}
	return t, nil
}

// ParseTargets parses each entry, stopping at the first invalid one.
func ParseTargets(raw []string) ([]Target, error) {
	out := make([]Target, 0, len(raw))
	for _, r := range raw {
		t, err := ParseTarget(r)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ErrorKind classifies err for reporting: the transport kind for probe
// errors, "InvalidTarget" for bad requests and "InternalError" otherwise.
func ErrorKind(err error) string {
	if kind := probe.KindOf(err); kind != "" {
		return string(kind)
	}
	if errors.Is(err, apperrors.ErrInvalidTarget) {
		return "InvalidTarget"
	}
	return "InternalError"
}
