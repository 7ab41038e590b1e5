package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind enumerates the transport failures a probe can report.
type Kind string

const (
	KindDNSResolution    Kind = "DNSResolutionError"
	KindConnectTimeout   Kind = "ConnectTimeout"
	KindConnectFailure   Kind = "ConnectFailure"
	KindHandshakeFailure Kind = "HandshakeFailure"
)

// Sentinel errors matching each Kind, for use with errors.Is.
var (
	ErrDNSResolution    = errors.New("dns resolution failed")
	ErrConnectTimeout   = errors.New("connection timed out")
	ErrConnectFailure   = errors.New("connection failed")
	ErrHandshakeFailure = errors.New("tls handshake failed")
)

// Error is the transport error returned by Probe. It is never retried inside
// the engine; retry policy belongs to the caller.
type Error struct {
	Kind Kind
	Host string
	Port int
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s:%d", e.Kind, e.Host, e.Port)
	}
	return fmt.Sprintf("%s: %s:%d: %v", e.Kind, e.Host, e.Port, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an *Error against the sentinel for its Kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrDNSResolution:
		return e.Kind == KindDNSResolution
	case ErrConnectTimeout:
		return e.Kind == KindConnectTimeout
	case ErrConnectFailure:
		return e.Kind == KindConnectFailure
	case ErrHandshakeFailure:
		return e.Kind == KindHandshakeFailure
	}
	return false
}

// KindOf extracts the transport Kind from err, or "" when err is not a probe error.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}

func newError(kind Kind, host string, port int, err error) *Error {
	return &Error{Kind: kind, Host: host, Port: port, Err: err}
}

// isTimeout reports whether err was caused by a deadline rather than a refusal.
func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
