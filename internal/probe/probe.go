package probe

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
	"go.uber.org/zap"
)

// Dialer opens the TCP connection a probe runs over. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Resolver maps a hostname to addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Session is everything one handshake revealed about a server. It is created
// once per probe and never mutated afterwards.
type Session struct {
	Hostname      string        `json:"hostname" yaml:"hostname"`
	Port          int           `json:"port" yaml:"port"`
	Address       string        `json:"address" yaml:"address"`
	Version       uint16        `json:"version" yaml:"version"`
	CipherSuite   uint16        `json:"cipher_suite" yaml:"cipher_suite"`
	KeyExchange   KeyExchange   `json:"key_exchange" yaml:"key_exchange"`
	Ephemeral     bool          `json:"ephemeral" yaml:"ephemeral"`
	Group         string        `json:"group,omitempty" yaml:"group,omitempty"`
	GroupBits     int           `json:"group_bits,omitempty" yaml:"group_bits,omitempty"`
	PostQuantum   bool          `json:"post_quantum" yaml:"post_quantum"`
	ALPN          string        `json:"alpn,omitempty" yaml:"alpn,omitempty"`
	PeerChain     [][]byte      `json:"-" yaml:"-"`
	SCTs          [][]byte      `json:"-" yaml:"-"`
	OCSPResponse  []byte        `json:"-" yaml:"-"`
	ProbedAt      time.Time     `json:"probed_at" yaml:"probed_at"`
	HandshakeTime time.Duration `json:"handshake_time_ns" yaml:"handshake_time_ns"`
}

// Prober performs TLS handshakes without validating trust so that whatever
// the server offers can be inspected.
type Prober struct {
	Dialer   Dialer
	Resolver Resolver
	Logger   *zap.Logger
}

// NewProber returns a Prober using the system resolver, or the given
// nameservers when any are supplied.
func NewProber(logger *zap.Logger, nameservers ...string) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		Dialer:   &net.Dialer{},
		Resolver: newResolver(nameservers),
		Logger:   logger,
	}
}

func newResolver(nameservers []string) *net.Resolver {
	resolver := &net.Resolver{
		PreferGo: true,
	}
	if len(nameservers) == 0 {
		return resolver
	}

	dialer := &net.Dialer{}
	var next atomic.Uint32
	resolver.Dial = func(ctx context.Context, network, _ string) (net.Conn, error) {
		// Rotate through the configured nameservers on successive queries.
		server := nameservers[int(next.Add(1)-1)%len(nameservers)]
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		return dialer.DialContext(ctx, network, server)
	}
	return resolver
}

// Probe opens exactly one TLS connection to hostname:port, records what was
// negotiated and closes the connection before returning. The handshake does
// not verify the certificate chain; SNI is set to hostname.
func (p *Prober) Probe(ctx context.Context, hostname string, port int, timeout time.Duration) (*Session, error) {
	return p.handshake(ctx, hostname, port, timeout, tls.VersionTLS10, tls.VersionTLS13)
}

// SupportedVersions handshakes once per protocol version from TLS 1.0 to
// TLS 1.3 and returns the versions the server accepted, lowest first. Each
// attempt is a separate probe with its own connection.
func (p *Prober) SupportedVersions(ctx context.Context, hostname string, port int, timeout time.Duration) ([]uint16, error) {
	var accepted []uint16
	for _, v := range []uint16{tls.VersionTLS10, tls.VersionTLS11, tls.VersionTLS12, tls.VersionTLS13} {
		_, err := p.handshake(ctx, hostname, port, timeout, v, v)
		switch {
		case err == nil:
			accepted = append(accepted, v)
		case errors.Is(err, ErrHandshakeFailure):
			// version refused
		default:
			return accepted, err
		}
	}
	return accepted, nil
}

func (p *Prober) handshake(ctx context.Context, hostname string, port int, timeout time.Duration, minVersion, maxVersion uint16) (*Session, error) {
	if err := ValidateTarget(hostname, port, timeout); err != nil {
		return nil, err
	}
	hostname = normalizeHost(hostname)
	logger := p.logger().With(zap.String("host", hostname), zap.Int("port", port))

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	ip, err := p.resolve(ctx, hostname)
	if err != nil {
		kind := KindDNSResolution
		if isTimeout(ctx, err) {
			kind = KindConnectTimeout
		}
		logger.Debug("resolve failed", zap.Error(err))
		return nil, newError(kind, hostname, port, err)
	}

	address := net.JoinHostPort(ip, strconv.Itoa(port))
	conn, err := p.dialer().DialContext(ctx, "tcp", address)
	if err != nil {
		kind := KindConnectFailure
		if isTimeout(ctx, err) {
			kind = KindConnectTimeout
		}
		logger.Debug("dial failed", zap.String("address", address), zap.Error(err))
		return nil, newError(kind, hostname, port, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	tlsConn := tls.Client(conn, clientConfig(hostname, minVersion, maxVersion))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		kind := KindHandshakeFailure
		if isTimeout(ctx, err) {
			kind = KindConnectTimeout
		}
		logger.Debug("handshake failed", zap.Error(err))
		return nil, newError(kind, hostname, port, err)
	}
	defer tlsConn.Close()

	state := tlsConn.ConnectionState()
	session := newSession(hostname, port, address, state)
	session.ProbedAt = start.UTC()
	session.HandshakeTime = time.Since(start)

	logger.Debug("handshake complete",
		zap.String("version", tls.VersionName(state.Version)),
		zap.String("cipher_suite", tls.CipherSuiteName(state.CipherSuite)),
		zap.Int("chain_length", len(session.PeerChain)),
		zap.Duration("duration", session.HandshakeTime),
	)
	return session, nil
}

func newSession(hostname string, port int, address string, state tls.ConnectionState) *Session {
	kx := KeyExchangeFor(state.Version, state.CipherSuite)
	group, bits, pq := GroupInfo(state.CurveID)

	session := &Session{
		Hostname:     hostname,
		Port:         port,
		Address:      address,
		Version:      state.Version,
		CipherSuite:  state.CipherSuite,
		KeyExchange:  kx,
		Ephemeral:    kx.Ephemeral() || state.CurveID != 0,
		Group:        group,
		GroupBits:    bits,
		PostQuantum:  pq,
		ALPN:         state.NegotiatedProtocol,
		OCSPResponse: state.OCSPResponse,
	}
	for _, cert := range state.PeerCertificates {
		session.PeerChain = append(session.PeerChain, cert.Raw)
	}
	session.SCTs = append(session.SCTs, state.SignedCertificateTimestamps...)
	return session
}

func clientConfig(hostname string, minVersion, maxVersion uint16) *tls.Config {
	cfg := &tls.Config{
		// The engine inspects untrusted input deliberately; trust is
		// evaluated afterwards by the chain validator.
		InsecureSkipVerify: true, //nolint:gosec
		MinVersion:         minVersion,
		MaxVersion:         maxVersion,
		CipherSuites:       offeredCipherSuites(),
		NextProtos:         []string{"h2", "http/1.1"},
	}
	if net.ParseIP(hostname) == nil {
		cfg.ServerName = hostname
	}
	return cfg
}

func (p *Prober) resolve(ctx context.Context, hostname string) (string, error) {
	if ip := net.ParseIP(hostname); ip != nil {
		return ip.String(), nil
	}
	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, hostname)
	if err != nil {
		return "", err
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("no addresses found for %s", hostname)
	}
	return addrs[0].IP.String(), nil
}

func (p *Prober) dialer() Dialer {
	if p.Dialer == nil {
		return &net.Dialer{}
	}
	return p.Dialer
}

func (p *Prober) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// ValidateTarget checks probe inputs: hostname must be a DNS name or IP
// literal, port in [1,65535] and timeout positive.
func ValidateTarget(hostname string, port int, timeout time.Duration) error {
	if !ValidHostname(hostname) {
		return fmt.Errorf("%w: %q", apperrors.ErrInvalidHostname, hostname)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %d", apperrors.ErrInvalidPort, port)
	}
	if timeout <= 0 {
		return apperrors.ErrInvalidTimeout
	}
	return nil
}

// ValidHostname reports whether host is an IP literal (optionally bracketed)
// or a syntactically valid DNS name.
func ValidHostname(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	host = strings.TrimSuffix(host, ".")
	if len(host) == 0 || len(host) > 253 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if !validLabel(label) {
			return false
		}
	}
	return true
}

func validLabel(label string) bool {
	if len(label) == 0 || len(label) > 63 {
		return false
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return false
	}
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
		default:
			return false
		}
	}
	return true
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	return host
}
