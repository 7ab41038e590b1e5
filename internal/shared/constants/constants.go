package constants

import (
	"io/fs"
	"time"
)

const (
	// DefaultDirPerm is the default permission used when creating directories.
	DefaultDirPerm fs.FileMode = 0o755
	// DefaultFilePerm is the default permission used when writing output files.
	DefaultFilePerm fs.FileMode = 0o644
)

const (
	// DefaultPort is the port inspected when a target does not name one.
	DefaultPort = 443
	// DefaultProbeTimeout bounds DNS + TCP + TLS handshake for one probe.
	DefaultProbeTimeout = 5 * time.Second
	// DefaultMaxRequestTimeout caps the timeout an API caller may ask for.
	DefaultMaxRequestTimeout = 30 * time.Second
	// ExpiryWarningWindow flags leaf certificates that expire inside this window.
	ExpiryWarningWindow = 14 * 24 * time.Hour
	// WebBodyLimitBytes caps how much of the landing page the web checks read.
	WebBodyLimitBytes = 512 * 1024
	// MaxRequestBodyBytes caps API request bodies.
	MaxRequestBodyBytes = 1 << 20
)
