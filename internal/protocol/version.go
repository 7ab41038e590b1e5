package protocol

import (
	"crypto/tls"
	"fmt"
	"strings"
)

// Version is a TLS/SSL protocol version as carried on the wire.
type Version uint16

// SSL versions are defined locally; crypto/tls never negotiates SSLv2 and
// deprecates its SSLv3 constant.
const (
	VersionSSL20 Version = 0x0200
	VersionSSL30 Version = 0x0300
	VersionTLS10 Version = tls.VersionTLS10
	VersionTLS11 Version = tls.VersionTLS11
	VersionTLS12 Version = tls.VersionTLS12
	VersionTLS13 Version = tls.VersionTLS13
)

// order is the fixed total order used for every comparison.
var order = []Version{VersionSSL20, VersionSSL30, VersionTLS10, VersionTLS11, VersionTLS12, VersionTLS13}

var versionNames = map[Version]string{
	VersionSSL20: "SSLv2",
	VersionSSL30: "SSLv3",
	VersionTLS10: "TLS1.0",
	VersionTLS11: "TLS1.1",
	VersionTLS12: "TLS1.2",
	VersionTLS13: "TLS1.3",
}

// Rank is the position in the total order, or -1 for unknown versions.
func (v Version) Rank() int {
	for i, o := range order {
		if o == v {
			return i
		}
	}
	return -1
}

// Known reports whether v is in the total order.
func (v Version) Known() bool {
	return v.Rank() >= 0
}

// Less reports whether v sorts strictly before w. Unknown versions sort
// before everything.
func (v Version) Less(w Version) bool {
	return v.Rank() < w.Rank()
}

func (v Version) String() string {
	if name, ok := versionNames[v]; ok {
		return name
	}
	return fmt.Sprintf("unknown (0x%04x)", uint16(v))
}

// ParseVersion accepts names such as "TLS1.2", "TLSv1.2", "tls 1.2", "1.2"
// and "SSLv3".
func ParseVersion(name string) (Version, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "", "_", "", "V", "").Replace(n)
	switch n {
	case "SSL2", "SSL2.0":
		return VersionSSL20, nil
	case "SSL3", "SSL3.0":
		return VersionSSL30, nil
	case "TLS1.0", "TLS1", "1.0":
		return VersionTLS10, nil
	case "TLS1.1", "1.1":
		return VersionTLS11, nil
	case "TLS1.2", "1.2":
		return VersionTLS12, nil
	case "TLS1.3", "1.3":
		return VersionTLS13, nil
	}
	return 0, fmt.Errorf("unknown protocol version %q", name)
}
