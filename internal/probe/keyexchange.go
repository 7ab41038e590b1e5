package probe

import (
	"crypto/tls"
	"fmt"
)

// KeyExchange is the key-establishment mechanism a cipher suite uses.
type KeyExchange string

const (
	KeyExchangeECDHE   KeyExchange = "ECDHE"
	KeyExchangeDHE     KeyExchange = "DHE"
	KeyExchangeRSA     KeyExchange = "RSA"
	KeyExchangeTLS13   KeyExchange = "TLS13"
	KeyExchangeUnknown KeyExchange = "unknown"
)

// Ephemeral reports whether the mechanism generates a fresh key per session.
func (k KeyExchange) Ephemeral() bool {
	switch k {
	case KeyExchangeECDHE, KeyExchangeDHE, KeyExchangeTLS13:
		return true
	}
	return false
}

// DHE suite identifiers (RFC 5246, RFC 5288, RFC 7905). crypto/tls does not
// implement them, but sessions handed in from other sources may carry them.
const (
	suiteDHERSAWithAES128CBCSHA      uint16 = 0x0033
	suiteDHERSAWithAES256CBCSHA      uint16 = 0x0039
	suiteDHERSAWithAES128CBCSHA256   uint16 = 0x0067
	suiteDHERSAWithAES256CBCSHA256   uint16 = 0x006B
	suiteDHERSAWithAES128GCMSHA256   uint16 = 0x009E
	suiteDHERSAWithAES256GCMSHA384   uint16 = 0x009F
	suiteDHERSAWithChaCha20Poly1305  uint16 = 0xCCAA
	suiteDHERSAWith3DESEDECBCSHA     uint16 = 0x0016
	suiteRSAWithNULLSHA              uint16 = 0x0002
	suiteRSAExportWithRC440MD5       uint16 = 0x0003
	suiteRSAWithRC4128MD5            uint16 = 0x0004
	suiteDHERSAExportWithDES40CBCSHA uint16 = 0x0014
	suiteRSAExportWithDES40CBCSHA    uint16 = 0x0008
	suiteRSAWithDESCBCSHA            uint16 = 0x0009
)

// keyExchangeBySuite maps TLS 1.0-1.2 suite identifiers to their key
// exchange. The mapping is by identifier, never by name matching.
var keyExchangeBySuite = map[uint16]KeyExchange{
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA:          KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_CBC_SHA:          KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA:            KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA:            KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256:       KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384:       KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256:         KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384:         KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256:   KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256: KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_RC4_128_SHA:              KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_RC4_128_SHA:                KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_3DES_EDE_CBC_SHA:           KeyExchangeECDHE,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA256:       KeyExchangeECDHE,
	tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA256:         KeyExchangeECDHE,

	tls.TLS_RSA_WITH_RC4_128_SHA:        KeyExchangeRSA,
	tls.TLS_RSA_WITH_3DES_EDE_CBC_SHA:   KeyExchangeRSA,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA:    KeyExchangeRSA,
	tls.TLS_RSA_WITH_AES_256_CBC_SHA:    KeyExchangeRSA,
	tls.TLS_RSA_WITH_AES_128_CBC_SHA256: KeyExchangeRSA,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256: KeyExchangeRSA,
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384: KeyExchangeRSA,
	suiteRSAWithNULLSHA:                 KeyExchangeRSA,
	suiteRSAExportWithRC440MD5:          KeyExchangeRSA,
	suiteRSAWithRC4128MD5:               KeyExchangeRSA,
	suiteRSAExportWithDES40CBCSHA:       KeyExchangeRSA,
	suiteRSAWithDESCBCSHA:               KeyExchangeRSA,

	suiteDHERSAWithAES128CBCSHA:      KeyExchangeDHE,
	suiteDHERSAWithAES256CBCSHA:      KeyExchangeDHE,
	suiteDHERSAWithAES128CBCSHA256:   KeyExchangeDHE,
	suiteDHERSAWithAES256CBCSHA256:   KeyExchangeDHE,
	suiteDHERSAWithAES128GCMSHA256:   KeyExchangeDHE,
	suiteDHERSAWithAES256GCMSHA384:   KeyExchangeDHE,
	suiteDHERSAWithChaCha20Poly1305:  KeyExchangeDHE,
	suiteDHERSAWith3DESEDECBCSHA:     KeyExchangeDHE,
	suiteDHERSAExportWithDES40CBCSHA: KeyExchangeDHE,
}

// KeyExchangeFor classifies the key exchange of a negotiated version and suite.
// Every TLS 1.3 handshake uses an ephemeral (EC)DHE share.
func KeyExchangeFor(version, suite uint16) KeyExchange {
	if version >= tls.VersionTLS13 {
		return KeyExchangeTLS13
	}
	if kx, ok := keyExchangeBySuite[suite]; ok {
		return kx
	}
	return KeyExchangeUnknown
}

// groupInfo describes a named key-exchange group.
type groupInfo struct {
	bits        int
	postQuantum bool
}

var groups = map[tls.CurveID]groupInfo{
	tls.CurveP256:      {bits: 256},
	tls.CurveP384:      {bits: 384},
	tls.CurveP521:      {bits: 521},
	tls.X25519:         {bits: 255},
	tls.X25519MLKEM768: {bits: 255, postQuantum: true},
}

// GroupInfo returns the display name, classical field size and post-quantum
// flag of a negotiated group. Zero means no group was negotiated.
func GroupInfo(id tls.CurveID) (name string, bits int, postQuantum bool) {
	if id == 0 {
		return "", 0, false
	}
	info, ok := groups[id]
	if !ok {
		return fmt.Sprintf("unknown (0x%04x)", uint16(id)), 0, false
	}
	return id.String(), info.bits, info.postQuantum
}

// offeredCipherSuites returns every suite crypto/tls can negotiate, secure and
// insecure alike, so that weak server configurations remain observable.
func offeredCipherSuites() []uint16 {
	var ids []uint16
	for _, cs := range tls.CipherSuites() {
		ids = append(ids, cs.ID)
	}
	for _, cs := range tls.InsecureCipherSuites() {
		ids = append(ids, cs.ID)
	}
	return ids
}
