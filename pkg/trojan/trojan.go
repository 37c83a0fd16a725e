// Package trojan implements the Trojan-over-TLS client wrapper: a SHA-224
// password digest followed by CRLF and an address header, prepended to the
// first bytes written on an already-established TLS connection.
//
// Trojan has no real handshake round trip -- the server only learns
// whether the password was right by whether the stream that follows
// parses as a valid request, so this package is much thinner than
// pkg/socks5 or pkg/vmess. The "wrap a net.Conn, mutate only the first
// Write" shape is grounded in the teacher's
// pkg/net/protocol/gordafarid/cipher_conn.CipherConn wrapping idiom and in
// other_examples' caddy-trojan listener.go (HeaderLen-based framing,
// read-then-validate-then-dispatch), adapted here to the client side since
// that Caddy module only implements the server.
package trojan

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"sync"

	"github.com/arashdev/simorgh/pkg/address"
)

// HeaderLen is the length of the hex-encoded password digest Trojan
// prepends to every connection: a SHA-224 digest (28 bytes), hex-encoded.
const HeaderLen = sha256.Size224 * 2

// passwordDigest computes Trojan's SHA-224 password digest, hex-encoded,
// exactly as every Trojan client/server implementation does.
func passwordDigest(password string) string {
	sum := sha256.Sum224([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Conn wraps a net.Conn (expected to already be running over TLS) and
// prepends the Trojan request header (password digest, CRLF, address
// header, CRLF) to the first Write.
type Conn struct {
	net.Conn

	password string
	target   address.Addr

	once    sync.Once
	writeMu sync.Mutex
}

// NewConn wraps raw, which must already be a TLS connection (trojan
// carries no transport-security logic of its own; see
// internal/outbound.Connector for how the TLS leg is layered on).
func NewConn(raw net.Conn, password string, target address.Addr) *Conn {
	return &Conn{Conn: raw, password: password, target: target}
}

func (c *Conn) Write(b []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var prefixErr error
	c.once.Do(func() {
		prefix := c.header()
		_, prefixErr = c.Conn.Write(prefix)
	})
	if prefixErr != nil {
		return 0, prefixErr
	}
	return c.Conn.Write(b)
}

// header builds the Trojan request header: digest ‖ CRLF ‖ cmd(1) ‖
// address ‖ CRLF.
func (c *Conn) header() []byte {
	buf := make([]byte, 0, HeaderLen+2+1+c.target.Size()+2)
	buf = append(buf, passwordDigest(c.password)...)
	buf = append(buf, '\r', '\n')
	buf = append(buf, 0x01) // cmd: CONNECT
	buf = append(buf, c.target.Bytes()...)
	buf = append(buf, '\r', '\n')
	return buf
}
