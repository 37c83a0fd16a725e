// Package mitm wires pkg/httpconnect's certificate pool into a process-level
// TLS server that terminates an intercepted CONNECT tunnel, so the engine
// can inspect (and re-forward) the decrypted HTTP traffic spec.md §4.6
// describes rather than opaquely splicing bytes.
package mitm

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/arashdev/simorgh/pkg/httpconnect"
	"github.com/arashdev/simorgh/pkg/perr"
)

// ErrNotIntercepted is returned by Intercept when the pool cannot supply a
// certificate for host: host matches none of the pool's configured
// patterns, or issuing its leaf certificate failed.
var ErrNotIntercepted = errors.New("mitm: host not covered by any configured pattern")

// Interceptor terminates TLS on an already-established CONNECT tunnel using
// a per-host leaf certificate issued by its CertPool, mirroring the
// teacher's core/net/protocol/gordafarid client/server TLS pairing but
// applied to the inbound leg instead of the outbound one.
type Interceptor struct {
	pool *httpconnect.CertPool
}

// New constructs an Interceptor backed by pool.
func New(pool *httpconnect.CertPool) *Interceptor {
	return &Interceptor{pool: pool}
}

// Enabled reports whether a CertPool was configured ([mitm] enabled=true in
// config, per SPEC_FULL.md §6).
func (m *Interceptor) Enabled() bool {
	return m.pool != nil
}

// ShouldIntercept reports whether host falls under a configured MitM
// pattern. Callers check this before calling Intercept so non-matching
// hosts can be tunneled opaquely instead.
func (m *Interceptor) ShouldIntercept(host string) bool {
	return m.pool != nil && m.pool.ShouldIntercept(host)
}

// Intercept issues a leaf certificate for host and runs a TLS server
// handshake over raw (the plaintext CONNECT tunnel, post-200-OK), returning
// a *tls.Conn ready for the caller to read decrypted requests from and
// forward re-encoded responses back through.
func (m *Interceptor) Intercept(raw net.Conn, host string) (*tls.Conn, error) {
	if m.pool == nil {
		return nil, fmt.Errorf("mitm: interceptor has no certificate pool configured")
	}
	cert, err := m.pool.CertificateFor(host)
	if err != nil {
		return nil, perr.Wrap(perr.KindProtocolViolation, fmt.Errorf("%w: %v", ErrNotIntercepted, err))
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{*cert},
	}
	tlsConn := tls.Server(raw, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, perr.Wrap(perr.KindUpstreamUnavailable, fmt.Errorf("mitm: tls handshake: %w", err))
	}
	return tlsConn, nil
}
