// Package dispatcher accepts raw inbound TCP connections and classifies
// each one as SOCKS5 or HTTP(S) by peeking its first byte, before handing
// it to the matching inbound handshake (pkg/socks5.Server or
// pkg/httpconnect.ServeConnect).
//
// The teacher's core/net/utils/buffered_conn.go wraps a net.Conn in a
// backtrack-capable buffered reader so a misclassified read can be
// replayed; dispatch here only ever needs to look, never rewind a raw
// net.Conn, so a plain bufio.Reader.Peek replaces it, generalized from
// "only ever SOCKS5" to "SOCKS5 or HTTP", per SPEC_FULL.md §4.9.
package dispatcher

import (
	"bufio"
	"context"
	"errors"
	"net"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/httpconnect"
	"github.com/arashdev/simorgh/pkg/perr"
	"github.com/arashdev/simorgh/pkg/socks5"
)

// ErrUnknownProtocol is returned when the first byte of a connection
// names neither the SOCKS5 version byte nor an HTTP method.
var ErrUnknownProtocol = errors.New("dispatcher: first byte names neither SOCKS5 nor HTTP")

// Inbound is the classified result of Accept: either a SOCKS5 Conn (whose
// final reply still needs to be sent, see Finish) or an established HTTP CONNECT
// tunnel (already past its handshake) plus, in either case, the requested
// destination.
type Inbound struct {
	// Conn is ready for the glue forwarder only after Finish has been
	// called (for SOCKS5) or immediately (HTTP CONNECT's 200 response has
	// already been sent by the time Accept returns).
	Conn   net.Conn
	Target address.Addr
	// IsSOCKS5 distinguishes which branch produced Conn: a SOCKS5 Conn
	// must be completed by calling Finish with a reply code derived from
	// the caller's own upstream dial outcome (spec.md §4.2 step 3) before
	// any proxying through Conn; an HTTP CONNECT tunnel needs no such
	// step and Finish is a no-op for it.
	IsSOCKS5 bool
	// Finish reports the upstream dial outcome back to the inbound peer.
	// For SOCKS5 this sends the final reply (ReplySucceeded or a mapped
	// failure code) and, on success, unblocks proxying through Conn; for
	// HTTP CONNECT it does nothing (the 200 reply already went out).
	Finish func(rep byte) error
	// Prelude, when non-nil, must be written to the dialed upstream
	// connection before relaying begins: a plain (non-CONNECT) HTTP
	// request's re-serialized bytes, since that request itself is the
	// first thing the upstream origin server expects to see.
	Prelude []byte
}

// Server dispatches accepted connections to the SOCKS5 or HTTP(S) inbound
// handshake.
type Server struct {
	socks5 *socks5.Server
}

// NewServer constructs a dispatching Server. socks5Server configures
// inbound SOCKS5 authentication (nil for no-auth).
func NewServer(socks5Server *socks5.Server) *Server {
	if socks5Server == nil {
		socks5Server = socks5.NewServer(socks5.ServerConfig{})
	}
	return &Server{socks5: socks5Server}
}

// Accept peeks raw's first byte and runs the matching inbound handshake
// up to (but not including) the point where the outcome of the caller's
// own upstream dial is needed: call the returned Inbound.Finish once that
// outcome is known, then proxy through Inbound.Conn.
func (s *Server) Accept(ctx context.Context, raw net.Conn) (Inbound, error) {
	br := bufio.NewReader(raw)
	first, err := br.Peek(1)
	if err != nil {
		return Inbound{}, perr.Wrap(perr.KindProtocolViolation, err)
	}

	switch {
	case first[0] == socks5.Version:
		return s.acceptSOCKS5(ctx, bufferedConn{raw, br})
	case isHTTPMethodByte(first[0]):
		return s.acceptHTTP(bufferedConn{raw, br}, br)
	default:
		return Inbound{}, perr.Wrap(perr.KindProtocolViolation, ErrUnknownProtocol)
	}
}

func (s *Server) acceptSOCKS5(ctx context.Context, raw net.Conn) (Inbound, error) {
	c, target, err := s.socks5.Negotiate(ctx, raw)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{
		Conn:     c,
		Target:   target,
		IsSOCKS5: true,
		Finish:   func(rep byte) error { return s.socks5.Finish(c, rep) },
	}, nil
}

func (s *Server) acceptHTTP(raw net.Conn, br *bufio.Reader) (Inbound, error) {
	target, err := httpconnect.ServeConnect(raw, br)
	if err != nil {
		var plain *httpconnect.PlainRequestError
		if errors.As(err, &plain) {
			return s.acceptPlainHTTP(raw, plain)
		}
		return Inbound{}, err
	}
	return Inbound{Conn: raw, Target: target, Finish: func(byte) error { return nil }}, nil
}

func (s *Server) acceptPlainHTTP(raw net.Conn, plain *httpconnect.PlainRequestError) (Inbound, error) {
	target, prelude, err := httpconnect.ServePlainHTTP(plain.Request)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{
		Conn:    raw,
		Target:  target,
		Finish:  func(byte) error { return nil },
		Prelude: prelude,
	}, nil
}

// isHTTPMethodByte reports whether b could begin an HTTP/1.1 request line
// ("CONNECT ...", "GET ...", and so on all start with an uppercase ASCII
// letter).
func isHTTPMethodByte(b byte) bool {
	return b >= 'A' && b <= 'Z'
}

// bufferedConn re-exposes a bufio.Reader that already peeked raw's first
// bytes as a net.Conn, so downstream handshakes (pkg/socks5.Server.Negotiate,
// http.ReadRequest via pkg/httpconnect.ServeConnect) see those bytes on
// their first Read instead of losing them to the dispatcher's peek.
type bufferedConn struct {
	net.Conn
	br *bufio.Reader
}

func (b bufferedConn) Read(p []byte) (int, error) {
	return b.br.Read(p)
}
