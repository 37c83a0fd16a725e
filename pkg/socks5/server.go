package socks5

import (
	"bufio"
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"os"
	"syscall"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/perr"
)

// ServerConfig configures an inbound SOCKS5 listener.
type ServerConfig struct {
	// Credentials, if non-nil, requires RFC 1929 username/password
	// authentication instead of the no-auth method.
	Credentials *Credentials
}

// Server performs the inbound (proxy-server-side) SOCKS5 handshake.
type Server struct {
	cfg ServerConfig
}

// NewServer constructs a Server from cfg.
func NewServer(cfg ServerConfig) *Server {
	return &Server{cfg: cfg}
}

// Accept wraps raw in a Conn whose handshake runs the server side of the
// protocol on first use; call Target after a successful handshake to learn
// the requested destination.
func (s *Server) Accept(raw net.Conn) *Conn {
	c := &Conn{Conn: raw, br: newBufReader(raw)}
	c.handshakeFn = func(ctx context.Context) error {
		return s.handshake(ctx, c)
	}
	return c
}

func (s *Server) handshake(ctx context.Context, c *Conn) error {
	if err := s.negotiateMethod(ctx, c); err != nil {
		return err
	}
	target, err := s.readRequest(ctx, c)
	if err != nil {
		_ = s.sendReply(c, ReplyGeneralFailure, address.IPPort(net.IPv4zero, 0))
		return err
	}
	c.target = target
	if err := s.sendReply(c, ReplySucceeded, address.IPPort(net.IPv4zero, 0)); err != nil {
		return err
	}
	c.isReady.Store(true)
	return nil
}

// Negotiate runs the Hello/Authn/Request phase of the server handshake
// (spec.md §4.2 steps 1-2) synchronously and returns the requested
// destination, but stops short of sending the final reply: a caller that
// needs to map its own upstream dial outcome to a specific reply code
// (spec.md §4.2 step 3's generalFailure/networkUnreachable/... table)
// dials first, then calls Finish with the code it determined. The
// returned Conn's Read/Write pass straight through until Finish is
// called -- callers must not use it for proxying before then.
func (s *Server) Negotiate(ctx context.Context, raw net.Conn) (*Conn, address.Addr, error) {
	c := &Conn{Conn: raw, br: newBufReader(raw)}
	c.handshakeFn = func(context.Context) error { return nil }

	if err := s.negotiateMethod(ctx, c); err != nil {
		return nil, address.Addr{}, err
	}
	target, err := s.readRequest(ctx, c)
	if err != nil {
		_ = s.sendReply(c, ReplyGeneralFailure, address.IPPort(net.IPv4zero, 0))
		return nil, address.Addr{}, err
	}
	c.target = target
	return c, target, nil
}

// Finish sends the SOCKS5 reply rep (ReplySucceeded or one of the
// ReplyXxx failure codes spec.md §4.2 step 3 enumerates) for a
// Negotiate-created Conn and, on success, marks it ready for proxying.
func (s *Server) Finish(c *Conn, rep byte) error {
	if err := s.sendReply(c, rep, address.IPPort(net.IPv4zero, 0)); err != nil {
		return err
	}
	if rep != ReplySucceeded {
		return perr.Wrap(perr.KindUpstreamUnavailable, ErrServerRefused)
	}
	c.isReady.Store(true)
	return nil
}

func (s *Server) negotiateMethod(ctx context.Context, c *Conn) error {
	ver, err := readByte(ctx, c.br)
	if err != nil {
		return perr.Wrapf(perr.KindInvalidFrame, err, "socks5: read version")
	}
	if ver != Version {
		return perr.Wrap(perr.KindProtocolViolation, ErrUnsupportedVersion)
	}
	nmethods, err := readByte(ctx, c.br)
	if err != nil {
		return perr.Wrapf(perr.KindInvalidFrame, err, "socks5: read nmethods")
	}
	methods, err := readN(ctx, c.br, int(nmethods))
	if err != nil {
		return perr.Wrapf(perr.KindInvalidFrame, err, "socks5: read methods")
	}

	want := MethodNoAuth
	if s.cfg.Credentials != nil {
		want = MethodUserPass
	}

	selected := MethodNoAcceptable
	for _, m := range methods {
		if m == want {
			selected = want
			break
		}
	}
	if _, err := c.Conn.Write([]byte{Version, selected}); err != nil {
		return err
	}
	if selected == MethodNoAcceptable {
		return perr.Wrap(perr.KindAuthenticationFailed, ErrNoAcceptableMethod)
	}
	if selected == MethodUserPass {
		return s.negotiateUserPass(ctx, c)
	}
	return nil
}

const authVersion byte = 0x01

func (s *Server) negotiateUserPass(ctx context.Context, c *Conn) error {
	ver, err := readByte(ctx, c.br)
	if err != nil {
		return perr.Wrapf(perr.KindInvalidFrame, err, "socks5: read auth version")
	}
	if ver != authVersion {
		return perr.Wrap(perr.KindProtocolViolation, ErrUnsupportedAuthReply)
	}
	ulen, err := readByte(ctx, c.br)
	if err != nil {
		return err
	}
	uname, err := readN(ctx, c.br, int(ulen))
	if err != nil {
		return err
	}
	plen, err := readByte(ctx, c.br)
	if err != nil {
		return err
	}
	passwd, err := readN(ctx, c.br, int(plen))
	if err != nil {
		return err
	}

	ok := constantTimeEqual(uname, []byte(s.cfg.Credentials.Username)) &&
		constantTimeEqual(passwd, []byte(s.cfg.Credentials.Password))
	status := byte(0x01)
	if ok {
		status = 0x00
	}
	if _, err := c.Conn.Write([]byte{authVersion, status}); err != nil {
		return err
	}
	if !ok {
		return perr.Wrap(perr.KindAuthenticationFailed, ErrAuthFailed)
	}
	return nil
}

func (s *Server) readRequest(ctx context.Context, c *Conn) (address.Addr, error) {
	hdr, err := readN(ctx, c.br, 3)
	if err != nil {
		return address.Addr{}, perr.Wrapf(perr.KindInvalidFrame, err, "socks5: read request header")
	}
	if hdr[0] != Version {
		return address.Addr{}, perr.Wrap(perr.KindProtocolViolation, ErrUnsupportedVersion)
	}
	if hdr[1] != CmdConnect {
		return address.Addr{}, perr.Wrap(perr.KindProtocolViolation, ErrUnsupportedCommand)
	}
	target, err := address.ReadFrom(ctxReader{ctx, c.br})
	if err != nil {
		return address.Addr{}, perr.Wrap(perr.KindInvalidFrame, err)
	}
	return target, nil
}

// ReplyForError maps an outbound dial error to the RFC 1928 §6 reply code
// spec.md §4.2 step 3 requires: a timed-out context becomes ttlExpired, a
// syscall-level refusal or unreachable-network/-host becomes the matching
// specific code, and anything else falls back to generalFailure.
func ReplyForError(err error) byte {
	if err == nil {
		return ReplySucceeded
	}
	if perr.Is(err, perr.KindCancelled) || errors.Is(err, context.DeadlineExceeded) {
		return ReplyTTLExpired
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED:
			return ReplyConnectionRefused
		case syscall.ENETUNREACH:
			return ReplyNetworkUnreachable
		case syscall.EHOSTUNREACH:
			return ReplyHostUnreachable
		case syscall.ETIMEDOUT:
			return ReplyTTLExpired
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReplyHostUnreachable
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && os.IsTimeout(opErr) {
		return ReplyTTLExpired
	}

	return ReplyGeneralFailure
}

func (s *Server) sendReply(c *Conn, rep byte, bind address.Addr) error {
	buf := append([]byte{Version, rep, 0x00}, bind.Bytes()...)
	_, err := c.Conn.Write(buf)
	return err
}

// constantTimeEqual compares two credential fields without letting a
// length or content mismatch short-circuit the comparison, so a
// timing-based credential guess gains no signal from early termination.
func constantTimeEqual(got, want []byte) bool {
	if len(got) != len(want) {
		// still run a same-cost comparison against want itself so the
		// length branch is the only timing signal, not the content.
		subtle.ConstantTimeCompare(want, want)
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// ctxReader adapts readN's context-aware reads into the plain io.Reader
// shape address.ReadFrom expects.
type ctxReader struct {
	ctx context.Context
	br  *bufio.Reader
}

func (r ctxReader) Read(p []byte) (int, error) {
	n, err := readN(r.ctx, r.br, len(p))
	if err != nil {
		return 0, err
	}
	copy(p, n)
	return len(n), nil
}
