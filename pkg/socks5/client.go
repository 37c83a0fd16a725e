package socks5

import (
	"context"
	"net"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/perr"
)

// Client performs the outbound (proxy-client-side) SOCKS5 handshake
// against an upstream SOCKS5 server, generalizing the teacher's
// core/net/client/socks implementation (which only ever dialed the
// teacher's own Gordafarid server) into a standalone reusable client.
type Client struct {
	Creds *Credentials
}

// NewClient constructs a Client, optionally authenticating with creds.
func NewClient(creds *Credentials) *Client {
	return &Client{Creds: creds}
}

// Dial wraps raw (already connected to a SOCKS5 server) in a Conn that
// performs the client handshake, requesting a CONNECT to target, on first
// use.
func (cl *Client) Dial(raw net.Conn, target address.Addr) *Conn {
	c := &Conn{Conn: raw, br: newBufReader(raw), target: target}
	c.handshakeFn = func(ctx context.Context) error {
		return cl.handshake(ctx, c)
	}
	return c
}

func (cl *Client) handshake(ctx context.Context, c *Conn) error {
	methods := []byte{MethodNoAuth}
	if cl.Creds != nil {
		methods = []byte{MethodUserPass}
	}
	greeting := append([]byte{Version, byte(len(methods))}, methods...)
	if _, err := c.Conn.Write(greeting); err != nil {
		return err
	}

	reply, err := readN(ctx, c.br, 2)
	if err != nil {
		return perr.Wrap(perr.KindInvalidFrame, err)
	}
	if reply[0] != Version {
		return perr.Wrap(perr.KindProtocolViolation, ErrUnsupportedVersion)
	}
	switch reply[1] {
	case MethodNoAuth:
	case MethodUserPass:
		if cl.Creds == nil {
			return perr.Wrap(perr.KindAuthenticationFailed, ErrNoAcceptableMethod)
		}
		if err := cl.sendUserPass(ctx, c); err != nil {
			return err
		}
	default:
		return perr.Wrap(perr.KindAuthenticationFailed, ErrNoAcceptableMethod)
	}

	req := append([]byte{Version, CmdConnect, 0x00}, c.target.Bytes()...)
	if _, err := c.Conn.Write(req); err != nil {
		return err
	}

	head, err := readN(ctx, c.br, 3)
	if err != nil {
		return perr.Wrap(perr.KindInvalidFrame, err)
	}
	if head[0] != Version {
		return perr.Wrap(perr.KindProtocolViolation, ErrUnsupportedVersion)
	}
	if head[1] != ReplySucceeded {
		return perr.Wrap(perr.KindUpstreamUnavailable, ErrServerRefused)
	}
	if _, err := address.ReadFrom(ctxReader{ctx, c.br}); err != nil {
		return perr.Wrap(perr.KindInvalidFrame, err)
	}

	c.isReady.Store(true)
	return nil
}

func (cl *Client) sendUserPass(ctx context.Context, c *Conn) error {
	buf := []byte{authVersion, byte(len(cl.Creds.Username))}
	buf = append(buf, cl.Creds.Username...)
	buf = append(buf, byte(len(cl.Creds.Password)))
	buf = append(buf, cl.Creds.Password...)
	if _, err := c.Conn.Write(buf); err != nil {
		return err
	}
	status, err := readN(ctx, c.br, 2)
	if err != nil {
		return perr.Wrap(perr.KindInvalidFrame, err)
	}
	if status[0] != authVersion || status[1] != 0x00 {
		return perr.Wrap(perr.KindAuthenticationFailed, ErrAuthFailed)
	}
	return nil
}
