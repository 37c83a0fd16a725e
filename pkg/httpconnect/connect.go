// Package httpconnect implements the HTTP CONNECT proxy handshake (both
// client and server sides) and, in certpool.go, the MitM leaf-certificate
// pool used to intercept the TLS connection CONNECT establishes.
//
// The client wrapper follows the teacher's net.Conn-embedding Conn
// pattern once more, but CONNECT's handshake is pure request/response
// text, not a binary state machine, so there is no header.go here --
// the "header" is just an HTTP/1.1 request line plus a blank line,
// built directly.
package httpconnect

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/textproto"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/perr"
)

var (
	ErrConnectRefused  = errors.New("httpconnect: upstream refused CONNECT")
	ErrNotConnect      = errors.New("httpconnect: request method is not CONNECT")
	ErrMalformedStatus = errors.New("httpconnect: malformed status line")
)

// BasicAuth carries RFC 7617 "Proxy-Authorization: Basic" credentials for
// DialConnect, per spec.md §6's http proxy username/password option.
type BasicAuth struct {
	Username string
	Password string
}

// DialConnect performs the client side of an HTTP CONNECT handshake over
// raw (already dialed to the proxy) and returns raw unchanged once the
// tunnel is established -- CONNECT, unlike SOCKS5/VMESS/Trojan, carries no
// further per-byte framing once the tunnel opens. auth is optional; pass
// nil for an unauthenticated proxy.
func DialConnect(ctx context.Context, raw net.Conn, target address.Addr, auth *BasicAuth) error {
	req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\n", target.String())
	if auth != nil {
		token := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		req += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", token)
	}
	req += "\r\n"

	done := make(chan error, 1)
	go func() {
		if _, err := raw.Write([]byte(req)); err != nil {
			done <- err
			return
		}
		br := bufio.NewReader(raw)
		line, err := readLine(br)
		if err != nil {
			done <- perr.Wrap(perr.KindInvalidFrame, err)
			return
		}
		if !isSuccessStatusLine(line) {
			done <- perr.Wrap(perr.KindUpstreamUnavailable, fmt.Errorf("%w: %q", ErrConnectRefused, line))
			return
		}
		// drain the blank line terminating the response headers.
		for {
			l, err := readLine(br)
			if err != nil {
				done <- perr.Wrap(perr.KindInvalidFrame, err)
				return
			}
			if l == "" {
				break
			}
		}
		done <- nil
	}()

	select {
	case <-ctx.Done():
		return perr.Wrap(perr.KindCancelled, ctx.Err())
	case err := <-done:
		return err
	}
}

func isSuccessStatusLine(line string) bool {
	// "HTTP/1.1 200 Connection established" or "HTTP/1.1 200 OK"
	return len(line) >= len("HTTP/1.1 200") && line[9:12] == "200"
}

func readLine(br *bufio.Reader) (string, error) {
	tp := textproto.NewReader(br)
	return tp.ReadLine()
}

// ServeConnect reads an HTTP request line off raw and, if it is a CONNECT
// request, replies 200 and returns the requested target with no error. Any
// other method is reported via ErrNotConnect, carrying the parsed request
// so the caller (internal/dispatcher) can fall back to ServePlainHTTP.
func ServeConnect(raw net.Conn, br *bufio.Reader) (address.Addr, error) {
	req, err := http.ReadRequest(br)
	if err != nil {
		return address.Addr{}, perr.Wrap(perr.KindInvalidFrame, err)
	}
	if req.Method != http.MethodConnect {
		return address.Addr{}, &PlainRequestError{Request: req}
	}

	host, port, err := net.SplitHostPort(req.Host)
	if err != nil {
		return address.Addr{}, perr.Wrap(perr.KindProtocolViolation, err)
	}
	var portNum uint16
	if _, err := fmt.Sscanf(port, "%d", &portNum); err != nil {
		return address.Addr{}, perr.Wrap(perr.KindProtocolViolation, err)
	}

	if _, err := raw.Write([]byte("HTTP/1.1 200 OK\r\n\r\n")); err != nil {
		return address.Addr{}, err
	}
	return address.DomainPort(host, portNum), nil
}

// PlainRequestError is ServeConnect's result for a non-CONNECT request: an
// absolute-URI request meant to be forwarded upstream rather than
// tunneled, per spec.md §6's http proxy support and SPEC_FULL.md §4.9's
// plain-HTTP-proxying supplement. errors.As with a *PlainRequestError
// target (var p *PlainRequestError; errors.As(err, &p)) lets
// internal/dispatcher recover the parsed request without a second read.
type PlainRequestError struct {
	Request *http.Request
}

func (e *PlainRequestError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotConnect, e.Request.Method)
}

func (e *PlainRequestError) Unwrap() error { return ErrNotConnect }

// ServePlainHTTP resolves req's target (host:port, defaulting to :80) and
// re-serializes req with hop-by-hop proxy headers stripped, ready to be
// written verbatim to the dialed upstream connection before relaying its
// response back to raw.
func ServePlainHTTP(req *http.Request) (address.Addr, []byte, error) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	h, port, err := net.SplitHostPort(host)
	if err != nil {
		h, port = host, "80"
	}
	var portNum uint16
	if _, err := fmt.Sscanf(port, "%d", &portNum); err != nil {
		return address.Addr{}, nil, perr.Wrap(perr.KindProtocolViolation, err)
	}

	req.Header.Del("Proxy-Connection")
	req.Header.Del("Proxy-Authorization")
	req.RequestURI = ""
	if req.URL.Scheme != "" || req.URL.Host != "" {
		// net/http refuses to Write a request whose URL still carries an
		// absolute form; downstream servers expect the origin form.
		abs := *req.URL
		req.URL.Scheme, req.URL.Host = "", ""
		req.URL.Path = abs.Path
		if req.URL.Path == "" {
			req.URL.Path = "/"
		}
	}

	var buf bytes.Buffer
	if err := req.Write(&buf); err != nil {
		return address.Addr{}, nil, perr.Wrap(perr.KindInvalidFrame, err)
	}
	return address.DomainPort(h, portNum), buf.Bytes(), nil
}
