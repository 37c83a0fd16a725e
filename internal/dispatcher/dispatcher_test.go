package dispatcher

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/socks5"
)

func TestAcceptClassifiesSOCKS5(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	d := NewServer(socks5.NewServer(socks5.ServerConfig{}))
	type result struct {
		inbound Inbound
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		in, err := d.Accept(context.Background(), serverRaw)
		resCh <- result{in, err}
	}()

	cl := socks5.NewClient(nil)
	cc := cl.Dial(clientRaw, address.DomainPort("example.com", 443))
	handshakeErr := make(chan error, 1)
	go func() { handshakeErr <- cc.Handshake() }()

	res := <-resCh
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	if !res.inbound.IsSOCKS5 {
		t.Fatal("expected IsSOCKS5 true")
	}
	if res.inbound.Target.Domain != "example.com" {
		t.Fatalf("got target %+v, want example.com", res.inbound.Target)
	}

	if err := res.inbound.Finish(socks5.ReplySucceeded); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if err := <-handshakeErr; err != nil {
		t.Fatalf("client handshake: %v", err)
	}
}

func TestAcceptClassifiesHTTPConnect(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	d := NewServer(socks5.NewServer(socks5.ServerConfig{}))
	type result struct {
		inbound Inbound
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		in, err := d.Accept(context.Background(), serverRaw)
		resCh <- result{in, err}
	}()

	go func() {
		clientRaw.Write([]byte("CONNECT example.com:443 HTTP/1.1\r\nHost: example.com:443\r\n\r\n"))
	}()

	// ServeConnect writes its 200 before Accept returns, and net.Pipe
	// writes block until read, so the response is read concurrently.
	type respResult struct {
		resp *http.Response
		err  error
	}
	respCh := make(chan respResult, 1)
	go func() {
		clientRaw.SetReadDeadline(time.Now().Add(time.Second))
		resp, err := http.ReadResponse(bufio.NewReader(clientRaw), nil)
		respCh <- respResult{resp, err}
	}()

	res := <-resCh
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	if res.inbound.IsSOCKS5 {
		t.Fatal("expected IsSOCKS5 false")
	}
	if res.inbound.Target.Domain != "example.com" || res.inbound.Target.Port != 443 {
		t.Fatalf("got target %+v, want example.com:443", res.inbound.Target)
	}

	rr := <-respCh
	if rr.err != nil {
		t.Fatalf("read CONNECT response: %v", rr.err)
	}
	if rr.resp.StatusCode != 200 {
		t.Fatalf("got status %d, want 200", rr.resp.StatusCode)
	}
	if err := res.inbound.Finish(0); err != nil {
		t.Fatalf("Finish should be a no-op for HTTP: %v", err)
	}
}

func TestAcceptFallsBackToPlainHTTP(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	d := NewServer(socks5.NewServer(socks5.ServerConfig{}))
	type result struct {
		inbound Inbound
		err     error
	}
	resCh := make(chan result, 1)
	go func() {
		in, err := d.Accept(context.Background(), serverRaw)
		resCh <- result{in, err}
	}()

	go func() {
		clientRaw.Write([]byte("GET http://example.com/index.html HTTP/1.1\r\nHost: example.com\r\nProxy-Connection: keep-alive\r\n\r\n"))
	}()

	res := <-resCh
	if res.err != nil {
		t.Fatalf("Accept: %v", res.err)
	}
	if res.inbound.IsSOCKS5 {
		t.Fatal("expected IsSOCKS5 false")
	}
	if res.inbound.Target.Domain != "example.com" || res.inbound.Target.Port != 80 {
		t.Fatalf("got target %+v, want example.com:80", res.inbound.Target)
	}
	if len(res.inbound.Prelude) == 0 {
		t.Fatal("expected a non-empty re-serialized request prelude")
	}
	if bytes.Contains(res.inbound.Prelude, []byte("Proxy-Connection")) {
		t.Fatal("expected hop-by-hop Proxy-Connection header to be stripped")
	}
	if !bytes.HasPrefix(res.inbound.Prelude, []byte("GET /index.html HTTP/1.1\r\n")) {
		t.Fatalf("expected origin-form request line, got %q", res.inbound.Prelude[:min(40, len(res.inbound.Prelude))])
	}
}

func TestAcceptRejectsUnknownFirstByte(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	d := NewServer(socks5.NewServer(socks5.ServerConfig{}))
	errCh := make(chan error, 1)
	go func() {
		_, err := d.Accept(context.Background(), serverRaw)
		errCh <- err
	}()

	go func() { clientRaw.Write([]byte{0x01}) }()

	if err := <-errCh; err == nil {
		t.Fatal("expected ErrUnknownProtocol for an unrecognized first byte")
	}
}
