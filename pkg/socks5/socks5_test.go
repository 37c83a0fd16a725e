package socks5

import (
	"context"
	"net"
	"syscall"
	"testing"

	"github.com/arashdev/simorgh/pkg/address"
)

func TestClientServerHappyPath(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	srv := NewServer(ServerConfig{})
	var sc *Conn
	var srvErr error
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		sc = srv.Accept(serverRaw)
		srvErr = sc.Handshake()
	}()

	cl := NewClient(nil)
	cc := cl.Dial(clientRaw, address.DomainPort("example.com", 80))
	if err := cc.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	<-serverDone
	if srvErr != nil {
		t.Fatalf("server handshake: %v", srvErr)
	}

	target, err := sc.Target()
	if err != nil {
		t.Fatalf("Target: %v", err)
	}
	if target.Domain != "example.com" || target.Port != 80 {
		t.Fatalf("got target %+v, want example.com:80", target)
	}
}

func TestServerNegotiateDefersReply(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	srv := NewServer(ServerConfig{})
	negotiated := make(chan address.Addr, 1)
	finishErr := make(chan error, 1)
	go func() {
		sc, target, err := srv.Negotiate(context.Background(), serverRaw)
		if err != nil {
			negotiated <- address.Addr{}
			finishErr <- err
			return
		}
		negotiated <- target
		finishErr <- srv.Finish(sc, ReplyHostUnreachable)
	}()

	cl := NewClient(nil)
	cc := cl.Dial(clientRaw, address.DomainPort("example.com", 80))
	handshakeErr := make(chan error, 1)
	go func() { handshakeErr <- cc.Handshake() }()

	target := <-negotiated
	if target.Domain != "example.com" || target.Port != 80 {
		t.Fatalf("got target %+v, want example.com:80", target)
	}

	if err := <-finishErr; err == nil {
		t.Fatal("expected Finish to report the failure reply as an error")
	}
	if err := <-handshakeErr; err == nil {
		t.Fatal("expected client handshake to fail on a non-success reply")
	}
}

func TestReplyForError(t *testing.T) {
	if got := ReplyForError(nil); got != ReplySucceeded {
		t.Fatalf("nil error: got reply %d, want ReplySucceeded", got)
	}
	if got := ReplyForError(syscall.ECONNREFUSED); got != ReplyConnectionRefused {
		t.Fatalf("ECONNREFUSED: got reply %d, want ReplyConnectionRefused", got)
	}
	if got := ReplyForError(context.DeadlineExceeded); got != ReplyTTLExpired {
		t.Fatalf("DeadlineExceeded: got reply %d, want ReplyTTLExpired", got)
	}
}

func TestServerRejectsUnsupportedVersion(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	srv := NewServer(ServerConfig{})
	done := make(chan error, 1)
	go func() {
		sc := srv.Accept(serverRaw)
		done <- sc.Handshake()
	}()

	go func() {
		clientRaw.Write([]byte{0x04, 0x01, MethodNoAuth})
	}()

	if err := <-done; err == nil {
		t.Fatal("expected handshake error for bad version")
	}
}
