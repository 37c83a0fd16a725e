package vmess

import (
	"bytes"
	"encoding/hex"
	"io"
	"net"
	"testing"

	"github.com/google/uuid"

	"github.com/arashdev/simorgh/pkg/address"
)

func TestCmdKeyVector(t *testing.T) {
	id := uuid.MustParse("450bae28-b9da-67d0-16bc-4918dc8d79b5")
	got := CmdKey(id)
	want, _ := hex.DecodeString("da8b7df4396329ebe7a74afc62a9e7c8")
	if !bytes.Equal(got[:], want) {
		t.Fatalf("CmdKey = %x, want %x", got, want)
	}
}

func TestClientServerRoundTrip(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	id := uuid.New()
	target := address.DomainPort("swift.org", 443)

	clientConn := NewClientConn(clientRaw, RequestOptions{
		ID:       id,
		Security: SecurityAES128GCM,
		Target:   target,
	})
	serverConn := NewServerConn(serverRaw, id)

	want := []byte("hello vmess")
	errCh := make(chan error, 1)
	go func() {
		_, err := clientConn.Write(want)
		errCh <- err
	}()

	got := make([]byte, len(want))
	n, err := serverConn.Read(got)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("client write: %v", err)
	}
	if n != len(want) || !bytes.Equal(got[:n], want) {
		t.Fatalf("got %q, want %q", got[:n], want)
	}

	gotTarget := serverConn.opts.Target
	if gotTarget.Domain != target.Domain || gotTarget.Port != target.Port {
		t.Fatalf("target = %+v, want %+v", gotTarget, target)
	}
}

// TestOptionsRoundTripPropagateToServer pins the options bitset
// (AuthenticatedLength, GlobalPadding) all the way from the client's
// RequestOptions onto the wire and back into the server's decoded
// session/opts, so the two sides' chunk framing can't desync.
func TestOptionsRoundTripPropagateToServer(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	id := uuid.New()
	clientConn := NewClientConn(clientRaw, RequestOptions{
		ID:                  id,
		Security:            SecurityAES128GCM,
		Target:              address.DomainPort("swift.org", 443),
		AuthenticatedLength: true,
		GlobalPadding:       true,
	})
	serverConn := NewServerConn(serverRaw, id)

	want := []byte("masked and padded")
	errCh := make(chan error, 1)
	go func() {
		_, err := clientConn.Write(want)
		errCh <- err
	}()

	got := make([]byte, len(want))
	n, err := serverConn.Read(got)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("client write: %v", err)
	}
	if n != len(want) || !bytes.Equal(got[:n], want) {
		t.Fatalf("got %q, want %q", got[:n], want)
	}

	if !serverConn.opts.AuthenticatedLength || !serverConn.opts.GlobalPadding {
		t.Fatalf("server opts = %+v, want both AuthenticatedLength and GlobalPadding set", serverConn.opts)
	}
	if !serverConn.sess.authenticatedLength || !serverConn.sess.padding {
		t.Fatalf("server sess = %+v, want both authenticatedLength and padding set", serverConn.sess)
	}
}

// TestChunkMaskingRoundTrip exercises the chunk_masking-only length-field
// option (bit 0x04 set, 0x10 clear): the length field is XORed against a
// SHAKE128 mask stream rather than sealed with its own AEAD frame.
func TestChunkMaskingRoundTrip(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	id := uuid.New()
	clientConn := NewClientConn(clientRaw, RequestOptions{
		ID:           id,
		Security:     SecurityAES128GCM,
		Target:       address.DomainPort("swift.org", 443),
		ChunkMasking: true,
		GlobalPadding: true,
	})
	serverConn := NewServerConn(serverRaw, id)

	msgs := [][]byte{[]byte("first chunk"), []byte("second chunk, longer"), []byte("x")}
	errCh := make(chan error, 1)
	go func() {
		for _, m := range msgs {
			if _, err := clientConn.Write(m); err != nil {
				errCh <- err
				return
			}
		}
		errCh <- nil
	}()

	for _, want := range msgs {
		got := make([]byte, len(want))
		if _, err := io.ReadFull(serverConn, got); err != nil {
			t.Fatalf("server read: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
	if err := <-errCh; err != nil {
		t.Fatalf("client write: %v", err)
	}

	if !serverConn.sess.chunkMasking || !serverConn.sess.padding {
		t.Fatalf("server sess = %+v, want both chunkMasking and padding set", serverConn.sess)
	}
	if serverConn.sess.authenticatedLength {
		t.Fatal("expected authenticatedLength to stay false for a chunk-masking-only session")
	}
}

func TestResponseHeadRoundTrip(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	id := uuid.New()
	target := address.DomainPort("swift.org", 443)

	clientConn := NewClientConn(clientRaw, RequestOptions{
		ID:       id,
		Security: SecurityAES128GCM,
		Target:   target,
	})
	serverConn := NewServerConn(serverRaw, id)

	// Drive the request handshake first (client write, server read) so
	// both sides agree on responseV/responseBodyKey/IV before the
	// response direction is exercised.
	reqDone := make(chan error, 1)
	go func() { _, err := clientConn.Write([]byte("request")); reqDone <- err }()
	reqBuf := make([]byte, len("request"))
	if _, err := serverConn.Read(reqBuf); err != nil {
		t.Fatalf("server read request: %v", err)
	}
	if err := <-reqDone; err != nil {
		t.Fatalf("client write request: %v", err)
	}

	want := []byte("response payload")
	respDone := make(chan error, 1)
	go func() { _, err := serverConn.Write(want); respDone <- err }()

	got := make([]byte, len(want))
	n, err := clientConn.Read(got)
	if err != nil {
		t.Fatalf("client read response: %v", err)
	}
	if err := <-respDone; err != nil {
		t.Fatalf("server write response: %v", err)
	}
	if n != len(want) || !bytes.Equal(got[:n], want) {
		t.Fatalf("got %q, want %q", got[:n], want)
	}
}

func TestResponseHeadRejectsAuthCodeMismatch(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	defer serverRaw.Close()
	defer clientRaw.Close()

	id := uuid.New()
	clientConn := NewClientConn(clientRaw, RequestOptions{
		ID:       id,
		Security: SecurityAES128GCM,
		Target:   address.DomainPort("swift.org", 443),
	})
	serverConn := NewServerConn(serverRaw, id)

	reqDone := make(chan error, 1)
	go func() { _, err := clientConn.Write([]byte("request")); reqDone <- err }()
	reqBuf := make([]byte, len("request"))
	if _, err := serverConn.Read(reqBuf); err != nil {
		t.Fatalf("server read request: %v", err)
	}
	<-reqDone

	// Corrupt the echoed auth_code so the client's verification fails.
	serverConn.sess.responseV ^= 0xFF

	respDone := make(chan error, 1)
	go func() { _, err := serverConn.Write([]byte("x")); respDone <- err }()

	if _, err := clientConn.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected auth_code mismatch error")
	}
	// The client stops reading after the head, so the server's payload
	// chunk write can only return once the pipe is closed.
	clientRaw.Close()
	<-respDone
}
