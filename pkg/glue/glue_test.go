package glue

import (
	"io"
	"net"
	"testing"
	"time"
)

func TestRelayCopiesBothDirections(t *testing.T) {
	inboundNear, inboundFar := net.Pipe()
	outboundNear, outboundFar := net.Pipe()
	defer inboundNear.Close()
	defer outboundNear.Close()

	done := make(chan error, 1)
	go func() { done <- Relay(inboundFar, outboundFar) }()

	if _, err := inboundNear.Write([]byte("ping")); err != nil {
		t.Fatalf("write inbound: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(outboundNear, buf); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	if string(buf) != "ping" {
		t.Fatalf("got %q, want ping", buf)
	}

	if _, err := outboundNear.Write([]byte("pong")); err != nil {
		t.Fatalf("write outbound: %v", err)
	}
	if _, err := io.ReadFull(inboundNear, buf); err != nil {
		t.Fatalf("read inbound: %v", err)
	}
	if string(buf) != "pong" {
		t.Fatalf("got %q, want pong", buf)
	}

	inboundNear.Close()
	outboundNear.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Relay did not return after both ends closed")
	}
}

func TestRelayClosingOneSideUnblocksTheOther(t *testing.T) {
	inboundNear, inboundFar := net.Pipe()
	outboundNear, outboundFar := net.Pipe()
	defer outboundNear.Close()

	done := make(chan error, 1)
	go func() { done <- Relay(inboundFar, outboundFar) }()

	inboundNear.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Relay did not return after one side closed")
	}

	// The outbound-facing half should observe the teardown too (either a
	// read error or EOF), not hang forever.
	outboundNear.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := outboundNear.Read(make([]byte, 1)); err == nil {
		t.Fatal("expected outbound side to observe teardown")
	}
}
