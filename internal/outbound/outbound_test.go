package outbound

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/perr"
	"github.com/arashdev/simorgh/pkg/policy"
)

func TestLayerUnsupportedKind(t *testing.T) {
	raw, peer := net.Pipe()
	defer raw.Close()
	defer peer.Close()

	c := New(0)
	cfg := &policy.ProxyConfig{Kind: "carrier-pigeon"}
	_, err := c.layer(context.Background(), raw, cfg, address.DomainPort("example.com", 80))
	if err == nil {
		t.Fatal("expected an error for an unrecognized proxy kind")
	}
	if perr.KindOf(err) != perr.KindProtocolViolation {
		t.Fatalf("got perr kind %v, want KindProtocolViolation", perr.KindOf(err))
	}
}

func TestLayerShadowsocksWrapsConnWithoutDialing(t *testing.T) {
	raw, peer := net.Pipe()
	defer raw.Close()
	defer peer.Close()

	c := New(0)
	cfg := &policy.ProxyConfig{Kind: "shadowsocks", Algorithm: "aes-128-gcm", Password: "hunter2"}
	conn, err := c.layer(context.Background(), raw, cfg, address.DomainPort("example.com", 80))
	if err != nil {
		t.Fatalf("layer: %v", err)
	}
	if conn == nil {
		t.Fatal("expected a non-nil wrapped conn")
	}
}

func TestDialTimeoutDefault(t *testing.T) {
	c := New(0)
	if c.DialTimeout != 10*time.Second {
		t.Fatalf("got default DialTimeout %v, want 10s", c.DialTimeout)
	}
}

func TestHelloIDFallsBackToChrome(t *testing.T) {
	if helloID("unknown-browser").Client != "Chrome" {
		t.Fatalf("got client %q, want Chrome for unrecognized fingerprint name", helloID("unknown-browser").Client)
	}
	if helloID("firefox").Client != "Firefox" {
		t.Fatalf("got client %q, want Firefox", helloID("firefox").Client)
	}
}
