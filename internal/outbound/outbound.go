// Package outbound opens the upstream half of a proxied connection: a TCP
// dial to the configured proxy server, an optional TLS leg (stdlib or
// uTLS fingerprint-camouflaged), and installation of the matching
// protocol codec pair from pkg/shadowsocks, pkg/vmess, pkg/trojan or
// pkg/socks5, or a plain passthrough for kind "http" operating as a
// tunnel.
package outbound

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	utls "github.com/refraction-networking/utls"
	"github.com/google/uuid"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/httpconnect"
	"github.com/arashdev/simorgh/pkg/perr"
	"github.com/arashdev/simorgh/pkg/policy"
	"github.com/arashdev/simorgh/pkg/shadowsocks"
	"github.com/arashdev/simorgh/pkg/socks5"
	"github.com/arashdev/simorgh/pkg/trojan"
	"github.com/arashdev/simorgh/pkg/vmess"
)

// ErrUnsupportedKind is returned for a policy.ProxyConfig.Kind this
// connector does not know how to dial.
var ErrUnsupportedKind = errors.New("outbound: unsupported proxy kind")

// Connector dials and layers the outbound half-connection for a resolved
// policy.ProxyConfig.
type Connector struct {
	// DialTimeout bounds the initial TCP dial. Zero selects 10s, the
	// teacher's internal/config default for server.Timeout.DialTimeout.
	DialTimeout time.Duration
}

// New constructs a Connector. dialTimeout <= 0 selects the 10s default.
func New(dialTimeout time.Duration) *Connector {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &Connector{DialTimeout: dialTimeout}
}

// Dial opens and fully negotiates the outbound connection described by
// cfg, tunneling to target. The returned net.Conn is ready for plain
// bidirectional byte forwarding by pkg/glue.
func (c *Connector) Dial(ctx context.Context, cfg *policy.ProxyConfig, target address.Addr) (net.Conn, error) {
	raw, err := c.dialTCP(ctx, net.JoinHostPort(cfg.Server, fmt.Sprint(cfg.Port)))
	if err != nil {
		return nil, perr.Wrap(perr.KindUpstreamUnavailable, err)
	}

	conn, err := c.layer(ctx, raw, cfg, target)
	if err != nil {
		raw.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Connector) dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	defer cancel()
	d := net.Dialer{}
	return d.DialContext(ctx, "tcp", addr)
}

func (c *Connector) layer(ctx context.Context, raw net.Conn, cfg *policy.ProxyConfig, target address.Addr) (net.Conn, error) {
	switch cfg.Kind {
	case "shadowsocks":
		return shadowsocks.NewConn(raw, cfg.Algorithm, cfg.Password, true, target)
	case "trojan":
		tlsConn, err := c.dialTLS(ctx, raw, cfg)
		if err != nil {
			return nil, err
		}
		return trojan.NewConn(tlsConn, cfg.Password, target), nil
	case "vmess":
		return c.dialVMESS(ctx, raw, cfg, target)
	case "socks5":
		conn, err := c.maybeTLS(ctx, raw, cfg)
		if err != nil {
			return nil, err
		}
		var creds *socks5.Credentials
		if cfg.Username != "" {
			creds = &socks5.Credentials{Username: cfg.Username, Password: cfg.Password}
		}
		client := socks5.NewClient(creds)
		c5 := client.Dial(conn, target)
		if err := c5.HandshakeContext(ctx); err != nil {
			return nil, err
		}
		return c5, nil
	case "http":
		conn, err := c.maybeTLS(ctx, raw, cfg)
		if err != nil {
			return nil, err
		}
		var auth *httpconnect.BasicAuth
		if cfg.Username != "" {
			auth = &httpconnect.BasicAuth{Username: cfg.Username, Password: cfg.Password}
		}
		if err := httpconnect.DialConnect(ctx, conn, target, auth); err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, perr.Wrap(perr.KindProtocolViolation, fmt.Errorf("%w: %s", ErrUnsupportedKind, cfg.Kind))
	}
}

func (c *Connector) dialVMESS(ctx context.Context, raw net.Conn, cfg *policy.ProxyConfig, target address.Addr) (net.Conn, error) {
	conn := raw
	if cfg.TLS {
		tlsConn, err := c.dialTLS(ctx, raw, cfg)
		if err != nil {
			return nil, err
		}
		conn = tlsConn
	}
	if cfg.Transport == "ws" {
		raw.Close()
		wsAddr := net.JoinHostPort(cfg.Server, fmt.Sprint(cfg.Port))
		var tlsCfg *tls.Config
		if cfg.TLS {
			tlsCfg = c.tlsConfig(cfg)
		}
		wsConn, err := vmess.DialWebsocket(ctx, wsAddr, cfg.WSPath, tlsCfg)
		if err != nil {
			return nil, perr.Wrap(perr.KindUpstreamUnavailable, err)
		}
		conn = wsConn
	}

	id, err := uuid.Parse(cfg.UUID)
	if err != nil {
		return nil, perr.Wrap(perr.KindProtocolViolation, fmt.Errorf("vmess: invalid uuid: %w", err))
	}
	opts := vmess.RequestOptions{
		ID:       id,
		Security: securityByte(cfg.Algorithm),
		Target:   target,
	}
	return vmess.NewClientConn(conn, opts), nil
}

func securityByte(algorithm string) byte {
	switch algorithm {
	case "chacha20-poly1305":
		return vmess.SecurityChacha20Poly1305
	case "none", "zero":
		return vmess.SecurityNone
	default:
		return vmess.SecurityAES128GCM
	}
}

// maybeTLS wraps raw in TLS only when cfg requests it (socks5/http's
// over-tls option); otherwise returns raw unchanged.
func (c *Connector) maybeTLS(ctx context.Context, raw net.Conn, cfg *policy.ProxyConfig) (net.Conn, error) {
	if !cfg.TLS {
		return raw, nil
	}
	return c.dialTLS(ctx, raw, cfg)
}

// dialTLS performs the TLS client handshake over raw. When cfg.Fingerprint
// names a uTLS client-hello preset, the handshake is camouflaged with
// refraction-networking/utls (pulled in for exactly this, per SPEC_FULL.md
// §4.10); otherwise it uses the stdlib crypto/tls client, which is all
// trojan/vmess/https-CONNECT need when fingerprint resistance isn't
// requested.
func (c *Connector) dialTLS(ctx context.Context, raw net.Conn, cfg *policy.ProxyConfig) (net.Conn, error) {
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = cfg.Server
	}

	if cfg.Fingerprint != "" {
		uconn := utls.UClient(raw, &utls.Config{ServerName: serverName, InsecureSkipVerify: cfg.SkipVerify}, helloID(cfg.Fingerprint))
		if err := uconn.HandshakeContext(ctx); err != nil {
			return nil, perr.Wrap(perr.KindUpstreamUnavailable, fmt.Errorf("uTLS handshake: %w", err))
		}
		return uconn, nil
	}

	tlsConn := tls.Client(raw, c.tlsConfig(cfg))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, perr.Wrap(perr.KindUpstreamUnavailable, fmt.Errorf("TLS handshake: %w", err))
	}
	return tlsConn, nil
}

func (c *Connector) tlsConfig(cfg *policy.ProxyConfig) *tls.Config {
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = cfg.Server
	}
	return &tls.Config{ServerName: serverName, InsecureSkipVerify: cfg.SkipVerify}
}

// helloID maps a configured fingerprint name to a uTLS ClientHelloID
// preset. Unknown names fall back to HelloChrome_Auto, uTLS's own
// default camouflage target.
func helloID(name string) utls.ClientHelloID {
	switch name {
	case "firefox":
		return utls.HelloFirefox_Auto
	case "safari":
		return utls.HelloSafari_Auto
	case "ios":
		return utls.HelloIOS_Auto
	case "edge":
		return utls.HelloEdge_Auto
	case "randomized":
		return utls.HelloRandomized
	default:
		return utls.HelloChrome_Auto
	}
}
