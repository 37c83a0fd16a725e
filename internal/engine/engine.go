// Package engine wires internal/dispatcher, internal/ruleengine,
// internal/outbound and pkg/glue into a runnable server: accept a raw
// connection, classify and negotiate its inbound protocol, resolve a
// routing policy.Policy for its destination, open the matching outbound
// half, and relay bytes between the two.
//
// The accept-loop / goroutine-per-connection shape follows the teacher's
// internal/server.Server.Start/handleConnection exactly; what's new is the
// policy-driven branch (direct/reject/proxy) the teacher never had since
// Gordafarid only ever tunneled through itself.
package engine

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"time"

	"github.com/arashdev/simorgh/internal/dispatcher"
	"github.com/arashdev/simorgh/internal/logger"
	"github.com/arashdev/simorgh/internal/mitm"
	"github.com/arashdev/simorgh/internal/outbound"
	"github.com/arashdev/simorgh/internal/ruleengine"
	"github.com/arashdev/simorgh/pkg/glue"
	"github.com/arashdev/simorgh/pkg/policy"
	"github.com/arashdev/simorgh/pkg/socks5"
)

var ErrListenerNotConfigured = errors.New("engine: neither socks5 nor http listen address configured")

// Config collects the addresses and collaborators Engine needs. At least
// one of Socks5Addr/HTTPAddr must be non-empty.
type Config struct {
	Socks5Addr string
	HTTPAddr   string

	Rules    *ruleengine.Engine
	Outbound *outbound.Connector
	Mitm     *mitm.Interceptor // nil disables MitM interception entirely

	// DirectDialTimeout bounds a policy.KindDirect dial. Zero selects 10s.
	DirectDialTimeout time.Duration
}

// Engine listens on the configured addresses and proxies every accepted
// connection according to Rules' resolved policy.
type Engine struct {
	cfg        Config
	dispatcher *dispatcher.Server
}

// New constructs an Engine. socks5Server configures inbound SOCKS5
// authentication (nil for no-auth); pass the same *socks5.Server the
// caller otherwise would have handed to dispatcher.NewServer directly.
func New(cfg Config, socks5Server *socks5.Server) *Engine {
	if cfg.DirectDialTimeout <= 0 {
		cfg.DirectDialTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:        cfg,
		dispatcher: dispatcher.NewServer(socks5Server),
	}
}

// Run starts both configured listeners and blocks until ctx is cancelled
// or a listener fails to start. Accepted connections are handled on their
// own goroutine and are not waited on; Run returns as soon as both
// listeners are torn down.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.Socks5Addr == "" && e.cfg.HTTPAddr == "" {
		return ErrListenerNotConfigured
	}

	errCh := make(chan error, 2)
	var listeners []net.Listener

	if e.cfg.Socks5Addr != "" {
		ln, err := net.Listen("tcp", e.cfg.Socks5Addr)
		if err != nil {
			return err
		}
		listeners = append(listeners, ln)
		logger.Info("SOCKS5 listening on:", e.cfg.Socks5Addr)
		go e.acceptLoop(ctx, ln, errCh)
	}
	if e.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", e.cfg.HTTPAddr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return err
		}
		listeners = append(listeners, ln)
		logger.Info("HTTP listening on:", e.cfg.HTTPAddr)
		go e.acceptLoop(ctx, ln, errCh)
	}

	select {
	case <-ctx.Done():
		for _, l := range listeners {
			l.Close()
		}
		return ctx.Err()
	case err := <-errCh:
		for _, l := range listeners {
			l.Close()
		}
		return err
	}
}

func (e *Engine) acceptLoop(ctx context.Context, ln net.Listener, errCh chan<- error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errCh <- err
			return
		}
		logger.Info("Accepted connection from:", conn.RemoteAddr())
		go e.handleConnection(ctx, conn)
	}
}

func (e *Engine) handleConnection(ctx context.Context, raw net.Conn) {
	defer raw.Close()

	inbound, err := e.dispatcher.Accept(ctx, raw)
	if err != nil {
		logger.Warn("inbound handshake failed:", err)
		return
	}

	p := e.cfg.Rules.Resolve(inbound.Target)

	switch p.Kind {
	case policy.KindReject:
		e.finish(inbound, socks5.ReplyConnectionRefused)
		return
	case policy.KindDirect:
		e.proxyDirect(ctx, inbound)
		return
	default:
		e.proxyVia(ctx, inbound, p.Proxy)
	}
}

func (e *Engine) proxyDirect(ctx context.Context, inbound dispatcher.Inbound) {
	if e.maybeMitm(inbound) {
		return
	}

	dctx, cancel := context.WithTimeout(ctx, e.cfg.DirectDialTimeout)
	defer cancel()
	d := net.Dialer{}
	upstream, err := d.DialContext(dctx, "tcp", inbound.Target.String())
	if e.finish(inbound, socks5.ReplyForError(err)) != nil {
		return
	}
	if err != nil {
		logger.Warn("direct dial failed:", err)
		return
	}
	defer upstream.Close()

	if err := writePrelude(upstream, inbound.Prelude); err != nil {
		logger.Warn("writing HTTP prelude upstream failed:", err)
		return
	}

	logger.Debug("proxying (direct) to:", inbound.Target.String())
	if err := glue.Relay(inbound.Conn, upstream); err != nil {
		logger.Error(err)
	}
}

func (e *Engine) proxyVia(ctx context.Context, inbound dispatcher.Inbound, cfg *policy.ProxyConfig) {
	upstream, err := e.cfg.Outbound.Dial(ctx, cfg, inbound.Target)
	if e.finish(inbound, socks5.ReplyForError(err)) != nil {
		return
	}
	if err != nil {
		logger.Warn("outbound dial failed:", err)
		return
	}
	defer upstream.Close()

	if err := writePrelude(upstream, inbound.Prelude); err != nil {
		logger.Warn("writing HTTP prelude upstream failed:", err)
		return
	}

	logger.Debug("proxying (via", cfg.Name, ") to:", inbound.Target.String())
	if err := glue.Relay(inbound.Conn, upstream); err != nil {
		logger.Error(err)
	}
}

// writePrelude writes a plain (non-CONNECT) HTTP request's re-serialized
// bytes to upstream before relaying begins. A nil/empty prelude (SOCKS5 or
// CONNECT tunnels) is a no-op.
func writePrelude(upstream net.Conn, prelude []byte) error {
	if len(prelude) == 0 {
		return nil
	}
	_, err := upstream.Write(prelude)
	return err
}

// maybeMitm intercepts inbound when it is an HTTP CONNECT tunnel to a host
// covered by the configured MitM pattern list, terminating TLS on the
// client side and re-establishing it to the real target on the server
// side, then relaying the decrypted bytes. It reports whether it handled
// (and closed) the connection.
func (e *Engine) maybeMitm(inbound dispatcher.Inbound) bool {
	if inbound.IsSOCKS5 || inbound.Prelude != nil || e.cfg.Mitm == nil || !e.cfg.Mitm.ShouldIntercept(inbound.Target.Domain) {
		return false
	}

	clientConn, err := e.cfg.Mitm.Intercept(inbound.Conn, inbound.Target.Domain)
	if err != nil {
		logger.Warn("mitm intercept failed:", err)
		return true
	}
	defer clientConn.Close()

	serverConn, err := tls.Dial("tcp", inbound.Target.String(), &tls.Config{ServerName: inbound.Target.Domain})
	if err != nil {
		logger.Warn("mitm upstream dial failed:", err)
		return true
	}
	defer serverConn.Close()

	logger.Debug("mitm proxying:", inbound.Target.Domain)
	if err := glue.Relay(clientConn, serverConn); err != nil {
		logger.Error(err)
	}
	return true
}

// finish reports the dial outcome rep back to the inbound peer. It returns
// the error Finish produced, if any (a non-success SOCKS5 reply always
// errors, signalling the caller to stop); HTTP CONNECT's Finish is a no-op
// that never errors.
func (e *Engine) finish(inbound dispatcher.Inbound, rep byte) error {
	if err := inbound.Finish(rep); err != nil {
		return err
	}
	return nil
}
