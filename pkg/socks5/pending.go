package socks5

import "sync"

// PendingWriter buffers writes issued before a handshake completes and
// flushes them, in order, once the underlying connection is ready. It is
// a standalone helper: neither the SOCKS5 client Conn nor
// pkg/httpconnect's DialConnect uses it. The SOCKS5 Conn runs its whole
// handshake inside the first Read or Write, and DialConnect finishes the
// CONNECT exchange before it returns, so neither buffers early writes.
type PendingWriter struct {
	mu      sync.Mutex
	pending [][]byte
	ready   bool
	flush   func([]byte) (int, error)
}

// NewPendingWriter constructs a PendingWriter that flushes buffered writes
// through flushFn once Ready is called.
func NewPendingWriter(flushFn func([]byte) (int, error)) *PendingWriter {
	return &PendingWriter{flush: flushFn}
}

// Write buffers b if not yet Ready, otherwise flushes directly.
func (p *PendingWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return p.flush(b)
	}
	cp := append([]byte(nil), b...)
	p.pending = append(p.pending, cp)
	return len(b), nil
}

// Ready marks the writer ready and flushes any buffered writes, in order.
func (p *PendingWriter) Ready() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = true
	for _, b := range p.pending {
		if _, err := p.flush(b); err != nil {
			return err
		}
	}
	p.pending = nil
	return nil
}
