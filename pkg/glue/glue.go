// Package glue implements the half-duplex forwarder that joins an inbound
// and an outbound net.Conn once a handshake on both sides has completed.
//
// The teacher codebase's core/net/utils.DataTransfering spins exactly two
// goroutines per proxied connection, one per direction, and drains their
// errors on a shared channel, ignoring io.EOF. That outer shape is kept
// here as Relay. What's new is Pair: the teacher's two DataTransfering
// calls share no state and cannot coordinate a half-close, so a read error
// on one side only ever surfaces as a write error on the other once the
// kernel notices the peer is gone. Pair instead holds both sides, so when
// one direction's source is drained or fails it half-closes (or, for a
// conn without CloseWrite, closes) that direction's destination rather
// than waiting on TCP to notice.
package glue

import (
	"errors"
	"io"
	"net"
	"sync"
)

var ErrTransferFailed = errors.New("glue: data transfer failed between connections")

// halfCloser is implemented by *net.TCPConn and TLS-wrapped connections
// that support shutting down one direction without closing the socket.
type halfCloser interface {
	CloseWrite() error
}

// Pair joins two net.Conn halves of a proxied connection and relays bytes
// between them until both directions are done, each ending at EOF or an
// error. Pair owns neither Conn's lifetime beyond Run: callers remain
// responsible for eventually Close-ing both ends.
type Pair struct {
	mu         sync.Mutex
	Inbound    net.Conn
	Outbound   net.Conn
	BufferSize int
}

// NewPair constructs a Pair ready to Run. bufferSize <= 0 selects a 32KiB
// copy buffer, matching io.Copy's own default.
func NewPair(inbound, outbound net.Conn, bufferSize int) *Pair {
	return &Pair{Inbound: inbound, Outbound: outbound, BufferSize: bufferSize}
}

// Run relays bytes in both directions and returns once both directions
// have finished, each at EOF or on an error. It returns the non-EOF
// errors observed, if any, joined from whichever direction(s) failed.
func (p *Pair) Run() error {
	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(2)
	go p.copyDirection(&wg, errCh, p.Outbound, p.Inbound) // inbound -> outbound
	go p.copyDirection(&wg, errCh, p.Inbound, p.Outbound) // outbound -> inbound

	wg.Wait()
	close(errCh)

	var joined error
	for err := range errCh {
		joined = errors.Join(joined, err)
	}
	return joined
}

func (p *Pair) copyDirection(wg *sync.WaitGroup, errCh chan<- error, dst, src net.Conn) {
	defer wg.Done()

	buf := make([]byte, p.bufSize())
	_, err := io.CopyBuffer(dst, src, buf)
	p.halfClose(dst)

	if err != nil && !errors.Is(err, io.EOF) {
		errCh <- errors.Join(ErrTransferFailed, err)
	}
}

func (p *Pair) bufSize() int {
	if p.BufferSize <= 0 {
		return 32 * 1024
	}
	return p.BufferSize
}

// halfClose shuts down the write side of dst once its source is drained,
// so the peer observes EOF instead of hanging until the full Pair closes.
func (p *Pair) halfClose(dst net.Conn) {
	if hc, ok := dst.(halfCloser); ok {
		_ = hc.CloseWrite()
		return
	}
	_ = dst.Close()
}

// Relay is the free-standing equivalent of the teacher's DataTransfering
// for call sites (internal/engine) that just want "copy both ways, report
// errors" without constructing a Pair. Each destination is half-closed
// (or closed, when it has no CloseWrite) once its source is done; fully
// closing both conns is left to the caller.
func Relay(a, b net.Conn) error {
	return NewPair(a, b, 0).Run()
}
