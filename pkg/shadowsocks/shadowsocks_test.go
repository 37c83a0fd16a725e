package shadowsocks

import (
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/arashdev/simorgh/pkg/address"
)

func pipeConns(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	return a, b
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	algos := map[string]string{
		"aes-128-gcm":       "0123456789abcdef",
		"aes-256-gcm":       "0123456789abcdef0123456789abcdef",
		"chacha20-poly1305": "0123456789abcdef0123456789abcdef",
	}
	for algo, password := range algos {
		t.Run(algo, func(t *testing.T) {
			serverRaw, clientRaw := pipeConns(t)
			defer serverRaw.Close()
			defer clientRaw.Close()

			target := address.DomainPort("example.com", 443)

			serverConn, err := NewConn(serverRaw, algo, password, false, address.Addr{})
			if err != nil {
				t.Fatalf("server NewConn: %v", err)
			}
			clientConn, err := NewConn(clientRaw, algo, password, true, target)
			if err != nil {
				t.Fatalf("client NewConn: %v", err)
			}

			msgs := [][]byte{{1, 2}, {3, 4}, {5}}
			go func() {
				for _, m := range msgs {
					if _, err := clientConn.Write(m); err != nil {
						return
					}
				}
			}()

			for _, want := range msgs {
				got := make([]byte, len(want))
				if _, err := io.ReadFull(serverConn, got); err != nil {
					t.Fatalf("read: %v", err)
				}
				if !bytes.Equal(got, want) {
					t.Fatalf("got %v, want %v", got, want)
				}
			}

			if serverConn.Target.Domain != target.Domain || serverConn.Target.Port != target.Port {
				t.Fatalf("server decoded target %+v, want %+v", serverConn.Target, target)
			}
		})
	}
}

func TestScenarioSeedPassword(t *testing.T) {
	const password = "BeMWIH2K5YtZ" // len=12, not a valid AES/ChaCha key size on its own;
	// EVP_BytesToKey stretches it to whatever keySize the algorithm needs.
	serverRaw, clientRaw := pipeConns(t)
	defer serverRaw.Close()
	defer clientRaw.Close()

	serverConn, err := NewConn(serverRaw, "aes-128-gcm", password, false, address.Addr{})
	if err != nil {
		t.Fatalf("server NewConn: %v", err)
	}
	clientConn, err := NewConn(clientRaw, "aes-128-gcm", password, true, address.DomainPort("swift.org", 443))
	if err != nil {
		t.Fatalf("client NewConn: %v", err)
	}

	writes := [][]byte{{1, 2}, {3, 4}, {5}}
	go func() {
		for _, w := range writes {
			clientConn.Write(w)
		}
	}()

	for _, want := range writes {
		got := make([]byte, len(want))
		if _, err := io.ReadFull(serverConn, got); err != nil {
			t.Fatalf("read: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// TestScenarioSeedAddressFrame checks the address frame a client seals
// after its salt and before any payload: the server's first Read decodes
// that frame into Target and hands back only the payload that follows.
func TestScenarioSeedAddressFrame(t *testing.T) {
	const algo, password = "aes-128-gcm", "0123456789abcdef"
	target := address.DomainPort("example.com", 443)

	serverRaw, clientRaw := pipeConns(t)
	defer serverRaw.Close()
	defer clientRaw.Close()

	serverConn, err := NewConn(serverRaw, algo, password, false, address.Addr{})
	if err != nil {
		t.Fatalf("server NewConn: %v", err)
	}
	clientConn, err := NewConn(clientRaw, algo, password, true, target)
	if err != nil {
		t.Fatalf("client NewConn: %v", err)
	}

	writeErr := make(chan error, 1)
	go func() {
		_, err := clientConn.Write([]byte("payload"))
		writeErr <- err
	}()

	// The first Read drains the address frame internally and returns
	// only the payload that follows it.
	got := make([]byte, len("payload"))
	if _, err := io.ReadFull(serverConn, got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := <-writeErr; err != nil {
		t.Fatalf("write: %v", err)
	}
	if !bytes.Equal(got, []byte("payload")) {
		t.Fatalf("got %q, want %q", got, "payload")
	}
	if serverConn.Target.Domain != target.Domain || serverConn.Target.Port != target.Port {
		t.Fatalf("decoded address frame %+v, want %+v", serverConn.Target, target)
	}
	if !serverConn.addrRead {
		t.Fatal("expected addrRead to be set after the leading address frame")
	}
}
