package address

import (
	"bytes"
	"net"
	"testing"
)

func TestDomainPortRoundTrip(t *testing.T) {
	a := DomainPort("swift.org", 443)
	want := []byte{0x03, 0x09, 's', 'w', 'i', 'f', 't', '.', 'o', 'r', 'g', 0x01, 0xBB}
	got := a.Bytes()
	if !bytes.Equal(got, want) {
		t.Fatalf("Bytes() = % x, want % x", got, want)
	}
	if a.Size() != len(want) {
		t.Fatalf("Size() = %d, want %d", a.Size(), len(want))
	}

	back, err := ReadFrom(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if back.Domain != a.Domain || back.Port != a.Port {
		t.Fatalf("round trip mismatch: got %+v, want %+v", back, a)
	}
}

func TestIPv4RoundTrip(t *testing.T) {
	a := IPPort(net.ParseIP("192.168.1.1").To4(), 80)
	got := a.Bytes()
	if got[0] != AtypIPv4 {
		t.Fatalf("atyp = %#x, want AtypIPv4", got[0])
	}
	back, err := ReadFrom(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if !back.IP.Equal(a.IP) || back.Port != a.Port {
		t.Fatalf("round trip mismatch: got %+v, want %+v", back, a)
	}
}

func TestIPv6RoundTrip(t *testing.T) {
	ip := net.ParseIP("2001:db8::1")
	a := IPPort(ip, 8443)
	got := a.Bytes()
	if got[0] != AtypIPv6 {
		t.Fatalf("atyp = %#x, want AtypIPv6", got[0])
	}
	back, err := ReadFrom(bytes.NewReader(got))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if !back.IP.Equal(ip) {
		t.Fatalf("round trip mismatch: got %v, want %v", back.IP, ip)
	}
}

func TestReadFromUnsupportedAtyp(t *testing.T) {
	_, err := ReadFrom(bytes.NewReader([]byte{0x7f, 0, 0}))
	if err == nil {
		t.Fatal("expected error for unsupported atyp")
	}
}
