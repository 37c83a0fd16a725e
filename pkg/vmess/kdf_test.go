package vmess

import (
	"encoding/hex"
	"testing"
)

func TestKDFProbeVector(t *testing.T) {
	got := KDF([]byte("Demo Key for KDF Value Test"),
		"Demo Path for KDF Value Test",
		"Demo Path for KDF Value Test2",
		"Demo Path for KDF Value Test3",
	)
	want, _ := hex.DecodeString("53e9d7e1bd7bd25022b71ead07d8a596efc8a845c7888652fd684b4903dc8892")
	if hex.EncodeToString(got) != hex.EncodeToString(want) {
		t.Fatalf("KDF = %x, want %x", got, want)
	}
}
