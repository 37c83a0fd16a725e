package shadowsocks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"errors"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// aeadConstructor mirrors the teacher's
// pkg/net/protocol/gordafarid/crypto/aead.aeadConstructor shape exactly;
// the supportedAEADs table below is the same table generalized to the
// algorithm names Shadowsocks uses on the wire.
type aeadConstructor func(key []byte) (cipher.AEAD, error)

type aeadMeta struct {
	KeySize     int
	SaltSize    int
	Constructor aeadConstructor
}

var supportedAEADs = map[string]aeadMeta{
	"aes-128-gcm":       {KeySize: 16, SaltSize: 16, Constructor: newAESGCM},
	"aes-192-gcm":       {KeySize: 24, SaltSize: 24, Constructor: newAESGCM},
	"aes-256-gcm":       {KeySize: 32, SaltSize: 32, Constructor: newAESGCM},
	"chacha20-poly1305": {KeySize: chacha20poly1305.KeySize, SaltSize: 32, Constructor: chacha20poly1305.New},
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

var ErrUnsupportedAlgorithm = errors.New("shadowsocks: unsupported AEAD algorithm")

// algorithmMeta looks up an algorithm by its config name, the way the
// teacher's aead.IsCryptoSupported/GetAlgorithmKeySize pair does.
func algorithmMeta(name string) (aeadMeta, error) {
	m, ok := supportedAEADs[name]
	if !ok {
		return aeadMeta{}, ErrUnsupportedAlgorithm
	}
	return m, nil
}

// evpBytesToKey derives a key of the given size from a password using the
// OpenSSL EVP_BytesToKey MD5 cascade, exactly as the original Shadowsocks
// protocol requires for its master key (distinct from the teacher's
// gordafarid cipher, which uses the raw password bytes as the AEAD key
// directly; Shadowsocks's wire format mandates this derivation instead).
func evpBytesToKey(password string, keyLen int) []byte {
	var (
		key    []byte
		prev   []byte
		pwdB   = []byte(password)
	)
	for len(key) < keyLen {
		h := md5.New()
		h.Write(prev)
		h.Write(pwdB)
		prev = h.Sum(nil)
		key = append(key, prev...)
	}
	return key[:keyLen]
}

// deriveSubkey implements Shadowsocks's HKDF-SHA1 per-session subkey
// derivation: subkey = HKDF-SHA1(masterKey, salt, "ss-subkey", keyLen).
func deriveSubkey(masterKey, salt []byte, keyLen int) ([]byte, error) {
	r := hkdf.New(sha1.New, masterKey, salt, []byte("ss-subkey"))
	subkey := make([]byte, keyLen)
	if _, err := io.ReadFull(r, subkey); err != nil {
		return nil, err
	}
	return subkey, nil
}

// incrementNonce increments nonce in place, little-endian, carrying byte
// by byte -- the same semantics as libsodium's sodium_increment, which
// both the Shadowsocks AEAD spec and this module's nonce bookkeeping rely
// on for per-chunk nonce derivation (no random nonce generation, unlike
// the teacher's cipher_conn, since chunk order is implicit in TCP and
// reusing libsodium's deterministic increment lets both peers stay in
// sync without transmitting a nonce per chunk).
func incrementNonce(nonce []byte) {
	for i := range nonce {
		nonce[i]++
		if nonce[i] != 0 {
			return
		}
	}
}
