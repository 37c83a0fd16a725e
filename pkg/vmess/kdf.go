package vmess

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
)

const kdfRootSalt = "VMess AEAD KDF"

// Known KDF info-path salts (VMess AEAD key derivation tree).
const (
	kdfSaltAuthIDEncryptionKey      = "AES Auth ID Encryption"
	kdfSaltRespHeaderLenKey         = "AEAD Resp Header Len Key"
	kdfSaltRespHeaderLenIV          = "AEAD Resp Header Len IV"
	kdfSaltRespHeaderPayloadKey     = "AEAD Resp Header Key"
	kdfSaltRespHeaderPayloadIV      = "AEAD Resp Header IV"
	kdfSaltHeaderPayloadKey         = "VMess Header AEAD Key"
	kdfSaltHeaderPayloadIV          = "VMess Header AEAD Nonce"
	kdfSaltHeaderPayloadLengthKey   = "VMess Header AEAD Key_Length"
	kdfSaltHeaderPayloadLengthIV    = "VMess Header AEAD Nonce_Length"
)

// KDF implements the VMess AEAD key derivation function: a cascade of
// HMAC-SHA256 constructions, each using the previous level's HMAC as its
// underlying hash primitive (rather than its output as a plain key),
// rooted at a fixed "VMess AEAD KDF" salt. This is what Go's hmac.New
// naturally expresses: hmac.New's first argument is itself a
// func() hash.Hash, so each cascade level is produced by closing over the
// previous level's constructor.
func KDF(key []byte, path ...string) []byte {
	create := func() hash.Hash { return hmac.New(sha256.New, []byte(kdfRootSalt)) }
	for _, p := range path {
		prev := create
		salt := []byte(p)
		create = func() hash.Hash { return hmac.New(prev, salt) }
	}
	h := create()
	h.Write(key)
	return h.Sum(nil)
}

// KDF16 is KDF truncated to 16 bytes, the size the VMess spec uses for
// every AES-128 key or nonce it derives.
func KDF16(key []byte, path ...string) []byte {
	return KDF(key, path...)[:16]
}
