// Package vmess implements the VMESS request/response AEAD codec: the
// iterated-HMAC KDF cascade keyed by the literal "VMess AEAD KDF" (see
// kdf.go), cmd_key derivation from a user UUID, the authenticated request
// header, and chunked payload framing with optional padding and a SHAKE128
// mask stream.
//
// No example repo in the retrieval pack carries a full VMESS wire codec
// (other_examples' Clash.Premium adapter only wraps an external vmess
// package); this file is grounded instead in the teacher's
// pkg/net/protocol/gordafarid/crypto/aead AEAD-constructor-table idiom,
// generalized from the teacher's flat single-algorithm table to the
// algorithm set VMESS permits, plus the spec's own KDF/cmd_key test
// vectors used throughout kdf_test.go and vmess_test.go to pin down the
// exact byte layout.
package vmess

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"net"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/arashdev/simorgh/pkg/address"
	"github.com/arashdev/simorgh/pkg/perr"
	"github.com/google/uuid"
)

// magicCmdKeySuffix is VMESS's fixed salt for deriving a user's cmd_key
// from their UUID.
const magicCmdKeySuffix = "c48619fe-8f02-49e0-b9e9-edf763e17e21"

// CmdKey derives the 16-byte cmd_key for id, the master key every other
// VMESS AEAD key on the connection is derived from.
func CmdKey(id uuid.UUID) [16]byte {
	h := md5.New()
	b := id[:]
	h.Write(b)
	h.Write([]byte(magicCmdKeySuffix))
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Security options, matching the VMESS request header's security byte.
const (
	SecurityAES128GCM        byte = 0x03
	SecurityChacha20Poly1305 byte = 0x04
	SecurityNone             byte = 0x05
)

var ErrUnsupportedSecurity = errors.New("vmess: unsupported security option")

func newAEAD(security byte, key []byte) (cipher.AEAD, error) {
	switch security {
	case SecurityAES128GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case SecurityChacha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, ErrUnsupportedSecurity
	}
}

// RequestOptions configures an outbound VMESS session.
type RequestOptions struct {
	ID                  uuid.UUID
	Security            byte
	Target              address.Addr
	AuthenticatedLength bool
	GlobalPadding       bool
	ChunkMasking        bool
}

// Request header opt bits (spec.md §4.4), matching VMESS's standard
// option flags.
const (
	optChunkStream         byte = 0x01
	optChunkMasking        byte = 0x04
	optGlobalPadding       byte = 0x08
	optAuthenticatedLength byte = 0x10
)

var ErrAuthIDMismatch = errors.New("vmess: header FNV1a-32 checksum mismatch")

// session holds the per-connection state both client and server sides
// share: the negotiated per-direction AEAD, nonce material, and chunking
// options.
type session struct {
	requestBodyKey  []byte
	requestBodyIV   []byte
	responseBodyKey []byte
	responseBodyIV  []byte
	responseV       byte

	security            byte
	authenticatedLength bool
	padding             bool
	chunkMasking        bool
}

// Conn wraps a net.Conn with the VMESS request/response codec. The
// embedding + lazy-handshake shape again follows the teacher's
// net.Conn-wrapping Conn idiom; here "handshake" means "write/read the
// authenticated request header", exactly once, before any payload chunk.
type Conn struct {
	net.Conn

	opts     RequestOptions
	sess     session
	isClient bool
	ready    bool

	// respHeadDone tracks whether the once-per-connection response head
	// (see response.go) has been written (server) or read (client) yet.
	respHeadDone bool

	readBuf      []byte
	readChunker  *chunkCodec
	writeChunker *chunkCodec
}

// NewClientConn wraps raw (already dialed to a VMESS server) and sends the
// authenticated request header on the first Write.
func NewClientConn(raw net.Conn, opts RequestOptions) *Conn {
	return &Conn{Conn: raw, opts: opts, isClient: true}
}

// NewServerConn wraps raw (an accepted connection) and reads + validates
// the authenticated request header on the first Read.
func NewServerConn(raw net.Conn, id uuid.UUID) *Conn {
	return &Conn{Conn: raw, opts: RequestOptions{ID: id}, isClient: false}
}

func (c *Conn) Write(b []byte) (int, error) {
	if !c.ready {
		if err := c.handshake(); err != nil {
			return 0, err
		}
	}
	if !c.isClient && !c.respHeadDone {
		if err := c.writeResponseHead(); err != nil {
			return 0, err
		}
		c.respHeadDone = true
	}
	return c.writeChunker.writeAll(c.Conn, b)
}

func (c *Conn) Read(b []byte) (int, error) {
	if !c.ready {
		if err := c.handshake(); err != nil {
			return 0, err
		}
	}
	if c.isClient && !c.respHeadDone {
		if err := c.readResponseHead(); err != nil {
			return 0, err
		}
		c.respHeadDone = true
	}
	if len(c.readBuf) > 0 {
		n := copy(b, c.readBuf)
		c.readBuf = c.readBuf[n:]
		return n, nil
	}
	plain, err := c.readChunker.readChunk(c.Conn)
	if err != nil {
		return 0, err
	}
	n := copy(b, plain)
	c.readBuf = plain[n:]
	return n, nil
}

func (c *Conn) handshake() error {
	var err error
	if c.isClient {
		err = c.writeRequest()
	} else {
		err = c.readRequest()
	}
	if err != nil {
		return err
	}
	c.ready = true
	c.writeChunker = newChunkCodec(c.sess, c.isClient)
	c.readChunker = newChunkCodec(c.sess, !c.isClient)
	return nil
}

// writeRequest builds and sends the authenticated request header (client
// side): auth_id(16), the header length(2 BE), then encodeRequestBody's
// plaintext sealed under keys derived from cmd_key and auth_id.
func (c *Conn) writeRequest() error {
	cmdKey := CmdKey(c.opts.ID)

	c.sess.security = c.opts.Security
	c.sess.authenticatedLength = c.opts.AuthenticatedLength
	c.sess.padding = c.opts.GlobalPadding
	c.sess.chunkMasking = c.opts.ChunkMasking
	c.sess.requestBodyKey = make([]byte, 16)
	c.sess.requestBodyIV = make([]byte, 16)
	rand.Read(c.sess.requestBodyKey)
	rand.Read(c.sess.requestBodyIV)

	respKey := KDF16(c.sess.requestBodyKey, "AEAD Resp Header Key")
	respIV := KDF16(c.sess.requestBodyIV, "AEAD Resp Header IV")
	c.sess.responseBodyKey = respKey
	c.sess.responseBodyIV = respIV

	plainHeader := c.encodeRequestBody()

	hashKey := KDF16(cmdKey[:], kdfSaltAuthIDEncryptionKey)
	authID, err := encryptAuthID(hashKey, time.Now())
	if err != nil {
		return err
	}

	payloadKey := KDF16(cmdKey[:], kdfSaltHeaderPayloadKey, string(authID[:]))
	payloadIV := KDF(cmdKey[:], kdfSaltHeaderPayloadIV, string(authID[:]))[:12]
	aead, err := newAEAD(SecurityAES128GCM, payloadKey)
	if err != nil {
		return err
	}
	sealed := aead.Seal(nil, payloadIV, plainHeader, authID[:])

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(sealed)))

	if _, err := c.Conn.Write(authID[:]); err != nil {
		return err
	}
	if _, err := c.Conn.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = c.Conn.Write(sealed)
	return err
}

func (c *Conn) readRequest() error {
	var authID [16]byte
	if _, err := io.ReadFull(c.Conn, authID[:]); err != nil {
		return perr.Wrap(perr.KindInvalidFrame, err)
	}

	cmdKey := CmdKey(c.opts.ID)
	payloadKey := KDF16(cmdKey[:], kdfSaltHeaderPayloadKey, string(authID[:]))
	payloadIV := KDF(cmdKey[:], kdfSaltHeaderPayloadIV, string(authID[:]))[:12]

	var lenBuf [2]byte
	if _, err := io.ReadFull(c.Conn, lenBuf[:]); err != nil {
		return perr.Wrap(perr.KindInvalidFrame, err)
	}
	sealedLen := binary.BigEndian.Uint16(lenBuf[:])
	sealed := make([]byte, sealedLen)
	if _, err := io.ReadFull(c.Conn, sealed); err != nil {
		return perr.Wrap(perr.KindInvalidFrame, err)
	}

	aead, err := newAEAD(SecurityAES128GCM, payloadKey)
	if err != nil {
		return err
	}
	plainHeader, err := aead.Open(nil, payloadIV, sealed, authID[:])
	if err != nil {
		return perr.Wrap(perr.KindAuthenticationFailed, err)
	}
	if err := c.decodeRequestBody(plainHeader); err != nil {
		return err
	}

	c.sess.responseBodyKey = KDF16(c.sess.requestBodyKey, "AEAD Resp Header Key")
	c.sess.responseBodyIV = KDF16(c.sess.requestBodyIV, "AEAD Resp Header IV")
	return nil
}

// encodeRequestBody serializes ver(1) + requestBodyIV(16) + requestBodyKey(16)
// + responseV(1) + opt(1) + security(1) + rsv(1) + cmd(1) + addr
// + FNV1a32 checksum(4). No header padding is written: the padding-length
// nibble of the security byte is always zero.
func (c *Conn) encodeRequestBody() []byte {
	buf := make([]byte, 0, 64+c.opts.Target.Size())
	buf = append(buf, 1) // version
	buf = append(buf, c.sess.requestBodyIV...)
	buf = append(buf, c.sess.requestBodyKey...)
	respV := make([]byte, 1)
	rand.Read(respV)
	c.sess.responseV = respV[0]
	buf = append(buf, respV[0])
	opt := optChunkStream
	if c.opts.ChunkMasking {
		opt |= optChunkMasking
	}
	if c.opts.GlobalPadding {
		opt |= optGlobalPadding
	}
	if c.opts.AuthenticatedLength {
		opt |= optAuthenticatedLength
	}
	buf = append(buf, opt)
	buf = append(buf, c.opts.Security&0x0F)
	buf = append(buf, 0x00) // reserved
	buf = append(buf, 0x01) // cmd: TCP
	buf = append(buf, c.opts.Target.Bytes()...)
	sum := fnv1a32(buf)
	var sumBuf [4]byte
	binary.BigEndian.PutUint32(sumBuf[:], sum)
	return append(buf, sumBuf[:]...)
}

func (c *Conn) decodeRequestBody(buf []byte) error {
	if len(buf) < 1+16+16+1+1+1+1+1+4 {
		return perr.Wrap(perr.KindInvalidFrame, ErrRequestTooShort)
	}
	sum := fnv1a32(buf[:len(buf)-4])
	got := binary.BigEndian.Uint32(buf[len(buf)-4:])
	if sum != got {
		return perr.Wrap(perr.KindAuthenticationFailed, ErrAuthIDMismatch)
	}
	off := 1
	c.sess.requestBodyIV = append([]byte(nil), buf[off:off+16]...)
	off += 16
	c.sess.requestBodyKey = append([]byte(nil), buf[off:off+16]...)
	off += 16
	c.sess.responseV = buf[off]
	off++
	opt := buf[off]
	off++
	c.sess.security = buf[off] & 0x0F
	c.opts.Security = c.sess.security
	off++
	off++ // rsv
	off++ // cmd
	target, err := address.ReadFrom(&byteReader{buf: buf[off : len(buf)-4]})
	if err != nil {
		return perr.Wrap(perr.KindInvalidFrame, err)
	}
	c.opts.Target = target
	c.sess.authenticatedLength = opt&optAuthenticatedLength != 0
	c.sess.padding = opt&optGlobalPadding != 0
	c.sess.chunkMasking = opt&optChunkMasking != 0
	c.opts.AuthenticatedLength = c.sess.authenticatedLength
	c.opts.GlobalPadding = c.sess.padding
	c.opts.ChunkMasking = c.sess.chunkMasking
	return nil
}

// byteReader adapts a byte slice to address.Reader.
type byteReader struct{ buf []byte }

func (r *byteReader) Read(p []byte) (int, error) {
	if len(r.buf) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.buf)
	r.buf = r.buf[n:]
	return n, nil
}

// encryptAuthID builds the 16-byte auth_id: AES-128-ECB(hashKey,
// timestamp_be_u64 || random_u32 || CRC32(first 12 bytes)).
func encryptAuthID(hashKey []byte, now time.Time) ([16]byte, error) {
	var plain [16]byte
	binary.BigEndian.PutUint64(plain[0:8], uint64(now.Unix()))
	rnd := make([]byte, 4)
	rand.Read(rnd)
	copy(plain[8:12], rnd)
	crc := crc32.ChecksumIEEE(plain[0:12])
	binary.BigEndian.PutUint32(plain[12:16], crc)

	block, err := aes.NewCipher(hashKey)
	if err != nil {
		return [16]byte{}, err
	}
	var out [16]byte
	block.Encrypt(out[:], plain[:])
	return out, nil
}

func fnv1a32(data []byte) uint32 {
	const (
		offset uint32 = 2166136261
		prime  uint32 = 16777619
	)
	h := offset
	for _, b := range data {
		h ^= uint32(b)
		h *= prime
	}
	return h
}

