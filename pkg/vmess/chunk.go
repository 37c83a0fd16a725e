package vmess

import (
	"crypto/cipher"
	"encoding/binary"
	"io"
	"net"

	"golang.org/x/crypto/sha3"

	"github.com/arashdev/simorgh/pkg/perr"
)

// chunkCodec.maxChunk computes the largest plaintext payload a single
// VMESS chunk may carry by subtracting AEAD overhead, the length field,
// and worst-case padding from the 2048-byte frame cap spec.md §4.4 pins.
const (
	aeadOverhead = 16
	maxPadding   = 64
	frameCap     = 2048
)

// chunkCodec seals/opens VMESS payload chunks for one direction of a
// session (client->server uses requestBodyKey/IV, server->client uses
// responseBodyKey/IV).
type chunkCodec struct {
	key                 []byte
	iv                  []byte
	security            byte
	authenticatedLength bool
	padding             bool
	chunkMasking        bool
	frameOffset         uint32

	// maskStream is the SHAKE128 keystream keyed by iv that both padding
	// lengths and (when chunkMasking is set) the length field itself are
	// drawn from, one continuous stream per direction rather than a
	// fresh draw re-seeded from iv on every chunk.
	maskStream sha3.ShakeHash
}

func newChunkCodec(sess session, clientToServer bool) *chunkCodec {
	cc := &chunkCodec{
		security:            sess.security,
		authenticatedLength: sess.authenticatedLength,
		padding:             sess.padding,
		chunkMasking:        sess.chunkMasking,
	}
	if clientToServer {
		cc.key, cc.iv = sess.requestBodyKey, sess.requestBodyIV
	} else {
		cc.key, cc.iv = sess.responseBodyKey, sess.responseBodyIV
	}
	return cc
}

// nextMask reads n bytes from this codec's SHAKE128 mask stream, seeding
// it from iv on first use and advancing it thereafter. Every draw --
// padding length, masked length field -- comes from this one stream, in
// the same order on both the writer and the reader, so the two sides
// stay in lockstep.
func (cc *chunkCodec) nextMask(n int) []byte {
	if cc.maskStream == nil {
		cc.maskStream = sha3.NewShake128()
		cc.maskStream.Write(cc.iv)
	}
	out := make([]byte, n)
	cc.maskStream.Read(out)
	return out
}

func (cc *chunkCodec) maxChunk() int {
	lengthFieldSize := 2
	if cc.authenticatedLength {
		lengthFieldSize = 2 + aeadOverhead
	}
	pad := 0
	if cc.padding {
		pad = maxPadding
	}
	return frameCap - aeadOverhead - lengthFieldSize - pad
}

func (cc *chunkCodec) nonce() []byte {
	n := make([]byte, 12)
	binary.BigEndian.PutUint16(n[0:2], uint16(cc.frameOffset))
	copy(n[2:], cc.iv[2:12])
	return n
}

func (cc *chunkCodec) writeAll(w io.Writer, b []byte) (int, error) {
	aead, err := newAEAD(pickSecurity(cc.security), cc.key)
	if err != nil {
		return 0, err
	}
	total := 0
	maxChunk := cc.maxChunk()
	for len(b) > 0 {
		chunk := b
		if len(chunk) > maxChunk {
			chunk = chunk[:maxChunk]
		}
		if err := cc.writeChunk(w, aead, chunk); err != nil {
			return total, err
		}
		total += len(chunk)
		b = b[len(chunk):]
	}
	return total, nil
}

func (cc *chunkCodec) writeChunk(w io.Writer, aead cipher.AEAD, plaintext []byte) error {
	padLen := 0
	if cc.padding {
		padLen = int(cc.nextMask(2)[0]) % maxPadding
	}
	nonce := cc.nonce()
	sealed := aead.Seal(nil, nonce, plaintext, nil)

	frameLen := len(sealed) + padLen
	lengthField := cc.sealLength(aead, nonce, uint16(frameLen))

	if _, err := w.Write(lengthField); err != nil {
		return err
	}
	if _, err := w.Write(sealed); err != nil {
		return err
	}
	if padLen > 0 {
		if _, err := w.Write(make([]byte, padLen)); err != nil {
			return err
		}
	}
	cc.frameOffset++
	return nil
}

func (cc *chunkCodec) sealLength(aead cipher.AEAD, nonce []byte, length uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], length)
	switch {
	case cc.authenticatedLength:
		lenKey := KDF16(cc.key, "auth_len")
		lenAEAD, err := newAEAD(pickSecurity(cc.security), lenKey)
		if err != nil {
			return buf[:]
		}
		return lenAEAD.Seal(nil, nonce, buf[:], nil)
	case cc.chunkMasking:
		mask := cc.nextMask(2)
		buf[0] ^= mask[0]
		buf[1] ^= mask[1]
		return buf[:]
	default:
		return buf[:]
	}
}

func (cc *chunkCodec) readChunk(r io.Reader) ([]byte, error) {
	aead, err := newAEAD(pickSecurity(cc.security), cc.key)
	if err != nil {
		return nil, err
	}
	nonce := cc.nonce()

	// Draw the padding-length mask before the length-field mask, mirroring
	// writeChunk's draw order so both sides' mask streams stay in lockstep.
	var padMask []byte
	if cc.padding {
		padMask = cc.nextMask(2)
	}

	frameLen, err := cc.readLength(r, aead, nonce)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, perr.Wrap(perr.KindInvalidFrame, err)
	}

	padLen := 0
	if cc.padding {
		padLen = int(padMask[0]) % maxPadding
	}
	sealed := frame[:len(frame)-padLen]

	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, perr.Wrap(perr.KindAuthenticationFailed, err)
	}
	cc.frameOffset++
	return plaintext, nil
}

func (cc *chunkCodec) readLength(r io.Reader, aead cipher.AEAD, nonce []byte) (uint16, error) {
	switch {
	case cc.authenticatedLength:
		sealed := make([]byte, 2+aeadOverhead)
		if _, err := io.ReadFull(r, sealed); err != nil {
			return 0, perr.Wrap(perr.KindInvalidFrame, err)
		}
		lenKey := KDF16(cc.key, "auth_len")
		lenAEAD, err := newAEAD(pickSecurity(cc.security), lenKey)
		if err != nil {
			return 0, err
		}
		plain, err := lenAEAD.Open(nil, nonce, sealed, nil)
		if err != nil {
			return 0, perr.Wrap(perr.KindAuthenticationFailed, err)
		}
		return binary.BigEndian.Uint16(plain), nil
	case cc.chunkMasking:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, perr.Wrap(perr.KindInvalidFrame, err)
		}
		mask := cc.nextMask(2)
		buf[0] ^= mask[0]
		buf[1] ^= mask[1]
		return binary.BigEndian.Uint16(buf[:]), nil
	default:
		var buf [2]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, perr.Wrap(perr.KindInvalidFrame, err)
		}
		return binary.BigEndian.Uint16(buf[:]), nil
	}
}

func pickSecurity(security byte) byte {
	if security == 0 {
		return SecurityAES128GCM
	}
	return security
}

var _ net.Conn = (*Conn)(nil)
