package vmess

import (
	"encoding/binary"
	"io"

	"github.com/arashdev/simorgh/pkg/perr"
)

// DynamicPortInstruction is the payload of a response head whose
// instruction_code is 0x01, the only instruction code VMESS assigns
// meaning to. It is parsed and checksum-verified but, like alterIDs (see
// DESIGN.md), never acted on: dynamic port reassignment has no bearing on
// a single outbound TCP session and no deployment this module targets
// sends it in practice.
type DynamicPortInstruction struct {
	Addr        string
	Port        uint16
	UUID        [16]byte
	NumAlterIDs uint16
	Level       byte
	EffectiveAt uint32
}

// respHeaderKeys derives the two AEAD key/IV pairs that encrypt the
// response head (distinct from responseBodyKey/IV, which key the response
// *payload* chunk stream), per spec.md §4.4's "resp_header_len_key/iv,
// resp_header_key/iv" constants, themselves derived from responseBodyKey/IV.
type respHeaderKeys struct {
	lenKey, lenIV         []byte
	payloadKey, payloadIV []byte
}

func (c *Conn) respHeaderKeys() respHeaderKeys {
	return respHeaderKeys{
		lenKey:     KDF16(c.sess.responseBodyKey, kdfSaltRespHeaderLenKey),
		lenIV:      KDF16(c.sess.responseBodyIV, kdfSaltRespHeaderLenIV)[:12],
		payloadKey: KDF16(c.sess.responseBodyKey, kdfSaltRespHeaderPayloadKey),
		payloadIV:  KDF16(c.sess.responseBodyIV, kdfSaltRespHeaderPayloadIV)[:12],
	}
}

// writeResponseHead is the server side: it sends the encrypted auth_code +
// options + (no instruction) response head that must precede the first
// response payload chunk.
func (c *Conn) writeResponseHead() error {
	keys := c.respHeaderKeys()
	security := pickSecurity(c.sess.security)

	plain := []byte{c.sess.responseV, 0x00, 0x00, 0x00} // auth_code, options, instruction_code, instruction_len

	payloadAEAD, err := newAEAD(security, keys.payloadKey)
	if err != nil {
		return err
	}
	sealedPayload := payloadAEAD.Seal(nil, keys.payloadIV, plain, nil)

	lenAEAD, err := newAEAD(security, keys.lenKey)
	if err != nil {
		return err
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(sealedPayload)))
	sealedLen := lenAEAD.Seal(nil, keys.lenIV, lenBuf[:], nil)

	if _, err := c.Conn.Write(sealedLen); err != nil {
		return err
	}
	_, err = c.Conn.Write(sealedPayload)
	return err
}

// readResponseHead is the client side counterpart: it consumes and
// verifies the response head before any response payload chunk is read.
// A short read while pulling the sealed AEAD frames is NeedMore (the peer
// simply hasn't sent enough bytes yet); a failure opening either AEAD
// frame, or an undersized plaintext header, is InvalidFrame/AuthenticationFailed.
func (c *Conn) readResponseHead() error {
	keys := c.respHeaderKeys()
	security := pickSecurity(c.sess.security)

	sealedLen := make([]byte, 2+aeadOverhead)
	if _, err := io.ReadFull(c.Conn, sealedLen); err != nil {
		return perr.Wrap(perr.KindNeedMore, err)
	}
	lenAEAD, err := newAEAD(security, keys.lenKey)
	if err != nil {
		return err
	}
	lenPlain, err := lenAEAD.Open(nil, keys.lenIV, sealedLen, nil)
	if err != nil {
		return perr.Wrap(perr.KindAuthenticationFailed, err)
	}
	payloadLen := binary.BigEndian.Uint16(lenPlain)

	sealedPayload := make([]byte, payloadLen)
	if _, err := io.ReadFull(c.Conn, sealedPayload); err != nil {
		return perr.Wrap(perr.KindNeedMore, err)
	}
	payloadAEAD, err := newAEAD(security, keys.payloadKey)
	if err != nil {
		return err
	}
	plain, err := payloadAEAD.Open(nil, keys.payloadIV, sealedPayload, nil)
	if err != nil {
		return perr.Wrap(perr.KindAuthenticationFailed, err)
	}
	if len(plain) < 4 {
		return perr.Wrap(perr.KindInvalidFrame, ErrResponseHeadTooShort)
	}

	authCode, options, instructionCode, instructionLen := plain[0], plain[1], plain[2], plain[3]
	_ = options
	if authCode != c.sess.responseV {
		return perr.Wrap(perr.KindAuthenticationFailed, ErrResponseAuthMismatch)
	}

	if instructionLen == 0 {
		return nil
	}
	if len(plain) < 4+int(instructionLen) {
		return perr.Wrap(perr.KindInvalidFrame, ErrResponseHeadTooShort)
	}
	instruction := plain[4 : 4+int(instructionLen)]
	if instructionCode == 0x01 {
		if _, err := parseDynamicPortInstruction(instruction); err != nil {
			return err
		}
	}
	return nil
}

func parseDynamicPortInstruction(b []byte) (DynamicPortInstruction, error) {
	if len(b) < 4 {
		return DynamicPortInstruction{}, perr.Wrap(perr.KindInvalidFrame, ErrResponseHeadTooShort)
	}
	checksum := binary.BigEndian.Uint32(b[:4])
	rest := b[4:]
	if fnv1a32(rest) != checksum {
		return DynamicPortInstruction{}, perr.Wrap(perr.KindAuthenticationFailed, ErrAuthIDMismatch)
	}

	if len(rest) < 1 {
		return DynamicPortInstruction{}, perr.Wrap(perr.KindInvalidFrame, ErrResponseHeadTooShort)
	}
	addrLen := int(rest[0])
	off := 1
	if len(rest) < off+addrLen+2+16+2+1+4 {
		return DynamicPortInstruction{}, perr.Wrap(perr.KindInvalidFrame, ErrResponseHeadTooShort)
	}
	inst := DynamicPortInstruction{Addr: string(rest[off : off+addrLen])}
	off += addrLen
	inst.Port = binary.BigEndian.Uint16(rest[off : off+2])
	off += 2
	copy(inst.UUID[:], rest[off:off+16])
	off += 16
	inst.NumAlterIDs = binary.BigEndian.Uint16(rest[off : off+2])
	off += 2
	inst.Level = rest[off]
	off++
	inst.EffectiveAt = binary.BigEndian.Uint32(rest[off : off+4])
	return inst, nil
}
