package codec

import (
	"encoding/binary"
	"fmt"
)

// Payload is the in-memory form of an encrypted value. Providers produce and
// consume payloads; the 64-byte frame only exists at the wire boundary.
type Payload interface {
	Format() FormatTag
	isPayload()
}

// Plaintext is the development fallback payload.
type Plaintext struct {
	Value uint64
}

// MPCCiphertext is a ciphertext produced under an MPC session key.
type MPCCiphertext struct {
	Nonce [NonceSize]byte
	Block [BlockSize]byte
	Tag   [TagSize]byte
}

// TEEHandle references a value held by the TEE covalidator.
type TEEHandle struct {
	Handle [HandleSize]byte
}

func (Plaintext) Format() FormatTag     { return FormatPlaintext }
func (MPCCiphertext) Format() FormatTag { return FormatMPC }
func (TEEHandle) Format() FormatTag     { return FormatTEE }

func (Plaintext) isPayload()     {}
func (MPCCiphertext) isPayload() {}
func (TEEHandle) isPayload()     {}

// NonceCounter returns the session counter stored in the first eight nonce
// bytes.
func (c MPCCiphertext) NonceCounter() uint64 {
	return binary.LittleEndian.Uint64(c.Nonce[:8])
}

// Encode serializes p into its wire frame.
func Encode(p Payload) (EncryptedValue, error) {
	switch v := p.(type) {
	case Plaintext:
		return EncodePlaintext(v.Value), nil
	case *Plaintext:
		return EncodePlaintext(v.Value), nil
	case MPCCiphertext:
		return EncodeCiphertext(v.Nonce, v.Block, v.Tag), nil
	case *MPCCiphertext:
		return EncodeCiphertext(v.Nonce, v.Block, v.Tag), nil
	case TEEHandle:
		return EncodeTEEHandle(v.Handle), nil
	case *TEEHandle:
		return EncodeTEEHandle(v.Handle), nil
	default:
		return EncryptedValue{}, fmt.Errorf("unsupported payload type %T", p)
	}
}

// Decode recovers the payload carried by ev.
func Decode(ev EncryptedValue) Payload {
	switch DecodeFormat(ev) {
	case FormatTEE:
		var h TEEHandle
		copy(h.Handle[:], ev[handleOffset:handleEnd])
		return h
	case FormatPlaintext:
		return Plaintext{Value: binary.LittleEndian.Uint64(ev[:plaintextSize])}
	default:
		var c MPCCiphertext
		copy(c.Nonce[:], ev[:blockOffset])
		copy(c.Block[:], ev[blockOffset:tagOffset])
		copy(c.Tag[:], ev[tagOffset:])
		return c
	}
}
