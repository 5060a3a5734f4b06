// Package codec implements the fixed 64-byte encrypted value frame exchanged
// between confidential-computation providers and the darkpool program.
//
// Three layouts share the frame:
//
//	plaintext fallback  [0:8] little-endian u64, [8:64] zero
//	MPC ciphertext      [0:16] nonce, [16:48] ciphertext block, [48:64] routing tag
//	TEE handle          [0] 0xEE marker, [1:17] handle, [17:64] zero
//
// The layout is recovered from the bytes alone. A zero tail (bytes 8..63)
// always decodes as plaintext, so a ciphertext or TEE handle that happens to
// produce one is misread as plaintext. The probability is negligible for real
// ciphertexts and handles and the ambiguity is accepted. A plaintext value
// whose low byte equals the TEE marker still decodes as plaintext.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// ValueSize is the size of every encrypted value on the wire.
	ValueSize = 64

	// NonceSize is the size of the MPC nonce prefix.
	NonceSize = 16
	// BlockSize is the size of the MPC ciphertext block.
	BlockSize = 32
	// TagSize is the size of the MPC routing tag.
	TagSize = 16
	// HandleSize is the size of a TEE handle.
	HandleSize = 16

	// TEEMarker prefixes TEE handles.
	TEEMarker byte = 0xEE

	plaintextSize = 8
	blockOffset   = NonceSize
	tagOffset     = NonceSize + BlockSize
	handleOffset  = 1
	handleEnd     = handleOffset + HandleSize
)

var (
	// ErrInvalidLength is returned when input is not exactly ValueSize bytes.
	ErrInvalidLength = errors.New("encrypted value must be 64 bytes")
	// ErrNotPlaintext is returned when plaintext decoding is attempted on a
	// value in another format.
	ErrNotPlaintext = errors.New("encrypted value is not in plaintext format")
)

// FormatTag identifies the layout of an EncryptedValue.
type FormatTag uint8

const (
	FormatPlaintext FormatTag = iota
	FormatMPC
	FormatTEE
)

// String returns the format name.
func (f FormatTag) String() string {
	switch f {
	case FormatPlaintext:
		return "plaintext"
	case FormatMPC:
		return "mpc"
	case FormatTEE:
		return "tee"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// EncryptedValue is one confidential scalar in its wire form.
type EncryptedValue [ValueSize]byte

// ParseEncryptedValue copies b into an EncryptedValue.
func ParseEncryptedValue(b []byte) (EncryptedValue, error) {
	var ev EncryptedValue
	if len(b) != ValueSize {
		return ev, fmt.Errorf("%w: got %d", ErrInvalidLength, len(b))
	}
	copy(ev[:], b)
	return ev, nil
}

// ParseEncryptedValueHex decodes a 128-character hex string.
func ParseEncryptedValueHex(s string) (EncryptedValue, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return EncryptedValue{}, fmt.Errorf("invalid hex: %w", err)
	}
	return ParseEncryptedValue(b)
}

// EncodePlaintext frames v in the development fallback layout.
func EncodePlaintext(v uint64) EncryptedValue {
	var ev EncryptedValue
	binary.LittleEndian.PutUint64(ev[:plaintextSize], v)
	return ev
}

// DecodePlaintext returns the scalar of a plaintext-format value.
func DecodePlaintext(ev EncryptedValue) (uint64, error) {
	if DecodeFormat(ev) != FormatPlaintext {
		return 0, ErrNotPlaintext
	}
	return binary.LittleEndian.Uint64(ev[:plaintextSize]), nil
}

// EncodeCiphertext frames an MPC ciphertext.
func EncodeCiphertext(nonce [NonceSize]byte, block [BlockSize]byte, tag [TagSize]byte) EncryptedValue {
	var ev EncryptedValue
	copy(ev[:blockOffset], nonce[:])
	copy(ev[blockOffset:tagOffset], block[:])
	copy(ev[tagOffset:], tag[:])
	return ev
}

// EncodeTEEHandle frames a TEE handle behind the format marker.
func EncodeTEEHandle(handle [HandleSize]byte) EncryptedValue {
	var ev EncryptedValue
	ev[0] = TEEMarker
	copy(ev[handleOffset:handleEnd], handle[:])
	return ev
}

// DecodeFormat classifies ev by marker byte and zero-tail heuristic.
func DecodeFormat(ev EncryptedValue) FormatTag {
	if allZero(ev[plaintextSize:]) {
		return FormatPlaintext
	}
	if ev[0] == TEEMarker && allZero(ev[handleEnd:]) {
		return FormatTEE
	}
	return FormatMPC
}

// Bytes returns a copy of the frame.
func (ev EncryptedValue) Bytes() []byte {
	out := make([]byte, ValueSize)
	copy(out, ev[:])
	return out
}

// IsZero reports whether every byte is zero. A zero frame is also the
// plaintext encoding of 0.
func (ev EncryptedValue) IsZero() bool {
	return allZero(ev[:])
}

// Format is shorthand for DecodeFormat(ev).
func (ev EncryptedValue) Format() FormatTag {
	return DecodeFormat(ev)
}

func (ev EncryptedValue) String() string {
	return hex.EncodeToString(ev[:])
}

// MarshalText implements encoding.TextMarshaler.
func (ev EncryptedValue) MarshalText() ([]byte, error) {
	return []byte(ev.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (ev *EncryptedValue) UnmarshalText(text []byte) error {
	parsed, err := ParseEncryptedValueHex(string(text))
	if err != nil {
		return err
	}
	*ev = parsed
	return nil
}

func allZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}
