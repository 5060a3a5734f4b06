// Package address derives the deterministic account addresses used by the
// darkpool program and the MPC program. Derivation is bit-compatible with the
// ledger's program-derived-address scheme so accounts can be located without
// a directory service.
package address

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// PubkeySize is the size of a ledger public key in bytes.
const PubkeySize = 32

// ErrInvalidPubkey is returned when a public key cannot be parsed.
var ErrInvalidPubkey = errors.New("invalid public key")

// Pubkey is a 32-byte ledger address.
type Pubkey [PubkeySize]byte

// Well-known program and sysvar addresses.
var (
	SystemProgram          = MustParsePubkey("11111111111111111111111111111111")
	TokenProgram           = MustParsePubkey("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	Token2022Program       = MustParsePubkey("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
	AssociatedTokenProgram = MustParsePubkey("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
	SysvarClock            = MustParsePubkey("SysvarC1ock11111111111111111111111111111111")
)

// ParsePubkey decodes a base58 address.
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	b, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %v", ErrInvalidPubkey, err)
	}
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("%w: decoded %d bytes", ErrInvalidPubkey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

// MustParsePubkey is ParsePubkey for constants; it panics on error.
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromBytes copies a 32-byte slice into a Pubkey.
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeySize {
		return pk, fmt.Errorf("%w: got %d bytes", ErrInvalidPubkey, len(b))
	}
	copy(pk[:], b)
	return pk, nil
}

func (p Pubkey) String() string {
	return base58.Encode(p[:])
}

// Bytes returns a copy of the key bytes.
func (p Pubkey) Bytes() []byte {
	out := make([]byte, PubkeySize)
	copy(out, p[:])
	return out
}

// IsZero reports whether p is the all-zero key.
func (p Pubkey) IsZero() bool {
	return p == Pubkey{}
}

// IsOnCurve reports whether p decodes to a point on the ed25519 curve.
// Program-derived addresses are never on the curve.
func (p Pubkey) IsOnCurve() bool {
	return IsOnCurve(p[:])
}

// MarshalText implements encoding.TextMarshaler.
func (p Pubkey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// IsOnCurve reports whether b is a valid compressed ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != PubkeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
