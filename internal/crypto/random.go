package crypto

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/crypto/curve25519"
)

var (
	// ErrRandomGeneration is returned when random number generation fails.
	ErrRandomGeneration = errors.New("failed to generate random bytes")
)

// RandomBytes generates n cryptographically secure random bytes.
// It uses crypto/rand which reads from the system's CSPRNG.
func RandomBytes(n int) ([]byte, error) {
	if n <= 0 {
		return nil, nil
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, ErrRandomGeneration
	}
	return b, nil
}

// RandomUint64 returns a uniformly random 64-bit value.
func RandomUint64() (uint64, error) {
	b, err := RandomBytes(8)
	if err != nil {
		return 0, err
	}
	defer SecureErase(b)
	return binary.LittleEndian.Uint64(b), nil
}

// GenerateX25519 returns a fresh x25519 key pair. The secret is wrapped so it
// can be erased once the caller is done with it.
func GenerateX25519() (public [KeySize]byte, secret *SecretKey, err error) {
	scalar, err := RandomBytes(KeySize)
	if err != nil {
		return public, nil, err
	}

	pub, err := curve25519.X25519(scalar, curve25519.Basepoint)
	if err != nil {
		SecureErase(scalar)
		return public, nil, err
	}
	copy(public[:], pub)
	return public, NewSecretKey(scalar), nil
}
