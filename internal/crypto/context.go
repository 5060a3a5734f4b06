// Package crypto holds the key material and primitives behind a confidential
// encryption session: x25519 key agreement with a provider's static key,
// per-value key derivation and the session nonce counter.
package crypto

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeySize is the size of x25519 public keys, scalars and shared secrets.
	KeySize = 32
	// NonceSize is the size of a session nonce: counter u64 LE then salt.
	NonceSize = 16
	// SaltSize is the size of the per-session salt carried in every nonce.
	SaltSize = 8
	// TagSize is the size of the routing tag identifying a session.
	TagSize = 16
	// SealedSize is the size of a sealed value block.
	SealedSize = plainBlockSize + chacha20poly1305.Overhead

	plainBlockSize = 16
)

var valueKeyInfo = []byte("darkpool/value-key/v1")

var (
	// ErrContextClosed is returned when a closed context is used.
	ErrContextClosed = errors.New("encryption context closed")
	// ErrInvalidPeerKey is returned when a provider key cannot be used for
	// key agreement.
	ErrInvalidPeerKey = errors.New("invalid provider public key")
	// ErrAuthentication is returned when a sealed block fails to open.
	ErrAuthentication = errors.New("ciphertext authentication failed")
	// ErrInvalidBlock is returned when a sealed block has the wrong size or an
	// opened block is not a well-formed value.
	ErrInvalidBlock = errors.New("invalid ciphertext block")
)

// EncryptionContext is one session between this client and a confidential
// provider. It is safe for concurrent use; every sealed value consumes a
// distinct nonce.
type EncryptionContext struct {
	providerID string
	peerKey    [KeySize]byte
	public     [KeySize]byte
	tag        [TagSize]byte
	salt       [SaltSize]byte

	mu     sync.RWMutex
	secret *SecretKey
	shared *SecretKey

	counter atomic.Uint64
}

// NewEncryptionContext generates an ephemeral key pair, agrees a shared
// secret with peerKey and draws a fresh session salt.
func NewEncryptionContext(providerID string, peerKey []byte) (*EncryptionContext, error) {
	if len(peerKey) != KeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidPeerKey, len(peerKey))
	}

	public, secret, err := GenerateX25519()
	if err != nil {
		return nil, err
	}
	shared, err := curve25519.X25519(secret.Data(), peerKey)
	if err != nil {
		secret.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	salt, err := RandomBytes(SaltSize)
	if err != nil {
		secret.Close()
		SecureErase(shared)
		return nil, err
	}

	c := &EncryptionContext{
		providerID: providerID,
		public:     public,
		tag:        RoutingTag(public[:]),
		secret:     secret,
		shared:     NewSecretKey(shared),
	}
	copy(c.peerKey[:], peerKey)
	copy(c.salt[:], salt)
	return c, nil
}

// RoutingTag returns the tag that routes ciphertexts back to the session
// owning the given ephemeral public key.
func RoutingTag(public []byte) [TagSize]byte {
	var tag [TagSize]byte
	sum := sha256.Sum256(public)
	copy(tag[:], sum[:TagSize])
	return tag
}

// ProviderID returns the id of the provider this session talks to.
func (c *EncryptionContext) ProviderID() string { return c.providerID }

// PeerKey returns the provider's static public key.
func (c *EncryptionContext) PeerKey() [KeySize]byte { return c.peerKey }

// PublicKey returns the session's ephemeral public key.
func (c *EncryptionContext) PublicKey() [KeySize]byte { return c.public }

// Tag returns the session's routing tag.
func (c *EncryptionContext) Tag() [TagSize]byte { return c.tag }

// Counter returns the number of nonces issued so far.
func (c *EncryptionContext) Counter() uint64 { return c.counter.Load() }

// NextNonce returns a nonce never returned before by this context. Counter
// exhaustion would force nonce reuse, so it panics instead.
func (c *EncryptionContext) NextNonce() [NonceSize]byte {
	n := c.counter.Add(1)
	if n == 0 {
		panic("crypto: encryption context nonce counter exhausted")
	}

	var nonce [NonceSize]byte
	binary.LittleEndian.PutUint64(nonce[:8], n)
	copy(nonce[8:], c.salt[:])
	return nonce
}

// NonceCounter extracts the counter from a nonce.
func NonceCounter(nonce [NonceSize]byte) uint64 {
	return binary.LittleEndian.Uint64(nonce[:8])
}

// Seal encrypts v under a fresh nonce and returns the nonce and the sealed
// block. The routing tag is bound as associated data.
func (c *EncryptionContext) Seal(v uint64) ([NonceSize]byte, [SealedSize]byte, error) {
	var block [SealedSize]byte

	nonce := c.NextNonce()
	aead, err := c.aead(nonce)
	if err != nil {
		return nonce, block, err
	}

	var plain [plainBlockSize]byte
	binary.LittleEndian.PutUint64(plain[:8], v)
	sealed := aead.Seal(nil, aeadNonce(nonce), plain[:], c.tag[:])
	copy(block[:], sealed)
	return nonce, block, nil
}

// Open decrypts a block sealed by this session under nonce.
func (c *EncryptionContext) Open(nonce [NonceSize]byte, block []byte) (uint64, error) {
	if len(block) != SealedSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrInvalidBlock, len(block))
	}
	aead, err := c.aead(nonce)
	if err != nil {
		return 0, err
	}

	plain, err := aead.Open(nil, aeadNonce(nonce), block, c.tag[:])
	if err != nil {
		return 0, ErrAuthentication
	}
	defer SecureErase(plain)

	for _, b := range plain[8:] {
		if b != 0 {
			return 0, fmt.Errorf("%w: non-zero padding", ErrInvalidBlock)
		}
	}
	return binary.LittleEndian.Uint64(plain[:8]), nil
}

// Close erases the ephemeral secret and the shared secret. Further Seal and
// Open calls fail with ErrContextClosed.
func (c *EncryptionContext) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secret.Close()
	c.shared.Close()
}

// Closed reports whether Close has been called.
func (c *EncryptionContext) Closed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shared.IsClosed()
}

func (c *EncryptionContext) aead(nonce [NonceSize]byte) (cipher.AEAD, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.shared.IsClosed() {
		return nil, ErrContextClosed
	}

	key := make([]byte, chacha20poly1305.KeySize)
	defer SecureErase(key)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.shared.Data(), nonce[:], valueKeyInfo), key); err != nil {
		return nil, fmt.Errorf("derive value key: %w", err)
	}
	return chacha20poly1305.New(key)
}

func aeadNonce(nonce [NonceSize]byte) []byte {
	return nonce[:chacha20poly1305.NonceSize]
}
