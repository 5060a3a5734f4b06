package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/LeJamon/goDarkpool/internal/address"
)

// ErrInvalidKeypair is returned when key material cannot be loaded.
var ErrInvalidKeypair = errors.New("invalid keypair")

// Signer signs transaction messages.
type Signer interface {
	PublicKey() address.Pubkey
	Sign(message []byte) (Signature, error)
}

// Keypair is an in-memory ed25519 signer.
type Keypair struct {
	private ed25519.PrivateKey
	public  address.Pubkey
}

// GenerateKeypair creates a random keypair.
func GenerateKeypair() (*Keypair, error) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, err
	}
	return newKeypair(priv), nil
}

// KeypairFromSeed derives a keypair from a 32-byte seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: seed is %d bytes", ErrInvalidKeypair, len(seed))
	}
	return newKeypair(ed25519.NewKeyFromSeed(seed)), nil
}

// KeypairFromBytes loads a 64-byte secret key (seed followed by public key)
// and checks the halves agree.
func KeypairFromBytes(b []byte) (*Keypair, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: key is %d bytes", ErrInvalidKeypair, len(b))
	}
	kp, err := KeypairFromSeed(b[:ed25519.SeedSize])
	if err != nil {
		return nil, err
	}
	if string(kp.public[:]) != string(b[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKeypair)
	}
	return kp, nil
}

// LoadKeypairFile reads a keypair file holding a JSON array of 64 bytes.
func LoadKeypairFile(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair %s: %w", path, err)
	}
	var ints []int
	if err := json.Unmarshal(raw, &ints); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidKeypair, path, err)
	}
	b := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("%w: %s: byte %d out of range", ErrInvalidKeypair, path, i)
		}
		b[i] = byte(v)
	}
	return KeypairFromBytes(b)
}

func newKeypair(priv ed25519.PrivateKey) *Keypair {
	kp := &Keypair{private: priv}
	copy(kp.public[:], priv.Public().(ed25519.PublicKey))
	return kp
}

// PublicKey returns the signer's address.
func (k *Keypair) PublicKey() address.Pubkey {
	return k.public
}

// Sign signs message.
func (k *Keypair) Sign(message []byte) (Signature, error) {
	var sig Signature
	copy(sig[:], ed25519.Sign(k.private, message))
	return sig, nil
}

// Verify checks sig over message against pk.
func Verify(pk address.Pubkey, message []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pk[:]), message, sig[:])
}
