package mpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/crypto"
	"github.com/LeJamon/goDarkpool/internal/ledger"
)

// Layout of the MXE account: an 8-byte account discriminator followed by the
// cluster's x25519 public key.
const (
	mxeKeyOffset = 8
	mxeKeyEnd    = mxeKeyOffset + crypto.KeySize
)

var (
	// ErrClusterKeyUnset is returned when the MXE account exists but the
	// cluster has not published its key yet.
	ErrClusterKeyUnset = errors.New("cluster key not published")
	// ErrInvalidClusterKey is returned for malformed static keys or MXE data.
	ErrInvalidClusterKey = errors.New("invalid cluster key")
)

// ClusterKeySource yields the x25519 public key of the MPC cluster.
type ClusterKeySource interface {
	ClusterKey(ctx context.Context) ([crypto.KeySize]byte, error)
}

// StaticKey is a cluster key supplied by configuration.
type StaticKey [crypto.KeySize]byte

// ParseStaticKey decodes a hex encoded cluster key.
func ParseStaticKey(s string) (StaticKey, error) {
	var k StaticKey
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%w: %v", ErrInvalidClusterKey, err)
	}
	if len(b) != crypto.KeySize {
		return k, fmt.Errorf("%w: %d bytes", ErrInvalidClusterKey, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func (k StaticKey) ClusterKey(context.Context) ([crypto.KeySize]byte, error) {
	return k, nil
}

// AccountKeySource reads the cluster key from the MXE account bound to the
// darkpool program.
type AccountKeySource struct {
	client  ledger.Client
	deriver *address.Deriver
}

// NewAccountKeySource creates a key source backed by the ledger.
func NewAccountKeySource(client ledger.Client, deriver *address.Deriver) *AccountKeySource {
	return &AccountKeySource{client: client, deriver: deriver}
}

func (s *AccountKeySource) ClusterKey(ctx context.Context) ([crypto.KeySize]byte, error) {
	var key [crypto.KeySize]byte

	mxe, err := s.deriver.MXE()
	if err != nil {
		return key, fmt.Errorf("derive mxe account: %w", err)
	}
	info, err := s.client.GetAccountInfo(ctx, mxe.Address)
	if err != nil {
		return key, fmt.Errorf("read mxe account %s: %w", mxe.Address, err)
	}
	return ParseMXEAccount(info.Data)
}

// ParseMXEAccount extracts the cluster key from raw MXE account data.
func ParseMXEAccount(data []byte) ([crypto.KeySize]byte, error) {
	var key [crypto.KeySize]byte
	if len(data) < mxeKeyEnd {
		return key, fmt.Errorf("%w: mxe account is %d bytes", ErrInvalidClusterKey, len(data))
	}
	copy(key[:], data[mxeKeyOffset:mxeKeyEnd])
	if key == ([crypto.KeySize]byte{}) {
		return key, ErrClusterKeyUnset
	}
	return key, nil
}

// localCluster stands in for a cluster in demo mode. Only its public half is
// ever used; the scalar is erased immediately.
type localCluster struct{}

func (localCluster) ClusterKey(context.Context) ([crypto.KeySize]byte, error) {
	public, secret, err := crypto.GenerateX25519()
	if err != nil {
		return public, err
	}
	secret.Close()
	return public, nil
}
