package mpc

import (
	"context"
	"crypto/sha256"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/crypto"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/ledger/mock"
	"github.com/LeJamon/goDarkpool/internal/provider"
)

func clusterKey(t *testing.T) StaticKey {
	t.Helper()
	public, secret, err := crypto.GenerateX25519()
	require.NoError(t, err)
	secret.Close()
	return StaticKey(public)
}

func TestEncryptDecrypt(t *testing.T) {
	ctx := context.Background()
	p := New(clusterKey(t), nil)

	_, err := p.Encrypt(ctx, 1)
	assert.ErrorIs(t, err, provider.ErrNotInitialized)
	assert.False(t, p.Ready())

	require.NoError(t, p.Initialize(ctx))
	assert.True(t, p.Ready())
	assert.Equal(t, provider.MPC, p.ID())
	assert.Equal(t, provider.TierProduction, p.Tier())
	assert.True(t, p.Confidential())
	assert.True(t, p.Handles(codec.FormatMPC))
	assert.False(t, p.Handles(codec.FormatPlaintext))

	for _, v := range []uint64{0, 1, 1_000_000_000, ^uint64(0)} {
		payload, err := p.Encrypt(ctx, v)
		require.NoError(t, err)

		ct, ok := payload.(codec.MPCCiphertext)
		require.True(t, ok)
		assert.Equal(t, p.Session().Tag(), ct.Tag)

		// The frame must survive the wire and still be classified as MPC.
		ev, err := codec.Encode(payload)
		require.NoError(t, err)
		assert.Equal(t, codec.FormatMPC, codec.DecodeFormat(ev))

		got, err := p.Decrypt(ctx, codec.Decode(ev))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestNoncesAdvance(t *testing.T) {
	ctx := context.Background()
	p := NewDemo(nil)
	require.NoError(t, p.Initialize(ctx))

	seen := make(map[[16]byte]bool)
	for i := 0; i < 100; i++ {
		payload, err := p.Encrypt(ctx, 42)
		require.NoError(t, err)
		ct := payload.(codec.MPCCiphertext)
		assert.False(t, seen[ct.Nonce], "nonce reused")
		seen[ct.Nonce] = true
		assert.Equal(t, uint64(i+1), ct.NonceCounter())
	}
}

func TestDecryptRejections(t *testing.T) {
	ctx := context.Background()
	p := NewDemo(nil)
	require.NoError(t, p.Initialize(ctx))
	assert.Equal(t, provider.MPCDemo, p.ID())
	assert.Equal(t, provider.TierDemo, p.Tier())

	payload, err := p.Encrypt(ctx, 7)
	require.NoError(t, err)
	ct := payload.(codec.MPCCiphertext)

	t.Run("Foreign tag", func(t *testing.T) {
		other := ct
		other.Tag[0] ^= 1
		_, err := p.Decrypt(ctx, other)
		assert.ErrorIs(t, err, provider.ErrForeignCiphertext)

		var pe *provider.Error
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, provider.MPCDemo, pe.Provider)
		assert.Equal(t, "decrypt", pe.Op)
	})

	t.Run("Tampered block", func(t *testing.T) {
		tampered := ct
		tampered.Block[3] ^= 0x80
		_, err := p.Decrypt(ctx, tampered)
		assert.ErrorIs(t, err, crypto.ErrAuthentication)
	})

	t.Run("Wrong payload", func(t *testing.T) {
		_, err := p.Decrypt(ctx, codec.Plaintext{Value: 7})
		assert.ErrorIs(t, err, provider.ErrUnsupportedPayload)
	})

	t.Run("New session", func(t *testing.T) {
		require.NoError(t, p.Initialize(ctx))
		_, err := p.Decrypt(ctx, ct)
		assert.ErrorIs(t, err, provider.ErrForeignCiphertext)
	})

	t.Run("Closed", func(t *testing.T) {
		p.Close()
		assert.False(t, p.Ready())
		_, err := p.Decrypt(ctx, ct)
		assert.ErrorIs(t, err, provider.ErrNotInitialized)
	})
}

func TestParseStaticKey(t *testing.T) {
	k, err := ParseStaticKey("0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20")
	require.NoError(t, err)
	assert.Equal(t, byte(1), k[0])
	assert.Equal(t, byte(0x20), k[31])

	_, err = ParseStaticKey("abcd")
	assert.ErrorIs(t, err, ErrInvalidClusterKey)
	_, err = ParseStaticKey("zz")
	assert.ErrorIs(t, err, ErrInvalidClusterKey)
}

func TestAccountKeySource(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mock.NewMockClient(ctrl)

	darkpool := address.Pubkey(sha256.Sum256([]byte("darkpool")))
	deriver, err := address.NewDeriver(address.Programs{Darkpool: darkpool, MPC: address.TokenProgram}, 16)
	require.NoError(t, err)
	mxe, err := deriver.MXE()
	require.NoError(t, err)

	key := clusterKey(t)
	data := make([]byte, 8+32+16)
	copy(data[8:], key[:])

	client.EXPECT().GetAccountInfo(gomock.Any(), mxe.Address).Return(&ledger.AccountInfo{Data: data}, nil)

	src := NewAccountKeySource(client, deriver)
	got, err := src.ClusterKey(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [32]byte(key), got)

	t.Run("Provider", func(t *testing.T) {
		client.EXPECT().GetAccountInfo(gomock.Any(), mxe.Address).Return(&ledger.AccountInfo{Data: data}, nil)
		p := New(src, nil)
		require.NoError(t, p.Initialize(context.Background()))
		assert.Equal(t, [32]byte(key), p.Session().PeerKey())
	})

	t.Run("Ledger error", func(t *testing.T) {
		client.EXPECT().GetAccountInfo(gomock.Any(), mxe.Address).Return(nil, ledger.ErrAccountNotFound)
		p := New(src, nil)
		err := p.Initialize(context.Background())
		assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
		assert.False(t, p.Ready())
	})
}

func TestParseMXEAccount(t *testing.T) {
	_, err := ParseMXEAccount(make([]byte, 20))
	assert.ErrorIs(t, err, ErrInvalidClusterKey)

	_, err = ParseMXEAccount(make([]byte, 40))
	assert.ErrorIs(t, err, ErrClusterKeyUnset)
}
