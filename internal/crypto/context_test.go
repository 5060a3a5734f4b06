package crypto

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *EncryptionContext {
	t.Helper()
	peer, peerSecret, err := GenerateX25519()
	require.NoError(t, err)
	peerSecret.Close()

	ctx, err := NewEncryptionContext("mpc", peer[:])
	require.NoError(t, err)
	t.Cleanup(ctx.Close)
	return ctx
}

func TestNewEncryptionContext(t *testing.T) {
	t.Run("Rejects short peer key", func(t *testing.T) {
		_, err := NewEncryptionContext("mpc", make([]byte, 31))
		assert.ErrorIs(t, err, ErrInvalidPeerKey)
	})

	t.Run("Rejects low order peer key", func(t *testing.T) {
		_, err := NewEncryptionContext("mpc", make([]byte, KeySize))
		assert.ErrorIs(t, err, ErrInvalidPeerKey)
	})

	t.Run("Sessions are independent", func(t *testing.T) {
		a := newTestContext(t)
		b := newTestContext(t)
		assert.NotEqual(t, a.PublicKey(), b.PublicKey())
		assert.NotEqual(t, a.Tag(), b.Tag())
		pub := a.PublicKey()
		assert.Equal(t, RoutingTag(pub[:]), a.Tag())
		assert.Equal(t, "mpc", a.ProviderID())
	})
}

func TestNextNonce(t *testing.T) {
	t.Run("Strictly increasing counter", func(t *testing.T) {
		ctx := newTestContext(t)
		var last uint64
		for i := 0; i < 100; i++ {
			n := NonceCounter(ctx.NextNonce())
			assert.Greater(t, n, last)
			last = n
		}
		assert.Equal(t, uint64(100), ctx.Counter())
	})

	t.Run("Unique under concurrency", func(t *testing.T) {
		ctx := newTestContext(t)
		const workers, perWorker = 8, 250

		var mu sync.Mutex
		seen := make(map[[NonceSize]byte]struct{}, workers*perWorker)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				local := make([][NonceSize]byte, 0, perWorker)
				for i := 0; i < perWorker; i++ {
					local = append(local, ctx.NextNonce())
				}
				mu.Lock()
				defer mu.Unlock()
				for _, n := range local {
					seen[n] = struct{}{}
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, workers*perWorker)
	})

	t.Run("Carries session salt", func(t *testing.T) {
		ctx := newTestContext(t)
		a := ctx.NextNonce()
		b := ctx.NextNonce()
		assert.Equal(t, a[8:], b[8:])
	})

	t.Run("Panics on exhaustion", func(t *testing.T) {
		ctx := newTestContext(t)
		ctx.counter.Store(math.MaxUint64 - 1)
		assert.NotPanics(t, func() { ctx.NextNonce() })
		assert.Panics(t, func() { ctx.NextNonce() })
	})
}

func TestSealOpen(t *testing.T) {
	ctx := newTestContext(t)

	for _, v := range []uint64{0, 1, 238, 1_000_000_000, math.MaxUint64} {
		nonce, block, err := ctx.Seal(v)
		require.NoError(t, err)

		got, err := ctx.Open(nonce, block[:])
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}

	t.Run("Same value seals differently", func(t *testing.T) {
		_, a, err := ctx.Seal(42)
		require.NoError(t, err)
		_, b, err := ctx.Seal(42)
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})

	t.Run("Tampered block fails", func(t *testing.T) {
		nonce, block, err := ctx.Seal(7)
		require.NoError(t, err)
		block[0] ^= 0x01
		_, err = ctx.Open(nonce, block[:])
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("Wrong nonce fails", func(t *testing.T) {
		_, block, err := ctx.Seal(7)
		require.NoError(t, err)
		_, err = ctx.Open(ctx.NextNonce(), block[:])
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("Other session cannot open", func(t *testing.T) {
		nonce, block, err := ctx.Seal(7)
		require.NoError(t, err)
		other := newTestContext(t)
		_, err = other.Open(nonce, block[:])
		assert.ErrorIs(t, err, ErrAuthentication)
	})

	t.Run("Short block", func(t *testing.T) {
		_, err := ctx.Open(ctx.NextNonce(), make([]byte, 10))
		assert.ErrorIs(t, err, ErrInvalidBlock)
	})
}

func TestClose(t *testing.T) {
	ctx := newTestContext(t)
	nonce, block, err := ctx.Seal(1)
	require.NoError(t, err)

	ctx.Close()
	assert.True(t, ctx.Closed())

	_, _, err = ctx.Seal(1)
	assert.ErrorIs(t, err, ErrContextClosed)
	_, err = ctx.Open(nonce, block[:])
	assert.ErrorIs(t, err, ErrContextClosed)

	ctx.Close()
}
