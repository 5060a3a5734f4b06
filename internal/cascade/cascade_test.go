package cascade

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/config"
	"github.com/LeJamon/goDarkpool/internal/metrics"
	"github.com/LeJamon/goDarkpool/internal/provider"
	"github.com/LeJamon/goDarkpool/internal/provider/mpc"
	"github.com/LeJamon/goDarkpool/internal/provider/plaintext"
)

// fakeProvider frames values as plaintext but reports the identity, tier
// and readiness it is configured with.
type fakeProvider struct {
	id      provider.ID
	tier    provider.Tier
	initErr error
	encErr  error
	gate    chan struct{}

	initCalls atomic.Int32
	encCalls  atomic.Int32
	ready     atomic.Bool
}

func fake(id provider.ID, tier provider.Tier) *fakeProvider {
	return &fakeProvider{id: id, tier: tier}
}

func (f *fakeProvider) ID() provider.ID     { return f.id }
func (f *fakeProvider) Tier() provider.Tier { return f.tier }
func (f *fakeProvider) Ready() bool         { return f.ready.Load() }
func (f *fakeProvider) Confidential() bool  { return f.id != provider.Plaintext }

func (f *fakeProvider) Initialize(ctx context.Context) error {
	f.initCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.initErr != nil {
		return f.initErr
	}
	f.ready.Store(true)
	return nil
}

func (f *fakeProvider) Handles(format codec.FormatTag) bool {
	return format == codec.FormatPlaintext
}

func (f *fakeProvider) Encrypt(_ context.Context, v uint64) (codec.Payload, error) {
	f.encCalls.Add(1)
	if f.encErr != nil {
		return nil, f.encErr
	}
	return codec.Plaintext{Value: v}, nil
}

func (f *fakeProvider) Decrypt(_ context.Context, p codec.Payload) (uint64, error) {
	return p.(codec.Plaintext).Value, nil
}

type fakes struct {
	mpc, tee, demo, plain *fakeProvider
}

func newFakes() fakes {
	return fakes{
		mpc:   fake(provider.MPC, provider.TierProduction),
		tee:   fake(provider.TEE, provider.TierHardware),
		demo:  fake(provider.MPCDemo, provider.TierDemo),
		plain: fake(provider.Plaintext, provider.TierFallback),
	}
}

// list registers the providers out of priority order on purpose.
func (f fakes) list() []provider.Provider {
	return []provider.Provider{f.plain, f.demo, f.tee, f.mpc}
}

func TestAutoOrder(t *testing.T) {
	f := newFakes()
	f.mpc.initErr = errors.New("cluster offline")

	c, err := New(f.list(), Options{})
	require.NoError(t, err)
	assert.Equal(t, provider.ID(""), c.Active())

	require.NoError(t, c.Initialize(context.Background()))
	assert.Equal(t, provider.TEE, c.Active())

	st := c.Status()
	assert.True(t, st.Degraded)
	assert.True(t, st.Confidential)
	require.Len(t, st.Providers, 4)
	assert.Equal(t, provider.MPC, st.Providers[0].ID)
	assert.Equal(t, "cluster offline", st.Providers[0].LastError)
	assert.False(t, st.Providers[0].Ready)
	assert.Equal(t, provider.Plaintext, st.Providers[3].ID)
}

func TestForceOverride(t *testing.T) {
	ctx := context.Background()

	t.Run("Forced wins over stronger ready providers", func(t *testing.T) {
		f := newFakes()
		c, err := New(f.list(), Options{Force: provider.Plaintext, Preferred: provider.TEE})
		require.NoError(t, err)
		require.NoError(t, c.Initialize(ctx))

		assert.Equal(t, provider.Plaintext, c.Active())
		st := c.Status()
		assert.Equal(t, provider.Plaintext, st.Forced)
		assert.True(t, st.Degraded)
		assert.False(t, st.Confidential)

		_, err = c.Encrypt(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.plain.encCalls.Load())
		assert.Zero(t, f.mpc.encCalls.Load())

		require.NoError(t, c.SetForceOverride(""))
		assert.Equal(t, provider.TEE, c.Active())
		require.NoError(t, c.SetPreference(""))
		assert.Equal(t, provider.MPC, c.Active())
		assert.False(t, c.Status().Degraded)
	})

	t.Run("Forced provider not initialized", func(t *testing.T) {
		f := newFakes()
		f.tee.initErr = errors.New("attestation failed")
		c, err := New(f.list(), Options{Force: provider.TEE})
		require.NoError(t, err)
		require.NoError(t, c.Initialize(ctx))

		assert.Equal(t, provider.TEE, c.Active())
		_, err = c.Encrypt(ctx, 5)
		assert.ErrorIs(t, err, ErrProviderNotInitialized)
		assert.Zero(t, f.mpc.encCalls.Load())
		assert.Zero(t, f.plain.encCalls.Load())
	})

	t.Run("Forced provider failure is not masked", func(t *testing.T) {
		f := newFakes()
		f.demo.encErr = errors.New("boom")
		c, err := New(f.list(), Options{Force: provider.MPCDemo})
		require.NoError(t, err)
		require.NoError(t, c.Initialize(ctx))

		_, err = c.Encrypt(ctx, 5)
		require.Error(t, err)
		var pe *provider.Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, provider.MPCDemo, pe.Provider)
		assert.Equal(t, provider.MPCDemo, c.Active())
	})

	t.Run("Unknown ids", func(t *testing.T) {
		_, err := New(newFakes().list(), Options{Force: "quantum"})
		assert.ErrorIs(t, err, ErrUnknownProvider)

		c, err := New(newFakes().list(), Options{})
		require.NoError(t, err)
		assert.ErrorIs(t, c.SetForceOverride("quantum"), ErrUnknownProvider)
		assert.ErrorIs(t, c.SetPreference("quantum"), ErrUnknownProvider)
		assert.ErrorIs(t, c.MarkReady("quantum"), ErrUnknownProvider)
	})
}

func TestPreference(t *testing.T) {
	f := newFakes()
	f.demo.initErr = errors.New("no entropy")
	c, err := New(f.list(), Options{Preferred: provider.MPCDemo})
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))

	// The preference is ignored while it is not ready.
	assert.Equal(t, provider.MPC, c.Active())

	f.demo.ready.Store(true)
	require.NoError(t, c.MarkReady(provider.MPCDemo))
	assert.Equal(t, provider.MPCDemo, c.Active())
	assert.Equal(t, provider.MPCDemo, c.Status().Preferred)
}

func TestReadinessChanges(t *testing.T) {
	f := newFakes()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)
	c, err := New(f.list(), Options{Metrics: m})
	require.NoError(t, err)

	var mu sync.Mutex
	var events []SwitchEvent
	c.OnSwitch(func(ev SwitchEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	require.NoError(t, c.Initialize(context.Background()))
	require.NoError(t, c.MarkUnavailable(provider.MPC, errors.New("cluster halted")))
	require.NoError(t, c.MarkUnavailable(provider.TEE, nil))
	require.NoError(t, c.MarkReady(provider.MPC))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 4)
	assert.Equal(t, SwitchEvent{From: "", To: provider.MPC}, SwitchEvent{From: events[0].From, To: events[0].To})
	assert.Equal(t, provider.TEE, events[1].To)
	assert.Equal(t, provider.MPCDemo, events[2].To)
	assert.Equal(t, provider.MPC, events[3].To)
	assert.Equal(t, "mpc ready", events[3].Reason)
	assert.False(t, events[3].At.IsZero())

	assert.Equal(t, float64(1), testutil.ToFloat64(m.ProviderSwitches.WithLabelValues("mpc", "tee")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ActiveProvider.WithLabelValues("mpc")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.ActiveProvider.WithLabelValues("mpc-demo")))

	st := c.Status()
	assert.False(t, st.Providers[1].Available)
	assert.True(t, st.Providers[1].Ready)
	assert.Equal(t, "", st.Providers[1].LastError)
	assert.Equal(t, "cluster halted", st.Providers[0].LastError)
}

func TestInitialize(t *testing.T) {
	t.Run("Nothing ready", func(t *testing.T) {
		f := newFakes()
		for _, p := range []*fakeProvider{f.mpc, f.tee, f.demo, f.plain} {
			p.initErr = errors.New("down")
		}
		c, err := New(f.list(), Options{})
		require.NoError(t, err)
		assert.ErrorIs(t, c.Initialize(context.Background()), ErrNoProviderAvailable)

		_, err = c.Encrypt(context.Background(), 1)
		assert.ErrorIs(t, err, ErrNoProviderAvailable)
	})

	t.Run("Slow provider does not block others", func(t *testing.T) {
		f := newFakes()
		f.mpc.gate = make(chan struct{})
		c, err := New(f.list(), Options{})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		require.NoError(t, c.Initialize(ctx))
		assert.Equal(t, provider.TEE, c.Active())
		assert.Contains(t, c.Status().Providers[0].LastError, "deadline")
	})

	t.Run("Concurrent calls share one run", func(t *testing.T) {
		f := newFakes()
		f.plain.gate = make(chan struct{})
		c, err := New(f.list(), Options{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[0] = c.Initialize(context.Background())
		}()
		require.Eventually(t, func() bool { return f.plain.initCalls.Load() == 1 }, time.Second, time.Millisecond)

		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[1] = c.Initialize(context.Background())
		}()
		time.Sleep(50 * time.Millisecond)
		close(f.plain.gate)
		wg.Wait()

		assert.NoError(t, errs[0])
		assert.NoError(t, errs[1])
		assert.Equal(t, int32(1), f.plain.initCalls.Load())
		assert.Equal(t, int32(1), f.mpc.initCalls.Load())
	})
}

func TestEncryptFallsThrough(t *testing.T) {
	f := newFakes()
	f.mpc.encErr = errors.New("mempool full")
	c, err := New(f.list(), Options{})
	require.NoError(t, err)
	require.NoError(t, c.Initialize(context.Background()))

	ev, err := c.Encrypt(context.Background(), 9)
	require.NoError(t, err)
	assert.Equal(t, codec.EncodePlaintext(9), ev)
	assert.Equal(t, provider.TEE, c.Active())
	assert.Equal(t, int32(1), f.tee.encCalls.Load())
	assert.Contains(t, c.Status().Providers[0].LastError, "mempool full")
}

func TestDecryptRouting(t *testing.T) {
	ctx := context.Background()
	prod := mpc.New(mpc.StaticKey{9}, nil)
	demo := mpc.NewDemo(nil)
	plain := plaintext.New()

	c, err := New([]provider.Provider{plain, demo, prod}, Options{})
	require.NoError(t, err)

	_, err = c.Decrypt(ctx, codec.EncodePlaintext(1))
	assert.ErrorIs(t, err, ErrProviderNotInitialized)
	_, err = c.Decrypt(ctx, codec.EncodeTEEHandle([16]byte{15: 1}))
	assert.ErrorIs(t, err, ErrNoProviderAvailable)

	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, provider.MPC, c.Active())

	// Ciphertexts from the demo session are routed past the production
	// session by their tag.
	payload, err := demo.Encrypt(ctx, 77)
	require.NoError(t, err)
	ev, err := codec.Encode(payload)
	require.NoError(t, err)
	v, err := c.Decrypt(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(77), v)

	ev, err = c.Encrypt(ctx, 78)
	require.NoError(t, err)
	v, err = c.Decrypt(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(78), v)

	t.Run("Foreign everywhere", func(t *testing.T) {
		ct := payload.(codec.MPCCiphertext)
		ct.Tag = [16]byte{0xAB}
		foreign, err := codec.Encode(ct)
		require.NoError(t, err)
		v, err := c.Decrypt(ctx, foreign)
		assert.ErrorIs(t, err, provider.ErrForeignCiphertext)
		assert.Zero(t, v)
	})

	t.Run("Tampered", func(t *testing.T) {
		ct := payload.(codec.MPCCiphertext)
		ct.Block[0] ^= 1
		tampered, err := codec.Encode(ct)
		require.NoError(t, err)
		_, err = c.Decrypt(ctx, tampered)
		var pe *provider.Error
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, provider.MPCDemo, pe.Provider)
	})
}

func TestPlaintextEndToEnd(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default().Encryption
	cfg.Enabled = []string{"plaintext"}

	c, err := FromConfig(cfg, nil, nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, c.Initialize(ctx))

	st := c.Status()
	assert.Equal(t, provider.Plaintext, st.Active)
	assert.False(t, st.Confidential)
	assert.False(t, st.Degraded)

	ev, err := c.Encrypt(ctx, 1_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), binary.LittleEndian.Uint64(ev[:8]))
	assert.Equal(t, make([]byte, 56), ev[8:])
	assert.Equal(t, codec.FormatPlaintext, codec.DecodeFormat(ev))

	v, err := c.Decrypt(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), v)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default().Encryption
	cfg.MPC.ClusterKey = "0909090909090909090909090909090909090909090909090909090909090909"
	cfg.ForceProvider = "mpc-demo"

	c, err := FromConfig(cfg, nil, nil, nil, nil)
	require.NoError(t, err)

	st := c.Status()
	assert.Equal(t, provider.MPCDemo, st.Forced)
	// No tee endpoint is configured, so tee is not registered.
	var ids []provider.ID
	for _, p := range st.Providers {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []provider.ID{provider.MPC, provider.MPCDemo, provider.Plaintext}, ids)

	cfg.MPC.ClusterKey = "zz"
	_, err = FromConfig(cfg, nil, nil, nil, nil)
	assert.ErrorIs(t, err, mpc.ErrInvalidClusterKey)
}
