package proof

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/metrics"
)

func testProof(t *testing.T) Proof {
	t.Helper()
	_, _, g1, g2 := bn254.Generators()

	var a, c bn254.G1Affine
	a.ScalarMultiplication(&g1, big.NewInt(3))
	c.ScalarMultiplication(&g1, big.NewInt(7))
	return Encode(&a, &g2, &c)
}

func TestProofPoints(t *testing.T) {
	p := testProof(t)
	require.NoError(t, p.Validate())

	a, b, c, err := p.Points()
	require.NoError(t, err)
	_, _, g1, g2 := bn254.Generators()
	var want bn254.G1Affine
	want.ScalarMultiplication(&g1, big.NewInt(3))
	assert.True(t, a.Equal(&want))
	assert.True(t, b.Equal(&g2))
	want.ScalarMultiplication(&g1, big.NewInt(7))
	assert.True(t, c.Equal(&want))

	same, err := FromBytes(p[:])
	require.NoError(t, err)
	assert.Equal(t, p, same)
}

func TestMalformedProof(t *testing.T) {
	t.Run("point off the curve", func(t *testing.T) {
		p := testProof(t)
		p[5] ^= 0x01
		assert.ErrorIs(t, p.Validate(), ErrMalformedProof)
	})

	t.Run("corrupted G2 point", func(t *testing.T) {
		p := testProof(t)
		p[g1Size+40] ^= 0x01
		assert.ErrorIs(t, p.Validate(), ErrMalformedProof)
	})

	t.Run("all zero", func(t *testing.T) {
		var p Proof
		assert.ErrorIs(t, p.Validate(), ErrMalformedProof)
	})

	t.Run("wrong size", func(t *testing.T) {
		_, err := FromBytes(make([]byte, ProofSize-1))
		assert.ErrorIs(t, err, ErrInvalidProofSize)
	})
}

func TestNewRequest(t *testing.T) {
	kp, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	params := map[string]uint64{"min_balance": 1_000, "asset": 7}
	req, err := NewRequest(kp, params)
	require.NoError(t, err)

	assert.Equal(t, kp.PublicKey(), req.Owner)
	assert.True(t, ledger.Verify(kp.PublicKey(), req.Message, req.Signature))
	assert.Equal(t, "darkpool eligibility\nowner: "+kp.PublicKey().String()+"\nasset: 7\nmin_balance: 1000\n", string(req.Message))
}

func TestProve(t *testing.T) {
	want := testProof(t)
	kp, err := ledger.GenerateKeypair()
	require.NoError(t, err)

	var got wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(want[:])
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)
	client := New(srv.URL, time.Second, nil, m)

	req, err := NewRequest(kp, map[string]uint64{"min_balance": 18_446_744_073_709_551_615})
	require.NoError(t, err)
	p, err := client.Prove(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, p)

	assert.Equal(t, kp.PublicKey().String(), got.Owner)
	assert.Equal(t, req.Message, got.Message)
	assert.Equal(t, "18446744073709551615", got.Params["min_balance"])
	sig, err := ledger.ParseSignature(got.Signature)
	require.NoError(t, err)
	assert.True(t, ledger.Verify(kp.PublicKey(), got.Message, sig))

	assert.Equal(t, 1, testutil.CollectAndCount(m.ProofLatency))
}

func TestProveErrors(t *testing.T) {
	owner := address.Pubkey{1}
	req := Request{Owner: owner, Message: []byte("m")}

	t.Run("service error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "prover overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := New(srv.URL, time.Second, nil, nil).Prove(context.Background(), req)
		var perr *ProofError
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, http.StatusServiceUnavailable, perr.StatusCode)
		assert.Equal(t, "prover overloaded", perr.Body)
		assert.ErrorIs(t, err, ErrProofService)
	})

	for _, size := range []int{0, ProofSize - 1, ProofSize + 1} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(make([]byte, size))
		}))
		_, err := New(srv.URL, time.Second, nil, nil).Prove(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidProofSize, "size %d", size)
		srv.Close()
	}

	t.Run("malformed points", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write(make([]byte, ProofSize))
		}))
		defer srv.Close()

		_, err := New(srv.URL, time.Second, nil, nil).Prove(context.Background(), req)
		assert.ErrorIs(t, err, ErrMalformedProof)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := New(url, time.Second, nil, nil).Prove(context.Background(), req)
		assert.ErrorIs(t, err, ErrProofService)
	})

	t.Run("no endpoint", func(t *testing.T) {
		_, err := New("", 0, nil, nil).Prove(context.Background(), req)
		assert.ErrorIs(t, err, ErrNoEndpoint)
	})
}
