package tee

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	eciesgo "github.com/ecies/go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/provider"
)

// covalidator is an in-memory stand-in for the TEE service.
type covalidator struct {
	t           *testing.T
	attestation *btcec.PrivateKey
	key         *eciesgo.PrivateKey
	grant       string
	signer      *btcec.PrivateKey // signs the attestation; may differ from attestation

	mu     sync.Mutex
	values map[string]uint64
	next   uint64
}

func newCovalidator(t *testing.T) *covalidator {
	attestation, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	key, err := eciesgo.GenerateKey()
	require.NoError(t, err)
	return &covalidator{
		t:           t,
		attestation: attestation,
		key:         key,
		grant:       "grant-1",
		signer:      attestation,
		values:      make(map[string]uint64),
	}
}

func (c *covalidator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case attestationPath:
		pub := c.key.PublicKey.Bytes(true)
		digest := sha256.Sum256(pub)
		sig := btcecdsa.Sign(c.signer, digest[:])
		_ = json.NewEncoder(w).Encode(attestationResponse{
			PublicKey: hex.EncodeToString(pub),
			Signature: hex.EncodeToString(sig.Serialize()),
		})

	case encryptPath:
		var req encryptRequest
		require.NoError(c.t, json.NewDecoder(r.Body).Decode(&req))
		sealed, err := base64.StdEncoding.DecodeString(req.Ciphertext)
		require.NoError(c.t, err)
		plain, err := eciesgo.Decrypt(c.key, sealed)
		if err != nil {
			http.Error(w, "cannot open", http.StatusBadRequest)
			return
		}
		c.mu.Lock()
		c.next++
		var handle [codec.HandleSize]byte
		binary.BigEndian.PutUint64(handle[8:], c.next)
		id := hex.EncodeToString(handle[:])
		c.values[id] = binary.LittleEndian.Uint64(plain)
		c.mu.Unlock()
		_ = json.NewEncoder(w).Encode(encryptResponse{Handle: id})

	case decryptPath:
		var req decryptRequest
		require.NoError(c.t, json.NewDecoder(r.Body).Decode(&req))
		if req.Grant != c.grant {
			http.Error(w, "grant rejected", http.StatusForbidden)
			return
		}
		c.mu.Lock()
		v, ok := c.values[req.Handle]
		c.mu.Unlock()
		if !ok {
			http.Error(w, "unknown handle", http.StatusNotFound)
			return
		}
		_, _ = fmt.Fprintf(w, `{"value":"%d"}`, v)

	default:
		http.NotFound(w, r)
	}
}

func newProvider(t *testing.T, c *covalidator, url, grant string) *Provider {
	p, err := New(Config{
		Endpoint:       url + "/",
		AttestationKey: c.attestation.PubKey().SerializeCompressed(),
		Grant:          grant,
	}, nil)
	require.NoError(t, err)
	return p
}

func TestTEERoundTrip(t *testing.T) {
	cov := newCovalidator(t)
	srv := httptest.NewServer(cov)
	defer srv.Close()

	ctx := context.Background()
	p := newProvider(t, cov, srv.URL, cov.grant)
	assert.False(t, p.Ready())
	_, err := p.Encrypt(ctx, 1)
	assert.ErrorIs(t, err, provider.ErrNotInitialized)

	require.NoError(t, p.Initialize(ctx))
	assert.True(t, p.Ready())
	assert.Equal(t, provider.TEE, p.ID())
	assert.Equal(t, provider.TierHardware, p.Tier())
	assert.True(t, p.Handles(codec.FormatTEE))

	for _, v := range []uint64{0, 42, 1_000_000_000, ^uint64(0)} {
		payload, err := p.Encrypt(ctx, v)
		require.NoError(t, err)

		ev, err := codec.Encode(payload)
		require.NoError(t, err)
		assert.Equal(t, codec.FormatTEE, codec.DecodeFormat(ev))

		got, err := p.Decrypt(ctx, codec.Decode(ev))
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestTEEAttestationRejected(t *testing.T) {
	cov := newCovalidator(t)
	impostor, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	cov.signer = impostor

	srv := httptest.NewServer(cov)
	defer srv.Close()

	p := newProvider(t, cov, srv.URL, cov.grant)
	err = p.Initialize(context.Background())
	assert.ErrorIs(t, err, ErrAttestation)
	assert.False(t, p.Ready())
}

func TestTEEServiceErrors(t *testing.T) {
	cov := newCovalidator(t)
	srv := httptest.NewServer(cov)
	defer srv.Close()

	ctx := context.Background()
	p := newProvider(t, cov, srv.URL, "wrong-grant")
	require.NoError(t, p.Initialize(ctx))

	payload, err := p.Encrypt(ctx, 5)
	require.NoError(t, err)

	t.Run("Grant rejected", func(t *testing.T) {
		_, err := p.Decrypt(ctx, payload)
		assert.ErrorIs(t, err, ErrService)
		assert.Contains(t, err.Error(), "403")
	})

	t.Run("Unknown handle", func(t *testing.T) {
		p.grant = cov.grant
		_, err := p.Decrypt(ctx, codec.TEEHandle{Handle: [16]byte{0xFF}})
		assert.ErrorIs(t, err, ErrService)
	})

	t.Run("Wrong payload", func(t *testing.T) {
		_, err := p.Decrypt(ctx, codec.Plaintext{Value: 5})
		assert.ErrorIs(t, err, provider.ErrUnsupportedPayload)
	})
}

func TestTEEUnreachable(t *testing.T) {
	cov := newCovalidator(t)
	p := newProvider(t, cov, "http://127.0.0.1:1", cov.grant)
	err := p.Initialize(context.Background())
	require.Error(t, err)

	var pe *provider.Error
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, "initialize", pe.Op)
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New(Config{AttestationKey: []byte{1, 2, 3}}, nil)
	assert.ErrorIs(t, err, ErrInvalidAttestationKey)
}
