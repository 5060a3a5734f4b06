// Package tee implements the trusted-execution provider. Values are sent,
// encrypted to an attested covalidator key, to the covalidator, which keeps
// them and returns an opaque handle.
package tee

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	eciesgo "github.com/ecies/go/v2"
	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/provider"
)

const (
	attestationPath = "/v1/attestation"
	encryptPath     = "/v1/encrypt"
	decryptPath     = "/v1/decrypt"

	maxResponseSize = 1 << 16
)

var (
	// ErrAttestation is returned when the covalidator key is not signed by
	// the configured attestation key.
	ErrAttestation = errors.New("covalidator attestation failed")
	// ErrService is returned for non-success responses from the covalidator.
	ErrService = errors.New("covalidator request failed")
	// ErrInvalidHandle is returned when the covalidator answers with a
	// malformed handle.
	ErrInvalidHandle = errors.New("invalid value handle")
	// ErrInvalidAttestationKey is returned by New for a malformed key.
	ErrInvalidAttestationKey = errors.New("invalid attestation key")
)

// Config configures a TEE provider.
type Config struct {
	Endpoint string
	// AttestationKey is the compressed secp256k1 key that signs covalidator
	// keys.
	AttestationKey []byte
	// Grant authorizes this client to have handles decrypted.
	Grant   string
	Timeout time.Duration
}

type attestationResponse struct {
	PublicKey string `json:"public_key"`
	Signature string `json:"signature"`
}

type encryptRequest struct {
	Ciphertext string `json:"ciphertext"`
}

type encryptResponse struct {
	Handle string `json:"handle"`
}

type decryptRequest struct {
	Handle string `json:"handle"`
	Grant  string `json:"grant"`
}

type decryptResponse struct {
	Value uint64 `json:"value,string"`
}

// Provider talks to a TEE covalidator over HTTP.
type Provider struct {
	endpoint    string
	attestation *btcec.PublicKey
	grant       string
	http        *http.Client
	logger      *zap.Logger

	mu          sync.RWMutex
	covalidator *eciesgo.PublicKey
}

// New creates a provider. Nothing is contacted until Initialize.
func New(cfg Config, logger *zap.Logger) (*Provider, error) {
	key, err := btcec.ParsePubKey(cfg.AttestationKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAttestationKey, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Provider{
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		attestation: key,
		grant:       cfg.Grant,
		http:        &http.Client{Timeout: timeout},
		logger:      logging.OrNop(logger).Named("tee"),
	}, nil
}

func (p *Provider) ID() provider.ID     { return provider.TEE }
func (p *Provider) Tier() provider.Tier { return provider.TierHardware }
func (p *Provider) Confidential() bool  { return true }

func (p *Provider) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.covalidator != nil
}

func (p *Provider) Handles(format codec.FormatTag) bool {
	return format == codec.FormatTEE
}

// Initialize fetches and verifies the covalidator's attested key.
func (p *Provider) Initialize(ctx context.Context) error {
	var resp attestationResponse
	if err := p.do(ctx, http.MethodGet, attestationPath, nil, &resp); err != nil {
		return provider.Wrap(provider.TEE, "initialize", err)
	}
	key, err := VerifyAttestation(p.attestation, resp.PublicKey, resp.Signature)
	if err != nil {
		return provider.Wrap(provider.TEE, "initialize", err)
	}

	p.mu.Lock()
	p.covalidator = key
	p.mu.Unlock()

	p.logger.Debug("covalidator attested", zap.String("key", resp.PublicKey))
	return nil
}

// VerifyAttestation checks that signatureHex is a DER signature by
// attestation over SHA-256 of the covalidator key, and returns that key.
func VerifyAttestation(attestation *btcec.PublicKey, publicKeyHex, signatureHex string) (*eciesgo.PublicKey, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrAttestation, err)
	}
	der, err := hex.DecodeString(signatureHex)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrAttestation, err)
	}
	sig, err := btcecdsa.ParseDERSignature(der)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrAttestation, err)
	}
	digest := sha256.Sum256(raw)
	if !sig.Verify(digest[:], attestation) {
		return nil, ErrAttestation
	}
	key, err := eciesgo.NewPublicKeyFromBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrAttestation, err)
	}
	return key, nil
}

func (p *Provider) covalidatorKey() *eciesgo.PublicKey {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.covalidator
}

func (p *Provider) Encrypt(ctx context.Context, value uint64) (codec.Payload, error) {
	key := p.covalidatorKey()
	if key == nil {
		return nil, provider.Wrap(provider.TEE, "encrypt", provider.ErrNotInitialized)
	}

	var scalar [8]byte
	binary.LittleEndian.PutUint64(scalar[:], value)
	sealed, err := eciesgo.Encrypt(key, scalar[:])
	if err != nil {
		return nil, provider.Wrap(provider.TEE, "encrypt", err)
	}

	var resp encryptResponse
	req := encryptRequest{Ciphertext: base64.StdEncoding.EncodeToString(sealed)}
	if err := p.do(ctx, http.MethodPost, encryptPath, req, &resp); err != nil {
		return nil, provider.Wrap(provider.TEE, "encrypt", err)
	}

	handle, err := hex.DecodeString(resp.Handle)
	if err != nil || len(handle) != codec.HandleSize {
		return nil, provider.Wrap(provider.TEE, "encrypt", fmt.Errorf("%w: %q", ErrInvalidHandle, resp.Handle))
	}
	var h codec.TEEHandle
	copy(h.Handle[:], handle)
	return h, nil
}

func (p *Provider) Decrypt(ctx context.Context, payload codec.Payload) (uint64, error) {
	if !p.Ready() {
		return 0, provider.Wrap(provider.TEE, "decrypt", provider.ErrNotInitialized)
	}

	var h codec.TEEHandle
	switch pl := payload.(type) {
	case codec.TEEHandle:
		h = pl
	case *codec.TEEHandle:
		h = *pl
	default:
		return 0, provider.Wrap(provider.TEE, "decrypt",
			fmt.Errorf("%w: %s", provider.ErrUnsupportedPayload, payload.Format()))
	}

	var resp decryptResponse
	req := decryptRequest{Handle: hex.EncodeToString(h.Handle[:]), Grant: p.grant}
	if err := p.do(ctx, http.MethodPost, decryptPath, req, &resp); err != nil {
		return 0, provider.Wrap(provider.TEE, "decrypt", err)
	}
	return resp.Value, nil
}

func (p *Provider) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s %s: status %d: %s", ErrService, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
