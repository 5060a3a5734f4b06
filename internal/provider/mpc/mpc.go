// Package mpc implements the multi-party computation provider. Values are
// sealed under a session key agreed with the cluster's x25519 key and can be
// computed on by the cluster without being revealed.
package mpc

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/crypto"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/provider"
)

// Provider encrypts values for an MPC cluster.
type Provider struct {
	id     provider.ID
	tier   provider.Tier
	keys   ClusterKeySource
	logger *zap.Logger

	mu      sync.RWMutex
	session *crypto.EncryptionContext
}

// New returns the production provider reading the cluster key from keys.
func New(keys ClusterKeySource, logger *zap.Logger) *Provider {
	return &Provider{
		id:     provider.MPC,
		tier:   provider.TierProduction,
		keys:   keys,
		logger: logging.OrNop(logger).Named("mpc"),
	}
}

// NewDemo returns a provider against a locally generated cluster key. It
// exercises the full encryption path without a live cluster.
func NewDemo(logger *zap.Logger) *Provider {
	return &Provider{
		id:     provider.MPCDemo,
		tier:   provider.TierDemo,
		keys:   localCluster{},
		logger: logging.OrNop(logger).Named("mpc-demo"),
	}
}

func (p *Provider) ID() provider.ID     { return p.id }
func (p *Provider) Tier() provider.Tier { return p.tier }
func (p *Provider) Confidential() bool  { return true }

func (p *Provider) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session != nil && !p.session.Closed()
}

// Initialize fetches the cluster key and opens a new session. A previous
// session is closed; ciphertexts it produced can no longer be opened here.
func (p *Provider) Initialize(ctx context.Context) error {
	key, err := p.keys.ClusterKey(ctx)
	if err != nil {
		return provider.Wrap(p.id, "initialize", err)
	}
	session, err := crypto.NewEncryptionContext(string(p.id), key[:])
	if err != nil {
		return provider.Wrap(p.id, "initialize", err)
	}

	p.mu.Lock()
	old := p.session
	p.session = session
	p.mu.Unlock()
	if old != nil {
		old.Close()
	}

	tag := session.Tag()
	p.logger.Debug("session opened", zap.Binary("tag", tag[:]))
	return nil
}

// Session returns the current encryption context, or nil before Initialize.
func (p *Provider) Session() *crypto.EncryptionContext {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

func (p *Provider) Handles(format codec.FormatTag) bool {
	return format == codec.FormatMPC
}

func (p *Provider) Encrypt(_ context.Context, value uint64) (codec.Payload, error) {
	session := p.Session()
	if session == nil {
		return nil, provider.Wrap(p.id, "encrypt", provider.ErrNotInitialized)
	}
	nonce, block, err := session.Seal(value)
	if err != nil {
		return nil, provider.Wrap(p.id, "encrypt", err)
	}
	return codec.MPCCiphertext{Nonce: nonce, Block: block, Tag: session.Tag()}, nil
}

func (p *Provider) Decrypt(_ context.Context, payload codec.Payload) (uint64, error) {
	session := p.Session()
	if session == nil {
		return 0, provider.Wrap(p.id, "decrypt", provider.ErrNotInitialized)
	}

	var ct codec.MPCCiphertext
	switch pl := payload.(type) {
	case codec.MPCCiphertext:
		ct = pl
	case *codec.MPCCiphertext:
		ct = *pl
	default:
		return 0, provider.Wrap(p.id, "decrypt",
			fmt.Errorf("%w: %s", provider.ErrUnsupportedPayload, payload.Format()))
	}

	if ct.Tag != session.Tag() {
		return 0, provider.Wrap(p.id, "decrypt", provider.ErrForeignCiphertext)
	}
	v, err := session.Open(ct.Nonce, ct.Block[:])
	if err != nil {
		return 0, provider.Wrap(p.id, "decrypt", err)
	}
	return v, nil
}

// Close ends the session and erases its key material.
func (p *Provider) Close() {
	p.mu.Lock()
	session := p.session
	p.session = nil
	p.mu.Unlock()
	if session != nil {
		session.Close()
	}
}
