// Package plaintext is the development fallback provider. Values are framed
// in the plaintext layout and are visible to anyone reading the ledger.
package plaintext

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/LeJamon/goDarkpool/internal/codec"
	"github.com/LeJamon/goDarkpool/internal/provider"
)

// Provider encodes values without encryption.
type Provider struct {
	ready atomic.Bool
}

// New returns an uninitialized plaintext provider.
func New() *Provider {
	return &Provider{}
}

func (p *Provider) ID() provider.ID     { return provider.Plaintext }
func (p *Provider) Tier() provider.Tier { return provider.TierFallback }
func (p *Provider) Confidential() bool  { return false }
func (p *Provider) Ready() bool         { return p.ready.Load() }

// Initialize always succeeds.
func (p *Provider) Initialize(context.Context) error {
	p.ready.Store(true)
	return nil
}

func (p *Provider) Handles(format codec.FormatTag) bool {
	return format == codec.FormatPlaintext
}

func (p *Provider) Encrypt(_ context.Context, value uint64) (codec.Payload, error) {
	if !p.Ready() {
		return nil, provider.ErrNotInitialized
	}
	return codec.Plaintext{Value: value}, nil
}

func (p *Provider) Decrypt(_ context.Context, payload codec.Payload) (uint64, error) {
	if !p.Ready() {
		return 0, provider.ErrNotInitialized
	}
	switch pl := payload.(type) {
	case codec.Plaintext:
		return pl.Value, nil
	case *codec.Plaintext:
		return pl.Value, nil
	default:
		return 0, fmt.Errorf("%w: %s", provider.ErrUnsupportedPayload, payload.Format())
	}
}
