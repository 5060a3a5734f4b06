package settlement

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/logging"
)

// MaxFeeBps is 100%.
const MaxFeeBps = 10_000

// PoolModule is a shielded privacy pool. *WasmPool implements it.
type PoolModule interface {
	Initialize(ctx context.Context) error
	// Transfer moves amount inside the pool, charging fee on top, and returns
	// the pool's receipt id.
	Transfer(ctx context.Context, from, to, mint address.Pubkey, amount, fee uint64) ([ReceiptSize]byte, error)
	Balance(ctx context.Context, owner, mint address.Pubkey) (uint64, error)
}

// ShieldedProvider settles legs inside a shielded pool for a fee.
type ShieldedProvider struct {
	pool   PoolModule
	feeBps uint16
	ready  atomic.Bool
	logger *zap.Logger
}

// NewShieldedProvider wraps pool. The provider is not available until
// Initialize succeeds.
func NewShieldedProvider(pool PoolModule, feeBps uint16, logger *zap.Logger) (*ShieldedProvider, error) {
	if feeBps > MaxFeeBps {
		return nil, fmt.Errorf("shielded fee %d bps exceeds %d", feeBps, MaxFeeBps)
	}
	return &ShieldedProvider{
		pool:   pool,
		feeBps: feeBps,
		logger: logging.OrNop(logger).Named("shielded"),
	}, nil
}

func (p *ShieldedProvider) ID() ProviderID { return Shielded }

// Initialize initializes the pool module.
func (p *ShieldedProvider) Initialize(ctx context.Context) error {
	if err := p.pool.Initialize(ctx); err != nil {
		p.ready.Store(false)
		return err
	}
	p.ready.Store(true)
	p.logger.Info("shielded pool ready", zap.Uint16("fee_bps", p.feeBps))
	return nil
}

func (p *ShieldedProvider) Available(context.Context) bool {
	return p.ready.Load()
}

// Fee returns the pool fee charged for amount, rounded down.
func (p *ShieldedProvider) Fee(amount uint64) uint64 {
	bps := uint64(p.feeBps)
	return amount/MaxFeeBps*bps + amount%MaxFeeBps*bps/MaxFeeBps
}

func (p *ShieldedProvider) Transfer(ctx context.Context, leg Leg) (Receipt, error) {
	if !p.ready.Load() {
		return Receipt{}, ErrShieldedUnavailable
	}
	fee := p.Fee(leg.Amount)
	id, err := p.pool.Transfer(ctx, leg.From, leg.To, leg.Mint, leg.Amount, fee)
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{
		Provider:  Shielded,
		Reference: hex.EncodeToString(id[:]),
		Hidden:    true,
		Fee:       fee,
	}, nil
}

// Balance returns owner's pool balance of mint.
func (p *ShieldedProvider) Balance(ctx context.Context, owner, mint address.Pubkey) (uint64, error) {
	if !p.ready.Load() {
		return 0, ErrShieldedUnavailable
	}
	return p.pool.Balance(ctx, owner, mint)
}
