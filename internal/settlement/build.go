package settlement

import (
	"context"

	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/config"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/logging"
	"github.com/LeJamon/goDarkpool/internal/metrics"
)

// Deps are the collaborators FromConfig wires providers to.
type Deps struct {
	Client    ledger.Client
	Submitter Submitter
	Deriver   *address.Deriver
	Encrypter Encrypter
	Logger    *zap.Logger
	Metrics   metrics.Recorder
}

// FromConfig builds a Cascade with the enabled providers. A shielded pool
// that fails to initialize stays registered but unavailable.
func FromConfig(ctx context.Context, cfg config.SettlementConfig, programs config.ProgramIDs, deps Deps) (*Cascade, error) {
	logger := logging.OrNop(deps.Logger)

	var (
		providers []TransferProvider
		closers   []func(context.Context) error
	)
	if cfg.IsEnabled(string(Confidential)) && deps.Encrypter != nil {
		providers = append(providers, NewConfidentialProvider(programs.ConfidentialToken, deps.Submitter, deps.Deriver, deps.Encrypter))
	}
	if cfg.IsEnabled(string(Shielded)) && cfg.ShieldedPoolWasm != "" {
		pool, err := LoadWasmPool(ctx, cfg.ShieldedPoolWasm)
		if err != nil {
			return nil, err
		}
		closers = append(closers, pool.Close)
		sp, err := NewShieldedProvider(pool, cfg.ShieldedFeeBps, logger)
		if err != nil {
			pool.Close(ctx)
			return nil, err
		}
		if err := sp.Initialize(ctx); err != nil {
			logger.Warn("shielded pool initialization failed", zap.Error(err))
		}
		providers = append(providers, sp)
	}
	if cfg.IsEnabled(string(Public)) {
		providers = append(providers, NewPublicProvider(programs.Token, deps.Client, deps.Submitter, deps.Deriver))
	}

	c := NewCascade(providers, deps.Logger, deps.Metrics)
	c.closers = closers
	return c, nil
}
