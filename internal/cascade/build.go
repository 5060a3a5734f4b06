package cascade

import (
	"encoding/hex"
	"fmt"

	"go.uber.org/zap"

	"github.com/LeJamon/goDarkpool/internal/address"
	"github.com/LeJamon/goDarkpool/internal/config"
	"github.com/LeJamon/goDarkpool/internal/ledger"
	"github.com/LeJamon/goDarkpool/internal/metrics"
	"github.com/LeJamon/goDarkpool/internal/provider"
	"github.com/LeJamon/goDarkpool/internal/provider/mpc"
	"github.com/LeJamon/goDarkpool/internal/provider/plaintext"
	"github.com/LeJamon/goDarkpool/internal/provider/tee"
)

// FromConfig builds a cascade over the providers enabled in cfg. The ledger
// client and deriver are used by the MPC provider when no static cluster key
// is configured.
func FromConfig(cfg config.EncryptionConfig, client ledger.Client, deriver *address.Deriver, logger *zap.Logger, rec metrics.Recorder) (*Cascade, error) {
	var providers []provider.Provider

	if cfg.IsEnabled(string(provider.MPC)) {
		var keys mpc.ClusterKeySource
		if cfg.MPC.ClusterKey != "" {
			key, err := mpc.ParseStaticKey(cfg.MPC.ClusterKey)
			if err != nil {
				return nil, err
			}
			keys = key
		} else {
			keys = mpc.NewAccountKeySource(client, deriver)
		}
		providers = append(providers, mpc.New(keys, logger))
	}

	if cfg.IsEnabled(string(provider.TEE)) && cfg.TEE.Endpoint != "" {
		attestation, err := hex.DecodeString(cfg.TEE.AttestationKey)
		if err != nil {
			return nil, fmt.Errorf("encryption.tee.attestation_key: %w", err)
		}
		p, err := tee.New(tee.Config{
			Endpoint:       cfg.TEE.Endpoint,
			AttestationKey: attestation,
			Grant:          cfg.TEE.Grant,
			Timeout:        cfg.TEE.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}

	if cfg.IsEnabled(string(provider.MPCDemo)) && cfg.MPC.Demo {
		providers = append(providers, mpc.NewDemo(logger))
	}

	if cfg.IsEnabled(string(provider.Plaintext)) {
		providers = append(providers, plaintext.New())
	}

	return New(providers, Options{
		Force:     provider.ID(cfg.ForceProvider),
		Preferred: provider.ID(cfg.PreferredProvider),
		Logger:    logger,
		Metrics:   rec,
	})
}
