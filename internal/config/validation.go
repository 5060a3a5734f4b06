package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

func fieldError(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, field, err)
}

func fieldErrorf(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

// Validate performs validation on the complete configuration.
func (c *Config) Validate() error {
	validators := []struct {
		section string
		fn      func() error
	}{
		{"ledger", c.Ledger.Validate},
		{"programs", c.Programs.Validate},
		{"encryption", c.Encryption.Validate},
		{"settlement", c.Settlement.Validate},
		{"tracker", c.Tracker.Validate},
		{"proof", c.Proof.Validate},
		{"logging", c.Logging.Validate},
		{"cache", c.Cache.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s config validation failed: %w", v.section, err)
		}
	}
	return nil
}

// Validate checks the ledger endpoints and timing.
func (l *LedgerConfig) Validate() error {
	if err := validateURL("ledger.rpc_url", l.RPCURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("ledger.ws_url", l.WSURL, "ws", "wss"); err != nil {
		return err
	}
	switch l.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fieldErrorf("ledger.commitment", "invalid commitment %q (valid options: processed, confirmed, finalized)", l.Commitment)
	}
	if l.RequestTimeout <= 0 {
		return fieldErrorf("ledger.request_timeout", "must be positive, got %s", l.RequestTimeout)
	}
	if l.ConfirmTimeout <= 0 {
		return fieldErrorf("ledger.confirm_timeout", "must be positive, got %s", l.ConfirmTimeout)
	}
	if l.PollInterval <= 0 {
		return fieldErrorf("ledger.poll_interval", "must be positive, got %s", l.PollInterval)
	}
	return nil
}

// Validate checks every program id parses.
func (p *ProgramsConfig) Validate() error {
	_, err := p.Parse()
	return err
}

// Validate checks provider ids and the provider subsections that are enabled.
func (e *EncryptionConfig) Validate() error {
	if len(e.Enabled) == 0 {
		return fieldErrorf("encryption.enabled", "at least one provider must be enabled")
	}
	for _, id := range e.Enabled {
		if !containsString(encryptionProviders, id) {
			return fieldErrorf("encryption.enabled", "unknown provider %q (valid options: %s)", id, strings.Join(encryptionProviders, ", "))
		}
	}
	if e.ForceProvider != "" && !e.IsEnabled(e.ForceProvider) {
		return fieldErrorf("encryption.force_provider", "provider %q is not enabled", e.ForceProvider)
	}
	if e.PreferredProvider != "" && !e.IsEnabled(e.PreferredProvider) {
		return fieldErrorf("encryption.preferred_provider", "provider %q is not enabled", e.PreferredProvider)
	}

	if e.MPC.ClusterKey != "" {
		if err := validateHexKey("encryption.mpc.cluster_key", e.MPC.ClusterKey, 32); err != nil {
			return err
		}
	}

	if e.IsEnabled("tee") && e.TEE.Endpoint != "" {
		if err := validateURL("encryption.tee.endpoint", e.TEE.Endpoint, "http", "https"); err != nil {
			return err
		}
		if e.TEE.AttestationKey == "" {
			return fieldErrorf("encryption.tee.attestation_key", "required when the tee endpoint is set")
		}
		if err := validateHexKey("encryption.tee.attestation_key", e.TEE.AttestationKey, 33); err != nil {
			return err
		}
		if e.TEE.Timeout <= 0 {
			return fieldErrorf("encryption.tee.timeout", "must be positive, got %s", e.TEE.Timeout)
		}
	}
	return nil
}

// Validate checks settlement provider ids and the shielded pool fee.
func (s *SettlementConfig) Validate() error {
	for _, id := range s.Enabled {
		if !containsString(settlementProviders, id) {
			return fieldErrorf("settlement.enabled", "unknown provider %q (valid options: %s)", id, strings.Join(settlementProviders, ", "))
		}
	}
	if s.ShieldedFeeBps > 10_000 {
		return fieldErrorf("settlement.shielded_fee_bps", "must be at most 10000, got %d", s.ShieldedFeeBps)
	}
	return nil
}

// Validate checks the tracker timings are consistent.
func (t *TrackerConfig) Validate() error {
	if t.StaleAfter <= 0 {
		return fieldErrorf("tracker.stale_after", "must be positive, got %s", t.StaleAfter)
	}
	if t.SweepInterval <= 0 {
		return fieldErrorf("tracker.sweep_interval", "must be positive, got %s", t.SweepInterval)
	}
	if t.SweepInterval > t.StaleAfter {
		return fieldErrorf("tracker.sweep_interval", "%s exceeds stale_after %s", t.SweepInterval, t.StaleAfter)
	}
	if t.CompareTimeout < 0 || t.FillTimeout < 0 {
		return fieldErrorf("tracker", "timeouts must be non-negative")
	}
	return nil
}

// Validate checks the proof service URL when one is configured.
func (p *ProofConfig) Validate() error {
	if p.URL == "" {
		return nil
	}
	if err := validateURL("proof.url", p.URL, "http", "https"); err != nil {
		return err
	}
	if p.Timeout <= 0 {
		return fieldErrorf("proof.timeout", "must be positive, got %s", p.Timeout)
	}
	return nil
}

// Validate checks the log level name.
func (l *LoggingConfig) Validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fieldErrorf("logging.level", "invalid level %q (valid options: debug, info, warn, error)", l.Level)
	}
}

// Validate checks the cache sizes.
func (c *CacheConfig) Validate() error {
	if c.AddressCacheSize < 0 {
		return fieldErrorf("cache.address_cache_size", "must be non-negative, got %d", c.AddressCacheSize)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fieldError(field, err)
	}
	if !containsString(schemes, u.Scheme) {
		return fieldErrorf(field, "scheme %q not allowed (valid options: %s)", u.Scheme, strings.Join(schemes, ", "))
	}
	if u.Host == "" {
		return fieldErrorf(field, "missing host")
	}
	return nil
}

func validateHexKey(field, value string, size int) error {
	b, err := hex.DecodeString(value)
	if err != nil {
		return fieldError(field, err)
	}
	if len(b) != size {
		return fieldErrorf(field, "expected %d bytes, got %d", size, len(b))
	}
	return nil
}
