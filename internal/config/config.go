package config

import (
	"time"

	"github.com/LeJamon/goDarkpool/internal/address"
)

// Config is the complete client configuration.
type Config struct {
	Ledger     LedgerConfig     `toml:"ledger" mapstructure:"ledger"`
	Programs   ProgramsConfig   `toml:"programs" mapstructure:"programs"`
	Cluster    ClusterConfig    `toml:"cluster" mapstructure:"cluster"`
	Encryption EncryptionConfig `toml:"encryption" mapstructure:"encryption"`
	Settlement SettlementConfig `toml:"settlement" mapstructure:"settlement"`
	Tracker    TrackerConfig    `toml:"tracker" mapstructure:"tracker"`
	Proof      ProofConfig      `toml:"proof" mapstructure:"proof"`
	Logging    LoggingConfig    `toml:"logging" mapstructure:"logging"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	Cache      CacheConfig      `toml:"cache" mapstructure:"cache"`

	configPath string
}

// LedgerConfig represents the [ledger] section: the JSON-RPC and websocket
// endpoints of the ledger node.
type LedgerConfig struct {
	RPCURL         string        `toml:"rpc_url" mapstructure:"rpc_url"`
	WSURL          string        `toml:"ws_url" mapstructure:"ws_url"`
	Commitment     string        `toml:"commitment" mapstructure:"commitment"`
	RequestTimeout time.Duration `toml:"request_timeout" mapstructure:"request_timeout"`
	ConfirmTimeout time.Duration `toml:"confirm_timeout" mapstructure:"confirm_timeout"`
	PollInterval   time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
}

// ProgramsConfig represents the [programs] section. Values are base58
// program ids.
type ProgramsConfig struct {
	Darkpool          string `toml:"darkpool" mapstructure:"darkpool"`
	MPC               string `toml:"mpc" mapstructure:"mpc"`
	Token             string `toml:"token" mapstructure:"token"`
	ConfidentialToken string `toml:"confidential_token" mapstructure:"confidential_token"`
}

// ProgramIDs is the parsed form of ProgramsConfig.
type ProgramIDs struct {
	Darkpool          address.Pubkey
	MPC               address.Pubkey
	Token             address.Pubkey
	ConfidentialToken address.Pubkey
}

// ClusterConfig represents the [cluster] section.
type ClusterConfig struct {
	Offset uint32 `toml:"offset" mapstructure:"offset"`
}

// EncryptionConfig represents the [encryption] section and its provider
// subsections.
type EncryptionConfig struct {
	ForceProvider     string    `toml:"force_provider" mapstructure:"force_provider"`
	PreferredProvider string    `toml:"preferred_provider" mapstructure:"preferred_provider"`
	Enabled           []string  `toml:"enabled" mapstructure:"enabled"`
	MPC               MPCConfig `toml:"mpc" mapstructure:"mpc"`
	TEE               TEEConfig `toml:"tee" mapstructure:"tee"`
}

// MPCConfig represents [encryption.mpc]. When ClusterKey is empty the key is
// read from the MXE account on the ledger.
type MPCConfig struct {
	ClusterKey string `toml:"cluster_key" mapstructure:"cluster_key"`
	Demo       bool   `toml:"demo" mapstructure:"demo"`
}

// TEEConfig represents [encryption.tee].
type TEEConfig struct {
	Endpoint       string        `toml:"endpoint" mapstructure:"endpoint"`
	AttestationKey string        `toml:"attestation_key" mapstructure:"attestation_key"`
	Grant          string        `toml:"grant" mapstructure:"grant"`
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// SettlementConfig represents the [settlement] section.
type SettlementConfig struct {
	Enabled          []string `toml:"enabled" mapstructure:"enabled"`
	ShieldedPoolWasm string   `toml:"shielded_pool_wasm" mapstructure:"shielded_pool_wasm"`
	ShieldedFeeBps   uint16   `toml:"shielded_fee_bps" mapstructure:"shielded_fee_bps"`
}

// TrackerConfig represents the [tracker] section.
type TrackerConfig struct {
	StaleAfter     time.Duration `toml:"stale_after" mapstructure:"stale_after"`
	SweepInterval  time.Duration `toml:"sweep_interval" mapstructure:"sweep_interval"`
	CompareTimeout time.Duration `toml:"compare_timeout" mapstructure:"compare_timeout"`
	FillTimeout    time.Duration `toml:"fill_timeout" mapstructure:"fill_timeout"`
}

// ProofConfig represents the [proof] section.
type ProofConfig struct {
	URL     string        `toml:"url" mapstructure:"url"`
	Timeout time.Duration `toml:"timeout" mapstructure:"timeout"`
}

// LoggingConfig represents the [logging] section.
type LoggingConfig struct {
	Level       string `toml:"level" mapstructure:"level"`
	Development bool   `toml:"development" mapstructure:"development"`
}

// MetricsConfig represents the [metrics] section.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled" mapstructure:"enabled"`
	Namespace string `toml:"namespace" mapstructure:"namespace"`
	Listen    string `toml:"listen" mapstructure:"listen"`
}

// CacheConfig represents the [cache] section.
type CacheConfig struct {
	AddressCacheSize int `toml:"address_cache_size" mapstructure:"address_cache_size"`
}

// GetConfigPath returns the path the configuration was loaded from, if any.
func (c *Config) GetConfigPath() string {
	return c.configPath
}

// ProgramIDs parses the configured program ids.
func (c *Config) ProgramIDs() (ProgramIDs, error) {
	return c.Programs.Parse()
}

// Parse parses every program id.
func (p ProgramsConfig) Parse() (ProgramIDs, error) {
	var ids ProgramIDs
	fields := []struct {
		name string
		src  string
		dst  *address.Pubkey
	}{
		{"darkpool", p.Darkpool, &ids.Darkpool},
		{"mpc", p.MPC, &ids.MPC},
		{"token", p.Token, &ids.Token},
		{"confidential_token", p.ConfidentialToken, &ids.ConfidentialToken},
	}
	for _, f := range fields {
		pk, err := address.ParsePubkey(f.src)
		if err != nil {
			return ProgramIDs{}, fieldError("programs."+f.name, err)
		}
		*f.dst = pk
	}
	return ids, nil
}

// AddressPrograms returns the program ids address derivation runs against.
func (ids ProgramIDs) AddressPrograms() address.Programs {
	return address.Programs{Darkpool: ids.Darkpool, MPC: ids.MPC}
}

// IsEnabled reports whether id is listed in the enabled encryption providers.
func (e EncryptionConfig) IsEnabled(id string) bool {
	return containsString(e.Enabled, id)
}

// IsEnabled reports whether id is listed in the enabled settlement providers.
func (s SettlementConfig) IsEnabled(id string) bool {
	return containsString(s.Enabled, id)
}

func containsString(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}
