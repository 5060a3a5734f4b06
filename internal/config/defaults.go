package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default program ids. The darkpool, MPC and confidential-token ids point at
// the devnet deployments.
const (
	DefaultDarkpoolProgram          = "CXNzL6H2TjoiR7woKtBzn3qBAQobm7Y9hmGp6bk8WoN3"
	DefaultMPCProgram               = "CQ8s8qvSjktrr9EAbMpQGwhJN1DRzbX3crb8tfgqT1Mb"
	DefaultTokenProgram             = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	DefaultConfidentialTokenProgram = "gJSUqZW1SrRr2nqRT4zmCc9Wk8R7mXGau2GJq1FqHoA"
)

// Encryption provider ids accepted by the configuration.
var encryptionProviders = []string{"mpc", "tee", "mpc-demo", "plaintext"}

// Settlement provider ids accepted by the configuration.
var settlementProviders = []string{"confidential", "shielded", "public"}

// setDefaults sets every default value. Every key the loader understands has
// a default so environment overrides resolve through AutomaticEnv.
func setDefaults(v *viper.Viper) {
	// Ledger
	v.SetDefault("ledger.rpc_url", "https://api.devnet.solana.com")
	v.SetDefault("ledger.ws_url", "wss://api.devnet.solana.com")
	v.SetDefault("ledger.commitment", "confirmed")
	v.SetDefault("ledger.request_timeout", 30*time.Second)
	v.SetDefault("ledger.confirm_timeout", 60*time.Second)
	v.SetDefault("ledger.poll_interval", 500*time.Millisecond)

	// Programs
	v.SetDefault("programs.darkpool", DefaultDarkpoolProgram)
	v.SetDefault("programs.mpc", DefaultMPCProgram)
	v.SetDefault("programs.token", DefaultTokenProgram)
	v.SetDefault("programs.confidential_token", DefaultConfidentialTokenProgram)

	// Cluster
	v.SetDefault("cluster.offset", 1)

	// Encryption
	v.SetDefault("encryption.force_provider", "")
	v.SetDefault("encryption.preferred_provider", "")
	v.SetDefault("encryption.enabled", []string{"mpc", "tee", "mpc-demo", "plaintext"})
	v.SetDefault("encryption.mpc.cluster_key", "")
	v.SetDefault("encryption.mpc.demo", true)
	v.SetDefault("encryption.tee.endpoint", "")
	v.SetDefault("encryption.tee.attestation_key", "")
	v.SetDefault("encryption.tee.grant", "")
	v.SetDefault("encryption.tee.timeout", 10*time.Second)

	// Settlement
	v.SetDefault("settlement.enabled", []string{"confidential", "shielded", "public"})
	v.SetDefault("settlement.shielded_pool_wasm", "")
	v.SetDefault("settlement.shielded_fee_bps", 25)

	// Tracker
	v.SetDefault("tracker.stale_after", 5*time.Minute)
	v.SetDefault("tracker.sweep_interval", 30*time.Second)
	v.SetDefault("tracker.compare_timeout", 30*time.Second)
	v.SetDefault("tracker.fill_timeout", 45*time.Second)

	// Proof service
	v.SetDefault("proof.url", "")
	v.SetDefault("proof.timeout", 60*time.Second)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.namespace", "darkpool")
	v.SetDefault("metrics.listen", "")

	// Cache
	v.SetDefault("cache.address_cache_size", 1024)
}
