// Package config defines the TOML configuration for relaybot, the built-in
// defaults, and validation performed once at startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// duration wraps time.Duration so TOML files can carry values like "90s",
// "5m" or "1h30m" instead of raw nanosecond integers.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root configuration object. It is produced by Load and must
// pass Validate before being handed to the application wiring.
type Config struct {
	// Mode selects what the process runs: "update" (orchestrator only),
	// "serve" (status API only), "once" (single update pass, then exit),
	// "retry" (resume attestation for a recorded tx hash), or "full"
	// (orchestrator + API).
	Mode string `toml:"mode"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	Wallet       WalletConfig           `toml:"wallet"`
	Chains       map[string]ChainConfig `toml:"chains"`
	Attestation  AttestationConfig      `toml:"attestation"`
	Relay        RelayConfig            `toml:"relay"`
	Orchestrator OrchestratorConfig     `toml:"orchestrator"`
	Retry        RetryConfig            `toml:"retry"`
	Postgres     PostgresConfig         `toml:"postgres"`
	Redis        RedisConfig            `toml:"redis"`
	S3           S3Config               `toml:"s3"`
	Server       ServerConfig           `toml:"server"`
	Notify       NotifyConfig           `toml:"notify"`
	Feeds        []FeedConfig           `toml:"feeds"`
}

// WalletConfig holds the update wallet credentials. Exactly one of PrivateKey
// or EncryptedKeyPath must be set for modes that send transactions.
type WalletConfig struct {
	// PrivateKey is a hex-encoded secp256k1 key. Prefer the encrypted file
	// plus RELAYBOT_WALLET_KEY_PASSWORD in anything but local testing.
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig describes one EVM chain the bot talks to, keyed in the Chains
// map by a short alias (e.g. "flare", "ethereum", "xdc").
type ChainConfig struct {
	ChainID uint64 `toml:"chain_id"`
	RPCURL  string `toml:"rpc_url"`

	// Confirmations is the block depth a transaction on this chain must
	// reach before it counts as recorded. Also sent to the verifier as
	// requiredConfirmations when attesting transactions on this chain.
	Confirmations uint16 `toml:"confirmations"`

	// SettleDelay is an extra wait after the confirmation depth is reached,
	// for verifier indexers that lag the chain head.
	SettleDelay duration `toml:"settle_delay"`

	// GasCeilingGwei defers updates on this chain while the suggested gas
	// price exceeds it. Zero disables the ceiling.
	GasCeilingGwei float64 `toml:"gas_ceiling_gwei"`

	// Verifier endpoint for attesting transactions that happened on this
	// chain. VerifierSourceID is the source identifier the verifier expects
	// for this chain, e.g. "ETH" or "SGB".
	VerifierURL      string `toml:"verifier_url"`
	VerifierAPIKey   string `toml:"verifier_api_key"`
	VerifierSourceID string `toml:"verifier_source_id"`

	// PrepareBudget bounds how long the prepare phase may keep polling a
	// verifier that has not indexed the transaction yet. Slow chains need
	// tens of minutes here.
	PrepareBudget duration `toml:"prepare_budget"`
}

// AttestationConfig describes the destination-chain side of the attestation
// protocol: the hub that accepts requests, the registry that tracks voting
// rounds and finality, and the data-availability layer proofs are fetched
// from.
type AttestationConfig struct {
	// Chain is the Chains map key of the destination chain, where the hub,
	// registry and feed contracts live and where proofs are submitted.
	Chain string `toml:"chain"`

	HubAddress      string `toml:"hub_address"`
	RegistryAddress string `toml:"registry_address"`

	DALayerURL    string `toml:"da_layer_url"`
	DALayerAPIKey string `toml:"da_layer_api_key"`

	// FallbackFeeWei is attached to requestAttestation when the on-chain
	// fee lookup fails.
	FallbackFeeWei int64 `toml:"fallback_fee_wei"`

	// PrepareInterval paces verifier polling during the prepare phase; the
	// per-chain PrepareBudget bounds it.
	PrepareInterval duration `toml:"prepare_interval"`

	// FinalityInterval and FinalityBudget pace and bound the finality poll.
	// ProofSettleDelay is slept after finality before fetching the proof,
	// giving the DA layer time to serve the round.
	FinalityInterval duration `toml:"finality_interval"`
	FinalityBudget   duration `toml:"finality_budget"`
	ProofSettleDelay duration `toml:"proof_settle_delay"`
}

// RelayConfig carries the relay acceptance parameters. These mirror the
// deployed relay contract's parameters and drive both the local invariant
// engine and the orchestrator's preflight checks.
type RelayConfig struct {
	MaxPriceAge      duration `toml:"max_price_age"`
	MaxFutureSkew    duration `toml:"max_future_skew"`
	MinRelayInterval duration `toml:"min_relay_interval"`
	MaxDeviationBps  int      `toml:"max_deviation_bps"`
}

// OrchestratorConfig tunes the update loop.
type OrchestratorConfig struct {
	TickInterval duration `toml:"tick_interval"`

	// CircuitThreshold is the number of consecutive failed updates after
	// which the orchestrator stops itself.
	CircuitThreshold int `toml:"circuit_threshold"`

	// MinBalanceGwei stops the orchestrator when the wallet balance on the
	// destination chain falls below it. Zero disables the check.
	MinBalanceGwei int64 `toml:"min_balance_gwei"`
}

// RetryConfig selects the feed the one-shot modes target. Feed is used by
// both "once" and "retry"; TxHash only by "retry", and when empty the most
// recent recorded transaction for the feed is resumed. Both are usually set
// through the -feed and -tx command line flags.
type RetryConfig struct {
	Feed   string `toml:"feed"`
	TxHash string `toml:"tx_hash"`
}

// PostgresConfig mirrors the connection settings for the feed registry
// database. Either DSN or the discrete fields may be used. When neither is
// set the bot falls back to the static feed list from the [[feeds]] section.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"sslmode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Configured reports whether a Postgres connection was configured at all.
func (p PostgresConfig) Configured() bool {
	return p.DSN != "" || p.Host != ""
}

// RedisConfig holds the optional status cache and run-lock settings.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`

	// StatusTTL expires per-feed status entries; LockTTL is the run-lock
	// lease, refreshed while the orchestrator holds it.
	StatusTTL duration `toml:"status_ttl"`
	LockTTL   duration `toml:"lock_ttl"`
}

// S3Config holds the optional proof/attempt archive target. Endpoint is left
// empty for AWS proper and set for MinIO-style deployments.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`

	// RetentionDays is how long attempt rows stay in Postgres before the
	// retention sweep ships them to the bucket and deletes them.
	RetentionDays int `toml:"retention_days"`
}

// ServerConfig controls the status HTTP API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
}

// NotifyConfig wires outbound notifications. Events filters which event
// kinds are delivered; an empty list means all.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// FeedConfig is one statically configured feed. Used directly when Postgres
// is not configured, and as seed rows for the registry when it is.
type FeedConfig struct {
	ID    string `toml:"id"`
	Alias string `toml:"alias"`

	// Trust is "direct" or "relay".
	Trust string `toml:"trust"`

	// SourceChain is the Chains map key of the chain the observed pool
	// lives on.
	SourceChain string `toml:"source_chain"`

	PoolAddress     string `toml:"pool_address"`
	FeedAddress     string `toml:"feed_address"`
	RecorderAddress string `toml:"recorder_address"`
	RelayAddress    string `toml:"relay_address"`

	Token0Decimals uint8 `toml:"token0_decimals"`
	Token1Decimals uint8 `toml:"token1_decimals"`
	InvertPrice    bool  `toml:"invert_price"`
	Enabled        bool  `toml:"enabled"`
}

// validModes enumerates acceptable values for Config.Mode.
var validModes = map[string]bool{
	"update": true,
	"serve":  true,
	"once":   true,
	"retry":  true,
	"full":   true,
}

// validLogLevels enumerates acceptable values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validNotifyEvents enumerates acceptable entries for Notify.Events.
var validNotifyEvents = map[string]bool{
	"update_success": true,
	"update_failed":  true,
	"circuit_open":   true,
	"low_balance":    true,
	"stopped":        true,
}

// validTrust enumerates acceptable values for FeedConfig.Trust.
var validTrust = map[string]bool{
	"direct": true,
	"relay":  true,
}

// Defaults returns a Config populated with sane defaults. Load layers the
// TOML file and environment overrides on top of this.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Chains:   map[string]ChainConfig{},
		Attestation: AttestationConfig{
			Chain:            "flare",
			FallbackFeeWei:   500_000_000_000_000_000, // 0.5 native token
			PrepareInterval:  duration{10 * time.Second},
			FinalityInterval: duration{10 * time.Second},
			FinalityBudget:   duration{10 * time.Minute},
			ProofSettleDelay: duration{30 * time.Second},
		},
		Relay: RelayConfig{
			MaxPriceAge:      duration{time.Hour},
			MaxFutureSkew:    duration{10 * time.Minute},
			MinRelayInterval: duration{5 * time.Minute},
			MaxDeviationBps:  5000,
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:     duration{30 * time.Second},
			CircuitThreshold: 10,
			MinBalanceGwei:   500_000_000, // 0.5 native token
		},
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "require",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			StatusTTL: duration{24 * time.Hour},
			LockTTL:   duration{30 * time.Second},
		},
		S3: S3Config{
			Region:        "us-east-1",
			UseSSL:        true,
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Notify: NotifyConfig{
			Events: []string{"circuit_open", "low_balance", "stopped"},
		},
	}
}

// needsWallet reports whether the given mode sends transactions and therefore
// requires a funded key.
func needsWallet(mode string) bool {
	switch mode {
	case "update", "once", "retry", "full":
		return true
	}
	return false
}

// Validate checks the configuration for internal consistency and returns a
// single error describing every problem found, or nil.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[c.Mode] {
		errs = append(errs, fmt.Sprintf("mode: %q is not a valid mode", c.Mode))
	}
	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Sprintf("log_level: %q is not a valid level", c.LogLevel))
	}

	updating := needsWallet(c.Mode)

	if updating {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: private_key or encrypted_key_path is required for modes that send transactions")
		}
		if c.Wallet.PrivateKey != "" && c.Wallet.EncryptedKeyPath != "" {
			errs = append(errs, "wallet: private_key and encrypted_key_path are mutually exclusive")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required with encrypted_key_path")
		}
	}

	if updating && len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured")
	}
	for key, ch := range c.Chains {
		if ch.RPCURL == "" {
			errs = append(errs, fmt.Sprintf("chains.%s: rpc_url is required", key))
		}
		if ch.ChainID == 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: chain_id is required", key))
		}
		if ch.GasCeilingGwei < 0 {
			errs = append(errs, fmt.Sprintf("chains.%s: gas_ceiling_gwei must not be negative", key))
		}
	}

	// Attestation settings only matter when the process updates feeds.
	if updating {
		dest, ok := c.Chains[c.Attestation.Chain]
		if !ok {
			errs = append(errs, fmt.Sprintf("attestation: chain %q is not present in [chains]", c.Attestation.Chain))
		} else {
			if dest.VerifierURL == "" {
				errs = append(errs, fmt.Sprintf("chains.%s: verifier_url is required on the attestation chain", c.Attestation.Chain))
			}
			if dest.VerifierSourceID == "" {
				errs = append(errs, fmt.Sprintf("chains.%s: verifier_source_id is required on the attestation chain", c.Attestation.Chain))
			}
		}
		if !common.IsHexAddress(c.Attestation.HubAddress) {
			errs = append(errs, "attestation: hub_address must be a valid hex address")
		}
		if !common.IsHexAddress(c.Attestation.RegistryAddress) {
			errs = append(errs, "attestation: registry_address must be a valid hex address")
		}
		if c.Attestation.DALayerURL == "" {
			errs = append(errs, "attestation: da_layer_url is required")
		}
		if c.Attestation.FallbackFeeWei < 0 {
			errs = append(errs, "attestation: fallback_fee_wei must not be negative")
		}
		if c.Attestation.PrepareInterval.Duration <= 0 {
			errs = append(errs, "attestation: prepare_interval must be positive")
		}
		if c.Attestation.FinalityInterval.Duration <= 0 {
			errs = append(errs, "attestation: finality_interval must be positive")
		}
		if c.Attestation.FinalityBudget.Duration <= 0 {
			errs = append(errs, "attestation: finality_budget must be positive")
		}
	}

	if c.Relay.MaxPriceAge.Duration <= 0 {
		errs = append(errs, "relay: max_price_age must be positive")
	}
	if c.Relay.MaxFutureSkew.Duration < 0 {
		errs = append(errs, "relay: max_future_skew must not be negative")
	}
	if c.Relay.MinRelayInterval.Duration < 0 {
		errs = append(errs, "relay: min_relay_interval must not be negative")
	}
	if c.Relay.MaxDeviationBps < 0 || c.Relay.MaxDeviationBps > 10_000 {
		errs = append(errs, "relay: max_deviation_bps must be between 0 and 10000")
	}

	if c.Orchestrator.TickInterval.Duration <= 0 {
		errs = append(errs, "orchestrator: tick_interval must be positive")
	}
	if c.Orchestrator.CircuitThreshold < 1 {
		errs = append(errs, "orchestrator: circuit_threshold must be at least 1")
	}
	if c.Orchestrator.MinBalanceGwei < 0 {
		errs = append(errs, "orchestrator: min_balance_gwei must not be negative")
	}

	if (c.Mode == "once" || c.Mode == "retry") && c.Retry.Feed == "" {
		errs = append(errs, fmt.Sprintf("retry: feed is required in %s mode", c.Mode))
	}

	if c.Postgres.Configured() {
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be at least 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis: addr is required when redis is enabled")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket is required when s3 is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region is required when s3 is enabled")
		}
		if c.S3.RetentionDays < 1 {
			errs = append(errs, "s3: retention_days must be at least 1")
		}
	}

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port %d is out of range", c.Server.Port))
	}

	for _, ev := range c.Notify.Events {
		if !validNotifyEvents[ev] {
			errs = append(errs, fmt.Sprintf("notify: %q is not a valid event", ev))
		}
	}

	seen := make(map[string]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		label := f.ID
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if f.ID == "" {
			errs = append(errs, fmt.Sprintf("feeds.%s: id is required", label))
		} else if seen[f.ID] {
			errs = append(errs, fmt.Sprintf("feeds.%s: duplicate feed id", label))
		}
		seen[f.ID] = true

		if !validTrust[f.Trust] {
			errs = append(errs, fmt.Sprintf("feeds.%s: trust %q is not valid (direct or relay)", label, f.Trust))
		}
		if _, ok := c.Chains[f.SourceChain]; !ok {
			errs = append(errs, fmt.Sprintf("feeds.%s: source_chain %q is not present in [chains]", label, f.SourceChain))
		}
		if !common.IsHexAddress(f.PoolAddress) {
			errs = append(errs, fmt.Sprintf("feeds.%s: pool_address must be a valid hex address", label))
		}
		if !common.IsHexAddress(f.FeedAddress) {
			errs = append(errs, fmt.Sprintf("feeds.%s: feed_address must be a valid hex address", label))
		}
		switch f.Trust {
		case "direct":
			if !common.IsHexAddress(f.RecorderAddress) {
				errs = append(errs, fmt.Sprintf("feeds.%s: recorder_address must be a valid hex address for direct feeds", label))
			}
			if ch, ok := c.Chains[f.SourceChain]; ok && updating {
				if ch.VerifierURL == "" {
					errs = append(errs, fmt.Sprintf("chains.%s: verifier_url is required (direct feed %s attests against it)", f.SourceChain, label))
				}
				if ch.VerifierSourceID == "" {
					errs = append(errs, fmt.Sprintf("chains.%s: verifier_source_id is required (direct feed %s attests against it)", f.SourceChain, label))
				}
			}
		case "relay":
			if !common.IsHexAddress(f.RelayAddress) {
				errs = append(errs, fmt.Sprintf("feeds.%s: relay_address must be a valid hex address for relay feeds", label))
			}
		}
		if f.Token0Decimals > 38 || f.Token1Decimals > 38 {
			errs = append(errs, fmt.Sprintf("feeds.%s: token decimals must not exceed 38", label))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
