package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RELAYBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	normalizeChains(&cfg)

	return &cfg, nil
}

// normalizeChains fills per-chain defaults. Chain entries come out of the
// TOML map zero-valued for anything the file omits, so they cannot be
// defaulted in Defaults() the way section structs are.
func normalizeChains(cfg *Config) {
	for key, ch := range cfg.Chains {
		if ch.Confirmations == 0 {
			ch.Confirmations = 1
		}
		if ch.PrepareBudget.Duration == 0 {
			ch.PrepareBudget.Duration = 15 * time.Minute
		}
		cfg.Chains[key] = ch
	}
}

// applyEnvOverrides reads well-known RELAYBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "RELAYBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "RELAYBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "RELAYBOT_WALLET_KEY_PASSWORD")

	// ── Chains ── keyed by the uppercased map key, e.g.
	// RELAYBOT_CHAIN_FLARE_RPC_URL overrides chains.flare.rpc_url.
	for key, ch := range cfg.Chains {
		prefix := "RELAYBOT_CHAIN_" + strings.ToUpper(key) + "_"
		setStr(&ch.RPCURL, prefix+"RPC_URL")
		setStr(&ch.VerifierURL, prefix+"VERIFIER_URL")
		setStr(&ch.VerifierAPIKey, prefix+"VERIFIER_API_KEY")
		setStr(&ch.VerifierSourceID, prefix+"VERIFIER_SOURCE_ID")
		setFloat64(&ch.GasCeilingGwei, prefix+"GAS_CEILING_GWEI")
		setDuration(&ch.SettleDelay, prefix+"SETTLE_DELAY")
		setDuration(&ch.PrepareBudget, prefix+"PREPARE_BUDGET")
		cfg.Chains[key] = ch
	}

	// ── Attestation ──
	setStr(&cfg.Attestation.Chain, "RELAYBOT_ATTESTATION_CHAIN")
	setStr(&cfg.Attestation.HubAddress, "RELAYBOT_ATTESTATION_HUB_ADDRESS")
	setStr(&cfg.Attestation.RegistryAddress, "RELAYBOT_ATTESTATION_REGISTRY_ADDRESS")
	setStr(&cfg.Attestation.DALayerURL, "RELAYBOT_ATTESTATION_DA_LAYER_URL")
	setStr(&cfg.Attestation.DALayerAPIKey, "RELAYBOT_ATTESTATION_DA_LAYER_API_KEY")
	setInt64(&cfg.Attestation.FallbackFeeWei, "RELAYBOT_ATTESTATION_FALLBACK_FEE_WEI")
	setDuration(&cfg.Attestation.PrepareInterval, "RELAYBOT_ATTESTATION_PREPARE_INTERVAL")
	setDuration(&cfg.Attestation.FinalityInterval, "RELAYBOT_ATTESTATION_FINALITY_INTERVAL")
	setDuration(&cfg.Attestation.FinalityBudget, "RELAYBOT_ATTESTATION_FINALITY_BUDGET")
	setDuration(&cfg.Attestation.ProofSettleDelay, "RELAYBOT_ATTESTATION_PROOF_SETTLE_DELAY")

	// ── Relay ──
	setDuration(&cfg.Relay.MaxPriceAge, "RELAYBOT_RELAY_MAX_PRICE_AGE")
	setDuration(&cfg.Relay.MaxFutureSkew, "RELAYBOT_RELAY_MAX_FUTURE_SKEW")
	setDuration(&cfg.Relay.MinRelayInterval, "RELAYBOT_RELAY_MIN_RELAY_INTERVAL")
	setInt(&cfg.Relay.MaxDeviationBps, "RELAYBOT_RELAY_MAX_DEVIATION_BPS")

	// ── Orchestrator ──
	setDuration(&cfg.Orchestrator.TickInterval, "RELAYBOT_ORCHESTRATOR_TICK_INTERVAL")
	setInt(&cfg.Orchestrator.CircuitThreshold, "RELAYBOT_ORCHESTRATOR_CIRCUIT_THRESHOLD")
	setInt64(&cfg.Orchestrator.MinBalanceGwei, "RELAYBOT_ORCHESTRATOR_MIN_BALANCE_GWEI")

	// ── Retry ──
	setStr(&cfg.Retry.Feed, "RELAYBOT_RETRY_FEED")
	setStr(&cfg.Retry.TxHash, "RELAYBOT_RETRY_TX_HASH")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RELAYBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "RELAYBOT_POSTGRES_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "RELAYBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RELAYBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RELAYBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RELAYBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RELAYBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RELAYBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RELAYBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RELAYBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RELAYBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RELAYBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RELAYBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RELAYBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RELAYBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RELAYBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RELAYBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RELAYBOT_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.StatusTTL, "RELAYBOT_REDIS_STATUS_TTL")
	setDuration(&cfg.Redis.LockTTL, "RELAYBOT_REDIS_LOCK_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RELAYBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RELAYBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RELAYBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "RELAYBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RELAYBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RELAYBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RELAYBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RELAYBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.RetentionDays, "RELAYBOT_S3_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RELAYBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RELAYBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RELAYBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "RELAYBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RELAYBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RELAYBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RELAYBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RELAYBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RELAYBOT_MODE")
	setStr(&cfg.LogLevel, "RELAYBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
