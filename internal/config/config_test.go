package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// validUpdateConfig builds the smallest configuration that passes Validate in
// "update" mode: a funded wallet, a destination chain with a verifier, and a
// second source chain without one.
func validUpdateConfig() Config {
	cfg := Defaults()
	cfg.Mode = "update"
	cfg.Wallet.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.Chains = map[string]ChainConfig{
		"flare": {
			ChainID:          14,
			RPCURL:           "https://flare-rpc.example",
			VerifierURL:      "https://verifier.example",
			VerifierSourceID: "FLR",
		},
		"base": {
			ChainID: 8453,
			RPCURL:  "https://base-rpc.example",
		},
	}
	cfg.Attestation.HubAddress = "0x1000000000000000000000000000000000000001"
	cfg.Attestation.RegistryAddress = "0x1000000000000000000000000000000000000002"
	cfg.Attestation.DALayerURL = "https://da.example"
	return cfg
}

func relayFeed(id string) FeedConfig {
	return FeedConfig{
		ID:           id,
		Trust:        "relay",
		SourceChain:  "base",
		PoolAddress:  "0x2000000000000000000000000000000000000001",
		FeedAddress:  "0x2000000000000000000000000000000000000002",
		RelayAddress: "0x2000000000000000000000000000000000000003",
		Enabled:      true,
	}
}

func TestDefaultsValidateInServeMode(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	require.NoError(t, cfg.Validate())
}

func TestValidUpdateConfigPasses(t *testing.T) {
	cfg := validUpdateConfig()
	require.NoError(t, cfg.Validate())
}

func TestUpdateModeRequiresWalletAndChains(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "update"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "wallet: private_key or encrypted_key_path is required")
	require.Contains(t, err.Error(), "chains: at least one chain must be configured")
}

func TestWalletSourcesAreMutuallyExclusive(t *testing.T) {
	cfg := validUpdateConfig()
	cfg.Wallet.EncryptedKeyPath = "/etc/relaybot/key.json"
	cfg.Wallet.KeyPassword = "hunter2"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "mutually exclusive")
}

func TestEncryptedKeyRequiresPassword(t *testing.T) {
	cfg := validUpdateConfig()
	cfg.Wallet.PrivateKey = ""
	cfg.Wallet.EncryptedKeyPath = "/etc/relaybot/key.json"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "key_password is required")
}

func TestOnceAndRetryModesRequireFeed(t *testing.T) {
	for _, mode := range []string{"once", "retry"} {
		cfg := validUpdateConfig()
		cfg.Mode = mode

		err := cfg.Validate()
		require.Error(t, err, mode)
		require.Contains(t, err.Error(), "retry: feed is required in "+mode+" mode")

		cfg.Retry.Feed = "wflr-usdc"
		require.NoError(t, cfg.Validate(), mode)
	}
}

func TestAttestationChainMustBeConfigured(t *testing.T) {
	cfg := validUpdateConfig()
	cfg.Attestation.Chain = "songbird"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), `attestation: chain "songbird" is not present`)
}

func TestAttestationChainNeedsVerifier(t *testing.T) {
	cfg := validUpdateConfig()
	ch := cfg.Chains["flare"]
	ch.VerifierURL = ""
	ch.VerifierSourceID = ""
	cfg.Chains["flare"] = ch

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "verifier_url is required on the attestation chain")
	require.Contains(t, err.Error(), "verifier_source_id is required on the attestation chain")
}

func TestServeModeSkipsWalletAndAttestationChecks(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "serve"
	// No wallet, no chains, no attestation addresses: all fine for a
	// read-only API process.
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validUpdateConfig()
	cfg.LogLevel = "loud"
	cfg.Orchestrator.CircuitThreshold = 0
	cfg.Relay.MaxDeviationBps = 20_000
	cfg.Notify.Events = []string{"update_success", "everything"}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), `log_level: "loud" is not a valid level`)
	require.Contains(t, err.Error(), "circuit_threshold must be at least 1")
	require.Contains(t, err.Error(), "max_deviation_bps must be between 0 and 10000")
	require.Contains(t, err.Error(), `notify: "everything" is not a valid event`)
}

func TestFeedValidation(t *testing.T) {
	cfg := validUpdateConfig()

	dup := relayFeed("wflr-usdc")
	badTrust := relayFeed("bad-trust")
	badTrust.Trust = "hearsay"
	orphan := relayFeed("orphan")
	orphan.SourceChain = "arbitrum"
	noCode := relayFeed("no-relay")
	noCode.RelayAddress = ""
	cfg.Feeds = []FeedConfig{relayFeed("wflr-usdc"), dup, badTrust, orphan, noCode}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate feed id")
	require.Contains(t, err.Error(), `trust "hearsay" is not valid`)
	require.Contains(t, err.Error(), `source_chain "arbitrum" is not present`)
	require.Contains(t, err.Error(), "relay_address must be a valid hex address")
}

func TestDirectFeedNeedsRecorderAndSourceVerifier(t *testing.T) {
	cfg := validUpdateConfig()

	direct := relayFeed("eth-usdc")
	direct.Trust = "direct"
	direct.RelayAddress = ""
	cfg.Feeds = []FeedConfig{direct}

	// Recorder address missing, and the base chain has no verifier to
	// attest its transactions with.
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "recorder_address must be a valid hex address for direct feeds")
	require.Contains(t, err.Error(), "chains.base: verifier_url is required")

	direct.RecorderAddress = "0x2000000000000000000000000000000000000004"
	ch := cfg.Chains["base"]
	ch.VerifierURL = "https://base-verifier.example"
	ch.VerifierSourceID = "ETH"
	cfg.Chains["base"] = ch
	cfg.Feeds = []FeedConfig{direct}
	require.NoError(t, cfg.Validate())
}

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfigFile(t, `
mode = "serve"
log_level = "debug"

[server]
enabled = true
port = 9090
cors_origins = ["https://ops.example"]

[relay]
max_price_age = "2h"

[chains.flare]
chain_id = 14
rpc_url = "https://flare-rpc.example"
settle_delay = "45s"

[chains.base]
chain_id = 8453
rpc_url = "https://base-rpc.example"
confirmations = 6
prepare_budget = "40m"

[[feeds]]
id = "wflr-usdc"
trust = "relay"
source_chain = "flare"
pool_address = "0x2000000000000000000000000000000000000001"
feed_address = "0x2000000000000000000000000000000000000002"
relay_address = "0x2000000000000000000000000000000000000003"
enabled = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "serve", cfg.Mode)
	require.Equal(t, "debug", cfg.LogLevel)
	require.True(t, cfg.Server.Enabled)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, []string{"https://ops.example"}, cfg.Server.CORSOrigins)

	// File values replace defaults field by field; untouched fields keep
	// their defaults.
	require.Equal(t, 2*time.Hour, cfg.Relay.MaxPriceAge.Duration)
	require.Equal(t, 10*time.Minute, cfg.Relay.MaxFutureSkew.Duration)
	require.Equal(t, "flare", cfg.Attestation.Chain)
	require.Equal(t, 10*time.Minute, cfg.Attestation.FinalityBudget.Duration)

	flare := cfg.Chains["flare"]
	require.Equal(t, 45*time.Second, flare.SettleDelay.Duration)
	require.Equal(t, uint16(1), flare.Confirmations)
	require.Equal(t, 15*time.Minute, flare.PrepareBudget.Duration)

	base := cfg.Chains["base"]
	require.Equal(t, uint16(6), base.Confirmations)
	require.Equal(t, 40*time.Minute, base.PrepareBudget.Duration)

	require.Len(t, cfg.Feeds, 1)
	require.Equal(t, "wflr-usdc", cfg.Feeds[0].ID)

	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfigFile(t, `
mode = "serve"

[chains.flare]
chain_id = 14
rpc_url = "https://flare-rpc.example"
`)

	t.Setenv("RELAYBOT_LOG_LEVEL", "warn")
	t.Setenv("RELAYBOT_CHAIN_FLARE_RPC_URL", "https://override.example")
	t.Setenv("RELAYBOT_CHAIN_FLARE_PREPARE_BUDGET", "25m")
	t.Setenv("RELAYBOT_RELAY_MAX_DEVIATION_BPS", "750")
	t.Setenv("RELAYBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RELAYBOT_POSTGRES_RUN_MIGRATIONS", "false")
	t.Setenv("RELAYBOT_REDIS_STATUS_TTL", "not-a-duration")

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, "https://override.example", cfg.Chains["flare"].RPCURL)
	require.Equal(t, 25*time.Minute, cfg.Chains["flare"].PrepareBudget.Duration)
	require.Equal(t, 750, cfg.Relay.MaxDeviationBps)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	require.False(t, cfg.Postgres.RunMigrations)

	// Unparseable values are ignored rather than clobbering the default.
	require.Equal(t, 24*time.Hour, cfg.Redis.StatusTTL.Duration)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validUpdateConfig()
	ch := cfg.Chains["flare"]
	ch.VerifierAPIKey = "verifier-key"
	cfg.Chains["flare"] = ch
	cfg.Attestation.DALayerAPIKey = "da-key"
	cfg.Postgres.Password = "pg-pass"
	cfg.Redis.Password = "redis-pass"
	cfg.S3.SecretKey = "s3-secret"
	cfg.Server.APIKey = "api-key"
	cfg.Notify.TelegramToken = "tg-token"

	out := RedactedConfig(&cfg)

	require.Equal(t, "***", out.Wallet.PrivateKey)
	require.Equal(t, "***", out.Chains["flare"].VerifierAPIKey)
	require.Equal(t, "***", out.Attestation.DALayerAPIKey)
	require.Equal(t, "***", out.Postgres.Password)
	require.Equal(t, "***", out.Redis.Password)
	require.Equal(t, "***", out.S3.SecretKey)
	require.Equal(t, "***", out.Server.APIKey)
	require.Equal(t, "***", out.Notify.TelegramToken)

	// Empty secrets stay empty so redacted output still shows which
	// credentials were configured at all.
	require.Empty(t, out.S3.AccessKey)
	require.Empty(t, out.Notify.DiscordWebhookURL)

	// The original is untouched.
	require.Equal(t, "verifier-key", cfg.Chains["flare"].VerifierAPIKey)
	require.Equal(t, "pg-pass", cfg.Postgres.Password)
}
