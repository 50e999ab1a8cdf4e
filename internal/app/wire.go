package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/relaybot/internal/attest"
	s3blob "github.com/alanyoungcy/relaybot/internal/blob/s3"
	"github.com/alanyoungcy/relaybot/internal/bus"
	"github.com/alanyoungcy/relaybot/internal/cache/redis"
	"github.com/alanyoungcy/relaybot/internal/chain"
	"github.com/alanyoungcy/relaybot/internal/config"
	"github.com/alanyoungcy/relaybot/internal/contracts"
	"github.com/alanyoungcy/relaybot/internal/crypto"
	"github.com/alanyoungcy/relaybot/internal/domain"
	"github.com/alanyoungcy/relaybot/internal/notify"
	"github.com/alanyoungcy/relaybot/internal/platform/dalayer"
	"github.com/alanyoungcy/relaybot/internal/platform/verifier"
	"github.com/alanyoungcy/relaybot/internal/store/postgres"
	"github.com/alanyoungcy/relaybot/internal/store/static"
)

// Dependencies bundles every domain-level dependency the application modes
// need. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Feed registry: Postgres-backed when a connection is configured,
	// static from the [[feeds]] config section otherwise.
	Feeds domain.FeedStore

	// Attempt history and audit trail; nil without Postgres.
	Attempts domain.AttemptStore
	Audit    domain.AuditStore

	// Redis-backed coordination; nil when Redis is not enabled.
	Status      domain.StatusCache
	Locks       domain.LockManager
	RateLimiter domain.RateLimiter

	// Bus carries update and status events to the WebSocket hub: Redis
	// pub/sub when enabled, in-process otherwise. Never nil.
	Bus domain.EventBus

	// Proof and attempt archival; nil unless S3 is enabled.
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Chain side; only wired for modes that send transactions. Attesters
	// maps chain IDs to the attestation client for transactions on that
	// chain.
	Chains    *chain.Registry
	Key       *ecdsa.PrivateKey
	Attesters map[uint64]*attest.Client

	Notifier *notify.Notifier
}

// needsChain returns true for modes that send transactions and therefore need
// RPC connections, a funded wallet and attestation clients.
func needsChain(mode string) bool {
	switch mode {
	case "update", "once", "retry", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	feeds, err := feedsFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	// --- Feed registry: PostgreSQL when configured, static otherwise ---
	if cfg.Postgres.Configured() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		feedStore := postgres.NewFeedStore(pool)
		deps.Feeds = feedStore
		deps.Attempts = postgres.NewAttemptStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)

		// Config-declared feeds are seeded into the registry so the TOML
		// file stays the source of truth for the feeds it names; feeds
		// managed only in the database are left alone.
		for _, f := range feeds {
			if err := feedStore.Upsert(ctx, f); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: seed feed %s: %w", f.ID, err)
			}
		}
		if len(feeds) > 0 {
			logger.InfoContext(ctx, "feed registry seeded", slog.Int("feeds", len(feeds)))
		}
	} else {
		feedStore, err := static.NewFeedStore(feeds)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: static feeds: %w", err)
		}
		deps.Feeds = feedStore
		logger.InfoContext(ctx, "using static feed registry", slog.Int("feeds", len(feeds)))
	}

	// --- Redis (status cache, run lock, rate limiter, event bus) ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Status = redis.NewStatusCache(redisClient, cfg.Redis.StatusTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Bus = redis.NewEventBus(redisClient)
	} else {
		deps.Bus = bus.NewMemory()
	}

	// --- S3 blob storage (proof and attempt archive) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Attempts, deps.Audit)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Chains, wallet and attestation clients ---
	if needsChain(cfg.Mode) {
		if err := wireChains(ctx, cfg, deps, logger); err != nil {
			cleanup()
			return nil, nil, err
		}
		closers = append(closers, deps.Chains.Close)
	}

	return deps, cleanup, nil
}

// wireChains dials every configured chain, loads the wallet key and builds
// one attestation client per chain that has a verifier endpoint. The hub,
// voting registry and DA layer client live on the destination chain and are
// shared by all of them.
func wireChains(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) error {
	chainCfgs := make(map[string]chain.Config, len(cfg.Chains))
	for key, cc := range cfg.Chains {
		chainCfgs[key] = chain.Config{
			ChainID:        cc.ChainID,
			RPCURL:         cc.RPCURL,
			Confirmations:  cc.Confirmations,
			SettleDelay:    cc.SettleDelay.Duration,
			GasCeilingGwei: cc.GasCeilingGwei,
		}
	}

	registry, err := chain.NewRegistry(ctx, chainCfgs, logger)
	if err != nil {
		return fmt.Errorf("wire: chains: %w", err)
	}
	deps.Chains = registry

	key, err := crypto.LoadECDSA(crypto.KeyConfig{
		RawPrivateKey:    cfg.Wallet.PrivateKey,
		EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
		KeyPassword:      cfg.Wallet.KeyPassword,
	})
	if err != nil {
		registry.Close()
		return fmt.Errorf("wire: wallet key: %w", err)
	}
	deps.Key = key

	dest, err := registry.Get(cfg.Attestation.Chain)
	if err != nil {
		registry.Close()
		return fmt.Errorf("wire: attestation chain: %w", err)
	}

	hub := contracts.NewHub(common.HexToAddress(cfg.Attestation.HubAddress), dest, key, logger)
	votingReg := contracts.NewVotingRegistry(common.HexToAddress(cfg.Attestation.RegistryAddress), dest.Caller())
	fetcher := dalayer.NewClient(cfg.Attestation.DALayerURL, cfg.Attestation.DALayerAPIKey)

	deps.Attesters = make(map[uint64]*attest.Client)
	for _, cc := range cfg.Chains {
		if cc.VerifierURL == "" {
			continue
		}
		preparer := verifier.NewClient(cc.VerifierURL, cc.VerifierAPIKey)
		deps.Attesters[cc.ChainID] = attest.New(attest.Config{
			PrepareInterval:  cfg.Attestation.PrepareInterval.Duration,
			PrepareBudget:    cc.PrepareBudget.Duration,
			FinalityInterval: cfg.Attestation.FinalityInterval.Duration,
			FinalityBudget:   cfg.Attestation.FinalityBudget.Duration,
			ProofSettleDelay: cfg.Attestation.ProofSettleDelay.Duration,
			FallbackFee:      big.NewInt(cfg.Attestation.FallbackFeeWei),
		}, cc.VerifierSourceID, preparer, hub, votingReg, fetcher, logger)
	}

	return nil
}

// feedsFromConfig converts the [[feeds]] config entries into domain feeds,
// resolving chain aliases to their numeric IDs.
func feedsFromConfig(cfg *config.Config) ([]domain.Feed, error) {
	feeds := make([]domain.Feed, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		chainCfg, ok := cfg.Chains[fc.SourceChain]
		if !ok {
			return nil, fmt.Errorf("wire: feed %s references unknown chain %q", fc.ID, fc.SourceChain)
		}
		feeds = append(feeds, domain.Feed{
			ID:               fc.ID,
			Alias:            fc.Alias,
			SourceChainID:    chainCfg.ChainID,
			Trust:            domain.TrustKind(fc.Trust),
			PoolAddress:      common.HexToAddress(fc.PoolAddress),
			FeedContract:     common.HexToAddress(fc.FeedAddress),
			RecorderContract: common.HexToAddress(fc.RecorderAddress),
			RelayContract:    common.HexToAddress(fc.RelayAddress),
			Token0Decimals:   fc.Token0Decimals,
			Token1Decimals:   fc.Token1Decimals,
			InvertPrice:      fc.InvertPrice,
			Enabled:          fc.Enabled,
		})
	}
	return feeds, nil
}
