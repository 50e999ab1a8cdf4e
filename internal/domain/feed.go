package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TrustKind classifies how a feed's source chain reaches the attestation
// service.
type TrustKind string

const (
	// TrustDirect marks chains the attestation service indexes natively.
	// The source-chain record transaction is attested as-is.
	TrustDirect TrustKind = "direct"

	// TrustRelay marks chains outside the attestation service's coverage.
	// An on-chain relay hop on the destination chain is what gets attested.
	TrustRelay TrustKind = "relay"
)

// Feed is one configured price target: a source pool whose price is
// reproduced on the destination chain. Feeds are created by deployment
// tooling and only read by the updater; the updater never mutates them.
type Feed struct {
	ID            string
	Alias         string
	SourceChainID uint64
	Trust         TrustKind

	// PoolAddress is the observed pool on the source chain.
	PoolAddress common.Address

	// FeedContract is the destination-chain contract that accepts proofs.
	FeedContract common.Address

	// RecorderContract is the source-chain recorder used by direct feeds.
	RecorderContract common.Address

	// RelayContract is the destination-chain relay used by relay feeds.
	RelayContract common.Address

	Token0Decimals uint8
	Token1Decimals uint8
	InvertPrice    bool

	Enabled   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks that the feed carries every address its trust kind needs.
func (f Feed) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("feed: missing id")
	}
	if f.SourceChainID == 0 {
		return fmt.Errorf("feed %s: missing source chain id", f.ID)
	}
	if f.PoolAddress == (common.Address{}) {
		return fmt.Errorf("feed %s: missing pool address", f.ID)
	}
	if f.FeedContract == (common.Address{}) {
		return fmt.Errorf("feed %s: missing feed contract address", f.ID)
	}
	switch f.Trust {
	case TrustDirect:
		if f.RecorderContract == (common.Address{}) {
			return fmt.Errorf("feed %s: direct feed needs a recorder contract", f.ID)
		}
	case TrustRelay:
		if f.RelayContract == (common.Address{}) {
			return fmt.Errorf("feed %s: relay feed needs a relay contract", f.ID)
		}
	default:
		return fmt.Errorf("feed %s: unknown trust kind %q", f.ID, f.Trust)
	}
	return nil
}

// DisplayName returns the alias when set, otherwise the ID.
func (f Feed) DisplayName() string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.ID
}
