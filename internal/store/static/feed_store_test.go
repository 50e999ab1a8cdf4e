package static

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

func validFeed(id string) domain.Feed {
	return domain.Feed{
		ID:            id,
		SourceChainID: 14,
		Trust:         domain.TrustRelay,
		PoolAddress:   common.HexToAddress("0x1111111111111111111111111111111111111111"),
		FeedContract:  common.HexToAddress("0x2222222222222222222222222222222222222222"),
		RelayContract: common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Enabled:       true,
	}
}

func TestListOrdersByID(t *testing.T) {
	store, err := NewFeedStore([]domain.Feed{
		validFeed("wflr-usdc"), validFeed("aero-usdc"), validFeed("mid-pair"),
	})
	require.NoError(t, err)

	feeds, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, feeds, 3)
	require.Equal(t, "aero-usdc", feeds[0].ID)
	require.Equal(t, "mid-pair", feeds[1].ID)
	require.Equal(t, "wflr-usdc", feeds[2].ID)
}

func TestRejectsInvalidFeedAtConstruction(t *testing.T) {
	bad := validFeed("broken")
	bad.RelayContract = common.Address{}

	_, err := NewFeedStore([]domain.Feed{bad})
	require.Error(t, err)
	require.Contains(t, err.Error(), "relay contract")
}

func TestRejectsDuplicateIDs(t *testing.T) {
	_, err := NewFeedStore([]domain.Feed{validFeed("dup"), validFeed("dup")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "duplicate feed id")
}

func TestGetMissingFeed(t *testing.T) {
	store, err := NewFeedStore(nil)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "nope")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetEnabledTogglesRotationMembership(t *testing.T) {
	store, err := NewFeedStore([]domain.Feed{validFeed("wflr-usdc")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.SetEnabled(ctx, "wflr-usdc", false))

	f, err := store.Get(ctx, "wflr-usdc")
	require.NoError(t, err)
	require.False(t, f.Enabled)

	require.ErrorIs(t, store.SetEnabled(ctx, "missing", true), domain.ErrNotFound)
}

func TestUpsertValidatesAndReplaces(t *testing.T) {
	store, err := NewFeedStore([]domain.Feed{validFeed("wflr-usdc")})
	require.NoError(t, err)

	ctx := context.Background()

	updated := validFeed("wflr-usdc")
	updated.Alias = "WFLR/USDC"
	require.NoError(t, store.Upsert(ctx, updated))

	f, err := store.Get(ctx, "wflr-usdc")
	require.NoError(t, err)
	require.Equal(t, "WFLR/USDC", f.Alias)

	bad := validFeed("")
	require.Error(t, store.Upsert(ctx, bad))
}
