package relay

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

func samplePriceRelayed() *PriceRelayed {
	return &PriceRelayed{
		Version:           EventSchemaVersion,
		SourceChainID:     testChainID,
		Pool:              testPool,
		Relayer:           testRelayer,
		SqrtPriceX96:      mustU("97034285709124592626698884147"),
		Tick:              -887_220,
		Liquidity:         mustU("340282366920938463463374607431"),
		Token0:            tokenA,
		Token1:            tokenB,
		SourceTimestamp:   1_700_000_000,
		SourceBlockNumber: 123_456,
		RelayTimestamp:    1_700_000_060,
	}
}

func TestPriceRelayedRoundTrip(t *testing.T) {
	ev := samplePriceRelayed()

	topics, data, err := ev.Encode()
	require.NoError(t, err)
	require.Len(t, topics, 4)
	require.Equal(t, PriceRelayedTopic(), topics[0])

	decoded, err := DecodePriceRelayed(domain.EventLog{
		Emitter: common.HexToAddress("0x6000000000000000000000000000000000000006"),
		Topics:  topics,
		Data:    data,
	})
	require.NoError(t, err)
	require.Equal(t, ev.SourceChainID, decoded.SourceChainID)
	require.Equal(t, ev.Pool, decoded.Pool)
	require.Equal(t, ev.Relayer, decoded.Relayer)
	require.True(t, decoded.SqrtPriceX96.Eq(ev.SqrtPriceX96))
	require.Equal(t, ev.Tick, decoded.Tick)
	require.True(t, decoded.Liquidity.Eq(ev.Liquidity))
	require.Equal(t, ev.Token0, decoded.Token0)
	require.Equal(t, ev.Token1, decoded.Token1)
	require.Equal(t, ev.SourceTimestamp, decoded.SourceTimestamp)
	require.Equal(t, ev.SourceBlockNumber, decoded.SourceBlockNumber)
	require.Equal(t, ev.RelayTimestamp, decoded.RelayTimestamp)

	// Re-encoding the decoded event reproduces the original bytes.
	topics2, data2, err := decoded.Encode()
	require.NoError(t, err)
	require.Equal(t, topics, topics2)
	require.Equal(t, data, data2)
}

func TestDecodePriceRelayedRejectsForeignLogs(t *testing.T) {
	ev := samplePriceRelayed()
	topics, data, err := ev.Encode()
	require.NoError(t, err)

	// Wrong topic0.
	bad := domain.EventLog{Topics: []common.Hash{{0x01}, topics[1], topics[2], topics[3]}, Data: data}
	_, err = DecodePriceRelayed(bad)
	require.Error(t, err)

	// Missing topics.
	_, err = DecodePriceRelayed(domain.EventLog{Topics: topics[:2], Data: data})
	require.Error(t, err)
}

func TestDecodePriceRelayedRejectsUnknownVersion(t *testing.T) {
	ev := samplePriceRelayed()
	ev.Version = EventSchemaVersion + 1
	topics, data, err := ev.Encode()
	require.NoError(t, err)

	_, err = DecodePriceRelayed(domain.EventLog{Topics: topics, Data: data})
	require.ErrorContains(t, err, "schema version")
}

func TestPriceRelayedObservation(t *testing.T) {
	ev := samplePriceRelayed()
	obs := ev.Observation()
	require.Equal(t, ev.SourceChainID, obs.SourceChainID)
	require.Equal(t, ev.Pool, obs.Pool)
	require.True(t, obs.SqrtPriceX96.Eq(ev.SqrtPriceX96))
	require.Equal(t, ev.Tick, obs.Tick)
	require.Equal(t, ev.SourceBlockNumber, obs.SourceBlockNumber)
}

func TestMapRevert(t *testing.T) {
	require.ErrorIs(t, MapRevert("stale block number"), domain.ErrStaleBlock)
	require.ErrorIs(t, MapRevert("deviation too high"), domain.ErrDeviationTooHigh)
	require.ErrorIs(t, MapRevert("token binding mismatch"), domain.ErrTokenMismatch)

	err := MapRevert("something else entirely")
	require.Error(t, err)
	require.ErrorContains(t, err, "something else entirely")
}
