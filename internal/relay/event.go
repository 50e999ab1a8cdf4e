package relay

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/relaybot/internal/domain"
)

// EventSchemaVersion is the current PriceRelayed payload schema. The version
// rides in the event data so future payload changes decode unambiguously.
const EventSchemaVersion uint8 = 1

// PriceRelayed is the observation-accepted event. Its data and topics are the
// canonical payload the attestation protocol attests to, so the encoding here
// must match the deployed contract bit for bit.
type PriceRelayed struct {
	Version           uint8
	SourceChainID     uint64
	Pool              common.Address
	Relayer           common.Address
	SqrtPriceX96      *uint256.Int
	Tick              int32
	Liquidity         *uint256.Int
	Token0            common.Address
	Token1            common.Address
	SourceTimestamp   uint64
	SourceBlockNumber uint64
	RelayTimestamp    uint64
}

// Encode produces the event's topics and ABI-encoded data exactly as the
// deployed contract emits them.
func (ev *PriceRelayed) Encode() ([]common.Hash, []byte, error) {
	def := relayABI.Events["PriceRelayed"]
	data, err := def.Inputs.NonIndexed().Pack(
		ev.Version,
		ev.SqrtPriceX96.ToBig(),
		big.NewInt(int64(ev.Tick)),
		ev.Liquidity.ToBig(),
		ev.Token0,
		ev.Token1,
		ev.SourceTimestamp,
		ev.SourceBlockNumber,
		ev.RelayTimestamp,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("relay: pack event: %w", err)
	}
	topics := []common.Hash{
		def.ID,
		common.BigToHash(new(big.Int).SetUint64(ev.SourceChainID)),
		common.BytesToHash(common.LeftPadBytes(ev.Pool.Bytes(), 32)),
		common.BytesToHash(common.LeftPadBytes(ev.Relayer.Bytes(), 32)),
	}
	return topics, data, nil
}

// Observation converts the event back to the observation it accepted.
func (ev *PriceRelayed) Observation() domain.Observation {
	return domain.Observation{
		SourceChainID:     ev.SourceChainID,
		Pool:              ev.Pool,
		SqrtPriceX96:      new(uint256.Int).Set(ev.SqrtPriceX96),
		Tick:              ev.Tick,
		Liquidity:         new(uint256.Int).Set(ev.Liquidity),
		Token0:            ev.Token0,
		Token1:            ev.Token1,
		SourceTimestamp:   ev.SourceTimestamp,
		SourceBlockNumber: ev.SourceBlockNumber,
	}
}

// PriceRelayedTopic returns the event's topic0.
func PriceRelayedTopic() common.Hash {
	return relayABI.Events["PriceRelayed"].ID
}

// DecodePriceRelayed decodes an attested log into the typed event. It is the
// only place event bytes become a struct; consumers work with the result
// rather than re-parsing topics ad hoc.
func DecodePriceRelayed(log domain.EventLog) (*PriceRelayed, error) {
	def := relayABI.Events["PriceRelayed"]
	if len(log.Topics) != 4 || log.Topics[0] != def.ID {
		return nil, fmt.Errorf("relay: log is not PriceRelayed")
	}

	vals, err := def.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, fmt.Errorf("relay: unpack event: %w", err)
	}
	if len(vals) != 9 {
		return nil, fmt.Errorf("relay: unpack event: got %d fields, want 9", len(vals))
	}

	version, ok := vals[0].(uint8)
	if !ok || version != EventSchemaVersion {
		return nil, fmt.Errorf("relay: unsupported event schema version %v", vals[0])
	}

	sqrt, overflow := uint256.FromBig(vals[1].(*big.Int))
	if overflow {
		return nil, fmt.Errorf("relay: sqrt price overflows uint256")
	}
	liq, overflow := uint256.FromBig(vals[3].(*big.Int))
	if overflow {
		return nil, fmt.Errorf("relay: liquidity overflows uint256")
	}

	return &PriceRelayed{
		Version:           version,
		SourceChainID:     new(big.Int).SetBytes(log.Topics[1].Bytes()).Uint64(),
		Pool:              common.BytesToAddress(log.Topics[2].Bytes()),
		Relayer:           common.BytesToAddress(log.Topics[3].Bytes()),
		SqrtPriceX96:      sqrt,
		Tick:              int32(vals[2].(*big.Int).Int64()),
		Liquidity:         liq,
		Token0:            vals[4].(common.Address),
		Token1:            vals[5].(common.Address),
		SourceTimestamp:   vals[6].(uint64),
		SourceBlockNumber: vals[7].(uint64),
		RelayTimestamp:    vals[8].(uint64),
	}, nil
}
