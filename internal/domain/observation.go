package domain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Observation is a single pool price reading. Relay-path observations are
// read directly from source-chain state; direct-path observations are emitted
// by the recorder contract. An observation is consumed exactly once, either
// by the relay contract or by the attestation request, and never persisted.
type Observation struct {
	SourceChainID     uint64
	Pool              common.Address
	SqrtPriceX96      *uint256.Int
	Tick              int32
	Liquidity         *uint256.Int
	Token0            common.Address
	Token1            common.Address
	SourceTimestamp   uint64
	SourceBlockNumber uint64
}
