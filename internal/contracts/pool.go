package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const poolABIJSON = `[
  {"type":"function","name":"slot0","stateMutability":"view","inputs":[],"outputs":[
    {"name":"sqrtPriceX96","type":"uint160"},
    {"name":"tick","type":"int24"},
    {"name":"observationIndex","type":"uint16"},
    {"name":"observationCardinality","type":"uint16"},
    {"name":"observationCardinalityNext","type":"uint16"},
    {"name":"feeProtocol","type":"uint8"},
    {"name":"unlocked","type":"bool"}]},
  {"type":"function","name":"liquidity","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint128"}]},
  {"type":"function","name":"token0","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"token1","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"address"}]}
]`

var poolABI = mustABI(poolABIJSON)

// Pool binds a concentrated-liquidity pool for read-only observation.
type Pool struct {
	addr common.Address
}

// NewPool binds the pool contract at addr.
func NewPool(addr common.Address) *Pool {
	return &Pool{addr: addr}
}

// Address returns the contract address.
func (p *Pool) Address() common.Address {
	return p.addr
}

// PoolState is one consistent snapshot of the pool.
type PoolState struct {
	SqrtPriceX96 *uint256.Int
	Tick         int32
	Liquidity    *uint256.Int
	Token0       common.Address
	Token1       common.Address
}

// State reads slot0, liquidity and the token pair, all pinned at the same
// block so the observation is internally consistent. Pass nil to read the
// latest block.
func (p *Pool) State(ctx context.Context, caller ethereum.ContractCaller, at *big.Int) (PoolState, error) {
	slot0, err := callView(ctx, caller, poolABI, p.addr, at, "slot0")
	if err != nil {
		return PoolState{}, err
	}
	if len(slot0) != 7 {
		return PoolState{}, fmt.Errorf("contracts: slot0: got %d outputs, want 7", len(slot0))
	}

	sqrtBig, ok := slot0[0].(*big.Int)
	if !ok {
		return PoolState{}, fmt.Errorf("contracts: slot0: unexpected sqrtPriceX96 type")
	}
	sqrt, overflow := uint256.FromBig(sqrtBig)
	if overflow {
		return PoolState{}, fmt.Errorf("contracts: slot0: sqrtPriceX96 overflows uint256")
	}

	tickBig, ok := slot0[1].(*big.Int)
	if !ok {
		return PoolState{}, fmt.Errorf("contracts: slot0: unexpected tick type")
	}

	liqVals, err := callView(ctx, caller, poolABI, p.addr, at, "liquidity")
	if err != nil {
		return PoolState{}, err
	}
	liqBig, ok := liqVals[0].(*big.Int)
	if !ok {
		return PoolState{}, fmt.Errorf("contracts: liquidity: unexpected output type")
	}
	liq, overflow := uint256.FromBig(liqBig)
	if overflow {
		return PoolState{}, fmt.Errorf("contracts: liquidity overflows uint256")
	}

	t0Vals, err := callView(ctx, caller, poolABI, p.addr, at, "token0")
	if err != nil {
		return PoolState{}, err
	}
	t1Vals, err := callView(ctx, caller, poolABI, p.addr, at, "token1")
	if err != nil {
		return PoolState{}, err
	}

	return PoolState{
		SqrtPriceX96: sqrt,
		Tick:         int32(tickBig.Int64()),
		Liquidity:    liq,
		Token0:       t0Vals[0].(common.Address),
		Token1:       t1Vals[0].(common.Address),
	}, nil
}
